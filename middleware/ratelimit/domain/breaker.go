package domain

import (
	"context"
	"time"
)

// BreakerState é o estado de um circuit breaker por classe de operação.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot é a visão read-only de um breaker para o admin surface.
type BreakerSnapshot struct {
	Class      OperationClass
	State      BreakerState
	Failures   int64
	OpenedAt   time.Time
	ResetAfter time.Duration
}

// BreakerSet agrupa os breakers por classe de operação.
//
// Allow reporta se a chamada pode prosseguir (em half-open, no máximo um
// probe por segundo). ReportResult alimenta o estado com o outcome
// downstream; um sucesso em half-open fecha, uma falha reabre com reset
// dobrado.
type BreakerSet interface {
	Allow(class OperationClass) (bool, BreakerState)
	ReportResult(class OperationClass, success bool)
	RetryAfter(class OperationClass) time.Duration
	Reset(class OperationClass)
	Snapshots() []BreakerSnapshot
}

// SlotPool representa um recurso com capacidade finita (conexões concorrentes).
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar; ao adquirir,
// retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
