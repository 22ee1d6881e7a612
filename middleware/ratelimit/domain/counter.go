package domain

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable indica que o counter store não conseguiu responder.
// O engine consulta a tabela fail-open/fail-closed ao recebê-lo.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// CounterResult é o retorno de uma tentativa de incremento.
type CounterResult struct {
	Allowed bool
	Count   int64
	TTL     time.Duration
}

// CounterStore é a primitiva atômica de increment-and-expire por janela fixa.
//
// Incr é condicional: só incrementa se count+cost <= limit, garantindo que
// requisição negada nunca incrementa contador. limit <= 0 força o incremento
// (usado pelo post-hook de skip_on_success).
//
// Implementações: Redis (script Lua), memória (fallback) e failover que
// alterna entre as duas conforme a saúde dos probes.
type CounterStore interface {
	Incr(ctx context.Context, key string, cost int64, window time.Duration, limit int64) (CounterResult, error)
	Decr(ctx context.Context, key string, cost int64) error
	Peek(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
