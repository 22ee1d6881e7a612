package infra

import (
	"context"
	"sync/atomic"
	"time"

	"arena-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// failoverProbeThreshold: probes consecutivos falhos antes de degradar.
const failoverProbeThreshold = 3

// FailoverCounterStore envolve o store compartilhado (Redis) e o fallback
// in-process, alternando conforme a saúde dos probes periódicos.
//
// Três probes consecutivos falhos degradam para o fallback e emitem um
// evento degraded-counter-store; um probe saudável restaura o primário.
type FailoverCounterStore struct {
	primary  domain.CounterStore
	fallback domain.CounterStore

	degraded     atomic.Bool
	failedProbes atomic.Int32

	emit   func(domain.AuditEvent)
	logger *zap.SugaredLogger
}

// NewFailoverCounterStore cria o wrapper. emit e logger são opcionais.
func NewFailoverCounterStore(primary, fallback domain.CounterStore, emit func(domain.AuditEvent), logger *zap.SugaredLogger) *FailoverCounterStore {
	return &FailoverCounterStore{
		primary:  primary,
		fallback: fallback,
		emit:     emit,
		logger:   logger,
	}
}

// Degraded reporta se o fallback está ativo.
func (s *FailoverCounterStore) Degraded() bool { return s.degraded.Load() }

func (s *FailoverCounterStore) active() domain.CounterStore {
	if s.degraded.Load() {
		return s.fallback
	}
	return s.primary
}

// Probe testa o primário e atualiza a flag de degradação (tarefa de 5s).
func (s *FailoverCounterStore) Probe(ctx context.Context) {
	if err := s.primary.Ping(ctx); err != nil {
		n := s.failedProbes.Add(1)
		if n >= failoverProbeThreshold && !s.degraded.Swap(true) {
			if s.logger != nil {
				s.logger.Warnw("counter store degradado para fallback local", "failedProbes", n)
			}
			if s.emit != nil {
				s.emit(domain.AuditEvent{
					At:      time.Now(),
					Verdict: domain.VerdictDegradedStore,
					Reason:  domain.ReasonStoreUnavailable,
					Detail:  "fallback ativado",
				})
			}
		}
		return
	}
	s.failedProbes.Store(0)
	if s.degraded.Swap(false) {
		if s.logger != nil {
			s.logger.Infow("counter store primário restaurado")
		}
		if s.emit != nil {
			s.emit(domain.AuditEvent{
				At:      time.Now(),
				Verdict: domain.VerdictDegradedStore,
				Detail:  "primário restaurado",
			})
		}
	}
}

// Incr implementa domain.CounterStore no store ativo.
func (s *FailoverCounterStore) Incr(ctx context.Context, key string, cost int64, window time.Duration, limit int64) (domain.CounterResult, error) {
	return s.active().Incr(ctx, key, cost, window, limit)
}

func (s *FailoverCounterStore) Decr(ctx context.Context, key string, cost int64) error {
	return s.active().Decr(ctx, key, cost)
}

func (s *FailoverCounterStore) Peek(ctx context.Context, key string) (int64, error) {
	return s.active().Peek(ctx, key)
}

// Reset limpa a chave nos dois stores: o principal pode voltar a qualquer
// momento e não deve ressuscitar um contador zerado.
func (s *FailoverCounterStore) Reset(ctx context.Context, key string) error {
	err := s.primary.Reset(ctx, key)
	if ferr := s.fallback.Reset(ctx, key); err == nil {
		err = ferr
	}
	return err
}

// Ping reporta a saúde do store ativo.
func (s *FailoverCounterStore) Ping(ctx context.Context) error {
	return s.active().Ping(ctx)
}
