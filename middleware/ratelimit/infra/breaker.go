package infra

import (
	"sync"
	"time"

	"arena-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// BreakerOptions configura os thresholds de todos os breakers do set.
type BreakerOptions struct {
	FailureThreshold int64
	FailureWindow    time.Duration
	OpenDuration     time.Duration
	MaxOpenDuration  time.Duration
}

func (o BreakerOptions) withDefaults() BreakerOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = 30 * time.Second
	}
	if o.OpenDuration <= 0 {
		o.OpenDuration = 30 * time.Second
	}
	if o.MaxOpenDuration <= 0 {
		o.MaxOpenDuration = 5 * time.Minute
	}
	return o
}

// BreakerSet mantém um circuit breaker por classe de operação (C6).
//
// closed -> open após N falhas dentro da janela; open -> half-open após o
// reset, permitindo no máximo 1 probe por segundo (x/time/rate); um sucesso
// fecha, uma falha reabre com reset dobrado (teto 5 min).
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[domain.OperationClass]*breaker
	opts     BreakerOptions
	now      func() time.Time
}

type breaker struct {
	mu sync.Mutex

	state        domain.BreakerState
	failures     int64
	firstFailure time.Time
	openedAt     time.Time
	resetAfter   time.Duration

	probe *rate.Limiter
}

// NewBreakerSet cria o set com os defaults da plataforma.
func NewBreakerSet(opts BreakerOptions) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[domain.OperationClass]*breaker),
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func (s *BreakerSet) breaker(class domain.OperationClass) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[class]
	if !ok {
		b = &breaker{
			state:      domain.BreakerClosed,
			resetAfter: s.opts.OpenDuration,
			probe:      rate.NewLimiter(rate.Limit(1), 1),
		}
		s.breakers[class] = b
	}
	return b
}

// Allow implementa domain.BreakerSet.
func (s *BreakerSet) Allow(class domain.OperationClass) (bool, domain.BreakerState) {
	b := s.breaker(class)
	now := s.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerClosed:
		return true, b.state
	case domain.BreakerOpen:
		if now.Sub(b.openedAt) < b.resetAfter {
			return false, b.state
		}
		b.state = domain.BreakerHalfOpen
		fallthrough
	case domain.BreakerHalfOpen:
		// no máximo um probe por segundo enquanto meio-aberto.
		if b.probe.AllowN(now, 1) {
			return true, domain.BreakerHalfOpen
		}
		return false, domain.BreakerHalfOpen
	}
	return true, b.state
}

// ReportResult alimenta o breaker com o outcome downstream.
func (s *BreakerSet) ReportResult(class domain.OperationClass, success bool) {
	b := s.breaker(class)
	now := s.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		if b.state == domain.BreakerHalfOpen {
			// um único sucesso fecha e zera a escalada.
			b.state = domain.BreakerClosed
			b.failures = 0
			b.resetAfter = s.opts.OpenDuration
		} else if b.state == domain.BreakerClosed {
			b.failures = 0
		}
		return
	}

	switch b.state {
	case domain.BreakerHalfOpen:
		// falha no probe reabre com reset dobrado.
		b.resetAfter *= 2
		if b.resetAfter > s.opts.MaxOpenDuration {
			b.resetAfter = s.opts.MaxOpenDuration
		}
		b.open(now)
	case domain.BreakerClosed:
		if b.failures == 0 || now.Sub(b.firstFailure) > s.opts.FailureWindow {
			b.failures = 0
			b.firstFailure = now
		}
		b.failures++
		if b.failures >= s.opts.FailureThreshold {
			b.open(now)
		}
	}
}

func (b *breaker) open(now time.Time) {
	b.state = domain.BreakerOpen
	b.openedAt = now
	b.probe = rate.NewLimiter(rate.Limit(1), 1)
}

// RetryAfter retorna quanto falta para o breaker aceitar um probe.
func (s *BreakerSet) RetryAfter(class domain.OperationClass) time.Duration {
	b := s.breaker(class)
	now := s.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != domain.BreakerOpen {
		return time.Second
	}
	left := b.resetAfter - now.Sub(b.openedAt)
	if left < time.Second {
		left = time.Second
	}
	return left
}

// Reset força o breaker de volta a closed (ação de admin).
func (s *BreakerSet) Reset(class domain.OperationClass) {
	b := s.breaker(class)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.BreakerClosed
	b.failures = 0
	b.resetAfter = s.opts.OpenDuration
}

// Reconcile promove breakers abertos vencidos para half-open (tarefa de 60s).
func (s *BreakerSet) Reconcile() {
	now := s.now()
	s.mu.Lock()
	all := make([]*breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		all = append(all, b)
	}
	s.mu.Unlock()

	for _, b := range all {
		b.mu.Lock()
		if b.state == domain.BreakerOpen && now.Sub(b.openedAt) >= b.resetAfter {
			b.state = domain.BreakerHalfOpen
		}
		b.mu.Unlock()
	}
}

// Snapshots retorna o estado de todos os breakers (admin surface).
func (s *BreakerSet) Snapshots() []domain.BreakerSnapshot {
	s.mu.Lock()
	classes := make([]domain.OperationClass, 0, len(s.breakers))
	for c := range s.breakers {
		classes = append(classes, c)
	}
	s.mu.Unlock()

	out := make([]domain.BreakerSnapshot, 0, len(classes))
	for _, c := range classes {
		b := s.breaker(c)
		b.mu.Lock()
		out = append(out, domain.BreakerSnapshot{
			Class:      c,
			State:      b.state,
			Failures:   b.failures,
			OpenedAt:   b.openedAt,
			ResetAfter: b.resetAfter,
		})
		b.mu.Unlock()
	}
	return out
}
