package application

import (
	"context"
	"sync"
	"time"

	"arena-gateway/middleware/ratelimit/domain"
)

// OutcomeTracker guarda tokens de decisões admitidas aguardando o outcome
// downstream (policies skip_on_success e feedback de breaker/abuso).
//
// Token sem outcome até o deadline (2x janela) conta como falha: os
// incrementos adiados são aplicados pela varredura periódica do scheduler.
type OutcomeTracker struct {
	mu      sync.Mutex
	pending map[string]*domain.OutcomeToken
	store   domain.CounterStore
}

// NewOutcomeTracker cria o tracker sobre o counter store dado.
func NewOutcomeTracker(store domain.CounterStore) *OutcomeTracker {
	return &OutcomeTracker{
		pending: make(map[string]*domain.OutcomeToken),
		store:   store,
	}
}

// Track registra um token pendente.
func (t *OutcomeTracker) Track(token *domain.OutcomeToken) {
	if token == nil || token.ID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[token.ID] = token
}

// Resolve consome o token e aplica os incrementos adiados quando o outcome
// não foi 2xx. Retorna false se o token já tinha sido resolvido/expirado.
func (t *OutcomeTracker) Resolve(ctx context.Context, tokenID string, status int) bool {
	t.mu.Lock()
	token, ok := t.pending[tokenID]
	if ok {
		delete(t.pending, tokenID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if status >= 200 && status < 300 {
		return true
	}
	t.applyPending(ctx, token)
	return true
}

// ExpireStale conta como falha os tokens sem outcome dentro do prazo.
// Retorna quantos expiraram.
func (t *OutcomeTracker) ExpireStale(ctx context.Context, now time.Time) int {
	t.mu.Lock()
	var stale []*domain.OutcomeToken
	for id, token := range t.pending {
		if now.After(token.Deadline) {
			stale = append(stale, token)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, token := range stale {
		t.applyPending(ctx, token)
	}
	return len(stale)
}

// PendingCount retorna o número de tokens aguardando outcome.
func (t *OutcomeTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *OutcomeTracker) applyPending(ctx context.Context, token *domain.OutcomeToken) {
	if t.store == nil {
		return
	}
	for _, inc := range token.Pending {
		window := time.Duration(inc.WindowSeconds) * time.Second
		// limit<=0 força o incremento: a admissão já aconteceu.
		_, _ = t.store.Incr(ctx, inc.Key, inc.Cost, window, 0)
	}
}
