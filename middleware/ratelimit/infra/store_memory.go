package infra

import (
	"context"
	"sync"
	"time"

	"arena-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é o fallback in-process do counter store (C1).
//
// Janelas fixas com expiração preguiçosa: a entrada morre em
// fim-da-janela + grace. Serve também como store de testes.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter
	now     func() time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounterStore cria o store vazio.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

func (s *MemoryCounterStore) live(key string, now time.Time) *memoryCounter {
	if ent, ok := s.entries[key]; ok {
		if now.Before(ent.expiresAt) {
			return ent
		}
		delete(s.entries, key)
	}
	return nil
}

// Incr implementa domain.CounterStore (limit <= 0 força o incremento).
func (s *MemoryCounterStore) Incr(_ context.Context, key string, cost int64, window time.Duration, limit int64) (domain.CounterResult, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil {
		ent = &memoryCounter{expiresAt: now.Add(window + counterGrace)}
		s.entries[key] = ent
	}
	ttl := ent.expiresAt.Sub(now)
	if limit > 0 && ent.count+cost > limit {
		return domain.CounterResult{Allowed: false, Count: ent.count, TTL: ttl}, nil
	}
	ent.count += cost
	return domain.CounterResult{Allowed: true, Count: ent.count, TTL: ttl}, nil
}

// Decr compensa um incremento (não desce abaixo de zero).
func (s *MemoryCounterStore) Decr(_ context.Context, key string, cost int64) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.live(key, now); ent != nil {
		ent.count -= cost
		if ent.count < 0 {
			ent.count = 0
		}
	}
	return nil
}

// Peek retorna o contador corrente (0 quando expirado/inexistente).
func (s *MemoryCounterStore) Peek(_ context.Context, key string) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.live(key, now); ent != nil {
		return ent.count, nil
	}
	return 0, nil
}

// Reset apaga o contador da chave.
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Ping nunca falha: o fallback local está sempre disponível.
func (s *MemoryCounterStore) Ping(context.Context) error { return nil }

// Evict remove entradas expiradas (tarefa periódica do scheduler).
func (s *MemoryCounterStore) Evict() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for k, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, k)
			evicted++
		}
	}
	return evicted
}

// Len retorna o número de contadores vivos (admin/health).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
