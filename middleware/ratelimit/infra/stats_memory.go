package infra

import (
	"context"
	"sync"

	"arena-gateway/middleware/ratelimit/domain"
)

// Counters agrega admissões e negações.
type Counters struct {
	Admitted int64 `json:"admitted"`
	Denied   int64 `json:"denied"`
}

// MemoryStatsStore agrega decisões por policy e por motivo, em memória.
// Alimenta o resumo do admin surface.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byPolicy map[string]Counters
	byReason map[domain.Reason]int64
}

// NewMemoryStatsStore cria o agregador vazio.
func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byPolicy: make(map[string]Counters),
		byReason: make(map[domain.Reason]int64),
	}
}

// Record implementa domain.StatsStore.
func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byPolicy[ev.Policy]
	if ev.Allowed {
		s.total.Admitted++
		c.Admitted++
	} else {
		s.total.Denied++
		c.Denied++
		s.byReason[ev.Reason]++
	}
	s.byPolicy[ev.Policy] = c
	return nil
}

// Total retorna os agregados globais.
func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByPolicy retorna uma cópia dos agregados por policy.
func (s *MemoryStatsStore) ByPolicy() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byPolicy))
	for k, v := range s.byPolicy {
		out[k] = v
	}
	return out
}

// ByReason retorna uma cópia das negações por motivo.
func (s *MemoryStatsStore) ByReason() map[domain.Reason]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Reason]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}
