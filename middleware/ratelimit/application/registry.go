package application

import (
	"fmt"
	"sort"
	"sync/atomic"

	"arena-gateway/middleware/ratelimit/domain"
)

// Registry guarda policies nomeadas com semântica copy-on-write: leitores
// seguram uma referência imutável pela duração da requisição, e Reload troca
// o snapshot inteiro atomicamente (decisões em voo terminam sob a policy
// com que começaram).
type Registry struct {
	snapshot atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	policies map[string]domain.Policy
}

// NewRegistry cria um registry vazio.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snapshot.Store(&registrySnapshot{policies: map[string]domain.Policy{}})
	return r
}

// NewBuiltinRegistry cria um registry com as policies embutidas da plataforma.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.Reload(domain.BuiltinPolicies()); err != nil {
		return nil, err
	}
	return r, nil
}

// Get retorna a policy pelo nome.
func (r *Registry) Get(name string) (domain.Policy, bool) {
	snap := r.snapshot.Load()
	p, ok := snap.policies[name]
	return p, ok
}

// Register adiciona (ou substitui) uma única policy, preservando as demais.
func (r *Registry) Register(p domain.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for {
		old := r.snapshot.Load()
		next := make(map[string]domain.Policy, len(old.policies)+1)
		for k, v := range old.policies {
			next[k] = v
		}
		next[p.Name] = p
		if r.snapshot.CompareAndSwap(old, &registrySnapshot{policies: next}) {
			return nil
		}
	}
}

// Reload substitui o conjunto inteiro de policies de uma vez.
// Falha sem efeito se qualquer policy for inválida ou houver nome duplicado.
func (r *Registry) Reload(policies []domain.Policy) error {
	next := make(map[string]domain.Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := next[p.Name]; dup {
			return fmt.Errorf("duplicate policy %q", p.Name)
		}
		next[p.Name] = p
	}
	r.snapshot.Store(&registrySnapshot{policies: next})
	return nil
}

// Names retorna os nomes registrados em ordem estável (admin/metrics).
func (r *Registry) Names() []string {
	snap := r.snapshot.Load()
	names := make([]string, 0, len(snap.policies))
	for name := range snap.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All retorna uma cópia das policies correntes.
func (r *Registry) All() []domain.Policy {
	snap := r.snapshot.Load()
	out := make([]domain.Policy, 0, len(snap.policies))
	for _, p := range snap.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
