package domain

import "context"

// StatsEvent representa uma decisão agregável por policy.
//
// Propositalmente pequeno: os agregados servem o admin surface; o detalhe
// por requisição vive no stream de auditoria.
type StatsEvent struct {
	Policy  string
	Class   OperationClass
	Allowed bool
	Reason  Reason
}

// StatsStore é a estratégia de agregação de decisões.
//
// O engine trata erro como best-effort (não derruba decisão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
