package domain

import "time"

// Reason é o motivo fechado de uma negação (ou degradação).
type Reason string

const (
	ReasonRateLimited      Reason = "rate-limited"
	ReasonAbuseLockout     Reason = "abuse-lockout"
	ReasonBreakerOpen      Reason = "breaker-open"
	ReasonEmergency        Reason = "emergency-mode"
	ReasonStoreUnavailable Reason = "counter-store-unavailable"
	ReasonEngineError      Reason = "engine-error"
)

// Target é um triple (principal, policy, classe) produzido pelo resolver.
// Uma requisição pode estar sujeita a até três targets simultâneos.
type Target struct {
	Principal Principal
	Policy    string
	Class     OperationClass
}

// Decision é o resultado composto da avaliação de todos os targets.
//
// Os headers X-RateLimit-* vêm da policy mais restritiva (menor Remaining;
// empate decidido pela menor janela).
type Decision struct {
	Allowed bool
	Reason  Reason

	// Policy/Class que determinaram a decisão (a negadora, ou a mais
	// restritiva no admit).
	Policy string
	Class  OperationClass

	Limit      int64
	Remaining  int64
	Reset      int64 // epoch seconds do fim da janela
	RetryAfter time.Duration

	AbuseScore float64

	// Outcome permite ao post-hook reportar o status downstream
	// (skip_on_success, breaker e sinais de abuso). Pode ser nil.
	Outcome *OutcomeToken
}

// OutcomeToken carrega o que o post-hook precisa para fechar o ciclo da
// decisão depois que o handler downstream respondeu.
type OutcomeToken struct {
	ID        string
	IssuedAt  time.Time
	Deadline  time.Time
	Class     OperationClass
	Principal Principal

	// Pending são incrementos adiados (policies skip_on_success): só contam
	// quando o outcome não é 2xx — ou quando o prazo expira sem outcome.
	Pending []PendingIncrement
}

// PendingIncrement é um incremento adiado de contador.
type PendingIncrement struct {
	Key           string
	Cost          int64
	WindowSeconds int64
}
