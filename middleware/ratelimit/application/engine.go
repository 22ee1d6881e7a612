package application

import (
	"context"
	"math"
	"time"

	"arena-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultDecisionBudget é o prazo total de uma decisão composta.
	DefaultDecisionBudget = 100 * time.Millisecond

	// burnTokensPerCost converte tokens queimados em custo progressivo.
	burnTokensPerCost = 25

	// storeUnavailableRetry é o Retry-After quando a negação vem da
	// indisponibilidade do counter store (ou de emergência).
	storeUnavailableRetry = 30 * time.Second
)

// Engine compõe os verdicts de até três policies por requisição (C4).
//
// Construído uma vez no boot e compartilhado por referência imutável;
// todo estado mutável vive nos colaboradores (store, scorer, breakers).
type Engine struct {
	Registry  *Registry
	Resolver  Resolver
	Store     domain.CounterStore
	Scorer    *Scorer
	Breakers  domain.BreakerSet
	Emergency *EmergencyController
	Outcomes  *OutcomeTracker
	Stats     domain.StatsStore
	Emit      func(domain.AuditEvent)
	Logger    *zap.SugaredLogger

	// Competitive é o conjunto de integridade competitiva: operações em que
	// bypass de admin nunca vale. Default em NewEngine.
	Competitive map[domain.OperationClass]bool

	DecisionBudget time.Duration

	now   func() time.Time
	newID func() string
}

// NewEngine monta o engine com defaults.
func NewEngine(e Engine) *Engine {
	if e.DecisionBudget <= 0 {
		e.DecisionBudget = DefaultDecisionBudget
	}
	if e.Competitive == nil {
		e.Competitive = domain.CompetitiveIntegritySet()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.Resolver.Registry == nil {
		e.Resolver.Registry = e.Registry
	}
	return &e
}

// admission é o estado intermediário de um target admitido.
type admission struct {
	target      domain.Target
	policy      domain.Policy
	key         string
	cost        int64
	limit       int64
	remaining   int64
	incremented bool
	skip        bool
}

// Decide avalia todos os targets do envelope e compõe o verdict final.
//
// Negações curto-circuitam; incrementos de targets já admitidos são
// compensados (a janela tolera sobre-admissão de no máximo uma requisição
// concorrente por chave).
func (e *Engine) Decide(ctx context.Context, env domain.Envelope) (dec domain.Decision) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			dec = e.conservativeDecision(env, start, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.DecisionBudget)
	defer cancel()

	targets := e.Resolver.Resolve(env)
	admissions := make([]admission, 0, len(targets))

	for _, target := range targets {
		adm, deny := e.evaluate(ctx, env, target, start)
		if deny != nil {
			e.rollback(admissions)
			e.recordDecision(targets, true)
			// a auditoria nomeia o principal do target que negou, não o
			// primário (num burn negado pelo voting-cast é o user, não a
			// wallet).
			e.finish(target.Principal, *deny, start)
			return *deny
		}
		admissions = append(admissions, adm)
	}

	dec = e.composeAdmit(env, admissions, start)
	e.recordDecision(targets, false)
	var primary domain.Principal
	if len(targets) > 0 {
		primary = targets[0].Principal
	}
	e.finish(primary, dec, start)
	return dec
}

// ReportOutcome fecha o ciclo da decisão com o status downstream:
// incrementos adiados, sinal de abuso e feedback do breaker.
func (e *Engine) ReportOutcome(ctx context.Context, token *domain.OutcomeToken, status int) {
	if token == nil {
		return
	}
	if e.Outcomes != nil && len(token.Pending) > 0 {
		e.Outcomes.Resolve(ctx, token.ID, status)
	}
	if e.Scorer != nil {
		e.Scorer.RecordOutcome(token.Principal, status)
	}
	if e.Breakers != nil {
		e.Breakers.ReportResult(token.Class, status < 500)
	}
}

// evaluate aplica os passos 1..7 do pipeline de decisão a um único target.
func (e *Engine) evaluate(ctx context.Context, env domain.Envelope, target domain.Target, now time.Time) (admission, *domain.Decision) {
	policy, ok := e.Registry.Get(target.Policy)
	if !ok {
		// policies são validadas no boot; aqui só sobra erro de configuração.
		return admission{}, e.failDecision(target, domain.ReasonEngineError, 0, now)
	}
	if policy.ApplyWhen != nil && !policy.ApplyWhen(env) {
		return admission{target: target, policy: policy, limit: math.MaxInt64, remaining: math.MaxInt64}, nil
	}

	var snap domain.AbuseSnapshot
	if e.Scorer != nil {
		snap = e.Scorer.Snapshot(target.Principal)
	}
	limit := e.effectiveMax(policy, target, env, snap)

	if snap.LockedOut(now) {
		d := e.denyDecision(target, policy, limit, domain.ReasonAbuseLockout, snap.LockoutUntil.Sub(now), now)
		d.AbuseScore = snap.Score
		return admission{}, d
	}

	if e.Breakers != nil {
		if allowed, _ := e.Breakers.Allow(target.Class); !allowed {
			if !e.adminBypass(target) {
				return admission{}, e.denyDecision(target, policy, limit, domain.ReasonBreakerOpen, e.Breakers.RetryAfter(target.Class), now)
			}
		}
	}

	cost := e.costOf(policy, target.Class, env, limit)
	key := policy.CounterKey(target.Principal, target.Class, env, now)

	if policy.SkipOnSuccess {
		count, err := e.Store.Peek(ctx, key)
		if err != nil {
			return e.failMode(target, policy, limit, now, err)
		}
		if count+cost > limit {
			return admission{}, e.denyDecision(target, policy, limit, domain.ReasonRateLimited, windowRemaining(policy, now), now)
		}
		return admission{
			target: target, policy: policy, key: key, cost: cost,
			limit: limit, remaining: limit - count - cost, skip: true,
		}, nil
	}

	res, err := e.Store.Incr(ctx, key, cost, policy.Window(), limit)
	if err != nil {
		return e.failMode(target, policy, limit, now, err)
	}
	if !res.Allowed {
		reason := domain.ReasonRateLimited
		retry := windowRemaining(policy, now)
		if e.Emergency != nil && e.Emergency.Active() {
			reason = domain.ReasonEmergency
			retry = storeUnavailableRetry
		}
		return admission{}, e.denyDecision(target, policy, limit, reason, retry, now)
	}
	return admission{
		target: target, policy: policy, key: key, cost: cost,
		limit: limit, remaining: limit - res.Count, incremented: true,
	}, nil
}

// effectiveMax centraliza toda a multiplicação de tier/contexto/penalidade,
// com piso 1 e redução de emergência por cima.
func (e *Engine) effectiveMax(policy domain.Policy, target domain.Target, env domain.Envelope, snap domain.AbuseSnapshot) int64 {
	tierMult := target.Principal.Tier.Multiplier()
	ctxMult := ContextMultiplier(policy.Name, env)
	penalty := snap.Penalty.Penalty()

	eff := int64(math.Floor(float64(policy.MaxCount) * tierMult * ctxMult * (1 - penalty)))
	if eff < 1 {
		eff = 1
	}
	if e.Emergency != nil {
		eff = e.Emergency.Apply(eff)
	}
	return eff
}

// costOf aplica o custo progressivo de burn: max(1, ceil(tokens/25)),
// limitado a 50% do orçamento da janela.
func (e *Engine) costOf(policy domain.Policy, class domain.OperationClass, env domain.Envelope, limit int64) int64 {
	cost := policy.BaseCost()
	if class == domain.OpVotePurchase && env.TokensBurned > 0 {
		cost = (env.TokensBurned + burnTokensPerCost - 1) / burnTokensPerCost
		if cost < 1 {
			cost = 1
		}
		budget := limit / 2
		if budget < 1 {
			budget = 1
		}
		if cost > budget {
			cost = budget
		}
	}
	return cost
}

// adminBypass permite admin atravessar breaker aberto, exceto nas operações
// do conjunto de integridade competitiva.
func (e *Engine) adminBypass(target domain.Target) bool {
	return target.Principal.IsAdmin() && !e.Competitive[target.Class]
}

// failMode consulta a tabela fail-open/fail-closed quando o store não decide.
func (e *Engine) failMode(target domain.Target, policy domain.Policy, limit int64, now time.Time, err error) (admission, *domain.Decision) {
	if e.Logger != nil {
		e.Logger.Warnw("counter store indisponível", "policy", policy.Name, "class", target.Class, "err", err)
	}
	if target.Class.FailsClosed() {
		return admission{}, e.denyDecision(target, policy, limit, domain.ReasonStoreUnavailable, storeUnavailableRetry, now)
	}
	e.emit(domain.AuditEvent{
		Principal: target.Principal.Key(),
		Tier:      target.Principal.Tier,
		Operation: target.Class,
		Policy:    policy.Name,
		Verdict:   domain.VerdictAdmit,
		Reason:    domain.ReasonStoreUnavailable,
		Detail:    "fail-open",
	})
	// admite sem contar: não há contador confiável para debitar.
	return admission{target: target, policy: policy, limit: limit, remaining: limit}, nil
}

// windowRemaining é o Retry-After de uma negação por contador: o que falta
// para o bucket corrente resetar.
func windowRemaining(policy domain.Policy, now time.Time) time.Duration {
	return time.Duration(policy.WindowEnd(now)-now.Unix()) * time.Second
}

// denyDecision monta a negação de um target; limit é o effective max da
// policy negante, que sai nos headers X-RateLimit-* junto com Remaining 0.
func (e *Engine) denyDecision(target domain.Target, policy domain.Policy, limit int64, reason domain.Reason, retry time.Duration, now time.Time) *domain.Decision {
	if retry < 0 {
		retry = 0
	}
	return &domain.Decision{
		Allowed:    false,
		Reason:     reason,
		Policy:     policy.Name,
		Class:      target.Class,
		Limit:      limit,
		Remaining:  0,
		Reset:      policy.WindowEnd(now),
		RetryAfter: retry,
	}
}

func (e *Engine) failDecision(target domain.Target, reason domain.Reason, retry time.Duration, now time.Time) *domain.Decision {
	return &domain.Decision{
		Allowed:    false,
		Reason:     reason,
		Policy:     target.Policy,
		Class:      target.Class,
		Reset:      now.Unix(),
		RetryAfter: retry,
	}
}

// composeAdmit escolhe os headers da policy mais restritiva (menor remaining;
// empate decide pela menor janela) e monta o token de outcome.
func (e *Engine) composeAdmit(env domain.Envelope, admissions []admission, now time.Time) domain.Decision {
	best := admissions[0]
	for _, adm := range admissions[1:] {
		if adm.remaining < best.remaining ||
			(adm.remaining == best.remaining && adm.policy.WindowSeconds < best.policy.WindowSeconds) {
			best = adm
		}
	}

	var pending []domain.PendingIncrement
	maxWindow := int64(0)
	for _, adm := range admissions {
		if adm.skip {
			pending = append(pending, domain.PendingIncrement{
				Key: adm.key, Cost: adm.cost, WindowSeconds: adm.policy.WindowSeconds,
			})
		}
		if adm.policy.WindowSeconds > maxWindow {
			maxWindow = adm.policy.WindowSeconds
		}
	}

	primary := admissions[0]
	token := &domain.OutcomeToken{
		ID:        e.newID(),
		IssuedAt:  now,
		Deadline:  now.Add(2 * time.Duration(maxWindow) * time.Second),
		Class:     primary.target.Class,
		Principal: primary.target.Principal,
		Pending:   pending,
	}
	if e.Outcomes != nil && len(pending) > 0 {
		e.Outcomes.Track(token)
	}

	limit := best.limit
	remaining := best.remaining
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		Allowed:   true,
		Policy:    best.policy.Name,
		Class:     primary.target.Class,
		Limit:     limit,
		Remaining: remaining,
		Reset:     best.policy.WindowEnd(now),
		Outcome:   token,
	}
}

// rollback compensa incrementos de targets admitidos quando um irmão nega.
// Best-effort: a corrida residual cabe na tolerância de sobre-admissão.
func (e *Engine) rollback(admissions []admission) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for _, adm := range admissions {
		if adm.incremented {
			_ = e.Store.Decr(ctx, adm.key, adm.cost)
		}
	}
}

// recordDecision alimenta o scorer uma vez por principal distinto.
func (e *Engine) recordDecision(targets []domain.Target, denied bool) {
	if e.Scorer == nil {
		return
	}
	seen := map[string]bool{}
	for _, t := range targets {
		key := t.Principal.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		e.Scorer.RecordDecision(t.Principal, t.Class, denied)
	}
}

// finish registra stats e o evento de auditoria da decisão composta,
// atribuído ao principal que determinou o verdict.
func (e *Engine) finish(p domain.Principal, dec domain.Decision, start time.Time) {
	latency := e.now().Sub(start).Microseconds()

	if e.Stats != nil {
		_ = e.Stats.Record(context.Background(), domain.StatsEvent{
			Policy:  dec.Policy,
			Class:   dec.Class,
			Allowed: dec.Allowed,
			Reason:  dec.Reason,
		})
	}

	verdict := domain.VerdictAdmit
	if !dec.Allowed {
		switch dec.Reason {
		case domain.ReasonEmergency:
			verdict = domain.VerdictEmergency
		case domain.ReasonBreakerOpen:
			verdict = domain.VerdictBreakerOpen
		default:
			verdict = domain.VerdictDeny
		}
	}
	e.emit(domain.AuditEvent{
		Principal:  p.Key(),
		Tier:       p.Tier,
		Operation:  dec.Class,
		Policy:     dec.Policy,
		Verdict:    verdict,
		Reason:     dec.Reason,
		Remaining:  dec.Remaining,
		AbuseScore: dec.AbuseScore,
		LatencyUS:  latency,
	})
}

// conservativeDecision é a saída de pânico do engine: fecha para o conjunto
// de alto risco, abre para o resto, e audita engine-error.
func (e *Engine) conservativeDecision(env domain.Envelope, start time.Time, cause any) domain.Decision {
	class := classifyPath(env.Method, env.Path)
	if e.Logger != nil {
		e.Logger.Errorw("panic no limiter engine", "cause", cause, "path", env.Path)
	}
	e.emit(domain.AuditEvent{
		Operation: class,
		Verdict:   domain.VerdictEngineError,
		Reason:    domain.ReasonEngineError,
		Detail:    "panic recovered",
	})
	if class.FailsClosed() {
		return domain.Decision{
			Allowed:    false,
			Reason:     domain.ReasonEngineError,
			Class:      class,
			Reset:      start.Unix(),
			RetryAfter: storeUnavailableRetry,
		}
	}
	return domain.Decision{Allowed: true, Class: class}
}

func (e *Engine) emit(ev domain.AuditEvent) {
	if e.Emit == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = e.newID()
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.Emit(ev)
}
