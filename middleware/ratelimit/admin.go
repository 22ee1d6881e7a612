package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arena-gateway/middleware/ratelimit/application"
	"arena-gateway/middleware/ratelimit/domain"
	"arena-gateway/middleware/ratelimit/infra"

	"golang.org/x/time/rate"
)

const adminMaxBody = 1 << 20

// AdminOptions liga o admin surface aos componentes do limiter.
//
// O admin é um ingress separado do tráfego limitado: ele nunca passa pelo
// próprio limiter (senão emergência ligada travaria o desligamento).
type AdminOptions struct {
	Registry  *application.Registry
	Scorer    *application.Scorer
	Emergency *application.EmergencyController
	Breakers  domain.BreakerSet
	Store     domain.CounterStore
	Failover  *infra.FailoverCounterStore
	Stats     *infra.MemoryStatsStore
	Pipe      *infra.AuditPipe
	Outcomes  *application.OutcomeTracker

	// Emit audita toda escrita como admin-action.
	Emit func(domain.AuditEvent)

	// WriteBurst limita escritas administrativas (default 5/s).
	WriteBurst int
}

type adminHandler struct {
	opts     AdminOptions
	throttle *rate.Limiter
}

// NewAdminHandler monta o mux do admin surface.
//
// Leituras são livres no ingress administrativo; escritas exigem papel
// admin (X-User-Tier) e são auditadas.
func NewAdminHandler(opts AdminOptions) http.Handler {
	burst := opts.WriteBurst
	if burst <= 0 {
		burst = 5
	}
	h := &adminHandler{opts: opts, throttle: rate.NewLimiter(rate.Limit(burst), burst)}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/rl/metrics", h.handleMetrics)
	mux.HandleFunc("/admin/rl/audit", h.handleAudit)
	mux.HandleFunc("/admin/rl/abuse", h.handleAbuse)
	mux.HandleFunc("/admin/rl/breakers", h.handleBreakers)
	mux.HandleFunc("/admin/rl/health", h.handleHealth)
	mux.HandleFunc("/admin/rl/emergency", h.handleEmergency)
	mux.HandleFunc("/admin/rl/reset", h.handleReset)
	mux.HandleFunc("/admin/rl/breaker/reset", h.handleBreakerReset)
	mux.HandleFunc("/admin/rl/abuse/clear", h.handleAbuseClear)
	return mux
}

func (h *adminHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	out := map[string]interface{}{}
	if h.opts.Stats != nil {
		out["total"] = h.opts.Stats.Total()
		out["byPolicy"] = h.opts.Stats.ByPolicy()
		out["byReason"] = h.opts.Stats.ByReason()
	}
	if h.opts.Registry != nil {
		out["policies"] = h.opts.Registry.Names()
	}
	if h.opts.Scorer != nil {
		out["trackedPrincipals"] = h.opts.Scorer.Len()
	}
	if h.opts.Outcomes != nil {
		out["pendingOutcomes"] = h.opts.Outcomes.PendingCount()
	}
	if h.opts.Pipe != nil {
		out["auditDropped"] = h.opts.Pipe.Dropped()
	}
	if h.opts.Emergency != nil {
		out["emergency"] = h.opts.Emergency.Active()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *adminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	var events []domain.AuditEvent
	if h.opts.Pipe != nil {
		events = h.opts.Pipe.Recent(limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *adminHandler) handleAbuse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var top []domain.AbuseSnapshot
	if h.opts.Scorer != nil {
		top = h.opts.Scorer.TopN(limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"principals": top})
}

func (h *adminHandler) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var snaps []domain.BreakerSnapshot
	if h.opts.Breakers != nil {
		snaps = h.opts.Breakers.Snapshots()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": snaps})
}

func (h *adminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	degraded := false
	if h.opts.Failover != nil {
		degraded = h.opts.Failover.Degraded()
	}
	status := "ok"
	if degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               status,
		"counterStoreDegraded": degraded,
	})
}

type emergencyRequest struct {
	On bool `json:"on"`
}

func (h *adminHandler) handleEmergency(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorizeWrite(w, r)
	if !ok {
		return
	}
	var req emergencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if h.opts.Emergency != nil {
		h.opts.Emergency.Set(req.On, actor)
	}
	h.audit(actor, "emergency", map[bool]string{true: "on", false: "off"}[req.On])
	writeJSON(w, http.StatusOK, map[string]interface{}{"emergency": req.On})
}

type resetRequest struct {
	Principal string `json:"principal"`
}

func (h *adminHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorizeWrite(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	principal, perr := parsePrincipal(req.Principal)
	if perr != "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": perr})
		return
	}
	// zera o bucket corrente de todas as policies para o principal; scope
	// principal+operation tem uma chave por classe, então varre todas.
	if h.opts.Registry != nil && h.opts.Store != nil {
		env := envelopeForPrincipal(principal)
		now := time.Now()
		for _, p := range h.opts.Registry.All() {
			if p.Scope == domain.ScopeGlobal {
				continue
			}
			classes := []domain.OperationClass{domain.OpStandard}
			if p.Scope == domain.ScopePrincipalOperation {
				classes = domain.OperationClasses()
			}
			for _, class := range classes {
				key := p.CounterKey(principal, class, env, now)
				_ = h.opts.Store.Reset(r.Context(), key)
			}
		}
	}
	h.audit(actor, "reset-principal", req.Principal)
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": req.Principal})
}

type breakerResetRequest struct {
	Operation string `json:"operation"`
}

func (h *adminHandler) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorizeWrite(w, r)
	if !ok {
		return
	}
	var req breakerResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	class, valid := domain.ParseOperationClass(req.Operation)
	if !valid {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "unknown operation class"})
		return
	}
	if h.opts.Breakers != nil {
		h.opts.Breakers.Reset(class)
	}
	h.audit(actor, "breaker-reset", req.Operation)
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": req.Operation})
}

func (h *adminHandler) handleAbuseClear(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorizeWrite(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if h.opts.Scorer != nil {
		h.opts.Scorer.ForceClear(req.Principal)
	}
	h.audit(actor, "abuse-clear", req.Principal)
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": req.Principal})
}

// authorizeWrite exige método POST, papel admin e vaga no throttle.
func (h *adminHandler) authorizeWrite(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return "", false
	}
	tier := domain.ParseTier(r.Header.Get(headerUserTier), domain.TierAnonymous)
	if tier != domain.TierAdmin {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "admin role required"})
		return "", false
	}
	if !h.throttle.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "admin writes throttled"})
		return "", false
	}
	actor := strings.TrimSpace(r.Header.Get(headerUserID))
	if actor == "" {
		actor = "admin"
	}
	return "user:" + actor, true
}

func (h *adminHandler) audit(actor, action, detail string) {
	if h.opts.Emit == nil {
		return
	}
	h.opts.Emit(domain.AuditEvent{
		Principal: actor,
		Tier:      domain.TierAdmin,
		Verdict:   domain.VerdictAdminAction,
		Detail:    action + ":" + detail,
	})
}

// parsePrincipal interpreta a forma canônica "kind:id".
func parsePrincipal(s string) (domain.Principal, string) {
	kind, id, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found || id == "" {
		return domain.Principal{}, "principal must be kind:id"
	}
	switch domain.PrincipalKind(kind) {
	case domain.KindAnonIP, domain.KindUser, domain.KindWallet, domain.KindSession, domain.KindClanMember:
		return domain.Principal{Kind: domain.PrincipalKind(kind), ID: id}, ""
	}
	return domain.Principal{}, "unknown principal kind"
}

// envelopeForPrincipal reconstrói o mínimo de envelope para derivar chaves
// de contador por scope.
func envelopeForPrincipal(p domain.Principal) domain.Envelope {
	env := domain.Envelope{}
	switch p.Kind {
	case domain.KindWallet:
		env.Wallet = p.ID
	case domain.KindSession:
		env.SessionID = p.ID
	case domain.KindAnonIP:
		env.IP = p.ID
	}
	return env
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, adminMaxBody)
	defer func() { _, _ = io.Copy(io.Discard, body) }()
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid json body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
