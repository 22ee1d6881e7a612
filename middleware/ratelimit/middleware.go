package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"arena-gateway/middleware/ratelimit/application"
	"arena-gateway/middleware/ratelimit/domain"
)

// Headers reconhecidos no envelope de entrada.
const (
	headerUserID        = "X-User-Id"
	headerUserTier      = "X-User-Tier"
	headerWallet        = "X-Wallet-Address"
	headerGamingSession = "X-Gaming-Session"
	headerTournamentID  = "X-Tournament-Id"
	headerClanID        = "X-Clan-Id"
	headerOperation     = "X-Operation-Class"
	headerTokensBurned  = "X-Tokens-Burned"
	headerCompetitive   = "X-Competitive-Mode"
)

// Options configura o middleware de rate limit.
type Options struct {
	Engine             *application.Engine
	TrustXForwardedFor bool
}

// denyBody é o corpo JSON de uma negação. Nunca vaza estado interno do
// principal além do motivo e do retry.
type denyBody struct {
	Reason            string `json:"reason"`
	Policy            string `json:"policy"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
}

// Middleware aplica o limiter adaptativo a cada requisição.
//
// Headers X-RateLimit-* saem tanto em admit quanto em deny; em deny saem
// também Retry-After e o status (429, ou 503 para breaker/emergência/store
// indisponível).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			env := EnvelopeFromRequest(r, opts.TrustXForwardedFor)
			dec := opts.Engine.Decide(r.Context(), env)

			writeRateHeaders(w, dec)

			if !dec.Allowed {
				writeDeny(w, dec)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// post-hook: fecha o ciclo com o status downstream.
			opts.Engine.ReportOutcome(r.Context(), dec.Outcome, rec.status)
		})
	}
}

// EnvelopeFromRequest constrói a visão imutável da requisição.
// Headers malformados degradam em silêncio (o resolver cai para anon-ip).
func EnvelopeFromRequest(r *http.Request, trustXFF bool) domain.Envelope {
	tokens, _ := strconv.ParseInt(strings.TrimSpace(r.Header.Get(headerTokensBurned)), 10, 64)
	if tokens < 0 {
		tokens = 0
	}
	competitive, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(headerCompetitive)))

	return domain.Envelope{
		IP:            clientIP(r, trustXFF),
		Authorization: r.Header.Get("Authorization"),
		UserID:        strings.TrimSpace(r.Header.Get(headerUserID)),
		Wallet:        strings.TrimSpace(r.Header.Get(headerWallet)),
		SessionID:     strings.TrimSpace(r.Header.Get(headerGamingSession)),
		TournamentID:  strings.TrimSpace(r.Header.Get(headerTournamentID)),
		ClanID:        strings.TrimSpace(r.Header.Get(headerClanID)),
		TierRaw:       r.Header.Get(headerUserTier),
		Method:        r.Method,
		Path:          r.URL.Path,
		DeclaredOp:    r.Header.Get(headerOperation),
		TokensBurned:  tokens,
		Competitive:   competitive,
	}
}

// clientIP extrai o IP do cliente: primeiro hop do X-Forwarded-For quando
// confiável, senão RemoteAddr.
func clientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				ip := strings.TrimSpace(parts[0])
				if ip != "" {
					return ip
				}
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func writeRateHeaders(w http.ResponseWriter, dec domain.Decision) {
	if dec.Limit > 0 && dec.Limit < math.MaxInt64 {
		w.Header().Set("X-RateLimit-Limit", formatInt64(dec.Limit))
		w.Header().Set("X-RateLimit-Remaining", formatInt64(dec.Remaining))
	}
	if dec.Reset > 0 {
		w.Header().Set("X-RateLimit-Reset", formatInt64(dec.Reset))
	}
	if dec.Policy != "" {
		w.Header().Set("X-RateLimit-Policy", dec.Policy)
	}
}

func writeDeny(w http.ResponseWriter, dec domain.Decision) {
	retry := int64(dec.RetryAfter.Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", formatInt64(retry))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusFor(dec.Reason))
	_ = json.NewEncoder(w).Encode(denyBody{
		Reason:            string(dec.Reason),
		Policy:            dec.Policy,
		RetryAfterSeconds: retry,
	})
}

// statusFor mapeia motivo -> status: 503 quando a plataforma (e não o
// chamador) é a causa, 429 no resto.
func statusFor(reason domain.Reason) int {
	switch reason {
	case domain.ReasonBreakerOpen, domain.ReasonEmergency, domain.ReasonStoreUnavailable, domain.ReasonEngineError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusTooManyRequests
	}
}

// statusRecorder captura o status escrito pelo handler downstream sem
// interferir na resposta.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}
