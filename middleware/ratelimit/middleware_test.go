package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arena-gateway/middleware/ratelimit/application"
	"arena-gateway/middleware/ratelimit/domain"
	"arena-gateway/middleware/ratelimit/infra"
)

func testEngine(t *testing.T) *application.Engine {
	t.Helper()
	registry, err := application.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("expected builtin registry, got %v", err)
	}
	store := infra.NewMemoryCounterStore()
	return application.NewEngine(application.Engine{
		Registry: registry,
		Store:    store,
		Scorer:   application.NewScorer(application.ScorerOptions{}),
		Breakers: infra.NewBreakerSet(infra.BreakerOptions{}),
		Outcomes: application.NewOutcomeTracker(store),
	})
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{Engine: testEngine(t)})(next)

	// 1) wallet com limite 5 em web3-tx: as cinco primeiras passam
	for i := 1; i <= 5; i++ {
		r := httptest.NewRequest(http.MethodPost, "http://example/web3/tx", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set("X-User-Id", "u1")
		r.Header.Set("X-User-Tier", "registered")
		r.Header.Set("X-Wallet-Address", "w1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Policy"); got != "web3-tx" {
			t.Fatalf("request %d: expected web3-tx policy header, got %q", i, got)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
			t.Fatalf("request %d: expected limit header 5, got %q", i, got)
		}
	}

	// 2) a sexta leva 429 com corpo JSON e Retry-After
	r := httptest.NewRequest(http.MethodPost, "http://example/web3/tx", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-User-Id", "u1")
	r.Header.Set("X-User-Tier", "registered")
	r.Header.Set("X-Wallet-Address", "w1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Fatalf("expected Retry-After header to be set")
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5 on denial, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining header 0 on denial, got %q", got)
	}
	var body struct {
		Reason            string `json:"reason"`
		Policy            string `json:"policy"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("expected json deny body, got %v", err)
	}
	if body.Reason != "rate-limited" || body.Policy != "web3-tx" || body.RetryAfterSeconds < 1 {
		t.Fatalf("unexpected deny body %+v", body)
	}

	if calls != 5 {
		t.Fatalf("expected next handler called 5 times, got %d", calls)
	}
}

func TestMiddleware_BreakerDenialIs503(t *testing.T) {
	engine := testEngine(t)
	for i := 0; i < 5; i++ {
		engine.Breakers.ReportResult(domain.OpStandard, false)
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("expected request not to reach next handler")
	})
	h := Middleware(Options{Engine: engine})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/qualquer", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for breaker-open, got %d", w.Code)
	}
}

func TestMiddleware_ReportsDownstreamOutcome(t *testing.T) {
	engine := testEngine(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	h := Middleware(Options{Engine: engine})(next)

	// 5 respostas 502 abrem o breaker da classe
	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/qualquer", nil)
		r.RemoteAddr = "10.0.0.3:1234"
		r.Header.Set("X-User-Id", "u2")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("request %d: expected 502 passthrough, got %d", i+1, w.Code)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "http://example/qualquer", nil)
	r.RemoteAddr = "10.0.0.3:1234"
	r.Header.Set("X-User-Id", "u2")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected breaker to open after 5 downstream failures, got %d", w.Code)
	}
}

func TestEnvelopeFromRequest_Headers(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example/votes/purchase", nil)
	r.RemoteAddr = "10.0.0.4:9999"
	r.Header.Set("X-User-Id", " u3 ")
	r.Header.Set("X-User-Tier", "vip")
	r.Header.Set("X-Wallet-Address", "w3")
	r.Header.Set("X-Gaming-Session", "s3")
	r.Header.Set("X-Tournament-Id", "t3")
	r.Header.Set("X-Clan-Id", "c3")
	r.Header.Set("X-Tokens-Burned", "75")
	r.Header.Set("X-Competitive-Mode", "true")

	env := EnvelopeFromRequest(r, false)
	if env.UserID != "u3" || env.Wallet != "w3" || env.SessionID != "s3" {
		t.Fatalf("unexpected identity fields %+v", env)
	}
	if env.TournamentID != "t3" || env.ClanID != "c3" || !env.Competitive {
		t.Fatalf("unexpected context fields %+v", env)
	}
	if env.TokensBurned != 75 {
		t.Fatalf("expected 75 tokens burned, got %d", env.TokensBurned)
	}
	if env.IP != "10.0.0.4" {
		t.Fatalf("expected remote addr host, got %q", env.IP)
	}

	// header malformado degrada para zero, nunca erra
	r.Header.Set("X-Tokens-Burned", "muitos")
	if env := EnvelopeFromRequest(r, false); env.TokensBurned != 0 {
		t.Fatalf("expected malformed tokens to parse as 0, got %d", env.TokensBurned)
	}
}

func TestClientIP_XForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.5:1111"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	// 1) sem confiança no proxy, vale o RemoteAddr
	if got := clientIP(r, false); got != "10.0.0.5" {
		t.Fatalf("expected remote addr, got %q", got)
	}
	// 2) com confiança, vale o primeiro hop
	if got := clientIP(r, true); got != "203.0.113.9" {
		t.Fatalf("expected first xff hop, got %q", got)
	}
	// 3) XFF vazio cai de volta para o RemoteAddr
	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r, true); got != "10.0.0.5" {
		t.Fatalf("expected remote addr fallback, got %q", got)
	}
}

func TestMiddleware_NilEngineIsPassthrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(Options{})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusTeapot {
		t.Fatalf("expected passthrough, got %d", w.Code)
	}
}

func TestConcurrencyMiddleware_RejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-block
		w.WriteHeader(http.StatusOK)
	})

	h := ConcurrencyMiddleware(ConcurrencyOptions{Max: 1, AcquireTimeout: 20 * time.Millisecond})(next)

	done := make(chan int, 1)
	go func() {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		done <- w.Code
	}()
	<-started

	// com a única vaga ocupada, a segunda requisição leva 503
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with pool full, got %d", w.Code)
	}

	close(block)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first request to finish 200, got %d", code)
	}
}
