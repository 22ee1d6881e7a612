package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"arena-gateway/middleware/ratelimit"
	"arena-gateway/middleware/ratelimit/application"
	"arena-gateway/middleware/ratelimit/domain"
	"arena-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	zlog, _ := zap.NewProduction()
	defer func() { _ = zlog.Sync() }()
	logger := zlog.Sugar()

	cfg, err := readConfig()
	if err != nil {
		logger.Fatalw("config error", "err", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatalw("invalid UPSTREAM_URL", "err", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warnw("proxy error", "path", r.URL.Path, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	// registry: builtins, com override opcional via POLICY_FILE.
	registry, err := application.NewBuiltinRegistry()
	if err != nil {
		logger.Fatalw("builtin policies", "err", err)
	}
	if cfg.policyFile != "" {
		policies, err := infra.LoadPolicyFile(cfg.policyFile)
		if err != nil {
			logger.Fatalw("policy file", "file", cfg.policyFile, "err", err)
		}
		if err := registry.Reload(policies); err != nil {
			logger.Fatalw("policy reload", "err", err)
		}
	}

	// counter store: Redis compartilhado com fallback local atrás do failover.
	memStore := infra.NewMemoryCounterStore()
	var rdb *redis.Client
	var primary domain.CounterStore = memStore
	if cfg.counterStoreURL != "" {
		ropts, err := redis.ParseURL(cfg.counterStoreURL)
		if err != nil {
			logger.Fatalw("invalid COUNTER_STORE_URL", "err", err)
		}
		rdb = redis.NewClient(ropts)
		defer func() { _ = rdb.Close() }()
		primary = infra.NewRedisCounterStore(rdb, infra.WithCounterTimeout(cfg.counterTimeout))
	}

	// pipe de auditoria e sink.
	var sink domain.AuditSink = infra.ZapAuditSink{Logger: logger.Named("audit")}
	if cfg.auditSink == "redis-stream" {
		if rdb == nil {
			logger.Fatalw("AUDIT_SINK=redis-stream requires COUNTER_STORE_URL")
		}
		sink = infra.NewRedisAuditSink(rdb, cfg.auditStream, 0)
	}
	pipe := infra.NewAuditPipe(sink, logger, infra.AuditPipeOptions{Capacity: cfg.auditBufferSize})

	failover := infra.NewFailoverCounterStore(primary, memStore, pipe.Emit, logger)
	emergency := application.NewEmergencyController(cfg.emergencyMultiplier, pipe.Emit)
	scorer := application.NewScorer(application.ScorerOptions{
		LockoutBase: cfg.abuseLockoutBase,
		OnCrossing: func(principal string, score float64, tier domain.PenaltyTier) {
			pipe.Emit(domain.AuditEvent{
				At:         time.Now(),
				Principal:  principal,
				Verdict:    domain.VerdictAbuseScore,
				AbuseScore: score,
				Detail:     string(tier),
			})
		},
	})
	breakers := infra.NewBreakerSet(infra.BreakerOptions{})
	outcomes := application.NewOutcomeTracker(failover)
	stats := infra.NewMemoryStatsStore()

	engine := application.NewEngine(application.Engine{
		Registry:  registry,
		Store:     failover,
		Scorer:    scorer,
		Breakers:  breakers,
		Emergency: emergency,
		Outcomes:  outcomes,
		Stats:     stats,
		Emit:      pipe.Emit,
		Logger:    logger.Named("engine"),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipe.Start(ctx)

	scheduler := infra.NewScheduler(logger.Named("scheduler"),
		&infra.Task{Name: "store-probe", Every: 5 * time.Second, Run: failover.Probe},
		&infra.Task{Name: "abuse-decay", Every: 10 * time.Second, Run: func(context.Context) { scorer.DecayIdle() }},
		&infra.Task{Name: "evict", Every: 30 * time.Second, Run: func(tctx context.Context) {
			memStore.Evict()
			scorer.EvictIdle()
			outcomes.ExpireStale(tctx, time.Now())
		}},
		&infra.Task{Name: "reconcile", Every: 60 * time.Second, Run: func(context.Context) {
			breakers.Reconcile()
			pipe.Emit(domain.AuditEvent{
				At:      time.Now(),
				Verdict: domain.VerdictHealth,
				Detail:  healthDetail(failover, pipe),
			})
		}},
	)
	scheduler.Start(ctx)

	// ingress principal: proxy atrás de concorrência + limiter.
	h := http.Handler(proxy)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Engine:             engine,
		TrustXForwardedFor: cfg.trustXFF,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// ingress administrativo separado: nunca passa pelo limiter.
	adminSrv := &http.Server{
		Addr: cfg.adminAddr,
		Handler: ratelimit.NewAdminHandler(ratelimit.AdminOptions{
			Registry:  registry,
			Scorer:    scorer,
			Emergency: emergency,
			Breakers:  breakers,
			Store:     failover,
			Failover:  failover,
			Stats:     stats,
			Pipe:      pipe,
			Outcomes:  outcomes,
			Emit:      pipe.Emit,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = adminSrv.Shutdown(shutdownCtx)
		scheduler.Wait()
		pipe.Wait()
	}()

	go func() {
		logger.Infow("admin listening", "addr", cfg.adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("admin server error", "err", err)
		}
	}()

	logger.Infow("gateway listening",
		"addr", cfg.listenAddr, "upstream", target.String(),
		"counterStore", cfg.counterStoreURL != "", "policyFile", cfg.policyFile,
		"emergencyMultiplier", cfg.emergencyMultiplier, "trustXFF", cfg.trustXFF,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalw("server error", "err", err)
	}
}

func healthDetail(failover *infra.FailoverCounterStore, pipe *infra.AuditPipe) string {
	if failover.Degraded() {
		return "counter-store=degraded dropped=" + strconv.FormatInt(pipe.Dropped(), 10)
	}
	return "counter-store=ok dropped=" + strconv.FormatInt(pipe.Dropped(), 10)
}

type config struct {
	listenAddr  string
	adminAddr   string
	upstreamURL string

	counterStoreURL string
	counterTimeout  time.Duration
	policyFile      string

	emergencyMultiplier float64
	abuseLockoutBase    time.Duration
	auditBufferSize     int
	auditSink           string
	auditStream         string

	trustXFF           bool
	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.adminAddr = getenvDefault("ADMIN_ADDR", ":9090")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.counterStoreURL = os.Getenv("COUNTER_STORE_URL")
	cfg.counterTimeout = time.Duration(getenvIntDefault("COUNTER_STORE_TIMEOUT_MS", 50)) * time.Millisecond
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.emergencyMultiplier = getenvFloatDefault("EMERGENCY_MULTIPLIER", 0.1)
	cfg.abuseLockoutBase = time.Duration(getenvIntDefault("ABUSE_LOCKOUT_BASE_SEC", 30)) * time.Second
	cfg.auditBufferSize = getenvIntDefault("AUDIT_BUFFER_SIZE", 10_000)
	cfg.auditSink = getenvDefault("AUDIT_SINK", "log")
	cfg.auditStream = getenvDefault("AUDIT_STREAM", "ratelimit:audit")

	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.counterTimeout <= 0 {
		return config{}, errors.New("COUNTER_STORE_TIMEOUT_MS must be > 0")
	}
	if cfg.emergencyMultiplier <= 0 || cfg.emergencyMultiplier >= 1 {
		return config{}, errors.New("EMERGENCY_MULTIPLIER must be in (0, 1)")
	}
	if cfg.auditSink != "log" && cfg.auditSink != "redis-stream" {
		return config{}, errors.New("AUDIT_SINK must be log or redis-stream")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
