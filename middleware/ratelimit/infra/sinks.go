package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"arena-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ZapAuditSink escreve cada evento como uma linha estruturada de log.
type ZapAuditSink struct {
	Logger *zap.SugaredLogger
}

// Write implementa domain.AuditSink.
func (s ZapAuditSink) Write(_ context.Context, batch []domain.AuditEvent) error {
	if s.Logger == nil {
		return nil
	}
	for _, ev := range batch {
		s.Logger.Infow("audit",
			"id", ev.ID,
			"at", ev.At.UTC().Format(time.RFC3339Nano),
			"principal", ev.Principal,
			"tier", ev.Tier,
			"operation", ev.Operation,
			"policy", ev.Policy,
			"verdict", ev.Verdict,
			"reason", ev.Reason,
			"remaining", ev.Remaining,
			"abuseScore", ev.AbuseScore,
			"latencyUs", ev.LatencyUS,
			"detail", ev.Detail,
		)
	}
	return nil
}

// RedisAuditSink publica lotes em um stream Redis (XADD) via pipeline,
// com MAXLEN aproximado para a retenção não crescer sem limite.
type RedisAuditSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisAuditSink cria o sink. maxLen <= 0 usa 100k.
func NewRedisAuditSink(rdb *redis.Client, stream string, maxLen int64) *RedisAuditSink {
	if stream == "" {
		stream = "ratelimit:audit"
	}
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisAuditSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Write implementa domain.AuditSink.
func (s *RedisAuditSink) Write(ctx context.Context, batch []domain.AuditEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, ev := range batch {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":        ev.ID,
				"at":        ev.At.UnixMicro(),
				"principal": ev.Principal,
				"tier":      string(ev.Tier),
				"operation": string(ev.Operation),
				"policy":    ev.Policy,
				"verdict":   string(ev.Verdict),
				"reason":    string(ev.Reason),
				"remaining": strconv.FormatInt(ev.Remaining, 10),
				"score":     strconv.FormatFloat(ev.AbuseScore, 'f', 2, 64),
				"latencyUs": strconv.FormatInt(ev.LatencyUS, 10),
				"detail":    ev.Detail,
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MemoryAuditSink acumula eventos em memória. Útil para testes.
type MemoryAuditSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

// Write implementa domain.AuditSink.
func (s *MemoryAuditSink) Write(_ context.Context, batch []domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Events retorna uma cópia do que foi escrito.
func (s *MemoryAuditSink) Events() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
