package infra

import (
	"context"
	"fmt"
	"time"

	"arena-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// counterGrace mantém a chave viva um pouco além do fim da janela, para que
// peeks tardios e post-hooks ainda enxerguem o bucket.
const counterGrace = 10 * time.Second

// incrScript faz o increment-and-expire condicional em uma única avaliação:
// só incrementa se count+cost <= limit (limit <= 0 força), e seta o TTL
// apenas na primeira escrita da janela.
var incrScript = redis.NewScript(`
local key = KEYS[1]
local cost = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local current = tonumber(redis.call('GET', key) or '0')
if limit > 0 and current + cost > limit then
	local pttl = redis.call('PTTL', key)
	if pttl < 0 then pttl = ttl_ms end
	return {0, current, pttl}
end

local count = redis.call('INCRBY', key, cost)
if redis.call('PTTL', key) < 0 then
	redis.call('PEXPIRE', key, ttl_ms)
end
return {1, count, redis.call('PTTL', key)}
`)

// RedisCounterStore é a variante shared-KV do counter store (C1).
//
// Toda chamada tem um deadline próprio (default 50ms); estourado, o chamador
// recebe ErrStoreUnavailable e consulta a tabela fail-open/fail-closed.
type RedisCounterStore struct {
	rdb     *redis.Client
	timeout time.Duration
}

type RedisCounterOption func(*RedisCounterStore)

// WithCounterTimeout ajusta o deadline por chamada.
func WithCounterTimeout(d time.Duration) RedisCounterOption {
	return func(s *RedisCounterStore) { s.timeout = d }
}

// NewRedisCounterStore cria o store sobre um client go-redis.
func NewRedisCounterStore(rdb *redis.Client, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{rdb: rdb, timeout: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Incr implementa domain.CounterStore.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, cost int64, window time.Duration, limit int64) (domain.CounterResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	ttl := window + counterGrace
	raw, err := incrScript.Run(ctx, s.rdb, []string{key}, cost, limit, ttl.Milliseconds()).Result()
	if err != nil {
		return domain.CounterResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return domain.CounterResult{}, fmt.Errorf("%w: unexpected script reply", domain.ErrStoreUnavailable)
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	pttl, _ := vals[2].(int64)
	return domain.CounterResult{
		Allowed: allowed == 1,
		Count:   count,
		TTL:     time.Duration(pttl) * time.Millisecond,
	}, nil
}

// Decr compensa um incremento já aplicado (negação composta).
func (s *RedisCounterStore) Decr(ctx context.Context, key string, cost int64) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	if err := s.rdb.DecrBy(ctx, key, cost).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Peek retorna o contador corrente (0 quando a chave não existe).
func (s *RedisCounterStore) Peek(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	n, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Reset apaga o contador da chave.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Ping é o probe de saúde usado pelo scheduler.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
