package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"arena-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// AuditPipe é a fila bounded do stream de auditoria (C7).
//
// Produtores fazem append sem bloquear (drop-oldest quando cheia, perda
// contada); um único flusher drena para o sink a cada 1s ou 1000 eventos,
// o que vier primeiro. Ordem por principal é a ordem de append; entre
// principals é best-effort.
type AuditPipe struct {
	mu     sync.Mutex
	buffer []domain.AuditEvent
	head   int
	size   int

	recent    []domain.AuditEvent
	recentCap int

	capacity int
	dropped  atomic.Int64

	sink   domain.AuditSink
	logger *zap.SugaredLogger

	flushEvery time.Duration
	flushBatch int

	wake chan struct{}
	done chan struct{}
}

// AuditPipeOptions configura a fila.
type AuditPipeOptions struct {
	Capacity   int
	FlushEvery time.Duration
	FlushBatch int
	RecentKeep int
}

// NewAuditPipe cria o pipe sobre o sink dado.
func NewAuditPipe(sink domain.AuditSink, logger *zap.SugaredLogger, opts AuditPipeOptions) *AuditPipe {
	if opts.Capacity <= 0 {
		opts.Capacity = 10_000
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = time.Second
	}
	if opts.FlushBatch <= 0 {
		opts.FlushBatch = 1000
	}
	if opts.RecentKeep <= 0 {
		opts.RecentKeep = 1000
	}
	return &AuditPipe{
		buffer:     make([]domain.AuditEvent, opts.Capacity),
		capacity:   opts.Capacity,
		recentCap:  opts.RecentKeep,
		sink:       sink,
		logger:     logger,
		flushEvery: opts.FlushEvery,
		flushBatch: opts.FlushBatch,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Emit enfileira um evento sem bloquear; com a fila cheia descarta o mais
// antigo e conta a perda.
func (p *AuditPipe) Emit(ev domain.AuditEvent) {
	p.mu.Lock()
	if p.size == p.capacity {
		p.head = (p.head + 1) % p.capacity
		p.size--
		p.dropped.Add(1)
	}
	p.buffer[(p.head+p.size)%p.capacity] = ev
	p.size++
	p.keepRecentLocked(ev)
	full := p.size >= p.flushBatch
	p.mu.Unlock()

	if full {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

func (p *AuditPipe) keepRecentLocked(ev domain.AuditEvent) {
	p.recent = append(p.recent, ev)
	if len(p.recent) > p.recentCap {
		p.recent = p.recent[len(p.recent)-p.recentCap:]
	}
}

// Recent retorna os últimos eventos (admin surface, máx. RecentKeep).
func (p *AuditPipe) Recent(limit int) []domain.AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > len(p.recent) {
		limit = len(p.recent)
	}
	out := make([]domain.AuditEvent, limit)
	copy(out, p.recent[len(p.recent)-limit:])
	return out
}

// Dropped retorna o total de eventos perdidos por overflow.
func (p *AuditPipe) Dropped() int64 { return p.dropped.Load() }

// Start inicia o flusher; pare cancelando o contexto.
func (p *AuditPipe) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		t := time.NewTicker(p.flushEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				p.flush(context.Background())
				return
			case <-t.C:
				p.flush(ctx)
			case <-p.wake:
				p.flush(ctx)
			}
		}
	}()
}

// Wait bloqueia até o flusher encerrar (shutdown gracioso).
func (p *AuditPipe) Wait() { <-p.done }

func (p *AuditPipe) drain() []domain.AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size == 0 {
		return nil
	}
	n := p.size
	if n > p.flushBatch {
		n = p.flushBatch
	}
	batch := make([]domain.AuditEvent, n)
	for i := 0; i < n; i++ {
		batch[i] = p.buffer[(p.head+i)%p.capacity]
	}
	p.head = (p.head + n) % p.capacity
	p.size -= n
	return batch
}

func (p *AuditPipe) flush(ctx context.Context) {
	for {
		batch := p.drain()
		if len(batch) == 0 {
			return
		}
		if p.sink == nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.sink.Write(wctx, batch)
		cancel()
		if err != nil {
			// best-effort: o lote é perdido e contado, nunca reprocessado
			// (nenhum evento fica mais de 5s no buffer).
			p.dropped.Add(int64(len(batch)))
			if p.logger != nil {
				p.logger.Warnw("audit sink write falhou", "batch", len(batch), "err", err)
			}
		}
		if len(batch) < p.flushBatch {
			return
		}
	}
}
