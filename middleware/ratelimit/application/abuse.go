package application

import (
	"math"
	"sort"
	"sync"
	"time"

	"arena-gateway/middleware/ratelimit/domain"
)

const (
	// abuseRingSize é o tamanho do ring buffer de amostras por principal.
	abuseRingSize = 64
	// abuseMinSamples é o mínimo de gaps antes do sinal de regularidade valer.
	abuseMinSamples = 8
	// abuseHalfLife é a meia-vida do decaimento do score em ociosidade.
	abuseHalfLife = 60 * time.Second
	// abuseIdleEviction remove records ociosos há mais que isso.
	abuseIdleEviction = 30 * time.Minute
	// abuseGain converte o sinal instantâneo (0..100) em acúmulo de score.
	abuseGain = 0.05
	// abuseMaxLockout limita a escalada de lockout.
	abuseMaxLockout = time.Hour
)

// sinal: pesos da soma ponderada (regularidade, falhas, alto custo, negações).
const (
	weightRegularity = 0.35
	weightFailure    = 0.25
	weightHighCost   = 0.25
	weightDenial     = 0.15
)

// Sample é um evento registrado no ring de um principal.
type Sample struct {
	At       time.Time
	Gap      time.Duration
	Status   int
	Denied   bool
	HighCost bool
}

type abuseRecord struct {
	mu sync.Mutex

	samples [abuseRingSize]Sample
	next    int
	count   int

	score            float64
	consecutiveFails int
	lastDecay        time.Time
	lastSeen         time.Time

	lockoutUntil time.Time
	lockouts     int

	tier  domain.Tier
	admin bool
}

// ScorerOptions configura o Scorer.
type ScorerOptions struct {
	LockoutBase   time.Duration
	MaxPrincipals int
	// OnCrossing é chamado quando o tier de penalidade de um principal muda.
	// Best-effort: nunca bloqueia a decisão.
	OnCrossing func(principal string, score float64, tier domain.PenaltyTier)
}

// Scorer é o analisador streaming de padrões de requisição (C5).
//
// Locks finos por principal: o mapa tem um lock próprio só para lookup;
// cada record tem seu mutex e snapshots são computados sob ele.
type Scorer struct {
	mu      sync.Mutex
	records map[string]*abuseRecord
	opts    ScorerOptions
	now     func() time.Time
}

// NewScorer cria o scorer com defaults (lockout 30s, cap 500k principals).
func NewScorer(opts ScorerOptions) *Scorer {
	if opts.LockoutBase <= 0 {
		opts.LockoutBase = 30 * time.Second
	}
	if opts.MaxPrincipals <= 0 {
		opts.MaxPrincipals = 500_000
	}
	return &Scorer{
		records: make(map[string]*abuseRecord),
		opts:    opts,
		now:     time.Now,
	}
}

func (s *Scorer) record(principal string, tier domain.Tier) *abuseRecord {
	s.mu.Lock()
	rec, ok := s.records[principal]
	if !ok {
		if len(s.records) >= s.opts.MaxPrincipals {
			s.evictOldestLocked()
		}
		now := s.now()
		rec = &abuseRecord{lastDecay: now, lastSeen: now, tier: tier, admin: tier == domain.TierAdmin}
		s.records[principal] = rec
		s.mu.Unlock()
		return rec
	}
	s.mu.Unlock()

	// tier pode mudar entre requisições (login no meio da sessão); os
	// leitores consultam tier/admin sob rec.mu, então a atualização também
	// precisa desse lock.
	rec.mu.Lock()
	if rec.tier != tier {
		rec.tier = tier
		rec.admin = tier == domain.TierAdmin
	}
	rec.mu.Unlock()
	return rec
}

// evictOldestLocked abre espaço removendo o record mais ocioso.
func (s *Scorer) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, rec := range s.records {
		if oldestKey == "" || rec.lastSeen.Before(oldest) {
			oldestKey, oldest = k, rec.lastSeen
		}
	}
	if oldestKey != "" {
		delete(s.records, oldestKey)
	}
}

// Snapshot retorna a visão corrente do principal sem registrar amostra.
func (s *Scorer) Snapshot(p domain.Principal) domain.AbuseSnapshot {
	rec := s.record(p.Key(), p.Tier)
	now := s.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.decayLocked(now)
	return rec.snapshotLocked(p.Key(), now)
}

// RecordDecision registra o verdict de um target no ring do principal.
func (s *Scorer) RecordDecision(p domain.Principal, class domain.OperationClass, denied bool) domain.AbuseSnapshot {
	rec := s.record(p.Key(), p.Tier)
	now := s.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	before := rec.penaltyLocked(now)
	rec.decayLocked(now)

	gap := time.Duration(0)
	if rec.count > 0 {
		last := rec.samples[(rec.next-1+abuseRingSize)%abuseRingSize]
		gap = now.Sub(last.At)
	}
	rec.push(Sample{At: now, Gap: gap, Denied: denied, HighCost: class.HighCost()})
	rec.accumulateLocked()
	rec.lastSeen = now

	after := rec.applyPenaltyLocked(now, s.opts.LockoutBase)
	snap := rec.snapshotLocked(p.Key(), now)

	if after != before && s.opts.OnCrossing != nil {
		s.opts.OnCrossing(p.Key(), snap.Score, after)
	}
	return snap
}

// RecordOutcome alimenta o sinal de falha com o status downstream reportado
// pelo post-hook.
func (s *Scorer) RecordOutcome(p domain.Principal, status int) {
	rec := s.record(p.Key(), p.Tier)
	now := s.now()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if status >= 400 {
		rec.consecutiveFails++
	} else {
		rec.consecutiveFails = 0
	}
	// marca o outcome na amostra mais recente (a decisão que o originou).
	if rec.count > 0 {
		idx := (rec.next - 1 + abuseRingSize) % abuseRingSize
		rec.samples[idx].Status = status
	}
	rec.accumulateLocked()
	rec.applyPenaltyLocked(now, s.opts.LockoutBase)
	rec.lastSeen = now
}

// ForceClear zera o score de um principal (ação de admin).
func (s *Scorer) ForceClear(principal string) {
	s.mu.Lock()
	rec, ok := s.records[principal]
	s.mu.Unlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.score = 0
	rec.lockoutUntil = time.Time{}
	rec.lockouts = 0
	rec.consecutiveFails = 0
}

// DecayIdle aplica decaimento em records não tocados (tarefa periódica).
func (s *Scorer) DecayIdle() {
	now := s.now()
	for _, rec := range s.all() {
		rec.mu.Lock()
		rec.decayLocked(now)
		rec.applyPenaltyLocked(now, s.opts.LockoutBase)
		rec.mu.Unlock()
	}
}

// EvictIdle remove records ociosos há mais de 30 min.
func (s *Scorer) EvictIdle() int {
	cutoff := s.now().Add(-abuseIdleEviction)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, rec := range s.records {
		rec.mu.Lock()
		idle := rec.lastSeen.Before(cutoff)
		rec.mu.Unlock()
		if idle {
			delete(s.records, k)
			evicted++
		}
	}
	return evicted
}

// TopN retorna os principals de maior score para o admin surface.
func (s *Scorer) TopN(n int) []domain.AbuseSnapshot {
	now := s.now()
	type kv struct {
		key string
		rec *abuseRecord
	}
	s.mu.Lock()
	items := make([]kv, 0, len(s.records))
	for k, rec := range s.records {
		items = append(items, kv{k, rec})
	}
	s.mu.Unlock()

	snaps := make([]domain.AbuseSnapshot, 0, len(items))
	for _, it := range items {
		it.rec.mu.Lock()
		snaps = append(snaps, it.rec.snapshotLocked(it.key, now))
		it.rec.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Score > snaps[j].Score })
	if n > 0 && len(snaps) > n {
		snaps = snaps[:n]
	}
	return snaps
}

// Len retorna o número de principals rastreados.
func (s *Scorer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Scorer) all() []*abuseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*abuseRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

func (r *abuseRecord) push(sm Sample) {
	r.samples[r.next] = sm
	r.next = (r.next + 1) % abuseRingSize
	if r.count < abuseRingSize {
		r.count++
	}
}

// decayLocked aplica o decaimento exponencial (meia-vida 60s) desde o último
// decay.
func (r *abuseRecord) decayLocked(now time.Time) {
	if r.lastDecay.IsZero() {
		r.lastDecay = now
		return
	}
	elapsed := now.Sub(r.lastDecay)
	if elapsed <= 0 {
		return
	}
	r.score *= math.Pow(0.5, elapsed.Seconds()/abuseHalfLife.Seconds())
	if r.score < 0.01 {
		r.score = 0
	}
	r.lastDecay = now
}

// accumulateLocked soma o sinal instantâneo ponderado ao score.
//
// Cada requisição pontuada puxa o score para cima em signal*gain; o decaimento
// temporal puxa para baixo. Tráfego humano (gaps irregulares, poucos erros)
// converge perto de zero; rajadas perfeitamente periódicas cruzam hard.
func (r *abuseRecord) accumulateLocked() {
	signal := r.signalLocked()
	r.score = math.Min(100, r.score+signal*abuseGain)
}

func (r *abuseRecord) signalLocked() float64 {
	if r.count == 0 {
		return 0
	}
	var (
		gaps     []float64
		failures int
		outcomes int
		costly   int
		denials  int
	)
	for i := 0; i < r.count; i++ {
		sm := r.samples[i]
		if sm.Gap > 0 {
			gaps = append(gaps, sm.Gap.Seconds())
		}
		if sm.Status != 0 {
			outcomes++
			if sm.Status >= 400 {
				failures++
			}
		}
		if sm.HighCost {
			costly++
		}
		if sm.Denied {
			denials++
		}
	}

	regularity := 0.0
	if len(gaps) >= abuseMinSamples {
		regularity = regularityOf(gaps)
	}
	failureRate := 0.0
	if outcomes > 0 {
		failureRate = float64(failures) / float64(outcomes)
	}
	costRate := float64(costly) / float64(r.count)
	denialRate := float64(denials) / float64(r.count)

	return 100 * (weightRegularity*regularity +
		weightFailure*failureRate +
		weightHighCost*costRate +
		weightDenial*denialRate)
}

// regularityOf mede o quão bot-like são os gaps: 1 - coeficiente de variação,
// limitado a [0,1]. Gaps perfeitamente periódicos dão 1.
func regularityOf(gaps []float64) float64 {
	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	if mean <= 0 {
		return 1
	}
	variance := 0.0
	for _, g := range gaps {
		d := g - mean
		variance += d * d
	}
	variance /= float64(len(gaps))
	cv := math.Sqrt(variance) / mean
	if cv >= 1 {
		return 0
	}
	return 1 - cv
}

func (r *abuseRecord) penaltyLocked(now time.Time) domain.PenaltyTier {
	if now.Before(r.lockoutUntil) {
		return domain.PenaltyLockout
	}
	tier := domain.PenaltyForScore(r.score)
	if r.admin && tier != domain.PenaltyNone {
		// admin nunca passa de soft.
		return domain.PenaltySoft
	}
	return tier
}

// applyPenaltyLocked materializa o tier de penalidade, armando lockout com
// escalada dobrada a cada recorrência (teto 1h). Admin nunca entra em lockout.
func (r *abuseRecord) applyPenaltyLocked(now time.Time, base time.Duration) domain.PenaltyTier {
	if now.Before(r.lockoutUntil) {
		return domain.PenaltyLockout
	}
	tier := domain.PenaltyForScore(r.score)
	if r.admin {
		if tier == domain.PenaltyNone {
			return domain.PenaltyNone
		}
		return domain.PenaltySoft
	}
	if tier == domain.PenaltyLockout {
		d := base
		for i := 0; i < r.lockouts && d < abuseMaxLockout; i++ {
			d *= 2
		}
		if d > abuseMaxLockout {
			d = abuseMaxLockout
		}
		r.lockoutUntil = now.Add(d)
		r.lockouts++
		// lockout consome o score acumulado; a escalada fica em lockouts.
		r.score = 79
	}
	return tier
}

func (r *abuseRecord) snapshotLocked(key string, now time.Time) domain.AbuseSnapshot {
	return domain.AbuseSnapshot{
		Principal:        key,
		Score:            r.score,
		Penalty:          r.penaltyLocked(now),
		ConsecutiveFails: r.consecutiveFails,
		LockoutUntil:     r.lockoutUntil,
		LastSeen:         r.lastSeen,
	}
}
