package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Scope determina como a chave de contador de uma policy é derivada.
type Scope string

const (
	ScopeGlobal             Scope = "global"
	ScopePrincipal          Scope = "principal"
	ScopePrincipalOperation Scope = "principal+operation"
	ScopeWallet             Scope = "wallet"
	ScopeClan               Scope = "clan"
	ScopeSession            Scope = "session"
)

var scopes = map[Scope]bool{
	ScopeGlobal: true, ScopePrincipal: true, ScopePrincipalOperation: true,
	ScopeWallet: true, ScopeClan: true, ScopeSession: true,
}

// Policy é imutável depois de registrada no registry.
//
// ApplyWhen é opcional; quando nil a policy vale sempre que selecionada.
type Policy struct {
	Name          string
	WindowSeconds int64
	MaxCount      int64
	Cost          int64
	Scope         Scope
	SkipOnSuccess bool
	ApplyWhen     func(Envelope) bool
}

// Window retorna a janela como Duration.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// Validate garante os invariantes estruturais de uma policy.
func (p Policy) Validate() error {
	if p.Name == "" {
		return errors.New("policy name is required")
	}
	if p.WindowSeconds <= 0 {
		return fmt.Errorf("policy %q: window_seconds must be > 0", p.Name)
	}
	if p.MaxCount <= 0 {
		return fmt.Errorf("policy %q: max_count must be > 0", p.Name)
	}
	if p.Cost < 0 {
		return fmt.Errorf("policy %q: cost must be >= 0", p.Name)
	}
	if !scopes[p.Scope] {
		return fmt.Errorf("policy %q: unknown scope %q", p.Name, p.Scope)
	}
	return nil
}

// BaseCost retorna o custo por requisição (default 1).
func (p Policy) BaseCost() int64 {
	if p.Cost <= 0 {
		return 1
	}
	return p.Cost
}

// WindowBucket é floor(now / window) — contadores são chaveados por bucket.
func (p Policy) WindowBucket(now time.Time) int64 {
	return now.Unix() / p.WindowSeconds
}

// WindowEnd retorna o instante (epoch) em que o bucket corrente reseta.
func (p Policy) WindowEnd(now time.Time) int64 {
	return (p.WindowBucket(now) + 1) * p.WindowSeconds
}

// CounterKey deriva a chave de contador namespaced pelo scope da policy,
// evitando colisão entre policies e entre scopes.
func (p Policy) CounterKey(pr Principal, class OperationClass, env Envelope, now time.Time) string {
	subject := pr.Key()
	switch p.Scope {
	case ScopeGlobal:
		subject = "global"
	case ScopeWallet:
		if env.Wallet != "" {
			subject = "wallet:" + env.Wallet
		}
	case ScopeClan:
		if env.ClanID != "" {
			subject = "clan:" + env.ClanID
		}
	case ScopeSession:
		if env.SessionID != "" {
			subject = "session:" + env.SessionID
		}
	case ScopePrincipalOperation:
		subject = pr.Key() + ":" + string(class)
	}
	return "rl:" + p.Name + ":" + string(p.Scope) + ":" + subject + ":" +
		strconv.FormatInt(p.WindowBucket(now), 10)
}

// BuiltinPolicies retorna o conjunto de policies embutidas da plataforma.
//
// tournament-action herda os números da policy default; o headroom vem do
// multiplicador de contexto de torneio (x5) aplicado pelo engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		{Name: "voting-cast", WindowSeconds: 60, MaxCount: 15, Scope: ScopePrincipal},
		{Name: "vote-purchase-burn", WindowSeconds: 60, MaxCount: 3, Scope: ScopeWallet},
		{Name: "clan-write", WindowSeconds: 120, MaxCount: 30, Scope: ScopePrincipal},
		{Name: "tournament-action", WindowSeconds: 60, MaxCount: 60, Scope: ScopePrincipal},
		{Name: "wallet-connect", WindowSeconds: 300, MaxCount: 10, Scope: ScopePrincipal, SkipOnSuccess: true},
		{Name: "web3-tx", WindowSeconds: 60, MaxCount: 5, Scope: ScopeWallet},
		{Name: "spl-op", WindowSeconds: 120, MaxCount: 8, Scope: ScopeWallet},
		{Name: "balance-read", WindowSeconds: 10, MaxCount: 50, Scope: ScopePrincipal},
		{Name: "leaderboard-read", WindowSeconds: 30, MaxCount: 100, Scope: ScopeGlobal},
		{Name: "default", WindowSeconds: 60, MaxCount: 60, Scope: ScopePrincipal},
	}
}
