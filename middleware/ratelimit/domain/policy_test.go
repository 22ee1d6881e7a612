package domain

import (
	"strings"
	"testing"
	"time"
)

func TestPolicy_Validate(t *testing.T) {
	ok := Policy{Name: "p", WindowSeconds: 60, MaxCount: 10, Scope: ScopePrincipal}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}

	cases := []Policy{
		{WindowSeconds: 60, MaxCount: 10, Scope: ScopePrincipal},
		{Name: "p", WindowSeconds: 0, MaxCount: 10, Scope: ScopePrincipal},
		{Name: "p", WindowSeconds: 60, MaxCount: 0, Scope: ScopePrincipal},
		{Name: "p", WindowSeconds: 60, MaxCount: 10, Cost: -1, Scope: ScopePrincipal},
		{Name: "p", WindowSeconds: 60, MaxCount: 10, Scope: "planet"},
	}
	for i, p := range cases {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error, got nil", i)
		}
	}
}

func TestPolicy_WindowBucketAndEnd(t *testing.T) {
	p := Policy{Name: "p", WindowSeconds: 60, MaxCount: 10, Scope: ScopePrincipal}
	now := time.Unix(130, 0)

	if got := p.WindowBucket(now); got != 2 {
		t.Fatalf("expected bucket 2, got %d", got)
	}
	// bucket 2 reseta em t=180
	if got := p.WindowEnd(now); got != 180 {
		t.Fatalf("expected window end 180, got %d", got)
	}
}

func TestPolicy_CounterKey_Scopes(t *testing.T) {
	now := time.Unix(60, 0)
	pr := Principal{Kind: KindUser, ID: "u1", Tier: TierRegistered}
	env := Envelope{Wallet: "w1", ClanID: "c1", SessionID: "s1"}

	cases := []struct {
		scope Scope
		want  string
	}{
		{ScopePrincipal, "rl:p:principal:user:u1:1"},
		{ScopeGlobal, "rl:p:global:global:1"},
		{ScopeWallet, "rl:p:wallet:wallet:w1:1"},
		{ScopeClan, "rl:p:clan:clan:c1:1"},
		{ScopeSession, "rl:p:session:session:s1:1"},
		{ScopePrincipalOperation, "rl:p:principal+operation:user:u1:voting-cast:1"},
	}
	for _, c := range cases {
		p := Policy{Name: "p", WindowSeconds: 60, MaxCount: 10, Scope: c.scope}
		if got := p.CounterKey(pr, OpVotingCast, env, now); got != c.want {
			t.Fatalf("scope %s: expected key %q, got %q", c.scope, c.want, got)
		}
	}
}

func TestPolicy_CounterKey_WalletScopeFallsBackToPrincipal(t *testing.T) {
	// sem wallet no envelope, o scope wallet degrada para a chave do principal
	p := Policy{Name: "p", WindowSeconds: 60, MaxCount: 10, Scope: ScopeWallet}
	pr := Principal{Kind: KindAnonIP, ID: "1.2.3.4", Tier: TierAnonymous}
	key := p.CounterKey(pr, OpWeb3Tx, Envelope{}, time.Unix(0, 0))
	if !strings.Contains(key, "anon-ip:1.2.3.4") {
		t.Fatalf("expected principal fallback in key, got %q", key)
	}
}

func TestBuiltinPolicies_AllValid(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range BuiltinPolicies() {
		if err := p.Validate(); err != nil {
			t.Fatalf("builtin %q: expected valid, got %v", p.Name, err)
		}
		if seen[p.Name] {
			t.Fatalf("builtin %q duplicated", p.Name)
		}
		seen[p.Name] = true
	}
	for _, name := range []string{"voting-cast", "vote-purchase-burn", "web3-tx", "default"} {
		if !seen[name] {
			t.Fatalf("expected builtin policy %q to exist", name)
		}
	}
}
