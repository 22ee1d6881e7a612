package domain

import (
	"testing"
	"time"
)

func TestTier_Multiplier(t *testing.T) {
	cases := []struct {
		tier Tier
		want float64
	}{
		{TierAnonymous, 0.5},
		{TierRegistered, 1.0},
		{TierPremium, 2.0},
		{TierVIP, 3.0},
		{TierTournament, 5.0},
		{TierClanLeader, 2.5},
		{TierModerator, 8.0},
		{TierAdmin, 20.0},
		{Tier("unknown"), 1.0},
	}
	for _, c := range cases {
		if got := c.tier.Multiplier(); got != c.want {
			t.Fatalf("tier %s: expected %v, got %v", c.tier, c.want, got)
		}
	}
}

func TestParseTier(t *testing.T) {
	if got := ParseTier("  VIP ", TierAnonymous); got != TierVIP {
		t.Fatalf("expected vip, got %s", got)
	}
	// valor desconhecido cai para o fallback, nunca erra
	if got := ParseTier("overlord", TierRegistered); got != TierRegistered {
		t.Fatalf("expected registered fallback, got %s", got)
	}
	if got := ParseTier("", TierAnonymous); got != TierAnonymous {
		t.Fatalf("expected anonymous fallback, got %s", got)
	}
}

func TestParseOperationClass(t *testing.T) {
	if c, ok := ParseOperationClass(" Voting-Cast "); !ok || c != OpVotingCast {
		t.Fatalf("expected voting-cast, got %s (ok=%v)", c, ok)
	}
	if _, ok := ParseOperationClass("mine-bitcoin"); ok {
		t.Fatalf("expected unknown class to be rejected")
	}
}

func TestOperationClass_FailsClosed(t *testing.T) {
	closed := []OperationClass{OpVotePurchase, OpWeb3Tx, OpVotingCast}
	for _, c := range closed {
		if !c.FailsClosed() {
			t.Fatalf("expected %s to fail closed", c)
		}
	}
	open := []OperationClass{OpStandard, OpBalanceRead, OpLeaderboardRead, OpClanWrite, OpWalletConnect, OpSPL}
	for _, c := range open {
		if c.FailsClosed() {
			t.Fatalf("expected %s to fail open", c)
		}
	}
}

func TestPenaltyForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  PenaltyTier
	}{
		{0, PenaltyNone},
		{39.9, PenaltyNone},
		{40, PenaltySoft},
		{60, PenaltyHard},
		{79.9, PenaltyHard},
		{80, PenaltyLockout},
		{100, PenaltyLockout},
	}
	for _, c := range cases {
		if got := PenaltyForScore(c.score); got != c.want {
			t.Fatalf("score %v: expected %s, got %s", c.score, c.want, got)
		}
	}
}

func TestAbuseSnapshot_LockedOut(t *testing.T) {
	now := time.Unix(1000, 0)
	s := AbuseSnapshot{Penalty: PenaltyLockout, LockoutUntil: now.Add(10 * time.Second)}
	if !s.LockedOut(now) {
		t.Fatalf("expected snapshot to be locked out")
	}
	if s.LockedOut(now.Add(11 * time.Second)) {
		t.Fatalf("expected lockout to expire")
	}
}
