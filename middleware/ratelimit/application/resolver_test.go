package application

import (
	"testing"

	"arena-gateway/middleware/ratelimit/domain"
)

func testResolver(t *testing.T) Resolver {
	t.Helper()
	reg, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("expected builtin registry, got %v", err)
	}
	return Resolver{Registry: reg}
}

func TestResolver_VotingCastForUser(t *testing.T) {
	rs := testResolver(t)

	targets := rs.Resolve(domain.Envelope{
		Method: "POST", Path: "/votes",
		UserID: "u1", TierRaw: "premium", IP: "1.2.3.4",
	})

	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Policy != "voting-cast" || targets[0].Principal.Kind != domain.KindUser || targets[0].Principal.Tier != domain.TierPremium {
		t.Fatalf("expected voting-cast on premium user, got %+v", targets[0])
	}
	// escrita carrega a default sobre o IP como segundo target
	if targets[1].Policy != "default" || targets[1].Principal.Kind != domain.KindAnonIP || targets[1].Principal.ID != "1.2.3.4" {
		t.Fatalf("expected default on anon-ip, got %+v", targets[1])
	}
}

func TestResolver_BurnProducesThreeTargets(t *testing.T) {
	rs := testResolver(t)

	targets := rs.Resolve(domain.Envelope{
		Method: "POST", Path: "/votes/purchase",
		UserID: "u1", Wallet: "w1", TierRaw: "registered", IP: "1.2.3.4",
	})

	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}
	// 1) a policy primária cobra a wallet
	if targets[0].Policy != "vote-purchase-burn" || targets[0].Principal.Kind != domain.KindWallet {
		t.Fatalf("expected vote-purchase-burn on wallet, got %+v", targets[0])
	}
	// 2) burn também é um voto: voting-cast sobre o usuário
	if targets[1].Policy != "voting-cast" || targets[1].Principal.Kind != domain.KindUser {
		t.Fatalf("expected voting-cast on user, got %+v", targets[1])
	}
	// 3) e a default sobre o IP fecha o teto de MaxTargets
	if targets[2].Policy != "default" || targets[2].Principal.Kind != domain.KindAnonIP {
		t.Fatalf("expected default on anon-ip, got %+v", targets[2])
	}
}

func TestResolver_ReadsSkipIPCompanion(t *testing.T) {
	rs := testResolver(t)

	targets := rs.Resolve(domain.Envelope{
		Method: "GET", Path: "/leaderboard",
		UserID: "u1", TierRaw: "vip", IP: "1.2.3.4",
	})
	if len(targets) != 1 || targets[0].Policy != "leaderboard-read" {
		t.Fatalf("expected single leaderboard-read target, got %+v", targets)
	}
}

func TestResolver_AnonymousRequestDegradesToIP(t *testing.T) {
	rs := testResolver(t)

	// tier malformado e sem identidade: cai para anon-ip, nunca rejeita
	targets := rs.Resolve(domain.Envelope{
		Method: "GET", Path: "/qualquer", TierRaw: "garbage!!", IP: "9.9.9.9",
	})
	if len(targets) != 1 {
		t.Fatalf("expected single default target, got %d", len(targets))
	}
	pr := targets[0].Principal
	if pr.Kind != domain.KindAnonIP || pr.ID != "9.9.9.9" || pr.Tier != domain.TierAnonymous {
		t.Fatalf("expected anonymous ip principal, got %+v", pr)
	}
	if targets[0].Policy != "default" {
		t.Fatalf("expected default policy, got %s", targets[0].Policy)
	}

	// nem IP: a chave degrada para unknown
	targets = rs.Resolve(domain.Envelope{Method: "GET", Path: "/"})
	if targets[0].Principal.ID != "unknown" {
		t.Fatalf("expected unknown ip, got %q", targets[0].Principal.ID)
	}
}

func TestResolver_DeclaredClassWinsOverPath(t *testing.T) {
	rs := testResolver(t)

	targets := rs.Resolve(domain.Envelope{
		Method: "POST", Path: "/qualquer", DeclaredOp: "web3-tx",
		Wallet: "w1", TierRaw: "registered", IP: "1.1.1.1",
	})
	if targets[0].Policy != "web3-tx" || targets[0].Principal.Kind != domain.KindWallet {
		t.Fatalf("expected declared web3-tx on wallet, got %+v", targets[0])
	}

	// classe declarada inválida cai na tabela de path
	targets = rs.Resolve(domain.Envelope{
		Method: "POST", Path: "/clans/c9/join", DeclaredOp: "n/a",
		UserID: "u1", ClanID: "c9", IP: "1.1.1.1",
	})
	if targets[0].Policy != "clan-write" || targets[0].Principal.Kind != domain.KindClanMember {
		t.Fatalf("expected clan-write on clan member, got %+v", targets[0])
	}
}

func TestClassifyPath(t *testing.T) {
	cases := []struct {
		method, path string
		want         domain.OperationClass
	}{
		{"POST", "/votes/purchase", domain.OpVotePurchase},
		{"POST", "/votes", domain.OpVotingCast},
		{"GET", "/votes", domain.OpStandard},
		{"PUT", "/clans/42", domain.OpClanWrite},
		{"POST", "/tournaments/7/join", domain.OpTournament},
		{"POST", "/wallet/connect", domain.OpWalletConnect},
		{"POST", "/web3/tx", domain.OpWeb3Tx},
		{"GET", "/spl/mint", domain.OpSPL},
		{"GET", "/balance", domain.OpBalanceRead},
		{"GET", "/leaderboard/top", domain.OpLeaderboardRead},
		{"POST", "/leaderboard", domain.OpStandard},
		{"GET", "/", domain.OpStandard},
	}
	for _, c := range cases {
		if got := classifyPath(c.method, c.path); got != c.want {
			t.Fatalf("%s %s: expected %s, got %s", c.method, c.path, c.want, got)
		}
	}
}

func TestContextMultiplier(t *testing.T) {
	tournament := domain.Envelope{TournamentID: "t1"}
	session := domain.Envelope{SessionID: "s1"}

	if got := ContextMultiplier("voting-cast", tournament); got != 5.0 {
		t.Fatalf("expected x5 in tournament, got %v", got)
	}
	if got := ContextMultiplier("web3-tx", tournament); got != 1.0 {
		t.Fatalf("expected no tournament boost for web3-tx, got %v", got)
	}
	if got := ContextMultiplier("default", session); got != 1.2 {
		t.Fatalf("expected x1.2 in gaming session, got %v", got)
	}
	if got := ContextMultiplier("default", domain.Envelope{}); got != 1.0 {
		t.Fatalf("expected neutral multiplier, got %v", got)
	}
}
