package application

import (
	"strings"

	"arena-gateway/middleware/ratelimit/domain"
)

// MaxTargets é o teto de policies avaliadas por requisição.
const MaxTargets = 3

// Resolver extrai identidade, tier e classe de operação do envelope e monta
// os targets (principal, policy, classe) que o engine vai avaliar.
//
// Qualquer dado malformado degrada para anon-ip — nunca rejeita por parse.
type Resolver struct {
	Registry *Registry
}

// Resolve retorna de 1 a MaxTargets targets. Sempre há pelo menos a policy
// default sobre o IP anônimo.
func (rs Resolver) Resolve(env domain.Envelope) []domain.Target {
	class := rs.operationClass(env)
	tier := rs.tier(env)
	primary := rs.principalFor(class, env, tier)

	targets := make([]domain.Target, 0, MaxTargets)
	targets = append(targets, domain.Target{
		Principal: primary,
		Policy:    rs.policyFor(class),
		Class:     class,
	})

	// burn-to-vote é também um voto: vale voting-cast sobre o usuário.
	if class == domain.OpVotePurchase && env.UserID != "" {
		targets = append(targets, domain.Target{
			Principal: domain.Principal{Kind: domain.KindUser, ID: env.UserID, Tier: tier},
			Policy:    "voting-cast",
			Class:     domain.OpVotingCast,
		})
	}

	// operações de escrita carregam também a default sobre o IP, como última
	// linha de defesa contra farms de identidade. Leituras ficam só com a
	// policy da classe.
	if writeClass(class) && len(targets) < MaxTargets && primary.Kind != domain.KindAnonIP {
		targets = append(targets, domain.Target{
			Principal: anonPrincipal(env),
			Policy:    "default",
			Class:     domain.OpStandard,
		})
	}
	return targets
}

func writeClass(class domain.OperationClass) bool {
	switch class {
	case domain.OpVotingCast, domain.OpVotePurchase, domain.OpClanWrite,
		domain.OpTournament, domain.OpWalletConnect, domain.OpWeb3Tx, domain.OpSPL:
		return true
	}
	return false
}

// ContextMultiplier retorna o fator de contexto de uma policy/classe.
//
//   - torneio ativo: x5 em voting-cast, clan-write e tournament-action
//   - sessão de jogo ativa: x1.2 em default e leaderboard-read
//   - modo competitivo: sem multiplicador (só remove bypass de admin)
func ContextMultiplier(policy string, env domain.Envelope) float64 {
	if env.HasTournament() {
		switch policy {
		case "voting-cast", "clan-write", "tournament-action":
			return 5.0
		}
	}
	if env.HasGamingSession() {
		switch policy {
		case "default", "leaderboard-read":
			return 1.2
		}
	}
	return 1.0
}

func (rs Resolver) tier(env domain.Envelope) domain.Tier {
	fallback := domain.TierAnonymous
	if env.UserID != "" {
		fallback = domain.TierRegistered
	}
	return domain.ParseTier(env.TierRaw, fallback)
}

// principalFor escolhe a identidade mais específica disponível para a classe.
func (rs Resolver) principalFor(class domain.OperationClass, env domain.Envelope, tier domain.Tier) domain.Principal {
	switch class {
	case domain.OpWeb3Tx, domain.OpVotePurchase, domain.OpSPL, domain.OpWalletConnect:
		if env.Wallet != "" {
			return domain.Principal{Kind: domain.KindWallet, ID: env.Wallet, Tier: tier}
		}
	case domain.OpClanWrite:
		if env.ClanID != "" && env.UserID != "" {
			return domain.Principal{Kind: domain.KindClanMember, ID: env.UserID, Tier: tier}
		}
	}
	if env.UserID != "" {
		return domain.Principal{Kind: domain.KindUser, ID: env.UserID, Tier: tier}
	}
	if env.SessionID != "" {
		return domain.Principal{Kind: domain.KindSession, ID: env.SessionID, Tier: tier}
	}
	return anonPrincipal(env)
}

// policyFor mapeia classe -> policy registrada; classe sem policy própria usa
// a default.
func (rs Resolver) policyFor(class domain.OperationClass) string {
	name := string(class)
	if rs.Registry != nil {
		if _, ok := rs.Registry.Get(name); ok {
			return name
		}
	}
	return "default"
}

// operationClass detecta a classe da operação: a declarada no envelope tem
// preferência quando válida; senão cai na tabela de path/método.
func (rs Resolver) operationClass(env domain.Envelope) domain.OperationClass {
	if env.DeclaredOp != "" {
		if c, ok := domain.ParseOperationClass(env.DeclaredOp); ok {
			return c
		}
	}
	return classifyPath(env.Method, env.Path)
}

func classifyPath(method, path string) domain.OperationClass {
	p := strings.ToLower(strings.TrimSpace(path))
	m := strings.ToUpper(strings.TrimSpace(method))
	write := m == "POST" || m == "PUT" || m == "PATCH" || m == "DELETE"

	switch {
	case strings.HasPrefix(p, "/votes/purchase"), strings.HasPrefix(p, "/votes/burn"):
		if write {
			return domain.OpVotePurchase
		}
	case strings.HasPrefix(p, "/votes"):
		if write {
			return domain.OpVotingCast
		}
	case strings.HasPrefix(p, "/clans"):
		if write {
			return domain.OpClanWrite
		}
	case strings.HasPrefix(p, "/tournaments"):
		if write {
			return domain.OpTournament
		}
	case strings.HasPrefix(p, "/wallet/connect"):
		if write {
			return domain.OpWalletConnect
		}
	case strings.HasPrefix(p, "/web3/tx"), strings.HasPrefix(p, "/web3/transactions"):
		if write {
			return domain.OpWeb3Tx
		}
	case strings.HasPrefix(p, "/spl"):
		return domain.OpSPL
	case strings.HasPrefix(p, "/balance"):
		if m == "GET" {
			return domain.OpBalanceRead
		}
	case strings.HasPrefix(p, "/leaderboard"):
		if m == "GET" {
			return domain.OpLeaderboardRead
		}
	}
	return domain.OpStandard
}

func anonPrincipal(env domain.Envelope) domain.Principal {
	ip := strings.TrimSpace(env.IP)
	if ip == "" {
		ip = "unknown"
	}
	return domain.Principal{Kind: domain.KindAnonIP, ID: ip, Tier: domain.TierAnonymous}
}
