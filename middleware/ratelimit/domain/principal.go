package domain

import "strings"

// PrincipalKind identifica como a requisição foi atribuída a uma identidade.
type PrincipalKind string

const (
	KindAnonIP     PrincipalKind = "anon-ip"
	KindUser       PrincipalKind = "user"
	KindWallet     PrincipalKind = "wallet"
	KindSession    PrincipalKind = "session"
	KindClanMember PrincipalKind = "clan-member"
)

// Tier é a classe do principal; determina o multiplicador base de limite.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierRegistered Tier = "registered"
	TierPremium    Tier = "premium"
	TierVIP        Tier = "vip"
	TierTournament Tier = "tournament"
	TierClanLeader Tier = "clan-leader"
	TierModerator  Tier = "moderator"
	TierAdmin      Tier = "admin"
)

// tierMultipliers é a tabela canônica de multiplicadores por tier.
var tierMultipliers = map[Tier]float64{
	TierAnonymous:  0.5,
	TierRegistered: 1.0,
	TierPremium:    2.0,
	TierVIP:        3.0,
	TierTournament: 5.0,
	TierClanLeader: 2.5,
	TierModerator:  8.0,
	TierAdmin:      20.0,
}

// ParseTier normaliza o valor vindo do envelope.
// Valores desconhecidos caem para o tier informado em fallback.
func ParseTier(v string, fallback Tier) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := tierMultipliers[t]; ok {
		return t
	}
	return fallback
}

// Multiplier retorna o fator do tier (0.5..20.0). Tier desconhecido vale 1.0.
func (t Tier) Multiplier() float64 {
	if m, ok := tierMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// Principal é a identidade atribuída a uma requisição.
type Principal struct {
	Kind PrincipalKind
	ID   string
	Tier Tier
}

// Key retorna a forma canônica "kind:id" usada em contadores e abuse records.
func (p Principal) Key() string {
	return string(p.Kind) + ":" + p.ID
}

// IsAdmin reporta se o principal tem papel administrativo.
func (p Principal) IsAdmin() bool { return p.Tier == TierAdmin }

// OperationClass é a categoria semântica da ação requisitada.
type OperationClass string

const (
	OpStandard        OperationClass = "standard"
	OpVotingCast      OperationClass = "voting-cast"
	OpVotePurchase    OperationClass = "vote-purchase-burn"
	OpClanWrite       OperationClass = "clan-write"
	OpTournament      OperationClass = "tournament-action"
	OpWalletConnect   OperationClass = "wallet-connect"
	OpWeb3Tx          OperationClass = "web3-tx"
	OpSPL             OperationClass = "spl-op"
	OpBalanceRead     OperationClass = "balance-read"
	OpLeaderboardRead OperationClass = "leaderboard-read"
)

var operationClasses = map[OperationClass]bool{
	OpStandard: true, OpVotingCast: true, OpVotePurchase: true,
	OpClanWrite: true, OpTournament: true, OpWalletConnect: true,
	OpWeb3Tx: true, OpSPL: true, OpBalanceRead: true, OpLeaderboardRead: true,
}

// ParseOperationClass valida uma classe declarada no envelope.
func ParseOperationClass(v string) (OperationClass, bool) {
	c := OperationClass(strings.ToLower(strings.TrimSpace(v)))
	return c, operationClasses[c]
}

// OperationClasses enumera todas as classes conhecidas (ordem indefinida).
func OperationClasses() []OperationClass {
	out := make([]OperationClass, 0, len(operationClasses))
	for c := range operationClasses {
		out = append(out, c)
	}
	return out
}

// highRisk é a tabela estática de classes que falham fechadas quando o
// counter store não responde (ou quando o engine degrada).
var highRisk = map[OperationClass]bool{
	OpVotePurchase: true,
	OpWeb3Tx:       true,
	OpVotingCast:   true,
}

// FailsClosed reporta se a classe deve ser negada quando não há como decidir.
// Todo o resto falha aberto (inclui balance-read e leaderboard-read).
func (c OperationClass) FailsClosed() bool { return highRisk[c] }

// highCost marca operações caras para o sinal de abuso de alto custo.
var highCost = map[OperationClass]bool{
	OpWeb3Tx:       true,
	OpVotePurchase: true,
}

// HighCost reporta se a classe conta para o sinal de frequência de alto custo.
func (c OperationClass) HighCost() bool { return highCost[c] }

// CompetitiveIntegritySet são as operações em que bypass de admin nunca vale
// (modo competitivo e emergência preservam a regra de integridade).
// Configurável via engine; este é o default.
func CompetitiveIntegritySet() map[OperationClass]bool {
	return map[OperationClass]bool{
		OpVotingCast:   true,
		OpClanWrite:    true,
		OpVotePurchase: true,
	}
}
