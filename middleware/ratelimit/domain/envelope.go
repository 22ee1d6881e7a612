package domain

// Envelope é a visão imutável da requisição usada pelo resolver e pelo engine.
//
// Ele é propositalmente agnóstico de HTTP: o adapter (middleware) preenche os
// campos a partir de *http.Request; testes podem construir envelopes direto.
type Envelope struct {
	IP            string
	Authorization string
	UserID        string
	Wallet        string
	SessionID     string
	TournamentID  string
	ClanID        string
	TierRaw       string

	Method     string
	Path       string
	DeclaredOp string

	// TokensBurned alimenta o custo progressivo de vote-purchase-burn.
	TokensBurned int64

	// Competitive remove bypass de admin nas operações de integridade.
	Competitive bool
}

// HasGamingSession reporta se há sessão de jogo ativa no envelope.
func (e Envelope) HasGamingSession() bool { return e.SessionID != "" }

// HasTournament reporta se a requisição está em contexto de torneio.
func (e Envelope) HasTournament() bool { return e.TournamentID != "" }
