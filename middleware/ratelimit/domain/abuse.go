package domain

import "time"

// PenaltyTier é a escalada de penalidade por abuso.
type PenaltyTier string

const (
	PenaltyNone    PenaltyTier = "none"
	PenaltySoft    PenaltyTier = "soft"
	PenaltyHard    PenaltyTier = "hard"
	PenaltyLockout PenaltyTier = "lockout"
)

// Penalty retorna a fração de redução de limite de cada tier.
// Lockout nega independente de contador, mas mantém a fração máxima.
func (t PenaltyTier) Penalty() float64 {
	switch t {
	case PenaltySoft:
		return 0.25
	case PenaltyHard:
		return 0.6
	case PenaltyLockout:
		return 0.95
	default:
		return 0
	}
}

// PenaltyForScore mapeia score (0..100) para tier de penalidade.
func PenaltyForScore(score float64) PenaltyTier {
	switch {
	case score >= 80:
		return PenaltyLockout
	case score >= 60:
		return PenaltyHard
	case score >= 40:
		return PenaltySoft
	default:
		return PenaltyNone
	}
}

// AbuseSnapshot é a visão imutável de um abuse record, computada sob lock e
// consumida fora dele.
type AbuseSnapshot struct {
	Principal        string
	Score            float64
	Penalty          PenaltyTier
	ConsecutiveFails int
	LockoutUntil     time.Time
	LastSeen         time.Time
}

// LockedOut reporta se o principal está em lockout ativo em now.
func (s AbuseSnapshot) LockedOut(now time.Time) bool {
	return s.Penalty == PenaltyLockout && now.Before(s.LockoutUntil)
}
