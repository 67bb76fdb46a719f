package readmodel

import (
	"time"

	"loyalty-checkin/services/streak"
)

type Kind string

const (
	KindStreak       Kind = "streak"
	KindSpins        Kind = "spins"
	KindProfileStats Kind = "profile_stats"
	KindCoupons      Kind = "coupons"
)

var AllKinds = []Kind{KindStreak, KindSpins, KindProfileStats, KindCoupons}

type StreakView struct {
	Stage          streak.Stage `json:"stage"`
	CurrentCount   int          `json:"current_count"`
	MaxCount       int          `json:"max_count"`
	CompletedCount int          `json:"completed_count"`
	IsCompleted    bool         `json:"is_completed"`
	LastCheckIn    string       `json:"last_check_in,omitempty"`
	StartedOn      string       `json:"started_on,omitempty"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	// NextThreshold is the next unlock count, 0 when none is left.
	NextThreshold int `json:"next_threshold,omitempty"`
}

type SpinsView struct {
	AvailableSpins int `json:"available_spins"`
	TotalEarned    int `json:"total_earned"`
	TotalUsed      int `json:"total_used"`
}

type ProfileStats struct {
	TotalCheckIns   int64  `json:"total_check_ins"`
	CurrentStreak   int    `json:"current_streak"`
	MaxStreak       int    `json:"max_streak"`
	CompletedCount  int    `json:"completed_count"`
	AvailableSpins  int    `json:"available_spins"`
	ActiveCoupons   int64  `json:"active_coupons"`
	RedeemedCoupons int64  `json:"redeemed_coupons"`
	LastCheckIn     string `json:"last_check_in,omitempty"`
}
