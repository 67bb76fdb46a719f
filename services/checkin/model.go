package checkin

import (
	"time"

	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/streak"

	"gorm.io/datatypes"
)

// CheckIn is immutable once written. (user_id, check_in_date) is unique.
type CheckIn struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	UserID      string         `gorm:"column:user_id;size:64;not null;uniqueIndex:idx_check_ins_user_day,priority:1" json:"user_id"`
	BranchID    string         `gorm:"column:branch_id;size:64;not null;index:idx_check_ins_branch_day,priority:1" json:"branch_id"`
	VerifiedBy  *string        `gorm:"column:verified_by;size:64" json:"verified_by,omitempty"`
	SpinsEarned int            `gorm:"column:spins_earned;not null" json:"spins_earned"`
	CheckInDate string         `gorm:"column:check_in_date;size:10;not null;uniqueIndex:idx_check_ins_user_day,priority:2;index:idx_check_ins_branch_day,priority:2" json:"check_in_date"`
	Result      datatypes.JSON `gorm:"column:result" json:"-"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (CheckIn) TableName() string {
	return "check_ins"
}

type Branch struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;size:128;not null" json:"name"`
	IsActive  bool      `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Branch) TableName() string {
	return "branches"
}

type Request struct {
	UserID     string  `json:"-"`
	BranchID   string  `json:"branch_id" binding:"required"`
	VerifiedBy *string `json:"verified_by,omitempty"`
}

type StreakResult struct {
	Previous         streak.Stage `json:"previous"`
	Stage            streak.Stage `json:"stage"`
	CurrentCount     int          `json:"current_count"`
	MaxCount         int          `json:"max_count"`
	CompletedCount   int          `json:"completed_count"`
	IsCompleted      bool         `json:"is_completed"`
	IsJustCompleted  bool         `json:"is_just_completed"`
	CrossedThreshold int          `json:"crossed_threshold,omitempty"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

// Result is what a check-in produced. It is stored with the CheckIn row so a
// repeated request returns the same payload.
type Result struct {
	Streak      StreakResult      `json:"streak"`
	SpinsEarned int               `json:"spins_earned"`
	Coupons     []issuance.Coupon `json:"coupons"`
	// Unfulfilled lists unlocked prizes that had no stock left.
	Unfulfilled []string `json:"unfulfilled_prize_ids,omitempty"`
}

type Outcome struct {
	CheckIn  CheckIn `json:"check_in"`
	Result   Result  `json:"result"`
	Replayed bool    `json:"replayed"`
}
