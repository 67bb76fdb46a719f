package issuance

import "time"

type PrizeType string

const (
	PrizeTypeStreak   PrizeType = "streak"
	PrizeTypeRoulette PrizeType = "roulette"
)

type Source string

const (
	SourceStreak   Source = "streak"
	SourceRoulette Source = "roulette"
	SourceManual   Source = "manual"
)

// Prize is managed by admin tooling. The engine only decrements InventoryCount.
type Prize struct {
	ID              string    `gorm:"column:id;primaryKey" json:"id"`
	Type            PrizeType `gorm:"column:type;size:16;index;not null" json:"type"`
	Name            string    `gorm:"column:name;size:128;not null" json:"name"`
	StreakThreshold *int      `gorm:"column:streak_threshold" json:"streak_threshold,omitempty"`
	// InventoryCount nil means unlimited.
	InventoryCount *int      `gorm:"column:inventory_count" json:"inventory_count,omitempty"`
	Weight         int64     `gorm:"column:weight;not null;default:0" json:"weight"`
	ValidityDays   int       `gorm:"column:validity_days;not null" json:"validity_days"`
	IsActive       bool      `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt      time.Time `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Prize) TableName() string {
	return "prizes"
}

type Coupon struct {
	ID         string     `gorm:"column:id;primaryKey" json:"id"`
	UserID     string     `gorm:"column:user_id;size:64;index;not null" json:"user_id"`
	PrizeID    string     `gorm:"column:prize_id;index;not null" json:"prize_id"`
	UniqueCode string     `gorm:"column:unique_code;size:32;uniqueIndex;not null" json:"unique_code"`
	IsRedeemed bool       `gorm:"column:is_redeemed;not null;default:false" json:"is_redeemed"`
	RedeemedAt *time.Time `gorm:"column:redeemed_at" json:"redeemed_at,omitempty"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	Source     Source     `gorm:"column:source;size:16;not null" json:"source"`
	CheckInID  *string    `gorm:"column:check_in_id;index" json:"check_in_id,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Coupon) TableName() string {
	return "coupons"
}

type IssueRequest struct {
	PrizeID              string
	UserID               string
	Source               Source
	ValidityDaysOverride *int
	CheckInID            *string
}

// DrawOutcome is the result of a roulette draw. Coupon is nil for no prize.
type DrawOutcome struct {
	Coupon   *Coupon `json:"coupon,omitempty"`
	Prize    *Prize  `json:"prize,omitempty"`
	Attempts int     `json:"attempts"`
}

func (o DrawOutcome) Won() bool {
	return o.Coupon != nil
}
