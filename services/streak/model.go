package streak

import "time"

// Record is the persisted streak row, one per user.
type Record struct {
	ID           string `gorm:"column:id;primaryKey" json:"id"`
	UserID       string `gorm:"column:user_id;size:64;uniqueIndex;not null" json:"user_id"`
	CurrentCount int    `gorm:"column:current_count;not null;default:0" json:"current_count"`
	MaxCount     int    `gorm:"column:max_count;not null;default:0" json:"max_count"`
	LastCheckIn  string `gorm:"column:last_check_in;size:10" json:"last_check_in"`
	StartedOn    string `gorm:"column:started_on;size:10" json:"started_on"`
	// ExpiresAt is informational. Expiry is decided from StartedOn and the
	// policy in force at check-in time.
	ExpiresAt      time.Time `gorm:"column:expires_at" json:"expires_at"`
	IsCompleted    bool      `gorm:"column:is_completed;not null;default:false" json:"is_completed"`
	CompletedCount int       `gorm:"column:completed_count;not null;default:0" json:"completed_count"`
	Version        int64     `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Record) TableName() string {
	return "streak_records"
}

type Kind string

const (
	KindFresh     Kind = "fresh"
	KindActive    Kind = "active"
	KindBroken    Kind = "broken"
	KindExpired   Kind = "expired"
	KindCompleted Kind = "completed"
)

// Stage is the explicit streak state. Count is only meaningful for active and
// completed stages.
type Stage struct {
	Kind  Kind `json:"kind"`
	Count int  `json:"count"`
}

func Fresh() Stage          { return Stage{Kind: KindFresh} }
func Active(n int) Stage    { return Stage{Kind: KindActive, Count: n} }
func Broken() Stage         { return Stage{Kind: KindBroken} }
func Expired() Stage        { return Stage{Kind: KindExpired} }
func Completed(n int) Stage { return Stage{Kind: KindCompleted, Count: n} }

// Policy holds the day windows from settings.
type Policy struct {
	BreakDays  int
	ExpiryDays int
}
