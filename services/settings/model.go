package settings

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	KeyStreakBreakDays    = "streak_break_days"
	KeyStreakExpiryDays   = "streak_expiry_days"
	KeyCheckInSpins       = "checkin_points_daily"
	KeyMaxCheckInsPerDay  = "max_checkins_per_day"
	KeyTimezone           = "timezone"
	KeyRouletteLoseWeight = "roulette_lose_weight"
)

// Setting is one row of the key/value table shared with the admin tooling.
type Setting struct {
	Key       string    `gorm:"column:key;primaryKey;size:64"`
	Value     string    `gorm:"column:value;size:255;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// Settings is the typed view every component reads.
type Settings struct {
	StreakBreakDays    int
	StreakExpiryDays   int
	CheckInSpins       int
	MaxCheckInsPerDay  int
	RouletteLoseWeight int64
	Location           *time.Location
}

func Defaults(loc *time.Location) Settings {
	if loc == nil {
		loc = time.UTC
	}
	return Settings{
		StreakBreakDays:    12,
		StreakExpiryDays:   90,
		CheckInSpins:       1,
		MaxCheckInsPerDay:  0,
		RouletteLoseWeight: 0,
		Location:           loc,
	}
}

var (
	ErrUnknownKey   = errors.New("unknown setting key")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Validate checks a value before it is stored.
func Validate(key, value string) error {
	switch key {
	case KeyStreakBreakDays, KeyStreakExpiryDays, KeyCheckInSpins, KeyMaxCheckInsPerDay, KeyRouletteLoseWeight:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidValue, key)
		}
	case KeyTimezone:
		if _, err := time.LoadLocation(value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}
