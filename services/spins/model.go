package spins

import "time"

// UserSpins keeps AvailableSpins = TotalEarned - TotalUsed; every write
// touches the affected columns in one statement.
type UserSpins struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;size:64;uniqueIndex;not null" json:"user_id"`
	AvailableSpins int       `gorm:"column:available_spins;not null;default:0" json:"available_spins"`
	TotalEarned    int       `gorm:"column:total_earned;not null;default:0" json:"total_earned"`
	TotalUsed      int       `gorm:"column:total_used;not null;default:0" json:"total_used"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (UserSpins) TableName() string {
	return "user_spins"
}
