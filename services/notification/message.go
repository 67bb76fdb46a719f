package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindCheckInRecorded      Kind = "check_in_recorded"
	KindStreakRewardUnlocked Kind = "streak_reward_unlocked"
	KindRoulettePrizeWon     Kind = "roulette_prize_won"
	KindCouponGranted        Kind = "coupon_granted"
	KindCouponRedeemed       Kind = "coupon_redeemed"
	KindStreakCompleted      Kind = "streak_completed"
)

// Event is a typed domain event derived from one logical row change.
type Event struct {
	Kind   Kind
	UserID string
	// Key identifies the logical change, e.g. "coupon_redeemed:<coupon id>".
	Key  string
	Data map[string]any
}

type Message struct {
	ID     string         `json:"id"`
	Kind   Kind           `json:"kind"`
	UserID string         `json:"user_id"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
	Delay  time.Duration  `json:"-"`
}

type Mapper struct {
	RouletteRevealDelay time.Duration
}

// Map turns a domain event into the message shown to the user. Unknown kinds
// are not displayed.
func (m Mapper) Map(evt Event) (Message, bool) {
	msg := Message{
		ID:     uuid.NewString(),
		Kind:   evt.Kind,
		UserID: evt.UserID,
		Data:   evt.Data,
	}

	switch evt.Kind {
	case KindCheckInRecorded:
		msg.Title = "Check-in recorded"
		msg.Body = "Thanks for visiting! Your spins have been added."
		if n, ok := evt.Data["spins_earned"]; ok {
			msg.Body = fmt.Sprintf("Thanks for visiting! You earned %v spin(s).", n)
		}
	case KindStreakRewardUnlocked:
		msg.Title = "Streak reward unlocked"
		msg.Body = "You reached a streak milestone. A new coupon is waiting in your wallet."
	case KindRoulettePrizeWon:
		msg.Title = "You won!"
		msg.Body = "Your roulette prize has been added to your coupons."
		msg.Delay = m.RouletteRevealDelay
	case KindCouponGranted:
		msg.Title = "New coupon"
		msg.Body = "A coupon has been added to your wallet."
	case KindCouponRedeemed:
		msg.Title = "Coupon redeemed"
		msg.Body = "Enjoy your reward!"
		if code, ok := evt.Data["unique_code"]; ok {
			msg.Body = fmt.Sprintf("Coupon %v has been redeemed. Enjoy your reward!", code)
		}
	case KindStreakCompleted:
		msg.Title = "Streak completed"
		msg.Body = "You completed every streak milestone. Keep visiting to stay on top."
	default:
		return Message{}, false
	}
	return msg, true
}
