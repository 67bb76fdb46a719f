package realtime

import (
	"fmt"

	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/notification"
	"loyalty-checkin/services/readmodel"
)

// Command is produced by Route and applied by the session loop.
type Command interface {
	isCommand()
}

// Invalidate marks read models of the session user as stale.
type Invalidate struct {
	Kinds []readmodel.Kind
}

// Notify asks for one user-facing notification. Event.Key identifies the
// logical change so repeated deliveries can be dropped.
type Notify struct {
	Event notification.Event
}

func (Invalidate) isCommand() {}
func (Notify) isCommand()     {}

// Route maps one change event to the commands it triggers. It has no side
// effects.
func Route(evt changefeed.ChangeEvent) []Command {
	id := evt.RowID()

	switch evt.Table {
	case changefeed.TableCheckIns:
		if evt.Type != changefeed.TypeInsert {
			return nil
		}
		return []Command{
			Invalidate{Kinds: []readmodel.Kind{readmodel.KindStreak, readmodel.KindSpins, readmodel.KindProfileStats}},
			Notify{Event: notification.Event{
				Kind:   notification.KindCheckInRecorded,
				UserID: evt.UserID,
				Key:    "check_in:" + id,
				Data: map[string]any{
					"check_in_id":  id,
					"branch_id":    evt.New.String("branch_id"),
					"spins_earned": evt.New["spins_earned"],
				},
			}},
		}

	case changefeed.TableCoupons:
		invalidate := Invalidate{Kinds: []readmodel.Kind{readmodel.KindCoupons, readmodel.KindProfileStats}}
		data := map[string]any{
			"coupon_id":   id,
			"prize_id":    evt.New.String("prize_id"),
			"unique_code": evt.New.String("unique_code"),
		}
		switch evt.Type {
		case changefeed.TypeInsert:
			return []Command{invalidate, Notify{Event: notification.Event{
				Kind:   couponKind(issuance.Source(evt.New.String("source"))),
				UserID: evt.UserID,
				Key:    "coupon_issued:" + id,
				Data:   data,
			}}}
		case changefeed.TypeUpdate:
			if evt.New.Bool("is_redeemed") && !evt.Old.Bool("is_redeemed") {
				return []Command{invalidate, Notify{Event: notification.Event{
					Kind:   notification.KindCouponRedeemed,
					UserID: evt.UserID,
					Key:    "coupon_redeemed:" + id,
					Data:   data,
				}}}
			}
			return []Command{invalidate}
		}

	case changefeed.TableUserSpins:
		return []Command{Invalidate{Kinds: []readmodel.Kind{readmodel.KindSpins}}}

	case changefeed.TableStreakRecords:
		cmds := []Command{Invalidate{Kinds: []readmodel.Kind{readmodel.KindStreak, readmodel.KindProfileStats}}}
		if evt.New.Bool("is_completed") && !evt.Old.Bool("is_completed") {
			cmds = append(cmds, Notify{Event: notification.Event{
				Kind:   notification.KindStreakCompleted,
				UserID: evt.UserID,
				Key:    fmt.Sprintf("streak_completed:%s:%s", id, evt.New.String("completed_count")),
				Data: map[string]any{
					"current_count":   evt.New["current_count"],
					"completed_count": evt.New["completed_count"],
				},
			}})
		}
		return cmds
	}
	return nil
}

func couponKind(src issuance.Source) notification.Kind {
	switch src {
	case issuance.SourceStreak:
		return notification.KindStreakRewardUnlocked
	case issuance.SourceRoulette:
		return notification.KindRoulettePrizeWon
	default:
		return notification.KindCouponGranted
	}
}
