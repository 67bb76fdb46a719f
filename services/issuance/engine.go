package issuance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"loyalty-checkin/pkg/db"
	"loyalty-checkin/pkg/sequence"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/settings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// MaxDrawAttempts bounds how often a roulette draw is repeated after the
	// chosen prize ran out between draw and issuance.
	MaxDrawAttempts = 3
	maxTxAttempts   = 3
)

type Engine struct {
	db        *gorm.DB
	node      *snowflake.Node
	seq       sequence.Generator
	settings  settings.Provider
	publisher changefeed.Publisher
	now       func() time.Time
	randN     func(n int64) int64
}

type EngineParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Seq       sequence.Generator
	Settings  settings.Provider
	Publisher changefeed.Publisher `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		db:        p.DB,
		node:      p.Node,
		seq:       p.Seq,
		settings:  p.Settings,
		publisher: p.Publisher,
		now:       time.Now,
		randN:     rand.Int64N,
	}
}

// Issue runs IssueTx in its own transaction and publishes the coupon after
// commit. Manual grants from admin tooling go through here.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*Coupon, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("prize_id", req.PrizeID),
		zap.String("user_id", req.UserID),
	)

	ob := changefeed.NewOutbox(e.publisher)
	var coupon *Coupon
	err := db.Retry(ctx, maxTxAttempts, db.IsRetryable, func(attempt int) error {
		ob.Reset()
		return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := e.IssueTx(ctx, tx, ob, req)
			if err != nil {
				return err
			}
			coupon = c
			return nil
		})
	})
	if err != nil {
		err = transient(err)
		if errors.Is(err, ErrOutOfStock) || errors.Is(err, ErrPrizeInactive) {
			zapLog.Info("coupon not issued", zap.Error(err))
		} else {
			zapLog.Error("failed to issue coupon", zap.Error(err))
		}
		return nil, err
	}

	ob.Flush(ctx)
	return coupon, nil
}

// IssueTx decrements limited inventory and inserts the coupon inside tx. A
// failed insert rolls the decrement back with the caller's transaction.
func (e *Engine) IssueTx(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, req IssueRequest) (*Coupon, error) {
	if req.PrizeID == "" || req.UserID == "" {
		return nil, fmt.Errorf("issue: prize id and user id are required")
	}
	if req.Source == "" {
		req.Source = SourceManual
	}

	var prize Prize
	if err := tx.WithContext(ctx).Where("id = ?", req.PrizeID).First(&prize).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrizeNotFound
		}
		return nil, err
	}
	if !prize.IsActive {
		outOfStock.WithLabelValues(string(req.Source), "inactive").Inc()
		return nil, ErrPrizeInactive
	}

	if prize.InventoryCount != nil {
		res := tx.WithContext(ctx).Model(&Prize{}).
			Where("id = ? AND inventory_count > 0", prize.ID).
			Update("inventory_count", gorm.Expr("inventory_count - 1"))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			outOfStock.WithLabelValues(string(req.Source), "out_of_stock").Inc()
			return nil, ErrOutOfStock
		}
	}

	validity := prize.ValidityDays
	if req.ValidityDaysOverride != nil {
		validity = *req.ValidityDaysOverride
	}

	code, err := e.seq.NextCouponCode(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	coupon := &Coupon{
		ID:         e.node.Generate().String(),
		UserID:     req.UserID,
		PrizeID:    prize.ID,
		UniqueCode: code,
		ExpiresAt:  now.AddDate(0, 0, validity),
		Source:     req.Source,
		CheckInID:  req.CheckInID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(coupon).Error; err != nil {
		return nil, err
	}

	ob.Insert(changefeed.TableCoupons, coupon.UserID, coupon)
	couponsIssued.WithLabelValues(string(req.Source)).Inc()
	return coupon, nil
}

// StreakPrizesTx lists active streak prizes in creation order.
func (e *Engine) StreakPrizesTx(ctx context.Context, tx *gorm.DB) ([]Prize, error) {
	var prizes []Prize
	err := tx.WithContext(ctx).
		Where("type = ? AND is_active = ? AND streak_threshold IS NOT NULL", PrizeTypeStreak, true).
		Order("created_at ASC, id ASC").
		Find(&prizes).Error
	return prizes, err
}

// transient marks exhausted retries so callers can tell them from hard failures.
func transient(err error) error {
	if db.IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
