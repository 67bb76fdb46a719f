package roulette

import (
	"context"
	"errors"
	"fmt"

	"loyalty-checkin/pkg/db"
	"loyalty-checkin/pkg/errutil"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/spins"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTxAttempts = 3

var Module = fx.Module("roulette",
	fx.Provide(NewService),
)

type SpinOutcome struct {
	Coupon         *issuance.Coupon `json:"coupon,omitempty"`
	Prize          *issuance.Prize  `json:"prize,omitempty"`
	NoPrize        bool             `json:"no_prize"`
	SpinsRemaining int              `json:"spins_remaining"`
}

type Service struct {
	db        *gorm.DB
	engine    *issuance.Engine
	wallet    *spins.Wallet
	publisher changefeed.Publisher
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Engine    *issuance.Engine
	Wallet    *spins.Wallet
	Publisher changefeed.Publisher `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		engine:    p.Engine,
		wallet:    p.Wallet,
		publisher: p.Publisher,
	}
}

// Spin spends one spin and draws a roulette prize in the same transaction.
// No spin is consumed when the draw fails.
func (s *Service) Spin(ctx context.Context, userID string) (*SpinOutcome, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", userID),
	)

	if userID == "" {
		return nil, errors.New("spin: user id is required")
	}

	ob := changefeed.NewOutbox(s.publisher)
	var out *SpinOutcome
	err := db.Retry(ctx, maxTxAttempts, db.IsRetryable, func(int) error {
		ob.Reset()
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.wallet.DebitTx(ctx, tx, ob, userID)
			if err != nil {
				return err
			}
			draw, err := s.engine.DrawAndIssueTx(ctx, tx, ob, userID)
			if err != nil {
				return err
			}
			out = &SpinOutcome{
				Coupon:         draw.Coupon,
				Prize:          draw.Prize,
				NoPrize:        !draw.Won(),
				SpinsRemaining: balance.AvailableSpins,
			}
			return nil
		})
	})
	if err != nil {
		if db.IsRetryable(err) {
			err = fmt.Errorf("%w: %v", issuance.ErrTransient, err)
		}
		if errors.Is(err, spins.ErrNoSpinsAvailable) {
			zapLog.Info("spin rejected", zap.Error(err))
		} else {
			zapLog.Error("spin failed", zap.Error(err))
		}
		return nil, err
	}

	ob.Flush(ctx)
	zapLog.Info("spin completed", zap.Bool("won", !out.NoPrize))
	return out, nil
}

func ToAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, spins.ErrNoSpinsAvailable):
		return errutil.UnprocessableEntity("no spins available", spins.ErrNoSpinsAvailable)
	default:
		return issuance.ToAPIError(err)
	}
}
