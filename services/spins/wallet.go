package spins

import (
	"context"
	"errors"
	"fmt"

	"loyalty-checkin/pkg/db"
	"loyalty-checkin/services/changefeed"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNoSpinsAvailable = errors.New("no spins available")
	ErrInvalidGrant     = errors.New("grant requires a user id and a positive amount")
)

var Module = fx.Module("spins.wallet",
	fx.Provide(NewWallet),
)

type Wallet struct {
	node      *snowflake.Node
	db        *gorm.DB
	publisher changefeed.Publisher
}

type WalletParams struct {
	fx.In
	Node      *snowflake.Node
	DB        *gorm.DB             `optional:"true"`
	Publisher changefeed.Publisher `optional:"true"`
}

func NewWallet(p WalletParams) *Wallet {
	return &Wallet{node: p.Node, db: p.DB, publisher: p.Publisher}
}

// Grant credits n spins in its own transaction. Admin tooling uses it for
// goodwill credits.
func (w *Wallet) Grant(ctx context.Context, userID string, n int) (*UserSpins, error) {
	if userID == "" || n <= 0 {
		return nil, ErrInvalidGrant
	}

	ob := changefeed.NewOutbox(w.publisher)
	var row *UserSpins
	err := db.Retry(ctx, 3, db.IsRetryable, func(int) error {
		ob.Reset()
		return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			r, err := w.CreditTx(ctx, tx, ob, userID, n)
			if err != nil {
				return err
			}
			row = r
			return nil
		})
	})
	if err != nil {
		zap.L().Error("failed to grant spins", zap.String("user_id", userID), zap.Int("amount", n), zap.Error(err))
		return nil, err
	}

	ob.Flush(ctx)
	zap.L().Info("spins granted", zap.String("user_id", userID), zap.Int("amount", n))
	return row, nil
}

// CreditTx adds n spins to the user's balance inside tx, creating the row on
// first use. A concurrent first credit surfaces as gorm.ErrDuplicatedKey and
// is retried by the caller's transaction loop.
func (w *Wallet) CreditTx(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, userID string, n int) (*UserSpins, error) {
	if n < 0 {
		return nil, fmt.Errorf("credit spins: negative amount %d", n)
	}

	var before UserSpins
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&before).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := &UserSpins{
			ID:             w.node.Generate().String(),
			UserID:         userID,
			AvailableSpins: n,
			TotalEarned:    n,
		}
		if err := tx.WithContext(ctx).Create(row).Error; err != nil {
			return nil, err
		}
		ob.Insert(changefeed.TableUserSpins, userID, row)
		return row, nil
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return &before, nil
	}

	err = tx.WithContext(ctx).Model(&UserSpins{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"available_spins": gorm.Expr("available_spins + ?", n),
			"total_earned":    gorm.Expr("total_earned + ?", n),
		}).Error
	if err != nil {
		return nil, err
	}

	return w.reload(ctx, tx, ob, before)
}

// DebitTx spends one spin. It fails with ErrNoSpinsAvailable instead of
// letting the balance go negative.
func (w *Wallet) DebitTx(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, userID string) (*UserSpins, error) {
	var before UserSpins
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&before).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSpinsAvailable
		}
		return nil, err
	}

	res := tx.WithContext(ctx).Model(&UserSpins{}).
		Where("user_id = ? AND available_spins > 0", userID).
		Updates(map[string]any{
			"available_spins": gorm.Expr("available_spins - 1"),
			"total_used":      gorm.Expr("total_used + 1"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoSpinsAvailable
	}

	return w.reload(ctx, tx, ob, before)
}

func (w *Wallet) reload(ctx context.Context, tx *gorm.DB, ob *changefeed.Outbox, before UserSpins) (*UserSpins, error) {
	var after UserSpins
	if err := tx.WithContext(ctx).Where("user_id = ?", before.UserID).First(&after).Error; err != nil {
		return nil, err
	}
	ob.Update(changefeed.TableUserSpins, after.UserID, before, after)
	return &after, nil
}

// Balance reads the current row; a user who never earned spins gets zeros.
func Balance(ctx context.Context, db *gorm.DB, userID string) (UserSpins, error) {
	var row UserSpins
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserSpins{UserID: userID}, nil
	}
	return row, err
}
