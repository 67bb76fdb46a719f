package roulette

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loyalty-checkin/pkg/errutil"
	"loyalty-checkin/pkg/sequence"
	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/issuance"
	"loyalty-checkin/services/settings"
	"loyalty-checkin/services/spins"
	"loyalty-checkin/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type settingsStub struct {
	s settings.Settings
}

func (s settingsStub) Get(context.Context) (settings.Settings, error) {
	return s.s, nil
}

func newTestService(t *testing.T, s settings.Settings) (*Service, *gorm.DB, *spins.Wallet) {
	t.Helper()

	db := testutil.NewTestDB(t, &issuance.Prize{}, &issuance.Coupon{}, &spins.UserSpins{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	hub := changefeed.NewHub("public")
	engine := issuance.NewEngine(issuance.EngineParams{
		DB:        db,
		Node:      node,
		Seq:       sequence.RandomGenerator{},
		Settings:  settingsStub{s: s},
		Publisher: hub,
	})
	wallet := spins.NewWallet(spins.WalletParams{Node: node})

	return NewService(ServiceParams{DB: db, Engine: engine, Wallet: wallet, Publisher: hub}), db, wallet
}

func credit(t *testing.T, db *gorm.DB, w *spins.Wallet, userID string, n int) {
	t.Helper()
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := w.CreditTx(context.Background(), tx, nil, userID, n)
		return err
	})
	require.NoError(t, err)
}

func TestSpin_WinsAndDebits(t *testing.T) {
	svc, db, wallet := newTestService(t, settings.Defaults(time.UTC))
	ctx := context.Background()

	require.NoError(t, db.Create(&issuance.Prize{
		ID: "p1", Type: issuance.PrizeTypeRoulette, Name: "coffee", Weight: 1, ValidityDays: 7, IsActive: true,
	}).Error)
	credit(t, db, wallet, "u1", 2)

	out, err := svc.Spin(ctx, "u1")
	require.NoError(t, err)
	require.False(t, out.NoPrize)
	require.Equal(t, "p1", out.Coupon.PrizeID)
	require.Equal(t, issuance.SourceRoulette, out.Coupon.Source)
	require.Equal(t, 1, out.SpinsRemaining)

	balance, err := spins.Balance(ctx, db, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, balance.TotalUsed)
	require.Equal(t, balance.TotalEarned-balance.TotalUsed, balance.AvailableSpins)
}

func TestSpin_NoSpinsAvailable(t *testing.T) {
	svc, db, wallet := newTestService(t, settings.Defaults(time.UTC))
	ctx := context.Background()

	_, err := svc.Spin(ctx, "u1")
	require.ErrorIs(t, err, spins.ErrNoSpinsAvailable)

	credit(t, db, wallet, "u1", 1)
	_, err = svc.Spin(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.Spin(ctx, "u1")
	require.ErrorIs(t, err, spins.ErrNoSpinsAvailable)

	var be errutil.BaseError
	require.ErrorAs(t, ToAPIError(err), &be)
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestSpin_NoPrizeStillConsumesSpin(t *testing.T) {
	s := settings.Defaults(time.UTC)
	s.RouletteLoseWeight = 1
	svc, db, wallet := newTestService(t, s)
	credit(t, db, wallet, "u1", 1)

	out, err := svc.Spin(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, out.NoPrize)
	require.Nil(t, out.Coupon)
	require.Equal(t, 0, out.SpinsRemaining)
}
