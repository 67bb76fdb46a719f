package spins

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"loyalty-checkin/services/changefeed"
	"loyalty-checkin/services/testutil"
)

func newTestWallet(t *testing.T) (*Wallet, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &UserSpins{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewWallet(WalletParams{Node: node}), db
}

func requireBalanced(t *testing.T, row UserSpins) {
	t.Helper()
	require.Equal(t, row.TotalEarned-row.TotalUsed, row.AvailableSpins)
	require.GreaterOrEqual(t, row.AvailableSpins, 0)
}

func TestWallet_CreditAndDebitKeepBalance(t *testing.T) {
	w, db := newTestWallet(t)
	ctx := context.Background()
	ob := changefeed.NewOutbox(nil)

	ops := []struct {
		credit int
		debit  bool
	}{
		{credit: 2}, {debit: true}, {credit: 1}, {debit: true}, {debit: true}, {credit: 3}, {debit: true},
	}
	for _, op := range ops {
		err := db.Transaction(func(tx *gorm.DB) error {
			if op.debit {
				_, err := w.DebitTx(ctx, tx, ob, "u1")
				return err
			}
			_, err := w.CreditTx(ctx, tx, ob, "u1", op.credit)
			return err
		})
		require.NoError(t, err)

		row, err := Balance(ctx, db, "u1")
		require.NoError(t, err)
		requireBalanced(t, row)
	}

	row, err := Balance(ctx, db, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, row.AvailableSpins)
	require.Equal(t, 6, row.TotalEarned)
	require.Equal(t, 4, row.TotalUsed)

	pending := ob.Pending()
	require.Len(t, pending, len(ops))
	require.Equal(t, changefeed.TypeInsert, pending[0].Type)
	require.Equal(t, changefeed.TypeUpdate, pending[1].Type)
}

func TestWallet_DebitEmpty(t *testing.T) {
	w, db := newTestWallet(t)
	ctx := context.Background()

	_, err := w.DebitTx(ctx, db, nil, "nobody")
	require.ErrorIs(t, err, ErrNoSpinsAvailable)

	_, err = w.CreditTx(ctx, db, nil, "u1", 1)
	require.NoError(t, err)
	_, err = w.DebitTx(ctx, db, nil, "u1")
	require.NoError(t, err)
	_, err = w.DebitTx(ctx, db, nil, "u1")
	require.ErrorIs(t, err, ErrNoSpinsAvailable)

	row, err := Balance(ctx, db, "u1")
	require.NoError(t, err)
	requireBalanced(t, row)
	require.Equal(t, 1, row.TotalUsed)
}

func TestWallet_RejectsNegativeCredit(t *testing.T) {
	w, db := newTestWallet(t)
	_, err := w.CreditTx(context.Background(), db, nil, "u1", -1)
	require.Error(t, err)
}

func TestWallet_Grant(t *testing.T) {
	db := testutil.NewTestDB(t, &UserSpins{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	hub := changefeed.NewHub("public")
	w := NewWallet(WalletParams{Node: node, DB: db, Publisher: hub})
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, changefeed.Filter{Tables: []string{changefeed.TableUserSpins}, UserID: "u1"})
	require.NoError(t, err)
	defer sub.Close()

	row, err := w.Grant(ctx, "u1", 3)
	require.NoError(t, err)
	require.Equal(t, 3, row.AvailableSpins)
	require.Equal(t, changefeed.TypeInsert, (<-sub.Events()).Type)

	_, err = w.Grant(ctx, "u1", 0)
	require.ErrorIs(t, err, ErrInvalidGrant)
}
