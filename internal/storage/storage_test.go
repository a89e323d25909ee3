package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "w1", t0)
	require.NoError(t, err)

	_, err = s.CreateAccount(ctx, "w1", t0)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.GetAccount(ctx, "w2")
	assert.ErrorIs(t, err, ErrNotFound)

	until := t0.Add(6 * time.Hour)
	acc := &Account{
		WalletID:        "w1",
		ROIPerDay:       decimal.RequireFromString("5.5"),
		PendingEarnings: decimal.RequireFromString("0.2083333333"),
		LastAccrualAt:   t0.Add(time.Hour + 250*time.Millisecond),
		AccrueUntil:     &until,
		LifetimeAccrued: decimal.RequireFromString("1.2083333333"),
		TotalClaimed:    decimal.NewFromInt(1),
	}
	require.NoError(t, s.UpdateLedger(ctx, acc))

	got, err := s.GetAccount(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, acc.PendingEarnings.Equal(got.PendingEarnings))
	assert.True(t, acc.ROIPerDay.Equal(got.ROIPerDay))
	assert.True(t, acc.LifetimeAccrued.Equal(got.LifetimeAccrued))
	assert.True(t, acc.LastAccrualAt.Equal(got.LastAccrualAt))
	require.NotNil(t, got.AccrueUntil)
	assert.True(t, until.Equal(*got.AccrueUntil))
	assert.Equal(t, 1, got.ShipLevel)

	acc.WalletID = "w2"
	assert.ErrorIs(t, s.UpdateLedger(ctx, acc), ErrNotFound)
}

func TestSlots(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "w1", t0)
	require.NoError(t, err)

	a := &Alien{WalletID: "w1", AlienType: 3, Tier: "epic", ROIPerDay: decimal.NewFromInt(2), CreatedAt: t0}
	b := &Alien{WalletID: "w1", AlienType: 1, Tier: "common", ROIPerDay: decimal.NewFromInt(1), CreatedAt: t0}
	require.NoError(t, s.InsertAlien(ctx, a))
	require.NoError(t, s.InsertAlien(ctx, b))
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, s.InsertSlot(ctx, "w1", 1, a.ID, t0))
	assert.ErrorIs(t, s.InsertSlot(ctx, "w1", 1, b.ID, t0), ErrAlreadyExists)
	assert.ErrorIs(t, s.InsertSlot(ctx, "w1", 0, a.ID, t0), ErrAlreadyExists)
	require.NoError(t, s.InsertSlot(ctx, "w1", 0, b.ID, t0))

	slots, err := s.ListSlots(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, 0, slots[0].Index)
	assert.Equal(t, b.ID, slots[0].Alien.ID)
	assert.Equal(t, "epic", slots[1].Alien.Tier)

	require.NoError(t, s.DeleteSlotByAlien(ctx, "w1", a.ID))
	assert.ErrorIs(t, s.DeleteSlotByAlien(ctx, "w1", a.ID), ErrNotFound)
}

func TestExpeditions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "w1", t0)
	require.NoError(t, err)

	e := &Expedition{WalletID: "w1", Planet: "mars", StartedAt: t0, EndsAt: t0.Add(time.Hour)}
	require.NoError(t, s.InsertExpedition(ctx, e))

	dup := &Expedition{WalletID: "w1", Planet: "venus", StartedAt: t0, EndsAt: t0.Add(time.Hour)}
	assert.ErrorIs(t, s.InsertExpedition(ctx, dup), ErrAlreadyExists)

	open, err := s.GetOpenExpedition(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, e.ID, open.ID)

	require.NoError(t, s.CloseExpedition(ctx, e.ID, e.EndsAt, "timeout"))

	_, err = s.GetOpenExpedition(ctx, "w1")
	assert.ErrorIs(t, err, ErrNotFound)

	// history is kept, a new expedition can open
	require.NoError(t, s.InsertExpedition(ctx, dup))
}

func TestIntentLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "w1", t0)
	require.NoError(t, err)

	in := &ClaimIntent{
		ID:             "intent-1",
		WalletID:       "w1",
		EarningsUSD:    decimal.NewFromInt(3),
		SolUSDRate:     decimal.NewFromInt(150),
		RateSource:     "test",
		RateObservedAt: t0,
		Lamports:       20_000_000,
		AmountSOL:      decimal.RequireFromString("0.02"),
		Status:         IntentPending,
		CreatedAt:      t0,
		ExpiresAt:      t0.Add(5 * time.Minute),
	}
	require.NoError(t, s.InsertIntent(ctx, in))
	assert.ErrorIs(t, s.InsertIntent(ctx, in), ErrAlreadyExists)

	ok, err := s.SetIntentPaying(ctx, in.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIntentPaying(ctx, in.ID, true)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.CountInFlightIntents(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	voided, err := s.VoidPendingIntents(ctx, "w1")
	require.NoError(t, err)
	assert.Zero(t, voided)

	expired, err := s.ExpireDueIntents(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, expired)

	ok, err = s.MarkIntentPaid(ctx, in.ID, "sig", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkIntentPaid(ctx, in.ID, "sig-2", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetIntent(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, IntentPaid, got.Status)
	assert.Equal(t, "sig", got.PayoutSignature)
	assert.False(t, got.Paying)
	assert.Equal(t, uint64(20_000_000), got.Lamports)
	require.NotNil(t, got.PaidAt)

	last, err := s.LastClaimAt(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, t0.Add(time.Minute).Equal(*last))

	_, err = s.GetIntent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireAndVoid(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "w1", t0)
	require.NoError(t, err)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertIntent(ctx, &ClaimIntent{
			ID:             id,
			WalletID:       "w1",
			EarningsUSD:    decimal.NewFromInt(1),
			SolUSDRate:     decimal.NewFromInt(100),
			RateObservedAt: t0,
			Status:         IntentPending,
			CreatedAt:      t0.Add(time.Duration(i) * time.Second),
			ExpiresAt:      t0.Add(5 * time.Minute),
		}))
	}

	require.NoError(t, s.SetIntentSignature(ctx, "b", "submitted"))

	voided, err := s.VoidPendingIntents(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), voided)

	expired, err := s.ExpireDueIntents(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, expired)

	ok, err := s.SetIntentStatus(ctx, "a", IntentPending, IntentExpired)
	require.NoError(t, err)
	assert.False(t, ok)

	intents, err := s.ListIntents(ctx, "w1", 10)
	require.NoError(t, err)
	require.Len(t, intents, 3)
	assert.Equal(t, "c", intents[0].ID)
	assert.Equal(t, IntentPending, intents[1].Status)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.Equal(t, 1, stats.PendingIntents)
}

func TestRestartMarkers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, "w1", t0)
	require.NoError(t, err)

	for _, id := range []string{"unsent", "sent", "idle"} {
		require.NoError(t, s.InsertIntent(ctx, &ClaimIntent{
			ID:             id,
			WalletID:       "w1",
			EarningsUSD:    decimal.NewFromInt(1),
			SolUSDRate:     decimal.NewFromInt(100),
			RateObservedAt: t0,
			Status:         IntentPending,
			CreatedAt:      t0,
			ExpiresAt:      t0.Add(5 * time.Minute),
		}))
	}
	for _, id := range []string{"unsent", "sent"} {
		ok, err := s.SetIntentPaying(ctx, id, true)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.SetIntentSignature(ctx, "sent", "sig"))

	expired, err := s.ExpireUnsentIntents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	released, err := s.ClearPayingMarkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	unsent, err := s.GetIntent(ctx, "unsent")
	require.NoError(t, err)
	assert.Equal(t, IntentExpired, unsent.Status)
	assert.False(t, unsent.Paying)

	sent, err := s.GetIntent(ctx, "sent")
	require.NoError(t, err)
	assert.Equal(t, IntentPending, sent.Status)
	assert.False(t, sent.Paying)
	assert.Equal(t, "sig", sent.PayoutSignature)

	due, err := s.ListUnsettledIntents(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = s.ListUnsettledIntents(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sent", due[0].ID)
}
