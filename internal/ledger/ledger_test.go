package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/ledger"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

const wallet = "wallet-a"

var t0 = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*ledger.Ledger, *storage.Queries) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.CreateAccount(context.Background(), wallet, t0)
	require.NoError(t, err)

	return ledger.New(slog.New(slog.NewTextHandler(io.Discard, nil))), store.Queries
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestAccrueStepwise(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("24"), t0.Add(24*time.Hour), t0)
	require.NoError(t, err)

	acc, err := l.Accrue(ctx, q, wallet, t0.Add(time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "1", acc.PendingEarnings)

	// no-op in immediate succession
	acc, err = l.Accrue(ctx, q, wallet, t0.Add(time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "1", acc.PendingEarnings)

	acc, err = l.SetROI(ctx, q, wallet, dec("48"), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "2", acc.PendingEarnings)
	assertDecimal(t, "48", acc.ROIPerDay)

	acc, err = l.Accrue(ctx, q, wallet, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "4", acc.PendingEarnings)
	assertDecimal(t, "4", acc.LifetimeAccrued)
	assert.True(t, t0.Add(3*time.Hour).Equal(acc.LastAccrualAt))
}

func TestAccrueIntermediateCallsDoNotDrift(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("7.3"), t0.Add(24*time.Hour), t0)
	require.NoError(t, err)

	for i := 1; i <= 60; i++ {
		_, err := l.Accrue(ctx, q, wallet, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	acc, err := q.GetAccount(ctx, wallet)
	require.NoError(t, err)

	want := dec("7.3").Mul(dec("3600")).Div(dec("86400"))
	assert.True(t, acc.PendingEarnings.Sub(want).Abs().LessThan(dec("0.0000001")),
		"want %s, got %s", want, acc.PendingEarnings)
}

func TestAccrueWithoutWindow(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.SetROI(ctx, q, wallet, dec("24"), t0)
	require.NoError(t, err)

	acc, err := l.Accrue(ctx, q, wallet, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "0", acc.PendingEarnings)
}

func TestAccrueCappedAtWindowEnd(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("24"), t0.Add(time.Hour), t0)
	require.NoError(t, err)

	acc, err := l.Accrue(ctx, q, wallet, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "1", acc.PendingEarnings)

	acc, err = l.CloseWindow(ctx, q, wallet, t0.Add(9*time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "1", acc.PendingEarnings)
	assertDecimal(t, "0", acc.ROIPerDay)
	assert.Nil(t, acc.AccrueUntil)
}

func TestAccrueSubSecond(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("86400"), t0.Add(time.Hour), t0)
	require.NoError(t, err)

	acc, err := l.Accrue(ctx, q, wallet, t0.Add(1500*time.Millisecond))
	require.NoError(t, err)
	assertDecimal(t, "1.5", acc.PendingEarnings)
}

func TestAccrueRoundsToPrecision(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("1"), t0.Add(time.Hour), t0)
	require.NoError(t, err)

	acc, err := l.Accrue(ctx, q, wallet, t0.Add(time.Second))
	require.NoError(t, err)
	// 1/86400 = 0.0000115740740...
	assertDecimal(t, "0.0000115741", acc.PendingEarnings)
}

func TestSetROIRejectsNegative(t *testing.T) {
	l, q := setup(t)

	_, err := l.SetROI(context.Background(), q, wallet, dec("-1"), t0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnknownWallet(t *testing.T) {
	l, q := setup(t)

	_, err := l.Accrue(context.Background(), q, "nobody", t0)
	assert.ErrorIs(t, err, apperr.ErrUnknownWallet)
}

func TestDebitClaimed(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("24"), t0.Add(3*time.Hour), t0)
	require.NoError(t, err)

	now := t0.Add(3 * time.Hour)

	_, err = l.DebitClaimed(ctx, q, wallet, dec("1"), dec("10"), dec("0.01"), now)
	assert.ErrorIs(t, err, apperr.ErrEarningsMismatch)

	acc, err := q.GetAccount(ctx, wallet)
	require.NoError(t, err)
	assertDecimal(t, "0", acc.PendingEarnings)
	assertDecimal(t, "0", acc.TotalClaimed)

	acc, err = l.DebitClaimed(ctx, q, wallet, dec("1"), dec("3"), decimal.Zero, now)
	require.NoError(t, err)
	assertDecimal(t, "2", acc.PendingEarnings)
	assertDecimal(t, "1", acc.TotalClaimed)
	assert.True(t, now.Equal(acc.LastAccrualAt))

	// debits larger than the balance clamp at zero
	acc, err = l.DebitClaimed(ctx, q, wallet, dec("5"), dec("2"), decimal.Zero, now)
	require.NoError(t, err)
	assertDecimal(t, "0", acc.PendingEarnings)
	assertDecimal(t, "6", acc.TotalClaimed)

	_, err = l.DebitClaimed(ctx, q, wallet, decimal.Zero, decimal.Zero, decimal.Zero, now)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestVerify(t *testing.T) {
	l, q := setup(t)
	ctx := context.Background()

	_, err := l.OpenWindow(ctx, q, wallet, dec("24"), t0.Add(6*time.Hour), t0)
	require.NoError(t, err)

	live, err := l.Verify(ctx, q, wallet, dec("2"), dec("0.01"), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assertDecimal(t, "2", live)

	_, err = l.Verify(ctx, q, wallet, dec("5"), dec("0.01"), t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, apperr.ErrMismatch)

	// nothing was committed
	acc, err := q.GetAccount(ctx, wallet)
	require.NoError(t, err)
	assertDecimal(t, "0", acc.PendingEarnings)
}

func TestCheckExpected(t *testing.T) {
	tests := []struct {
		name      string
		live      string
		expected  string
		tolerance string
		wantErr   bool
	}{
		{name: "exact", live: "3", expected: "3", tolerance: "0"},
		{name: "within tolerance", live: "3", expected: "3.005", tolerance: "0.01"},
		{name: "on the boundary", live: "3", expected: "3.01", tolerance: "0.01"},
		{name: "above", live: "3", expected: "3.02", tolerance: "0.01", wantErr: true},
		{name: "below", live: "3", expected: "2.5", tolerance: "0.01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.CheckExpected(dec(tt.live), dec(tt.expected), dec(tt.tolerance))
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrEarningsMismatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClaimable(t *testing.T) {
	until := t0.Add(2 * time.Hour)
	acc := &storage.Account{
		ROIPerDay:       dec("12"),
		PendingEarnings: dec("0.5"),
		LastAccrualAt:   t0,
		AccrueUntil:     &until,
	}

	assertDecimal(t, "1", ledger.Claimable(acc, t0.Add(time.Hour)))
	assertDecimal(t, "1.5", ledger.Claimable(acc, t0.Add(10*time.Hour)))
	assertDecimal(t, "0.5", ledger.Claimable(acc, t0.Add(-time.Hour)))
}
