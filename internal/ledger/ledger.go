package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

// Precision is the number of fractional USD digits kept on every ledger write
const Precision int32 = 10

var secondsPerDay = decimal.NewFromInt(86400)

// Ledger owns the per-wallet earnings balances.
// Callers hold the wallet lock and pass the transaction to run in.
type Ledger struct {
	log *slog.Logger
}

// New creates a new Ledger
func New(log *slog.Logger) *Ledger {
	return &Ledger{log: log}
}

// Accrue brings pending_earnings up to now, commits it and returns the updated account
func (l *Ledger) Accrue(ctx context.Context, q *storage.Queries, walletID string, now time.Time) (*storage.Account, error) {
	acc, err := load(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	if !apply(acc, now) {
		return acc, nil
	}
	if err := q.UpdateLedger(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// SetROI accrues at the old rate, then switches to roi
func (l *Ledger) SetROI(ctx context.Context, q *storage.Queries, walletID string, roi decimal.Decimal, now time.Time) (*storage.Account, error) {
	if roi.IsNegative() {
		return nil, apperr.Wrapf(apperr.ErrValidation, "negative roi %s", roi)
	}

	acc, err := load(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	apply(acc, now)
	if !acc.ROIPerDay.Equal(roi) {
		l.log.Debug("roi changed",
			"wallet", walletID,
			"old_roi", acc.ROIPerDay.String(),
			"new_roi", roi.String(),
		)
	}
	acc.ROIPerDay = roi

	if err := q.UpdateLedger(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// OpenWindow accrues, then starts earning roi until the given deadline
func (l *Ledger) OpenWindow(ctx context.Context, q *storage.Queries, walletID string, roi decimal.Decimal, until, now time.Time) (*storage.Account, error) {
	if roi.IsNegative() {
		return nil, apperr.Wrapf(apperr.ErrValidation, "negative roi %s", roi)
	}

	acc, err := load(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	apply(acc, now)
	acc.ROIPerDay = roi
	acc.AccrueUntil = &until

	if err := q.UpdateLedger(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// CloseWindow accrues up to the window end and stops accrual
func (l *Ledger) CloseWindow(ctx context.Context, q *storage.Queries, walletID string, now time.Time) (*storage.Account, error) {
	acc, err := load(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	apply(acc, now)
	acc.ROIPerDay = decimal.Zero
	acc.AccrueUntil = nil

	if err := q.UpdateLedger(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// DebitClaimed settles a claim of usd against the live balance.
// The live balance is recomputed here; a claim whose expected value deviates from it by
// more than tolerance is rejected and nothing is written.
func (l *Ledger) DebitClaimed(ctx context.Context, q *storage.Queries, walletID string, usd, expected, tolerance decimal.Decimal, now time.Time) (*storage.Account, error) {
	if !usd.IsPositive() {
		return nil, apperr.Wrapf(apperr.ErrValidation, "claim amount must be positive, got %s", usd)
	}

	acc, err := load(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	apply(acc, now)
	if err := CheckExpected(acc.PendingEarnings, expected, tolerance); err != nil {
		l.log.Warn("claim mismatch",
			"wallet", walletID,
			"live", acc.PendingEarnings.String(),
			"expected", expected.String(),
			"tolerance", tolerance.String(),
		)
		return nil, err
	}

	acc.PendingEarnings = acc.PendingEarnings.Sub(usd)
	if acc.PendingEarnings.IsNegative() {
		acc.PendingEarnings = decimal.Zero
	}
	acc.TotalClaimed = acc.TotalClaimed.Add(usd)
	if now.After(acc.LastAccrualAt) {
		acc.LastAccrualAt = now
	}

	if err := q.UpdateLedger(ctx, acc); err != nil {
		return nil, err
	}

	l.log.Info("claim debited",
		"wallet", walletID,
		"usd", usd.String(),
		"pending", acc.PendingEarnings.String(),
		"total_claimed", acc.TotalClaimed.String(),
	)
	return acc, nil
}

// Verify compares the live claimable value against expected without writing anything
func (l *Ledger) Verify(ctx context.Context, q *storage.Queries, walletID string, expected, tolerance decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	acc, err := load(ctx, q, walletID)
	if err != nil {
		return decimal.Zero, err
	}

	live := Claimable(acc, now)
	if err := CheckExpected(live, expected, tolerance); err != nil {
		l.log.Warn("claim hint mismatch",
			"wallet", walletID,
			"live", live.String(),
			"expected", expected.String(),
		)
		return live, err
	}
	return live, nil
}

// CheckExpected fails with a mismatch when |live - expected| > tolerance
func CheckExpected(live, expected, tolerance decimal.Decimal) error {
	if live.Sub(expected).Abs().GreaterThan(tolerance) {
		return apperr.Wrapf(apperr.ErrEarningsMismatch, "live %s, expected %s", live.StringFixed(6), expected.StringFixed(6))
	}
	return nil
}

// Claimable returns the claimable value at now without committing anything
func Claimable(acc *storage.Account, now time.Time) decimal.Decimal {
	return acc.PendingEarnings.Add(accrual(acc, now))
}

// accrual is the earnings between last_accrual_at and min(now, accrue_until)
func accrual(acc *storage.Account, now time.Time) decimal.Decimal {
	if acc.AccrueUntil == nil || !acc.ROIPerDay.IsPositive() {
		return decimal.Zero
	}

	end := now
	if acc.AccrueUntil.Before(end) {
		end = *acc.AccrueUntil
	}
	if !end.After(acc.LastAccrualAt) {
		return decimal.Zero
	}

	elapsed := decimal.New(end.Sub(acc.LastAccrualAt).Nanoseconds(), -9)
	return acc.ROIPerDay.Mul(elapsed).Div(secondsPerDay).Round(Precision)
}

// apply folds accrual into the account in memory, reports whether anything changed
func apply(acc *storage.Account, now time.Time) bool {
	earned := accrual(acc, now)
	changed := false

	if earned.IsPositive() {
		acc.PendingEarnings = acc.PendingEarnings.Add(earned)
		acc.LifetimeAccrued = acc.LifetimeAccrued.Add(earned)
		changed = true
	}
	if now.After(acc.LastAccrualAt) {
		acc.LastAccrualAt = now
		changed = true
	}
	return changed
}

func load(ctx context.Context, q *storage.Queries, walletID string) (*storage.Account, error) {
	acc, err := q.GetAccount(ctx, walletID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrUnknownWallet
	}
	return acc, err
}
