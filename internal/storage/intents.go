package storage

import (
	"context"
	"database/sql"
	"time"
)

const intentColumns = `id, wallet_id, earnings_usd, accrued_baseline, sol_usd_rate, rate_source,
	rate_observed_at, lamports, amount_sol, status, payout_signature, paying,
	created_at, expires_at, paid_at`

// InsertIntent stores a new claim intent
func (q *Queries) InsertIntent(ctx context.Context, in *ClaimIntent) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO claim_intents (`+intentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		in.ID, in.WalletID, in.EarningsUSD, in.AccruedBaseline, in.SolUSDRate, in.RateSource,
		toUnix(in.RateObservedAt), int64(in.Lamports), in.AmountSOL, string(in.Status),
		in.PayoutSignature, in.Paying, toUnix(in.CreatedAt), toUnix(in.ExpiresAt),
	)
	if isConstraint(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetIntent returns a claim intent by id
func (q *Queries) GetIntent(ctx context.Context, intentID string) (*ClaimIntent, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM claim_intents WHERE id = ?`,
		intentID,
	)

	in, err := scanIntent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return in, err
}

// ListIntents returns the most recent intents of a wallet
func (q *Queries) ListIntents(ctx context.Context, walletID string, limit int) ([]ClaimIntent, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM claim_intents
		 WHERE wallet_id = ? ORDER BY created_at DESC LIMIT ?`,
		walletID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []ClaimIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *in)
	}

	return intents, rows.Err()
}

// SetIntentPaying flips the in-flight marker of a pending intent from !paying to paying.
// Returns false when another caller holds it or the intent is no longer pending.
func (q *Queries) SetIntentPaying(ctx context.Context, intentID string, paying bool) (bool, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE claim_intents SET paying = ?
		 WHERE id = ? AND status = 'pending' AND paying = ?`,
		paying, intentID, !paying,
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// SetIntentSignature records a submitted payout signature on a pending intent
func (q *Queries) SetIntentSignature(ctx context.Context, intentID, signature string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE claim_intents SET payout_signature = ? WHERE id = ? AND status = 'pending'",
		signature, intentID,
	)
	return err
}

// MarkIntentPaid moves a pending intent to paid, returns false if it was not pending
func (q *Queries) MarkIntentPaid(ctx context.Context, intentID, signature string, paidAt time.Time) (bool, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE claim_intents SET status = 'paid', payout_signature = ?, paying = 0, paid_at = ?
		 WHERE id = ? AND status = 'pending'`,
		signature, toUnix(paidAt), intentID,
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// SetIntentStatus moves an intent from one status to another, returns false if it was not in from
func (q *Queries) SetIntentStatus(ctx context.Context, intentID string, from, to IntentStatus) (bool, error) {
	result, err := q.db.ExecContext(ctx,
		"UPDATE claim_intents SET status = ?, paying = 0 WHERE id = ? AND status = ?",
		string(to), intentID, string(from),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// CountInFlightIntents counts a wallet's pending intents currently talking to the payment rail
// or holding a submitted payout signature
func (q *Queries) CountInFlightIntents(ctx context.Context, walletID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM claim_intents
		 WHERE wallet_id = ? AND status = 'pending' AND (paying = 1 OR payout_signature != '')`,
		walletID,
	).Scan(&count)
	return count, err
}

// VoidPendingIntents voids a wallet's pending intents that are not in flight
func (q *Queries) VoidPendingIntents(ctx context.Context, walletID string) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE claim_intents SET status = 'voided'
		 WHERE wallet_id = ? AND status = 'pending' AND paying = 0 AND payout_signature = ''`,
		walletID,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ExpireDueIntents expires every pending intent past its deadline that is not in flight.
// Intents holding a submitted payout signature are left for reconciliation.
func (q *Queries) ExpireDueIntents(ctx context.Context, now time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE claim_intents SET status = 'expired'
		 WHERE status = 'pending' AND paying = 0 AND payout_signature = '' AND expires_at < ?`,
		toUnix(now),
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanIntent(row interface{ Scan(...any) error }) (*ClaimIntent, error) {
	var in ClaimIntent
	var status string
	var lamports, observedAt, createdAt, expiresAt int64
	var paidAt sql.NullInt64

	err := row.Scan(&in.ID, &in.WalletID, &in.EarningsUSD, &in.AccruedBaseline, &in.SolUSDRate,
		&in.RateSource, &observedAt, &lamports, &in.AmountSOL, &status, &in.PayoutSignature,
		&in.Paying, &createdAt, &expiresAt, &paidAt)
	if err != nil {
		return nil, err
	}

	in.Status = IntentStatus(status)
	in.Lamports = uint64(lamports)
	in.RateObservedAt = fromUnix(observedAt)
	in.CreatedAt = fromUnix(createdAt)
	in.ExpiresAt = fromUnix(expiresAt)
	if paidAt.Valid {
		t := fromUnix(paidAt.Int64)
		in.PaidAt = &t
	}
	return &in, nil
}

// ClearPayingMarkers releases in-flight markers left behind by a previous process on
// intents that recorded a payout signature
func (q *Queries) ClearPayingMarkers(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE claim_intents SET paying = 0
		 WHERE status = 'pending' AND paying = 1 AND payout_signature != ''`,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ExpireUnsentIntents expires in-flight intents that never recorded a payout signature
func (q *Queries) ExpireUnsentIntents(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE claim_intents SET status = 'expired', paying = 0
		 WHERE status = 'pending' AND paying = 1 AND payout_signature = ''`,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// ListUnsettledIntents returns pending intents past their deadline that hold a payout signature
func (q *Queries) ListUnsettledIntents(ctx context.Context, now time.Time) ([]ClaimIntent, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM claim_intents
		 WHERE status = 'pending' AND paying = 0 AND payout_signature != '' AND expires_at < ?
		 ORDER BY expires_at`,
		toUnix(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []ClaimIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *in)
	}

	return intents, rows.Err()
}

// LastClaimAt returns when the wallet's latest claim was paid, nil if it never claimed
func (q *Queries) LastClaimAt(ctx context.Context, walletID string) (*time.Time, error) {
	var paidAt sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		"SELECT MAX(paid_at) FROM claim_intents WHERE wallet_id = ? AND status = 'paid'",
		walletID,
	).Scan(&paidAt)
	if err != nil {
		return nil, err
	}
	if !paidAt.Valid {
		return nil, nil
	}

	t := fromUnix(paidAt.Int64)
	return &t, nil
}
