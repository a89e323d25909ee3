package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs all statements against a DB or a transaction
type Queries struct {
	db DBTX
}

// Storage handles all database operations
type Storage struct {
	*Queries
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	s := &Storage{Queries: &Queries{db: db}, db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing when fn returns nil
func (s *Storage) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			wallet_id TEXT PRIMARY KEY,
			roi_per_day TEXT NOT NULL DEFAULT '0',
			pending_earnings TEXT NOT NULL DEFAULT '0',
			last_accrual_at INTEGER NOT NULL,
			accrue_until INTEGER,
			lifetime_accrued TEXT NOT NULL DEFAULT '0',
			total_claimed TEXT NOT NULL DEFAULT '0',
			ship_level INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS aliens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet_id TEXT NOT NULL REFERENCES accounts(wallet_id),
			alien_type INTEGER NOT NULL,
			tier TEXT NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			roi_per_day TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_aliens_wallet_id ON aliens(wallet_id)`,

		`CREATE TABLE IF NOT EXISTS ship_slots (
			wallet_id TEXT NOT NULL REFERENCES accounts(wallet_id),
			slot_index INTEGER NOT NULL,
			alien_id INTEGER NOT NULL UNIQUE REFERENCES aliens(id),
			assigned_at INTEGER NOT NULL,
			PRIMARY KEY (wallet_id, slot_index)
		)`,

		`CREATE TABLE IF NOT EXISTS expeditions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet_id TEXT NOT NULL REFERENCES accounts(wallet_id),
			planet TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			ended_at INTEGER,
			end_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_expeditions_open ON expeditions(wallet_id) WHERE ended_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_expeditions_ends_at ON expeditions(ends_at) WHERE ended_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS claim_intents (
			id TEXT PRIMARY KEY,
			wallet_id TEXT NOT NULL REFERENCES accounts(wallet_id),
			earnings_usd TEXT NOT NULL,
			accrued_baseline TEXT NOT NULL,
			sol_usd_rate TEXT NOT NULL,
			rate_source TEXT NOT NULL,
			rate_observed_at INTEGER NOT NULL,
			lamports INTEGER NOT NULL,
			amount_sol TEXT NOT NULL,
			status TEXT NOT NULL,
			payout_signature TEXT NOT NULL DEFAULT '',
			paying INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			paid_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_intents_wallet ON claim_intents(wallet_id, status)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Accounts ---

const accountColumns = `wallet_id, roi_per_day, pending_earnings, last_accrual_at, accrue_until,
	lifetime_accrued, total_claimed, ship_level, created_at`

// CreateAccount registers a wallet with an empty ledger
func (q *Queries) CreateAccount(ctx context.Context, walletID string, now time.Time) (*Account, error) {
	result, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (wallet_id, last_accrual_at, created_at) VALUES (?, ?, ?)`,
		walletID, toUnix(now), toUnix(now),
	)
	if err != nil {
		return nil, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrAlreadyExists
	}

	return &Account{
		WalletID:      walletID,
		LastAccrualAt: now,
		ShipLevel:     1,
		CreatedAt:     now,
	}, nil
}

// GetAccount returns a wallet's ledger row
func (q *Queries) GetAccount(ctx context.Context, walletID string) (*Account, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE wallet_id = ?`,
		walletID,
	)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// UpdateLedger writes every ledger field of an account in one statement
func (q *Queries) UpdateLedger(ctx context.Context, a *Account) error {
	var until sql.NullInt64
	if a.AccrueUntil != nil {
		until = sql.NullInt64{Int64: toUnix(*a.AccrueUntil), Valid: true}
	}

	result, err := q.db.ExecContext(ctx,
		`UPDATE accounts SET
			roi_per_day = ?,
			pending_earnings = ?,
			last_accrual_at = ?,
			accrue_until = ?,
			lifetime_accrued = ?,
			total_claimed = ?
		 WHERE wallet_id = ?`,
		a.ROIPerDay, a.PendingEarnings, toUnix(a.LastAccrualAt), until,
		a.LifetimeAccrued, a.TotalClaimed, a.WalletID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetShipLevel updates a wallet's ship level
func (q *Queries) SetShipLevel(ctx context.Context, walletID string, level int) error {
	result, err := q.db.ExecContext(ctx,
		"UPDATE accounts SET ship_level = ? WHERE wallet_id = ?",
		level, walletID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var lastAccrual, createdAt int64
	var until sql.NullInt64

	err := row.Scan(&a.WalletID, &a.ROIPerDay, &a.PendingEarnings, &lastAccrual, &until,
		&a.LifetimeAccrued, &a.TotalClaimed, &a.ShipLevel, &createdAt)
	if err != nil {
		return nil, err
	}

	a.LastAccrualAt = fromUnix(lastAccrual)
	a.CreatedAt = fromUnix(createdAt)
	if until.Valid {
		t := fromUnix(until.Int64)
		a.AccrueUntil = &t
	}
	return &a, nil
}

// --- Aliens ---

// InsertAlien stores a newly owned alien
func (q *Queries) InsertAlien(ctx context.Context, a *Alien) error {
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO aliens (wallet_id, alien_type, tier, image, roi_per_day, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.WalletID, a.AlienType, a.Tier, a.Image, a.ROIPerDay, toUnix(a.CreatedAt),
	)
	if err != nil {
		return err
	}

	a.ID, _ = result.LastInsertId()
	return nil
}

// GetAlien returns an alien by its database id
func (q *Queries) GetAlien(ctx context.Context, alienID int64) (*Alien, error) {
	var a Alien
	var createdAt int64

	err := q.db.QueryRowContext(ctx,
		`SELECT id, wallet_id, alien_type, tier, image, roi_per_day, created_at
		 FROM aliens WHERE id = ?`,
		alienID,
	).Scan(&a.ID, &a.WalletID, &a.AlienType, &a.Tier, &a.Image, &a.ROIPerDay, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.CreatedAt = fromUnix(createdAt)
	return &a, nil
}

// ListAliens returns all aliens owned by a wallet
func (q *Queries) ListAliens(ctx context.Context, walletID string) ([]Alien, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, wallet_id, alien_type, tier, image, roi_per_day, created_at
		 FROM aliens WHERE wallet_id = ? ORDER BY id`,
		walletID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliens []Alien
	for rows.Next() {
		var a Alien
		var createdAt int64

		err := rows.Scan(&a.ID, &a.WalletID, &a.AlienType, &a.Tier, &a.Image, &a.ROIPerDay, &createdAt)
		if err != nil {
			return nil, err
		}

		a.CreatedAt = fromUnix(createdAt)
		aliens = append(aliens, a)
	}

	return aliens, rows.Err()
}

// --- Ship Slots ---

// ListSlots returns the occupied slots of a wallet ordered by index
func (q *Queries) ListSlots(ctx context.Context, walletID string) ([]Slot, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT s.slot_index, a.id, a.wallet_id, a.alien_type, a.tier, a.image, a.roi_per_day, a.created_at
		 FROM ship_slots s JOIN aliens a ON a.id = s.alien_id
		 WHERE s.wallet_id = ? ORDER BY s.slot_index`,
		walletID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var s Slot
		var createdAt int64

		err := rows.Scan(&s.Index, &s.Alien.ID, &s.Alien.WalletID, &s.Alien.AlienType,
			&s.Alien.Tier, &s.Alien.Image, &s.Alien.ROIPerDay, &createdAt)
		if err != nil {
			return nil, err
		}

		s.Alien.CreatedAt = fromUnix(createdAt)
		slots = append(slots, s)
	}

	return slots, rows.Err()
}

// InsertSlot occupies a slot, ErrAlreadyExists when the slot or the alien is taken
func (q *Queries) InsertSlot(ctx context.Context, walletID string, slotIndex int, alienID int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO ship_slots (wallet_id, slot_index, alien_id, assigned_at) VALUES (?, ?, ?, ?)`,
		walletID, slotIndex, alienID, toUnix(now),
	)
	if isConstraint(err) {
		return ErrAlreadyExists
	}
	return err
}

// DeleteSlotByAlien frees the slot held by an alien
func (q *Queries) DeleteSlotByAlien(ctx context.Context, walletID string, alienID int64) error {
	result, err := q.db.ExecContext(ctx,
		"DELETE FROM ship_slots WHERE wallet_id = ? AND alien_id = ?",
		walletID, alienID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Expeditions ---

// InsertExpedition opens an expedition, ErrAlreadyExists when one is open
func (q *Queries) InsertExpedition(ctx context.Context, e *Expedition) error {
	result, err := q.db.ExecContext(ctx,
		`INSERT INTO expeditions (wallet_id, planet, started_at, ends_at) VALUES (?, ?, ?, ?)`,
		e.WalletID, e.Planet, toUnix(e.StartedAt), toUnix(e.EndsAt),
	)
	if isConstraint(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return err
	}

	e.ID, _ = result.LastInsertId()
	return nil
}

// GetOpenExpedition returns the wallet's expedition that has not been closed
func (q *Queries) GetOpenExpedition(ctx context.Context, walletID string) (*Expedition, error) {
	var e Expedition
	var startedAt, endsAt int64

	err := q.db.QueryRowContext(ctx,
		`SELECT id, wallet_id, planet, started_at, ends_at
		 FROM expeditions WHERE wallet_id = ? AND ended_at IS NULL`,
		walletID,
	).Scan(&e.ID, &e.WalletID, &e.Planet, &startedAt, &endsAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.StartedAt = fromUnix(startedAt)
	e.EndsAt = fromUnix(endsAt)
	return &e, nil
}

// CloseExpedition marks an expedition as ended
func (q *Queries) CloseExpedition(ctx context.Context, id int64, endedAt time.Time, reason string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE expeditions SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL",
		toUnix(endedAt), reason, id,
	)
	return err
}

// ListDueExpeditions returns wallets whose open expedition has reached ends_at
func (q *Queries) ListDueExpeditions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT wallet_id FROM expeditions WHERE ended_at IS NULL AND ends_at <= ?",
		toUnix(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}

	return wallets, rows.Err()
}

// --- Stats ---

// GetStats returns aggregate counters
func (q *Queries) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats

	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&st.Accounts)
	if err != nil {
		return nil, err
	}

	err = q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM expeditions WHERE ended_at IS NULL",
	).Scan(&st.ActiveExpeditions)
	if err != nil {
		return nil, err
	}

	err = q.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END), 0)
		 FROM claim_intents`,
	).Scan(&st.PendingIntents, &st.PaidIntents)
	if err != nil {
		return nil, err
	}

	// decimal text columns are summed in Go to keep full precision
	rows, err := q.db.QueryContext(ctx, "SELECT pending_earnings, total_claimed FROM accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pending, claimed decimal.Decimal
		if err := rows.Scan(&pending, &claimed); err != nil {
			return nil, err
		}
		st.TotalPending = st.TotalPending.Add(pending)
		st.TotalClaimed = st.TotalClaimed.Add(claimed)
	}

	return &st, rows.Err()
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
