package claims

//go:generate mockgen -source=manager.go -destination=mock/manager.go -package=mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/clock"
	"github.com/suspectuso/zeruva-rewards/internal/ledger"
	"github.com/suspectuso/zeruva-rewards/internal/payrail"
	"github.com/suspectuso/zeruva-rewards/internal/pricefeed"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
	"github.com/suspectuso/zeruva-rewards/internal/walletlock"
)

// PriceOracle supplies the SOL/USD rate an intent is locked at
type PriceOracle interface {
	SolUSD(ctx context.Context) (pricefeed.Quote, error)
}

// PaymentRail moves SOL to a wallet. A transfer is signed by Prepare and submitted by Send,
// so its signature can be stored before anything reaches the network.
type PaymentRail interface {
	QuoteLamports(usd, rate decimal.Decimal) uint64
	Prepare(ctx context.Context, walletID string, lamports uint64) (payrail.Transfer, error)
	Send(ctx context.Context, t payrail.Transfer) error
	Verify(ctx context.Context, signature string) (payrail.Status, error)
}

// ExpeditionSync closes a finished expedition before earnings are read
type ExpeditionSync interface {
	Sync(ctx context.Context, q *storage.Queries, walletID string, now time.Time) error
}

// Config holds the claim limits
type Config struct {
	MinClaimUSD   decimal.Decimal
	HintTolerance decimal.Decimal
	IntentTTL     time.Duration
	PriceMaxAge   time.Duration // 0 accepts quotes of any age
	PayTimeout    time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MinClaimUSD:   decimal.RequireFromString("0.0001"),
		HintTolerance: decimal.RequireFromString("0.01"),
		IntentTTL:     5 * time.Minute,
		PriceMaxAge:   2 * time.Minute,
		PayTimeout:    90 * time.Second,
	}
}

// Deps are the collaborators of a Manager
type Deps struct {
	Store  *storage.Storage
	Locks  *walletlock.Locks
	Ledger *ledger.Ledger
	Gate   ExpeditionSync
	Oracle PriceOracle
	Rail   PaymentRail
	Clock  clock.Clock
	Sink   Sink
}

// Offer is the answer to a claim request. Intent is nil when there is nothing to claim.
type Offer struct {
	Intent      *storage.ClaimIntent
	EarningsUSD decimal.Decimal
}

// Receipt describes a settled claim
type Receipt struct {
	IntentID    string
	Signature   string
	EarningsUSD decimal.Decimal
	Lamports    uint64
	AmountSOL   decimal.Decimal
	PaidAt      time.Time
}

// Manager issues price-locked claim intents and settles them exactly once
type Manager struct {
	store  *storage.Storage
	locks  *walletlock.Locks
	ledger *ledger.Ledger
	gate   ExpeditionSync
	oracle PriceOracle
	rail   PaymentRail
	clock  clock.Clock
	sink   Sink
	cfg    Config
	log    *slog.Logger
}

// NewManager creates a new Manager
func NewManager(d Deps, cfg Config, log *slog.Logger) *Manager {
	sink := d.Sink
	if sink == nil {
		sink = nopSink{}
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Manager{
		store:  d.Store,
		locks:  d.Locks,
		ledger: d.Ledger,
		gate:   d.Gate,
		oracle: d.Oracle,
		rail:   d.Rail,
		clock:  clk,
		sink:   sink,
		cfg:    cfg,
		log:    log,
	}
}

// Config returns the claim limits
func (m *Manager) Config() Config {
	return m.cfg
}

// CreateIntent snapshots the wallet's claimable earnings and locks a SOL payout for them.
// hint is the client's idea of its balance and may be nil.
func (m *Manager) CreateIntent(ctx context.Context, walletID string, hint *decimal.Decimal) (*Offer, error) {
	var claimable decimal.Decimal
	var mismatch error
	now := m.clock.Now()

	err := m.locked(ctx, walletID, func(q *storage.Queries) error {
		acc, err := m.accrue(ctx, q, walletID, now)
		if err != nil {
			return err
		}
		claimable = acc.PendingEarnings

		if hint != nil {
			if err := ledger.CheckExpected(claimable, *hint, m.cfg.HintTolerance); err != nil {
				mismatch = err
				return err
			}
		}
		if !m.claimable(claimable) {
			return nil
		}
		return m.checkNotInFlight(ctx, q, walletID)
	})
	if mismatch != nil {
		m.log.Warn("claim hint mismatch",
			"wallet", walletID,
			"live", claimable.String(),
			"hint", hint.String(),
		)
		m.sink.Notify(ctx, Event{
			Kind:     EventMismatch,
			WalletID: walletID,
			USD:      *hint,
			Expected: claimable,
			Err:      mismatch,
			At:       now,
		})
		return nil, mismatch
	}
	if err != nil {
		return nil, err
	}
	if !m.claimable(claimable) {
		return &Offer{EarningsUSD: claimable}, nil
	}

	quote, err := m.quote(ctx)
	if err != nil {
		return nil, err
	}

	var intent *storage.ClaimIntent
	now = m.clock.Now()

	err = m.locked(ctx, walletID, func(q *storage.Queries) error {
		acc, err := m.accrue(ctx, q, walletID, now)
		if err != nil {
			return err
		}
		claimable = acc.PendingEarnings
		if !m.claimable(claimable) {
			return nil
		}
		if err := m.checkNotInFlight(ctx, q, walletID); err != nil {
			return err
		}

		lamports := m.rail.QuoteLamports(claimable, quote.Rate)
		if lamports == 0 {
			return nil
		}

		voided, err := q.VoidPendingIntents(ctx, walletID)
		if err != nil {
			return fmt.Errorf("void pending intents: %w", err)
		}
		if voided > 0 {
			m.log.Debug("older intents voided", "wallet", walletID, "count", voided)
		}

		intent = &storage.ClaimIntent{
			ID:              uuid.NewString(),
			WalletID:        walletID,
			EarningsUSD:     claimable,
			AccruedBaseline: acc.LifetimeAccrued,
			SolUSDRate:      quote.Rate,
			RateSource:      quote.Source,
			RateObservedAt:  quote.ObservedAt,
			Lamports:        lamports,
			AmountSOL:       payrail.LamportsToSOL(lamports),
			Status:          storage.IntentPending,
			CreatedAt:       now,
			ExpiresAt:       now.Add(m.cfg.IntentTTL),
		}
		return q.InsertIntent(ctx, intent)
	})
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return &Offer{EarningsUSD: claimable}, nil
	}

	m.log.Info("claim intent created",
		"wallet", walletID,
		"intent_id", intent.ID,
		"usd", intent.EarningsUSD.String(),
		"sol_usd", intent.SolUSDRate.String(),
		"source", intent.RateSource,
		"lamports", intent.Lamports,
		"expires_at", intent.ExpiresAt,
	)
	return &Offer{Intent: intent, EarningsUSD: claimable}, nil
}

// Confirm pays out a pending intent and debits the ledger, at most once per intent
func (m *Manager) Confirm(ctx context.Context, walletID, intentID string) (*Receipt, error) {
	return m.confirm(ctx, walletID, intentID, true)
}

func (m *Manager) confirm(ctx context.Context, walletID, intentID string, alert bool) (*Receipt, error) {
	var intent *storage.ClaimIntent
	var expired bool
	now := m.clock.Now()

	err := m.locked(ctx, walletID, func(q *storage.Queries) error {
		in, err := m.owned(ctx, q, walletID, intentID)
		if err != nil {
			return err
		}
		if err := statusError(in.Status); err != nil {
			return err
		}
		if in.Paying {
			return apperr.ErrPaymentInFlight
		}

		if in.PayoutSignature == "" && now.After(in.ExpiresAt) {
			expired = true
			_, err := q.SetIntentStatus(ctx, in.ID, storage.IntentPending, storage.IntentExpired)
			return err
		}

		ok, err := q.SetIntentPaying(ctx, in.ID, true)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrPaymentInFlight
		}
		intent = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.log.Info("claim intent expired", "wallet", walletID, "intent_id", intentID)
		return nil, apperr.ErrIntentExpired
	}

	// the payout must not be abandoned halfway because the caller went away
	bg := context.WithoutCancel(ctx)
	payCtx, cancel := context.WithTimeout(bg, m.cfg.PayTimeout)
	defer cancel()

	out := m.pay(payCtx, intent, now)
	return m.finish(bg, intent, out, alert)
}

// Get returns a wallet's intent, expiring it first when its deadline has passed
func (m *Manager) Get(ctx context.Context, walletID, intentID string) (*storage.ClaimIntent, error) {
	var intent *storage.ClaimIntent
	now := m.clock.Now()

	err := m.locked(ctx, walletID, func(q *storage.Queries) error {
		in, err := m.owned(ctx, q, walletID, intentID)
		if err != nil {
			return err
		}

		if in.Status == storage.IntentPending && !in.Paying && in.PayoutSignature == "" && now.After(in.ExpiresAt) {
			if _, err := q.SetIntentStatus(ctx, in.ID, storage.IntentPending, storage.IntentExpired); err != nil {
				return err
			}
			in.Status = storage.IntentExpired
		}
		intent = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// List returns a wallet's most recent intents
func (m *Manager) List(ctx context.Context, walletID string, limit int) ([]storage.ClaimIntent, error) {
	return m.store.ListIntents(ctx, walletID, limit)
}

// ExpireDue marks every overdue pending intent expired
func (m *Manager) ExpireDue(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireDueIntents(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire intents: %w", err)
	}
	if n > 0 {
		m.log.Info("claim intents expired", "count", n)
	}
	return n, nil
}

// Recover runs before serving and settles what a previous process left in flight.
// Intents that recorded a payout signature are released and verified on their next confirm;
// intents without one never sent a transfer and are expired.
func (m *Manager) Recover(ctx context.Context) error {
	expired, err := m.store.ExpireUnsentIntents(ctx)
	if err != nil {
		return fmt.Errorf("expire unsent intents: %w", err)
	}
	released, err := m.store.ClearPayingMarkers(ctx)
	if err != nil {
		return fmt.Errorf("clear paying markers: %w", err)
	}
	if expired > 0 || released > 0 {
		m.log.Warn("recovered in-flight claim intents", "expired", expired, "released", released)
	}
	return nil
}

// Reconcile resolves overdue intents that hold a payout signature by verifying it:
// confirmed transfers are settled, lost ones expire. It never sends a new transfer.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	due, err := m.store.ListUnsettledIntents(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list unsettled intents: %w", err)
	}

	resolved := 0
	for _, in := range due {
		_, err := m.confirm(ctx, in.WalletID, in.ID, false)
		switch {
		case err == nil, errors.Is(err, apperr.ErrIntentExpired):
			resolved++
		case errors.Is(err, apperr.ErrPaymentUnconfirmed), errors.Is(err, apperr.ErrPaymentInFlight):
		default:
			m.log.Error("reconcile claim intent",
				"wallet", in.WalletID,
				"intent_id", in.ID,
				"error", err,
			)
		}
	}

	if resolved > 0 {
		m.log.Info("claim intents reconciled", "count", resolved)
	}
	return resolved, nil
}

type outcome int

const (
	outcomePaid outcome = iota
	outcomeSubmitted
	outcomeFailed
	outcomeExpired
)

type payResult struct {
	outcome   outcome
	signature string
	err       error
}

// pay runs without the wallet lock. A signature from an earlier attempt is verified
// instead of paying again.
func (m *Manager) pay(ctx context.Context, in *storage.ClaimIntent, now time.Time) payResult {
	if in.PayoutSignature != "" {
		status, err := m.rail.Verify(ctx, in.PayoutSignature)
		if err != nil {
			return payResult{outcome: outcomeSubmitted, signature: in.PayoutSignature, err: err}
		}

		switch status {
		case payrail.StatusConfirmed:
			return payResult{outcome: outcomePaid, signature: in.PayoutSignature}
		case payrail.StatusPending:
			return payResult{outcome: outcomeSubmitted, signature: in.PayoutSignature, err: payrail.ErrUnconfirmed}
		case payrail.StatusNotFound:
			// an unseen transfer can still land until its blockhash lapses, well inside the TTL
			if !now.After(in.ExpiresAt) {
				return payResult{outcome: outcomeSubmitted, signature: in.PayoutSignature, err: payrail.ErrUnconfirmed}
			}
			return payResult{outcome: outcomeExpired}
		}

		m.log.Warn("earlier payout failed",
			"wallet", in.WalletID,
			"intent_id", in.ID,
			"signature", in.PayoutSignature,
		)
		if now.After(in.ExpiresAt) {
			return payResult{outcome: outcomeExpired}
		}
	}

	t, err := m.rail.Prepare(ctx, in.WalletID, in.Lamports)
	if err != nil {
		return payResult{outcome: outcomeFailed, err: err}
	}

	// from here on a retry or a restart verifies this signature instead of paying again
	err = m.locked(ctx, in.WalletID, func(q *storage.Queries) error {
		return q.SetIntentSignature(ctx, in.ID, t.Signature)
	})
	if err != nil {
		return payResult{outcome: outcomeFailed, err: fmt.Errorf("store payout signature: %w", err)}
	}

	err = m.rail.Send(ctx, t)
	switch {
	case err == nil:
		return payResult{outcome: outcomePaid, signature: t.Signature}
	case errors.Is(err, payrail.ErrRejected):
		return payResult{outcome: outcomeFailed, err: err}
	case !errors.Is(err, payrail.ErrUnconfirmed):
		err = fmt.Errorf("%w: %w", payrail.ErrUnconfirmed, err)
	}
	return payResult{outcome: outcomeSubmitted, signature: t.Signature, err: err}
}

// finish records the payment outcome under the wallet lock. Without alert only a
// successful payout is reported to the sink.
func (m *Manager) finish(ctx context.Context, in *storage.ClaimIntent, out payResult, alert bool) (*Receipt, error) {
	now := m.clock.Now()

	var receipt *Receipt
	var drift error

	err := m.locked(ctx, in.WalletID, func(q *storage.Queries) error {
		switch out.outcome {
		case outcomeSubmitted:
			if err := q.SetIntentSignature(ctx, in.ID, out.signature); err != nil {
				return err
			}
			_, err := q.SetIntentPaying(ctx, in.ID, false)
			return err

		case outcomeFailed:
			if err := q.SetIntentSignature(ctx, in.ID, ""); err != nil {
				return err
			}
			_, err := q.SetIntentPaying(ctx, in.ID, false)
			return err

		case outcomeExpired:
			if err := q.SetIntentSignature(ctx, in.ID, ""); err != nil {
				return err
			}
			_, err := q.SetIntentStatus(ctx, in.ID, storage.IntentPending, storage.IntentExpired)
			return err
		}

		acc, err := m.accrue(ctx, q, in.WalletID, now)
		if err != nil {
			return err
		}

		// the intent's snapshot plus whatever accrued since issuance; anything else
		// means the balance was debited in between
		expected := in.EarningsUSD.Add(acc.LifetimeAccrued.Sub(in.AccruedBaseline))
		if _, err := m.ledger.DebitClaimed(ctx, q, in.WalletID, in.EarningsUSD, expected, decimal.Zero, now); err != nil {
			if !errors.Is(err, apperr.ErrMismatch) {
				return err
			}
			drift = err
			if err := q.SetIntentSignature(ctx, in.ID, out.signature); err != nil {
				return err
			}
			_, err := q.SetIntentPaying(ctx, in.ID, false)
			return err
		}

		ok, err := q.MarkIntentPaid(ctx, in.ID, out.signature, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("intent %s left pending state during payment", in.ID)
		}

		receipt = &Receipt{
			IntentID:    in.ID,
			Signature:   out.signature,
			EarningsUSD: in.EarningsUSD,
			Lamports:    in.Lamports,
			AmountSOL:   in.AmountSOL,
			PaidAt:      now,
		}
		return nil
	})
	if err != nil {
		if out.outcome == outcomePaid {
			m.keepSignature(ctx, in, out.signature, err)
		}
		return nil, err
	}

	ev := Event{
		WalletID:  in.WalletID,
		IntentID:  in.ID,
		USD:       in.EarningsUSD,
		Lamports:  in.Lamports,
		Signature: out.signature,
		Err:       out.err,
		At:        now,
	}

	switch {
	case drift != nil:
		m.log.Error("payout sent but ledger drifted",
			"wallet", in.WalletID,
			"intent_id", in.ID,
			"signature", out.signature,
			"error", drift,
		)
		ev.Kind = EventSettlementDrift
		ev.Err = drift
		if alert {
			m.sink.Notify(ctx, ev)
		}
		return nil, drift

	case out.outcome == outcomeSubmitted:
		m.log.Warn("payout not confirmed yet",
			"wallet", in.WalletID,
			"intent_id", in.ID,
			"signature", out.signature,
			"error", out.err,
		)
		ev.Kind = EventPaymentUnconfirmed
		if alert {
			m.sink.Notify(ctx, ev)
		}
		return nil, apperr.Wrap(apperr.ErrPaymentUnconfirmed, out.err)

	case out.outcome == outcomeFailed:
		m.log.Error("payout failed",
			"wallet", in.WalletID,
			"intent_id", in.ID,
			"error", out.err,
		)
		ev.Kind = EventPaymentFailed
		if alert {
			m.sink.Notify(ctx, ev)
		}
		return nil, apperr.Wrap(apperr.ErrPaymentFailed, out.err)

	case out.outcome == outcomeExpired:
		m.log.Info("claim intent expired", "wallet", in.WalletID, "intent_id", in.ID)
		return nil, apperr.ErrIntentExpired
	}

	m.log.Info("claim paid",
		"wallet", in.WalletID,
		"intent_id", in.ID,
		"usd", in.EarningsUSD.String(),
		"lamports", in.Lamports,
		"signature", out.signature,
	)
	ev.Kind = EventPaid
	m.sink.Notify(ctx, ev)
	return receipt, nil
}

// keepSignature releases a paid intent whose settling transaction failed, keeping its
// signature so the next confirm verifies it instead of paying twice
func (m *Manager) keepSignature(ctx context.Context, in *storage.ClaimIntent, sig string, cause error) {
	m.log.Error("settle paid intent",
		"wallet", in.WalletID,
		"intent_id", in.ID,
		"signature", sig,
		"error", cause,
	)

	err := m.locked(ctx, in.WalletID, func(q *storage.Queries) error {
		if err := q.SetIntentSignature(ctx, in.ID, sig); err != nil {
			return err
		}
		_, err := q.SetIntentPaying(ctx, in.ID, false)
		return err
	})
	if err != nil {
		m.log.Error("store payout signature", "intent_id", in.ID, "signature", sig, "error", err)
	}
}

func (m *Manager) quote(ctx context.Context) (pricefeed.Quote, error) {
	q, err := m.oracle.SolUSD(ctx)
	if err != nil {
		m.log.Warn("price oracle", "error", err)
		return pricefeed.Quote{}, apperr.Wrap(apperr.ErrPriceUnavailable, err)
	}
	if !q.Rate.IsPositive() {
		return pricefeed.Quote{}, apperr.Wrapf(apperr.ErrPriceUnavailable, "non-positive rate %s from %s", q.Rate, q.Source)
	}
	if m.cfg.PriceMaxAge > 0 {
		if age := m.clock.Now().Sub(q.ObservedAt); age > m.cfg.PriceMaxAge {
			return pricefeed.Quote{}, apperr.Wrapf(apperr.ErrPriceUnavailable, "%s quote is %s old", q.Source, age.Round(time.Second))
		}
	}
	return q, nil
}

func (m *Manager) accrue(ctx context.Context, q *storage.Queries, walletID string, now time.Time) (*storage.Account, error) {
	if err := m.gate.Sync(ctx, q, walletID, now); err != nil {
		return nil, err
	}
	return m.ledger.Accrue(ctx, q, walletID, now)
}

func (m *Manager) claimable(usd decimal.Decimal) bool {
	return usd.GreaterThan(m.cfg.MinClaimUSD)
}

func (m *Manager) checkNotInFlight(ctx context.Context, q *storage.Queries, walletID string) error {
	n, err := q.CountInFlightIntents(ctx, walletID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.ErrPaymentInFlight
	}
	return nil
}

func (m *Manager) owned(ctx context.Context, q *storage.Queries, walletID, intentID string) (*storage.ClaimIntent, error) {
	in, err := q.GetIntent(ctx, intentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	if in.WalletID != walletID {
		return nil, apperr.ErrIntentNotFound
	}
	return in, nil
}

func (m *Manager) locked(ctx context.Context, walletID string, fn func(q *storage.Queries) error) error {
	release := m.locks.Lock(walletID)
	defer release()
	return m.store.WithTx(ctx, fn)
}

func statusError(s storage.IntentStatus) error {
	switch s {
	case storage.IntentPaid:
		return apperr.ErrAlreadyPaid
	case storage.IntentExpired:
		return apperr.ErrIntentExpired
	case storage.IntentVoided:
		return apperr.ErrIntentVoided
	}
	return nil
}
