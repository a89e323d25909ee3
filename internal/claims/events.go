package claims

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names something ops should hear about
type EventKind string

const (
	EventMismatch           EventKind = "mismatch"
	EventPaid               EventKind = "paid"
	EventPaymentFailed      EventKind = "payment_failed"
	EventPaymentUnconfirmed EventKind = "payment_unconfirmed"
	EventSettlementDrift    EventKind = "settlement_drift"
)

// Event is a claim lifecycle notification
type Event struct {
	Kind      EventKind
	WalletID  string
	IntentID  string
	USD       decimal.Decimal
	Expected  decimal.Decimal
	Lamports  uint64
	Signature string
	Err       error
	At        time.Time
}

// Sink receives claim events. Notify must not block for long.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, Event) {}
