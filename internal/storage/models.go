package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the per-wallet ledger row
type Account struct {
	WalletID        string
	ROIPerDay       decimal.Decimal // effective USD/day rate, 0 outside expeditions
	PendingEarnings decimal.Decimal
	LastAccrualAt   time.Time
	AccrueUntil     *time.Time // end of the open accrual window
	LifetimeAccrued decimal.Decimal
	TotalClaimed    decimal.Decimal
	ShipLevel       int
	CreatedAt       time.Time
}

// Alien is an owned alien with its absolute USD/day ROI
type Alien struct {
	ID        int64
	WalletID  string
	AlienType int
	Tier      string
	Image     string
	ROIPerDay decimal.Decimal
	CreatedAt time.Time
}

// Slot is an occupied ship slot
type Slot struct {
	Index int
	Alien Alien
}

// Expedition is an expedition row, open while EndedAt is nil
type Expedition struct {
	ID        int64
	WalletID  string
	Planet    string
	StartedAt time.Time
	EndsAt    time.Time
	EndedAt   *time.Time
	EndReason string
}

// IntentStatus is the lifecycle state of a claim intent
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentPaid    IntentStatus = "paid"
	IntentExpired IntentStatus = "expired"
	IntentVoided  IntentStatus = "voided"
)

// ClaimIntent is a price-locked payout quote
type ClaimIntent struct {
	ID              string
	WalletID        string
	EarningsUSD     decimal.Decimal
	AccruedBaseline decimal.Decimal // account lifetime_accrued at issuance
	SolUSDRate      decimal.Decimal
	RateSource      string
	RateObservedAt  time.Time
	Lamports        uint64
	AmountSOL       decimal.Decimal
	Status          IntentStatus
	PayoutSignature string
	Paying          bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	PaidAt          *time.Time
}

// Stats is an aggregate snapshot for the ops bot
type Stats struct {
	Accounts          int
	ActiveExpeditions int
	PendingIntents    int
	PaidIntents       int
	TotalPending      decimal.Decimal
	TotalClaimed      decimal.Decimal
}
