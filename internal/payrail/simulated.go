package payrail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulated pretends to pay, for development without a treasury
type Simulated struct {
	latency time.Duration
	log     *slog.Logger

	mu   sync.Mutex
	sent map[string]uint64
}

// NewSimulated creates a simulated rail
func NewSimulated(latency time.Duration, log *slog.Logger) *Simulated {
	return &Simulated{
		latency: latency,
		log:     log,
		sent:    make(map[string]uint64),
	}
}

func (s *Simulated) QuoteLamports(usd, rate decimal.Decimal) uint64 {
	return QuoteLamports(usd, rate)
}

// Prepare returns a transfer with a fake signature
func (s *Simulated) Prepare(ctx context.Context, walletID string, lamports uint64) (Transfer, error) {
	if lamports == 0 {
		return Transfer{}, fmt.Errorf("zero lamports transfer")
	}
	return Transfer{
		Signature: "sim_" + uuid.NewString(),
		WalletID:  walletID,
		Lamports:  lamports,
	}, nil
}

// Send logs the transfer, waits the configured latency and records it as landed
func (s *Simulated) Send(ctx context.Context, t Transfer) error {
	s.log.Info("simulated payout", "wallet", t.WalletID, "lamports", t.Lamports, "signature", t.Signature)

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrUnconfirmed, ctx.Err())
	case <-time.After(s.latency):
	}

	s.mu.Lock()
	s.sent[t.Signature] = t.Lamports
	s.mu.Unlock()

	return nil
}

func (s *Simulated) Verify(ctx context.Context, signature string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sent[signature]; ok {
		return StatusConfirmed, nil
	}
	return StatusNotFound, nil
}

// Sent returns how many payouts were made
func (s *Simulated) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
