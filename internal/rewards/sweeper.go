package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

// Recover settles claim intents a previous process left in flight.
// It must run before any request is served.
func (s *Service) Recover(ctx context.Context) error {
	return s.claims.Recover(ctx)
}

// SweepLoop periodically closes finished expeditions and expires overdue claim intents
func (s *Service) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("sweep loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep", "error", err)
			}
		}
	}
}

// Sweep runs one pass of the background maintenance
func (s *Service) Sweep(ctx context.Context) error {
	due, err := s.gate.ExpireDue(ctx, s.store.Queries, s.clock.Now())
	if err != nil {
		return fmt.Errorf("list due expeditions: %w", err)
	}

	for _, walletID := range due {
		err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
			return s.gate.Sync(ctx, q, walletID, now)
		})
		if err != nil {
			s.log.Error("close expedition", "wallet", walletID, "error", err)
		}
	}

	if _, err := s.claims.ExpireDue(ctx); err != nil {
		return err
	}
	if _, err := s.claims.Reconcile(ctx); err != nil {
		return err
	}
	return nil
}
