package expedition

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/ledger"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

// End reasons recorded on closed expeditions
const (
	ReasonTimeout = "timeout"
	ReasonForced  = "forced"
)

const maxPlanetLen = 32

// Fleet reports the ROI of the aliens currently assigned to a wallet's ship
type Fleet interface {
	FleetROI(ctx context.Context, q *storage.Queries, walletID string) (decimal.Decimal, error)
}

// FleetFunc adapts a plain function to Fleet
type FleetFunc func(ctx context.Context, q *storage.Queries, walletID string) (decimal.Decimal, error)

func (f FleetFunc) FleetROI(ctx context.Context, q *storage.Queries, walletID string) (decimal.Decimal, error) {
	return f(ctx, q, walletID)
}

// Status is the expedition state of a wallet
type Status struct {
	Active    bool
	Planet    string
	StartedAt time.Time
	EndsAt    time.Time
}

// Gate is the per-wallet expedition state machine.
// Accrual only runs while an expedition is active and slots are frozen meanwhile.
type Gate struct {
	ledger   *ledger.Ledger
	fleet    Fleet
	duration time.Duration
	planets  map[string]bool
	log      *slog.Logger
}

// NewGate creates a new Gate. An empty planets list accepts any planet name.
func NewGate(l *ledger.Ledger, fleet Fleet, duration time.Duration, planets []string, log *slog.Logger) *Gate {
	allowed := make(map[string]bool, len(planets))
	for _, p := range planets {
		allowed[normalizePlanet(p)] = true
	}

	return &Gate{
		ledger:   l,
		fleet:    fleet,
		duration: duration,
		planets:  allowed,
		log:      log,
	}
}

// Start sends the wallet's fleet on an expedition to planet
func (g *Gate) Start(ctx context.Context, q *storage.Queries, walletID, planet string, now time.Time) (*Status, error) {
	planet = normalizePlanet(planet)
	if planet == "" || len(planet) > maxPlanetLen {
		return nil, apperr.ErrUnknownPlanet
	}
	if len(g.planets) > 0 && !g.planets[planet] {
		return nil, apperr.Wrapf(apperr.ErrUnknownPlanet, "%q", planet)
	}

	// settle the backlog before the new rate applies
	if _, err := g.ledger.Accrue(ctx, q, walletID, now); err != nil {
		return nil, err
	}

	st, err := g.Status(ctx, q, walletID, now)
	if err != nil {
		return nil, err
	}
	if st.Active {
		return nil, apperr.ErrAlreadyActive
	}

	roi, err := g.fleet.FleetROI(ctx, q, walletID)
	if err != nil {
		return nil, err
	}
	if !roi.IsPositive() {
		return nil, apperr.ErrEmptyFleet
	}

	exp := &storage.Expedition{
		WalletID:  walletID,
		Planet:    planet,
		StartedAt: now,
		EndsAt:    now.Add(g.duration),
	}
	if err := q.InsertExpedition(ctx, exp); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, apperr.ErrAlreadyActive
		}
		return nil, err
	}

	if _, err := g.ledger.OpenWindow(ctx, q, walletID, roi, exp.EndsAt, now); err != nil {
		return nil, err
	}

	g.log.Info("expedition started",
		"wallet", walletID,
		"planet", planet,
		"roi_per_day", roi.String(),
		"ends_at", exp.EndsAt,
	)

	return &Status{
		Active:    true,
		Planet:    exp.Planet,
		StartedAt: exp.StartedAt,
		EndsAt:    exp.EndsAt,
	}, nil
}

// Status returns the expedition state, closing an expedition whose ends_at has passed.
// Every accrual and claim path goes through here first.
func (g *Gate) Status(ctx context.Context, q *storage.Queries, walletID string, now time.Time) (*Status, error) {
	exp, err := q.GetOpenExpedition(ctx, walletID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}

	if now.Before(exp.EndsAt) {
		return &Status{
			Active:    true,
			Planet:    exp.Planet,
			StartedAt: exp.StartedAt,
			EndsAt:    exp.EndsAt,
		}, nil
	}

	if err := g.close(ctx, q, exp, exp.EndsAt, ReasonTimeout, now); err != nil {
		return nil, err
	}
	return &Status{}, nil
}

// Sync closes the wallet's expedition when its time is up
func (g *Gate) Sync(ctx context.Context, q *storage.Queries, walletID string, now time.Time) error {
	_, err := g.Status(ctx, q, walletID, now)
	return err
}

// ExpireDue lists wallets whose open expedition has passed ends_at.
// The caller closes each one under its wallet lock via Sync.
func (g *Gate) ExpireDue(ctx context.Context, q *storage.Queries, now time.Time) ([]string, error) {
	return q.ListDueExpeditions(ctx, now)
}

// GuardMutation rejects slot changes while an expedition is active
func (g *Gate) GuardMutation(ctx context.Context, q *storage.Queries, walletID string, now time.Time) error {
	st, err := g.Status(ctx, q, walletID, now)
	if err != nil {
		return err
	}
	if st.Active {
		return apperr.ErrExpeditionActive
	}
	return nil
}

// End force-ends an active expedition
func (g *Gate) End(ctx context.Context, q *storage.Queries, walletID string, now time.Time) error {
	st, err := g.Status(ctx, q, walletID, now)
	if err != nil {
		return err
	}
	if !st.Active {
		return apperr.ErrNotActive
	}

	exp, err := q.GetOpenExpedition(ctx, walletID)
	if err != nil {
		return err
	}
	return g.close(ctx, q, exp, now, ReasonForced, now)
}

func (g *Gate) close(ctx context.Context, q *storage.Queries, exp *storage.Expedition, endedAt time.Time, reason string, now time.Time) error {
	// the ledger window is capped at ends_at, so accrual stops there however late this runs
	acc, err := g.ledger.CloseWindow(ctx, q, exp.WalletID, now)
	if err != nil {
		return err
	}
	if err := q.CloseExpedition(ctx, exp.ID, endedAt, reason); err != nil {
		return err
	}

	g.log.Info("expedition ended",
		"wallet", exp.WalletID,
		"planet", exp.Planet,
		"reason", reason,
		"pending", acc.PendingEarnings.String(),
	)
	return nil
}

func normalizePlanet(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
