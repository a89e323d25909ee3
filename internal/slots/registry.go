package slots

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/ledger"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

// Guard vetoes slot mutations, the expedition gate in production
type Guard interface {
	GuardMutation(ctx context.Context, q *storage.Queries, walletID string, now time.Time) error
}

// SlotView is one ship slot, Alien is nil when the slot is free
type SlotView struct {
	Index int
	Alien *storage.Alien
}

// Listing is a wallet's ship with every slot
type Listing struct {
	Level    int
	MaxSlots int
	Slots    []SlotView
	FleetROI decimal.Decimal
}

// Registry tracks which aliens occupy which ship slots
type Registry struct {
	ledger *ledger.Ledger
	guard  Guard
	ladder Ladder
	log    *slog.Logger
}

// NewRegistry creates a new Registry
func NewRegistry(l *ledger.Ledger, guard Guard, ladder Ladder, log *slog.Logger) *Registry {
	return &Registry{
		ledger: l,
		guard:  guard,
		ladder: ladder,
		log:    log,
	}
}

// Assign puts an owned alien into a specific slot
func (r *Registry) Assign(ctx context.Context, q *storage.Queries, walletID string, slotIndex int, alienID int64, now time.Time) (*Listing, error) {
	acc, err := account(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	maxSlots, ok := r.ladder.MaxSlots(acc.ShipLevel)
	if !ok {
		return nil, apperr.Wrapf(apperr.ErrBadShipLevel, "level %d", acc.ShipLevel)
	}
	if slotIndex < 0 || slotIndex >= maxSlots {
		return nil, apperr.Wrapf(apperr.ErrBadSlot, "slot %d, ship has %d", slotIndex, maxSlots)
	}

	if err := r.ownedAlien(ctx, q, walletID, alienID); err != nil {
		return nil, err
	}
	if err := r.guard.GuardMutation(ctx, q, walletID, now); err != nil {
		return nil, err
	}

	occupied, err := q.ListSlots(ctx, walletID)
	if err != nil {
		return nil, err
	}
	for _, s := range occupied {
		if s.Index == slotIndex {
			return nil, apperr.Wrapf(apperr.ErrSlotOccupied, "slot %d", slotIndex)
		}
		if s.Alien.ID == alienID {
			return nil, apperr.Wrapf(apperr.ErrAlreadyAssigned, "alien %d in slot %d", alienID, s.Index)
		}
	}

	return r.occupy(ctx, q, walletID, slotIndex, alienID, now)
}

// AssignFirstFree puts an owned alien into the lowest free slot
func (r *Registry) AssignFirstFree(ctx context.Context, q *storage.Queries, walletID string, alienID int64, now time.Time) (*Listing, error) {
	acc, err := account(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	maxSlots, ok := r.ladder.MaxSlots(acc.ShipLevel)
	if !ok {
		return nil, apperr.Wrapf(apperr.ErrBadShipLevel, "level %d", acc.ShipLevel)
	}

	if err := r.ownedAlien(ctx, q, walletID, alienID); err != nil {
		return nil, err
	}
	if err := r.guard.GuardMutation(ctx, q, walletID, now); err != nil {
		return nil, err
	}

	occupied, err := q.ListSlots(ctx, walletID)
	if err != nil {
		return nil, err
	}

	taken := make(map[int]bool, len(occupied))
	for _, s := range occupied {
		if s.Alien.ID == alienID {
			return nil, apperr.Wrapf(apperr.ErrAlreadyAssigned, "alien %d in slot %d", alienID, s.Index)
		}
		taken[s.Index] = true
	}

	slot := FirstFree(taken, maxSlots)
	if slot < 0 {
		return nil, apperr.ErrNoFreeSlot
	}

	return r.occupy(ctx, q, walletID, slot, alienID, now)
}

// Unassign frees the slot an alien occupies
func (r *Registry) Unassign(ctx context.Context, q *storage.Queries, walletID string, alienID int64, now time.Time) (*Listing, error) {
	if _, err := account(ctx, q, walletID); err != nil {
		return nil, err
	}
	if err := r.ownedAlien(ctx, q, walletID, alienID); err != nil {
		return nil, err
	}
	if err := r.guard.GuardMutation(ctx, q, walletID, now); err != nil {
		return nil, err
	}

	err := q.DeleteSlotByAlien(ctx, walletID, alienID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrapf(apperr.ErrNotAssigned, "alien %d", alienID)
	}
	if err != nil {
		return nil, err
	}

	listing, err := r.resetRate(ctx, q, walletID, now)
	if err != nil {
		return nil, err
	}

	r.log.Info("alien unassigned",
		"wallet", walletID,
		"alien_id", alienID,
		"fleet_roi", listing.FleetROI.String(),
	)
	return listing, nil
}

// Upgrade moves the ship one level up the ladder
func (r *Registry) Upgrade(ctx context.Context, q *storage.Queries, walletID string, level int) (*Listing, error) {
	acc, err := account(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	if acc.ShipLevel >= r.ladder.Top() {
		return nil, apperr.Wrapf(apperr.ErrBadShipLevel, "ship already at top level %d", acc.ShipLevel)
	}
	next, ok := r.ladder.Next(acc.ShipLevel)
	if !ok || next.Level != level {
		return nil, apperr.Wrapf(apperr.ErrBadShipLevel, "current %d, requested %d", acc.ShipLevel, level)
	}

	if err := q.SetShipLevel(ctx, walletID, level); err != nil {
		return nil, err
	}

	r.log.Info("ship upgraded", "wallet", walletID, "level", level, "slots", next.Slots)
	return r.Listing(ctx, q, walletID)
}

// Listing returns every slot of the wallet's ship
func (r *Registry) Listing(ctx context.Context, q *storage.Queries, walletID string) (*Listing, error) {
	acc, err := account(ctx, q, walletID)
	if err != nil {
		return nil, err
	}

	maxSlots, _ := r.ladder.MaxSlots(acc.ShipLevel)
	occupied, err := q.ListSlots(ctx, walletID)
	if err != nil {
		return nil, err
	}

	listing := &Listing{
		Level:    acc.ShipLevel,
		MaxSlots: maxSlots,
		Slots:    make([]SlotView, maxSlots),
		FleetROI: SumROI(occupied),
	}
	for i := range listing.Slots {
		listing.Slots[i].Index = i
	}
	for i := range occupied {
		s := occupied[i]
		if s.Index < maxSlots {
			listing.Slots[s.Index].Alien = &s.Alien
		}
	}
	return listing, nil
}

// FleetROI returns the USD/day ROI of the assigned aliens
func FleetROI(ctx context.Context, q *storage.Queries, walletID string) (decimal.Decimal, error) {
	occupied, err := q.ListSlots(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return SumROI(occupied), nil
}

// SumROI adds up the ROI of occupied slots
func SumROI(slots []storage.Slot) decimal.Decimal {
	total := decimal.Zero
	for _, s := range slots {
		total = total.Add(s.Alien.ROIPerDay)
	}
	return total
}

// FirstFree returns the lowest index in [0, maxSlots) not in taken, or -1
func FirstFree(taken map[int]bool, maxSlots int) int {
	for i := 0; i < maxSlots; i++ {
		if !taken[i] {
			return i
		}
	}
	return -1
}

func (r *Registry) occupy(ctx context.Context, q *storage.Queries, walletID string, slotIndex int, alienID int64, now time.Time) (*Listing, error) {
	err := q.InsertSlot(ctx, walletID, slotIndex, alienID, now)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, apperr.Wrapf(apperr.ErrSlotOccupied, "slot %d", slotIndex)
	}
	if err != nil {
		return nil, err
	}

	listing, err := r.resetRate(ctx, q, walletID, now)
	if err != nil {
		return nil, err
	}

	r.log.Info("alien assigned",
		"wallet", walletID,
		"alien_id", alienID,
		"slot", slotIndex,
		"fleet_roi", listing.FleetROI.String(),
	)
	return listing, nil
}

// resetRate settles earnings at the old rate and stores the effective rate.
// Slots only change while docked, where nothing accrues; the fleet total is applied by the
// expedition gate when it opens the accrual window.
func (r *Registry) resetRate(ctx context.Context, q *storage.Queries, walletID string, now time.Time) (*Listing, error) {
	listing, err := r.Listing(ctx, q, walletID)
	if err != nil {
		return nil, err
	}
	if _, err := r.ledger.SetROI(ctx, q, walletID, decimal.Zero, now); err != nil {
		return nil, err
	}
	return listing, nil
}

func (r *Registry) ownedAlien(ctx context.Context, q *storage.Queries, walletID string, alienID int64) error {
	alien, err := q.GetAlien(ctx, alienID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrapf(apperr.ErrAlienNotFound, "alien %d", alienID)
	}
	if err != nil {
		return err
	}
	if alien.WalletID != walletID {
		return apperr.Wrapf(apperr.ErrAlienNotOwned, "alien %d", alienID)
	}
	return nil
}

func account(ctx context.Context, q *storage.Queries, walletID string) (*storage.Account, error) {
	acc, err := q.GetAccount(ctx, walletID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrUnknownWallet
	}
	return acc, err
}
