package rewards_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/clock"
	"github.com/suspectuso/zeruva-rewards/internal/payrail"
	"github.com/suspectuso/zeruva-rewards/internal/pricefeed"
	"github.com/suspectuso/zeruva-rewards/internal/rewards"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
)

const (
	walletA = "11111111111111111111111111111111"
	walletB = "So11111111111111111111111111111111111111112"
)

type env struct {
	ctx   context.Context
	svc   *rewards.Service
	store *storage.Storage
	clk   *clock.Manual
	rail  *payrail.Simulated
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "rewards.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewManual(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	rail := payrail.NewSimulated(0, log)
	oracle := pricefeed.Fixed{Rate: decimal.NewFromInt(150), Now: clk.Now}

	svc := rewards.New(store, rewards.DefaultConfig(), oracle, rail, nil, clk, log)

	return &env{
		ctx:   context.Background(),
		svc:   svc,
		store: store,
		clk:   clk,
		rail:  rail,
	}
}

// fleet registers walletA and assigns one alien per ROI, slot by slot
func (e *env) fleet(t *testing.T, rois ...string) []int64 {
	t.Helper()

	_, err := e.svc.Register(e.ctx, walletA)
	require.NoError(t, err)

	var ids []int64
	for _, roi := range rois {
		alien, err := e.svc.GrantAlien(e.ctx, walletA, 1, "common", "alien.png", decimal.RequireFromString(roi))
		require.NoError(t, err)

		_, err = e.svc.AssignFirstFree(e.ctx, walletA, alien.ID)
		require.NoError(t, err)
		ids = append(ids, alien.ID)
	}
	return ids
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestRegister(t *testing.T) {
	e := newEnv(t)

	acc, err := e.svc.Register(e.ctx, walletA)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.ShipLevel)

	_, err = e.svc.Register(e.ctx, walletA)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRegistered)

	_, err = e.svc.Register(e.ctx, "not-a-wallet")
	assert.ErrorIs(t, err, apperr.ErrInvalidWallet)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.svc.GetStatus(e.ctx, walletB)
	assert.ErrorIs(t, err, apperr.ErrUnknownWallet)
}

func TestExpeditionAccrual(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "2.0", "3.0")

	st, err := e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "0", st.ROIPerDay)
	assertDecimal(t, "5", st.FleetROI)

	exp, err := e.svc.StartExpedition(e.ctx, walletA, "Mars")
	require.NoError(t, err)
	assert.True(t, exp.Active)
	assert.Equal(t, "mars", exp.Planet)

	e.clk.Advance(time.Hour)

	st, err = e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "5", st.ROIPerDay)
	assert.True(t, st.Expedition.Active)

	want := decimal.RequireFromString("0.2083333")
	assert.True(t, st.PendingEarnings.Sub(want).Abs().LessThan(decimal.RequireFromString("0.000001")),
		"pending %s", st.PendingEarnings)
}

func TestExpeditionOverrunIsCapped(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "2.0", "3.0")

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)

	e.clk.Advance(10 * time.Hour)

	st, err := e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assert.False(t, st.Expedition.Active)
	assertDecimal(t, "0", st.ROIPerDay)
	// 5 USD/day for the 6h expedition
	assertDecimal(t, "1.25", st.PendingEarnings)

	e.clk.Advance(24 * time.Hour)

	st, err = e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "1.25", st.PendingEarnings)
	assertDecimal(t, "1.25", st.LifetimeAccrued)
}

func TestSlotsFrozenDuringExpedition(t *testing.T) {
	e := newEnv(t)
	ids := e.fleet(t, "2.0")

	spare, err := e.svc.GrantAlien(e.ctx, walletA, 2, "rare", "", decimal.NewFromInt(4))
	require.NoError(t, err)

	_, err = e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)

	_, err = e.svc.Assign(e.ctx, walletA, 1, spare.ID)
	assert.ErrorIs(t, err, apperr.ErrExpeditionActive)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, strings.Contains(err.Error(), "cannot change assignments during expedition"))

	_, err = e.svc.Unassign(e.ctx, walletA, ids[0])
	assert.ErrorIs(t, err, apperr.ErrExpeditionActive)

	ship, err := e.svc.Ship(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "2", ship.FleetROI)
	require.NotNil(t, ship.Slots[0].Alien)
	assert.Nil(t, ship.Slots[1].Alien)

	st, err := e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "2", st.ROIPerDay)
}

func TestStartExpeditionErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	assert.ErrorIs(t, err, apperr.ErrUnknownWallet)

	_, err = e.svc.Register(e.ctx, walletA)
	require.NoError(t, err)

	_, err = e.svc.StartExpedition(e.ctx, walletA, "mars")
	assert.ErrorIs(t, err, apperr.ErrEmptyFleet)

	alien, err := e.svc.GrantAlien(e.ctx, walletA, 1, "common", "", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = e.svc.Assign(e.ctx, walletA, 0, alien.ID)
	require.NoError(t, err)

	_, err = e.svc.StartExpedition(e.ctx, walletA, "  ")
	assert.ErrorIs(t, err, apperr.ErrUnknownPlanet)

	_, err = e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)

	_, err = e.svc.StartExpedition(e.ctx, walletA, "venus")
	assert.ErrorIs(t, err, apperr.ErrAlreadyActive)
}

func TestEndExpedition(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "24")

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)

	e.clk.Advance(time.Hour)
	require.NoError(t, e.svc.EndExpedition(e.ctx, walletA))

	exp, err := e.svc.Expedition(e.ctx, walletA)
	require.NoError(t, err)
	assert.False(t, exp.Active)

	e.clk.Advance(time.Hour)

	st, err := e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "1", st.PendingEarnings)

	err = e.svc.EndExpedition(e.ctx, walletA)
	assert.ErrorIs(t, err, apperr.ErrNotActive)
}

func TestAssignRules(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Register(e.ctx, walletA)
	require.NoError(t, err)
	_, err = e.svc.Register(e.ctx, walletB)
	require.NoError(t, err)

	a1, err := e.svc.GrantAlien(e.ctx, walletA, 1, "common", "", decimal.NewFromInt(1))
	require.NoError(t, err)
	a2, err := e.svc.GrantAlien(e.ctx, walletA, 1, "common", "", decimal.NewFromInt(2))
	require.NoError(t, err)
	foreign, err := e.svc.GrantAlien(e.ctx, walletB, 1, "common", "", decimal.NewFromInt(3))
	require.NoError(t, err)

	tests := []struct {
		name    string
		slot    int
		alienID int64
		wantErr error
	}{
		{name: "assign", slot: 1, alienID: a1.ID},
		{name: "slot out of range", slot: 2, alienID: a2.ID, wantErr: apperr.ErrBadSlot},
		{name: "negative slot", slot: -1, alienID: a2.ID, wantErr: apperr.ErrBadSlot},
		{name: "slot occupied", slot: 1, alienID: a2.ID, wantErr: apperr.ErrSlotOccupied},
		{name: "already assigned", slot: 0, alienID: a1.ID, wantErr: apperr.ErrAlreadyAssigned},
		{name: "foreign alien", slot: 0, alienID: foreign.ID, wantErr: apperr.ErrAlienNotOwned},
		{name: "missing alien", slot: 0, alienID: 9999, wantErr: apperr.ErrAlienNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.Assign(e.ctx, walletA, tt.slot, tt.alienID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	// first free slot is the lowest index
	ship, err := e.svc.AssignFirstFree(e.ctx, walletA, a2.ID)
	require.NoError(t, err)
	require.NotNil(t, ship.Slots[0].Alien)
	assert.Equal(t, a2.ID, ship.Slots[0].Alien.ID)
	assertDecimal(t, "3", ship.FleetROI)

	a3, err := e.svc.GrantAlien(e.ctx, walletA, 1, "common", "", decimal.NewFromInt(1))
	require.NoError(t, err)
	_, err = e.svc.AssignFirstFree(e.ctx, walletA, a3.ID)
	assert.ErrorIs(t, err, apperr.ErrNoFreeSlot)

	_, err = e.svc.Unassign(e.ctx, walletA, a3.ID)
	assert.ErrorIs(t, err, apperr.ErrNotAssigned)

	ship, err = e.svc.Unassign(e.ctx, walletA, a1.ID)
	require.NoError(t, err)
	assert.Nil(t, ship.Slots[1].Alien)
	assertDecimal(t, "2", ship.FleetROI)

	aliens, err := e.svc.Aliens(e.ctx, walletA)
	require.NoError(t, err)
	require.Len(t, aliens, 3)
	assert.Nil(t, aliens[0].Slot)
	require.NotNil(t, aliens[1].Slot)
	assert.Equal(t, 0, *aliens[1].Slot)
	assert.Nil(t, aliens[2].Slot)
}

func TestUpgradeShip(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Register(e.ctx, walletA)
	require.NoError(t, err)

	_, err = e.svc.UpgradeShip(e.ctx, walletA, 3)
	assert.ErrorIs(t, err, apperr.ErrBadShipLevel)

	ship, err := e.svc.UpgradeShip(e.ctx, walletA, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ship.Level)
	assert.Equal(t, 4, ship.MaxSlots)
	assert.Len(t, ship.Slots, 4)

	_, err = e.svc.UpgradeShip(e.ctx, walletA, 2)
	assert.ErrorIs(t, err, apperr.ErrBadShipLevel)

	ship, err = e.svc.UpgradeShip(e.ctx, walletA, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, ship.MaxSlots)

	_, err = e.svc.UpgradeShip(e.ctx, walletA, 4)
	assert.ErrorIs(t, err, apperr.ErrBadShipLevel)
}

func TestClaimFlow(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "24")

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)
	e.clk.Advance(3 * time.Hour)

	offer, err := e.svc.CreateClaimIntent(e.ctx, walletA, nil)
	require.NoError(t, err)
	require.NotNil(t, offer.Intent)
	assertDecimal(t, "3", offer.Intent.EarningsUSD)
	assertDecimal(t, "0.02", offer.Intent.AmountSOL)
	assert.Equal(t, "fixed", offer.Intent.RateSource)

	receipt, err := e.svc.ConfirmClaim(e.ctx, walletA, offer.Intent.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.Signature, "sim_"))
	assert.Equal(t, 1, e.rail.Sent())

	_, err = e.svc.ConfirmClaim(e.ctx, walletA, offer.Intent.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyPaid)
	assert.Equal(t, 1, e.rail.Sent())

	st, err := e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "3", st.TotalClaimed)
	assertDecimal(t, "0", st.PendingEarnings)
	require.NotNil(t, st.LastClaimAt)

	in, err := e.svc.ClaimIntent(e.ctx, walletA, offer.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.IntentPaid, in.Status)

	intents, err := e.svc.Intents(e.ctx, walletA, 10)
	require.NoError(t, err)
	assert.Len(t, intents, 1)

	stats, err := e.svc.Stats(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Accounts)
	assert.Equal(t, 1, stats.PaidIntents)
	assertDecimal(t, "3", stats.TotalClaimed)
}

func TestSweep(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "24")

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)
	e.clk.Advance(2 * time.Hour)

	offer, err := e.svc.CreateClaimIntent(e.ctx, walletA, nil)
	require.NoError(t, err)
	require.NotNil(t, offer.Intent)

	e.clk.Advance(5 * time.Hour)
	require.NoError(t, e.svc.Sweep(e.ctx))

	_, err = e.store.GetOpenExpedition(e.ctx, walletA)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	in, err := e.store.GetIntent(e.ctx, offer.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.IntentExpired, in.Status)

	acc, err := e.store.GetAccount(e.ctx, walletA)
	require.NoError(t, err)
	assert.Nil(t, acc.AccrueUntil)
	assertDecimal(t, "6", acc.PendingEarnings)
	assertDecimal(t, "0", acc.TotalClaimed)
}

func TestDockedROIStaysZero(t *testing.T) {
	e := newEnv(t)
	ids := e.fleet(t, "2.0", "3.0")

	acc, err := e.store.GetAccount(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "0", acc.ROIPerDay)

	_, err = e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)

	acc, err = e.store.GetAccount(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "5", acc.ROIPerDay)

	e.clk.Advance(time.Hour)
	require.NoError(t, e.svc.EndExpedition(e.ctx, walletA))

	ship, err := e.svc.Unassign(e.ctx, walletA, ids[0])
	require.NoError(t, err)
	assertDecimal(t, "3", ship.FleetROI)

	acc, err = e.store.GetAccount(e.ctx, walletA)
	require.NoError(t, err)
	assertDecimal(t, "0", acc.ROIPerDay)
	assert.Nil(t, acc.AccrueUntil)

	// nothing accrues while docked
	before := acc.PendingEarnings
	e.clk.Advance(time.Hour)
	st, err := e.svc.GetStatus(e.ctx, walletA)
	require.NoError(t, err)
	assert.True(t, before.Equal(st.PendingEarnings))
}

func TestSweepExpiresLostPayout(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "24")

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)
	e.clk.Advance(time.Hour)

	offer, err := e.svc.CreateClaimIntent(e.ctx, walletA, nil)
	require.NoError(t, err)
	require.NotNil(t, offer.Intent)

	// a transfer that was signed and recorded but never landed
	require.NoError(t, e.store.SetIntentSignature(e.ctx, offer.Intent.ID, "sim_lost"))

	_, err = e.svc.CreateClaimIntent(e.ctx, walletA, nil)
	assert.ErrorIs(t, err, apperr.ErrPaymentInFlight)

	e.clk.Advance(10 * time.Minute)
	require.NoError(t, e.svc.Sweep(e.ctx))

	in, err := e.store.GetIntent(e.ctx, offer.Intent.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.IntentExpired, in.Status)
	assert.Zero(t, e.rail.Sent())

	next, err := e.svc.CreateClaimIntent(e.ctx, walletA, nil)
	require.NoError(t, err)
	require.NotNil(t, next.Intent)
}

func TestRecoverBeforeServing(t *testing.T) {
	e := newEnv(t)
	e.fleet(t, "24")

	_, err := e.svc.StartExpedition(e.ctx, walletA, "mars")
	require.NoError(t, err)
	e.clk.Advance(time.Hour)

	offer, err := e.svc.CreateClaimIntent(e.ctx, walletA, nil)
	require.NoError(t, err)
	require.NotNil(t, offer.Intent)

	ok, err := e.store.SetIntentPaying(e.ctx, offer.Intent.ID, true)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.svc.Recover(e.ctx))

	_, err = e.svc.ConfirmClaim(e.ctx, walletA, offer.Intent.ID)
	assert.ErrorIs(t, err, apperr.ErrIntentExpired)
	assert.Zero(t, e.rail.Sent())
}
