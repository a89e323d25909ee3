package rewards

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/apperr"
	"github.com/suspectuso/zeruva-rewards/internal/claims"
	"github.com/suspectuso/zeruva-rewards/internal/clock"
	"github.com/suspectuso/zeruva-rewards/internal/expedition"
	"github.com/suspectuso/zeruva-rewards/internal/ledger"
	"github.com/suspectuso/zeruva-rewards/internal/payrail"
	"github.com/suspectuso/zeruva-rewards/internal/slots"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
	"github.com/suspectuso/zeruva-rewards/internal/walletlock"
)

// Config is the game economy the service runs with
type Config struct {
	Ladder             slots.Ladder
	Planets            []string
	ExpeditionDuration time.Duration
	Claims             claims.Config
}

// DefaultConfig returns the built-in economy
func DefaultConfig() Config {
	return Config{
		Ladder:             slots.DefaultLadder(),
		ExpeditionDuration: 6 * time.Hour,
		Claims:             claims.DefaultConfig(),
	}
}

// Status is a wallet's rewards overview
type Status struct {
	WalletID        string
	PendingEarnings decimal.Decimal
	ROIPerDay       decimal.Decimal // effective rate, 0 outside expeditions
	FleetROI        decimal.Decimal
	TotalClaimed    decimal.Decimal
	LifetimeAccrued decimal.Decimal
	LastAccrualAt   time.Time
	LastClaimAt     *time.Time
	ShipLevel       int
	Expedition      expedition.Status
}

// AlienView is an owned alien and the slot it occupies, if any
type AlienView struct {
	storage.Alien
	Slot *int
}

// Service runs every wallet operation under the wallet's lock and in one transaction
type Service struct {
	store    *storage.Storage
	locks    *walletlock.Locks
	clock    clock.Clock
	ledger   *ledger.Ledger
	gate     *expedition.Gate
	registry *slots.Registry
	claims   *claims.Manager
	log      *slog.Logger
}

// New wires the ledger components over store
func New(store *storage.Storage, cfg Config, oracle claims.PriceOracle, rail claims.PaymentRail, sink claims.Sink, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}

	locks := walletlock.New()
	l := ledger.New(log.With("component", "ledger"))
	gate := expedition.NewGate(l, expedition.FleetFunc(slots.FleetROI), cfg.ExpeditionDuration, cfg.Planets, log.With("component", "expedition"))
	registry := slots.NewRegistry(l, gate, cfg.Ladder, log.With("component", "slots"))

	mgr := claims.NewManager(claims.Deps{
		Store:  store,
		Locks:  locks,
		Ledger: l,
		Gate:   gate,
		Oracle: oracle,
		Rail:   rail,
		Clock:  clk,
		Sink:   sink,
	}, cfg.Claims, log.With("component", "claims"))

	return &Service{
		store:    store,
		locks:    locks,
		clock:    clk,
		ledger:   l,
		gate:     gate,
		registry: registry,
		claims:   mgr,
		log:      log,
	}
}

// Now reads the service clock
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Register creates the ledger account of a wallet
func (s *Service) Register(ctx context.Context, walletID string) (*storage.Account, error) {
	if !payrail.ValidWallet(walletID) {
		return nil, apperr.ErrInvalidWallet
	}

	var acc *storage.Account
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		acc, err = q.CreateAccount(ctx, walletID, now)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return apperr.ErrAlreadyRegistered
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("wallet registered", "wallet", walletID)
	return acc, nil
}

// GrantAlien adds an alien to a wallet's collection
func (s *Service) GrantAlien(ctx context.Context, walletID string, alienType int, tier, image string, roiPerDay decimal.Decimal) (*storage.Alien, error) {
	if roiPerDay.IsNegative() {
		return nil, apperr.Wrapf(apperr.ErrValidation, "negative roi %s", roiPerDay)
	}

	var alien *storage.Alien
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		if _, err := account(ctx, q, walletID); err != nil {
			return err
		}

		alien = &storage.Alien{
			WalletID:  walletID,
			AlienType: alienType,
			Tier:      tier,
			Image:     image,
			ROIPerDay: roiPerDay,
			CreatedAt: now,
		}
		return q.InsertAlien(ctx, alien)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("alien granted",
		"wallet", walletID,
		"alien_id", alien.ID,
		"tier", tier,
		"roi_per_day", roiPerDay.String(),
	)
	return alien, nil
}

// GetStatus brings the wallet's earnings up to date and returns them
func (s *Service) GetStatus(ctx context.Context, walletID string) (*Status, error) {
	var st *Status
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		exp, err := s.gate.Status(ctx, q, walletID, now)
		if err != nil {
			return err
		}
		acc, err := s.ledger.Accrue(ctx, q, walletID, now)
		if err != nil {
			return err
		}
		fleet, err := slots.FleetROI(ctx, q, walletID)
		if err != nil {
			return err
		}
		lastClaim, err := q.LastClaimAt(ctx, walletID)
		if err != nil {
			return err
		}

		roi := decimal.Zero
		if exp.Active {
			roi = acc.ROIPerDay
		}

		st = &Status{
			WalletID:        walletID,
			PendingEarnings: acc.PendingEarnings,
			ROIPerDay:       roi,
			FleetROI:        fleet,
			TotalClaimed:    acc.TotalClaimed,
			LifetimeAccrued: acc.LifetimeAccrued,
			LastAccrualAt:   acc.LastAccrualAt,
			LastClaimAt:     lastClaim,
			ShipLevel:       acc.ShipLevel,
			Expedition:      *exp,
		}
		return nil
	})
	return st, err
}

// VerifyEarnings checks a client's idea of its claimable balance against the ledger without writing
func (s *Service) VerifyEarnings(ctx context.Context, walletID string, expected decimal.Decimal) (decimal.Decimal, error) {
	release := s.locks.Lock(walletID)
	defer release()

	return s.ledger.Verify(ctx, s.store.Queries, walletID, expected, s.claims.Config().HintTolerance, s.clock.Now())
}

// Ship returns the wallet's ship and its slots
func (s *Service) Ship(ctx context.Context, walletID string) (*slots.Listing, error) {
	var listing *slots.Listing
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		listing, err = s.registry.Listing(ctx, q, walletID)
		return err
	})
	return listing, err
}

// Aliens returns the wallet's aliens with their slot positions
func (s *Service) Aliens(ctx context.Context, walletID string) ([]AlienView, error) {
	var views []AlienView
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		if _, err := account(ctx, q, walletID); err != nil {
			return err
		}

		aliens, err := q.ListAliens(ctx, walletID)
		if err != nil {
			return err
		}
		occupied, err := q.ListSlots(ctx, walletID)
		if err != nil {
			return err
		}

		slotOf := make(map[int64]int, len(occupied))
		for _, sl := range occupied {
			slotOf[sl.Alien.ID] = sl.Index
		}

		views = make([]AlienView, 0, len(aliens))
		for _, a := range aliens {
			v := AlienView{Alien: a}
			if idx, ok := slotOf[a.ID]; ok {
				v.Slot = &idx
			}
			views = append(views, v)
		}
		return nil
	})
	return views, err
}

// Assign puts an alien into a ship slot
func (s *Service) Assign(ctx context.Context, walletID string, slotIndex int, alienID int64) (*slots.Listing, error) {
	var listing *slots.Listing
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		listing, err = s.registry.Assign(ctx, q, walletID, slotIndex, alienID, now)
		return err
	})
	return listing, err
}

// AssignFirstFree puts an alien into the lowest free slot
func (s *Service) AssignFirstFree(ctx context.Context, walletID string, alienID int64) (*slots.Listing, error) {
	var listing *slots.Listing
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		listing, err = s.registry.AssignFirstFree(ctx, q, walletID, alienID, now)
		return err
	})
	return listing, err
}

// Unassign takes an alien out of its slot
func (s *Service) Unassign(ctx context.Context, walletID string, alienID int64) (*slots.Listing, error) {
	var listing *slots.Listing
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		listing, err = s.registry.Unassign(ctx, q, walletID, alienID, now)
		return err
	})
	return listing, err
}

// UpgradeShip moves the ship to the next ladder level
func (s *Service) UpgradeShip(ctx context.Context, walletID string, level int) (*slots.Listing, error) {
	var listing *slots.Listing
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		listing, err = s.registry.Upgrade(ctx, q, walletID, level)
		return err
	})
	return listing, err
}

// StartExpedition sends the wallet's fleet to planet
func (s *Service) StartExpedition(ctx context.Context, walletID, planet string) (*expedition.Status, error) {
	var st *expedition.Status
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		var err error
		st, err = s.gate.Start(ctx, q, walletID, planet, now)
		return err
	})
	return st, err
}

// Expedition returns the wallet's expedition state
func (s *Service) Expedition(ctx context.Context, walletID string) (*expedition.Status, error) {
	var st *expedition.Status
	err := s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		if _, err := account(ctx, q, walletID); err != nil {
			return err
		}
		var err error
		st, err = s.gate.Status(ctx, q, walletID, now)
		return err
	})
	return st, err
}

// EndExpedition force-ends the wallet's expedition
func (s *Service) EndExpedition(ctx context.Context, walletID string) error {
	return s.withWallet(ctx, walletID, func(q *storage.Queries, now time.Time) error {
		return s.gate.End(ctx, q, walletID, now)
	})
}

// CreateClaimIntent locks a SOL payout for the wallet's claimable earnings
func (s *Service) CreateClaimIntent(ctx context.Context, walletID string, expectedUSD *decimal.Decimal) (*claims.Offer, error) {
	return s.claims.CreateIntent(ctx, walletID, expectedUSD)
}

// ConfirmClaim pays out a claim intent
func (s *Service) ConfirmClaim(ctx context.Context, walletID, intentID string) (*claims.Receipt, error) {
	return s.claims.Confirm(ctx, walletID, intentID)
}

// ClaimIntent returns one of the wallet's claim intents
func (s *Service) ClaimIntent(ctx context.Context, walletID, intentID string) (*storage.ClaimIntent, error) {
	return s.claims.Get(ctx, walletID, intentID)
}

// FindIntent looks an intent up by id regardless of owner, for operators
func (s *Service) FindIntent(ctx context.Context, intentID string) (*storage.ClaimIntent, error) {
	in, err := s.store.GetIntent(ctx, intentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrIntentNotFound
	}
	return in, err
}

// Intents returns the wallet's latest claim intents
func (s *Service) Intents(ctx context.Context, walletID string, limit int) ([]storage.ClaimIntent, error) {
	return s.claims.List(ctx, walletID, limit)
}

// Stats returns service-wide counters
func (s *Service) Stats(ctx context.Context) (*storage.Stats, error) {
	return s.store.GetStats(ctx)
}

// withWallet runs fn under the wallet lock in one transaction with a single clock reading
func (s *Service) withWallet(ctx context.Context, walletID string, fn func(q *storage.Queries, now time.Time) error) error {
	release := s.locks.Lock(walletID)
	defer release()

	now := s.clock.Now()
	return s.store.WithTx(ctx, func(q *storage.Queries) error {
		return fn(q, now)
	})
}

func account(ctx context.Context, q *storage.Queries, walletID string) (*storage.Account, error) {
	acc, err := q.GetAccount(ctx, walletID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrUnknownWallet
	}
	return acc, err
}
