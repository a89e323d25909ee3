package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/suspectuso/zeruva-rewards/internal/api"
	"github.com/suspectuso/zeruva-rewards/internal/claims"
	"github.com/suspectuso/zeruva-rewards/internal/clock"
	"github.com/suspectuso/zeruva-rewards/internal/config"
	"github.com/suspectuso/zeruva-rewards/internal/notifier"
	"github.com/suspectuso/zeruva-rewards/internal/payrail"
	"github.com/suspectuso/zeruva-rewards/internal/pricefeed"
	"github.com/suspectuso/zeruva-rewards/internal/rewards"
	"github.com/suspectuso/zeruva-rewards/internal/storage"
	"github.com/suspectuso/zeruva-rewards/internal/telegram"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(log)

	if envErr != nil {
		log.Debug("no .env file found")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	oracle := newOracle(cfg, log)

	rail, treasury, err := newRail(cfg, log)
	if err != nil {
		log.Error("init payment rail", "error", err)
		os.Exit(1)
	}

	notify := notifier.New(cfg.AdminChatID, log.With("component", "notifier"))

	svc := rewards.New(store, cfg.Rewards, oracle, rail, notify, clock.Real(), log)

	if err := svc.Recover(context.Background()); err != nil {
		log.Error("recover claims", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	server := api.NewServer(svc, api.Options{AdminToken: cfg.AdminToken, Treasury: treasury}, log.With("component", "api"))
	g.Go(func() error {
		if err := server.Start(ctx, cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		svc.SweepLoop(ctx, cfg.SweepInterval)
		return nil
	})

	if cfg.BotToken != "" {
		bot, err := telegram.New(cfg.BotToken, cfg.AdminChatID, svc, log.With("component", "telegram"))
		if err != nil {
			log.Error("init telegram bot", "error", err)
			os.Exit(1)
		}
		log.Info("telegram bot initialized", "admin_chat_id", cfg.AdminChatID)

		g.Go(func() error {
			notify.Run(ctx, bot)
			return nil
		})
		g.Go(func() error {
			bot.Start(ctx)
			return nil
		})
	} else {
		log.Info("BOT_TOKEN not set, ops bot disabled")
	}

	log.Info("rewards service started",
		"port", cfg.HTTPPort,
		"expedition_duration", cfg.Rewards.ExpeditionDuration,
		"intent_ttl", cfg.Rewards.Claims.IntentTTL,
	)

	if err := g.Wait(); err != nil {
		log.Error("service stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// newOracle chains the live price sources, with the fixed price as last resort
func newOracle(cfg *config.Config, log *slog.Logger) claims.PriceOracle {
	chain := pricefeed.Chain{
		pricefeed.NewCoinGecko(cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey),
		pricefeed.NewBinance(cfg.BinanceBaseURL),
	}
	if cfg.FixedSolUSD.IsPositive() {
		log.Warn("fixed SOL/USD fallback enabled", "rate", cfg.FixedSolUSD.String())
		chain = append(chain, pricefeed.Fixed{Rate: cfg.FixedSolUSD})
	}

	log.Info("price oracle initialized", "sources", len(chain))
	return chain
}

// newRail pays from the treasury key when one is configured and simulates payouts otherwise
func newRail(cfg *config.Config, log *slog.Logger) (claims.PaymentRail, string, error) {
	if cfg.TreasuryKey == "" {
		log.Warn("TREASURY_KEY not set, payouts are simulated")
		return payrail.NewSimulated(500*time.Millisecond, log.With("component", "payrail")), "", nil
	}

	rail, err := payrail.NewSolana(cfg.SolanaRPCURL, cfg.TreasuryKey, cfg.ConfirmWait, log.With("component", "payrail"))
	if err != nil {
		return nil, "", err
	}
	log.Info("solana rail initialized", "rpc", cfg.SolanaRPCURL, "treasury", rail.Treasury())
	return rail, rail.Treasury(), nil
}
