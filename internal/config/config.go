package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
	"github.com/suspectuso/zeruva-rewards/internal/rewards"
	"github.com/suspectuso/zeruva-rewards/internal/slots"
)

type Config struct {
	// HTTP
	HTTPPort   int
	AdminToken string

	// Database
	DBPath string

	// Logging
	LogLevel slog.Level

	// Telegram ops bot
	BotToken    string
	AdminChatID int64

	// Solana
	SolanaRPCURL string
	TreasuryKey  string
	ConfirmWait  time.Duration

	// Price feed
	CoinGeckoBaseURL string
	CoinGeckoAPIKey  string
	BinanceBaseURL   string
	FixedSolUSD      decimal.Decimal

	// Background jobs
	SweepInterval time.Duration

	// Economy
	EconomyFile string
	Rewards     rewards.Config
}

// economyFile is the optional TOML override of the game economy
type economyFile struct {
	ExpeditionDuration string   `toml:"expedition_duration"`
	Planets            []string `toml:"planets"`
	Ship               []struct {
		Level    int     `toml:"level"`
		Slots    int     `toml:"slots"`
		PriceUSD float64 `toml:"price_usd"`
	} `toml:"ship"`
	Claims struct {
		MinUSD        *float64 `toml:"min_usd"`
		HintTolerance *float64 `toml:"hint_tolerance"`
		IntentTTL     string   `toml:"intent_ttl"`
	} `toml:"claims"`
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:   getEnvInt("HTTP_PORT", 8080),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		DBPath: getEnv("DB_PATH", "./rewards.db"),

		LogLevel: getEnvLevel("LOG_LEVEL", slog.LevelInfo),

		BotToken:    getEnv("BOT_TOKEN", ""),
		AdminChatID: getEnvInt64("ADMIN_CHAT_ID", 0),

		SolanaRPCURL: getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		TreasuryKey:  getEnv("TREASURY_KEY", ""),
		ConfirmWait:  getEnvDuration("CONFIRM_WAIT", 60*time.Second),

		CoinGeckoBaseURL: strings.TrimSuffix(getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"), "/"),
		CoinGeckoAPIKey:  getEnv("COINGECKO_API_KEY", ""),
		BinanceBaseURL:   strings.TrimSuffix(getEnv("BINANCE_BASE_URL", "https://api.binance.com"), "/"),
		FixedSolUSD:      getEnvDecimal("FIXED_SOL_USD", decimal.Zero),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 30*time.Second),

		EconomyFile: getEnv("ECONOMY_FILE", ""),
		Rewards:     rewards.DefaultConfig(),
	}

	if cfg.EconomyFile != "" {
		if err := cfg.loadEconomy(cfg.EconomyFile); err != nil {
			return nil, err
		}
	}

	// env wins over the economy file
	c := &cfg.Rewards.Claims
	c.IntentTTL = getEnvDuration("INTENT_TTL", c.IntentTTL)
	c.MinClaimUSD = getEnvDecimal("MIN_CLAIM_USD", c.MinClaimUSD)
	c.HintTolerance = getEnvDecimal("HINT_TOLERANCE", c.HintTolerance)
	c.PriceMaxAge = getEnvDuration("PRICE_MAX_AGE", c.PriceMaxAge)
	c.PayTimeout = getEnvDuration("PAY_TIMEOUT", c.PayTimeout)
	cfg.Rewards.ExpeditionDuration = getEnvDuration("EXPEDITION_DURATION", cfg.Rewards.ExpeditionDuration)

	if cfg.Rewards.ExpeditionDuration <= 0 {
		return nil, fmt.Errorf("expedition duration must be positive")
	}
	if c.IntentTTL <= 0 {
		return nil, fmt.Errorf("intent ttl must be positive")
	}

	return cfg, nil
}

func (c *Config) loadEconomy(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read economy file: %w", err)
	}

	var f economyFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse economy file: %w", err)
	}

	if f.ExpeditionDuration != "" {
		d, err := time.ParseDuration(f.ExpeditionDuration)
		if err != nil {
			return fmt.Errorf("expedition_duration: %w", err)
		}
		c.Rewards.ExpeditionDuration = d
	}

	if len(f.Planets) > 0 {
		c.Rewards.Planets = f.Planets
	}

	if len(f.Ship) > 0 {
		ladder := make(slots.Ladder, 0, len(f.Ship))
		for _, s := range f.Ship {
			ladder = append(ladder, slots.Level{
				Level:    s.Level,
				Slots:    s.Slots,
				PriceUSD: decimal.NewFromFloat(s.PriceUSD),
			})
		}
		normalized, ok := ladder.Normalize()
		if !ok {
			return fmt.Errorf("ship ladder must start at level 1 with non-decreasing slot counts")
		}
		c.Rewards.Ladder = normalized
	}

	if f.Claims.MinUSD != nil {
		c.Rewards.Claims.MinClaimUSD = decimal.NewFromFloat(*f.Claims.MinUSD)
	}
	if f.Claims.HintTolerance != nil {
		c.Rewards.Claims.HintTolerance = decimal.NewFromFloat(*f.Claims.HintTolerance)
	}
	if f.Claims.IntentTTL != "" {
		d, err := time.ParseDuration(f.Claims.IntentTTL)
		if err != nil {
			return fmt.Errorf("claims.intent_ttl: %w", err)
		}
		c.Rewards.Claims.IntentTTL = d
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or plain seconds
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(getEnv(key, ""))); err != nil {
		return defaultVal
	}
	return lvl
}
