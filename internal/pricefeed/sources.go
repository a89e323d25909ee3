package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CoinGecko reads the simple-price endpoint
type CoinGecko struct {
	*Client
}

// NewCoinGecko creates a CoinGecko source; apiKey is optional
func NewCoinGecko(baseURL, apiKey string) *CoinGecko {
	return &CoinGecko{Client: newClient("coingecko", baseURL, apiKey, "x-cg-demo-api-key", 0.5)}
}

type coinGeckoPrice struct {
	USD           decimal.Decimal `json:"usd"`
	LastUpdatedAt int64           `json:"last_updated_at"`
}

func (c *CoinGecko) SolUSD(ctx context.Context) (Quote, error) {
	data, err := c.doRequest(ctx, "/simple/price?ids=solana&vs_currencies=usd&include_last_updated_at=true")
	if err != nil {
		return Quote{}, err
	}

	var resp map[string]coinGeckoPrice
	if err := json.Unmarshal(data, &resp); err != nil {
		return Quote{}, fmt.Errorf("unmarshal: %w", err)
	}

	p, ok := resp["solana"]
	if !ok || !p.USD.IsPositive() {
		return Quote{}, fmt.Errorf("coingecko: no solana price in response")
	}

	observed := c.now()
	if p.LastUpdatedAt > 0 {
		observed = time.Unix(p.LastUpdatedAt, 0).UTC()
	}

	return Quote{Rate: p.USD, Source: c.name, ObservedAt: observed}, nil
}

// Binance reads the spot ticker for SOLUSDT
type Binance struct {
	*Client
	symbol string
}

// NewBinance creates a Binance ticker source
func NewBinance(baseURL string) *Binance {
	return &Binance{
		Client: newClient("binance", baseURL, "", "", 2),
		symbol: "SOLUSDT",
	}
}

type binanceTicker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (b *Binance) SolUSD(ctx context.Context) (Quote, error) {
	data, err := b.doRequest(ctx, "/api/v3/ticker/price?symbol="+b.symbol)
	if err != nil {
		return Quote{}, err
	}

	var t binanceTicker
	if err := json.Unmarshal(data, &t); err != nil {
		return Quote{}, fmt.Errorf("unmarshal: %w", err)
	}
	if t.Symbol != b.symbol || !t.Price.IsPositive() {
		return Quote{}, fmt.Errorf("binance: unexpected ticker %q price %s", t.Symbol, t.Price)
	}

	return Quote{Rate: t.Price, Source: b.name, ObservedAt: b.now()}, nil
}
