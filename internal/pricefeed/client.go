package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Quote is a SOL/USD observation with its provenance
type Quote struct {
	Rate       decimal.Decimal
	Source     string
	ObservedAt time.Time
}

// Source returns the current SOL/USD rate
type Source interface {
	SolUSD(ctx context.Context) (Quote, error)
}

// Client is a throttled HTTP client for a price API
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	keyHeader  string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

func newClient(name, baseURL, apiKey, keyHeader string, rps float64) *Client {
	return &Client{
		name:      name,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		keyHeader: keyHeader,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" && c.keyHeader != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s API error %d: %s", c.name, resp.StatusCode, string(data))
	}

	return data, nil
}

// Fixed always returns the same rate, for development and tests
type Fixed struct {
	Rate decimal.Decimal
	Now  func() time.Time
}

func (f Fixed) SolUSD(ctx context.Context) (Quote, error) {
	now := time.Now().UTC()
	if f.Now != nil {
		now = f.Now()
	}
	return Quote{Rate: f.Rate, Source: "fixed", ObservedAt: now}, nil
}

// Chain asks each source in order and returns the first valid quote
type Chain []Source

func (c Chain) SolUSD(ctx context.Context) (Quote, error) {
	var errs []error
	for _, src := range c {
		q, err := src.SolUSD(ctx)
		if err == nil && !q.Rate.IsPositive() {
			err = fmt.Errorf("%s: non-positive rate %s", q.Source, q.Rate)
		}
		if err == nil {
			return q, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return Quote{}, errors.New("no price sources configured")
	}
	return Quote{}, errors.Join(errs...)
}
