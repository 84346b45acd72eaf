package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// FeedClient fetches historical VWAP bars for one symbol from the market
// data provider. Implementations are safe for concurrent use.
type FeedClient interface {
	HistoricBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// Bar is one raw bucket from the feed before it is normalized into the store
type Bar struct {
	Timestamp time.Time
	VWAP      float64
}

// HTTPFeedConfig holds configuration for the HTTP market data client
type HTTPFeedConfig struct {
	BaseURL        string
	KeyID          string
	SecretKey      string
	RatePerSecond  float64 // request budget shared across symbol fetches
	TimeoutSeconds int
}

// HTTPFeedClient is a rate-limited client for an Alpaca-style historical
// bars API. Crypto pairs (fiat USD suffix, no exchange listing) are routed
// to the crypto endpoint, everything else to the stocks endpoint.
type HTTPFeedClient struct {
	baseURL     string
	keyID       string
	secretKey   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewHTTPFeedClient creates a new HTTP feed client
func NewHTTPFeedClient(cfg HTTPFeedConfig) (*HTTPFeedClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("market data base URL is required")
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 3
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}

	return &HTTPFeedClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}, nil
}

// barsResponse mirrors the provider's paginated bar payload
type barsResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"t"`
		VWAP      float64   `json:"vw"`
	} `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}

// HistoricBars fetches hourly bars for a symbol, following pagination
func (c *HTTPFeedClient) HistoricBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	var bars []Bar
	pageToken := ""

	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		page, next, err := c.fetchPage(ctx, symbol, start, end, pageToken)
		if err != nil {
			return nil, err
		}
		bars = append(bars, page...)

		if next == "" {
			break
		}
		pageToken = next
	}

	return bars, nil
}

// cryptoBases are the coin symbols the ledger records as tether pairs.
// After ticker normalization they trade as fiat-USD pairs on the crypto
// bars endpoint; everything else is a US equity.
var cryptoBases = map[string]bool{
	"AAVE": true, "ADA": true, "ALGO": true, "ATOM": true, "AVAX": true,
	"BAT": true, "BCH": true, "BTC": true, "COMP": true, "CRV": true,
	"DOGE": true, "DOT": true, "ETH": true, "GRT": true, "LINK": true,
	"LTC": true, "MATIC": true, "MKR": true, "NEAR": true, "PAXG": true,
	"SHIB": true, "SOL": true, "SUSHI": true, "TRX": true, "UNI": true,
	"XLM": true, "XRP": true, "YFI": true,
}

func isCryptoPair(symbol string) bool {
	base, found := strings.CutSuffix(symbol, "USD")
	return found && cryptoBases[base]
}

func (c *HTTPFeedClient) barsEndpoint(symbol string) string {
	if isCryptoPair(symbol) {
		return fmt.Sprintf("%s/v1beta1/crypto/%s/bars", c.baseURL, url.PathEscape(symbol))
	}
	return fmt.Sprintf("%s/v2/stocks/%s/bars", c.baseURL, url.PathEscape(symbol))
}

func (c *HTTPFeedClient) fetchPage(ctx context.Context, symbol string, start, end time.Time, pageToken string) ([]Bar, string, error) {
	endpoint := c.barsEndpoint(symbol)

	params := url.Values{}
	params.Set("timeframe", "1Hour")
	params.Set("start", start.UTC().Format(time.RFC3339))
	params.Set("end", end.UTC().Format(time.RFC3339))
	params.Set("limit", "10000")
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build bars request for %s: %w", symbol, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("bars request failed for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read bars response for %s: %w", symbol, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("bars request for %s returned %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed barsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", fmt.Errorf("failed to decode bars response for %s: %w", symbol, err)
	}

	bars := make([]Bar, 0, len(parsed.Bars))
	for _, b := range parsed.Bars {
		bars = append(bars, Bar{Timestamp: b.Timestamp.UTC(), VWAP: b.VWAP})
	}

	next := ""
	if parsed.NextPageToken != nil {
		next = *parsed.NextPageToken
	}

	return bars, next, nil
}
