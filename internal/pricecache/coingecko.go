package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// historyDateFormat is the calendar-day format the history endpoint expects.
const historyDateFormat = "02-01-2006"

// CoingeckoOptions parameterise the Coingecko client.
type CoingeckoOptions struct {
	BaseURL    string
	CoinID     string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
}

// Coingecko fetches current and historical prices from the Coingecko API.
type Coingecko struct {
	opts    CoingeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoingecko constructs a Coingecko price provider.
func NewCoingecko(opts CoingeckoOptions, logger zerolog.Logger) *Coingecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.CoinID == "" {
		opts.CoinID = "reef"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}

	return &Coingecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// CurrentPrice retrieves the live price in the reference currency.
func (c *Coingecko) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, url.QueryEscape(c.opts.CoinID), url.QueryEscape(c.opts.VsCurrency))

	payload, err := c.get(ctx, endpoint)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res map[string]map[string]float64
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode current price: %w", err)
	}

	price, ok := res[c.opts.CoinID][c.opts.VsCurrency]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("coin %q has no %q price in response", c.opts.CoinID, c.opts.VsCurrency)
	}
	return decimal.NewFromFloat(price), nil
}

// HistoricalPrice retrieves the price on the calendar day of date.
func (c *Coingecko) HistoricalPrice(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/coins/%s/history?date=%s",
		c.baseURL, url.PathEscape(c.opts.CoinID), date.Format(historyDateFormat))

	payload, err := c.get(ctx, endpoint)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res historyResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode history price: %w", err)
	}

	price, ok := res.MarketData.CurrentPrice[c.opts.VsCurrency]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no %q price for %s in response", c.opts.VsCurrency, date.Format(historyDateFormat))
	}
	return decimal.NewFromFloat(price), nil
}

func (c *Coingecko) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "reef-ingest/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type historyResponse struct {
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

type errorResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ Provider = (*Coingecko)(nil)
