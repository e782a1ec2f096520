// Package quotation supplies mid-market FX rates for computing the
// external-currency leg of an exchange quotation. Rates are fetched
// synchronously right before PSP submission; staleness is accepted.
package quotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var ErrRateUnavailable = errors.New("mid-market rate unavailable")

// Service supplies the current mid-market rate for a currency against the
// settlement (local) currency.
type Service interface {
	GetMidRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Client is an HTTP implementation of Service against the internal
// quotations microservice.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type midRateResponse struct {
	Currency string          `json:"currency"`
	Mid      decimal.Decimal `json:"mid"`
}

func (c *Client) GetMidRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v1/quotations/%s/mid", c.baseURL, currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: quotation service returned %d", ErrRateUnavailable, resp.StatusCode)
	}

	var body midRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if body.Mid.IsZero() || body.Mid.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: non-positive mid rate for %s", ErrRateUnavailable, currency)
	}
	return body.Mid, nil
}

// Static returns a fixed rate for every currency. Used in tests and by the
// simulation binary.
type Static struct {
	Rate decimal.Decimal
}

func (s Static) GetMidRate(_ context.Context, _ string) (decimal.Decimal, error) {
	if s.Rate.IsZero() {
		return decimal.Zero, ErrRateUnavailable
	}
	return s.Rate, nil
}
