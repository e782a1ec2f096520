package psp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zrobank/otc-settlement/internal/cryptoremittance"
	"github.com/zrobank/otc-settlement/internal/types"
)

// CryptoGateway talks to the crypto liquidity provider's order API.
type CryptoGateway struct {
	client *client
}

func NewCryptoGateway(baseURL, apiKey string, timeout time.Duration) *CryptoGateway {
	return &CryptoGateway{client: newClient(baseURL, apiKey, timeout)}
}

type createOrderRequest struct {
	ExternalID string `json:"external_id"`
	Market     string `json:"market"`
	Side       string `json:"side"`
	Amount     int64  `json:"amount"`
	Price      int64  `json:"price,omitempty"`
	StopPrice  int64  `json:"stop_price,omitempty"`
}

type orderResponse struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	ExecutedAmount int64  `json:"executed_amount"`
	ExecutedPrice  int64  `json:"executed_price"`
	Fee            int64  `json:"fee"`
}

var cryptoStates = map[string]types.CryptoRemittanceStatus{
	"PENDING":  types.CryptoStatusPending,
	"OPEN":     types.CryptoStatusPending,
	"FILLED":   types.CryptoStatusFilled,
	"CANCELED": types.CryptoStatusCanceled,
	"ERROR":    types.CryptoStatusError,
}

func (g *CryptoGateway) CreateOrder(ctx context.Context, order *cryptoremittance.CryptoRemittance) (string, error) {
	body := createOrderRequest{
		ExternalID: order.CryptoRemittanceID,
		Market:     order.Market,
		Side:       string(order.Side),
		Amount:     order.Amount,
		Price:      order.Price,
		StopPrice:  order.StopPrice,
	}

	var resp orderResponse
	if err := g.client.postJSON(ctx, "/v1/orders", body, &resp); err != nil {
		return "", err
	}
	return resp.OrderID, nil
}

func (g *CryptoGateway) GetOrderByID(ctx context.Context, providerOrderID string) (*cryptoremittance.ProviderOrder, error) {
	var resp orderResponse
	if err := g.client.getJSON(ctx, fmt.Sprintf("/v1/orders/%s", providerOrderID), &resp); err != nil {
		return nil, err
	}

	status, ok := cryptoStates[resp.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrPSPRequest, resp.Status)
	}
	return &cryptoremittance.ProviderOrder{
		ProviderOrderID: resp.OrderID,
		Status:          status,
		ExecutedAmount:  resp.ExecutedAmount,
		ExecutedPrice:   resp.ExecutedPrice,
		Fee:             resp.Fee,
	}, nil
}

// CancelOrder is idempotent: canceling an order the provider no longer knows
// as open is a no-op.
func (g *CryptoGateway) CancelOrder(ctx context.Context, providerOrderID string) error {
	err := g.client.postJSON(ctx, fmt.Sprintf("/v1/orders/%s/cancel", providerOrderID), nil, nil)
	if errors.Is(err, ErrPSPNotFound) {
		return nil
	}
	return err
}
