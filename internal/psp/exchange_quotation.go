package psp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zrobank/otc-settlement/internal/exchangequotation"
	"github.com/zrobank/otc-settlement/internal/types"
)

// ExchangeQuotationGateway talks to the banking PSP's FX quotation API.
type ExchangeQuotationGateway struct {
	name   string
	client *client
}

func NewExchangeQuotationGateway(name, baseURL, apiKey string, timeout time.Duration) *ExchangeQuotationGateway {
	return &ExchangeQuotationGateway{
		name:   name,
		client: newClient(baseURL, apiKey, timeout),
	}
}

func (g *ExchangeQuotationGateway) Name() string {
	return g.name
}

type createAndAcceptRequest struct {
	ExternalID     string `json:"external_id"`
	Currency       string `json:"currency"`
	Side           string `json:"side"`
	Amount         int64  `json:"amount"`
	AmountExternal int64  `json:"amount_external_currency"`
	SendDate       string `json:"send_date"`
	ReceiveDate    string `json:"receive_date"`
	Partner        string `json:"partner"`
}

type createAndAcceptResponse struct {
	QuotationID    string `json:"quotation_id"`
	SolicitationID string `json:"solicitation_id"`
	Rate           int64  `json:"rate"`
}

func (g *ExchangeQuotationGateway) CreateAndAccept(ctx context.Context, req exchangequotation.CreateRequest) (*exchangequotation.CreateResult, error) {
	body := createAndAcceptRequest{
		ExternalID:     req.QuotationID,
		Currency:       req.Currency,
		Side:           string(req.Side),
		Amount:         req.Amount,
		AmountExternal: req.AmountExternal,
		SendDate:       req.SendDate.Format("2006-01-02"),
		ReceiveDate:    req.ReceiveDate.Format("2006-01-02"),
		Partner:        req.Provider,
	}

	var resp createAndAcceptResponse
	if err := g.client.postJSON(ctx, "/v1/exchange-quotations/create-and-accept", body, &resp); err != nil {
		return nil, err
	}
	return &exchangequotation.CreateResult{
		QuotationPspID:    resp.QuotationID,
		SolicitationPspID: resp.SolicitationID,
		Rate:              resp.Rate,
	}, nil
}

type solicitationResponse struct {
	Status         string `json:"status"`
	ContractNumber string `json:"contract_number"`
}

// pspStates maps provider status strings onto local quotation states.
var pspStates = map[string]types.QuotationState{
	"PENDING":   types.QuotationStateAccept,
	"ACCEPTED":  types.QuotationStateAccept,
	"APPROVED":  types.QuotationStateApproved,
	"COMPLETED": types.QuotationStateCompleted,
	"REJECTED":  types.QuotationStateRejected,
	"CANCELED":  types.QuotationStateCanceled,
}

func (g *ExchangeQuotationGateway) GetBySolicitationID(ctx context.Context, solicitationPspID string) (*exchangequotation.StatusResult, error) {
	var resp solicitationResponse
	path := fmt.Sprintf("/v1/exchange-quotations/solicitations/%s", solicitationPspID)
	if err := g.client.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}

	state, ok := pspStates[resp.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrPSPRequest, resp.Status)
	}
	return &exchangequotation.StatusResult{
		State:          state,
		ContractNumber: resp.ContractNumber,
	}, nil
}

// Reject is idempotent: a solicitation already rejected or canceled at the
// PSP reports not-found or conflict, both treated as success.
func (g *ExchangeQuotationGateway) Reject(ctx context.Context, solicitationPspID string) error {
	path := fmt.Sprintf("/v1/exchange-quotations/solicitations/%s/reject", solicitationPspID)
	err := g.client.postJSON(ctx, path, nil, nil)
	if errors.Is(err, ErrPSPNotFound) {
		return nil
	}
	return err
}
