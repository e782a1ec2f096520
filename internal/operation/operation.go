// Package operation is the ledger boundary. Debits and credits are created
// speculatively but accepted only after PSP confirmation, never before.
package operation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrOperationFailed = errors.New("ledger operation failed")

// Operation is a pending ledger movement.
type Operation struct {
	OperationID string `json:"operation_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// Service is the ledger collaborator contract.
type Service interface {
	CreateOperation(ctx context.Context, op Operation) (*Operation, error)
	AcceptOperation(ctx context.Context, operationID string) error
}

// Client is an HTTP implementation of Service against the internal
// operations microservice.
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

func (c *Client) CreateOperation(ctx context.Context, op Operation) (*Operation, error) {
	var created Operation
	if err := c.postJSON(ctx, "/v1/operations", op, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) AcceptOperation(ctx context.Context, operationID string) error {
	path := fmt.Sprintf("/v1/operations/%s/accept", operationID)
	return c.postJSON(ctx, path, nil, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: operations service returned %d", ErrOperationFailed, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrOperationFailed, err)
		}
	}
	return nil
}

// Noop is a Service that accepts everything without side effects. Used when
// the ledger integration is disabled and in tests.
type Noop struct{}

func (Noop) CreateOperation(_ context.Context, op Operation) (*Operation, error) { return &op, nil }
func (Noop) AcceptOperation(context.Context, string) error                       { return nil }
