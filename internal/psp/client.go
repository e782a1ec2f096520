// Package psp implements the PSP-facing HTTP gateways for exchange
// quotations and crypto hedge orders. All calls carry request timeouts;
// retries ride the enclosing processor cadence, never the client.
package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrPSPRequest  = errors.New("psp request failed")
	ErrPSPNotFound = errors.New("psp resource not found")
)

// client wraps authenticated JSON exchanges with a PSP API.
type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newClient(baseURL, apiKey string, timeout time.Duration) *client {
	return &client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPSPRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPSPNotFound
	case resp.StatusCode >= 400:
		log.Warn().
			Int("status", resp.StatusCode).
			Str("path", req.URL.Path).
			Msg("psp returned error status")
		return fmt.Errorf("%w: status %d", ErrPSPRequest, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode: %v", ErrPSPRequest, err)
		}
	}
	return nil
}
