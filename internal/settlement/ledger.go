package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrLedgerNotFound means the ledger has no record for the transaction yet.
var ErrLedgerNotFound = errors.New("ledger record not found")

// LedgerClient fetches fulfillment state from the trade ledger.
type LedgerClient interface {
	FetchStatus(ctx context.Context, transactionID string) (*LedgerRecord, error)
}

// HTTPLedgerClient talks to the ledger service over HTTP.
type HTTPLedgerClient struct {
	baseURL string
	client  *http.Client
}

var _ LedgerClient = (*HTTPLedgerClient)(nil)

// NewHTTPLedgerClient creates a ledger client for the given base URL.
func NewHTTPLedgerClient(baseURL string, timeout time.Duration) *HTTPLedgerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLedgerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPLedgerClient) FetchStatus(ctx context.Context, transactionID string) (*LedgerRecord, error) {
	url := fmt.Sprintf("%s/api/trades/%s/status", c.baseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrLedgerNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ledger response: %w", err)
	}

	var rec LedgerRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode ledger response: %w", err)
	}
	if rec.TransactionID == "" {
		rec.TransactionID = transactionID
	}
	return &rec, nil
}

// Health probes the ledger service for the health registry.
func (c *HTTPLedgerClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ledger health returned %d", resp.StatusCode)
	}
	return nil
}
