package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers the one-time on-settle notification for a settled trade.
type Notifier interface {
	NotifySettled(ctx context.Context, transactionID string, s *Settlement) error
}

// HTTPNotifier posts settle notifications to a configured webhook URL.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

var _ Notifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier creates a webhook notifier.
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *HTTPNotifier) NotifySettled(ctx context.Context, transactionID string, s *Settlement) error {
	payload, err := json.Marshal(map[string]any{
		"event":         "on_settle",
		"transactionId": transactionID,
		"settlement":    s,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("settle notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("settle notification returned %d", resp.StatusCode)
	}
	return nil
}
