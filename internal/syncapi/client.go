package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps how much of a downstream response is read (1MB).
const maxResponseBody = 1 << 20

// Response is the immediate downstream reply to an outbound action request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Poster sends outbound protocol requests. A nil error means the HTTP
// exchange completed; non-2xx statuses are reported through the Response so
// the bridge can extract downstream diagnostics from the body.
type Poster interface {
	Post(ctx context.Context, url string, payload any) (*Response, error)
}

// HTTPPoster is the default Poster backed by net/http.
type HTTPPoster struct {
	client *http.Client
}

// NewHTTPPoster creates a poster with a per-request timeout.
func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	return &HTTPPoster{
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPoster) Post(ctx context.Context, url string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

var _ Poster = (*HTTPPoster)(nil)
