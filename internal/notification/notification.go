// Package notification sends transactional SMS messages to trade
// participants through a pluggable delivery provider.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/voltsync/voltsync/internal/idgen"
)

var (
	// ErrInvalidPhone is returned for phone numbers that fail validation.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrEmptyMessage is returned when the message body is empty.
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// E.164-shaped: optional +, no leading zero, up to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// ValidatePhone checks that the number looks like a deliverable E.164 number.
func ValidatePhone(phone string) error {
	if len(phone) < 10 || !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}

// Provider delivers one SMS and returns a provider-assigned message id.
type Provider interface {
	Send(ctx context.Context, phone, message string) (messageID string, err error)
}

// HTTPProvider posts messages to an SMS gateway endpoint.
type HTTPProvider struct {
	url      string
	senderID string
	client   *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for the given gateway URL.
func NewHTTPProvider(url, senderID string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{url: url, senderID: senderID, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) Send(ctx context.Context, phone, message string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"phone":    phone,
		"message":  message,
		"senderId": p.senderID,
		"smsType":  "Transactional",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	var parsed struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.MessageID != "" {
		return parsed.MessageID, nil
	}
	// Gateway did not return an id; assign one so callers always get a
	// stable reference.
	return idgen.WithPrefix("sms"), nil
}

// Service validates and sends SMS notifications.
type Service struct {
	provider Provider
}

// NewService creates an SMS service.
func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

// SendSMS validates the inputs and delivers the message.
func (s *Service) SendSMS(ctx context.Context, phone, message string) (string, error) {
	if err := ValidatePhone(phone); err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	return s.provider.Send(ctx, phone, message)
}
