package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/hospitaldesk/internal/logger"
)

const (
	CodeRetryAfter = "retry-after"
	CodeRejected   = "rejected"
	CodeUnknown    = "unknown"

	defaultTimeout = 5 * time.Second
)

type DeliveryError struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %d, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func NewDeliveryError(code string, retryAfter int, err error) *DeliveryError {
	return &DeliveryError{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

// WebhookSender posts messages as JSON to the delivery gateway, which talks to the providers
type WebhookSender struct {
	GatewayURL string

	client *http.Client
	logger logger.Logger
}

func NewWebhookSender(url string, logger logger.Logger) *WebhookSender {
	return &WebhookSender{
		GatewayURL: strings.TrimRight(url, "/"),
		client:     &http.Client{},
		logger:     logger,
	}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	payload, err := json.Marshal(msg)
	if err != nil {
		return NewDeliveryError(CodeUnknown, 0, fmt.Errorf("failed to encode message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.GatewayURL+"/messages/"+string(msg.Channel), bytes.NewReader(payload))
	if err != nil {
		return NewDeliveryError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return NewDeliveryError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("Message accepted by gateway", "channel", msg.Channel, "status_code", resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return s.processTooManyRequests(resp)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		s.logger.Warn("Gateway rejected message", "status_code", resp.StatusCode, "channel", msg.Channel)
		return NewDeliveryError(CodeRejected, 0, fmt.Errorf("gateway rejected message with status %d", resp.StatusCode))
	default:
		s.logger.Warn("Failed to deliver message", "status_code", resp.StatusCode, "channel", msg.Channel)
		return NewDeliveryError(CodeUnknown, 0, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

func (s *WebhookSender) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = 60 // default to 60 seconds if parsing fails
	}

	s.logger.Warn("Gateway throttled", "retry_after", retryAfter)
	return NewDeliveryError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}
