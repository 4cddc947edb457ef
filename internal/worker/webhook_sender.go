package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
	"go.uber.org/zap"
)

// WebhookPayload is the JSON body POSTed to webhook recipients.
type WebhookPayload struct {
	Key     string `json:"key"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type WebhookConfig struct {
	Timeout time.Duration
	// AllowPrivate disables the SSRF guard. Only for local development and tests.
	AllowPrivate bool
}

// WebhookSender POSTs notifications to user-supplied URLs. Unless
// AllowPrivate is set, requests to loopback, private and link-local
// addresses are refused at dial time.
type WebhookSender struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var client *http.Client
	if cfg.AllowPrivate {
		client = &http.Client{Timeout: timeout}
	} else {
		guarded := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes("http", "https").
			SetAllowedPorts(80, 443).
			Build()
		client = safeurl.Client(guarded).Client
	}

	return &WebhookSender{
		client: client,
		logger: logger,
	}
}

// Send POSTs the message as JSON to msg.Recipient.
func (s *WebhookSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != ChannelWebhook {
		return fmt.Errorf("webhook sender only supports webhooks, got: %s", msg.Channel)
	}
	if msg.Recipient == "" {
		return fmt.Errorf("webhook recipient missing url")
	}

	body, err := json.Marshal(WebhookPayload{
		Key:     msg.Key,
		Subject: msg.Subject,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "contestpulse/1.0")
	if msg.Key != "" {
		req.Header.Set("X-Contestpulse-Key", msg.Key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
		if permanentStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return err
	}

	s.logger.Info("webhook delivered successfully",
		zap.String("url", msg.Recipient),
		zap.String("key", msg.Key),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

// SupportsChannel checks if this sender supports webhooks
func (s *WebhookSender) SupportsChannel(channel string) bool {
	return channel == ChannelWebhook
}

// permanentStatus reports 4xx answers other than timeout and throttling.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// classifyTransportError splits dial failures into ones that concern only
// this URL (unresolvable host, refused connection, SSRF block, bad TLS) and
// ones that may affect every webhook (timeouts, caller cancellation).
func classifyTransportError(err error) error {
	wrapped := fmt.Errorf("webhook request failed: %w", err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapped
	}
	return fmt.Errorf("%w: %w", ErrPermanent, wrapped)
}
