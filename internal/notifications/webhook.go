// Package notifications delivers terminal job outcomes to an external
// webhook endpoint.
package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/craftvault/craftvault/internal/models"
)

// WebhookPayload is the body sent to the configured endpoint.
type WebhookPayload struct {
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebhookNotifier sends job outcome events to a single webhook URL with
// HMAC-SHA256 signing and retry. A nil notifier is a no-op so callers can
// wire it unconditionally.
type WebhookNotifier struct {
	url        string
	secret     string
	client     *http.Client
	logger     zerolog.Logger
	maxRetries int
}

// NewWebhookNotifier creates a notifier targeting url. secret may be empty,
// in which case requests are unsigned.
func NewWebhookNotifier(url, secret string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     logger.With().Str("component", "webhook_notifier").Logger(),
		maxRetries: 3,
	}
}

// BackupFinished reports a backup job reaching a terminal state. Delivery
// failures are logged, never surfaced; notifications are best effort.
func (w *WebhookNotifier) BackupFinished(ctx context.Context, job *models.BackupJob) {
	if w == nil {
		return
	}
	w.send(ctx, WebhookPayload{
		EventType: "backup." + string(job.State),
		Timestamp: time.Now().UTC(),
		Data:      job,
	})
}

// RecoveryFinished reports a recovery job reaching a terminal state.
func (w *WebhookNotifier) RecoveryFinished(ctx context.Context, job *models.RecoveryJob) {
	if w == nil {
		return
	}
	w.send(ctx, WebhookPayload{
		EventType: "recovery." + string(job.State),
		Timestamp: time.Now().UTC(),
		Data:      job,
	})
}

func (w *WebhookNotifier) send(ctx context.Context, payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				w.logger.Warn().Str("event", payload.EventType).Msg("webhook delivery abandoned")
				return
			case <-time.After(backoff):
			}
			w.logger.Debug().Int("attempt", attempt+1).Msg("retrying webhook")
		}

		lastErr = w.doSend(ctx, body)
		if lastErr == nil {
			return
		}
	}

	w.logger.Error().
		Err(lastErr).
		Str("event", payload.EventType).
		Int("attempts", w.maxRetries).
		Msg("webhook delivery failed")
}

func (w *WebhookNotifier) doSend(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if w.secret != "" {
		req.Header.Set("X-CraftVault-Signature", computeHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// computeHMAC computes an HMAC-SHA256 signature for the given payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
