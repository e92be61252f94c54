// Package notify delivers run summaries to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reportoor/pkg/config"
)

// requestTimeout bounds a single delivery attempt.
const requestTimeout = 10 * time.Second

// RetryPolicy controls exponential backoff between delivery attempts.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Webhook posts JSON payloads to a configured endpoint with retries.
type Webhook struct {
	log        logrus.FieldLogger
	cfg        *config.WebhookConfig
	retry      RetryPolicy
	timeout    time.Duration
	httpClient *http.Client
}

// NewWebhook creates a webhook client from configuration.
func NewWebhook(log logrus.FieldLogger, cfg *config.WebhookConfig) *Webhook {
	return &Webhook{
		log: log.WithField("component", "webhook"),
		cfg: cfg,
		retry: RetryPolicy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelayDuration(),
			MaxDelay:     cfg.Retry.MaxDelayDuration(),
			Multiplier:   cfg.Retry.Multiplier,
		},
		timeout: cfg.TimeoutDuration(),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Send delivers payload as JSON. Retryable failures are retried with
// backoff until the retries or the overall timeout are exhausted.
func (w *Webhook) Send(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var lastErr error

	for attempt := 0; attempt <= w.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, w.retry)

			w.log.WithFields(logrus.Fields{
				"attempt": attempt,
				"max":     w.retry.MaxRetries,
				"delay":   delay,
			}).Debug("Retrying webhook delivery")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("webhook timeout after %d attempts: %w", attempt, ctx.Err())
			}
		}

		status, err := w.sendRequest(ctx, body)
		if err == nil && status >= 200 && status < 300 {
			w.log.WithField("status", status).Info("Webhook delivered")

			return nil
		}

		if err != nil {
			lastErr = fmt.Errorf("attempt %d failed: %w", attempt+1, err)
		} else {
			lastErr = fmt.Errorf("attempt %d failed with status %d", attempt+1, status)
		}

		if status > 0 && !isRetryableStatus(status) {
			return lastErr
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", w.retry.MaxRetries+1, lastErr)
}

func (w *Webhook) sendRequest(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, w.cfg.Method, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	switch w.cfg.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	case "api-key":
		req.Header.Set("X-API-Key", w.cfg.AuthToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// backoff returns the delay before retry attempt n (1-based): exponential
// growth capped at MaxDelay with ±10% jitter.
func backoff(attempt int, p RetryPolicy) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	jitter := delay * 0.1
	delay += (rand.Float64()*2 - 1) * jitter //nolint:gosec // jitter needs no crypto randomness

	return time.Duration(delay)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
