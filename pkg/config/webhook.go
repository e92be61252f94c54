package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultWebhookMethod is the HTTP method used to deliver run summaries.
	DefaultWebhookMethod = "POST"

	// DefaultWebhookTimeout bounds a delivery including all retries.
	DefaultWebhookTimeout = "30s"

	// DefaultWebhookMaxRetries is the number of retries after the first attempt.
	DefaultWebhookMaxRetries = 3

	// DefaultWebhookInitialDelay is the delay before the first retry.
	DefaultWebhookInitialDelay = "1s"

	// DefaultWebhookMaxDelay caps the backoff between retries.
	DefaultWebhookMaxDelay = "30s"

	// DefaultWebhookMultiplier grows the backoff between retries.
	DefaultWebhookMultiplier = 2.0
)

// WebhookConfig configures delivery of the run summary to an HTTP endpoint.
// Delivery is disabled when URL is empty.
type WebhookConfig struct {
	URL       string             `yaml:"url,omitempty" mapstructure:"url"`
	Method    string             `yaml:"method,omitempty" mapstructure:"method"`
	Headers   map[string]string  `yaml:"headers,omitempty" mapstructure:"headers"`
	AuthType  string             `yaml:"auth_type,omitempty" mapstructure:"auth_type"`
	AuthToken string             `yaml:"auth_token,omitempty" mapstructure:"auth_token"`
	Timeout   string             `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Retry     WebhookRetryConfig `yaml:"retry,omitempty" mapstructure:"retry"`
}

// WebhookRetryConfig configures exponential backoff between attempts.
type WebhookRetryConfig struct {
	MaxRetries   int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelay string  `yaml:"initial_delay,omitempty" mapstructure:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay,omitempty" mapstructure:"max_delay"`
	Multiplier   float64 `yaml:"multiplier,omitempty" mapstructure:"multiplier"`
}

var validAuthTypes = map[string]struct{}{
	"":        {},
	"none":    {},
	"bearer":  {},
	"api-key": {},
}

func (w *WebhookConfig) applyDefaults() {
	if w.Method == "" {
		w.Method = DefaultWebhookMethod
	}

	w.Method = strings.ToUpper(w.Method)

	if w.Timeout == "" {
		w.Timeout = DefaultWebhookTimeout
	}

	if w.Retry.InitialDelay == "" {
		w.Retry.InitialDelay = DefaultWebhookInitialDelay
	}

	if w.Retry.MaxDelay == "" {
		w.Retry.MaxDelay = DefaultWebhookMaxDelay
	}

	if w.Retry.Multiplier <= 0 {
		w.Retry.Multiplier = DefaultWebhookMultiplier
	}
}

// Enabled reports whether a webhook endpoint is configured.
func (w *WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// Validate checks the webhook configuration.
func (w *WebhookConfig) Validate() error {
	if !w.Enabled() {
		return nil
	}

	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}

	if w.Method != "POST" && w.Method != "PUT" {
		return fmt.Errorf("method must be POST or PUT, got %q", w.Method)
	}

	if _, ok := validAuthTypes[w.AuthType]; !ok {
		return fmt.Errorf("unknown auth_type %q", w.AuthType)
	}

	if (w.AuthType == "bearer" || w.AuthType == "api-key") && w.AuthToken == "" {
		return fmt.Errorf("auth_token is required for auth_type %q", w.AuthType)
	}

	if w.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}

	for name, value := range map[string]string{
		"timeout":             w.Timeout,
		"retry.initial_delay": w.Retry.InitialDelay,
		"retry.max_delay":     w.Retry.MaxDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
	}

	return nil
}

// TimeoutDuration returns the parsed overall delivery timeout.
func (w *WebhookConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(w.Timeout, 30*time.Second)
}

// InitialDelayDuration returns the parsed delay before the first retry.
func (r *WebhookRetryConfig) InitialDelayDuration() time.Duration {
	return parseDurationOr(r.InitialDelay, time.Second)
}

// MaxDelayDuration returns the parsed backoff cap.
func (r *WebhookRetryConfig) MaxDelayDuration() time.Duration {
	return parseDurationOr(r.MaxDelay, 30*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}
