package config

import (
	"errors"
	"fmt"
	"net"
)

const (
	// DefaultAPIListen is the default listen address of the results API.
	DefaultAPIListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP request budget.
	DefaultRequestsPerMinute = 120
)

// APIConfig contains HTTP server settings of the results API.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

func (a *APIConfig) applyDefaults() {
	if a.Listen == "" {
		a.Listen = DefaultAPIListen
	}

	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
}

// Validate checks the API configuration.
func (a *APIConfig) Validate() error {
	if _, _, err := net.SplitHostPort(a.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for _, origin := range a.CORSOrigins {
		if origin == "" {
			return errors.New("cors_origins must not contain empty entries")
		}
	}

	return nil
}
