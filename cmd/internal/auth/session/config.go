package session

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// IdleTimeout is how long a session lives after login. Only a new
	// login restarts it; request traffic does not.
	IdleTimeout time.Duration

	// TokenBytes is the entropy of the opaque session token.
	TokenBytes int

	// StoreTimeout bounds each mirror write.
	StoreTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  30 * time.Minute,
		TokenBytes:   32,
		StoreTimeout: 2 * time.Second,
	}
}

// LoadConfigFromEnv loads configuration on top of DefaultConfig.
//
// Optional (durations are Go duration strings):
//   - MEDGATE_SESSION_IDLE_TIMEOUT
//   - MEDGATE_SESSION_TOKEN_BYTES (16..64)
//   - MEDGATE_SESSION_STORE_TIMEOUT
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("MEDGATE_SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: MEDGATE_SESSION_IDLE_TIMEOUT=%q", ErrConfig, v)
		}
		cfg.IdleTimeout = d
	}

	if v := os.Getenv("MEDGATE_SESSION_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 16 || n > 64 {
			return Config{}, fmt.Errorf("%w: MEDGATE_SESSION_TOKEN_BYTES=%q", ErrConfig, v)
		}
		cfg.TokenBytes = n
	}

	if v := os.Getenv("MEDGATE_SESSION_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: MEDGATE_SESSION_STORE_TIMEOUT=%q", ErrConfig, v)
		}
		cfg.StoreTimeout = d
	}

	return cfg, cfg.Validate()
}

// Validate rejects unusable timeouts.
func (c Config) Validate() error {
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrConfig)
	}
	if c.TokenBytes < 16 || c.TokenBytes > 64 {
		return fmt.Errorf("%w: token bytes must be 16..64", ErrConfig)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: store timeout must be positive", ErrConfig)
	}
	return nil
}
