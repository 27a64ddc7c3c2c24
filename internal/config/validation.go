package config

import (
	"fmt"
	"os"
	"time"
)

// minAuthSecretLen is the minimum byte length for the HMAC auth secret.
const minAuthSecretLen = 32

// Validate checks the configuration and fails fast with sentinel errors.
func (c *Config) Validate() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable not set", ErrMissingAPIKey)
	}

	if c.GenerativeModel == "" {
		return fmt.Errorf("%w: generative_model is empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidModelName)
	}

	if c.MatchThreshold <= 0 || c.MatchThreshold >= 1 {
		return fmt.Errorf("%w: must be in (0,1), got %v", ErrInvalidThreshold, c.MatchThreshold)
	}
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be in [1,50], got %d", ErrInvalidTopK, c.TopK)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgres)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown sslmode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	if c.LearnEnabled {
		if c.LearnInterval < 10*time.Second {
			return fmt.Errorf("%w: learn_interval %v below 10s", ErrInvalidLearnInterval, c.LearnInterval)
		}
		if c.CurationInterval < c.LearnInterval {
			return fmt.Errorf("%w: curation_interval %v below learn_interval %v",
				ErrInvalidLearnInterval, c.CurationInterval, c.LearnInterval)
		}
		// A zero or negative rate would make the background limiter block
		// forever once its burst is spent.
		if c.LearnRatePerMin <= 0 {
			return fmt.Errorf("%w: learn_rate_per_min must be positive, got %v",
				ErrInvalidLearnRate, c.LearnRatePerMin)
		}
	}

	// An auth secret is optional, but when present it must be long enough
	// for HMAC-SHA256 token verification.
	if c.AuthSecret != "" && len(c.AuthSecret) < minAuthSecretLen {
		return fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrInvalidAuthSecret, minAuthSecretLen, len(c.AuthSecret))
	}

	return nil
}
