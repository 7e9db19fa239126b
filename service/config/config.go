package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Logging
	LogLevel string

	// Solana endpoints. RPCURLs feeds the broadcast channel pool, so it must
	// contain between 2 and 5 endpoints (the same endpoint repeated still
	// yields independent HTTP connections).
	RPCURLs []string
	WSURL   string

	// Timing configuration
	SlotOffset         uint64        // K: target slot = observed slot + K
	BoundaryTimeout    time.Duration // max wait for the target slot
	TrackerSettleDelay time.Duration // pause after boundary detection

	// Verification configuration
	SettleWindow        time.Duration // wait after dispatch before first status poll
	ConfirmPollInterval time.Duration // gap between status poll rounds
	ConfirmTimeout      time.Duration // give up on unconfirmed transactions after this

	// Lenient same-slot policy. These thresholds are reporting heuristics,
	// not correctness criteria, and are tunable per ledger cadence.
	NearMaxUniqueSlots int
	NearMaxSpread      uint64

	// Optional collaborators. Empty disables the integration.
	DatabaseURL string
	NATSURL     string
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is missing
// or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana endpoints
	rpcURLs := os.Getenv("SOLANA_RPC_URLS")
	if rpcURLs == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required (comma-separated, 2-5 endpoints)"))
	} else {
		for _, u := range strings.Split(rpcURLs, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.RPCURLs = append(cfg.RPCURLs, u)
			}
		}
	}

	cfg.WSURL = os.Getenv("SOLANA_WS_URL")
	if cfg.WSURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_WS_URL is required"))
	}

	// Timing configuration
	slotOffset, err := parseInt("SLOT_OFFSET", 2)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SlotOffset = uint64(slotOffset)
	}

	boundaryTimeout, err := parseDuration("BOUNDARY_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BoundaryTimeout = boundaryTimeout
	}

	settleDelay, err := parseDuration("TRACKER_SETTLE_DELAY", "40ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TrackerSettleDelay = settleDelay
	}

	// Verification configuration
	settleWindow, err := parseDuration("SETTLE_WINDOW", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SettleWindow = settleWindow
	}

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	// Same-slot policy
	nearUnique, err := parseInt("NEAR_MAX_UNIQUE_SLOTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NearMaxUniqueSlots = nearUnique
	}

	nearSpread, err := parseInt("NEAR_MAX_SPREAD", 2)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NearMaxSpread = uint64(nearSpread)
	}

	// Optional collaborators
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for startup paths where misconfiguration should halt the process.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.RPCURLs) < 2 || len(c.RPCURLs) > 5 {
		errs = append(errs, fmt.Errorf("RPCURLs must contain between 2 and 5 endpoints, got %d", len(c.RPCURLs)))
	}

	if c.WSURL == "" {
		errs = append(errs, fmt.Errorf("WSURL is required"))
	}

	// K=1 risks the boundary passing before all templates are finalized and
	// dispatched, so it is rejected outright.
	if c.SlotOffset < 2 {
		errs = append(errs, fmt.Errorf("SlotOffset must be at least 2, got %d", c.SlotOffset))
	}

	if c.BoundaryTimeout < time.Second {
		errs = append(errs, fmt.Errorf("BoundaryTimeout must be at least 1 second"))
	}

	if c.TrackerSettleDelay < 0 || c.TrackerSettleDelay > time.Second {
		errs = append(errs, fmt.Errorf("TrackerSettleDelay must be between 0 and 1s"))
	}

	if c.SettleWindow <= 0 {
		errs = append(errs, fmt.Errorf("SettleWindow must be positive"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if c.ConfirmTimeout < c.SettleWindow {
		errs = append(errs, fmt.Errorf("ConfirmTimeout (%v) cannot be less than SettleWindow (%v)",
			c.ConfirmTimeout, c.SettleWindow))
	}

	if c.NearMaxUniqueSlots < 1 {
		errs = append(errs, fmt.Errorf("NearMaxUniqueSlots must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
