package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the chatbridge server.
type Config struct {
	Port      int
	Version   string
	Lightdash LightdashConfig
	Session   SessionConfig
	Balance   BalanceConfig
	Telemetry TelemetryConfig
}

// BalanceConfig is the quota configuration handed to newly created users.
type BalanceConfig struct {
	Enabled      bool
	StartBalance int64
	AutoRefill   bool
}

// LightdashConfig controls the external-auth path.
type LightdashConfig struct {
	// Enabled switches the entire external-auth path. False means pure
	// local authentication; no Lightdash call is ever made.
	Enabled bool
	// URL is the Lightdash base address.
	URL string
	// Timeout bounds every outbound Lightdash call.
	Timeout time.Duration
}

// SessionConfig controls local session token minting.
type SessionConfig struct {
	// JWTSecret signs local session tokens (HS256).
	JWTSecret string
	// Expiry bounds the lifetime of minted session tokens.
	Expiry time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CHATBRIDGE_PORT", 8080),
		Version: envStr("CHATBRIDGE_VERSION", "0.1.0"),
		Lightdash: LightdashConfig{
			Enabled: envBool("LIGHTDASH_INTEGRATION_ENABLED", false),
			URL:     envStr("LIGHTDASH_URL", "http://localhost:8080"),
			Timeout: envDur("LIGHTDASH_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			JWTSecret: envStr("JWT_SECRET", ""),
			Expiry:    envDur("SESSION_EXPIRY", 7*24*time.Hour),
		},
		Balance: BalanceConfig{
			Enabled:      envBool("BALANCE_ENABLED", false),
			StartBalance: int64(envInt("BALANCE_START", 0)),
			AutoRefill:   envBool("BALANCE_AUTO_REFILL", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "chatbridge"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
