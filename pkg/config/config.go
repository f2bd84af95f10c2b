package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Deribit
	DeribitTestnet   bool
	DeribitAPIKey    string
	DeribitAPISecret string
	Instruments      []string
	UseMockFeed      bool

	// Engine
	Strategy  string // "momentum", "mean_reversion", "breakout"
	RiskLevel string // "conservative", "moderate", "aggressive"

	// Market data
	PollInterval       time.Duration
	InstrumentCacheTTL time.Duration

	// Auth
	JWTSecret   string
	OperatorKey string
}

// fileOverrides is the optional YAML layer applied on top of the
// environment. Only the tuning knobs an operator edits between runs live
// here; credentials stay in the environment.
type fileOverrides struct {
	Strategy     string   `yaml:"strategy"`
	RiskLevel    string   `yaml:"risk_level"`
	Instruments  []string `yaml:"instruments"`
	PollInterval string   `yaml:"poll_interval"`
	UseMockFeed  *bool    `yaml:"use_mock_feed"`
}

// Load reads environment variables (optionally via .env) into Config, then
// applies overrides from the YAML file named by CONFIG_FILE when set.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DeribitTestnet:     getEnv("DERIBIT_TESTNET", "true") == "true",
		DeribitAPIKey:      os.Getenv("DERIBIT_API_KEY"),
		DeribitAPISecret:   os.Getenv("DERIBIT_API_SECRET"),
		Instruments:        splitAndTrim(getEnv("DERIBIT_INSTRUMENTS", "BTC-PERPETUAL")),
		UseMockFeed:        getEnv("USE_MOCK_FEED", "false") == "true",
		Strategy:           strings.ToLower(getEnv("STRATEGY", "momentum")),
		RiskLevel:          strings.ToLower(getEnv("RISK_LEVEL", "moderate")),
		PollInterval:       time.Duration(getEnvInt("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		InstrumentCacheTTL: time.Duration(getEnvInt("INSTRUMENT_CACHE_TTL_MS", 0)) * time.Millisecond,
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		OperatorKey:        os.Getenv("OPERATOR_KEY"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var ov fileOverrides
	if err := yaml.Unmarshal(raw, &ov); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if ov.Strategy != "" {
		c.Strategy = strings.ToLower(ov.Strategy)
	}
	if ov.RiskLevel != "" {
		c.RiskLevel = strings.ToLower(ov.RiskLevel)
	}
	if len(ov.Instruments) > 0 {
		c.Instruments = ov.Instruments
	}
	if ov.PollInterval != "" {
		d, err := time.ParseDuration(ov.PollInterval)
		if err != nil {
			return fmt.Errorf("config: poll_interval in %s: %w", path, err)
		}
		c.PollInterval = d
	}
	if ov.UseMockFeed != nil {
		c.UseMockFeed = *ov.UseMockFeed
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
