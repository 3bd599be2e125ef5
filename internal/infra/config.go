package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv          string
	SupabaseURL     string
	SupabaseAnonKey string
	APIBaseURL      string
	APISecret       string
	MonthlyPriceID  string
	AnnualPriceID   string
	HistoryCap      int
	FailOpen        bool
	SendRetries     int
	RequestTimeout  time.Duration
	CallbackPort    string
	StateDir        string
	Theme           string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
//
// NANI_FAIL_OPEN controls the gate's policy while entitlement is still
// unknown. The default is fail-closed: queries are blocked until the
// entitlement fetch completes.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		SupabaseURL:     os.Getenv("NANI_SUPABASE_URL"),
		SupabaseAnonKey: os.Getenv("NANI_SUPABASE_ANON_KEY"),
		APIBaseURL:      getEnv("NANI_API_BASE_URL", "https://naturopathy.onrender.com"),
		APISecret:       os.Getenv("NANI_API_SECRET"),
		MonthlyPriceID:  getEnv("NANI_MONTHLY_PRICE_ID", "price_1SWNgmQZiiSZQI7eU1dUbHez"),
		AnnualPriceID:   getEnv("NANI_ANNUAL_PRICE_ID", "price_1SWNgmQZiiSZQI7eSqTsjwhm"),
		HistoryCap:      getEnvInt("NANI_HISTORY_CAP", 8),
		FailOpen:        getEnvBool("NANI_FAIL_OPEN", false),
		SendRetries:     getEnvInt("NANI_SEND_RETRIES", 1),
		RequestTimeout:  time.Second * time.Duration(getEnvInt("NANI_REQUEST_TIMEOUT_SECONDS", 45)),
		CallbackPort:    getEnv("NANI_CALLBACK_PORT", "8917"),
		StateDir:        os.Getenv("NANI_STATE_DIR"),
		Theme:           getEnv("NANI_THEME", "auto"),
	}

	if cfg.SupabaseURL == "" {
		return nil, fmt.Errorf("NANI_SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return nil, fmt.Errorf("NANI_SUPABASE_ANON_KEY is required")
	}
	if cfg.APISecret == "" {
		return nil, fmt.Errorf("NANI_API_SECRET is required")
	}
	if cfg.HistoryCap <= 0 {
		return nil, fmt.Errorf("NANI_HISTORY_CAP must be positive")
	}

	if cfg.StateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve state dir: %w", err)
		}
		cfg.StateDir = filepath.Join(base, "nani")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
