package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"calsync_server/pkg/apperr"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL   string
	RedisURL      string
	RunMigrations bool

	// JWT
	JWTSecret string

	// Encryption (64 hex characters = 32 bytes)
	EncryptionKey string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleHTTPTimeout  time.Duration

	// Calendar sync
	JoinBaseURL string
	FrontendURL string

	// Circuit breaker for Google calls
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleHTTPTimeout:  getEnvDuration("GOOGLE_HTTP_TIMEOUT", 15*time.Second),

		// Calendar sync
		JoinBaseURL: getEnv("JOIN_BASE_URL", ""),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		BreakerFailureThreshold: getEnvInt("CALENDAR_BREAKER_FAILURES", 5),
		BreakerOpenTimeout:      getEnvDuration("CALENDAR_BREAKER_TIMEOUT", 30*time.Second),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process must not start with.
func (c *Config) Validate() error {
	key, err := hex.DecodeString(c.EncryptionKey)
	switch {
	case c.EncryptionKey == "":
		return apperr.ConfigError("ENCRYPTION_KEY is required")
	case err != nil:
		return apperr.ConfigError("ENCRYPTION_KEY must be hex encoded")
	case len(key) != 32:
		return apperr.ConfigError(fmt.Sprintf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key)))
	}

	var missing []string
	for name, v := range map[string]string{
		"GOOGLE_CLIENT_ID":     c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": c.GoogleClientSecret,
		"GOOGLE_REDIRECT_URL":  c.GoogleRedirectURL,
		"DATABASE_URL":         c.DatabaseURL,
		"JWT_SECRET":           c.JWTSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperr.ConfigError("missing required settings: " + strings.Join(missing, ", "))
	}

	if c.GoogleHTTPTimeout <= 0 {
		return apperr.ConfigError("GOOGLE_HTTP_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
