package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "Glaucare"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultDevBaseURL      = "http://localhost:8080"
	defaultProdBaseURL     = "https://api.glaucare.app"
	defaultStoreKind       = StoreFile
	defaultNamespace       = "glaucare"
	defaultHTTPTimeout     = 30 * time.Second
	defaultRefreshTimeout  = 15 * time.Second
	defaultShutdownDelay   = 10 * time.Second
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultOTPTTL          = 5 * time.Minute
	defaultOTPRateLimit    = 5
	devJWTSecret           = "dev-access-secret"
	devRefreshSecret       = "dev-refresh-secret"
)

// Credential store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config captures runtime configuration for both the client core and the
// simulated backend, loaded from environment variables.
type Config struct {
	AppName  string
	AppEnv   string
	LogLevel string

	// Client side.
	APIBaseURL      string
	CredentialStore string
	StorePath       string
	RedisURL        string
	Namespace       string
	DeviceID        string
	HTTPTimeout     time.Duration
	RefreshTimeout  time.Duration

	// Backend side.
	Port            string
	DatabaseURL     string
	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OTPTTL          time.Duration
	OTPRateLimit    int
	ShutdownPeriod  time.Duration
}

// Load reads configuration values from the environment (and an optional .env
// file) and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		CredentialStore: strings.ToLower(getEnv("CREDENTIAL_STORE", defaultStoreKind)),
		StorePath:       getEnv("CREDENTIAL_STORE_PATH", defaultStorePath()),
		RedisURL:        os.Getenv("REDIS_URL"),
		Namespace:       getEnv("CREDENTIAL_NAMESPACE", defaultNamespace),
		DeviceID:        os.Getenv("DEVICE_ID"),
		Port:            getEnv("PORT", defaultPort),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_SECRET"),
		OTPRateLimit:    defaultOTPRateLimit,
	}
	cfg.APIBaseURL = strings.TrimRight(getEnv("API_BASE_URL", BaseURLFor(cfg.AppEnv)), "/")

	durations := []struct {
		target   *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.HTTPTimeout, "HTTP_TIMEOUT", defaultHTTPTimeout},
		{&cfg.RefreshTimeout, "REFRESH_TIMEOUT", defaultRefreshTimeout},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTokenTTL},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", defaultRefreshTokenTTL},
		{&cfg.OTPTTL, "OTP_TTL", defaultOTPTTL},
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
	}
	for _, d := range durations {
		v, err := getDuration(d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.target = v
	}

	if v := os.Getenv("OTP_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OTP_RATE_LIMIT: %w", err)
		}
		cfg.OTPRateLimit = n
	}

	switch cfg.CredentialStore {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when CREDENTIAL_STORE=redis")
		}
	default:
		return Config{}, fmt.Errorf("invalid CREDENTIAL_STORE %q", cfg.CredentialStore)
	}

	return cfg, nil
}

// ValidateBackend checks the settings the simulated backend needs. Outside of
// development the token secrets are mandatory; in development they fall back
// to fixed values.
func (c *Config) ValidateBackend() error {
	if IsDev(c.AppEnv) {
		if c.JWTSecret == "" {
			c.JWTSecret = devJWTSecret
		}
		if c.RefreshSecret == "" {
			c.RefreshSecret = devRefreshSecret
		}
		return nil
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RefreshSecret == "" {
		return fmt.Errorf("REFRESH_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.JWTSecret == c.RefreshSecret {
		return fmt.Errorf("JWT_SECRET and REFRESH_SECRET must differ")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// BaseURLFor resolves the backend base URL for an environment name.
func BaseURLFor(env string) string {
	if IsDev(env) {
		return defaultDevBaseURL
	}
	return defaultProdBaseURL
}

// IsDev reports whether env names a development environment.
func IsDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(".glaucare", "session.json")
	}
	return filepath.Join(home, ".glaucare", "session.json")
}

// getDuration reads NAME as a Go duration or NAME_SECONDS as an integer,
// preferring the seconds form when both are set.
func getDuration(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
