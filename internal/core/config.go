package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ParleSec/defra-id-stub/internal/cookiesession"
	"github.com/ParleSec/defra-id-stub/internal/logging"
	"github.com/ParleSec/defra-id-stub/internal/people"
	"github.com/ParleSec/defra-id-stub/internal/session"
)

// LocalEnvironment is the environment of a developer machine
const LocalEnvironment = "local"

// Config holds the application configuration
type Config struct {
	// Server listening port and bind address
	Port int    `mapstructure:"PORT"`
	Host string `mapstructure:"HOST"`

	// Environment (local, dev, test, perf-test, prod) drives host resolution
	Environment string `mapstructure:"ENVIRONMENT"`

	// Host overrides for the discovery document
	WellKnownHost    string `mapstructure:"WELLKNOWN_HOST"`
	WellKnownAPIHost string `mapstructure:"WELLKNOWN_API_HOST"`

	// Directory holding the signing keys and sessions.json
	StorageDir string `mapstructure:"STORAGE_DIR"`

	// Session persistence: memory, file, sqlite or redis
	SessionStore        string `mapstructure:"SESSION_STORE"`
	SessionSQLiteDriver string `mapstructure:"SESSION_SQLITE_DRIVER"`
	RedisURL            string `mapstructure:"REDIS_URL"`

	// Browser session cookie
	CookieName     string `mapstructure:"COOKIE_NAME"`
	CookiePassword string `mapstructure:"COOKIE_PASSWORD"`
	CookieSecure   bool   `mapstructure:"COOKIE_IS_SECURE"`

	// Mock identity data
	AuthMode         string `mapstructure:"AUTH_MODE"`
	AuthOverride     string `mapstructure:"AUTH_OVERRIDE"`
	AuthOverrideFile string `mapstructure:"AUTH_OVERRIDE_FILE"`
	DataDir          string `mapstructure:"DATA_DIR"`

	// Authorization codes are cleared on first redemption when true
	SingleUseCodes bool `mapstructure:"AUTH_SINGLE_USE_CODES"`

	// Remote datasets
	S3Enabled          bool   `mapstructure:"AWS_S3_ENABLED"`
	AWSRegion          string `mapstructure:"AWS_REGION"`
	AWSEndpoint        string `mapstructure:"AWS_ENDPOINT_URL"`
	AWSAccessKeyID     string `mapstructure:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `mapstructure:"AWS_SECRET_ACCESS_KEY"`
	S3Bucket           string `mapstructure:"AWS_S3_BUCKET"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// CORS allowed origins, comma separated
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// Requests per minute per client address; 0 disables the limiter
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads .env (if present), then builds and validates Config from
// the environment. Environment variables override .env.
func LoadConfig() (*Config, error) {
	return loadConfig(".env")
}

func loadConfig(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("PORT", 3007)
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("ENVIRONMENT", LocalEnvironment)
	v.SetDefault("WELLKNOWN_HOST", "")
	v.SetDefault("WELLKNOWN_API_HOST", "")
	v.SetDefault("STORAGE_DIR", "keys")
	v.SetDefault("SESSION_STORE", session.BackendFile)
	v.SetDefault("SESSION_SQLITE_DRIVER", session.DriverModernc)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("COOKIE_NAME", "fcp-defra-id-stub-session")
	v.SetDefault("COOKIE_PASSWORD", "this-must-be-at-least-32-characters-long")
	v.SetDefault("COOKIE_IS_SECURE", false)
	v.SetDefault("AUTH_MODE", string(people.ModeBasic))
	v.SetDefault("AUTH_OVERRIDE", "")
	v.SetDefault("AUTH_OVERRIDE_FILE", "")
	v.SetDefault("DATA_DIR", "/data")
	v.SetDefault("AUTH_SINGLE_USE_CODES", false)
	v.SetDefault("AWS_S3_ENABLED", false)
	v.SetDefault("AWS_REGION", "eu-west-2")
	v.SetDefault("AWS_ENDPOINT_URL", "")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("AWS_S3_BUCKET", "")
	v.SetDefault("LOG_LEVEL", "warn")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = logging.FormatPretty
		if !cfg.IsLocal() {
			cfg.LogFormat = logging.FormatECS
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: PORT must be between 1 and 65535"))
	}

	switch people.Mode(c.AuthMode) {
	case people.ModeBasic, people.ModeMock:
	default:
		errs = append(errs, fmt.Errorf("config: AUTH_MODE must be one of [basic, mock], got %q", c.AuthMode))
	}

	if c.AuthOverride != "" && !people.OverridePattern.MatchString(c.AuthOverride) {
		errs = append(errs, errors.New(`config: AUTH_OVERRIDE must be in format "crn:firstName:lastName:organisationId:sbi:organisationName" `+
			"where crn is 10 digits, firstName/lastName are letters and spaces, organisationId is a number, sbi is 9 digits"))
	}
	if c.AuthOverrideFile != "" && !people.OverrideFilePattern.MatchString(c.AuthOverrideFile) {
		errs = append(errs, errors.New(`config: AUTH_OVERRIDE_FILE must be in format "*.json"`))
	}

	if c.CookieName == "" {
		errs = append(errs, errors.New("config: COOKIE_NAME must be set"))
	}
	if len(c.CookiePassword) < cookiesession.MinPasswordLength {
		errs = append(errs, fmt.Errorf("config: COOKIE_PASSWORD must be at least %d characters", cookiesession.MinPasswordLength))
	}

	switch c.SessionStore {
	case session.BackendMemory, session.BackendFile, session.BackendSQLite:
	case session.BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("config: REDIS_URL must be set when SESSION_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: SESSION_STORE must be one of [memory, file, sqlite, redis], got %q", c.SessionStore))
	}
	if c.SessionStore == session.BackendSQLite {
		switch c.SessionSQLiteDriver {
		case session.DriverModernc, session.DriverCGO:
		default:
			errs = append(errs, fmt.Errorf("config: SESSION_SQLITE_DRIVER must be one of [%s, %s]", session.DriverModernc, session.DriverCGO))
		}
	}

	if c.S3Enabled && c.S3Bucket == "" {
		errs = append(errs, errors.New("config: AWS_S3_BUCKET must be set when AWS_S3_ENABLED=true"))
	}

	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("config: RATE_LIMIT_PER_MINUTE must not be negative"))
	}

	return errors.Join(errs...)
}

// IsLocal returns true when running on a developer machine
func (c *Config) IsLocal() bool {
	return c.Environment == LocalEnvironment
}

// ListenAddr is the address the HTTP server binds
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CORSOriginList returns the allowed origins from the comma-separated setting
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DataSource describes where sign-in data comes from
func (c *Config) DataSource() string {
	var name string
	switch {
	case c.AuthOverrideFile != "":
		name = "override file " + c.AuthOverrideFile
	case c.AuthOverride != "":
		name = "override person"
	default:
		name = "built-in people (" + c.AuthMode + " mode)"
	}
	if c.S3Enabled {
		name += ", S3 bucket " + c.S3Bucket
	}
	return name
}
