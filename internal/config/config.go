package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/validation"
	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the daemon.
type Config struct {
	Webshare WebshareConfig
	Sync     SyncConfig
	Resolver ResolverConfig
	Server   ServerConfig
	Database DatabaseConfig
}

// WebshareConfig holds remote authorization API configuration.
type WebshareConfig struct {
	Token          string        `env:"WEBSHARE_TOKEN"`
	BaseURL        string        `env:"WEBSHARE_BASE_URL" envDefault:"https://proxy.webshare.io"`
	RequestTimeout time.Duration `env:"WEBSHARE_REQUEST_TIMEOUT" envDefault:"30s"`
	FileShim       string        `env:"WEBSHARE_FILE_SHIM"` // Path to a JSON file standing in for the remote API
}

// SyncConfig holds reconciliation behavior configuration.
type SyncConfig struct {
	CheckCycleTime          int           `env:"CHECK_CYCLE_TIME" envDefault:"5"` // minutes
	RemoveAllAuthsOnStartup bool          `env:"REMOVE_ALL_AUTHS_ON_STARTUP" envDefault:"false"`
	RetryDelay              time.Duration `env:"SYNC_RETRY_DELAY" envDefault:"10s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Interval returns the cycle interval.
func (c *SyncConfig) Interval() time.Duration {
	return time.Duration(c.CheckCycleTime) * time.Minute
}

// ResolverConfig selects how the current public address is discovered.
type ResolverConfig struct {
	Command string `env:"RESOLVER_COMMAND"` // External provider; empty uses the whatsmyip endpoint
}

// ServerConfig holds status API configuration.
type ServerConfig struct {
	Enabled bool   `env:"SERVER_ENABLED" envDefault:"true"`
	Host    string `env:"SERVER_HOST" envDefault:"127.0.0.1"`
	Port    int    `env:"SERVER_PORT" envDefault:"8080"`
	APIKey  string `env:"STATUS_API_KEY"`
	// Requests per minute per client IP on /api/v1; 0 disables limiting
	RateLimit int `env:"SERVER_RATE_LIMIT" envDefault:"120"`
}

// DatabaseConfig holds cycle history storage configuration. Driver "sqlite3"
// uses the cgo driver, "sqlite" the pure Go one.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/ipauth.db"`
}

// DefaultConfigFile is read when CONFIG_FILE is unset.
const DefaultConfigFile = "config.json"

// fileKeys maps the keys accepted in the JSON config file to the variables
// they stand in for.
var fileKeys = map[string]string{
	"webshare_token":              "WEBSHARE_TOKEN",
	"check_cycle_time":            "CHECK_CYCLE_TIME",
	"remove_all_auths_on_startup": "REMOVE_ALL_AUTHS_ON_STARTUP",
}

// Load loads configuration from environment variables, an optional .env file
// and an optional JSON config file, in that order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	environ := environMap()
	if err := mergeConfigFile(environ); err != nil {
		return nil, err
	}
	opts := env.Options{Environment: environ}

	cfg := &Config{}

	if err := env.ParseWithOptions(&cfg.Webshare, opts); err != nil {
		return nil, fmt.Errorf("parsing webshare config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Sync, opts); err != nil {
		return nil, fmt.Errorf("parsing sync config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Resolver, opts); err != nil {
		return nil, fmt.Errorf("parsing resolver config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Server, opts); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Database, opts); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	return cfg, nil
}

func environMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

// mergeConfigFile fills unset variables from the JSON config file. A missing
// default file is not an error; a missing CONFIG_FILE is.
func mergeConfigFile(environ map[string]string) error {
	path, explicit := environ["CONFIG_FILE"]
	if !explicit || path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for key, value := range values {
		name, ok := fileKeys[key]
		if !ok {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if _, set := environ[name]; set || value == nil {
			continue
		}
		environ[name] = fmt.Sprint(value)
	}
	return nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs validation.ValidationErrors

	// If using the file shim, the API token is not required
	if !c.UseFileShim() {
		if err := validation.ValidateToken(c.Webshare.Token); err != nil {
			errs.Add("WEBSHARE_TOKEN", "", err.Error()+" (or set WEBSHARE_FILE_SHIM for testing)")
		}
		if c.Webshare.BaseURL == "" {
			errs.Add("WEBSHARE_BASE_URL", "", "base URL is required")
		}
	}
	if err := validation.ValidatePositiveDuration(c.Webshare.RequestTimeout); err != nil {
		errs.Add("WEBSHARE_REQUEST_TIMEOUT", c.Webshare.RequestTimeout.String(), err.Error())
	}
	if err := validation.ValidateInterval(c.Sync.CheckCycleTime); err != nil {
		errs.Add("CHECK_CYCLE_TIME", strconv.Itoa(c.Sync.CheckCycleTime), err.Error())
	}
	if err := validation.ValidatePositiveDuration(c.Sync.RetryDelay); err != nil {
		errs.Add("SYNC_RETRY_DELAY", c.Sync.RetryDelay.String(), err.Error())
	}
	if err := validation.ValidatePositiveDuration(c.Sync.ShutdownTimeout); err != nil {
		errs.Add("SHUTDOWN_TIMEOUT", c.Sync.ShutdownTimeout.String(), err.Error())
	}

	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
		if c.Database.DSN == "" {
			errs.Add("DB_DSN", "", "DSN is required for driver "+c.Database.Driver)
		}
	case "memory":
	default:
		errs.Add("DB_DRIVER", c.Database.Driver, "driver must be sqlite3, sqlite, postgres or memory")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs.Add("SERVER_PORT", strconv.Itoa(c.Server.Port), "port must be between 1 and 65535")
	}
	if c.Server.RateLimit < 0 {
		errs.Add("SERVER_RATE_LIMIT", strconv.Itoa(c.Server.RateLimit), "rate limit must not be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// UseFileShim returns true if the file shim should be used instead of the real API.
func (c *Config) UseFileShim() bool {
	return c.Webshare.FileShim != ""
}

// UseCommandResolver returns true if an external provider command resolves addresses.
func (c *Config) UseCommandResolver() bool {
	return c.Resolver.Command != ""
}
