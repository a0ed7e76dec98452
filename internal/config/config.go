package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for dav-sync.
type Config struct {
	// WebDAV account
	ServerURL string `env:"DAV_SERVER_URL"`
	Username  string `env:"DAV_USERNAME"`
	Password  string `env:"DAV_PASSWORD"`

	// Passphrase protecting the account's key material
	Passphrase string `env:"CIPHER_PASSPHRASE"`

	// Remote layout. The homes default to /calendars/<user>/ and
	// /addressbooks/<user>/.
	CalendarHome      string `env:"CALENDAR_HOME"`
	AddressbookHome   string `env:"ADDRESSBOOK_HOME"`
	KeyCollectionPath string `env:"KEY_COLLECTION_PATH" envDefault:"/key-material/"`

	// Host of the operator's own service. Accounts there get the
	// protocol version announcement instead of release notes.
	OperatorHost string `env:"OPERATOR_HOST" envDefault:"dav.example.org"`

	// Local database. Defaults to ~/.dav-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	KickInterval time.Duration `env:"KICK_INTERVAL" envDefault:"5s"`
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`

	// Optional integrations
	PushURL    string `env:"PUSH_URL"`
	ControlDir string `env:"CONTROL_DIR"`
	ThemeFile  string `env:"THEME_FILE"`

	// Status server
	EnableStatus     bool   `env:"ENABLE_STATUS" envDefault:"false"`
	StatusListenAddr string `env:"STATUS_LISTEN_ADDR" envDefault:":8091"`
	StatusAPIKeyHash string `env:"STATUS_API_KEY_HASH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.CalendarHome == "" {
		cfg.CalendarHome = "/calendars/" + url.PathEscape(cfg.Username) + "/"
	}

	if cfg.AddressbookHome == "" {
		cfg.AddressbookHome = "/addressbooks/" + url.PathEscape(cfg.Username) + "/"
	}

	if cfg.ControlDir != "" {
		absDir, err := filepath.Abs(cfg.ControlDir)
		if err != nil {
			return nil, fmt.Errorf("resolving control dir to absolute path: %w", err)
		}

		cfg.ControlDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("DAV_SERVER_URL is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DAV_SERVER_URL must be an absolute URL")
	}

	if c.Username == "" {
		return fmt.Errorf("DAV_USERNAME is required")
	}

	if c.Password == "" {
		return fmt.Errorf("DAV_PASSWORD is required")
	}

	if c.Passphrase == "" {
		return fmt.Errorf("CIPHER_PASSPHRASE is required")
	}

	if c.KickInterval <= 0 {
		return fmt.Errorf("KICK_INTERVAL must be positive")
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}

	if !strings.HasSuffix(c.KeyCollectionPath, "/") {
		return fmt.Errorf("KEY_COLLECTION_PATH must end with /")
	}

	if c.EnableStatus && c.StatusAPIKeyHash == "" {
		return fmt.Errorf("STATUS_API_KEY_HASH is required when the status server is enabled")
	}

	return nil
}

// Account identifies the account in local state and telemetry.
func (c *Config) Account() string {
	return c.Username
}

// IsOperatorHost reports whether the account lives on the operator's
// own service.
func (c *Config) IsOperatorHost() bool {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return false
	}

	return strings.EqualFold(u.Hostname(), c.OperatorHost)
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
