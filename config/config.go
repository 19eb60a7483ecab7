package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"maps-harvester/searchurl"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendSheets   = "sheets"
)

// Config represents the harvester configuration
type Config struct {
	// Localities is the ordered work list. Entries from LocalitiesFile are appended.
	Localities     []string `yaml:"localities"`
	LocalitiesFile string   `yaml:"localities_file"`

	// SearchURL is the search URL template. The percent-encoded locality replaces
	// {locality}, or is appended when the placeholder is absent.
	SearchURL string `yaml:"search_url"`

	Store    StoreConfig    `yaml:"store"`
	Browser  BrowserConfig  `yaml:"browser"`
	Harvest  HarvestConfig  `yaml:"harvest"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig selects and configures the persistent store
type StoreConfig struct {
	Backend         string `yaml:"backend"`
	CSVPath         string `yaml:"csv_path"`
	DatabaseURL     string `yaml:"database_url"`
	SQLitePath      string `yaml:"sqlite_path"`
	SpreadsheetURL  string `yaml:"spreadsheet_url"`
	CredentialsPath string `yaml:"credentials_path"`
	SheetName       string `yaml:"sheet_name"`
}

// BrowserConfig configures the headless browser session
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	Bin               string        `yaml:"bin"`
	UserDataDir       string        `yaml:"user_data_dir"`
	UserAgent         string        `yaml:"user_agent"`
	BlockResources    bool          `yaml:"block_resources"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ConsentTimeout    time.Duration `yaml:"consent_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
}

// HarvestConfig holds the convergence and retry limits
type HarvestConfig struct {
	MaxDuplicates    int           `yaml:"max_duplicates"`
	MaxStale         int           `yaml:"max_stale"`
	MaxAttempts      int           `yaml:"max_attempts"`
	ThrottleMin      time.Duration `yaml:"throttle_min"`
	ThrottleMax      time.Duration `yaml:"throttle_max"`
	LocalityDelayMin time.Duration `yaml:"locality_delay_min"`
	LocalityDelayMax time.Duration `yaml:"locality_delay_max"`
	FinishInFlight   bool          `yaml:"finish_in_flight"`
	RequirePhone     bool          `yaml:"require_phone"`
}

// TelegramConfig enables remote control through a Telegram bot
type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Token        string  `yaml:"token"`
	AllowedUsers []int64 `yaml:"allowed_users"`
}

// MetricsConfig exposes counters over HTTP when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.LocalitiesFile != "" {
		extra, err := ReadLocalities(cfg.LocalitiesFile)
		if err != nil {
			return nil, err
		}
		cfg.Localities = append(cfg.Localities, extra...)
	}

	return cfg, nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	return &Config{
		SearchURL: "https://www.google.com/maps/search/restaurant+",
		Store: StoreConfig{
			Backend:   BackendCSV,
			CSVPath:   "establishments.csv",
			SheetName: "Sheet1",
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserDataDir:       "/tmp/harvester-data",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.127 Safari/537.36",
			BlockResources:    true,
			NavigationTimeout: 90 * time.Second,
			ConsentTimeout:    5 * time.Second,
			SettleDelay:       500 * time.Millisecond,
		},
		Harvest: HarvestConfig{
			MaxDuplicates:    100,
			MaxStale:         3,
			MaxAttempts:      3,
			ThrottleMin:      1 * time.Second,
			ThrottleMax:      2 * time.Second,
			LocalityDelayMin: 5 * time.Second,
			LocalityDelayMax: 10 * time.Second,
			FinishInFlight:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv() {
	c.Store.Backend = getEnvOrDefault("HARVEST_STORE", c.Store.Backend)
	c.Store.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.CredentialsPath = getEnvOrDefault("GOOGLE_SHEETS_CREDENTIALS_FILE", c.Store.CredentialsPath)
	c.Browser.Bin = getEnvOrDefault("CHROME_BIN", c.Browser.Bin)
	c.Browser.UserDataDir = getEnvOrDefault("BOT_DATA_DIR", c.Browser.UserDataDir)
	c.Telegram.Token = getEnvOrDefault("TELEGRAM_TOKEN", c.Telegram.Token)
	c.Metrics.Addr = getEnvOrDefault("METRICS_ADDR", c.Metrics.Addr)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("TELEGRAM_ALLOWED_USERS"); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err == nil {
				c.Telegram.AllowedUsers = append(c.Telegram.AllowedUsers, id)
			}
		}
	}
}

// Validate checks that the configuration can drive a run
func (c *Config) Validate() error {
	if len(c.Localities) == 0 {
		return fmt.Errorf("no localities configured")
	}
	if c.SearchURL == "" {
		return fmt.Errorf("search_url is required")
	}
	if err := searchurl.Validate(c.SearchURL); err != nil {
		return fmt.Errorf("invalid search_url: %w", err)
	}

	switch c.Store.Backend {
	case BackendCSV:
		if c.Store.CSVPath == "" {
			return fmt.Errorf("store.csv_path is required for the csv backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" && os.Getenv("DB_HOST") == "" {
			return fmt.Errorf("store.database_url (or DATABASE_URL or DB_HOST) is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case BackendSheets:
		if c.Store.SpreadsheetURL == "" {
			return fmt.Errorf("store.spreadsheet_url is required for the sheets backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	h := c.Harvest
	if h.MaxDuplicates <= 0 || h.MaxStale <= 0 || h.MaxAttempts <= 0 {
		return fmt.Errorf("harvest limits must be positive")
	}
	if h.ThrottleMax < h.ThrottleMin {
		return fmt.Errorf("harvest.throttle_max must not be below throttle_min")
	}
	if h.LocalityDelayMax < h.LocalityDelayMin {
		return fmt.Errorf("harvest.locality_delay_max must not be below locality_delay_min")
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram is enabled but no token is set (TELEGRAM_TOKEN)")
	}

	return nil
}

// ReadLocalities reads one locality per line, skipping blanks and # comments
func ReadLocalities(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open localities file: %w", err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read localities file: %w", err)
	}
	return out, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
