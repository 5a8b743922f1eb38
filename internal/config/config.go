// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading  TradingConfig  `mapstructure:"trading"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`

	v *viper.Viper
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode string `mapstructure:"mode"` // "live", "paper"
}

// AccountsConfig holds the default account per market.
type AccountsConfig struct {
	Domestic Account `mapstructure:"domestic"`
	Overseas Account `mapstructure:"overseas"`
}

// Account is a default account used when a request carries none.
type Account struct {
	Account  string `mapstructure:"account"`
	Password string `mapstructure:"password"`
}

// BrokerConfig holds the broker API connection settings.
type BrokerConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PaperBaseURL string        `mapstructure:"paper_base_url"`
	AppKey       string        `mapstructure:"app_key"`
	AppSecret    string        `mapstructure:"app_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	AuthTimeout  time.Duration `mapstructure:"auth_timeout"`
	ReadRetries  int           `mapstructure:"read_retries"`

	// VTS routes live mode to the broker's simulated trading gateway.
	VTS bool `mapstructure:"vts"`

	// Paper broker seed balance per market, in market currency.
	PaperDeposit map[string]string `mapstructure:"paper_deposit"`
	// Paper broker quotes by product code.
	PaperPrices map[string]string `mapstructure:"paper_prices"`
}

// DatabaseConfig holds the order journal connection.
type DatabaseConfig struct {
	ConnStr string `mapstructure:"conn_str"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/efriend-trader"
	}
	return filepath.Join(home, ".config", "efriend-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	return fromViper(v)
}

// FromMap builds a Config from in-memory settings, mainly for tests.
func FromMap(settings map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v, os.TempDir())
	for k, val := range settings {
		v.Set(k, val)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("broker.base_url", "https://openapi.koreainvestment.com:9443")
	v.SetDefault("broker.paper_base_url", "https://openapivts.koreainvestment.com:29443")
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("broker.auth_timeout", 15*time.Second)
	v.SetDefault("broker.read_retries", 3)
	v.SetDefault("broker.vts", false)
	v.SetDefault("broker.paper_deposit", map[string]string{"domestic": "10000000", "overseas": "10000"})
	v.SetDefault("broker.paper_prices", map[string]string{
		"005930": "70000",
		"000660": "180000",
		"035720": "45000",
		"AAPL":   "190.50",
		"TSLA":   "245.10",
	})
	v.SetDefault("database.conn_str", filepath.Join(configDir, "orders.db"))
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", false)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "efriend.log"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EFRIEND_APP_KEY"); v != "" {
		cfg.Broker.AppKey = v
	}
	if v := os.Getenv("EFRIEND_APP_SECRET"); v != "" {
		cfg.Broker.AppSecret = v
	}
	if v := os.Getenv("EFRIEND_DOMESTIC_ACCOUNT"); v != "" {
		cfg.Accounts.Domestic.Account = v
	}
	if v := os.Getenv("EFRIEND_DOMESTIC_PASSWORD"); v != "" {
		cfg.Accounts.Domestic.Password = v
	}
	if v := os.Getenv("EFRIEND_OVERSEAS_ACCOUNT"); v != "" {
		cfg.Accounts.Overseas.Account = v
	}
	if v := os.Getenv("EFRIEND_OVERSEAS_PASSWORD"); v != "" {
		cfg.Accounts.Overseas.Password = v
	}
	if v := os.Getenv("EFRIEND_DB_CONN_STR"); v != "" {
		cfg.Database.ConnStr = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("%w: trading mode %q (must be 'live' or 'paper')", apperrors.ErrConfigInvalid, c.Trading.Mode)
	}
	if c.Broker.Timeout <= 0 || c.Broker.AuthTimeout <= 0 {
		return fmt.Errorf("%w: broker timeouts must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Broker.ReadRetries < 1 {
		return fmt.Errorf("%w: read_retries must be at least 1", apperrors.ErrConfigInvalid)
	}
	if c.Trading.Mode == "live" && (c.Broker.AppKey == "" || c.Broker.AppSecret == "") {
		return fmt.Errorf("%w: live mode requires broker.app_key and broker.app_secret", apperrors.ErrConfigInvalid)
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// Get is an opaque section/key lookup. Missing keys return "".
func (c *Config) Get(section, key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(strings.ToLower(section) + "." + strings.ToLower(key))
}

// DefaultAccount returns the configured fallback account for m.
func (c *Config) DefaultAccount(m models.Market) (Account, error) {
	var acct Account
	switch m {
	case models.Domestic:
		acct = c.Accounts.Domestic
	case models.Overseas:
		acct = c.Accounts.Overseas
	default:
		return Account{}, apperrors.Wrapf(apperrors.ErrMarketUnsupported, "market %q", string(m))
	}
	if acct.Account == "" {
		return Account{}, apperrors.Wrapf(apperrors.ErrAccountUnavailable, "accounts.%s", m)
	}
	return acct, nil
}

// LoggingConfig converts the log section for the logging package.
func (c *Config) LoggingConfig() logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = c.Log.Level
	lc.Console = c.Log.Console
	lc.File = c.Log.File
	if c.Log.FilePath != "" {
		lc.FilePath = c.Log.FilePath
	}
	return lc
}
