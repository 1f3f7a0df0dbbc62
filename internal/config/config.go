package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/axzora/happy-paisa/internal/money"
)

// DefaultTreasuryAddress is the fixed address holding the genesis supply.
// The hex body spells "treasury" padded to the address length.
const DefaultTreasuryAddress = "hp17472656173757279000000000000000000000000"

// Config captures application runtime configuration. Values come from
// environment variables, with an optional .env file for local development.
type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	AppEnv   string `mapstructure:"APP_ENV"`
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	AMQPURL     string `mapstructure:"AMQP_URL"`

	ShutdownPeriod time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	// Chain settlement tuning.
	BlockDelay      time.Duration `mapstructure:"CHAIN_BLOCK_DELAY"`
	TransferFee     int64         `mapstructure:"CHAIN_TRANSFER_FEE_PLANCK"`
	MintCapHP       int64         `mapstructure:"CHAIN_MINT_CAP_HP"`
	GenesisSupplyHP int64         `mapstructure:"CHAIN_GENESIS_SUPPLY_HP"`
	TreasuryAddress string        `mapstructure:"CHAIN_TREASURY_ADDRESS"`

	// Balance projection.
	LedgerWait   time.Duration `mapstructure:"PROJECTION_LEDGER_WAIT"`
	ViewCacheTTL time.Duration `mapstructure:"PROJECTION_CACHE_TTL"`

	// Card platform.
	CardBIN        string `mapstructure:"CARD_BIN"`
	CardTimezone   string `mapstructure:"CARD_TIMEZONE"`
	FraudThreshold int    `mapstructure:"FRAUD_THRESHOLD"`

	// Background jobs (standard 5-field cron expressions).
	ProjectionRefreshSchedule string `mapstructure:"PROJECTION_REFRESH_SCHEDULE"`
	SettlementWatchSchedule   string `mapstructure:"SETTLEMENT_WATCH_SCHEDULE"`
}

// Load reads configuration from the environment (and a .env file when one
// exists in the working directory) and validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("APP_NAME", "HappyPaisa")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("CHAIN_BLOCK_DELAY", 6*time.Second)
	v.SetDefault("CHAIN_TRANSFER_FEE_PLANCK", money.PlanckPerHP/1000) // 0.001 HP
	v.SetDefault("CHAIN_MINT_CAP_HP", 10_000)
	v.SetDefault("CHAIN_GENESIS_SUPPLY_HP", 1_000_000)
	v.SetDefault("CHAIN_TREASURY_ADDRESS", DefaultTreasuryAddress)
	v.SetDefault("PROJECTION_LEDGER_WAIT", 2*time.Second)
	v.SetDefault("PROJECTION_CACHE_TTL", 5*time.Minute)
	v.SetDefault("CARD_BIN", "4000")
	v.SetDefault("CARD_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("FRAUD_THRESHOLD", 80)
	v.SetDefault("PROJECTION_REFRESH_SCHEDULE", "*/5 * * * *")
	v.SetDefault("SETTLEMENT_WATCH_SCHEDULE", "* * * * *")

	for _, key := range []string{
		"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL",
		"DATABASE_URL", "REDIS_URL", "AMQP_URL",
		"SHUTDOWN_TIMEOUT", "IDEMPOTENCY_TTL",
		"CHAIN_BLOCK_DELAY", "CHAIN_TRANSFER_FEE_PLANCK", "CHAIN_MINT_CAP_HP",
		"CHAIN_GENESIS_SUPPLY_HP", "CHAIN_TREASURY_ADDRESS",
		"PROJECTION_LEDGER_WAIT", "PROJECTION_CACHE_TTL",
		"CARD_BIN", "CARD_TIMEZONE", "FRAUD_THRESHOLD",
		"PROJECTION_REFRESH_SCHEDULE", "SETTLEMENT_WATCH_SCHEDULE",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.Dev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	if c.BlockDelay <= 0 {
		return fmt.Errorf("CHAIN_BLOCK_DELAY must be positive")
	}
	if c.TransferFee < 0 {
		return fmt.Errorf("CHAIN_TRANSFER_FEE_PLANCK must not be negative")
	}
	if c.MintCapHP <= 0 || c.GenesisSupplyHP <= 0 {
		return fmt.Errorf("chain supply limits must be positive")
	}
	if c.FraudThreshold <= 0 || c.FraudThreshold > 100 {
		return fmt.Errorf("FRAUD_THRESHOLD must be within 1..100")
	}
	return nil
}

// Dev reports whether the configured environment is a development one.
func (c Config) Dev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
