// Package config handles application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	DBWriter  DBWriterConfig  `yaml:"db_writer"`
	Broker    BrokerConfig    `yaml:"broker"`
	Engine    EngineConfig    `yaml:"engine"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	HTTP      HTTPConfig      `yaml:"http"`
	Alert     AlertConfig     `yaml:"alert"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// DatabaseConfig selects and addresses the durable store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite | memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
	// Migrate applies embedded migrations on startup (postgres only).
	Migrate FlexBool `yaml:"migrate"`
}

// URL returns the postgres connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// DBWriterConfig controls the buffered signal/equity writer.
type DBWriterConfig struct {
	BatchSize            int `yaml:"batch_size"`
	WriteIntervalSeconds int `yaml:"write_interval_seconds"`
}

// BrokerConfig addresses the brokerage.
type BrokerConfig struct {
	Kind        string        `yaml:"kind"` // alpaca | paper
	Mode        string        `yaml:"mode"` // paper | live (alpaca endpoint)
	BaseURL     string        `yaml:"base_url"`
	DataURL     string        `yaml:"data_url"`
	Feed        string        `yaml:"feed"`
	APIKey      string        `yaml:"-"`
	APISecret   string        `yaml:"-"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second
	RateBurst   int           `yaml:"rate_burst"`
	// PaperDataDir holds <SYMBOL>.csv bar files for the in-memory paper broker.
	PaperDataDir string  `yaml:"paper_data_dir"`
	PaperCash    float64 `yaml:"paper_cash"`
}

// EngineConfig controls the live cycle.
type EngineConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout"`
	BaseBarSize   time.Duration `yaml:"base_bar_size"`
	Timeframe     time.Duration `yaml:"timeframe"`
	SessionOrigin string        `yaml:"session_origin"` // HH:MM in Timezone
	Timezone      string        `yaml:"timezone"`
	FetchBars     int           `yaml:"fetch_bars"`
	// StartRunning seeds system_status.engine_running when the row is created.
	StartRunning FlexBool `yaml:"start_running"`
}

// StrategyConfig holds the fixed indicator settings shared by live and simulation.
type StrategyConfig struct {
	RSIPeriod      int     `yaml:"rsi_period"`
	ADXPeriod      int     `yaml:"adx_period"`
	PanicRSI       float64 `yaml:"panic_rsi"`
	InitialBalance float64 `yaml:"initial_balance"`
	SlippagePct    float64 `yaml:"slippage_pct"`
}

// OptimizerConfig controls parameter tuning.
type OptimizerConfig struct {
	Symbols             []string      `yaml:"symbols"`
	Interval            time.Duration `yaml:"interval"`
	Trials              int           `yaml:"trials"`
	Seed                uint64        `yaml:"seed"`
	Workers             int           `yaml:"workers"`
	HistoryDays         int           `yaml:"history_days"`
	UseObservedSlippage FlexBool      `yaml:"use_observed_slippage"`
	Bounds              BoundsConfig  `yaml:"bounds"`
}

// BoundsConfig is the search space.
type BoundsConfig struct {
	ADXMin int     `yaml:"adx_min"`
	ADXMax int     `yaml:"adx_max"`
	RSIMin int     `yaml:"rsi_min"`
	RSIMax int     `yaml:"rsi_max"`
	TPMin  float64 `yaml:"tp_min"`
	TPMax  float64 `yaml:"tp_max"`
	SLMin  float64 `yaml:"sl_min"`
	SLMax  float64 `yaml:"sl_max"`
}

// HTTPConfig controls the health/metrics server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AlertConfig controls notifications.
type AlertConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	Timeout        time.Duration `yaml:"timeout"`
	BufferInterval time.Duration `yaml:"buffer_interval"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	return &Config{
		App: AppConfig{LogLevel: "info"},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "trendbot",
			SSLMode: "disable",
			Path:    "trading_bot.db",
		},
		DBWriter: DBWriterConfig{BatchSize: 100, WriteIntervalSeconds: 5},
		Broker: BrokerConfig{
			Kind:        "alpaca",
			Mode:        "paper",
			DataURL:     "https://data.alpaca.markets",
			Feed:        "iex",
			CallTimeout: 10 * time.Second,
			RateLimit:   3,
			RateBurst:   5,
			PaperCash:   100000,
		},
		Engine: EngineConfig{
			TickInterval:  60 * time.Second,
			CycleTimeout:  50 * time.Second,
			BaseBarSize:   time.Hour,
			Timeframe:     2 * time.Hour,
			SessionOrigin: "09:30",
			Timezone:      "America/New_York",
			FetchBars:     400,
			StartRunning:  true,
		},
		Strategy: StrategyConfig{
			RSIPeriod:      14,
			ADXPeriod:      14,
			PanicRSI:       30,
			InitialBalance: 10000,
		},
		Optimizer: OptimizerConfig{
			Interval:    24 * time.Hour,
			Trials:      60,
			Seed:        42,
			Workers:     2,
			HistoryDays: 365,
			Bounds: BoundsConfig{
				ADXMin: 20, ADXMax: 30,
				RSIMin: 45, RSIMax: 60,
				TPMin: 0.10, TPMax: 0.30,
				SLMin: 0.05, SLMax: 0.10,
			},
		},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Alert: AlertConfig{Timeout: 5 * time.Second, BufferInterval: time.Minute},
	}
}

var current atomic.Pointer[Config]

// GetConfig returns the most recently loaded configuration, or defaults.
func GetConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return Default()
}

// ReloadConfig loads the file again and swaps the shared configuration.
func ReloadConfig(configPath string) (*Config, error) {
	return LoadConfig(configPath)
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("ALPACA_API_KEY", &cfg.Broker.APIKey)
	setString("ALPACA_SECRET_KEY", &cfg.Broker.APISecret)
	setString("ALPACA_BASE_URL", &cfg.Broker.BaseURL)
	setString("TRADING_MODE", &cfg.Broker.Mode)
	setString("LOG_LEVEL", &cfg.App.LogLevel)
	setString("DB_DRIVER", &cfg.Database.Driver)
	setString("DB_HOST", &cfg.Database.Host)
	setString("DB_USER", &cfg.Database.User)
	setString("DB_PASSWORD", &cfg.Database.Password)
	setString("DB_NAME", &cfg.Database.Name)
	setString("DB_PATH", &cfg.Database.Path)
	setString("REPORT_WEBHOOK_URL", &cfg.Alert.WebhookURL)

	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT %q: %w", v, err)
		}
		cfg.Database.Port = port
	}
	if v := os.Getenv("OPTIMIZER_TRIALS"); v != "" {
		trials, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid OPTIMIZER_TRIALS %q: %w", v, err)
		}
		cfg.Optimizer.Trials = trials
	}
	if v := os.Getenv("ENGINE_START_RUNNING"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("invalid ENGINE_START_RUNNING %q: %w", v, err)
		}
		cfg.Engine.StartRunning = FlexBool(b)
	}
	if cfg.Broker.BaseURL == "" {
		if strings.EqualFold(cfg.Broker.Mode, "live") {
			cfg.Broker.BaseURL = "https://api.alpaca.markets"
		} else {
			cfg.Broker.BaseURL = "https://paper-api.alpaca.markets"
		}
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver))
	}
	switch c.Broker.Kind {
	case "alpaca", "paper":
	default:
		errs = append(errs, fmt.Errorf("broker.kind must be alpaca or paper, got %q", c.Broker.Kind))
	}
	if c.Engine.BaseBarSize <= 0 || c.Engine.Timeframe < c.Engine.BaseBarSize {
		errs = append(errs, fmt.Errorf("engine.timeframe (%s) must be >= engine.base_bar_size (%s)", c.Engine.Timeframe, c.Engine.BaseBarSize))
	}
	if c.Engine.Timeframe > 0 && (24*time.Hour)%c.Engine.Timeframe != 0 {
		errs = append(errs, fmt.Errorf("engine.timeframe %s must divide 24h", c.Engine.Timeframe))
	}
	if c.Engine.TickInterval <= 0 {
		errs = append(errs, errors.New("engine.tick_interval must be positive"))
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
	}
	if _, err := time.Parse("15:04", c.Engine.SessionOrigin); err != nil {
		errs = append(errs, fmt.Errorf("engine.session_origin must be HH:MM: %w", err))
	}
	if c.Strategy.RSIPeriod < 2 || c.Strategy.ADXPeriod < 2 {
		errs = append(errs, errors.New("strategy periods must be >= 2"))
	}
	b := c.Optimizer.Bounds
	if b.ADXMin > b.ADXMax || b.RSIMin > b.RSIMax || b.TPMin > b.TPMax || b.SLMin > b.SLMax {
		errs = append(errs, errors.New("optimizer.bounds: min must not exceed max"))
	}
	if b.TPMin <= 0 || b.SLMin <= 0 || b.SLMax >= 1 {
		errs = append(errs, errors.New("optimizer.bounds: tp/sl must be positive fractions"))
	}
	if c.Optimizer.Trials <= 0 {
		errs = append(errs, errors.New("optimizer.trials must be positive"))
	}
	return errors.Join(errs...)
}
