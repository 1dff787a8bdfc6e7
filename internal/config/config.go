package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Rate     RateConfig     `yaml:"rate" mapstructure:"rate"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
	Solver   SolverConfig   `yaml:"solver" mapstructure:"solver"`
	Planning PlanningConfig `yaml:"planning" mapstructure:"planning"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port                  int    `yaml:"port" mapstructure:"port"`
	ReadHeaderTimeoutSecs int    `yaml:"read_header_timeout_secs" mapstructure:"read_header_timeout_secs"`
	AllowOrigins          string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, postgres, sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Migrate     bool   `yaml:"migrate" mapstructure:"migrate"`
}

// RedisConfig enables the cross-replica event broker when URL is set.
type RedisConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// RateConfig is the per-tenant limit on plan submissions.
type RateConfig struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

// WebhookConfig tunes outbound delivery.
type WebhookConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SolverConfig bounds each branch-and-bound search.
type SolverConfig struct {
	TimeBudgetSecs int     `yaml:"time_budget_secs" mapstructure:"time_budget_secs"`
	NodeLimit      int     `yaml:"node_limit" mapstructure:"node_limit"`
	IntTol         float64 `yaml:"int_tol" mapstructure:"int_tol"`
}

// PlanningConfig holds the model defaults applied when a request leaves an
// option unset.
type PlanningConfig struct {
	SeparationMiles float64 `yaml:"separation_miles" mapstructure:"separation_miles"`
	CoverageTarget  string  `yaml:"coverage_target" mapstructure:"coverage_target"`
	FixedFee        string  `yaml:"fixed_fee" mapstructure:"fixed_fee"`
	ExclusiveTiers  bool    `yaml:"exclusive_tiers" mapstructure:"exclusive_tiers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps keys to the unprefixed variable names older deployments set.
var legacyEnv = map[string]string{
	"server.port":          "PORT",
	"server.allow_origins": "ALLOW_ORIGINS",
	"store.database_url":   "DATABASE_URL",
	"store.migrate":        "DB_MIGRATE",
	"redis.url":            "REDIS_URL",
	"rate.rps":             "RATE_RPS",
	"rate.burst":           "RATE_BURST",
	"webhook.max_attempts": "WEBHOOK_MAX_ATTEMPTS",
}

// Load reads config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SITEPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		prefixed := "SITEPLAN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}
	if err := v.BindEnv("store.driver"); err != nil {
		return nil, eris.Wrap(err, "config: bind store.driver")
	}

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout_secs", 5)
	v.SetDefault("store.sqlite_path", "siteplan.db")
	v.SetDefault("store.migrate", true)
	v.SetDefault("redis.channel", "siteplan:plan-events")
	v.SetDefault("rate.rps", 5.0)
	v.SetDefault("rate.burst", 10)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.poll_interval_secs", 2)
	v.SetDefault("webhook.batch_size", 50)
	v.SetDefault("webhook.timeout_secs", 5)
	v.SetDefault("solver.time_budget_secs", 60)
	v.SetDefault("solver.node_limit", 200000)
	v.SetDefault("solver.int_tol", 1e-6)
	v.SetDefault("planning.separation_miles", 0.06)
	v.SetDefault("planning.coverage_target", "total")
	v.SetDefault("planning.fixed_fee", "unconditional")
	v.SetDefault("planning.exclusive_tiers", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
		if cfg.Store.DatabaseURL != "" {
			cfg.Store.Driver = "postgres"
		}
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return eris.New("config: store.sqlite_path is required for the sqlite driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Rate.RPS <= 0 || c.Rate.Burst <= 0 {
		return eris.New("config: rate.rps and rate.burst must be positive")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return eris.New("config: webhook.max_attempts must be positive")
	}
	if c.Solver.IntTol <= 0 || c.Solver.IntTol >= 0.5 {
		return eris.Errorf("config: solver.int_tol %v out of range", c.Solver.IntTol)
	}
	if c.Planning.SeparationMiles <= 0 {
		return eris.New("config: planning.separation_miles must be positive")
	}
	switch c.Planning.CoverageTarget {
	case "total", "under5":
	default:
		return eris.Errorf("config: unknown planning.coverage_target %q", c.Planning.CoverageTarget)
	}
	switch c.Planning.FixedFee {
	case "unconditional", "gated":
	default:
		return eris.Errorf("config: unknown planning.fixed_fee %q", c.Planning.FixedFee)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
