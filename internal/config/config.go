package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"vol-funding-engine/internal/logging"
	"vol-funding-engine/internal/storage"
	"vol-funding-engine/internal/turbulence"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Fee      FeeConfig      `mapstructure:"fee"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Instrument names the traded instrument this process accrues fees for.
	Instrument string `mapstructure:"instrument"`
}

// EngineConfig fixes the accrual constants at construction time.
type EngineConfig struct {
	// Precision is the fixed-point scale of the fee ledger (1.0 baseline).
	Precision  uint64            `mapstructure:"precision"`
	Turbulence turbulence.Config `mapstructure:"turbulence"`
}

// FeeConfig parameterises the default fee function.
type FeeConfig struct {
	MaxIndexValue int64  `mapstructure:"max_index_value"`
	DailyRatePPM  uint64 `mapstructure:"daily_rate_ppm"`
}

// OracleConfig covers the on-chain index feed.
type OracleConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	AggregatorAddress string        `mapstructure:"aggregator_address"`
	AnswerDecimals    int32         `mapstructure:"answer_decimals"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig selects and parameterises the checkpoint store.
type DatabaseConfig struct {
	// Driver is "sqlite" (embedded default) or "postgres".
	Driver   string             `mapstructure:"driver"`
	Path     string             `mapstructure:"path"`
	Postgres storage.PoolConfig `mapstructure:"postgres"`
}

// CacheConfig covers the optional redis mirror.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ServerConfig tunes the HTTP trigger/query surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines turbulence alert thresholds and routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	ThresholdPercent uint64         `mapstructure:"threshold_percent"`
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig routes alerts through the Telegram Bot API.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VOLFUNDING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "volfunding")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.instrument", "cvi-usdc")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.precision", uint64(10_000_000_000))
	v.SetDefault("engine.turbulence.heartbeat_seconds", int64(55*60))
	v.SetDefault("engine.turbulence.growth_step", uint64(100))
	v.SetDefault("engine.turbulence.decay_step", uint64(100))
	v.SetDefault("engine.turbulence.max_percent", uint64(1000))
	v.SetDefault("engine.turbulence.floor_percent", uint64(10))

	v.SetDefault("fee.max_index_value", int64(20_000))
	v.SetDefault("fee.daily_rate_ppm", uint64(1_000))

	v.SetDefault("oracle.answer_decimals", int32(0))
	v.SetDefault("oracle.request_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "volfunding.db")
	v.SetDefault("database.postgres.max_open_conns", 10)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_percent", uint64(800))
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values. Engine and
// turbulence constants are rejected here, at startup, never at runtime.
func (c *Config) Validate() error {
	if c.App.Instrument == "" {
		return fmt.Errorf("app.instrument must be set")
	}
	if c.Engine.Precision == 0 {
		return fmt.Errorf("engine.precision must be greater than zero")
	}
	if err := c.Engine.Turbulence.Validate(); err != nil {
		return err
	}
	if c.Fee.MaxIndexValue <= 0 {
		return fmt.Errorf("fee.max_index_value must be greater than zero")
	}
	if c.Fee.DailyRatePPM == 0 {
		return fmt.Errorf("fee.daily_rate_ppm must be greater than zero")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path must be set for the sqlite driver")
		}
	case "postgres", "":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Enabled && c.Alerting.ThresholdPercent == 0 {
		return fmt.Errorf("alerting.threshold_percent must be greater than zero when alerting is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
