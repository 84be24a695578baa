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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Cascade CascadeConfig `yaml:"cascade" mapstructure:"cascade"`
	Vision  VisionConfig  `yaml:"vision" mapstructure:"vision"`
	Parse   ParseConfig   `yaml:"parse" mapstructure:"parse"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CascadeConfig holds the extraction cascade thresholds.
type CascadeConfig struct {
	MatchThreshold       float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	DirectParseThreshold float64 `yaml:"direct_parse_threshold" mapstructure:"direct_parse_threshold"`
	EMAWeight            float64 `yaml:"ema_weight" mapstructure:"ema_weight"`
	DisableThreshold     float64 `yaml:"disable_threshold" mapstructure:"disable_threshold"`
}

// VisionConfig holds the external analysis settings.
type VisionConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ParseConfig configures the batch parse command.
type ParseConfig struct {
	MaxConcurrentFiles int `yaml:"max_concurrent_files" mapstructure:"max_concurrent_files"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "forecast.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cascade.match_threshold", 70.0)
	v.SetDefault("cascade.direct_parse_threshold", 90.0)
	v.SetDefault("cascade.ema_weight", 0.1)
	v.SetDefault("cascade.disable_threshold", 0.7)
	v.SetDefault("vision.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("vision.max_tokens", 4096)
	v.SetDefault("vision.timeout_secs", 60)
	v.SetDefault("vision.requests_per_minute", 20)
	v.SetDefault("parse.max_concurrent_files", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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

	return &cfg, nil
}

// Validate checks the configuration for the given run mode ("parse" or
// "serve"). Errors accumulate so one run reports every problem.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "parse", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Cascade.MatchThreshold < 0 || c.Cascade.MatchThreshold > 100 {
		problems = append(problems, "cascade.match_threshold must be between 0 and 100")
	}
	if c.Cascade.DirectParseThreshold < c.Cascade.MatchThreshold || c.Cascade.DirectParseThreshold > 100 {
		problems = append(problems, "cascade.direct_parse_threshold must be between match_threshold and 100")
	}
	if c.Cascade.EMAWeight <= 0 || c.Cascade.EMAWeight > 1 {
		problems = append(problems, "cascade.ema_weight must be in (0, 1]")
	}
	if c.Cascade.DisableThreshold < 0 || c.Cascade.DisableThreshold > 1 {
		problems = append(problems, "cascade.disable_threshold must be between 0 and 1")
	}

	if c.Vision.Key == "" {
		problems = append(problems, "vision.key is required")
	}
	if c.Vision.RequestsPerMinute < 1 {
		problems = append(problems, "vision.requests_per_minute must be >= 1")
	}

	if c.Parse.MaxConcurrentFiles < 1 || c.Parse.MaxConcurrentFiles > 16 {
		problems = append(problems, "parse.max_concurrent_files must be between 1 and 16")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
