// Package config loads application configuration and wires the logger.
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
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// CatalogConfig locates the dataset catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DataConfig configures on-disk artifacts.
type DataConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	Manifest   string `yaml:"manifest" mapstructure:"manifest"`
	RunLog     string `yaml:"run_log" mapstructure:"run_log"`
	ScratchDir string `yaml:"scratch_dir" mapstructure:"scratch_dir"`
}

// FetchConfig configures remote retrieval.
type FetchConfig struct {
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	ProbeTimeoutSecs    int    `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	RetrieveTimeoutSecs int    `yaml:"retrieve_timeout_secs" mapstructure:"retrieve_timeout_secs"`
	MaxRetries          int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("DATAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.manifest", "data/manifest.json")
	v.SetDefault("data.run_log", "data/runs.db")
	v.SetDefault("data.scratch_dir", "")
	v.SetDefault("fetch.user_agent", "datahub-cli/1.0")
	v.SetDefault("fetch.probe_timeout_secs", 20)
	v.SetDefault("fetch.retrieve_timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("server.port", 8080)
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
