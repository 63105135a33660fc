package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	DataDir   string       `yaml:"data_dir" mapstructure:"data_dir"`
	ConfigDir string       `yaml:"config_dir" mapstructure:"config_dir"`
	Ledger    string       `yaml:"ledger" mapstructure:"ledger"`
	Ingest    IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Log       LogConfig    `yaml:"log" mapstructure:"log"`
}

// IngestConfig configures the ingestion stage.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BronzeDir returns the root of the raw-staged tier.
func (c *Config) BronzeDir() string {
	return filepath.Join(c.DataDir, "bronze")
}

// SilverDir returns the root of the reconciled tier.
func (c *Config) SilverDir() string {
	return filepath.Join(c.DataDir, "silver")
}

// GoldDir returns the root of the finalized tier.
func (c *Config) GoldDir() string {
	return filepath.Join(c.DataDir, "gold")
}

// LedgerPath returns the audit ledger location, defaulting to
// <data_dir>/audit/ledger.jsonl.
func (c *Config) LedgerPath() string {
	if c.Ledger != "" {
		return c.Ledger
	}
	return filepath.Join(c.DataDir, "audit", "ledger.jsonl")
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MOVIELAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data_dir", "data")
	v.SetDefault("config_dir", "configs")
	v.SetDefault("ingest.concurrency", 4)
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

	if cfg.Ingest.Concurrency < 1 {
		cfg.Ingest.Concurrency = 1
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
