package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once at
// process start and passed into constructors; nothing reads viper after Load.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Upload  UploadConfig  `yaml:"upload" mapstructure:"upload"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ExportConfig configures the encounter export job.
type ExportConfig struct {
	MaxRecords int    `yaml:"max_records" mapstructure:"max_records"`
	HashSecret string `yaml:"hash_secret" mapstructure:"hash_secret"`
	Revision   string `yaml:"revision" mapstructure:"revision"`
}

// UploadConfig holds credentials and limits for the encounter upload endpoint.
type UploadConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	User          string `yaml:"user" mapstructure:"user"`
	Password      string `yaml:"password" mapstructure:"password"`
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// GeocodeConfig configures the external geocoder and the response cache.
type GeocodeConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	AuthID       string  `yaml:"auth_id" mapstructure:"auth_id"`
	AuthToken    string  `yaml:"auth_token" mapstructure:"auth_token"`
	CacheTTLDays int     `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ReportConfig configures batch report delivery.
type ReportConfig struct {
	// SinkURL is either a blob URL (file://, s3://) or an ftp:// folder URL.
	SinkURL string `yaml:"sink_url" mapstructure:"sink_url"`
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
	v.SetEnvPrefix("STUDYEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("export.max_records", 500)
	v.SetDefault("upload.max_concurrent", 50)
	v.SetDefault("geocode.cache_ttl_days", 14)
	v.SetDefault("geocode.batch_size", 100)
	v.SetDefault("geocode.rate_limit", 50)
	v.SetDefault("report.sink_url", "file:///var/spool/study-export")
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
