// Package config loads tsforecast settings from a YAML file, TSFORECAST_*
// environment variables and built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/tsforecast/internal/forecasting"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/regression"
	"github.com/inferloop/tsforecast/internal/server"
	"github.com/inferloop/tsforecast/internal/sources"
	"github.com/inferloop/tsforecast/internal/storage"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Config is the full application configuration
type Config struct {
	Server      server.Config               `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig               `mapstructure:"logging" yaml:"logging"`
	Storage     storage.Config              `mapstructure:"storage" yaml:"storage"`
	Source      sources.Config              `mapstructure:"source" yaml:"source"`
	Metrics     metrics.PrometheusConfig    `mapstructure:"metrics" yaml:"metrics"`
	Forecasting forecasting.Hyperparameters `mapstructure:"forecasting" yaml:"forecasting"`
	Regression  regression.TapNetParams     `mapstructure:"regression" yaml:"regression"`
}

// LoggingConfig selects the logrus level and formatter
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: *server.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  constants.DefaultLogLevel,
			Format: constants.DefaultLogFormat,
		},
		Storage:     storage.DefaultConfig(),
		Source:      sources.DefaultConfig(),
		Metrics:     *metrics.DefaultPrometheusConfig(),
		Forecasting: forecasting.DefaultHyperparameters(constants.DefaultSeqLen, constants.DefaultPredLen),
		Regression:  regression.DefaultTapNetParams(),
	}
}

// Load reads cfgFile, or ~/.tsforecast/config.yaml when cfgFile is empty.
// A missing default file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+constants.AppName))
		}
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := Default()
	setDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
				"error reading config file")
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"error unmarshaling config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if path := v.ConfigFileUsed(); path != "" {
		logrus.WithField("file", path).Debug("Loaded configuration file")
	}
	return config, nil
}

// setDefaults registers the keys AutomaticEnv should resolve. Viper only
// consults the environment for keys it already knows about.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", c.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.enable_cors", c.Server.EnableCORS)
	v.SetDefault("server.max_request_size", c.Server.MaxRequestSize)
	v.SetDefault("server.tls_cert_file", c.Server.TLSCertFile)
	v.SetDefault("server.tls_key_file", c.Server.TLSKeyFile)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("storage.type", c.Storage.Type)
	v.SetDefault("storage.file.base_path", c.Storage.File.BasePath)
	v.SetDefault("storage.file.create_dirs", c.Storage.File.CreateDirs)
	v.SetDefault("storage.file.compression", c.Storage.File.Compression)
	v.SetDefault("storage.s3.region", c.Storage.S3.Region)
	v.SetDefault("storage.s3.bucket", c.Storage.S3.Bucket)
	v.SetDefault("storage.s3.endpoint", c.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.prefix", c.Storage.S3.Prefix)
	v.SetDefault("storage.s3.access_key_id", c.Storage.S3.AccessKeyID)
	v.SetDefault("storage.s3.secret_access_key", c.Storage.S3.SecretAccessKey)
	v.SetDefault("storage.redis.addr", c.Storage.Redis.Addr)
	v.SetDefault("storage.redis.password", c.Storage.Redis.Password)
	v.SetDefault("storage.redis.db", c.Storage.Redis.DB)
	v.SetDefault("storage.redis.key_prefix", c.Storage.Redis.KeyPrefix)
	v.SetDefault("storage.weaviate.host", c.Storage.Weaviate.Host)
	v.SetDefault("storage.weaviate.scheme", c.Storage.Weaviate.Scheme)
	v.SetDefault("storage.weaviate.api_key", c.Storage.Weaviate.APIKey)
	v.SetDefault("storage.weaviate.timeout", c.Storage.Weaviate.Timeout)
	v.SetDefault("storage.weaviate.class_name", c.Storage.Weaviate.ClassName)

	v.SetDefault("source.type", c.Source.Type)
	v.SetDefault("source.csv.path", c.Source.CSV.Path)
	v.SetDefault("source.influxdb.url", c.Source.InfluxDB.URL)
	v.SetDefault("source.influxdb.token", c.Source.InfluxDB.Token)
	v.SetDefault("source.influxdb.organization", c.Source.InfluxDB.Organization)
	v.SetDefault("source.influxdb.bucket", c.Source.InfluxDB.Bucket)
	v.SetDefault("source.postgres.dsn", c.Source.Postgres.DSN)
	v.SetDefault("source.postgres.host", c.Source.Postgres.Host)
	v.SetDefault("source.postgres.port", c.Source.Postgres.Port)
	v.SetDefault("source.postgres.database", c.Source.Postgres.Database)
	v.SetDefault("source.postgres.username", c.Source.Postgres.Username)
	v.SetDefault("source.postgres.password", c.Source.Postgres.Password)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.path", c.Metrics.Path)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)

	v.SetDefault("forecasting.seq_len", c.Forecasting.SeqLen)
	v.SetDefault("forecasting.pred_len", c.Forecasting.PredLen)
	v.SetDefault("forecasting.num_epochs", c.Forecasting.NumEpochs)
	v.SetDefault("forecasting.batch_size", c.Forecasting.BatchSize)
	v.SetDefault("forecasting.lr", c.Forecasting.LR)
	v.SetDefault("forecasting.criterion", c.Forecasting.Criterion)
	v.SetDefault("forecasting.optimizer", c.Forecasting.Optimizer)

	v.SetDefault("regression.n_epochs", c.Regression.NEpochs)
	v.SetDefault("regression.batch_size", c.Regression.BatchSize)
	v.SetDefault("regression.lr", c.Regression.LR)
}

// Validate checks the settings that every command depends on
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("server port %d is out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown log format %q", c.Logging.Format))
	}
	if c.Storage.Type == "" {
		return errors.NewConfigurationError(errors.CodeNotConfigured, "storage type is required")
	}
	return nil
}
