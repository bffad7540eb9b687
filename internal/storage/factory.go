// Package storage builds the model stores that persist fitted estimators.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/implementations/file"
	"github.com/inferloop/tsforecast/internal/storage/implementations/redis"
	"github.com/inferloop/tsforecast/internal/storage/implementations/s3"
	"github.com/inferloop/tsforecast/internal/storage/implementations/weaviate"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
)

// Config selects a model store backend and carries the settings of each
type Config struct {
	Type     string                  `json:"type" mapstructure:"type" yaml:"type"`
	File     file.FileStorageConfig  `json:"file" mapstructure:"file" yaml:"file"`
	S3       s3.S3Config             `json:"s3" mapstructure:"s3" yaml:"s3"`
	Redis    redis.RedisConfig       `json:"redis" mapstructure:"redis" yaml:"redis"`
	Weaviate weaviate.WeaviateConfig `json:"weaviate" mapstructure:"weaviate" yaml:"weaviate"`
}

// DefaultConfig stores models as files under the default model directory
func DefaultConfig() Config {
	return Config{
		Type: constants.StorageFile,
		File: file.FileStorageConfig{
			BasePath:   constants.DefaultModelDir,
			CreateDirs: true,
		},
		S3: s3.S3Config{
			Region:     "us-east-1",
			Timeout:    constants.DefaultStorageTimeout,
			MaxRetries: 3,
		},
		Redis: redis.RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  constants.DefaultStorageTimeout,
			ReadTimeout:  constants.DefaultStorageTimeout,
			WriteTimeout: constants.DefaultStorageTimeout,
			KeyPrefix:    "tsforecast",
		},
		Weaviate: weaviate.WeaviateConfig{
			Host:      "localhost:8080",
			Scheme:    "http",
			Timeout:   constants.DefaultStorageTimeout,
			ClassName: "ForecastModel",
		},
	}
}

// CreateFunc builds a model store from cfg
type CreateFunc func(cfg *Config, logger *logrus.Logger) (interfaces.ModelStore, error)

// Factory creates model stores by backend name
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
}

// NewFactory creates a new storage factory with the built-in backends
func NewFactory(logger *logrus.Logger) *Factory {
	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
	}
	factory.registerDefaults()
	return factory
}

// CreateStore creates the store named by cfg.Type without connecting it
func (f *Factory) CreateStore(cfg *Config) (interfaces.ModelStore, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError(errors.CodeNotConfigured, "storage config cannot be nil")
	}

	f.mu.RLock()
	createFunc, exists := f.creators[cfg.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("Storage type '%s' is not supported", cfg.Type))
	}

	store, err := createFunc(cfg, f.logger)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeInvalidConfig,
			fmt.Sprintf("Failed to create %s storage", cfg.Type))
	}

	f.logger.WithFields(logrus.Fields{
		"storage_type": cfg.Type,
	}).Info("Created storage instance")
	return store, nil
}

// Open creates the configured store and connects it
func (f *Factory) Open(ctx context.Context, cfg *Config) (interfaces.ModelStore, error) {
	store, err := f.CreateStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// GetSupportedTypes returns all supported storage types, sorted
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for storageType := range f.creators {
		types = append(types, storageType)
	}
	sort.Strings(types)
	return types
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(storageType string, createFunc CreateFunc) error {
	if storageType == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Storage type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewValidationError(errors.CodeMissingField, "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[storageType] = createFunc

	f.logger.WithFields(logrus.Fields{
		"storage_type": storageType,
	}).Debug("Registered storage type")
	return nil
}

// IsSupported checks if a storage type is supported
func (f *Factory) IsSupported(storageType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.creators[storageType]
	return exists
}

func (f *Factory) registerDefaults() {
	f.RegisterStorage(constants.StorageFile, func(cfg *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		fileConfig := cfg.File
		return file.NewFileStorage(&fileConfig, logger)
	})

	f.RegisterStorage(constants.StorageS3, func(cfg *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		s3Config := cfg.S3
		return s3.NewS3Storage(&s3Config, logger)
	})

	f.RegisterStorage(constants.StorageRedis, func(cfg *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		redisConfig := cfg.Redis
		return redis.NewRedisStorage(&redisConfig, logger)
	})

	f.RegisterStorage(constants.StorageWeaviate, func(cfg *Config, logger *logrus.Logger) (interfaces.ModelStore, error) {
		weaviateConfig := cfg.Weaviate
		return weaviate.NewWeaviateStorage(&weaviateConfig, logger)
	})
}
