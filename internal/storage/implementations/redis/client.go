package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/blob"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const (
	fieldData      = "data"
	fieldSize      = "size"
	fieldUpdatedAt = "updated_at"

	scanCount = 100
)

// RedisConfig holds configuration for Redis model storage
type RedisConfig struct {
	Addr           string        `json:"addr" mapstructure:"addr" yaml:"addr"`
	Password       string        `json:"password" mapstructure:"password" yaml:"password"`
	DB             int           `json:"db" mapstructure:"db" yaml:"db"`
	DialTimeout    time.Duration `json:"dial_timeout" mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" mapstructure:"write_timeout" yaml:"write_timeout"`
	PoolSize       int           `json:"pool_size" mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns   int           `json:"min_idle_conns" mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	IdleTimeout    time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" yaml:"idle_timeout"`
	TTL            time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
	KeyPrefix      string        `json:"key_prefix" mapstructure:"key_prefix" yaml:"key_prefix"`
	UseCompression bool          `json:"use_compression" mapstructure:"use_compression" yaml:"use_compression"`
	UseClustering  bool          `json:"use_clustering" mapstructure:"use_clustering" yaml:"use_clustering"`
	ClusterAddrs   []string      `json:"cluster_addrs" mapstructure:"cluster_addrs" yaml:"cluster_addrs"`
}

// RedisStorage keeps each model artifact in a hash holding the encoded
// bytes, their size and the time of the last save.
type RedisStorage struct {
	config  *RedisConfig
	client  redis.UniversalClient
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *blob.Counters
	closed  bool
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}
	if config.Addr == "" && len(config.ClusterAddrs) == 0 {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address or cluster addresses are required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &RedisStorage{
		config:  config,
		logger:  logger,
		metrics: blob.New(),
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	var client redis.UniversalClient
	if r.config.UseClustering && len(r.config.ClusterAddrs) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        r.config.ClusterAddrs,
			Password:     r.config.Password,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         r.config.Addr,
			Password:     r.config.Password,
			DB:           r.config.DB,
			DialTimeout:  r.config.DialTimeout,
			ReadTimeout:  r.config.ReadTimeout,
			WriteTimeout: r.config.WriteTimeout,
			PoolSize:     r.config.PoolSize,
			MinIdleConns: r.config.MinIdleConns,
			MaxRetries:   r.config.MaxRetries,
			IdleTimeout:  r.config.IdleTimeout,
		})
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Redis")
	}

	r.client = client
	r.closed = false

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"clustering": r.config.UseClustering,
	}).Info("Connected to Redis")
	return nil
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	r.closed = true
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to close Redis connection")
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisStorage) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return blob.NotConnected("Redis")
	}
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		r.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Redis ping failed")
	}
	return nil
}

// Save stores data under key, replacing any previous artifact. A configured
// TTL is refreshed on every save.
func (r *RedisStorage) Save(ctx context.Context, key string, data []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return blob.NotConnected("Redis")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	if r.config.UseCompression {
		compressed, err := blob.Compress(data)
		if err != nil {
			r.metrics.Failure()
			return err
		}
		data = compressed
	}

	redisKey := r.generateModelKey(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey,
			fieldData, data,
			fieldSize, len(data),
			fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if r.config.TTL > 0 {
			pipe.Expire(ctx, redisKey, r.config.TTL)
		}
		return nil
	})
	if err != nil {
		r.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to save model to Redis")
	}

	r.metrics.Write(len(data))
	r.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("Saved model")
	return nil
}

// Load returns the artifact stored under key
func (r *RedisStorage) Load(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, blob.NotConnected("Redis")
	}
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := r.client.HGet(ctx, r.generateModelKey(key), fieldData).Bytes()
	if err == redis.Nil {
		return nil, blob.NotFound(key)
	}
	if err != nil {
		r.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to load model from Redis")
	}

	r.metrics.Read(len(data))
	if r.config.UseCompression {
		return blob.Decompress(data)
	}
	return data, nil
}

// List scans for models whose key starts with prefix
func (r *RedisStorage) List(ctx context.Context, prefix string) ([]models.ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return nil, blob.NotConnected("Redis")
	}

	pattern := r.generateModelKey(escapePattern(prefix)) + "*"
	var infos []models.ModelInfo
	iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		redisKey := iter.Val()
		values, err := r.client.HMGet(ctx, redisKey, fieldSize, fieldUpdatedAt).Result()
		if err != nil {
			r.metrics.Failure()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read model metadata")
		}
		infos = append(infos, modelInfo(r.extractKey(redisKey), values))
	}
	if err := iter.Err(); err != nil {
		r.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to scan Redis keys")
	}
	return infos, nil
}

// Delete removes the artifact stored under key
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || r.client == nil {
		return blob.NotConnected("Redis")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	if err := r.client.Del(ctx, r.generateModelKey(key)).Err(); err != nil {
		r.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete model from Redis")
	}
	r.metrics.Delete()
	return nil
}

// GetMetrics returns operation counters
func (r *RedisStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	return r.metrics.Snapshot(), nil
}

func (r *RedisStorage) keyPrefix() string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":model:"
	}
	return "model:"
}

func (r *RedisStorage) generateModelKey(key string) string {
	return r.keyPrefix() + key
}

func (r *RedisStorage) extractKey(redisKey string) string {
	return strings.TrimPrefix(redisKey, r.keyPrefix())
}

func modelInfo(key string, values []interface{}) models.ModelInfo {
	info := models.ModelInfo{Key: key}
	if len(values) != 2 {
		return info
	}
	if s, ok := values[0].(string); ok {
		info.Size, _ = strconv.ParseInt(s, 10, 64)
	}
	if s, ok := values[1].(string); ok {
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	return info
}

// escapePattern quotes the glob characters SCAN MATCH understands
func escapePattern(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
