package weaviate

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	wvmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/inferloop/tsforecast/internal/storage/blob"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const (
	propKey       = "key"
	propArtifact  = "artifact"
	propSize      = "size"
	propUpdatedAt = "updatedAt"

	defaultClassName = "ForecastModel"
	listPageSize     = 100
)

// keyNamespace derives stable object IDs from model keys
var keyNamespace = uuid.MustParse("6f1c5a52-8e0b-4d8a-9a43-2b7e5d0c9f11")

// WeaviateConfig holds configuration for Weaviate model storage
type WeaviateConfig struct {
	Host           string            `json:"host" mapstructure:"host" yaml:"host"`
	Scheme         string            `json:"scheme" mapstructure:"scheme" yaml:"scheme"`
	APIKey         string            `json:"api_key,omitempty" mapstructure:"api_key" yaml:"api_key,omitempty"`
	Username       string            `json:"username,omitempty" mapstructure:"username" yaml:"username,omitempty"`
	Password       string            `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
	Timeout        time.Duration     `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	Headers        map[string]string `json:"headers,omitempty" mapstructure:"headers" yaml:"headers,omitempty"`
	ClassName      string            `json:"class_name" mapstructure:"class_name" yaml:"class_name"`
	UseCompression bool              `json:"use_compression" mapstructure:"use_compression" yaml:"use_compression"`
}

// WeaviateStorage keeps each artifact as one object of a dedicated class.
// Object IDs are derived from the model key so saves overwrite in place.
type WeaviateStorage struct {
	config  *WeaviateConfig
	client  *weaviate.Client
	logger  *logrus.Logger
	mu      sync.RWMutex
	metrics *blob.Counters
	closed  bool
}

// NewWeaviateStorage creates a new Weaviate storage instance
func NewWeaviateStorage(config *WeaviateConfig, logger *logrus.Logger) (*WeaviateStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Weaviate config cannot be nil")
	}
	if config.Host == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Weaviate host is required")
	}
	if config.Scheme == "" {
		config.Scheme = "http"
	}
	if config.ClassName == "" {
		config.ClassName = defaultClassName
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &WeaviateStorage{
		config:  config,
		logger:  logger,
		metrics: blob.New(),
	}, nil
}

// Connect creates the client, waits for readiness and makes sure the model
// class exists.
func (w *WeaviateStorage) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil {
		return nil
	}

	cfg := weaviate.Config{
		Host:   w.config.Host,
		Scheme: w.config.Scheme,
	}
	if w.config.Timeout > 0 {
		cfg.ConnectionClient = &http.Client{Timeout: w.config.Timeout}
	}
	if len(w.config.Headers) > 0 {
		cfg.Headers = w.config.Headers
	}
	if w.config.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: w.config.APIKey}
	} else if w.config.Username != "" && w.config.Password != "" {
		cfg.AuthConfig = auth.ResourceOwnerPasswordFlow{
			Username: w.config.Username,
			Password: w.config.Password,
		}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to create Weaviate client")
	}

	ready, err := client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to connect to Weaviate")
	}
	if !ready {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Weaviate is not ready")
	}

	exists, err := client.Schema().ClassExistenceChecker().WithClassName(w.config.ClassName).Do(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to inspect Weaviate schema")
	}
	if !exists {
		if err := client.Schema().ClassCreator().WithClass(modelClass(w.config.ClassName)).Do(ctx); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to create model class")
		}
	}

	w.client = client
	w.closed = false

	w.logger.WithFields(logrus.Fields{
		"host":   w.config.Host,
		"scheme": w.config.Scheme,
		"class":  w.config.ClassName,
	}).Info("Connected to Weaviate")
	return nil
}

// Close releases the client
func (w *WeaviateStorage) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.client = nil
	w.closed = true

	w.logger.Info("Weaviate connection closed")
	return nil
}

// Ping checks that Weaviate is still live
func (w *WeaviateStorage) Ping(ctx context.Context) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed || w.client == nil {
		return blob.NotConnected("Weaviate")
	}
	live, err := w.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		w.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Weaviate ping failed")
	}
	if !live {
		return errors.NewStorageError(errors.CodeConnectionFailed, "Weaviate is not live")
	}
	return nil
}

// Save stores data under key, replacing any previous artifact
func (w *WeaviateStorage) Save(ctx context.Context, key string, data []byte) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed || w.client == nil {
		return blob.NotConnected("Weaviate")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	if w.config.UseCompression {
		compressed, err := blob.Compress(data)
		if err != nil {
			w.metrics.Failure()
			return err
		}
		data = compressed
	}

	id := objectID(key)
	properties := objectProperties(key, data, time.Now())

	exists, err := w.client.Data().Checker().WithClassName(w.config.ClassName).WithID(id).Do(ctx)
	if err != nil {
		w.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to check model in Weaviate")
	}
	if exists {
		err = w.client.Data().Updater().
			WithClassName(w.config.ClassName).
			WithID(id).
			WithProperties(properties).
			Do(ctx)
	} else {
		_, err = w.client.Data().Creator().
			WithClassName(w.config.ClassName).
			WithID(id).
			WithProperties(properties).
			Do(ctx)
	}
	if err != nil {
		w.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to save model to Weaviate")
	}

	w.metrics.Write(len(data))
	w.logger.WithFields(logrus.Fields{
		"key":  key,
		"id":   id,
		"size": len(data),
	}).Debug("Saved model")
	return nil
}

// Load returns the artifact stored under key
func (w *WeaviateStorage) Load(ctx context.Context, key string) ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed || w.client == nil {
		return nil, blob.NotConnected("Weaviate")
	}
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}

	id := objectID(key)
	exists, err := w.client.Data().Checker().WithClassName(w.config.ClassName).WithID(id).Do(ctx)
	if err != nil {
		w.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to check model in Weaviate")
	}
	if !exists {
		return nil, blob.NotFound(key)
	}

	objects, err := w.client.Data().ObjectsGetter().WithClassName(w.config.ClassName).WithID(id).Do(ctx)
	if err != nil {
		w.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to load model from Weaviate")
	}
	if len(objects) == 0 {
		return nil, blob.NotFound(key)
	}

	data, err := decodeArtifact(objects[0].Properties)
	if err != nil {
		w.metrics.Failure()
		return nil, err
	}

	w.metrics.Read(len(data))
	if w.config.UseCompression {
		return blob.Decompress(data)
	}
	return data, nil
}

// List pages through every model object and keeps those whose key starts
// with prefix.
func (w *WeaviateStorage) List(ctx context.Context, prefix string) ([]models.ModelInfo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed || w.client == nil {
		return nil, blob.NotConnected("Weaviate")
	}

	var infos []models.ModelInfo
	after := ""
	for {
		getter := w.client.Data().ObjectsGetter().WithClassName(w.config.ClassName).WithLimit(listPageSize)
		if after != "" {
			getter = getter.WithAfter(after)
		}
		objects, err := getter.Do(ctx)
		if err != nil {
			w.metrics.Failure()
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list models in Weaviate")
		}
		for _, obj := range objects {
			info, ok := modelInfo(obj.Properties)
			if ok && strings.HasPrefix(info.Key, prefix) {
				infos = append(infos, info)
			}
		}
		if len(objects) < listPageSize {
			break
		}
		after = string(objects[len(objects)-1].ID)
	}
	return infos, nil
}

// Delete removes the artifact stored under key
func (w *WeaviateStorage) Delete(ctx context.Context, key string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed || w.client == nil {
		return blob.NotConnected("Weaviate")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	id := objectID(key)
	exists, err := w.client.Data().Checker().WithClassName(w.config.ClassName).WithID(id).Do(ctx)
	if err != nil {
		w.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to check model in Weaviate")
	}
	if !exists {
		return blob.NotFound(key)
	}
	if err := w.client.Data().Deleter().WithClassName(w.config.ClassName).WithID(id).Do(ctx); err != nil {
		w.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to delete model from Weaviate")
	}
	w.metrics.Delete()
	return nil
}

// GetMetrics returns operation counters
func (w *WeaviateStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	return w.metrics.Snapshot(), nil
}

// modelClass declares the schema of stored artifacts. Objects carry no
// vectors.
func modelClass(name string) *wvmodels.Class {
	return &wvmodels.Class{
		Class:       name,
		Description: "Fitted tsforecast estimator artifacts",
		Vectorizer:  "none",
		Properties: []*wvmodels.Property{
			{Name: propKey, DataType: []string{"text"}, Tokenization: "field"},
			{Name: propArtifact, DataType: []string{"blob"}},
			{Name: propSize, DataType: []string{"int"}},
			{Name: propUpdatedAt, DataType: []string{"date"}},
		},
	}
}

func objectID(key string) string {
	return uuid.NewSHA1(keyNamespace, []byte(key)).String()
}

func objectProperties(key string, data []byte, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		propKey:       key,
		propArtifact:  base64.StdEncoding.EncodeToString(data),
		propSize:      len(data),
		propUpdatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}

func decodeArtifact(properties interface{}) ([]byte, error) {
	props, ok := properties.(map[string]interface{})
	if !ok {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "Weaviate object has no properties")
	}
	encoded, ok := props[propArtifact].(string)
	if !ok {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "Weaviate object has no artifact")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decode artifact")
	}
	return data, nil
}

func modelInfo(properties interface{}) (models.ModelInfo, bool) {
	props, ok := properties.(map[string]interface{})
	if !ok {
		return models.ModelInfo{}, false
	}
	key, ok := props[propKey].(string)
	if !ok {
		return models.ModelInfo{}, false
	}
	info := models.ModelInfo{Key: key}
	switch size := props[propSize].(type) {
	case float64:
		info.Size = int64(size)
	case int:
		info.Size = int64(size)
	case int64:
		info.Size = size
	}
	if s, ok := props[propUpdatedAt].(string); ok {
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	return info, true
}

func (w *WeaviateStorage) String() string {
	return fmt.Sprintf("weaviate(%s://%s/%s)", w.config.Scheme, w.config.Host, w.config.ClassName)
}
