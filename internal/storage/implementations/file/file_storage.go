package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/storage/blob"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

const artifactExt = ".json"

// FileStorageConfig contains configuration for file-based model storage
type FileStorageConfig struct {
	BasePath    string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`
	CreateDirs  bool   `json:"create_dirs" mapstructure:"create_dirs" yaml:"create_dirs"`
	Compression bool   `json:"compression" mapstructure:"compression" yaml:"compression"`
	SyncWrites  bool   `json:"sync_writes" mapstructure:"sync_writes" yaml:"sync_writes"`
}

// FileStorage keeps one artifact file per key below BasePath
type FileStorage struct {
	config    *FileStorageConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	metrics   *blob.Counters
	connected bool
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "FileStorageConfig cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidConfig, "BasePath is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &FileStorage{
		config:  config,
		logger:  logger,
		metrics: blob.New(),
	}, nil
}

// Connect checks that the base directory exists and is writable
func (s *FileStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	if s.config.CreateDirs {
		if err := os.MkdirAll(s.config.BasePath, 0755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
				fmt.Sprintf("Failed to create directory: %s", s.config.BasePath))
		}
	}
	if _, err := os.Stat(s.config.BasePath); os.IsNotExist(err) {
		return errors.NewStorageError(errors.CodeConnectionFailed, fmt.Sprintf("Base path does not exist: %s", s.config.BasePath))
	}

	testFile := filepath.Join(s.config.BasePath, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewStorageError(errors.CodeConnectionFailed, fmt.Sprintf("Cannot write to directory: %s", s.config.BasePath))
	}
	file.Close()
	os.Remove(testFile)

	s.connected = true
	s.logger.WithField("base_path", s.config.BasePath).Info("File model store connected")
	return nil
}

// Close releases the store
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	s.logger.Info("File model store disconnected")
	return nil
}

// Ping verifies the base path is still accessible
func (s *FileStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return blob.NotConnected("file")
	}
	if _, err := os.Stat(s.config.BasePath); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Base path is not accessible")
	}
	return nil
}

func (s *FileStorage) path(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key)+artifactExt)
}

// Save writes data under key. The file is replaced atomically.
func (s *FileStorage) Save(ctx context.Context, key string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return blob.NotConnected("file")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}
	if s.config.Compression {
		compressed, err := blob.Compress(data)
		if err != nil {
			s.metrics.Failure()
			return err
		}
		data = compressed
	}

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to create model directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".artifact-*")
	if err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("Failed to write model %s", key))
	}
	if s.config.SyncWrites {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			s.metrics.Failure()
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to sync model file")
		}
	}
	if err := tmp.Close(); err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to close model file")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("Failed to store model %s", key))
	}

	s.metrics.Write(len(data))
	s.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("Saved model")
	return nil
}

// Load reads the artifact stored under key
func (s *FileStorage) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, blob.NotConnected("file")
	}
	if err := blob.ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, blob.NotFound(key)
	}
	if err != nil {
		s.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, fmt.Sprintf("Failed to read model %s", key))
	}
	s.metrics.Read(len(data))

	if s.config.Compression {
		return blob.Decompress(data)
	}
	return data, nil
}

// List returns the stored models whose key starts with prefix, sorted by key
func (s *FileStorage) List(ctx context.Context, prefix string) ([]models.ModelInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, blob.NotConnected("file")
	}

	var infos []models.ModelInfo
	err := filepath.WalkDir(s.config.BasePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), artifactExt) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.config.BasePath, p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), artifactExt)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, models.ModelInfo{Key: key, Size: info.Size(), UpdatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		s.metrics.Failure()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to list models")
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Delete removes the artifact stored under key
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return blob.NotConnected("file")
	}
	if err := blob.ValidateKey(key); err != nil {
		return err
	}

	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return blob.NotFound(key)
	}
	if err != nil {
		s.metrics.Failure()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, fmt.Sprintf("Failed to delete model %s", key))
	}
	s.metrics.Delete()
	return nil
}

// GetMetrics returns operation counters
func (s *FileStorage) GetMetrics(ctx context.Context) (*interfaces.StorageMetrics, error) {
	return s.metrics.Snapshot(), nil
}
