package interfaces

import (
	"context"
	"time"

	"github.com/inferloop/tsforecast/pkg/models"
)

// Storage defines the lifecycle shared by model stores and series sources
type Storage interface {
	// Connect establishes connection to the backend
	Connect(ctx context.Context) error

	// Close closes the connection and cleans up resources
	Close() error

	// Ping tests the connection
	Ping(ctx context.Context) error
}

// ModelStore persists fitted estimator artifacts under string keys
type ModelStore interface {
	Storage

	// Save writes the serialized artifact under key, replacing any previous one
	Save(ctx context.Context, key string, data []byte) error

	// Load reads the serialized artifact stored under key
	Load(ctx context.Context, key string) ([]byte, error)

	// List returns the stored artifacts whose key starts with prefix
	List(ctx context.Context, prefix string) ([]models.ModelInfo, error)

	// Delete removes the artifact stored under key
	Delete(ctx context.Context, key string) error

	// GetMetrics returns operation counters
	GetMetrics(ctx context.Context) (*StorageMetrics, error)
}

// SeriesQuery selects observations from a series source
type SeriesQuery struct {
	// Series is the measurement, table or file holding the observations
	Series string `json:"series"`

	// Fields names the value columns to read; empty means every column
	Fields []string `json:"fields,omitempty"`

	// Start and End bound the time range; zero values leave it open
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`

	// Limit keeps only the most recent rows, 0 for no limit
	Limit int `json:"limit,omitempty"`
}

// SeriesSource reads time series for training and prediction
type SeriesSource interface {
	Storage

	// Read returns the observations matching q ordered by time
	Read(ctx context.Context, q SeriesQuery) (*models.TimeSeries, error)
}

// StorageMetrics contains storage operation counters
type StorageMetrics struct {
	ReadOperations   int64         `json:"read_operations"`
	WriteOperations  int64         `json:"write_operations"`
	DeleteOperations int64         `json:"delete_operations"`
	ErrorCount       int64         `json:"error_count"`
	BytesRead        int64         `json:"bytes_read"`
	BytesWritten     int64         `json:"bytes_written"`
	Uptime           time.Duration `json:"uptime"`
}
