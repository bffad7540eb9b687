// Package sources reads the series that estimators train and predict on,
// from CSV files, InfluxDB buckets or PostgreSQL/TimescaleDB tables.
package sources

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// Config selects a series source and carries the settings of each backend
type Config struct {
	Type     string         `json:"type" mapstructure:"type" yaml:"type"`
	CSV      CSVConfig      `json:"csv" mapstructure:"csv" yaml:"csv"`
	InfluxDB InfluxDBConfig `json:"influxdb" mapstructure:"influxdb" yaml:"influxdb"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres" yaml:"postgres"`
}

// DefaultConfig reads CSV files relative to the working directory
func DefaultConfig() Config {
	return Config{
		Type: constants.SourceCSV,
		CSV:  CSVConfig{Path: "."},
		InfluxDB: InfluxDBConfig{
			URL:     "http://localhost:8086",
			Timeout: constants.DefaultStorageTimeout,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			SSLMode:        "prefer",
			TimeColumn:     "time",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   constants.DefaultStorageTimeout,
			MaxConnections: 4,
			MaxIdleConns:   2,
		},
	}
}

// NewSource creates the source named by cfg.Type without connecting it
func NewSource(cfg *Config, logger *logrus.Logger) (interfaces.SeriesSource, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError(errors.CodeNotConfigured, "source config cannot be nil")
	}
	switch cfg.Type {
	case constants.SourceCSV:
		c := cfg.CSV
		return NewCSVSource(&c, logger)
	case constants.SourceInfluxDB:
		c := cfg.InfluxDB
		return NewInfluxDBSource(&c, logger)
	case constants.SourcePostgres:
		c := cfg.Postgres
		return NewPostgresSource(&c, logger)
	default:
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("Source type '%s' is not supported", cfg.Type))
	}
}

// SupportedTypes lists the source backends NewSource understands
func SupportedTypes() []string {
	return []string{constants.SourceCSV, constants.SourceInfluxDB, constants.SourcePostgres}
}

func notConnected(backend string) error {
	return errors.NewSourceError(errors.CodeNotConfigured, fmt.Sprintf("%s source not connected", backend))
}

func inRange(t time.Time, q interfaces.SeriesQuery) bool {
	if !q.Start.IsZero() && t.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false
	}
	return true
}

// finish orders rows by time, keeps the most recent q.Limit of them and
// checks the result is usable.
func finish(name string, columns []string, points []models.DataPoint, q interfaces.SeriesQuery) (*models.TimeSeries, error) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	if q.Limit > 0 && len(points) > q.Limit {
		points = points[len(points)-q.Limit:]
	}
	if len(points) == 0 {
		return nil, errors.NewSourceError(errors.CodeInsufficientData,
			fmt.Sprintf("no observations found for series '%s'", name))
	}

	ts := &models.TimeSeries{
		ID:         name,
		Name:       name,
		Columns:    columns,
		DataPoints: points,
	}
	if step := ts.Step(); step > 0 {
		ts.Frequency = step.String()
	}
	if err := ts.Validate(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeInvalidInput,
			fmt.Sprintf("series '%s' is not usable", name))
	}
	return ts, nil
}
