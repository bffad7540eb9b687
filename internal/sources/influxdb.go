package sources

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// InfluxDBConfig contains configuration for reading series from InfluxDB 2.x.
// A query's Series names the measurement and its Fields the _field values.
type InfluxDBConfig struct {
	URL          string        `json:"url" mapstructure:"url" yaml:"url"`
	Token        string        `json:"token" mapstructure:"token" yaml:"token"`
	Organization string        `json:"organization" mapstructure:"organization" yaml:"organization"`
	Bucket       string        `json:"bucket" mapstructure:"bucket" yaml:"bucket"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	UseGZip      bool          `json:"use_gzip" mapstructure:"use_gzip" yaml:"use_gzip"`
}

// InfluxDBSource reads measurements through the Flux query API
type InfluxDBSource struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	queryAPI  api.QueryAPI
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewInfluxDBSource creates a new InfluxDB source
func NewInfluxDBSource(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBSource, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "InfluxDB URL is required")
	}
	if config.Bucket == "" {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "InfluxDB bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &InfluxDBSource{config: config, logger: logger}, nil
}

// Connect establishes connection to InfluxDB
func (s *InfluxDBSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetUseGZip(s.config.UseGZip)
	if s.config.Timeout > 0 {
		options.SetHTTPRequestTimeout(uint(s.config.Timeout / time.Second))
	}
	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)

	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "Failed to connect to InfluxDB")
	}
	if !ok {
		client.Close()
		return errors.NewSourceError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}

	s.client = client
	s.queryAPI = client.QueryAPI(s.config.Organization)
	s.connected = true

	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
	}).Info("Connected to InfluxDB")
	return nil
}

// Close closes the connection to InfluxDB
func (s *InfluxDBSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.client.Close()
	s.client = nil
	s.queryAPI = nil
	s.connected = false

	s.logger.Info("Disconnected from InfluxDB")
	return nil
}

// Ping checks the server is reachable
func (s *InfluxDBSource) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return notConnected("InfluxDB")
	}
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "InfluxDB ping failed")
	}
	if !ok {
		return errors.NewSourceError(errors.CodeConnectionFailed, "InfluxDB ping failed")
	}
	return nil
}

// Read runs a Flux query for the measurement q.Series, pivoting fields into
// columns.
func (s *InfluxDBSource) Read(ctx context.Context, q interfaces.SeriesQuery) (*models.TimeSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, notConnected("InfluxDB")
	}
	if q.Series == "" {
		return nil, errors.NewValidationError(errors.CodeMissingField, "InfluxDB queries need a measurement")
	}

	fluxQuery := buildFluxQuery(s.config.Bucket, q)
	s.logger.WithFields(logrus.Fields{
		"query": fluxQuery,
	}).Debug("Executing InfluxDB query")

	result, err := s.queryAPI.Query(ctx, fluxQuery)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to execute InfluxDB query")
	}
	defer result.Close()

	columns := append([]string(nil), q.Fields...)
	var points []models.DataPoint
	for result.Next() {
		record := result.Record()
		values := record.Values()
		if columns == nil {
			columns = fieldColumns(values)
		}

		row := make([]float64, len(columns))
		complete := true
		for j, col := range columns {
			v, ok := toFloat(values[col])
			if !ok {
				complete = false
				break
			}
			row[j] = v
		}
		if !complete {
			s.logger.WithField("time", record.Time()).Debug("Skipping row with missing fields")
			continue
		}
		points = append(points, models.DataPoint{Timestamp: record.Time(), Values: row})
	}
	if result.Err() != nil {
		return nil, errors.WrapError(result.Err(), errors.ErrorTypeSource, errors.CodeReadFailed, "Error reading query results")
	}

	ts, err := finish(q.Series, columns, points, q)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"measurement": q.Series,
		"rows":        ts.Len(),
	}).Debug("Read series from InfluxDB")
	return ts, nil
}

// buildFluxQuery selects the measurement, filters fields and pivots them so
// that each record carries one row.
func buildFluxQuery(bucket string, q interfaces.SeriesQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)", strconv.Quote(bucket))

	start := "0"
	if !q.Start.IsZero() {
		start = q.Start.UTC().Format(time.RFC3339Nano)
	}
	if q.End.IsZero() {
		fmt.Fprintf(&b, "\n  |> range(start: %s)", start)
	} else {
		fmt.Fprintf(&b, "\n  |> range(start: %s, stop: %s)", start, q.End.UTC().Format(time.RFC3339Nano))
	}

	fmt.Fprintf(&b, "\n  |> filter(fn: (r) => r._measurement == %s)", strconv.Quote(q.Series))
	if len(q.Fields) > 0 {
		clauses := make([]string, len(q.Fields))
		for i, field := range q.Fields {
			clauses[i] = "r._field == " + strconv.Quote(field)
		}
		fmt.Fprintf(&b, "\n  |> filter(fn: (r) => %s)", strings.Join(clauses, " or "))
	}

	b.WriteString("\n  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")")
	b.WriteString("\n  |> group()")
	b.WriteString("\n  |> sort(columns: [\"_time\"])")
	if q.Limit > 0 {
		fmt.Fprintf(&b, "\n  |> tail(n: %d)", q.Limit)
	}
	return b.String()
}

// fieldColumns lists the numeric columns of a pivoted record, skipping the
// Flux system columns and string tags.
func fieldColumns(values map[string]interface{}) []string {
	var columns []string
	for key, val := range values {
		if strings.HasPrefix(key, "_") || key == "result" || key == "table" {
			continue
		}
		if _, ok := val.(string); ok {
			continue
		}
		if _, ok := toFloat(val); ok {
			columns = append(columns, key)
		}
	}
	sort.Strings(columns)
	return columns
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
