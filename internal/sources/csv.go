package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// CSVConfig configures a CSVSource. Path is either a single file or a
// directory holding one <series>.csv file per series.
type CSVConfig struct {
	Path            string `json:"path" mapstructure:"path" yaml:"path"`
	Delimiter       string `json:"delimiter" mapstructure:"delimiter" yaml:"delimiter"`
	TimestampColumn string `json:"timestamp_column" mapstructure:"timestamp_column" yaml:"timestamp_column"`
}

// CSVSource reads series from CSV files with a header row, one timestamp
// column and numeric value columns.
type CSVSource struct {
	config    *CSVConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewCSVSource creates a CSV source
func NewCSVSource(config *CSVConfig, logger *logrus.Logger) (*CSVSource, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "CSV config cannot be nil")
	}
	if config.Path == "" {
		return nil, errors.NewConfigurationError(errors.CodeMissingField, "CSV path is required")
	}
	if len([]rune(config.Delimiter)) > 1 {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "CSV delimiter must be a single character")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CSVSource{config: config, logger: logger}, nil
}

// Connect checks that the configured path exists
func (s *CSVSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.config.Path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed,
			fmt.Sprintf("CSV path is not accessible: %s", s.config.Path))
	}
	s.connected = true
	return nil
}

// Close releases the source
func (s *CSVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// Ping checks that the configured path is still accessible
func (s *CSVSource) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return notConnected("CSV")
	}
	if _, err := os.Stat(s.config.Path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeSource, errors.CodeConnectionFailed, "CSV path is not accessible")
	}
	return nil
}

// file resolves the file holding series. A file Path serves every query; a
// directory Path is searched for <series> and <series>.csv.
func (s *CSVSource) file(series string) (string, error) {
	info, err := os.Stat(s.config.Path)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "CSV path is not accessible")
	}
	if !info.IsDir() {
		return s.config.Path, nil
	}
	if series == "" || filepath.IsAbs(series) || strings.Contains(series, "..") {
		return "", errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("invalid series name '%s'", series))
	}
	for _, candidate := range []string{series, series + ".csv"} {
		path := filepath.Join(s.config.Path, candidate)
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return path, nil
		}
	}
	return "", errors.NewSourceError(errors.CodeReadFailed,
		fmt.Sprintf("no CSV file for series '%s' in %s", series, s.config.Path))
}

// Read parses the file for q.Series
func (s *CSVSource) Read(ctx context.Context, q interfaces.SeriesQuery) (*models.TimeSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, notConnected("CSV")
	}
	path, err := s.file(q.Series)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed,
			fmt.Sprintf("Failed to open file: %s", path))
	}
	defer f.Close()

	name := q.Series
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	ts, err := s.parse(ctx, f, name, q)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"file":    path,
		"rows":    ts.Len(),
		"columns": ts.Columns,
	}).Debug("Read series from CSV")
	return ts, nil
}

func (s *CSVSource) parse(ctx context.Context, r io.Reader, name string, q interfaces.SeriesQuery) (*models.TimeSeries, error) {
	reader := csv.NewReader(r)
	if s.config.Delimiter != "" {
		reader.Comma = []rune(s.config.Delimiter)[0]
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to read CSV header")
	}

	timestampCol := -1
	for i, col := range header {
		col = strings.TrimSpace(col)
		if s.config.TimestampColumn != "" {
			if col == s.config.TimestampColumn {
				timestampCol = i
			}
			continue
		}
		switch strings.ToLower(col) {
		case "timestamp", "time", "date", "ds":
			if timestampCol == -1 {
				timestampCol = i
			}
		}
	}
	if timestampCol == -1 {
		return nil, errors.NewValidationError(errors.CodeMissingField, "CSV must have a timestamp column")
	}

	columns, indices, err := csvColumns(header, timestampCol, q.Fields)
	if err != nil {
		return nil, err
	}

	var points []models.DataPoint
	for row := 2; ; row++ {
		if row%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeSource, errors.CodeReadFailed, "Failed to read CSV")
		}
		if len(record) != len(header) {
			s.logger.WithField("row", row).Warn("Skipping row with wrong number of fields")
			continue
		}

		timestamp, err := parseTime(record[timestampCol])
		if err != nil {
			s.logger.WithError(err).WithField("row", row).Warn("Failed to parse timestamp")
			continue
		}
		if !inRange(timestamp, q) {
			continue
		}

		values := make([]float64, len(indices))
		ok := true
		for j, idx := range indices {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"row":    row,
					"column": header[idx],
				}).Warn("Failed to parse value")
				ok = false
				break
			}
			values[j] = v
		}
		if ok {
			points = append(points, models.DataPoint{Timestamp: timestamp, Values: values})
		}
	}

	return finish(name, columns, points, q)
}

// csvColumns picks the value columns: every non-timestamp column, or the
// requested fields in the requested order.
func csvColumns(header []string, timestampCol int, fields []string) ([]string, []int, error) {
	var columns []string
	var indices []int
	if len(fields) == 0 {
		for i, col := range header {
			if i != timestampCol {
				columns = append(columns, strings.TrimSpace(col))
				indices = append(indices, i)
			}
		}
		if len(columns) == 0 {
			return nil, nil, errors.NewValidationError(errors.CodeMissingField, "CSV has no value columns")
		}
		return columns, indices, nil
	}

	for _, field := range fields {
		found := -1
		for i, col := range header {
			if i != timestampCol && strings.TrimSpace(col) == field {
				found = i
				break
			}
		}
		if found == -1 {
			return nil, nil, errors.NewValidationError(errors.CodeMissingField,
				fmt.Sprintf("CSV has no column '%s'", field))
		}
		columns = append(columns, field)
		indices = append(indices, found)
	}
	return columns, indices, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
