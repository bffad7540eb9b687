// Package commands implements the tsforecast subcommands
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/config"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/sources"
	"github.com/inferloop/tsforecast/internal/storage"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// GlobalOptions holds the persistent flags of the root command
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
	LogLevel   string
}

// SourceOptions selects the series a command reads
type SourceOptions struct {
	SourceType string
	Input      string
	Series     string
	Fields     []string
	ExogFields []string
	Start      string
	End        string
	Limit      int
}

func (o *SourceOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.SourceType, "source", "", "Series source (csv, influxdb, postgres); defaults to the configured source")
	cmd.Flags().StringVarP(&o.Input, "input", "i", "", "CSV file or directory; implies --source csv")
	cmd.Flags().StringVarP(&o.Series, "series", "s", "", "Series to read: file name, measurement or table")
	cmd.Flags().StringSliceVarP(&o.Fields, "fields", "f", nil, "Target columns (default: every column)")
	cmd.Flags().StringSliceVar(&o.ExogFields, "exog-fields", nil, "Exogenous columns appended as extra input channels")
	cmd.Flags().StringVar(&o.Start, "start", "", "Read observations at or after this time (RFC3339)")
	cmd.Flags().StringVar(&o.End, "end", "", "Read observations before this time (RFC3339)")
	cmd.Flags().IntVar(&o.Limit, "limit", 0, "Keep only the most recent N observations")
}

// env is what every command needs after configuration is loaded
type env struct {
	config *config.Config
	logger *logrus.Logger
}

func (g *GlobalOptions) load() (*env, error) {
	cfg, err := config.Load(g.ConfigFile)
	if err != nil {
		return nil, err
	}
	if g.Verbose {
		cfg.Logging.Level = "debug"
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	logger := config.NewLogger(cfg.Logging)
	return &env{config: cfg, logger: logger}, nil
}

// openStore connects the configured model store
func (e *env) openStore(ctx context.Context) (interfaces.ModelStore, error) {
	return storage.NewFactory(e.logger).Open(ctx, &e.config.Storage)
}

// newMetrics returns nil when metrics are disabled
func (e *env) newMetrics() (*metrics.PrometheusMetrics, error) {
	if !e.config.Metrics.Enabled {
		return nil, nil
	}
	cfg := e.config.Metrics
	return metrics.NewPrometheusMetrics(&cfg, e.logger)
}

// readSeries reads the target series and, when exogenous fields are named,
// the exogenous series from the same source.
func (e *env) readSeries(ctx context.Context, o *SourceOptions) (y, X *models.TimeSeries, err error) {
	cfg := e.config.Source
	if o.SourceType != "" {
		cfg.Type = o.SourceType
	}
	if o.Input != "" {
		cfg.Type = constants.SourceCSV
		cfg.CSV.Path = o.Input
	}

	source, err := sources.NewSource(&cfg, e.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := source.Connect(ctx); err != nil {
		return nil, nil, err
	}
	defer source.Close()

	query := interfaces.SeriesQuery{Series: o.Series, Fields: o.Fields, Limit: o.Limit}
	if query.Start, err = parseOptionalTime(o.Start); err != nil {
		return nil, nil, fmt.Errorf("invalid start time: %w", err)
	}
	if query.End, err = parseOptionalTime(o.End); err != nil {
		return nil, nil, fmt.Errorf("invalid end time: %w", err)
	}

	y, err = source.Read(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	if len(o.ExogFields) > 0 {
		query.Fields = o.ExogFields
		if X, err = source.Read(ctx, query); err != nil {
			return nil, nil, err
		}
	}

	e.logger.WithFields(logrus.Fields{
		"source":       cfg.Type,
		"series":       y.Name,
		"observations": y.Len(),
		"columns":      y.Columns,
		"exogenous":    X != nil,
	}).Info("Loaded series")
	return y, X, nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// openOutput returns stdout for "-" or an empty path
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case "json", "csv", "text":
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
