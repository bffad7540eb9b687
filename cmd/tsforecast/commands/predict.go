package commands

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/forecasting"
	"github.com/inferloop/tsforecast/pkg/models"
)

type PredictOptions struct {
	Observations SourceOptions
	Key          string
	Horizon      int
	Steps        []int
	OutputFile   string
	Format       string
}

func NewPredictCmd(global *GlobalOptions) *cobra.Command {
	opts := &PredictOptions{}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Forecast with a stored model",
		Long: `Load a fitted forecaster from the model store and forecast past the end
of the series it was fitted on. New observations read with --input or
--series are appended to the stored context first.`,
		Example: `  # Forecast the stored horizon
  tsforecast predict --key load/dlinear

  # Forecast steps 1, 6 and 12 after appending the latest observations
  tsforecast predict --key load/dlinear --steps 1,6,12 --input latest.csv --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, global, opts)
		},
	}

	opts.Observations.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "Key of the stored model (required)")
	cmd.Flags().IntVar(&opts.Horizon, "horizon", 0, "Forecast steps 1..N (default: the horizon given at fit)")
	cmd.Flags().IntSliceVar(&opts.Steps, "steps", nil, "Explicit forecast steps, overrides --horizon")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().StringVar(&opts.Format, "format", "json", "Output format (json, csv)")

	cmd.MarkFlagRequired("key")

	return cmd
}

func (o *PredictOptions) horizon() models.ForecastingHorizon {
	if len(o.Steps) > 0 {
		return models.ForecastingHorizon(o.Steps)
	}
	if o.Horizon > 0 {
		return models.NewHorizon(o.Horizon)
	}
	return nil
}

func (o *PredictOptions) hasObservations() bool {
	return o.Observations.Input != "" || o.Observations.Series != "" || o.Observations.SourceType != ""
}

func runPredict(cmd *cobra.Command, global *GlobalOptions, opts *PredictOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}
	e, err := global.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	forecaster, err := forecasting.NewFactory(e.logger).Restore(ctx, store, opts.Key)
	if err != nil {
		return err
	}

	if opts.hasObservations() {
		y, X, err := e.readSeries(ctx, &opts.Observations)
		if err != nil {
			return err
		}
		if err := forecaster.Update(ctx, y, X); err != nil {
			return err
		}
	}

	forecast, err := forecaster.Predict(ctx, opts.horizon(), nil)
	if err != nil {
		return err
	}
	forecast.SeriesID = opts.Key

	w, err := openOutput(opts.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer w.Close()

	if strings.EqualFold(opts.Format, "csv") {
		return writeForecastCSV(w, forecast)
	}
	return writeJSON(w, forecast)
}

func writeForecastCSV(w io.Writer, f *models.Forecast) error {
	writer := csv.NewWriter(w)

	header := append([]string{"step", "timestamp"}, f.Columns...)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, row := range f.Values {
		record := make([]string, 0, len(header))
		record = append(record, strconv.Itoa(f.Steps[i]))
		if i < len(f.Timestamps) {
			record = append(record, f.Timestamps[i].Format(time.RFC3339))
		} else {
			record = append(record, "")
		}
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
