package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/forecasting"
)

type EvaluateOptions struct {
	Source     SourceOptions
	Key        string
	OutputFile string
	Format     string
}

func NewEvaluateCmd(global *GlobalOptions) *cobra.Command {
	opts := &EvaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a stored model on a series",
		Long: `Run a stored forecaster over every window of a series and report the
error of its predictions against the true target windows.`,
		Example: `  # Score a model on held-out data
  tsforecast evaluate --key load/dlinear --input holdout.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, global, opts)
		},
	}

	opts.Source.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "Key of the stored model (required)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "Output format (text, json)")

	cmd.MarkFlagRequired("key")

	return cmd
}

func runEvaluate(cmd *cobra.Command, global *GlobalOptions, opts *EvaluateOptions) error {
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
	y, X, err := e.readSeries(ctx, &opts.Source)
	if err != nil {
		return err
	}

	scores, err := forecasting.Evaluate(ctx, forecaster, y, X)
	if err != nil {
		return err
	}

	w, err := openOutput(opts.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer w.Close()

	if strings.EqualFold(opts.Format, "json") {
		return writeJSON(w, scores)
	}
	fmt.Fprintf(w, "Evaluation of %s (%s) on %s\n", opts.Key, forecaster.Kind(), y.Name)
	fmt.Fprintf(w, "- Samples: %d\n", scores.Samples)
	fmt.Fprintf(w, "- MAE: %.6f\n", scores.MAE)
	fmt.Fprintf(w, "- MSE: %.6f\n", scores.MSE)
	fmt.Fprintf(w, "- RMSE: %.6f\n", scores.RMSE)
	fmt.Fprintf(w, "- sMAPE: %.4f\n", scores.SMAPE)
	fmt.Fprintf(w, "- Correlation: %.4f\n", scores.Correlation)
	return nil
}
