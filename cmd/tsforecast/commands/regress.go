package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/internal/regression"
	"github.com/inferloop/tsforecast/pkg/models"
)

// PanelFile is the JSON layout read by the regress commands: instances are
// [instance][dimension][time], targets one value per instance.
type PanelFile struct {
	Instances [][][]float64 `json:"instances"`
	Targets   []float64     `json:"targets,omitempty"`
}

type RegressOptions struct {
	InputFile  string
	Key        string
	OutputFile string
	Epochs     int
	BatchSize  int
	LR         float64
	Seed       int64
	NoLSTM     bool
	NoCNN      bool
	NoAtt      bool
}

func NewRegressCmd(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regress",
		Short: "Train or apply the TapNet regressor",
		Long: `Fit the TapNet regressor on a panel of multivariate series with one
target per instance, or predict with a stored regressor.`,
	}

	cmd.AddCommand(newRegressFitCmd(global))
	cmd.AddCommand(newRegressPredictCmd(global))
	return cmd
}

func newRegressFitCmd(global *GlobalOptions) *cobra.Command {
	opts := &RegressOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a TapNet regressor on a panel file",
		Example: `  tsforecast regress fit --input panel.json --key rul/tapnet --epochs 200
  tsforecast regress fit --input panel.json --key rul/cnn-only --no-lstm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegressFit(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Panel JSON file with instances and targets (required)")
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "Key to store the fitted model under (required)")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", 0, "Training epochs")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Training batch size")
	cmd.Flags().Float64Var(&opts.LR, "lr", 0, "Learning rate")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed (default: random)")
	cmd.Flags().BoolVar(&opts.NoLSTM, "no-lstm", false, "Disable the LSTM branch")
	cmd.Flags().BoolVar(&opts.NoCNN, "no-cnn", false, "Disable the convolutional branch")
	cmd.Flags().BoolVar(&opts.NoAtt, "no-attention", false, "Disable attention")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("key")

	return cmd
}

func newRegressPredictCmd(global *GlobalOptions) *cobra.Command {
	opts := &RegressOptions{}

	cmd := &cobra.Command{
		Use:     "predict",
		Short:   "Predict one value per instance with a stored regressor",
		Example: `  tsforecast regress predict --input panel.json --key rul/tapnet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegressPredict(cmd, global, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Panel JSON file with instances (required)")
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "Key of the stored model (required)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("key")

	return cmd
}

func readPanel(path string) (*models.Panel, []float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read panel: %w", err)
	}
	var file PanelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse panel: %w", err)
	}
	panel, err := models.NewPanel(file.Instances)
	if err != nil {
		return nil, nil, err
	}
	return panel, file.Targets, nil
}

func (o *RegressOptions) params(cmd *cobra.Command, base regression.TapNetParams) regression.TapNetParams {
	p := base
	flags := cmd.Flags()
	if flags.Changed("epochs") {
		p.NEpochs = o.Epochs
	}
	if flags.Changed("batch-size") {
		p.BatchSize = o.BatchSize
	}
	if flags.Changed("lr") {
		p.LR = o.LR
	}
	if flags.Changed("seed") {
		p.RandomState = nn.Seed(o.Seed)
	}
	if o.NoLSTM {
		p.UseLSTM = false
	}
	if o.NoCNN {
		p.UseCNN = false
	}
	if o.NoAtt {
		p.UseAtt = false
	}
	return p
}

func runRegressFit(cmd *cobra.Command, global *GlobalOptions, opts *RegressOptions) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	panel, targets, err := readPanel(opts.InputFile)
	if err != nil {
		return err
	}

	regressor, err := regression.NewTapNetRegressor(opts.params(cmd, e.config.Regression), regression.WithLogger(e.logger))
	if err != nil {
		return err
	}
	if err := regressor.Fit(ctx, panel, targets); err != nil {
		return err
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := regressor.SaveTo(ctx, store, opts.Key); err != nil {
		return err
	}

	n, d, m := panel.Shape()
	history := regressor.History()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Fitted %s on %d instances (%d dimensions, length %d)\n", regressor.Kind(), n, d, m)
	fmt.Fprintf(out, "Final loss: %.6f\n", history.FinalLoss())
	fmt.Fprintf(out, "Saved model: %s (%s store)\n", opts.Key, e.config.Storage.Type)
	return nil
}

func runRegressPredict(cmd *cobra.Command, global *GlobalOptions, opts *RegressOptions) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	panel, _, err := readPanel(opts.InputFile)
	if err != nil {
		return err
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	regressor, err := regression.NewTapNetRegressor(e.config.Regression, regression.WithLogger(e.logger))
	if err != nil {
		return err
	}
	if err := regressor.LoadFrom(ctx, store, opts.Key); err != nil {
		return err
	}

	predictions, err := regressor.Predict(ctx, panel)
	if err != nil {
		return err
	}

	w, err := openOutput(opts.OutputFile)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer w.Close()
	return writeJSON(w, map[string]interface{}{
		"key":         opts.Key,
		"predictions": predictions,
	})
}
