package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/forecasting"
	"github.com/inferloop/tsforecast/internal/nn"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/models"
)

type FitOptions struct {
	Source     SourceOptions
	Estimator  string
	Key        string
	Horizon    int
	SeqLen     int
	PredLen    int
	Epochs     int
	BatchSize  int
	LR         float64
	Criterion  string
	Optimizer  string
	Individual bool
	Scale      bool
	Shuffle    bool
	KernelSize int
	Seed       int64
}

func NewFitCmd(global *GlobalOptions) *cobra.Command {
	opts := &FitOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Train a forecaster and store it",
		Long: `Train an LTSF forecaster on a series and save the fitted model to the
configured model store under --key.`,
		Example: `  # Fit a DLinear forecaster on a CSV file
  tsforecast fit --estimator ltsf-dlinear --input load.csv --key load/dlinear --seq-len 96 --pred-len 24

  # Fit on an InfluxDB measurement with an exogenous channel
  tsforecast fit --source influxdb --series sensors --fields temperature --exog-fields humidity --in-channels 2 --key sensors/temp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(cmd, global, opts)
		},
	}

	opts.Source.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.Estimator, "estimator", "e", constants.EstimatorLTSFLinear, "Estimator (ltsf-linear, ltsf-dlinear, ltsf-nlinear)")
	cmd.Flags().StringVarP(&opts.Key, "key", "k", "", "Key to store the fitted model under (required)")
	cmd.Flags().IntVar(&opts.Horizon, "horizon", 0, "Default forecast horizon in steps (default: pred-len)")
	cmd.Flags().IntVar(&opts.SeqLen, "seq-len", 0, "Input window length")
	cmd.Flags().IntVar(&opts.PredLen, "pred-len", 0, "Output window length")
	cmd.Flags().Int("in-channels", 0, "Total input channels, targets plus exogenous (default: inferred)")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", 0, "Training epochs")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Training batch size")
	cmd.Flags().Float64Var(&opts.LR, "lr", 0, "Learning rate")
	cmd.Flags().StringVar(&opts.Criterion, "criterion", "", "Loss (MSE, L1, SmoothL1, Huber)")
	cmd.Flags().StringVar(&opts.Optimizer, "optimizer", "", "Optimizer (Adadelta, Adagrad, Adam, AdamW, SGD)")
	cmd.Flags().BoolVar(&opts.Individual, "individual", false, "Use one linear head per channel")
	cmd.Flags().BoolVar(&opts.Scale, "scale", false, "Standard-scale the series before training")
	cmd.Flags().BoolVar(&opts.Shuffle, "shuffle", true, "Shuffle training windows every epoch")
	cmd.Flags().IntVar(&opts.KernelSize, "kernel-size", 0, "Moving average kernel of ltsf-dlinear (odd)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed for weight initialisation and shuffling (default: random)")

	cmd.MarkFlagRequired("key")

	return cmd
}

// hyperparameters overlays the flags the user set on the configured defaults
func (o *FitOptions) hyperparameters(cmd *cobra.Command, base forecasting.Hyperparameters, channels int) forecasting.Hyperparameters {
	h := base
	flags := cmd.Flags()
	if flags.Changed("seq-len") {
		h.SeqLen = o.SeqLen
	}
	if flags.Changed("pred-len") {
		h.PredLen = o.PredLen
	}
	h.InChannels = channels
	if n, _ := flags.GetInt("in-channels"); flags.Changed("in-channels") {
		h.InChannels = n
	}
	if flags.Changed("epochs") {
		h.NumEpochs = o.Epochs
	}
	if flags.Changed("batch-size") {
		h.BatchSize = o.BatchSize
	}
	if flags.Changed("lr") {
		h.LR = o.LR
	}
	if flags.Changed("criterion") {
		h.Criterion = o.Criterion
	}
	if flags.Changed("optimizer") {
		h.Optimizer = o.Optimizer
	}
	if flags.Changed("individual") {
		h.Individual = o.Individual
	}
	if flags.Changed("scale") {
		h.Scale = o.Scale
	}
	if flags.Changed("shuffle") {
		h.Shuffle = o.Shuffle
	}
	if flags.Changed("kernel-size") {
		h.KernelSize = o.KernelSize
	}
	if flags.Changed("seed") {
		h.Seed = nn.Seed(o.Seed)
	}
	return h
}

// signalContext is cancelled on SIGINT or SIGTERM so training stops between
// batches.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runFit(cmd *cobra.Command, global *GlobalOptions, opts *FitOptions) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	y, X, err := e.readSeries(ctx, &opts.Source)
	if err != nil {
		return err
	}
	params := opts.hyperparameters(cmd, e.config.Forecasting, y.Channels()+X.Channels())

	forecaster, err := forecasting.NewFactory(e.logger).Create(opts.Estimator, params)
	if err != nil {
		return err
	}

	horizon := opts.Horizon
	if horizon == 0 {
		horizon = params.PredLen
	}
	if err := forecaster.Fit(ctx, y, X, models.NewHorizon(horizon)); err != nil {
		return err
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := forecaster.SaveTo(ctx, store, opts.Key); err != nil {
		return err
	}

	history := forecaster.History()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Fitted %s on %s (%d observations, %d channels)\n", opts.Estimator, y.Name, y.Len(), params.InChannels)
	fmt.Fprintf(out, "Epochs: %d\n", len(history.Epochs))
	fmt.Fprintf(out, "Final loss: %.6f\n", history.FinalLoss())
	fmt.Fprintf(out, "Duration: %s\n", history.Duration)
	fmt.Fprintf(out, "Saved model: %s (%s store)\n", opts.Key, e.config.Storage.Type)
	return nil
}
