package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/cmd/tsforecast/commands"
	"github.com/inferloop/tsforecast/pkg/constants"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	global := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: constants.AppDescription,
		Long: `Train, evaluate and serve deep forecasters (LTSF Linear, DLinear,
NLinear) and the TapNet regressor on time series read from CSV files,
InfluxDB or PostgreSQL.`,
		Version:       GetBuildInfo().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&global.ConfigFile, "config", "", "config file (default is $HOME/.tsforecast/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&global.LogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(commands.NewFitCmd(global))
	rootCmd.AddCommand(commands.NewPredictCmd(global))
	rootCmd.AddCommand(commands.NewEvaluateCmd(global))
	rootCmd.AddCommand(commands.NewRegressCmd(global))
	rootCmd.AddCommand(commands.NewServeCmd(global))
	rootCmd.AddCommand(commands.NewModelsCmd(global))

	return rootCmd
}
