package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/tsforecast/internal/forecasting"
	"github.com/inferloop/tsforecast/internal/server"
	"github.com/inferloop/tsforecast/pkg/constants"
)

type ServeOptions struct {
	Host string
	Port int
}

func NewServeCmd(global *GlobalOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored models over HTTP",
		Long: `Start the forecast API. Stored models are loaded from the configured
model store on every forecast request.`,
		Example: `  tsforecast serve --port 8080
  TSFORECAST_STORAGE_TYPE=redis tsforecast serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Listen host (default: configured host)")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "Listen port (default: configured port)")

	return cmd
}

func runServe(cmd *cobra.Command, global *GlobalOptions, opts *ServeOptions) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	cfg := e.config.Server
	if cmd.Flags().Changed("host") {
		cfg.Host = opts.Host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = opts.Port
	}

	e.logger.WithFields(logrus.Fields{
		"version": constants.AppVersion,
		"storage": e.config.Storage.Type,
	}).Info("Starting tsforecast server")

	ctx := context.Background()
	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	promMetrics, err := e.newMetrics()
	if err != nil {
		return err
	}

	srv, err := server.NewServer(&cfg, server.Dependencies{
		Store:       store,
		StoreType:   e.config.Storage.Type,
		Forecasters: forecasting.NewFactory(e.logger),
		Metrics:     promMetrics,
	}, e.logger)
	if err != nil {
		return err
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
		e.logger.Info("Shutdown signal received")
	}

	if err := srv.Stop(ctx); err != nil {
		return err
	}
	e.logger.Info("Server stopped")
	return nil
}
