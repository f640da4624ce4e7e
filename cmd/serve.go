package cmd

import (
	"context"
	"fmt"

	"vigil/bootstrap"
	"vigil/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background correlation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes and runs vigil until a shutdown signal arrives.
func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()
	return nil
}

// openStorage loads configuration and opens storage for one-shot commands.
// Returns the components and a cleanup function.
func openStorage(ctx context.Context) (*config.Config, *bootstrap.StorageComponents, *zap.SugaredLogger, func(), error) {
	logger, sugar, err := bootstrap.InitLogger("warn")
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := bootstrap.InitConfig(sugar)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	dirs := bootstrap.DataDirectoriesFromConfig(cfg)
	if err := bootstrap.EnsureDataDirectories(dirs, sugar); err != nil {
		return nil, nil, nil, nil, err
	}

	st, err := bootstrap.InitStorage(ctx, cfg, dirs, sugar)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cleanup := func() {
		st.Close(sugar)
		if err := logger.Sync(); err != nil {
			sugar.Debugf("Failed to sync logger during cleanup: %v", err)
		}
	}
	return cfg, st, sugar, cleanup, nil
}
