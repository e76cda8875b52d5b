package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fmueller/whisperd/internal/platform"
	"github.com/fmueller/whisperd/internal/server"
	"github.com/fmueller/whisperd/internal/staging"
	"github.com/fmueller/whisperd/internal/transcription"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP transcription API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	bindServeFlags(cmd, app)
	return cmd
}

// runServe loads the model before listening; a load failure aborts startup.
func (a *appState) runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.log()

	manager, err := a.loadModel(ctx)
	if err != nil {
		return err
	}

	area, err := staging.NewArea(platform.ResolveStagingDir(cfg.Staging.Dir), logger)
	if err != nil {
		return err
	}

	svc, err := transcription.NewService(transcription.Options{
		Models:           manager,
		Staging:          area,
		Logger:           logger,
		MaxConcurrent:    cfg.Model.MaxConcurrent,
		InferenceTimeout: cfg.Model.InferenceTimeout,
	})
	if err != nil {
		return err
	}

	srv := server.New(svc, server.Options{
		Addr:            cfg.Addr(),
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})

	logger.Info("starting whisper transcription service",
		zap.String("addr", cfg.Addr()),
		zap.String("backend", cfg.Model.Backend),
		zap.String("model", manager.Name()),
		zap.String("staging_dir", area.Dir()))

	serveFn := a.serveFn
	if serveFn == nil {
		serveFn = func(ctx context.Context, srv runner) error { return srv.Run(ctx) }
	}
	if err := serveFn(ctx, srv); err != nil {
		return err
	}

	stats := area.Stats()
	logger.Info("service stopped",
		zap.Int64("staged", stats.Staged),
		zap.Int64("released", stats.Released),
		zap.Int64("staging_failures", stats.Failed))
	return nil
}
