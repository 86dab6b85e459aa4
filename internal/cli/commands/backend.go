package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modinspect/modinspect/internal/backend"
	"github.com/modinspect/modinspect/internal/cli/config"
	"github.com/modinspect/modinspect/internal/cli/ui"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/logging"
	"github.com/modinspect/modinspect/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewBackendCommand creates the backend command
func NewBackendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Run the inspector backend on its own",
		Long: `Run the inspector backend as a standalone websocket JSON-RPC server.

Point a dev server at it with backend.url (or --backend-url). Methods:
  • getPayload   the installed package graph (params: {"force": bool})
  • getMetadata  project and backend status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, projectBindings, map[string]string{
				"backend.listen": "listen",
			})
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Mode, cfg.Log.Level)
			if err != nil {
				return ui.ConfigError(err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runBackend(ctx, cfg, logger, func(url string) {
				ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("backend at %s", url), false)
			})
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().String("listen", "", "listen address (default 127.0.0.1:0)")

	return cmd
}

// runBackend serves the inspector until ctx is done. ready receives the
// websocket URL once the listener is bound.
func runBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready func(url string)) error {
	handles, err := storage.OpenHandles(ctx, cfg.StorageOptions())
	if err != nil {
		return ui.Wrap("storage unavailable", err, "Check the storage section of modinspect.yml")
	}
	defer storage.CloseAll(handles)

	svc := inspector.NewService(inspector.Config{
		Cwd:     cfg.Project.Cwd,
		Mode:    cfg.ModeValue(),
		Version: Version,
		NpmMeta: handles[storage.NpmMeta],
		Publint: handles[storage.Publint],
		Logger:  logger,
	})

	srv, err := backend.NewServer(svc, cfg.Backend.Listen, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return ui.Wrap("cannot listen", err, "Pick another address with --listen or backend.listen")
	}

	logger.Info("backend started", zap.String("url", srv.URL()), zap.String("cwd", cfg.Project.Cwd))
	if ready != nil {
		ready(srv.URL())
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("backend shutdown: %w", err)
	}
	logger.Info("backend stopped")
	return nil
}
