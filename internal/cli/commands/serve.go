package commands

import (
	"context"
	"fmt"

	"github.com/modinspect/modinspect/internal/api"
	"github.com/modinspect/modinspect/internal/backend"
	"github.com/modinspect/modinspect/internal/cli/config"
	"github.com/modinspect/modinspect/internal/cli/ui"
	"github.com/modinspect/modinspect/internal/connection"
	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/logging"
	"github.com/modinspect/modinspect/internal/storage"
	"github.com/modinspect/modinspect/internal/web/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dev server",
		Long: `Start the dev server exposing /api/metadata.json.

The backend connection is created on the first request and shared by every
request after it. Until backend.url is set, the inspector backend runs
in-process on a loopback port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, projectBindings, map[string]string{
				"server.host":               "host",
				"server.port":               "port",
				"backend.url":               "backend-url",
				"connection.failure_policy": "failure-policy",
			})
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Mode, cfg.Log.Level)
			if err != nil {
				return ui.ConfigError(err)
			}
			defer logger.Sync()

			return runServer(cmd.Context(), cfg, logger, func(url string) {
				ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("metadata at %s%s", url, api.MetadataPath), false)
			})
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().IntP("port", "p", 0, "listen port")
	cmd.Flags().String("backend-url", "", "websocket URL of a running backend")
	cmd.Flags().String("failure-policy", "", "fail-permanently or retry-on-failure")

	return cmd
}

// runServer serves until ctx is cancelled or a shutdown signal arrives.
// ready receives the base URL once the listener is bound.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready func(url string)) error {
	if ctx == nil {
		ctx = context.Background()
	}

	handles, err := storage.OpenHandles(ctx, cfg.StorageOptions())
	if err != nil {
		return ui.Wrap("storage unavailable", err, "Check the storage section of modinspect.yml")
	}
	defer storage.CloseAll(handles)

	return serveMetadata(ctx, cfg, newManager(cfg, handles, logger), logger, ready)
}

// serveMetadata serves the API over manager. The manager is closed once
// in-flight requests have drained.
func serveMetadata(ctx context.Context, cfg *config.Config, manager *connection.Manager, logger *zap.Logger, ready func(url string)) error {
	handler := api.NewRouter(manager, api.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		ShowErrors:  cfg.Server.ShowErrors,
		Profiling:   cfg.Server.Pprof,
		PrettyJSON:  cfg.ModeValue() == inspector.ModeDev,
		Logger:      logger,
	})

	serverConfig := server.DefaultConfig(handler)
	serverConfig.Address = cfg.Addr()
	srv, err := server.New(serverConfig)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return ui.Wrap("cannot listen", err, "Pick another port with --port or server.port")
	}

	gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{Logger: logger})
	gs.RegisterCleanup("backend connection", manager.Close)

	logger.Info("dev server started",
		zap.String("addr", srv.Addr()),
		zap.String("cwd", cfg.Project.Cwd),
		zap.String("mode", cfg.Mode),
		zap.String("storage", cfg.Storage.Driver),
	)
	if ready != nil {
		ready(srv.URL("http"))
	}
	return gs.Run(ctx)
}

func newManager(cfg *config.Config, handles map[string]storage.Cache, logger *zap.Logger) *connection.Manager {
	backendOptions := cfg.BackendOptions()
	backendOptions.Version = Version
	backendOptions.Logger = logger

	connOptions := cfg.ConnectionOptions()
	connOptions.Logger = logger

	return connection.NewManager(
		connection.NewConfig(cfg.Project.Cwd, cfg.ModeValue(), handles),
		backend.NewConnector(backendOptions).Connect,
		connOptions,
	)
}
