package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomcast/internal/config"
	"github.com/Tyrowin/roomcast/internal/dispatch"
	"github.com/Tyrowin/roomcast/internal/registry"
	"github.com/Tyrowin/roomcast/internal/server"
	"github.com/Tyrowin/roomcast/internal/session"
	"github.com/Tyrowin/roomcast/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket room server",
	Long: `Run the roomcast server.

Clients connect to /ws and send JoinRoom and SendMessage requests. The
server also exposes a health check on /, a test page on /test and the
admin API under /rooms and /retained.

When started with --config, changes to allowed origins, message size and
rate limits in that file apply to new connections without a restart.

Examples:
  roomcast serve
  roomcast --config roomcast.yaml serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// transportConfig extracts the runtime-tunable transport settings.
func transportConfig(cfg config.ServerConfig) *server.Config {
	return &server.Config{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: server.RateLimitConfig{
			Burst:          cfg.RateLimit.Burst,
			RefillInterval: cfg.RateLimit.RefillInterval,
		},
		SendBuffer: cfg.SendBuffer,
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics, shutdownMetrics, err := telemetry.InitProvider(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("closing retained storage failed", slog.String("error", err.Error()))
		}
	}()

	reg := registry.New()
	hub := server.NewHub(nil, logger.With(slog.String("component", "hub")))
	dispatcher := dispatch.New(reg, hub, dispatch.Options{
		Concurrency: cfg.Dispatch.Concurrency,
		Logger:      logger.With(slog.String("component", "dispatch")),
		Metrics:     metrics,
	})
	ctrl := session.NewController(reg, store, dispatcher, session.Options{
		MaxTopicLength: cfg.Room.MaxTopicLength,
		MaxUserLength:  cfg.Room.MaxUserLength,
		Logger:         logger.With(slog.String("component", "session")),
		Metrics:        metrics,
	})
	hub.SetSessions(ctrl)

	server.SetConfig(transportConfig(cfg.Server))
	if cfgFile != "" {
		go func() {
			err := config.Watch(ctx, cfgFile, func(next *config.Config) {
				server.SetConfig(transportConfig(next.Server))
			})
			if err != nil {
				logger.Warn("config watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	server.StartHub(hub)
	httpServer := server.CreateServer(cfg.Server.Port, server.SetupRoutes(hub, ctrl))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = hub.Shutdown(cfg.Server.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Stop accepting upgrades before closing live connections.
	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("http server did not shut down cleanly", slog.String("error", err.Error()))
	}
	if err := hub.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Warn("hub did not shut down cleanly", slog.String("error", err.Error()))
	}

	logger.Info("roomcast stopped")
	return nil
}
