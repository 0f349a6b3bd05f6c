package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prepx/internal/api"
	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/pipeline"
	"github.com/joescharf/prepx/internal/sessions"
	webui "github.com/joescharf/prepx/internal/ui"
)

// shutdownTimeout bounds how long in-flight requests and jobs get on exit.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, progress streams, and web viewer",
	Long: `Start an HTTP server exposing the upload and plan API, live SSE
progress streams, Prometheus metrics, and the embedded progress viewer.
By default it listens on port 8000. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8000, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// newLogger returns the server's stderr text logger.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// uploadRoot resolves upload_dir against state_dir when it is relative.
func uploadRoot() string {
	dir := viper.GetString("upload_dir")
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(viper.GetString("state_dir"), dir)
}

func serveRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger()
	slog.SetDefault(logger)

	s, err := getStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	storage := docs.NewStorage(uploadRoot())
	reg := sessions.NewRegistry(
		sessions.WithTTL(viper.GetDuration("session.ttl")),
		sessions.WithLogger(logger),
		sessions.WithEvictHook(func(id string) {
			if err := storage.RemoveSession(id); err != nil {
				logger.Warn("remove session uploads", "session", id, "error", err)
			}
			if _, err := s.DeleteSessionDocuments(context.Background(), id); err != nil {
				logger.Warn("delete session documents", "session", id, "error", err)
			}
		}),
	)

	key := apiKey()
	if key == "" {
		logger.Warn("no Anthropic API key configured; plans will fail until anthropic.api_key or ANTHROPIC_API_KEY is set")
	}
	src := pipeline.CatalogSource{Store: s, Fallback: pipeline.StorageSource{Storage: storage}}
	planner := pipeline.NewOrchestrator(newExecutor(newAgent(), logger), src, logger)

	uiHandler, err := webui.Handler()
	if err != nil {
		return fmt.Errorf("failed to initialize UI handler: %w", err)
	}
	apiServer := api.NewServer(reg, planner, storage, s, api.Options{
		Keepalive:        viper.GetDuration("stream.keepalive"),
		APIKeyConfigured: key != "",
		UI:               uiHandler,
		Logger:           logger,
	})

	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	go reg.Run(ctx, viper.GetDuration("session.sweep_interval"))

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ui.Info("Serving prepx at http://localhost%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	ui.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Cancel jobs first so open streams receive their terminal event.
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
