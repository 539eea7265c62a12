package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/jarvis/internal/app"
	"github.com/jllopis/jarvis/pkg/config"
)

var watchInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Long: `Run the jarvis server.

Examples:
  # Defaults plus environment
  jarvis serve

  # Config file with the dev overlay and a local Ollama fast tier
  jarvis serve -c jarvis.yaml --profile dev --set llm.fast.provider=ollama`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "config file poll interval (0 disables reloads)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if configPath != "" && watchInterval > 0 {
		watcher, err = config.NewWatcher(configOptions(), config.WithWatchInterval(watchInterval))
		if err != nil {
			return err
		}
		cfg = watcher.Config()
	} else if cfg, err = config.LoadWithOptions(configOptions()); err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.Logger.Error("app.close", slog.String("error", err.Error()))
		}
	}()

	if watcher != nil {
		watcher.OnChange(a.ApplyConfig)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	srv, err := a.Server()
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return srv.Shutdown(context.Background())
}
