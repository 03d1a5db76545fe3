package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"newsrec/internal/config"
	"newsrec/internal/logger"
	"newsrec/internal/server"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recommendation HTTP API",
		Long: `Start the newsrec HTTP server.

Routes:
  GET  /get_recommendations/{user_id}
  POST /submit_user_click/
  POST /adjust_recommendations/
  GET  /load_new_news
  GET  /health
  GET  /metrics

The article store is refreshed lazily when a request finds it stale.

Examples:
  # Start server on default port 8080
  newsrec serve

  # Start on custom port
  newsrec serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8080)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")

	return cmd
}

func runServe(ctx context.Context, port int, host string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Services{
		Recommender: a.engine,
		Clicks:      a.clicks,
		Articles:    a.articles,
		Checks: map[string]server.Pinger{
			"users":    a.users,
			"articles": a.articles,
		},
	}, serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		logger.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info("Server stopped successfully")
	}

	return nil
}
