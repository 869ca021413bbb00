// Command aiproxy runs the caching chat-completion proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/estrateo/estrateo/internal/aiproxy"
	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/pkg/logger"
)

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:           "aiproxy",
	Short:         "Caching proxy for OpenAI-compatible chat completions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /v1/chat/completions until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (defaults to $AIPROXY_CONFIG)")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address, overrides the config")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadProxy(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	log := logger.New(cfg.Logging)
	if cfg.UpstreamAPIKey == "" {
		log.Warn("OPENAI_API_KEY is empty; upstream calls will be unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := aiproxy.OpenCache(ctx, cfg)
	if err != nil {
		return err
	}
	server, err := aiproxy.NewServer(cfg, aiproxy.Options{
		Cache:  cache,
		Client: &http.Client{Timeout: cfg.RequestTimeout},
		Logger: log,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("aiproxy listening on %s, upstream %s", cfg.Listen, cfg.UpstreamURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if err := server.Stop(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
