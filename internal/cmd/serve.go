package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	"github.com/ethanteng/finsight-sub001/internal/config"
	"github.com/ethanteng/finsight-sub001/internal/requestctx"
	"github.com/ethanteng/finsight-sub001/internal/server"
)

var (
	servePort        int
	serveCORSOrigins []string
	serveNoRefresh   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with scheduled source refresh",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringSliceVar(&serveCORSOrigins, "cors-origin", []string{"*"}, "allowed CORS origins")
	serveCmd.Flags().BoolVar(&serveNoRefresh, "no-refresh", false, "disable the scheduled source refresh")
	rootCmd.AddCommand(serveCmd)
}

// callersFrom maps configured API keys to request principals.
func callersFrom(keys map[string]config.Principal) map[string]requestctx.Caller {
	out := make(map[string]requestctx.Caller, len(keys))
	for key, p := range keys {
		out[key] = requestctx.Caller{UserID: p.UserID, Tier: p.Tier}
	}
	return out
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	refresher := aggregator.NewRefresher(a.aggregator)
	if !serveNoRefresh {
		if err := refresher.Schedule(cfg.RefreshCron); err != nil {
			return err
		}
		refresher.Start()
		defer refresher.Stop()
	}

	callers := callersFrom(cfg.APIKeys)
	if len(callers) == 0 {
		log.Warn().Msg("FINSIGHT_API_KEYS not set; every /v1 endpoint will return 401")
	}

	srv := server.NewServer(
		a.advisor,
		a.aggregator,
		a.registry,
		callers,
		server.WithRateLimiter(server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)),
		server.WithCORSOrigins(serveCORSOrigins),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("refresh_entries", refresher.Entries()).
		Int("sources", len(a.aggregator.Status())).
		Int("api_keys", len(callers)).
		Str("llm_provider", cfg.LLM.Provider).
		Msg("finsight_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
