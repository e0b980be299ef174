package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/app"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/config"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/health"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/httpapi"
	_ "github.com/Kocoro-lab/Shannon/go/triage/internal/metrics" // Import for side effects
	"github.com/Kocoro-lab/Shannon/go/triage/internal/temporal"
)

func main() {
	configPath := flag.String("config", "", "path to triage.yaml (default $TRIAGE_CONFIG or ./config/triage.yaml)")
	flag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	circuitbreaker.StartMetricsCollection(ctx, 15*time.Second)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize triage engine", zap.Error(err))
	}
	defer func() {
		if err := a.CloseTimeout(10 * time.Second); err != nil {
			logger.Warn("Error while closing backends", zap.Error(err))
		}
	}()

	apiMux := http.NewServeMux()
	adminMux := apiMux
	servers := []*http.Server{httpapi.NewServer(cfg.Service.HTTPPort, apiMux)}
	if cfg.Service.AdminPort != 0 && cfg.Service.AdminPort != cfg.Service.HTTPPort {
		adminMux = http.NewServeMux()
		servers = append(servers, httpapi.NewServer(cfg.Service.AdminPort, adminMux))
	}
	health.NewHTTPHandler(a.Health, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	_ = a.Health.Start(ctx)
	defer a.Health.Stop()

	var runner httpapi.TurnRunner = a.Engine
	if cfg.Temporal.Enabled {
		tClient, err := dialTemporal(ctx, cfg.Temporal, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Temporal", zap.Error(err))
		}
		defer tClient.Close()
		w := temporal.NewWorker(tClient, cfg.Temporal.TaskQueue, a.Engine)
		if err := w.Start(); err != nil {
			logger.Fatal("Temporal worker failed to start", zap.Error(err))
		}
		defer w.Stop()
		runner = temporal.NewRunner(tClient, cfg.Temporal.TaskQueue, logger)
		logger.Info("Turns run as Temporal workflows", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	httpapi.NewTurnHandler(runner, a.Engine, logger, cfg.Service.APIToken, cfg.Timeouts.Stage*4).RegisterRoutes(apiMux)

	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.String("addr", srv.Addr), zap.Error(err))
				stop()
			}
		}(srv)
	}

	<-ctx.Done()
	logger.Info("Shutting down triage service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}

// dialTemporal retries with a capped linear backoff until ctx ends.
func dialTemporal(ctx context.Context, cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	for attempt := 1; ; attempt++ {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.HostPort,
			Namespace: cfg.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			return c, nil
		}
		delay := time.Duration(attempt) * time.Second
		if delay > 15*time.Second {
			delay = 15 * time.Second
		}
		logger.Warn("Temporal not ready, retrying", zap.Int("attempt", attempt), zap.String("host", cfg.HostPort), zap.Duration("sleep", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}
