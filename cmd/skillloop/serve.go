package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/fyrsmithlabs/skillloop/internal/http"
)

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "override server.host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
}

// serveCmd starts the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the skill store and review inbox over HTTP",
	Long: `Start the HTTP API for learned skills, iteration feedback and reviewer
results, plus /health and Prometheus /metrics.

When review.nats_url is configured, signals published by "skillloop run"
on <prefix>.signals.<kind> show up under /api/v1/reviews, and results
POSTed there are forwarded on <prefix>.results.<signal_id> to the loop
waiting for them.

Examples:
  # Serve on the configured address (default 127.0.0.1:9191)
  skillloop serve

  # Serve on all interfaces, port 8080
  skillloop serve --host 0.0.0.0 --port 8080`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connectReview(); err != nil {
		return err
	}

	srvCfg := &httpserver.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port}
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	if servePort > 0 {
		srvCfg.Port = servePort
	}

	srv, err := httpserver.NewServer(a.store, a.zap().Named("http"), srvCfg,
		httpserver.WithGate(a.gate),
		httpserver.WithReviews(a.reviews()),
		httpserver.WithTelemetryHealth(a.telemetry.Health),
		httpserver.WithGatherer(prometheus.Gatherers{a.registry, prometheus.DefaultGatherer}),
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(a.telemetry.Meter("github.com/fyrsmithlabs/skillloop/internal/http"), a.zap())),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	a.logger.Info(ctx, "starting skillloop server",
		zap.String("addr", srvCfg.Addr()),
		zap.String("backend", a.cfg.Skills.Backend),
		zap.Bool("nats", a.bus != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error { return a.watchStore(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info(context.Background(), "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.logger.Info(context.Background(), "server shutdown complete")
	return nil
}
