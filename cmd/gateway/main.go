// cmd/gateway/main.go wires every gateway component together: the
// analyzer registry, weighted selector, dispatch queue and worker
// pool, health prober, ingress and admin HTTP surfaces, and the
// dashboard. Startup failures exit 1; a clean shutdown exits 0.
//
// Grounded on the teacher's cmd/loadbalancer/main.go: load config,
// build the stateful components, start the background checker, mount
// an HTTP server, then block on SIGINT/SIGTERM and shut everything
// down within a grace period. The CLI entrypoint itself moves from a
// bare func main() onto cobra (pack: pterm-core/viper-adjacent stack)
// so --flag, env and --config all resolve through the same Config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/veena-u/logs-distributor/internal/api"
	"github.com/veena-u/logs-distributor/internal/config"
	"github.com/veena-u/logs-distributor/internal/dashboard"
	"github.com/veena-u/logs-distributor/internal/dispatch"
	"github.com/veena-u/logs-distributor/internal/events"
	"github.com/veena-u/logs-distributor/internal/health"
	"github.com/veena-u/logs-distributor/internal/httpclient"
	"github.com/veena-u/logs-distributor/internal/ingress"
	"github.com/veena-u/logs-distributor/internal/metrics"
	"github.com/veena-u/logs-distributor/internal/queue"
	"github.com/veena-u/logs-distributor/internal/ratelimiter"
	"github.com/veena-u/logs-distributor/internal/registry"
)

// version is stamped at build time via -ldflags; it defaults to "dev"
// for local builds run straight off source.
var version = "dev"

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Ingest structured logs and dispatch them to a weighted pool of analyzers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}
	config.BindFlags(root.Flags(), v)
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// versionCmd prints the gateway's build version and exits, without
// loading config or touching the network.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "gateway version %s\n", version)
			return err
		},
	}
}

func run(v *viper.Viper) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("gateway: building logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(v)
	if err != nil {
		log.Error("gateway: loading config", zap.Error(err))
		return err
	}

	bus := events.NewBus(200)
	reg := registry.New(bus, registry.WithThresholds(cfg.FailureThreshold, cfg.SuccessThreshold))
	for _, seed := range cfg.Analyzers {
		if err := reg.Admit(seed.ID, seed.Endpoint, seed.Weight); err != nil {
			log.Error("gateway: seeding analyzer", zap.String("id", seed.ID), zap.Error(err))
			return err
		}
	}

	q := queue.New(cfg.MaxQueueSize)

	promReg := prometheus.NewRegistry()
	agg := metrics.New(promReg, q.Len)

	client := httpclient.New(64)

	prober := health.New(cfg.HealthCheckInterval, cfg.HealthCheckTimeout, reg, client, log)

	pool := dispatch.New(q, reg, client, agg, bus, log, dispatch.Config{
		Workers:        4,
		BatchSize:      cfg.BatchSize,
		TickInterval:   cfg.ProcessingInterval,
		SendTimeout:    cfg.SendTimeout,
		RetryOnFailure: cfg.RetryOnFailure,
	}, 1)

	limiter := ratelimiter.New(1000, 2000)

	adminAPI := api.New(reg, q, agg, prober, bus)
	router := httprouter.New()
	adminAPI.Register(router)

	ingressHandler := ingress.New(q, agg, log)

	topMux := http.NewServeMux()
	topMux.Handle("/logs", limiter.Middleware(ingressHandler))
	topMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	topMux.Handle("/static/", dashboard.Handler(log))
	topMux.Handle("/", routeOrDashboard(router, log))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: topMux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober.Start(ctx)
	pool.Start(ctx)

	serverErrs := make(chan error, 1)
	go func() {
		log.Info("gateway: listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrs:
		log.Error("gateway: server error", zap.Error(err))
		return err
	case <-stop:
		log.Info("gateway: shutting down")
	}

	// Spec §5's shutdown sequence: stop accepting new enqueues, then let
	// the workers (still running against ctx) drain whatever is already
	// queued or in flight for a bounded grace period, and only then tear
	// the dispatch/probe loops down.
	q.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	drainQueue(shutdownCtx, q, pool, log)

	cancel()
	prober.Stop()

	dropRemaining(q, agg, log)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway: http shutdown error", zap.Error(err))
		return err
	}

	log.Info("gateway: stopped")
	return nil
}

// drainQueue blocks until the dispatch workers have emptied the queue
// with nothing mid-send, or ctx's grace period runs out first. The
// workers keep running against the original dispatch context the
// whole time; only this wait is grace-bounded.
func drainQueue(ctx context.Context, q *queue.Queue, pool *dispatch.Pool, log *zap.Logger) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if q.Len() == 0 && pool.InFlight() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("gateway: shutdown grace period expired with work still pending",
				zap.Int("queueDepth", q.Len()), zap.Int64("inFlight", pool.InFlight()))
			return
		case <-ticker.C:
		}
	}
}

// dropRemaining drains whatever is still queued after the workers have
// been stopped and counts each one as dropped, so packetsReceived still
// reconciles against packetsProcessed+packetsDropped at exit.
func dropRemaining(q *queue.Queue, agg *metrics.Aggregate, log *zap.Logger) {
	dropped := 0
	for {
		batch := q.DrainBatch(256)
		if len(batch) == 0 {
			break
		}
		for range batch {
			agg.IncPacketsDropped()
		}
		dropped += len(batch)
	}
	if dropped > 0 {
		log.Warn("gateway: dropped packets still queued at shutdown", zap.Int("count", dropped))
	}
}

// routeOrDashboard tries the admin router first (GET/POST/DELETE on
// the known admin paths); any path the router doesn't recognize falls
// through to the dashboard shell so "/" and deep-linked dashboard
// paths still render the UI instead of a 404.
func routeOrDashboard(router *httprouter.Router, log *zap.Logger) http.Handler {
	dashboardHandler := dashboard.Handler(log)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, params, _ := router.Lookup(r.Method, r.URL.Path)
		if handle != nil {
			handle(w, r, params)
			return
		}
		dashboardHandler(w, r)
	})
}
