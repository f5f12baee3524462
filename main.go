package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mailsift_server/config"
	"mailsift_server/internal/bootstrap"
)

// shutdownTimeout bounds graceful drain after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

func main() {
	// .env is a local-development convenience; production injects the
	// environment directly.
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	if err := run(*mode); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(mode string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	log := deps.Log.With().Str("mode", mode).Logger()

	g, gctx := errgroup.WithContext(ctx)

	switch mode {
	case "api":
		runAPI(g, gctx, deps)
		runMetrics(g, gctx, deps, cfg.PrometheusPort)
	case "worker":
		worker, err := bootstrap.NewWorker(deps)
		if err != nil {
			return err
		}
		g.Go(func() error { return worker.Run(gctx) })
		runMetrics(g, gctx, deps, cfg.WorkerMetricsPort)
	case "all":
		runAPI(g, gctx, deps)
		if cfg.UseQueue {
			worker, err := bootstrap.NewWorker(deps)
			if err != nil {
				return err
			}
			g.Go(func() error { return worker.Run(gctx) })
		} else {
			log.Warn().Msg("queue disabled, webhook runs in direct mode")
		}
		runMetrics(g, gctx, deps, cfg.PrometheusPort)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	log.Info().Str("port", cfg.Port).Msg("started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shut down cleanly")
	return nil
}

// runAPI serves the fiber app and shuts it down within the drain budget
// once the group context ends.
func runAPI(g *errgroup.Group, ctx context.Context, deps *bootstrap.Dependencies) {
	app := bootstrap.NewAPI(deps)

	g.Go(func() error {
		return app.Listen(":" + deps.Config.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
}

// runMetrics serves the Prometheus scrape endpoint on its own listener,
// kept off the public API port.
func runMetrics(g *errgroup.Group, ctx context.Context, deps *bootstrap.Dependencies, port string) {
	if port == "" {
		return
	}
	g.Go(func() error {
		return deps.Metrics.Serve(ctx, ":"+port, deps.Log)
	})
}
