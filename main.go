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

	"maps-harvester/config"
	"maps-harvester/console"
	"maps-harvester/dedup"
	"maps-harvester/scheduler"
	"maps-harvester/scraper"
	"maps-harvester/stats"
	"maps-harvester/store"
	"maps-harvester/telegram"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	citiesPath := flag.String("cities", "", "File with one locality per line, appended to the configured ones")
	backend := flag.String("store", "", "Store backend: csv, postgres, sqlite or sheets")
	metricsAddr := flag.String("metrics", "", "Address to serve Prometheus metrics on, e.g. :9090")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath, *citiesPath)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if *backend != "" {
		cfg.Store.Backend = *backend
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	runID := uuid.NewString()
	log := newLogger(cfg.Log).WithField("run_id", runID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := stats.New()
	err = run(ctx, cfg, st, runID, log)

	fmt.Println("\nFinal statistics:")
	st.Snapshot().Render(os.Stdout)

	if err != nil {
		log.WithError(err).Error("Harvest failed")
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config file when present, then applies the localities file and env
func loadConfig(configPath, citiesPath string) (*config.Config, error) {
	cfg := config.GetDefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if citiesPath != "" {
		extra, err := config.ReadLocalities(citiesPath)
		if err != nil {
			return nil, err
		}
		cfg.Localities = append(cfg.Localities, extra...)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// run wires the store, browser, scheduler and command sources, and blocks until the harvest ends
func run(ctx context.Context, cfg *config.Config, st *stats.Stats, runID string, log *logrus.Entry) error {
	fmt.Print(scheduler.Banner)

	persistent, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := persistent.Close(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	existing, err := persistent.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load existing establishments: %w", err)
	}
	recorder := dedup.New(persistent, st)
	recorder.Load(existing)
	log.WithFields(logrus.Fields{
		"backend": cfg.Store.Backend,
		"loaded":  recorder.Len(),
	}).Info("Existing establishments loaded")

	browser, err := scraper.NewRodBrowser(cfg.Browser, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.WithError(err).Warn("Failed to close browser")
		}
	}()

	var tg *telegram.Source
	if cfg.Telegram.Enabled {
		tg, err = telegram.NewSource(cfg.Telegram.Token, cfg.Telegram.AllowedUsers, log)
		if err != nil {
			return err
		}
	}

	state := scheduler.NewRunState(cfg.Localities, st)
	sched := scheduler.NewScheduler(cfg, browser, recorder, st, state, log)
	control := scheduler.NewControlPlane(state, st, runID, log)
	commands := make(chan scheduler.Command)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// the command sources and the metrics server stop with the worker
		defer cancel()
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			log.Info("Interrupted")
			return nil
		}
		return err
	})
	g.Go(func() error {
		return control.Run(gctx, commands)
	})
	g.Go(func() error {
		return console.NewSource(os.Stdin, os.Stdout).Run(gctx, commands)
	})
	if tg != nil {
		g.Go(func() error {
			return tg.Run(gctx, commands)
		})
	}
	if cfg.Metrics.Addr != "" {
		serveMetrics(gctx, g, cfg.Metrics.Addr, st, log)
	}

	return g.Wait()
}

// serveMetrics exposes the run counters on /metrics until ctx is done
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, st *stats.Stats, log *logrus.Entry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(stats.NewCollector(st))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
