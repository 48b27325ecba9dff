package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fleetmon/fleetmon/pkg/aggregate"
	"github.com/fleetmon/fleetmon/pkg/api"
	"github.com/fleetmon/fleetmon/pkg/config"
	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/hierarchy"
	"github.com/fleetmon/fleetmon/pkg/ingest"
	"github.com/fleetmon/fleetmon/pkg/lifecycle"
	"github.com/fleetmon/fleetmon/pkg/reconcile"
)

// cmd/fleetmon/main.go

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}

	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}

// monitorService bundles the background loops behind a single
// lifecycle.Service.
type monitorService struct {
	queue      *ingest.Queue
	reconciler *reconcile.Reconciler
	janitor    *reconcile.Janitor
	store      db.Service
	log        zerolog.Logger
}

func (m *monitorService) Start(ctx context.Context) error {
	errChan := make(chan error, 3)

	go func() { errChan <- m.queue.Start(ctx) }()
	go func() { errChan <- m.reconciler.Start(ctx) }()
	go func() { errChan <- m.janitor.Start(ctx) }()

	err := <-errChan
	if err != nil && ctx.Err() == nil {
		return err
	}

	return nil
}

func (m *monitorService) Stop(ctx context.Context) error {
	if err := m.queue.Stop(ctx); err != nil {
		m.log.Error().Err(err).Msg("Error stopping ingest queue")
	}

	if err := m.reconciler.Stop(ctx); err != nil {
		m.log.Error().Err(err).Msg("Error stopping reconciler")
	}

	if err := m.janitor.Stop(ctx); err != nil {
		m.log.Error().Err(err).Msg("Error stopping janitor")
	}

	return m.store.Close()
}

func run() error {
	configPath := flag.String("config", "/etc/fleetmon/fleetmon.json", "Path to config file")
	flag.Parse()

	var cfg config.ServerConfig
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	store, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	queue := ingest.NewQueue(store, ingest.QueueConfig{
		FlushInterval: time.Duration(cfg.FlushInterval),
		BatchSize:     cfg.FlushBatchSize,
		MaxSize:       cfg.QueueMaxSize,
	}, log)
	intake := ingest.NewIntake(queue, log)

	reconciler := reconcile.New(store, reconcile.Config{
		Interval:         time.Duration(cfg.ReconcileInterval),
		DefaultThreshold: time.Duration(cfg.DefaultTimeOver) * time.Second,
	}, log)

	janitor := reconcile.NewJanitor(store,
		time.Duration(cfg.LogRetention), time.Duration(cfg.CleanInterval), log)

	resolver := hierarchy.New(store, time.Duration(cfg.HierarchyTTL))
	publisher := aggregate.NewPublisher(store, resolver, time.Duration(cfg.EmitInterval), log)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	apiServer := api.NewServer(store, intake, publisher, resolver, limiter, log)

	svc := &monitorService{
		queue:      queue,
		reconciler: reconciler,
		janitor:    janitor,
		store:      store,
		log:        log,
	}

	return lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: "fleetmon",
		Service:     svc,
		Handler:     apiServer.Router(),
		Logger:      log,
	})
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetmon: %v\n", err)
		os.Exit(1)
	}
}
