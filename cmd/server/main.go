package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smregister/internal/platform/config"
	"smregister/internal/platform/database"
	"smregister/internal/platform/httpserver"
	"smregister/internal/platform/kafka/consumer"
	"smregister/internal/platform/kafka/producer"
	"smregister/internal/platform/lifecycle"
	"smregister/internal/platform/logger"
	platformmetrics "smregister/internal/platform/metrics"
	"smregister/internal/platform/redis"
	statusconsumer "smregister/internal/status/consumer"
	"smregister/internal/status/handler"
	"smregister/internal/status/ingest"
	statusmetrics "smregister/internal/status/metrics"
	"smregister/internal/status/publisher"
	"smregister/internal/status/service"
	"smregister/internal/status/store"
	"smregister/pkg/platform/circuit"
	"smregister/pkg/platform/middleware/admin"
)

// main wires the status engine: store, service, re-publication gateway, one ingestion loop
// per configured source, and the admin/metrics HTTP server.
func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("smregister stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := lifecycle.New()
	statusMetrics := statusmetrics.New()
	loopMetrics := platformmetrics.New()

	st, tx, db, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	serviceOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(statusMetrics),
		service.WithEnvironment(environment(cfg)),
	}

	var redisClient *redis.Client
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := producer.New(producer.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID})
		if err != nil {
			return err
		}
		defer prod.Close()

		gatewayOpts := []publisher.Option{
			publisher.WithLogger(log),
			publisher.WithMetrics(statusMetrics),
			publisher.WithBreaker(circuit.New("status-producer")),
		}
		redisClient, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		if redisClient != nil {
			defer redisClient.Close()
			gatewayOpts = append(gatewayOpts, publisher.WithDeduplication(redisClient.Client, cfg.Redis.DedupeTTL))
		}
		gateway, err := publisher.New(prod, publisher.Topics{Sent: cfg.Kafka.SentTopic, Confirmed: cfg.Kafka.ConfirmedTopic}, gatewayOpts...)
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, service.WithPublisher(gateway))
	}

	svc, err := service.New(st, tx, serviceOpts...)
	if err != nil {
		return err
	}

	var bindings []ingest.Binding
	for _, src := range cfg.Kafka.Sources {
		c, err := consumer.New(consumer.Config{
			Name:           src.Name,
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID + "-" + src.Name,
			ClientID:       cfg.Kafka.ClientID,
			Topics:         []string{src.Topic},
			MaxPollRecords: cfg.Kafka.MaxPollRecords,
			PollTimeout:    cfg.Kafka.PollTimeout,
		}, log)
		if err != nil {
			return err
		}
		h, err := statusconsumer.NewStatusHandler(svc,
			statusconsumer.WithLogger(log),
			statusconsumer.WithMetrics(statusMetrics),
			statusconsumer.WithSource(src.Name),
			statusconsumer.WithIgnoredOrigin(src.IgnoreOrigin),
		)
		if err != nil {
			return err
		}
		bindings = append(bindings, ingest.Binding{Source: c, Handler: h})
	}

	orchestrator, err := ingest.New(state, bindings,
		ingest.WithLogger(log),
		ingest.WithMetrics(loopMetrics),
		ingest.WithBackoff(cfg.Kafka.Backoff),
		ingest.WithIdleWait(cfg.Kafka.IdleWait),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Handle("/metrics", promhttp.Handler())
	checks := map[string]httpserver.Check{}
	if db != nil {
		checks["database"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	httpserver.NewProbes(state, checks, log).Register(router)
	router.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.Server.AdminToken, log))
		handler.New(svc, log).Register(r)
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting smregister", "addr", cfg.Server.Addr, "environment", cfg.Environment, "sources", len(bindings))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	loopsDone := make(chan error, 1)
	go func() {
		loopsDone <- orchestrator.Run(ctx)
	}()
	state.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-serverErr:
		log.Error("http server failed", "error", runErr)
	case runErr = <-loopsDone:
		loopsDone <- runErr
		log.Error("ingestion stopped", "error", runErr)
	}
	state.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	select {
	case <-loopsDone:
	case <-shutdownCtx.Done():
		log.Warn("ingestion loops did not stop before the shutdown timeout")
	}
	return runErr
}

func buildStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, store.Tx, *sql.DB, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory status store")
		mem := store.NewInMemory()
		return mem, store.NewInMemoryTx(mem), nil, nil
	}
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return store.NewPostgres(db), store.NewPostgresTx(db), db, nil
}

func environment(cfg config.Config) service.Environment {
	if cfg.IsProduction() {
		return service.EnvProduction
	}
	return service.Environment(cfg.Environment)
}
