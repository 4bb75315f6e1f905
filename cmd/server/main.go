package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	consentHandler "privileges/internal/consent/handler"
	consentMetrics "privileges/internal/consent/metrics"
	consentService "privileges/internal/consent/service"
	consentStore "privileges/internal/consent/store"
	jwttoken "privileges/internal/jwt_token"
	"privileges/internal/platform/config"
	"privileges/internal/platform/httpserver"
	"privileges/internal/platform/logger"
	"privileges/internal/platform/metrics"
	"privileges/internal/platform/postgres"
	redisClient "privileges/internal/platform/redis"
	"privileges/internal/privilege"
	httptransport "privileges/internal/transport/http"
	"privileges/migrations"
	"privileges/pkg/platform/audit"
	"privileges/pkg/platform/audit/publishers/compliance"
	auditmemory "privileges/pkg/platform/audit/store/memory"
	auditpostgres "privileges/pkg/platform/audit/store/postgres"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	catalog, err := buildCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()

	publisher := compliance.New(backend.audit,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)

	opts := []consentService.Option{
		consentService.WithLogger(log),
		consentService.WithAuditPublisher(publisher),
		consentService.WithMetrics(consentMetrics.New(reg)),
	}
	if backend.tx != nil {
		opts = append(opts, consentService.WithTx(backend.tx))
	} else {
		log.Warn("store backend has no transactions; privilege batches may partially apply",
			"backend", cfg.StoreBackend,
		)
	}
	consent, err := consentService.New(catalog, backend.store, opts...)
	if err != nil {
		return fmt.Errorf("build consent service: %w", err)
	}

	jwtValidator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience),
	)
	handler := consentHandler.New(consent, catalog, log, metrics.New(reg), jwtValidator,
		consentHandler.WithApplyRateLimit(cfg.ApplyRateLimit),
		consentHandler.WithTimeout(cfg.RequestTimeout),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Gatherer: reg,
		Health:   backend.health,
		Modules:  []httptransport.RouteRegistrar{handler},
	})
	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting privileges server",
			"addr", cfg.Addr,
			"backend", cfg.StoreBackend,
			"privileges", catalog.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// buildCatalog registers the built-in privileges, then any definitions from
// the optional catalog file. File entries override built-ins with the same key.
func buildCatalog(path string) (*privilege.Catalog, error) {
	catalog := privilege.NewCatalog()
	catalog.MustRegister(
		privilege.Definition{
			Key:            "newsletter",
			Label:          "Newsletter",
			Description:    "Receive the periodic newsletter by email.",
			DefaultGranted: true,
		},
		privilege.Definition{
			Key:            "social_post",
			Label:          "Post on my behalf",
			Description:    "Allow the application to publish to linked social accounts.",
			DefaultGranted: false,
		},
	)
	if path == "" {
		return catalog, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open privilege catalog: %w", err)
	}
	defer f.Close()
	if err := catalog.LoadYAML(f); err != nil {
		return nil, fmt.Errorf("load privilege catalog %s: %w", path, err)
	}
	return catalog, nil
}

type backend struct {
	store  consentService.Store
	tx     consentService.ConsentStoreTx
	audit  audit.Store
	health map[string]httptransport.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg config.Server, log *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrations.Apply(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &backend{
			store:  consentStore.NewPostgres(db),
			tx:     newConsentPostgresTx(db, cfg.ConsentTxTimeout),
			audit:  auditpostgres.New(db),
			health: map[string]httptransport.HealthCheck{"postgres": db.PingContext},
			close:  closeWith(log, "postgres", db),
		}, nil

	case config.BackendRedis:
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		// Redis holds records only; audit events stay in process.
		return &backend{
			store:  consentStore.NewRedis(client.Client),
			audit:  auditmemory.NewInMemoryStore(),
			health: map[string]httptransport.HealthCheck{"redis": client.Health},
			close:  closeWith(log, "redis", client),
		}, nil

	default:
		mem := consentStore.NewInMemory()
		return &backend{
			store: mem,
			tx:    mem,
			audit: auditmemory.NewInMemoryStore(),
			close: func() {},
		}, nil
	}
}

type closer interface {
	Close() error
}

func closeWith(log *slog.Logger, name string, c closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("close failed", "resource", name, "error", err)
		}
	}
}
