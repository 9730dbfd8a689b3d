package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/stc-sync/internal/api"
	"github.com/ahrav/stc-sync/internal/api/health"
	"github.com/ahrav/stc-sync/internal/api/mux"
	"github.com/ahrav/stc-sync/internal/app/provisioning"
	"github.com/ahrav/stc-sync/internal/config"
	"github.com/ahrav/stc-sync/internal/config/credentials/memory"
	"github.com/ahrav/stc-sync/internal/config/fileloader"
	"github.com/ahrav/stc-sync/internal/domain/events"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/internal/infra/eventbus/kafka"
	eventmemory "github.com/ahrav/stc-sync/internal/infra/eventbus/memory"
	"github.com/ahrav/stc-sync/internal/infra/stc"
	"github.com/ahrav/stc-sync/internal/infra/storage"
	directoryStore "github.com/ahrav/stc-sync/internal/infra/storage/provisioning/postgres"
	"github.com/ahrav/stc-sync/pkg/common"
	"github.com/ahrav/stc-sync/pkg/common/logger"
	"github.com/ahrav/stc-sync/pkg/common/otel"
)

var build = "develop"

const serviceType = "stc-sync"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	cfg, err := config.Load(os.Getenv("STCSYNC_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("STC-SYNC-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	logr := logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, logr, cfg, hostname); err != nil {
		logr.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, cfg *config.Config, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing telemetry support")

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/health":    {},
			"/metrics":      {},
		},
		Probability: cfg.Telemetry.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	defer teardown(context.Background())

	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)

	// -------------------------------------------------------------------------
	// Directory
	keys, fleet, ready, closeDir, err := openDirectory(ctx, log, cfg.Directory, tracer)
	if err != nil {
		return err
	}
	defer closeDir()

	// -------------------------------------------------------------------------
	// Event Bus
	publisher, closeBus, err := openEventBus(ctx, log, cfg.Kafka, providers, tracer)
	if err != nil {
		return err
	}
	defer closeBus()

	// -------------------------------------------------------------------------
	// STC Client
	stcCfg := stc.DefaultConfig()
	stcCfg.BaseURL = cfg.STC.BaseURL
	stcCfg.Timeout = cfg.STC.Timeout
	stcCfg.RateLimit = cfg.STC.RateLimit
	stcCfg.Burst = cfg.STC.Burst
	stcCfg.ReadRetries = cfg.STC.ReadRetries
	stcCfg.ReadRetryWait = cfg.STC.ReadRetryWait

	client, err := stc.NewClient(stcCfg, log, tracer, stc.WithMetrics(stc.NewMetrics("stc_sync", nil)))
	if err != nil {
		return fmt.Errorf("creating stc client: %w", err)
	}

	// -------------------------------------------------------------------------
	// Sync Service
	jobMetrics, err := provisioning.NewJobMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating job metrics: %w", err)
	}

	syncService := provisioning.NewSyncService(keys, fleet, client, provisioning.SyncConfig{
		TransmissionDelay: cfg.Sync.TransmissionDelay,
		PollTimeout:       cfg.Sync.PollTimeout,
		PollInterval:      cfg.Sync.PollInterval,
	}, publisher, jobMetrics, log, tracer)

	// -------------------------------------------------------------------------
	// Start Metrics and Debug Service
	metricsServer, err := common.NewMetricsServer(cfg.Web.MetricsHost)
	if err != nil {
		return fmt.Errorf("creating debug mux: %w", err)
	}
	go func() {
		log.Info(ctx, "startup", "status", "metrics router started", "host", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "shutdown", "status", "metrics router closed", "host", metricsServer.Addr, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiMetrics, err := api.NewAPIMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating api metrics: %w", err)
	}

	webAPI := mux.WebAPI(mux.Config{
		Build:     build,
		Log:       log,
		Tracer:    tracer,
		Sync:      syncService,
		EventBus:  publisher,
		Metrics:   apiMetrics,
		Keepalive: cfg.Sync.KeepaliveInterval,
		Ready:     ready,
	}, mux.WithCORS(cfg.Web.CORSAllowedOrigins))

	apiServer := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn(ctx, "shutdown", "status", "metrics router did not stop gracefully", "err", err)
		}

		// Streams still running past the deadline are cut; their jobs stop
		// at the next step boundary.
		if err := apiServer.Shutdown(ctx); err != nil {
			apiServer.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// openDirectory returns the key store and fleet directory for the configured
// backend, plus a readiness check and a close function.
func openDirectory(
	ctx context.Context,
	log *logger.Logger,
	cfg config.DirectoryConfig,
	tracer trace.Tracer,
) (domain.KeyStore, domain.FleetDirectory, health.Checker, func(), error) {
	if cfg.Backend == config.BackendMemory {
		log.Info(ctx, "startup", "status", "loading tenants file", "path", cfg.TenantsFile)

		data, err := fileloader.NewFileLoader(cfg.TenantsFile).Load(ctx)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("loading tenants: %w", err)
		}
		dir, err := memory.NewDirectory(data)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("indexing tenants: %w", err)
		}
		return dir, dir, nil, func() {}, nil
	}

	log.Info(ctx, "startup", "status", "connecting to postgres")

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parsing db config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating db pool: %w", err)
	}

	if cfg.Migrate {
		log.Info(ctx, "startup", "status", "applying migrations", "dir", cfg.MigrationsDir)
		if err := storage.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, nil, nil, err
		}
	}

	store := directoryStore.NewDirectoryStore(pool, tracer)
	return store, store, pool.Ping, pool.Close, nil
}

// openEventBus connects the Kafka publisher, or falls back to an in-process
// broker when no brokers are configured.
func openEventBus(
	ctx context.Context,
	log *logger.Logger,
	cfg config.KafkaConfig,
	providers otel.Providers,
	tracer trace.Tracer,
) (events.DomainEventPublisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		log.Info(ctx, "startup", "status", "no kafka brokers configured, events stay in process")
		return eventmemory.NewBroker(), func() {}, nil
	}

	log.Info(ctx, "startup", "status", "initializing event bus", "brokers", cfg.Brokers)

	metrics, err := kafka.NewPublisherMetrics(providers.Meter)
	if err != nil {
		return nil, nil, fmt.Errorf("creating publisher metrics: %w", err)
	}

	publisher, closeFn, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		ClientID:       cfg.ClientID,
		ConnectTimeout: cfg.ConnectTimeout,
	}, log, metrics, tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting event bus: %w", err)
	}

	return publisher, func() {
		if err := closeFn(); err != nil {
			log.Warn(ctx, "shutdown", "status", "closing event bus", "err", err)
		}
	}, nil
}
