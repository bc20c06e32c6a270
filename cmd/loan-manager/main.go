// cmd/loan-manager/main.go
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"loan-orchestrator/internal/admin"
	"loan-orchestrator/internal/api"
	"loan-orchestrator/internal/assistant"
	"loan-orchestrator/internal/auth"
	awsclient "loan-orchestrator/internal/common/aws"
	"loan-orchestrator/internal/common/camunda"
	"loan-orchestrator/internal/common/config"
	"loan-orchestrator/internal/common/database"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/observability"
	"loan-orchestrator/internal/contract"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/evidence"
	"loan-orchestrator/internal/locking"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/notify"
	"loan-orchestrator/internal/orchestrator"
	"loan-orchestrator/internal/providers"
	"loan-orchestrator/internal/registry"
	"loan-orchestrator/internal/registry/migrations"
	"loan-orchestrator/internal/search"
	"loan-orchestrator/internal/statemachine"
	"loan-orchestrator/pkg/activities"
)

// operationRecorder counts state transitions on the OpenTelemetry meter.
type operationRecorder struct {
	obs *observability.Observability
}

func (r operationRecorder) ApplicationChanged(ctx context.Context, app *models.LoanApplication, event statemachine.Event) {
	r.obs.RecordOperation(ctx, string(event), string(app.Status))
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	configPath := flag.String("config", "", "config file; defaults to configs/config.yaml under the project root")
	activitiesPath := flag.String("activities", "", "activity catalogue; defaults to the built-in catalogue")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting loan manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.Observability, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(ctx)
	}()

	ctx := context.Background()
	checks := map[string]api.Check{}

	countries, err := country.NewTable(cfg.Countries)
	if err != nil {
		zapLog.Fatal("country table invalid", zap.Error(err))
	}

	// --- Registry: PostgreSQL with retry, or in memory ---
	var store registry.Store
	if cfg.Database.Postgres.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Database.Postgres.MigrateOnStart {
			if err := pg.Migrate(ctx, migrations.FS); err != nil {
				zapLog.Fatal("postgres migration failed", zap.Error(err))
			}
		}
		store = registry.NewPostgresStore(pg.DB)
		checks["postgres"] = pg.Ping
		zapLog.Info("PostgreSQL connected successfully")
	} else {
		store = registry.NewMemoryStore()
		zapLog.Warn("PostgreSQL disabled, applications are kept in memory")
	}

	// --- Redis with retry: distributed locks and one-time codes ---
	var redisClient *database.RedisClient
	if cfg.Database.Redis.Enabled {
		err = retryWithBackoff(func() error {
			redisClient = database.NewRedis(cfg.Database.Redis)
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = redisClient.Ping
		zapLog.Info("Redis connected successfully")
	}

	var locker locking.Locker = locking.NewKeyedMutex()
	if redisClient != nil {
		locker = locking.NewRedisLocker(
			redisClient.Client,
			config.GetDuration(cfg.Orchestration.LockTTL),
			config.GetDuration(cfg.Orchestration.LockWait),
			log,
		)
	}

	// --- AWS clients ---
	region := cfg.Integrations.AWS.Region
	var sesClient notify.SESService
	if cfg.Integrations.AWS.SES.Enabled {
		c, err := awsclient.NewSESClient(ctx, region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		sesClient = c
	}
	var snsClient notify.SNSService
	if cfg.Integrations.AWS.SNS.Enabled {
		c, err := awsclient.NewSNSClient(ctx, region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		snsClient = c
	}
	var evidenceStore evidence.Store = evidence.NewMemoryStore()
	if cfg.Integrations.AWS.S3.Enabled {
		c, err := awsclient.NewS3Client(ctx, region)
		if err != nil {
			zapLog.Fatal("s3 client failed", zap.Error(err))
		}
		evidenceStore = evidence.NewS3Store(c, cfg.Integrations.AWS.S3.Bucket, cfg.Integrations.AWS.S3.Prefix, log)
	}

	notifier := notify.NewNotifier(notify.Config{
		FromEmail:  cfg.Integrations.AWS.SES.FromEmail,
		AdminEmail: cfg.Integrations.AWS.SES.AdminEmail,
		SenderID:   cfg.Integrations.AWS.SNS.DefaultSMSSenderID,
	}, sesClient, snsClient, store, countries, log)
	observers := []orchestrator.Observer{notifier, operationRecorder{obs: obs}}

	// --- Elasticsearch with retry: reviewer search ---
	var indexer *search.Indexer
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer = search.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.Index, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("elasticsearch index setup failed", zap.Error(err))
		}
		observers = append(observers, indexer)
		checks["elasticsearch"] = esClient.Ping
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Zeebe with retry ---
	var zeebe *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClient(camunda.ConfigFrom(cfg.Camunda))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		observers = append(observers, camunda.NewTransitionPublisher(zeebe, log))
		checks["zeebe"] = zeebe.HealthCheck
		zapLog.Info("Zeebe client connected successfully")
	}

	// --- Providers ---
	backend, err := providers.NewBackend(cfg.Providers, log)
	if err != nil {
		zapLog.Fatal("provider backend invalid", zap.Error(err))
	}
	adapter := providers.NewAdapter(backend, providers.OptionsFromConfig(cfg.Providers, cfg.Orchestration.ProviderTimeout), log)

	// --- Domain services ---
	service := orchestrator.New(store, countries, adapter, locker,
		orchestrator.Options{
			ProviderTimeout:      config.GetDuration(cfg.Orchestration.ProviderTimeout),
			BiometricMaxAttempts: cfg.Orchestration.BiometricMaxAttempts,
			EvidenceTimeout:      config.GetDuration(cfg.Orchestration.EvidenceTimeout),
		},
		log,
		orchestrator.WithEvidenceStore(evidenceStore),
		orchestrator.WithObservers(observers...),
		orchestrator.WithTracer(obs.Tracer()),
	)
	gateway := admin.NewGateway(store, statemachine.New(countries), locker, log, observers...)

	var otp auth.OTPVerifier = auth.NewStaticOTP(cfg.Auth.StaticOTP, log)
	if cfg.Auth.OTPMode == "redis" {
		if redisClient == nil {
			zapLog.Fatal("auth.otp_mode redis requires database.redis.enabled")
		}
		otp = auth.NewRedisOTP(redisClient.Client, notifier, time.Duration(cfg.Auth.OTPTTL)*time.Second, cfg.Auth.OTPMaxAttempts, log)
	}
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTL)*time.Minute)
	authService := auth.NewService(store, tokens, otp, countries, log)

	if cfg.Auth.AdminMobile != "" {
		if _, err := authService.EnsureAdmin(ctx, cfg.Auth.AdminMobile, cfg.Auth.AdminPassword, country.Code(cfg.Auth.AdminCountry)); err != nil {
			zapLog.Fatal("admin bootstrap failed", zap.Error(err))
		}
	}

	deps := api.Deps{
		Orchestrator: service,
		Admin:        gateway,
		Auth:         authService,
		Assistant:    assistant.New(adapter, countries, cfg.Orchestration.ChatHistoryLimit, log),
		Contracts:    contract.NewRenderer(cfg.App.Name),
		Countries:    countries,
		Evidence:     evidenceStore,
		Checks:       checks,
	}
	if indexer != nil {
		deps.Search = indexer
	}

	// --- Workflow job workers ---
	var workers *camunda.Workers
	if zeebe != nil {
		catalogue, err := activities.Default()
		if *activitiesPath != "" {
			catalogue, err = activities.LoadFile(*activitiesPath)
		}
		if err != nil {
			zapLog.Fatal("activity catalogue invalid", zap.Error(err))
		}
		regs, err := registrations(cfg, catalogue, service, gateway, store, log)
		if err != nil {
			zapLog.Fatal("worker registration failed", zap.Error(err))
		}
		workers = camunda.StartWorkers(zeebe.Raw(), regs, obs, log)
		zapLog.Info("Workflow workers registered", zap.Int("count", len(regs)))
	}

	// --- HTTP API, health and metrics ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           api.NewServer(cfg.App, deps, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.App.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if workers != nil {
		workers.Stop()
	}
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	zapLog.Info("Loan manager stopped gracefully")
}
