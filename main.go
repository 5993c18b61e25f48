package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/audit"
	"github.com/sage-clinical/sage-engine/pkg/cache"
	"github.com/sage-clinical/sage-engine/pkg/confidence"
	"github.com/sage-clinical/sage-engine/pkg/config"
	"github.com/sage-clinical/sage-engine/pkg/entities"
	"github.com/sage-clinical/sage-engine/pkg/handlers"
	"github.com/sage-clinical/sage-engine/pkg/intent"
	"github.com/sage-clinical/sage-engine/pkg/llm"
	"github.com/sage-clinical/sage-engine/pkg/logging"
	"github.com/sage-clinical/sage-engine/pkg/middleware"
	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/pipeline"
	"github.com/sage-clinical/sage-engine/pkg/prompts"
	"github.com/sage-clinical/sage-engine/pkg/resolver"
	"github.com/sage-clinical/sage-engine/pkg/respond"
	"github.com/sage-clinical/sage-engine/pkg/sanitizer"
	"github.com/sage-clinical/sage-engine/pkg/settings"
	"github.com/sage-clinical/sage-engine/pkg/sqlcheck"
	"github.com/sage-clinical/sage-engine/pkg/sqlgen"
	"github.com/sage-clinical/sage-engine/pkg/store"
	"github.com/sage-clinical/sage-engine/pkg/store/duckdb"
	"github.com/sage-clinical/sage-engine/pkg/store/postgres"
)

// Version is set at build time via ldflags.
var Version = "dev"

// promptTokenBudget bounds the assembled LLM context.
const promptTokenBudget = 8000

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting sage-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("data_driver", cfg.Data.Driver))

	client, err := llm.NewClient(llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		RequestTimeout: cfg.LLM.RequestTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	executor, err := openExecutor(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open study store: %w", err)
	}
	defer executor.Close()

	catalog, err := executor.IntrospectCatalog(ctx)
	if err != nil || len(catalog.Names()) == 0 {
		logger.Warn("Catalog introspection failed, using the standard CDISC catalog",
			zap.Error(err))
		catalog = models.DefaultCatalog()
	}
	logger.Info("Study catalog loaded", zap.Strings("tables", catalog.Names()))

	auditStore, err := audit.Open(audit.Config{
		DBPath:          cfg.Audit.DBPath,
		ChecksumEnabled: cfg.Audit.ChecksumEnabled,
		SignatureSecret: cfg.Audit.SignatureSecret,
		RetentionDays:   cfg.Audit.RetentionDays,
	}, logger)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	settingsSvc, err := settings.Open(cfg.Audit.DBPath+".settings", logger)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer settingsSvc.Close()

	dict, err := entities.Load()
	if err != nil {
		return fmt.Errorf("load clinical dictionary: %w", err)
	}

	queryCache := cache.New(cache.Config{
		Enabled: cfg.System.CacheEnabled,
		TTL:     cfg.System.CacheTTL(),
		MaxSize: cfg.System.CacheMaxSize,
	}, logger)

	pipe := pipeline.New(pipeline.Deps{
		Sanitizer:  sanitizer.New(sanitizer.DefaultConfig(), logger),
		Cache:      queryCache,
		Classifier: intent.NewClassifier(client, logger),
		Responder:  intent.NewResponder(client, cfg.Version, logger),
		Extractor: entities.NewExtractor(dict, entities.Config{
			FuzzyThreshold: int(cfg.Dictionary.FuzzyThreshold),
		}, logger),
		Resolver:  resolver.New(catalog, logger),
		Builder:   prompts.NewBuilder(catalog, promptTokenBudget, logger),
		Generator: sqlgen.New(client, cfg.LLM.Temperature, cfg.LLM.MaxTokens, logger),
		Validator: sqlcheck.New(catalog, cfg.System.MaxResultRows, logger),
		Executor:  executor,
		Scorer: confidence.New(models.LevelThresholds{
			High:   cfg.LLM.HighThreshold,
			Medium: cfg.LLM.MediumThreshold,
			Low:    cfg.LLM.LowThreshold,
		}),
		Formatter: respond.NewFormatter(),
		Auditor:   auditStore,
	}, pipeline.Options{
		MaxCorrectionAttempts: cfg.System.MaxCorrectionAttempts,
		QueryTimeout:          cfg.System.QueryTimeout(),
		MaxConcurrent:         int64(cfg.System.MaxConcurrentQueries),
		MaxResultRows:         cfg.System.MaxResultRows,
	}, logger)

	mux := buildRouter(cfg, logger, pipe, executor, auditStore, settingsSvc, queryCache)

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go maintenanceLoop(ctx, queryCache, auditStore, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openExecutor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.QueryExecutor, error) {
	switch cfg.Data.Driver {
	case "duckdb":
		return duckdb.Open(duckdb.Config{
			Path:          cfg.Data.DuckDBPath,
			MemoryLimitMB: cfg.Data.DuckDBMemoryMB,
			Threads:       cfg.Data.DuckDBThreads,
		}, logger)
	case "postgres":
		return postgres.Open(ctx, cfg.Data.PostgresDSN, logger)
	default:
		return nil, fmt.Errorf("unknown data driver %q", cfg.Data.Driver)
	}
}

func buildRouter(
	cfg *config.Config,
	logger *zap.Logger,
	pipe *pipeline.Pipeline,
	executor store.QueryExecutor,
	auditStore *audit.Store,
	settingsSvc *settings.Service,
	queryCache *cache.QueryCache,
) http.Handler {
	authn := middleware.NewAuthenticator(middleware.AuthConfig{
		Secret:             cfg.Auth.JWTSecret,
		EnableVerification: cfg.Auth.EnableVerification,
	}, logger)
	auditor := middleware.NewRequestAuditor(auditStore, middleware.AuditConfig{
		ExcludedPaths:  cfg.Audit.ExcludedPaths,
		LogRequestBody: cfg.Audit.LogRequests,
	}, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, executor, logger).RegisterRoutes(mux)

	api := http.NewServeMux()
	handlers.NewChatHandler(pipe, logger).RegisterRoutes(api)
	handlers.NewAuditHandler(auditStore, logger).RegisterRoutes(api)
	handlers.NewCacheHandler(queryCache, logger).RegisterRoutes(api)
	mux.Handle("/api/", middleware.Chain(api,
		middleware.RequestLogger(logger),
		authn.RequireAuth(),
		auditor.Intercept()))

	// Settings mutate engine behavior at runtime; admin only.
	admin := http.NewServeMux()
	handlers.NewSettingsHandler(settingsSvc, logger).RegisterRoutes(admin)
	mux.Handle("/api/settings", middleware.Chain(admin,
		middleware.RequestLogger(logger),
		authn.RequireRole("admin"),
		auditor.Intercept()))
	mux.Handle("/api/settings/", middleware.Chain(admin,
		middleware.RequestLogger(logger),
		authn.RequireRole("admin"),
		auditor.Intercept()))

	return mux
}

// maintenanceLoop evicts expired cache entries and purges audit records past
// retention until the context ends.
func maintenanceLoop(ctx context.Context, queryCache *cache.QueryCache, auditStore *audit.Store, logger *zap.Logger) {
	cacheTick := time.NewTicker(10 * time.Minute)
	purgeTick := time.NewTicker(24 * time.Hour)
	defer cacheTick.Stop()
	defer purgeTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cacheTick.C:
			if removed := queryCache.CleanupExpired(); removed > 0 {
				logger.Info("Expired cache entries removed", zap.Int("count", removed))
			}
		case <-purgeTick.C:
			removed, err := auditStore.PurgeExpired(ctx)
			if err != nil {
				logger.Error("Audit retention purge failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("Audit records purged", zap.Int64("count", removed))
			}
		}
	}
}
