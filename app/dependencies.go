package app

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/tier-router/config"
	"github.com/upb/tier-router/internal/observability"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/repositories"
	"github.com/upb/tier-router/repositories/postgres"
	"github.com/upb/tier-router/services/audit"
	"github.com/upb/tier-router/services/classifier"
	"github.com/upb/tier-router/services/fallback"
	"github.com/upb/tier-router/services/providers"
	"github.com/upb/tier-router/services/providers/anthropic"
	"github.com/upb/tier-router/services/providers/openai"
	"github.com/upb/tier-router/services/ratelimit"
	"github.com/upb/tier-router/services/registry"
	"github.com/upb/tier-router/services/routing"
	"go.uber.org/zap"
)

// auditStopTimeout bounds how long Close waits for queued attempt records
const auditStopTimeout = 10 * time.Second

// Dependencies holds every component of the router, wired from one Config.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when no database is configured
	Logger *zap.Logger

	// Model catalog
	RegistryFile *config.RegistryFile
	Registry     *registry.Registry
	Resolver     *fallback.Resolver

	// Routing
	Limiter    *ratelimit.RateLimitService
	Classifier *classifier.Classifier
	Providers  *providers.Registry
	Router     *routing.Router

	// Observers
	Attempts repositories.AttemptRepository // nil when no database is configured
	Auditor  *audit.AttemptAuditor          // nil when no database is configured
	Metrics  *observability.Metrics
}

// NewDependencies creates and wires up all dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initCatalog(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize model catalog: %w", err)
	}

	if err := deps.initLimiter(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if cfg.Database != nil {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := deps.initAuditor(cfg); err != nil {
			deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize attempt auditor: %w", err)
		}
	} else {
		logger.Warn("database not configured, attempt auditing disabled")
	}

	if err := deps.initRouter(cfg); err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.Int("models", deps.Registry.Len()))
	return deps, nil
}

// initCatalog loads the registry file and builds the registry and fallback chains
func (d *Dependencies) initCatalog(cfg *config.Config) error {
	file, err := config.LoadRegistryFile(cfg.Router.RegistryFile)
	if err != nil {
		return err
	}

	reg, err := registry.New(file.Models)
	if err != nil {
		return err
	}

	resolver, err := fallback.NewResolver(reg, file.FallbackConfig())
	if err != nil {
		return err
	}

	d.RegistryFile = file
	d.Registry = reg
	d.Resolver = resolver

	source := cfg.Router.RegistryFile
	if source == "" {
		source = "built-in"
	}
	d.Logger.Info("model catalog loaded",
		zap.String("source", source),
		zap.Int("models", reg.Len()))
	return nil
}

func (d *Dependencies) initLimiter(cfg *config.Config) error {
	limiter, err := ratelimit.NewRateLimitService(d.Registry, d.RegistryFile.RateLimitConfig(cfg.Router), d.Logger)
	if err != nil {
		return err
	}
	d.Limiter = limiter
	return nil
}

// initProviders registers a dispatcher per configured provider and maps every
// catalog model to the provider that serves it
func (d *Dependencies) initProviders(cfg *config.Config) error {
	d.Classifier = classifier.New()
	reg := providers.NewRegistry(models.DefaultProvider)

	if cfg.Provider.APIKey == "" {
		d.Logger.Warn("provider api key not configured, upstream calls will fail authentication")
	}
	openaiConfig := providers.ProviderConfig{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout,
	}
	var primary providers.NamedDispatcher = openai.NewDispatcher(openaiConfig, d.Logger)
	if cfg.Provider.Client == config.ProviderClientSDK {
		primary = openai.NewSDKDispatcher(openaiConfig, d.Logger)
	}
	if err := reg.RegisterProvider(primary); err != nil {
		return err
	}

	if cfg.Anthropic.APIKey != "" {
		err := reg.RegisterProvider(anthropic.NewDispatcher(providers.ProviderConfig{
			APIKey:          cfg.Anthropic.APIKey,
			BaseURL:         cfg.Anthropic.BaseURL,
			Timeout:         cfg.Provider.Timeout,
			MaxOutputTokens: cfg.Anthropic.MaxOutputTokens,
		}, d.Logger))
		if err != nil {
			return err
		}
	}

	registered := make(map[string]bool)
	for _, name := range reg.ListProviders() {
		registered[name] = true
	}
	for _, m := range d.Registry.AllModels() {
		reg.MapModel(m.ID, m.ProviderName())
		if !registered[m.ProviderName()] {
			d.Logger.Warn("model provider not configured, model will always fall back",
				zap.String("model", m.ID),
				zap.String("provider", m.ProviderName()))
		}
	}

	d.Providers = reg
	d.Logger.Info("providers initialized", zap.Strings("providers", reg.ListProviders()))
	return nil
}

// initDatabase opens the PostgreSQL pool and ensures the attempt table exists
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return err
	}

	d.DB = db
	d.Attempts = postgres.NewAttemptRepository(db, d.Logger)
	return nil
}

func (d *Dependencies) initAuditor(cfg *config.Config) error {
	auditor := audit.NewAttemptAuditor(d.Attempts, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	if err := auditor.Start(); err != nil {
		return err
	}
	d.Auditor = auditor
	return nil
}

func (d *Dependencies) initRouter(cfg *config.Config) error {
	d.Metrics = observability.NewMetrics()

	observers := []routing.Observer{d.Metrics}
	if d.Auditor != nil {
		observers = append(observers, d.Auditor)
	}

	router, err := routing.NewRouter(routing.Deps{
		Resolver:   d.Resolver,
		Limiter:    d.Limiter,
		Classifier: d.Classifier,
		Dispatcher: d.Providers,
		Observers:  observers,
		Logger:     d.Logger,
	}, routing.Config{
		AttemptTimeout: cfg.Router.AttemptTimeout,
		CallTimeout:    cfg.Router.CallTimeout,
	})
	if err != nil {
		return err
	}

	d.Router = router
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Flush queued attempt records before the pool goes away
	if d.Auditor != nil {
		if err := d.Auditor.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop attempt auditor: %w", err))
		}
		d.Auditor = nil
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.DB = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
