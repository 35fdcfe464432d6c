package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/entitlements/pkg/appstore"
	"github.com/dmitrymomot/entitlements/pkg/breaker"
	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/httpserver"
	"github.com/dmitrymomot/entitlements/pkg/jwt"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/metrics"
	"github.com/dmitrymomot/entitlements/pkg/notification"
	"github.com/dmitrymomot/entitlements/pkg/pg"
	"github.com/dmitrymomot/entitlements/pkg/receipt"
	redisconn "github.com/dmitrymomot/entitlements/pkg/redis"
	"github.com/dmitrymomot/entitlements/pkg/requestid"
	"github.com/dmitrymomot/entitlements/svc/subscription"
)

type appConfig struct {
	JWTSecret            string        `env:"JWT_SIGNING_SECRET,required"`
	WebhookSigningSecret string        `env:"WEBHOOK_SIGNING_SECRET,required"`
	CatalogPath          string        `env:"PRODUCT_CATALOG_PATH"`
	CacheTTL             time.Duration `env:"VALIDATION_CACHE_TTL" envDefault:"1h"`
	CacheCapacity        int           `env:"VALIDATION_CACHE_CAPACITY" envDefault:"10000"`
	RedisEnabled         bool          `env:"REDIS_ENABLED" envDefault:"false"`
	MetricsInterval      time.Duration `env:"METRICS_LOG_INTERVAL" envDefault:"1h"`
	DedupRetention       time.Duration `env:"WEBHOOK_DEDUP_RETENTION" envDefault:"24h"`
}

func main() {
	ctx := context.Background()

	var (
		appCfg     appConfig
		logCfg     logger.Config
		pgCfg      pg.Config
		redisCfg   redisconn.Config
		storeCfg   appstore.Config
		breakerCfg breaker.Config
		httpCfg    httpserver.Config
		svcCfg     subscription.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&logCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&storeCfg)
	config.MustLoad(&breakerCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&svcCfg)

	log := logger.FromConfig(logCfg,
		logger.WithContextExtractors(requestid.LoggerExtractor()))
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		fatal(log, "database connection failed", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		fatal(log, "migrations failed", err)
	}

	store := subscription.NewPGStore(pool)
	healthProbes := []func(context.Context) error{pg.Healthcheck(pool)}

	var (
		validationCache receipt.Cache           = receipt.NewMemoryCache(appCfg.CacheCapacity)
		dedup           notification.DedupStore = notification.NewMemoryDedup(appCfg.DedupRetention)
	)
	if appCfg.RedisEnabled {
		config.MustLoad(&redisCfg)
		redisClient, err := redisconn.Connect(ctx, redisCfg)
		if err != nil {
			fatal(log, "redis connection failed", err)
		}
		defer func() { _ = redisClient.Close() }()

		validationCache = receipt.NewRedisCache(redisClient, "")
		dedup = notification.NewRedisDedup(redisClient, "", appCfg.DedupRetention)
		healthProbes = append(healthProbes, redisconn.Healthcheck(redisClient))
	}

	var catalog *entitlement.Catalog
	if appCfg.CatalogPath != "" {
		catalog, err = entitlement.LoadCatalog(appCfg.CatalogPath)
		if err != nil {
			fatal(log, "product catalog load failed", err)
		}
	}

	var clientOpts []appstore.Option
	if storeCfg.PrivateKeyPath != "" {
		keyPEM, err := os.ReadFile(storeCfg.PrivateKeyPath)
		if err != nil {
			fatal(log, "signing key read failed", err)
		}
		tokens, err := appstore.NewTokenSource(storeCfg.KeyID, storeCfg.IssuerID, keyPEM)
		if err != nil {
			fatal(log, "token source setup failed", err)
		}
		clientOpts = append(clientOpts, appstore.WithTokenSource(tokens))
	}

	client, err := appstore.New(storeCfg, clientOpts...)
	if err != nil {
		fatal(log, "store client setup failed", err)
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)

	cb := breaker.New(breakerCfg)
	upstream := receipt.InstrumentUpstream(client, recorder.UpstreamLatency)
	validator := receipt.NewValidator(upstream, validationCache, cb, catalog,
		receipt.WithLogger(log),
		receipt.WithCacheTTL(appCfg.CacheTTL))

	manager := entitlement.NewManager(store,
		entitlement.WithAuditLogger(store),
		entitlement.WithLogger(log))

	processor := notification.NewProcessor(manager, store, dedup,
		notification.WithVerifier(notification.NewVerifier(appCfg.WebhookSigningSecret)),
		notification.WithCatalog(catalog),
		notification.WithLogger(log))

	collector := metrics.NewCollector(store,
		metrics.WithCatalog(catalog),
		metrics.WithLogger(log))
	go collector.Run(ctx, appCfg.MetricsInterval)

	jwtSvc, err := jwt.NewFromString(appCfg.JWTSecret)
	if err != nil {
		fatal(log, "jwt service setup failed", err)
	}

	svc := subscription.NewService(validator, manager, processor,
		subscription.WithMetrics(recorder, collector),
		subscription.WithBreaker(cb),
		subscription.WithSyncWait(svcCfg.SyncWait),
		subscription.WithLogger(log))

	router := subscription.NewRouter(subscription.RouterDeps{
		Service:      svc,
		JWT:          jwtSvc,
		Log:          log,
		HealthProbes: healthProbes,
	})

	server := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("entitlement service listening", "addr", httpCfg.Addr)
		}),
		httpserver.WithStopHook(func(l *slog.Logger) {
			l.Info("entitlement service stopped")
		}))

	if err := server.Run(ctx, router); err != nil {
		fatal(log, "server exited with error", err)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, logger.Error(err))
	os.Exit(1)
}
