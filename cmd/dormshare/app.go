package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/dormshare/pkg/api"
	"github.com/platinummonkey/dormshare/pkg/audit"
	"github.com/platinummonkey/dormshare/pkg/auth"
	"github.com/platinummonkey/dormshare/pkg/config"
	"github.com/platinummonkey/dormshare/pkg/middleware"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/platinummonkey/dormshare/pkg/rbac"
	"github.com/platinummonkey/dormshare/pkg/rbac/cache"
	"github.com/platinummonkey/dormshare/pkg/revocation"
	"github.com/platinummonkey/dormshare/pkg/session"
	"github.com/platinummonkey/dormshare/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the wired components of a dormshare process
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db    *sql.DB
	redis *redis.Client

	codec      *auth.Codec
	revoked    revocation.Registry
	sweeper    *revocation.Sweeper
	resolver   *rbac.Resolver
	cached     *cache.Resolver
	store      *rbac.Store
	authorizer *middleware.Authorizer
	sessions   *session.Service
	secrets    *config.SecretsWatcher
	webhook    *audit.WebhookEmitter
}

// newApp opens the stores and wires every component. The caller owns Close.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Observability.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = observability.NewMetrics(a.registry)
	}

	db, err := storage.OpenDB(ctx, storage.DBConfig{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.db = db

	if err := rbac.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled() {
		client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
	}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	cacheConfig := &cache.Config{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
	}
	var permCache cache.Cache
	if a.redis != nil {
		cacheConfig.KeyPrefix = cfg.Redis.KeyPrefix + "perms:"
		permCache = cache.NewRedisCache(a.redis, cacheConfig)
		a.revoked = revocation.NewRedisRegistry(a.redis, cfg.Redis.KeyPrefix+"revoked:")
		a.logger.Info("using redis for revocations and permission cache")
	} else {
		permCache = cache.NewMemoryCache(cacheConfig)
		memory := revocation.NewMemoryRegistry(nil)
		sweeper, err := revocation.NewSweeper(memory, cfg.Auth.SweepSchedule, a.logger)
		if err != nil {
			return err
		}
		a.revoked = memory
		a.sweeper = sweeper
		a.logger.Warn("redis not configured, revocations are local to this instance")
	}

	access, err := auth.NewKeyRing(cfg.Auth.AccessSecrets...)
	if err != nil {
		return fmt.Errorf("access secrets: %w", err)
	}
	refresh, err := auth.NewKeyRing(cfg.Auth.RefreshSecrets...)
	if err != nil {
		return fmt.Errorf("refresh secrets: %w", err)
	}
	a.codec, err = auth.NewCodec(access, refresh,
		auth.WithAccessTTL(cfg.Auth.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithRevocationChecker(a.revoked),
		auth.WithLogger(a.logger),
		auth.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.resolver = rbac.NewResolver(a.db,
		rbac.WithQueryTimeout(cfg.Database.QueryTimeout),
		rbac.WithResolverLogger(a.logger),
		rbac.WithResolverMetrics(a.metrics),
	)
	a.cached = cache.NewResolver(permCache, a.resolver, a.logger, a.metrics)
	a.store = rbac.NewStore(a.db, a.cached, a.logger)

	var emitter audit.Emitter = audit.NewLogEmitter(a.logger)
	if cfg.Audit.WebhookURL != "" {
		a.webhook, err = audit.NewWebhookEmitter(audit.WebhookConfig{
			URL:     cfg.Audit.WebhookURL,
			Secret:  cfg.Audit.WebhookSecret,
			Workers: cfg.Audit.WebhookWorkers,
			Timeout: cfg.Audit.WebhookTimeout,
		}, a.logger)
		if err != nil {
			return err
		}
		emitter = audit.NewMultiEmitter(emitter, a.webhook)
	}

	a.authorizer = middleware.NewAuthorizer(a.codec, a.cached,
		middleware.WithEmitter(emitter),
		middleware.WithLogger(a.logger),
		middleware.WithMetrics(a.metrics),
		middleware.WithResolveTimeout(cfg.Auth.ResolveTimeout),
	)
	a.sessions = session.NewService(a.codec, a.resolver, a.cached, a.revoked,
		session.WithRotation(cfg.Auth.RotateRefreshTokens),
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
	)
	return nil
}

// seed applies the configured role seed, or the built-in roles
func (a *app) seed(ctx context.Context) error {
	seed := rbac.DefaultSeed()
	if a.cfg.Database.SeedFile != "" {
		loaded, err := rbac.LoadSeed(a.cfg.Database.SeedFile)
		if err != nil {
			return err
		}
		seed = loaded
	}
	return rbac.ApplySeed(ctx, a.store, seed)
}

// watchSecrets swaps the codec key rings whenever the secrets file changes
func (a *app) watchSecrets() error {
	if a.cfg.Auth.SecretsFile == "" {
		return nil
	}
	watcher, err := config.WatchSecrets(a.cfg.Auth.SecretsFile, a.rotateKeys, a.logger)
	if err != nil {
		return err
	}
	a.secrets = watcher
	return nil
}

func (a *app) rotateKeys(s *config.Secrets) {
	if err := config.ValidateSecrets(s.Access, s.Refresh); err != nil {
		a.logger.WithError(err).Error("rejecting rotated secrets")
		return
	}
	access, err := auth.NewKeyRing(s.Access...)
	if err != nil {
		a.logger.WithError(err).Error("rejecting rotated access secrets")
		return
	}
	refresh, err := auth.NewKeyRing(s.Refresh...)
	if err != nil {
		a.logger.WithError(err).Error("rejecting rotated refresh secrets")
		return
	}
	a.codec.SetAccessKeys(access)
	a.codec.SetRefreshKeys(refresh)
	a.logger.WithFields(map[string]interface{}{
		"access_keys":  access.Len(),
		"refresh_keys": refresh.Len(),
	}).Info("signing keys rotated")
}

// apiServer builds the API handler
func (a *app) apiServer() *api.Server {
	return api.NewServer(api.Deps{
		Authorizer: a.authorizer,
		Sessions:   session.NewHandlers(a.sessions),
		RBAC:       rbac.NewHandlers(a.store, a.resolver),
		Logger:     a.logger,
	})
}

// Close releases the stores and background workers
func (a *app) Close() error {
	if a.secrets != nil {
		a.secrets.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
