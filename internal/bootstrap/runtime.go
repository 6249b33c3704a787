// Package bootstrap wires configuration into the long-lived collaborators
// shared by the server and the command-line jobs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"everyday/internal/artifact"
	"everyday/internal/cache"
	"everyday/internal/config"
	"everyday/internal/database"
	"everyday/internal/featureflags"
	"everyday/internal/generator"
	"everyday/internal/middleware"
	"everyday/internal/pipeline"
	"everyday/internal/quota"
	"everyday/internal/repository"
	"everyday/internal/seed"
	"everyday/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SeedBaseSelfie writes a placeholder base selfie when the store has none.
	SeedBaseSelfie bool
}

// Runtime holds every collaborator built from one Config.
type Runtime struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Store   artifact.Store
	Posts   *service.PostService
	Visits  *service.VisitService
	Flags   *featureflags.Manager
	Limiter *quota.Limiter

	quotaRedis *redis.Client
}

// InitRuntime connects the artifact store and Redis, then builds the
// services on top of them.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	logger := middleware.Logger
	rt := &Runtime{Config: cfg, Flags: featureflags.NewManager(cfg.FeatureFlags)}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	rt.Redis = cache.GetClient()

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Store = store
	rt.DB = db

	limiterStore, err := rt.quotaStore(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Limiter = quota.NewLimiter(limiterStore, quota.Limits{
		PerClientDaily: cfg.QuotaPerClientDaily,
		GlobalDaily:    cfg.QuotaGlobalDaily,
	}, quota.ParseFailPolicy(cfg.QuotaFailPolicy), cfg.Location(), logger)

	pipe, factory, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	if opts.SeedBaseSelfie {
		if err := seed.EnsureBaseSelfie(ctx, store, cfg.BaseSelfieKey); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to seed base selfie: %w", err)
		}
	}

	repo := repository.NewPostStore(store, cfg.StoreMaxRetries, logger).
		WithListTTL(time.Duration(cfg.ListCacheTTLSeconds) * time.Second)

	rt.Posts = service.NewPostService(service.PostServiceDeps{
		Repo:     repo,
		Store:    store,
		Limiter:  rt.Limiter,
		Pipeline: pipe,
		Factory:  factory,
		Images:   service.NewImageService(cfg.MaxUploadSizeMB),
		Flags:    rt.Flags,
		Logger:   logger,
	}, service.PostServiceConfig{
		OwnerHandle:   cfg.OwnerHandle,
		BaseSelfieKey: cfg.BaseSelfieKey,
		Baseline:      cfg.Baseline(),
		Location:      cfg.Location(),

		FallbackToBase: cfg.DailyFallbackToBase,
	})
	rt.Visits = service.NewVisitService(rt.Redis)

	return rt, nil
}

// openStore selects the artifact backend and optionally puts binary
// artifacts in an object bucket in front of it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (artifact.Store, *gorm.DB, error) {
	var (
		store artifact.Store
		db    *gorm.DB
	)

	switch cfg.StoreDriver {
	case "github":
		store = artifact.NewGitHubStore(artifact.GitHubConfig{
			Token:  cfg.GitHubToken,
			Owner:  cfg.GitHubRepoOwner,
			Repo:   cfg.GitHubRepoName,
			Branch: cfg.GitHubBranch,
		})
	case "postgres", "sqlite":
		conn, err := database.Connect(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		db = conn
		store = artifact.NewGormStore(db, cfg.GitHubBranch)
	case "memory":
		store = artifact.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.MinioEndpoint == "" {
		return store, db, nil
	}

	bucket, err := artifact.NewMinioBucket(artifact.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Bucket:    cfg.MinioBucket,
	})
	if err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("object storage client failed: %w", err)
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bucket.EnsureBucket(bucketCtx); err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("object storage bucket %q unavailable: %w", cfg.MinioBucket, err)
	}
	return artifact.NewOffloadStore(store, bucket, logger), db, nil
}

// quotaStore returns the shared counter store. With QUOTA_STORE=redis and
// Redis down at startup, the limiter still gets a client so faults go
// through the configured fail policy and recover once Redis is back.
func (rt *Runtime) quotaStore(cfg *config.Config) (quota.Store, error) {
	if cfg.QuotaStore == "memory" {
		return quota.NewMemoryStore(), nil
	}
	if rt.Redis != nil {
		return quota.NewRedisStore(rt.Redis), nil
	}
	rdb, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL for quota store: %w", err)
	}
	rt.quotaRedis = rdb
	log.Printf("WARNING: Redis is unreachable; quota checks follow QUOTA_FAIL_POLICY=%s until it returns", cfg.QuotaFailPolicy)
	return quota.NewRedisStore(rdb), nil
}

// newPipeline builds the shared generation pipeline. Without a server key the
// pipeline has no generators: expansion falls back to canned copy and
// synthesis fails, while requests carrying their own key still work.
func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, generator.Factory, error) {
	base := generator.GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		TextModel:  cfg.GeminiTextModel,
		ImageModel: cfg.GeminiImageModel,
	}
	factory := generator.GeminiFactory(base)

	if cfg.GeminiAPIKey == "" {
		return pipeline.New(nil, nil, logger), factory, nil
	}
	g, err := generator.NewGemini(ctx, base)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(g, g, logger), factory, nil
}

// Close releases database and Redis connections.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.quotaRedis != nil {
		errs = append(errs, rt.quotaRedis.Close())
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
