package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"subtrack/internal/cache"
	"subtrack/internal/metrics"
	"subtrack/internal/storage"
	"subtrack/internal/storage/memory"
)

const notConfiguredReason = "no data backend configured"

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger  *slog.Logger
	metrics metrics.Recorder
}

func NewFactory(logger *slog.Logger, rec metrics.Recorder) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger, metrics: metrics.OrNop(rec)}
}

// CreateBackend builds the store selected by config and decides, once, whether
// it is available.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return f.withCache(ctx, config, repo, repo, repo.Close), nil

	case MemoryBackend:
		store := memory.New()
		f.logger.Info("Initialized memory backend")
		return f.withCache(ctx, config, store, store, nil), nil

	case NoBackend:
		f.logger.Warn("Store not configured, every data call will fail", "reason", notConfiguredReason)
		store := NewUnavailableStore(notConfiguredReason)
		return &BackendResult{
			Store:        store,
			Users:        store,
			Availability: Availability{Available: false, Reason: notConfiguredReason},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) withCache(ctx context.Context, config Config, store storage.ReminderStore, users storage.UserStore, closeStore CleanupFunc) *BackendResult {
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	var (
		backend     cache.Backend[[]storage.CachedSubscription]
		generations cache.Backend[string]
		cleanups    []CleanupFunc
	)

	if config.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		if err != nil {
			f.logger.Warn("Failed to initialize Redis cache, falling back to in-process cache", "error", err)
		} else {
			backend = cache.NewRedis[[]storage.CachedSubscription](client, "subtrack:", ttl)
			generations = cache.NewRedis[string](client, "subtrack:", ttl)
			cleanups = append(cleanups, client.Close)
			f.logger.Info("Using Redis subscription cache", "addr", config.RedisAddr, "ttl", ttl)
		}
	}

	if backend == nil {
		size := config.CacheSize
		if size <= 0 {
			size = defaultCacheSize
		}
		local, lru := cache.NewLocal[[]storage.CachedSubscription](size, ttl)
		localGens, genLRU := cache.NewLocal[string](size, ttl)
		manager := cache.NewManager()
		manager.Register(lru)
		manager.Register(genLRU)
		manager.StartCleanup(ttl)
		backend = local
		generations = localGens
		cleanups = append(cleanups, func() error { manager.Stop(); return nil })
		f.logger.Info("Using in-process subscription cache", "size", size, "ttl", ttl)
	}

	if closeStore != nil {
		cleanups = append(cleanups, closeStore)
	}

	return &BackendResult{
		Store:        storage.NewCachedStore(store, backend, generations, f.metrics),
		Users:        users,
		Availability: Availability{Available: true},
		Cleanup:      joinCleanups(cleanups),
	}
}

func joinCleanups(fns []CleanupFunc) CleanupFunc {
	return func() error {
		var errs []error
		for _, fn := range fns {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
