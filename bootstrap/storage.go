package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"vigil/config"
	"vigil/core"
	"vigil/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite *storage.SQLite
	Store  *storage.Store
	// Redis is nil when redis.enabled is false
	Redis  *redis.Client
	Locker core.ClaimLocker
}

// InitSQLite initializes the SQLite database.
func InitSQLite(dirs DataDirectories, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dirs.SQLite, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dirs.SQLite)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// redisRetryDelays is the backoff between Redis connection attempts.
var redisRetryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// InitRedis connects to Redis with retry logic.
func InitRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*redis.Client, error) {
	client := core.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)

	var lastErr error
	for attempt := 0; attempt <= len(redisRetryDelays); attempt++ {
		if attempt > 0 {
			delay := redisRetryDelays[attempt-1]
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", len(redisRetryDelays),
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			break
		}

		sugar.Warnw("Redis connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	if lastErr != nil {
		client.Close()
		errMsg := ClassifyRedisError(lastErr, cfg.Redis.Addr)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: Redis Connection Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", len(redisRetryDelays)+1, lastErr)
	}

	sugar.Infow("Connected to Redis successfully", "addr", cfg.Redis.Addr)
	return client, nil
}

// InitStorage opens the database and, when enabled, the shared Redis claim locker.
func InitStorage(ctx context.Context, cfg *config.Config, dirs DataDirectories, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sqlite, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}

	components := &StorageComponents{
		SQLite: sqlite,
		Store:  storage.NewStore(sqlite, sugar),
	}

	if !cfg.Redis.Enabled {
		components.Locker = core.NewMemoryClaimLocker()
		sugar.Info("Redis disabled, using in-process claim locker")
		return components, nil
	}

	client, err := InitRedis(ctx, cfg, sugar)
	if err != nil {
		sqlite.Close()
		return nil, err
	}
	components.Redis = client
	components.Locker = core.NewRedisClaimLocker(client, cfg.Redis.KeyPrefix+"claim:", cfg.Correlation.LockTTL, sugar)
	return components, nil
}

// Close releases database and Redis connections.
func (s *StorageComponents) Close(sugar *zap.SugaredLogger) {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
		}
	}
	if s.SQLite != nil {
		if err := s.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}
}
