package kv

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config selects and tunes the backend returned by [Open].
type Config struct {
	// Addrs lists Redis endpoints. More than one address yields a cluster
	// client. Empty means no Redis; Open returns a MemoryStore.
	Addrs    []string
	Username string
	Password string
	DB       int

	Prefix           string
	OperationTimeout time.Duration
	ReadRetryBackoff time.Duration
	UpdateRetries    int

	// Fallback allows Open to return an in-process MemoryStore when Redis
	// cannot be reached at startup.
	Fallback bool
}

var fallbackOnce sync.Once

// Open connects to Redis and verifies the connection. When Redis is not
// configured, or unreachable and cfg.Fallback is set, it returns a
// [MemoryStore] and logs the degradation once per process.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Addrs) == 0 {
		warnFallback(logger, "no redis address configured", nil)
		return NewMemoryStore(), nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
	})
	store := NewRedisStore(client, RedisOptions{
		Prefix:           cfg.Prefix,
		OperationTimeout: cfg.OperationTimeout,
		ReadRetryBackoff: cfg.ReadRetryBackoff,
		UpdateRetries:    cfg.UpdateRetries,
	})

	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		if !cfg.Fallback {
			return nil, err
		}
		warnFallback(logger, "redis unreachable", err)
		return NewMemoryStore(), nil
	}
	return store, nil
}

func warnFallback(logger *zap.Logger, reason string, err error) {
	fallbackOnce.Do(func() {
		fields := []zap.Field{zap.String("reason", reason)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Warn("kv: using in-process store; state is not shared across instances", fields...)
	})
}
