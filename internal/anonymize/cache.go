package anonymize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/config"
)

// MappingCache is the optional Redis-backed cross-run mapping tier. Keys
// are salted hashes of the composite mapping key; the original value is
// never stored. With the same salt across runs, the same patient receives
// the same replacement in every run.
type MappingCache struct {
	client *redis.Client
	config config.MappingConfig
	logger *zap.Logger
}

// NewMappingCache creates a new Redis-backed mapping cache
func NewMappingCache(cfg config.MappingConfig, logger *zap.Logger) (*MappingCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	cache := &MappingCache{
		client: client,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Mapping cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return cache, nil
}

// Get returns the cached replacement for a hashed key, if present.
func (mc *MappingCache) Get(ctx context.Context, hashedKey string) (string, bool, error) {
	val, err := mc.client.Get(ctx, mc.key(hashedKey)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mapping cache get failed: %w", err)
	}
	return val, true, nil
}

// Put stores a replacement under a hashed key with the configured TTL.
func (mc *MappingCache) Put(ctx context.Context, hashedKey, replacement string) error {
	if err := mc.client.Set(ctx, mc.key(hashedKey), replacement, mc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("mapping cache put failed: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (mc *MappingCache) Close() error {
	return mc.client.Close()
}

func (mc *MappingCache) key(hashedKey string) string {
	return "phisentinel:mapping:" + hashedKey
}

// maskRedisURL hides credentials in log output.
func maskRedisURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
