package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a shared cache backed by go-redis. Errors degrade to cache misses.
type Redis struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	log       *slog.Logger
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	URL       string
	Namespace string
	TTL       time.Duration
	Logger    *slog.Logger
}

// NewRedis parses the URL, pings the server and returns a ready cache.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisWithClient(client, opts), nil
}

func newRedisWithClient(client *redis.Client, opts RedisOptions) *Redis {
	ns := opts.Namespace
	if ns == "" {
		ns = "storepro"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, namespace: ns, ttl: opts.TTL, log: logger}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) versionKey(scope string) string {
	return fmt.Sprintf("%s:ver:%s", r.namespace, scope)
}

func (r *Redis) version(ctx context.Context, scope string) (int64, error) {
	v, err := r.client.Get(ctx, r.versionKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *Redis) dataKey(scope string, version int64, key string) string {
	return fmt.Sprintf("%s:list:%s:%d:%s", r.namespace, scope, version, key)
}

func (r *Redis) Get(ctx context.Context, scope, key string, dst any) bool {
	v, err := r.version(ctx, scope)
	if err != nil {
		r.log.Warn("cache version lookup failed", "scope", scope, "error", err)
		return false
	}
	raw, err := r.client.Get(ctx, r.dataKey(scope, v, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("cache read failed", "scope", scope, "error", err)
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *Redis) Set(ctx context.Context, scope, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	v, err := r.version(ctx, scope)
	if err != nil {
		r.log.Warn("cache version lookup failed", "scope", scope, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.dataKey(scope, v, key), payload, r.ttl).Err(); err != nil {
		r.log.Warn("cache write failed", "scope", scope, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, scope string) {
	if scope == "" {
		return
	}
	if err := r.client.Incr(ctx, r.versionKey(scope)).Err(); err != nil {
		r.log.Warn("cache invalidation failed", "scope", scope, "error", err)
	}
}
