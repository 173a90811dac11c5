// Package cache holds the shared redis client and small helpers on top of
// it. Every helper is best-effort: when redis is down or never configured,
// reads miss and writes are dropped, and callers read the database instead.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/FormLoom/FormLoom/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetupCache connects the shared redis client and verifies the connection.
// A failed ping downgrades to cache-less operation instead of aborting
// startup.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	c := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port),
	})
	if err := c.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: redis cache unreachable, running without cache: %v", err)
		client = nil
		return
	}
	client = c
	log.Printf("Connected to redis cache at %s:%s", host, port)
}

// GetClient returns the shared client, or nil when no cache is configured.
func GetClient() *redis.Client {
	return client
}

// Set stores a string value with a TTL. Write failures are logged and
// dropped; a cache write must never fail the request that triggered it.
func Set(ctx context.Context, key, value string, ttl time.Duration) {
	if client == nil {
		return
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
}

// Get returns the value for key and whether it was present. Any error
// counts as a miss.
func Get(ctx context.Context, key string) (string, bool) {
	if client == nil {
		return "", false
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Delete drops a key. Failures are logged; the TTL is the backstop.
func Delete(ctx context.Context, key string) {
	if client == nil {
		return
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		log.Printf("cache: delete %s: %v", key, err)
	}
}
