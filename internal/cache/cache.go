// Package cache keeps recent search envelopes in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

const keyPrefix = "phone-scraper:search:"

// Client is the subset of the Redis client the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type SearchCache struct {
	client Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(client Client, ttl time.Duration, logger *slog.Logger) *SearchCache {
	return &SearchCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "search_cache"),
	}
}

// Key normalizes the search parameters so equivalent requests share an entry.
func Key(query string, sites []models.Site, maxResults int) string {
	tags := make([]string, 0, len(sites))
	for _, s := range sites {
		tags = append(tags, string(s))
	}
	return keyPrefix + strings.ToLower(strings.TrimSpace(query)) + "|" + strings.Join(tags, ",") + "|" + strconv.Itoa(maxResults)
}

// Get returns the cached envelope, or false on a miss. Redis failures count
// as misses.
func (c *SearchCache) Get(ctx context.Context, key string) (*models.Envelope, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	return &env, true
}

// Put caches env unless it holds no phones or any site failed. A site that
// was blocked once is retried on the next request.
func (c *SearchCache) Put(ctx context.Context, key string, env *models.Envelope) error {
	if env.TotalFound == 0 {
		return nil
	}
	if env.HasErrors() {
		c.logger.Debug("not caching partial result", "key", key)
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
