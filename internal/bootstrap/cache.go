package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// CookieCache stores browser cookie snapshots per origin so a restarted run
// can skip the browser while credentials are still fresh.
type CookieCache interface {
	Load(ctx context.Context, origin crawler.Origin) ([]*http.Cookie, bool, error)
	Store(ctx context.Context, origin crawler.Origin, cookies []*http.Cookie) error
	Delete(ctx context.Context, origin crawler.Origin) error
}

// redisClient is the subset of *redis.Client the cache needs.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCookieCache keeps snapshots as JSON values with a TTL.
type RedisCookieCache struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisCookieCache wraps a redis client.
func NewRedisCookieCache(client redisClient, prefix string, ttl time.Duration) *RedisCookieCache {
	return &RedisCookieCache{client: client, prefix: prefix, ttl: ttl}
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

func (c *RedisCookieCache) key(origin crawler.Origin) string {
	return c.prefix + origin.String()
}

// Load returns the cached snapshot, or ok=false on a miss.
func (c *RedisCookieCache) Load(ctx context.Context, origin crawler.Origin) ([]*http.Cookie, bool, error) {
	raw, err := c.client.Get(ctx, c.key(origin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get cookies: %w", err)
	}
	var stored []storedCookie
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("decode cached cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, s := range stored {
		cookies = append(cookies, &http.Cookie{
			Name:     s.Name,
			Value:    s.Value,
			Domain:   s.Domain,
			Path:     s.Path,
			Expires:  s.Expires,
			Secure:   s.Secure,
			HttpOnly: s.HTTPOnly,
		})
	}
	return cookies, len(cookies) > 0, nil
}

// Store overwrites the origin's snapshot.
func (c *RedisCookieCache) Store(ctx context.Context, origin crawler.Origin, cookies []*http.Cookie) error {
	stored := make([]storedCookie, 0, len(cookies))
	for _, ck := range cookies {
		stored = append(stored, storedCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			Secure:   ck.Secure,
			HTTPOnly: ck.HttpOnly,
		})
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	if err := c.client.Set(ctx, c.key(origin), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cookies: %w", err)
	}
	return nil
}

// Delete removes the origin's snapshot.
func (c *RedisCookieCache) Delete(ctx context.Context, origin crawler.Origin) error {
	if err := c.client.Del(ctx, c.key(origin)).Err(); err != nil {
		return fmt.Errorf("redis del cookies: %w", err)
	}
	return nil
}
