package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xelth-com/eckposgo/internal/models"
)

// RedisCache keeps reference data in Redis so several terminals of one store
// can share offers, payment modes and settings.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. A zero ttl keeps keys forever.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(kind, id string) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, kind, id)
}

func (c *RedisCache) get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Printf("⚠️ Redis: read %s failed: %v", key, err)
		return nil, false
	}
	return data, true
}

func (c *RedisCache) set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks that the server answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SaveOffers(ctx context.Context, profile string, offers []models.Offer) error {
	data, err := encodeOffers(offers)
	if err != nil {
		return err
	}
	return c.set(ctx, c.key("offers", profile), data)
}

// GetOffers returns nil and false when the key is missing or unreadable.
func (c *RedisCache) GetOffers(ctx context.Context, profile string) ([]models.Offer, bool) {
	data, ok := c.get(ctx, c.key("offers", profile))
	if !ok {
		return nil, false
	}
	offers, err := decodeOffers(data)
	if err != nil {
		log.Printf("⚠️ Redis: corrupt offers for %s: %v", profile, err)
		return nil, false
	}
	return offers, true
}

func (c *RedisCache) SavePaymentMethods(ctx context.Context, profile string, methods []byte) error {
	return c.set(ctx, c.key("payments", profile), methods)
}

func (c *RedisCache) GetPaymentMethods(ctx context.Context, profile string) ([]byte, bool) {
	return c.get(ctx, c.key("payments", profile))
}

func (c *RedisCache) SetSetting(ctx context.Context, key string, value []byte) error {
	return c.set(ctx, c.key("settings", key), value)
}

func (c *RedisCache) GetSetting(ctx context.Context, key string) ([]byte, bool) {
	return c.get(ctx, c.key("settings", key))
}

func (c *RedisCache) DeleteSetting(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key("settings", key)).Err()
}

// Layered serves offers, payment methods and settings from Redis first and
// falls through to the durable store. Writes go to both; a Redis write error
// is logged, the durable write decides the result.
type Layered struct {
	Store
	cache *RedisCache
}

// NewLayered puts cache in front of primary.
func NewLayered(primary Store, cache *RedisCache) *Layered {
	return &Layered{Store: primary, cache: cache}
}

func (l *Layered) SaveOffers(ctx context.Context, profile string, offers []models.Offer) error {
	if err := l.cache.SaveOffers(ctx, profile, offers); err != nil {
		log.Printf("⚠️ %v", err)
	}
	return l.Store.SaveOffers(ctx, profile, offers)
}

func (l *Layered) GetOffers(ctx context.Context, profile string) []models.Offer {
	if offers, ok := l.cache.GetOffers(ctx, profile); ok {
		return offers
	}
	offers := l.Store.GetOffers(ctx, profile)
	if len(offers) > 0 {
		_ = l.cache.SaveOffers(ctx, profile, offers)
	}
	return offers
}

func (l *Layered) SavePaymentMethods(ctx context.Context, profile string, methods []byte) error {
	if err := l.cache.SavePaymentMethods(ctx, profile, methods); err != nil {
		log.Printf("⚠️ %v", err)
	}
	return l.Store.SavePaymentMethods(ctx, profile, methods)
}

func (l *Layered) GetPaymentMethods(ctx context.Context, profile string) []byte {
	if methods, ok := l.cache.GetPaymentMethods(ctx, profile); ok {
		return methods
	}
	return l.Store.GetPaymentMethods(ctx, profile)
}

func (l *Layered) SetSetting(ctx context.Context, key string, value []byte) error {
	if err := l.cache.SetSetting(ctx, key, value); err != nil {
		log.Printf("⚠️ %v", err)
	}
	return l.Store.SetSetting(ctx, key, value)
}

func (l *Layered) GetSetting(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := l.cache.GetSetting(ctx, key); ok {
		return v, true
	}
	return l.Store.GetSetting(ctx, key)
}

func (l *Layered) DeleteSetting(ctx context.Context, key string) error {
	if err := l.cache.DeleteSetting(ctx, key); err != nil {
		log.Printf("⚠️ Redis: delete setting %s failed: %v", key, err)
	}
	return l.Store.DeleteSetting(ctx, key)
}
