package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix      = "pricing:"
	merchandiseCacheKey = cacheKeyPrefix + "merchandise"
)

// CachedSource keeps event-type prices and merchandise in Redis for a bounded TTL.
// Promo codes are never cached because their usage counters move with every booking.
// A cache failure degrades to a direct read, it never fails a quote.
type CachedSource struct {
	next   Source
	client redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger *logger.Logger
}

func NewCachedSource(next Source, client redis.Cmdable, ttl time.Duration, log *logger.Logger) *CachedSource {
	return &CachedSource{next: next, client: client, ttl: ttl, logger: log}
}

func eventTypeKey(eventType string) string {
	return cacheKeyPrefix + "event_type:" + eventType
}

func (c *CachedSource) EventTypePrices(ctx context.Context, eventType string) (map[string]decimal.Decimal, error) {
	key := eventTypeKey(eventType)
	var cached map[string]decimal.Decimal
	if c.get(ctx, key, &cached) {
		return cached, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		prices, err := c.next.EventTypePrices(ctx, eventType)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, prices)
		return prices, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]decimal.Decimal), nil
}

func (c *CachedSource) MerchandiseItems(ctx context.Context) ([]models.MerchandiseItem, error) {
	var cached []models.MerchandiseItem
	if c.get(ctx, merchandiseCacheKey, &cached) {
		return cached, nil
	}

	v, err, _ := c.group.Do(merchandiseCacheKey, func() (interface{}, error) {
		items, err := c.next.MerchandiseItems(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, merchandiseCacheKey, items)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.MerchandiseItem), nil
}

func (c *CachedSource) PromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	return c.next.PromoCode(ctx, code)
}

func (c *CachedSource) RedeemPromo(ctx context.Context, code string) error {
	return c.next.RedeemPromo(ctx, code)
}

// Invalidate drops the cached price table of one event type. An empty eventType drops everything.
func (c *CachedSource) Invalidate(ctx context.Context, eventType string) error {
	if eventType != "" {
		return c.client.Del(ctx, eventTypeKey(eventType)).Err()
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, cacheKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan pricing cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("drop pricing cache: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *CachedSource) get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("REDIS", fmt.Sprintf("pricing cache read %s: %v", key, err))
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("REDIS", fmt.Sprintf("pricing cache decode %s: %v", key, err))
		return false
	}
	return true
}

func (c *CachedSource) set(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("REDIS", fmt.Sprintf("pricing cache write %s: %v", key, err))
	}
}
