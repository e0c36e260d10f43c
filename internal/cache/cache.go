package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/store"
)

type ItemCache interface {
	Get(ctx context.Context, code string) (*domain.Item, bool, error)
	Set(ctx context.Context, item domain.Item, ttl time.Duration) error
}

type NoopItemCache struct{}

func (NoopItemCache) Get(_ context.Context, _ string) (*domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopItemCache) Set(_ context.Context, _ domain.Item, _ time.Duration) error {
	return nil
}

// CachedItems reads items through cache. Cache failures fall back to the
// underlying store.
type CachedItems struct {
	items  store.ItemStore
	cache  ItemCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedItems(items store.ItemStore, cache ItemCache, ttl time.Duration, logger *zap.Logger) *CachedItems {
	if cache == nil {
		cache = NoopItemCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedItems{items: items, cache: cache, ttl: ttl, logger: logger.Named("item-cache")}
}

func (c *CachedItems) GetItem(ctx context.Context, code string) (*domain.Item, error) {
	item, ok, err := c.cache.Get(ctx, code)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("code", code), zap.Error(err))
	} else if ok {
		return item, nil
	}

	item, err = c.items.GetItem(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, *item, c.ttl); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("cache write failed", zap.String("code", code), zap.Error(err))
	}
	return item, nil
}
