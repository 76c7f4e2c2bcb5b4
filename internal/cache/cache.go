package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockCache caches current-stock reads for the public read surface. The
// ledger never uses it for reconciliation math: the batch store stays
// canonical and every commit invalidates the touched pairs.
type StockCache interface {
	Get(ctx context.Context, productID string, siteID string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, productID string, siteID string, qty decimal.Decimal, ttl time.Duration) error
	Invalidate(ctx context.Context, productID string, siteID string) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ string, _ string) error {
	return nil
}
