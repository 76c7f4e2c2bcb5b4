package ledger

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/cache"
	"medistock/backend/internal/domain"
	"medistock/backend/internal/lock"
	"medistock/backend/internal/store"
)

// expiryLookahead is the window within which a freshly purchased batch
// triggers an ExpiringProduct warning.
const expiryLookahead = 30 * 24 * time.Hour

const stockCacheTTL = 5 * time.Minute

// Service is the transactional inventory ledger. Every compound operation
// (purchase, sale, transfer, inventory) validates its input, resolves the
// referenced entities, runs FIFO allocation where stock is consumed and
// commits batch mutations, movements and one audit entry as a single
// atomic write set.
type Service struct {
	repo  store.Repository
	stock cache.StockCache
	locks lock.Locker
	now   func() time.Time
}

func New(repo store.Repository, stock cache.StockCache, locks lock.Locker) *Service {
	if stock == nil {
		stock = cache.NoopStockCache{}
	}
	if locks == nil {
		locks = lock.NewKeyedMutex()
	}
	return &Service{
		repo:  repo,
		stock: stock,
		locks: locks,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func stockLockKey(productID string, siteID string) string {
	return productID + ":" + siteID
}

// CurrentStock returns the canonical stock level: the sum of remaining
// quantity over non-exhausted batches. Reads go through the stock cache;
// ledger writes invalidate it.
func (s *Service) CurrentStock(ctx context.Context, productID string, siteID string) (decimal.Decimal, error) {
	if qty, ok, err := s.stock.Get(ctx, productID, siteID); err == nil && ok {
		return qty, nil
	} else if err != nil {
		log.Printf("[ledger] WARN: stock cache read failed for %s/%s: %v", productID, siteID, err)
	}

	qty, err := s.repo.CurrentStock(ctx, productID, siteID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.stock.Set(ctx, productID, siteID, qty, stockCacheTTL); err != nil {
		log.Printf("[ledger] WARN: stock cache write failed for %s/%s: %v", productID, siteID, err)
	}
	return qty, nil
}

func (s *Service) invalidateStock(ctx context.Context, productID string, siteIDs ...string) {
	for _, siteID := range siteIDs {
		if err := s.stock.Invalidate(ctx, productID, siteID); err != nil {
			log.Printf("[ledger] WARN: stock cache invalidation failed for %s/%s: %v", productID, siteID, err)
		}
	}
}

func (s *Service) Batches(ctx context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error) {
	return s.repo.ListBatches(ctx, productID, siteID)
}

func (s *Service) Movements(ctx context.Context, productID string, siteID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, productID, siteID, limit)
}

func (s *Service) AuditTrail(ctx context.Context, tableName string, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditByTable(ctx, tableName, limit)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListSites(ctx context.Context) ([]domain.Site, error) {
	return s.repo.ListSites(ctx)
}

// auditEntry builds a CREATE audit row with the record serialized as the
// new-value snapshot. Serialization failures degrade to an empty snapshot
// rather than blocking the operation.
func (s *Service) auditEntry(id string, tableName string, recordID string, record any, userID string, at time.Time) domain.AuditEntry {
	snapshot := ""
	if payload, err := json.Marshal(record); err == nil {
		snapshot = string(payload)
	} else {
		log.Printf("[ledger] WARN: audit snapshot for %s/%s failed: %v", tableName, recordID, err)
	}

	return domain.AuditEntry{
		ID:        id,
		TableName: tableName,
		RecordID:  recordID,
		Action:    domain.AuditActionCreate,
		NewValues: snapshot,
		UserID:    userID,
		CreatedAt: at,
	}
}
