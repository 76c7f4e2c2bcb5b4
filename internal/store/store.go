package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// BatchUpdate is a pending quantity change for one batch, applied as part of
// a compound write. RemainingQuantity is the new absolute value, never a delta.
type BatchUpdate struct {
	BatchID           string
	RemainingQuantity decimal.Decimal
	IsExhausted       bool
	UpdatedAt         time.Time
	UpdatedBy         string
}

// PurchaseSet is the atomic write set of a purchase: one new batch, one
// movement, one audit entry.
type PurchaseSet struct {
	Batch    domain.PurchaseBatch
	Movement domain.StockMovement
	Audit    domain.AuditEntry
}

// SaleSet is the atomic write set of a sale: the sale header, its items with
// their batch allocations, the consumed batches' updates, one movement per
// item and one audit entry.
type SaleSet struct {
	Sale         domain.Sale
	Items        []domain.SaleItem
	BatchUpdates []BatchUpdate
	Movements    []domain.StockMovement
	Audit        domain.AuditEntry
}

// TransferSet is the atomic write set of a transfer: the transfer record,
// source batch updates, destination batches, both movements, one audit entry.
type TransferSet struct {
	Transfer     domain.Transfer
	NewBatches   []domain.PurchaseBatch
	BatchUpdates []BatchUpdate
	Movements    []domain.StockMovement
	Audit        domain.AuditEntry
}

// InventorySet is the atomic write set of an inventory session: the session
// record with its counts, surplus batches, shortage batch updates, one
// movement per nonzero discrepancy and one audit entry.
type InventorySet struct {
	Session      domain.Inventory
	Counts       []domain.InventoryCount
	NewBatches   []domain.PurchaseBatch
	BatchUpdates []BatchUpdate
	Movements    []domain.StockMovement
	Audit        domain.AuditEntry
}

// Repository is the persistence surface the ledger runs on. Apply* methods
// must commit their whole write set in one transaction or not at all.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	CreateSite(ctx context.Context, site domain.Site) (*domain.Site, error)
	GetSite(ctx context.Context, id string) (*domain.Site, error)
	ListSites(ctx context.Context) ([]domain.Site, error)

	// ListOpenBatches returns the non-exhausted batches for a product/site
	// ordered ascending by purchase date, insertion order breaking ties.
	ListOpenBatches(ctx context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error)
	ListBatches(ctx context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error)
	GetBatch(ctx context.Context, id string) (*domain.PurchaseBatch, error)

	// CurrentStock is the sum of remaining quantity over non-exhausted
	// batches. It is the canonical theoretical quantity for reconciliation.
	CurrentStock(ctx context.Context, productID string, siteID string) (decimal.Decimal, error)

	ListMovements(ctx context.Context, productID string, siteID string, limit int) ([]domain.StockMovement, error)

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	GetInventory(ctx context.Context, id string) (*domain.Inventory, error)
	ListInventoryCounts(ctx context.Context, inventoryID string) ([]domain.InventoryCount, error)

	InsertAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAuditByTable(ctx context.Context, tableName string, limit int) ([]domain.AuditEntry, error)

	ApplyPurchase(ctx context.Context, set PurchaseSet) error
	ApplySale(ctx context.Context, set SaleSet) error
	ApplyTransfer(ctx context.Context, set TransferSet) error
	ApplyInventory(ctx context.Context, set InventorySet) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
