package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
	"medistock/backend/internal/xid"
)

type PurchaseInput struct {
	ProductID     string           `json:"product_id"`
	SiteID        string           `json:"site_id"`
	Quantity      decimal.Decimal  `json:"quantity"`
	PurchasePrice decimal.Decimal  `json:"purchase_price"`
	SupplierName  string           `json:"supplier_name,omitempty"`
	BatchNumber   string           `json:"batch_number,omitempty"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
	// PurchaseDate defaults to the operation time when omitted. Backdating
	// is allowed so migrated stock keeps its FIFO position.
	PurchaseDate *time.Time `json:"purchase_date,omitempty"`
	UserID       string     `json:"-"`
}

type PurchaseResult struct {
	Batch        domain.PurchaseBatch `json:"batch"`
	Movement     domain.StockMovement `json:"movement"`
	SellingPrice decimal.Decimal      `json:"selling_price"`
	Warnings     []Warning            `json:"warnings,omitempty"`
}

// Purchase registers a new cost batch and its positive movement. The batch
// enters FIFO at its purchase date with remaining quantity equal to initial
// quantity.
func (s *Service) Purchase(ctx context.Context, in PurchaseInput) (*PurchaseResult, error) {
	if in.ProductID == "" {
		return nil, validationErr("product_id", "required")
	}
	if in.SiteID == "" {
		return nil, validationErr("site_id", "required")
	}
	if !in.Quantity.GreaterThan(decimal.Zero) {
		return nil, validationErr("quantity", "must be positive")
	}
	if in.PurchasePrice.IsNegative() {
		return nil, validationErr("purchase_price", "must not be negative")
	}

	product, err := s.repo.GetProduct(ctx, in.ProductID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("product", in.ProductID)
		}
		return nil, err
	}
	if _, err := s.repo.GetSite(ctx, in.SiteID); err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("site", in.SiteID)
		}
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, []string{stockLockKey(in.ProductID, in.SiteID)})
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	purchaseDate := now
	if in.PurchaseDate != nil {
		purchaseDate = *in.PurchaseDate
	}

	batch := domain.PurchaseBatch{
		ID:                xid.New("batch"),
		ProductID:         in.ProductID,
		SiteID:            in.SiteID,
		BatchNumber:       in.BatchNumber,
		PurchaseDate:      purchaseDate,
		InitialQuantity:   in.Quantity,
		RemainingQuantity: in.Quantity,
		PurchasePrice:     in.PurchasePrice,
		SupplierName:      in.SupplierName,
		ExpiryDate:        in.ExpiryDate,
		CreatedAt:         now,
		UpdatedAt:         now,
		CreatedBy:         in.UserID,
		UpdatedBy:         in.UserID,
	}

	movement := domain.StockMovement{
		ID:          xid.New("mov"),
		ProductID:   in.ProductID,
		SiteID:      in.SiteID,
		Type:        domain.MovementPurchase,
		Quantity:    in.Quantity,
		ReferenceID: batch.ID,
		Notes:       fmt.Sprintf("Purchase of %s %s from %s", in.Quantity, product.Unit, supplierLabel(in.SupplierName)),
		CreatedAt:   now,
		CreatedBy:   in.UserID,
	}

	set := store.PurchaseSet{
		Batch:    batch,
		Movement: movement,
		Audit:    s.auditEntry(xid.New("audit"), "purchase_batches", batch.ID, batch, in.UserID, now),
	}
	if err := s.repo.ApplyPurchase(ctx, set); err != nil {
		return nil, err
	}
	s.invalidateStock(ctx, in.ProductID, in.SiteID)

	result := &PurchaseResult{
		Batch:        batch,
		Movement:     movement,
		SellingPrice: SellingPrice(in.PurchasePrice, product.MarginType, product.MarginValue),
	}
	if in.ExpiryDate != nil {
		until := in.ExpiryDate.Sub(now)
		if until <= expiryLookahead {
			result.Warnings = append(result.Warnings, ExpiringProduct{
				ProductID:       product.ID,
				ProductName:     product.Name,
				BatchID:         batch.ID,
				ExpiryDate:      *in.ExpiryDate,
				DaysUntilExpiry: int(until.Hours() / 24),
			})
		}
	}
	return result, nil
}

func supplierLabel(name string) string {
	if name == "" {
		return "unknown supplier"
	}
	return name
}
