package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
	"medistock/backend/internal/xid"
)

type InventoryCountInput struct {
	ProductID       string          `json:"product_id"`
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
	Reason          string          `json:"reason,omitempty"`
}

type InventoryInput struct {
	SiteID string                `json:"site_id"`
	Notes  string                `json:"notes,omitempty"`
	Counts []InventoryCountInput `json:"counts"`
	UserID string                `json:"-"`
}

type InventoryResult struct {
	Session             domain.Inventory        `json:"session"`
	Counts              []domain.InventoryCount `json:"counts"`
	TotalDiscrepancies  int                     `json:"total_discrepancies"`
	PositiveAdjustments int                     `json:"positive_adjustments"`
	NegativeAdjustments int                     `json:"negative_adjustments"`
	Warnings            []Warning               `json:"warnings,omitempty"`
}

// Inventory reconciles counted stock against the theoretical quantity, the
// sum of remaining quantity over live batches. Surplus creates an adjustment
// batch at zero cost; shortage drains existing batches FIFO. Every nonzero
// discrepancy gets one INVENTORY movement.
func (s *Service) Inventory(ctx context.Context, in InventoryInput) (*InventoryResult, error) {
	if in.SiteID == "" {
		return nil, validationErr("site_id", "required")
	}
	if len(in.Counts) == 0 {
		return nil, validationErr("counts", "at least one count required")
	}

	if _, err := s.repo.GetSite(ctx, in.SiteID); err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("site", in.SiteID)
		}
		return nil, err
	}

	products := make([]*domain.Product, 0, len(in.Counts))
	lockKeys := make([]string, 0, len(in.Counts))
	for i, count := range in.Counts {
		field := fmt.Sprintf("counts[%d]", i)
		if count.ProductID == "" {
			return nil, validationErr(field+".product_id", "required")
		}
		if count.CountedQuantity.IsNegative() {
			return nil, validationErr(field+".counted_quantity", "must not be negative")
		}
		product, err := s.repo.GetProduct(ctx, count.ProductID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, notFoundErr("product", count.ProductID)
			}
			return nil, err
		}
		products = append(products, product)
		lockKeys = append(lockKeys, stockLockKey(count.ProductID, in.SiteID))
	}

	release, err := s.locks.Acquire(ctx, lockKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	completedAt := now
	session := domain.Inventory{
		ID:          xid.New("inv"),
		SiteID:      in.SiteID,
		Status:      domain.InventoryStatusCompleted,
		Notes:       in.Notes,
		StartedAt:   now,
		CompletedAt: &completedAt,
		CreatedBy:   in.UserID,
	}

	result := &InventoryResult{Session: session}
	set := store.InventorySet{Session: session}

	consumed := make(map[string]decimal.Decimal)
	for i, count := range in.Counts {
		product := products[i]

		theoretical, err := s.repo.CurrentStock(ctx, count.ProductID, in.SiteID)
		if err != nil {
			return nil, err
		}
		discrepancy := count.CountedQuantity.Sub(theoretical)

		record := domain.InventoryCount{
			ID:                  xid.New("invcount"),
			InventoryID:         session.ID,
			ProductID:           count.ProductID,
			TheoreticalQuantity: theoretical,
			CountedQuantity:     count.CountedQuantity,
			Discrepancy:         discrepancy,
			Reason:              count.Reason,
			CreatedAt:           now,
		}
		set.Counts = append(set.Counts, record)

		switch {
		case discrepancy.GreaterThan(decimal.Zero):
			result.TotalDiscrepancies++
			result.PositiveAdjustments++

			surplus := domain.PurchaseBatch{
				ID:                xid.New("batch"),
				ProductID:         count.ProductID,
				SiteID:            in.SiteID,
				BatchNumber:       surplusBatchNumber(session.ID),
				PurchaseDate:      now,
				InitialQuantity:   discrepancy,
				RemainingQuantity: discrepancy,
				PurchasePrice:     decimal.Zero,
				SupplierName:      "Inventory adjustment",
				CreatedAt:         now,
				UpdatedAt:         now,
				CreatedBy:         in.UserID,
				UpdatedBy:         in.UserID,
			}
			set.NewBatches = append(set.NewBatches, surplus)
			set.Movements = append(set.Movements, domain.StockMovement{
				ID:          xid.New("mov"),
				ProductID:   count.ProductID,
				SiteID:      in.SiteID,
				Type:        domain.MovementInventory,
				Quantity:    discrepancy,
				ReferenceID: session.ID,
				Notes:       inventoryNote(count.Reason, "surplus"),
				CreatedAt:   now,
				CreatedBy:   in.UserID,
			})

		case discrepancy.IsNegative():
			result.TotalDiscrepancies++
			result.NegativeAdjustments++

			shortage := discrepancy.Abs()
			plan, err := s.allocateFIFO(ctx, count.ProductID, in.SiteID, shortage, "", in.UserID, now, consumed)
			if err != nil {
				return nil, err
			}
			set.BatchUpdates = append(set.BatchUpdates, plan.BatchUpdates...)
			set.Movements = append(set.Movements, domain.StockMovement{
				ID:          xid.New("mov"),
				ProductID:   count.ProductID,
				SiteID:      in.SiteID,
				Type:        domain.MovementInventory,
				Quantity:    shortage.Neg(),
				ReferenceID: session.ID,
				Notes:       inventoryNote(count.Reason, "shortage"),
				CreatedAt:   now,
				CreatedBy:   in.UserID,
			})
			if plan.Short {
				result.Warnings = append(result.Warnings, InsufficientStock{
					ProductID:   count.ProductID,
					ProductName: product.Name,
					SiteID:      in.SiteID,
					Requested:   shortage,
					Available:   plan.Available,
				})
			}
		}

		if product.MinStock != nil && count.CountedQuantity.LessThan(*product.MinStock) {
			result.Warnings = append(result.Warnings, LowStock{
				ProductID:    count.ProductID,
				ProductName:  product.Name,
				SiteID:       in.SiteID,
				CurrentStock: count.CountedQuantity,
				MinStock:     *product.MinStock,
			})
		}
	}

	result.Counts = set.Counts
	set.Audit = s.auditEntry(xid.New("audit"), "inventories", session.ID, session, in.UserID, now)

	if err := s.repo.ApplyInventory(ctx, set); err != nil {
		return nil, err
	}
	for _, count := range in.Counts {
		s.invalidateStock(ctx, count.ProductID, in.SiteID)
	}
	return result, nil
}

// surplusBatchNumber tags adjustment batches with the tail of the session id
// so they trace back to the count that created them.
func surplusBatchNumber(sessionID string) string {
	suffix := sessionID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "INV-" + suffix
}

func inventoryNote(reason string, kind string) string {
	if reason != "" {
		return fmt.Sprintf("Inventory %s: %s", kind, reason)
	}
	return "Inventory " + kind
}
