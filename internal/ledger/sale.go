package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
	"medistock/backend/internal/xid"
)

type SaleItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Level selects the packaging level the quantity is expressed in.
	// Zero means level 1 (base unit).
	Level int `json:"level,omitempty"`
	// ConversionFactor overrides the product's default pack size for a
	// level-2 item.
	ConversionFactor *decimal.Decimal `json:"conversion_factor,omitempty"`
	// BatchID names a preferred batch to consume before the FIFO tail.
	BatchID string `json:"batch_id,omitempty"`
}

type SaleInput struct {
	SiteID       string          `json:"site_id"`
	CustomerName string          `json:"customer_name"`
	Items        []SaleItemInput `json:"items"`
	UserID       string          `json:"-"`
}

type SaleResult struct {
	Sale         domain.Sale            `json:"sale"`
	Items        []domain.SaleItem      `json:"items"`
	Movements    []domain.StockMovement `json:"movements"`
	TotalCost    decimal.Decimal        `json:"total_cost"`
	TotalRevenue decimal.Decimal        `json:"total_revenue"`
	GrossProfit  decimal.Decimal        `json:"gross_profit"`
	Warnings     []Warning              `json:"warnings,omitempty"`
}

// Sale consumes stock FIFO per line item and records the sale with full cost
// traceability. Shortages never block: batches drain to zero and the unmet
// remainder is reported as an InsufficientStock warning while stock goes
// implicitly negative.
func (s *Service) Sale(ctx context.Context, in SaleInput) (*SaleResult, error) {
	if in.SiteID == "" {
		return nil, validationErr("site_id", "required")
	}
	if in.CustomerName == "" {
		return nil, validationErr("customer_name", "required")
	}
	if len(in.Items) == 0 {
		return nil, validationErr("items", "at least one item required")
	}

	if _, err := s.repo.GetSite(ctx, in.SiteID); err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("site", in.SiteID)
		}
		return nil, err
	}

	type line struct {
		input   SaleItemInput
		product *domain.Product
		base    decimal.Decimal
		packed  bool
	}

	lines := make([]line, 0, len(in.Items))
	lockKeys := make([]string, 0, len(in.Items))
	for i, item := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if item.ProductID == "" {
			return nil, validationErr(field+".product_id", "required")
		}
		if !item.Quantity.GreaterThan(decimal.Zero) {
			return nil, validationErr(field+".quantity", "must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return nil, validationErr(field+".unit_price", "must not be negative")
		}

		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, notFoundErr("product", item.ProductID)
			}
			return nil, err
		}

		base := item.Quantity
		packed := false
		switch item.Level {
		case 0, domain.PackagingLevelUnit:
		case domain.PackagingLevelPack:
			factor := product.PackSize
			if item.ConversionFactor != nil {
				factor = item.ConversionFactor
			}
			if factor == nil || !factor.GreaterThan(decimal.Zero) {
				return nil, validationErr(field+".conversion_factor", "required for pack-level items")
			}
			// A pack-level quantity may not exceed one base unit's worth
			// of packs.
			if item.Quantity.GreaterThan(*factor) {
				return nil, validationErr(field+".quantity", "exceeds pack conversion factor")
			}
			base = item.Quantity.Mul(*factor)
			packed = true
		default:
			return nil, validationErr(field+".level", "unknown packaging level")
		}

		lines = append(lines, line{input: item, product: product, base: base, packed: packed})
		lockKeys = append(lockKeys, stockLockKey(item.ProductID, in.SiteID))
	}

	release, err := s.locks.Acquire(ctx, lockKeys)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	sale := domain.Sale{
		ID:           xid.New("sale"),
		SiteID:       in.SiteID,
		CustomerName: in.CustomerName,
		CreatedAt:    now,
		CreatedBy:    in.UserID,
	}

	result := &SaleResult{
		Sale:         sale,
		TotalCost:    decimal.Zero,
		TotalRevenue: decimal.Zero,
	}
	set := store.SaleSet{Sale: sale}

	// Shared across items so repeated products drain batches once, not twice.
	consumed := make(map[string]decimal.Decimal)
	for _, ln := range lines {
		plan, err := s.allocateFIFO(ctx, ln.input.ProductID, in.SiteID, ln.base, ln.input.BatchID, in.UserID, now, consumed)
		if err != nil {
			return nil, err
		}

		item := domain.SaleItem{
			ID:          xid.New("saleitem"),
			SaleID:      sale.ID,
			ProductID:   ln.input.ProductID,
			ProductName: ln.product.Name,
			Unit:        ln.product.Unit,
			Quantity:    ln.input.Quantity,
			UnitPrice:   ln.input.UnitPrice,
			TotalPrice:  ln.input.Quantity.Mul(ln.input.UnitPrice),
		}
		if ln.packed {
			base := ln.base
			item.BaseQuantity = &base
			if ln.product.PackUnit != "" {
				item.Unit = ln.product.PackUnit
			}
		}
		for _, alloc := range plan.Allocations {
			item.Allocations = append(item.Allocations, domain.BatchAllocation{
				ID:            xid.New("alloc"),
				SaleItemID:    item.ID,
				BatchID:       alloc.BatchID,
				Quantity:      alloc.Quantity,
				PurchasePrice: alloc.PurchasePrice,
				CreatedAt:     now,
				CreatedBy:     in.UserID,
			})
		}

		set.Items = append(set.Items, item)
		set.BatchUpdates = append(set.BatchUpdates, plan.BatchUpdates...)
		set.Movements = append(set.Movements, domain.StockMovement{
			ID:          xid.New("mov"),
			ProductID:   ln.input.ProductID,
			SiteID:      in.SiteID,
			Type:        domain.MovementSale,
			Quantity:    ln.base.Neg(),
			ReferenceID: sale.ID,
			Notes:       fmt.Sprintf("Sale to %s", in.CustomerName),
			CreatedAt:   now,
			CreatedBy:   in.UserID,
		})

		result.TotalCost = result.TotalCost.Add(plan.Cost)
		result.TotalRevenue = result.TotalRevenue.Add(item.TotalPrice)

		if plan.Short {
			result.Warnings = append(result.Warnings, InsufficientStock{
				ProductID:   ln.input.ProductID,
				ProductName: ln.product.Name,
				SiteID:      in.SiteID,
				Requested:   ln.base,
				Available:   plan.Available,
			})
		}
		if ln.product.MinStock != nil {
			after := plan.Available.Sub(plan.Allocated)
			if after.LessThan(*ln.product.MinStock) {
				result.Warnings = append(result.Warnings, LowStock{
					ProductID:    ln.input.ProductID,
					ProductName:  ln.product.Name,
					SiteID:       in.SiteID,
					CurrentStock: after,
					MinStock:     *ln.product.MinStock,
				})
			}
		}
	}

	result.GrossProfit = result.TotalRevenue.Sub(result.TotalCost)
	set.Sale.TotalAmount = result.TotalRevenue
	result.Sale.TotalAmount = result.TotalRevenue
	result.Items = set.Items
	result.Movements = set.Movements

	set.Audit = s.auditEntry(xid.New("audit"), "sales", sale.ID, set.Sale, in.UserID, now)
	if err := s.repo.ApplySale(ctx, set); err != nil {
		return nil, err
	}
	for _, ln := range lines {
		s.invalidateStock(ctx, ln.input.ProductID, in.SiteID)
	}
	return result, nil
}
