package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
	"medistock/backend/internal/xid"
)

type TransferInput struct {
	ProductID  string          `json:"product_id"`
	FromSiteID string          `json:"from_site_id"`
	ToSiteID   string          `json:"to_site_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Notes      string          `json:"notes,omitempty"`
	UserID     string          `json:"-"`
}

type TransferResult struct {
	Transfer    domain.Transfer        `json:"transfer"`
	Batches     []domain.PurchaseBatch `json:"batches"`
	OutMovement domain.StockMovement   `json:"out_movement"`
	InMovement  domain.StockMovement   `json:"in_movement"`
	AverageCost decimal.Decimal        `json:"average_cost"`
	Warnings    []Warning              `json:"warnings,omitempty"`
}

// Transfer drains stock FIFO at the source and recreates each consumed
// allocation as a destination batch with the source batch's purchase date and
// price intact, so FIFO order and cost basis survive the move.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if in.ProductID == "" {
		return nil, validationErr("product_id", "required")
	}
	if in.FromSiteID == "" {
		return nil, validationErr("from_site_id", "required")
	}
	if in.ToSiteID == "" {
		return nil, validationErr("to_site_id", "required")
	}
	if !in.Quantity.GreaterThan(decimal.Zero) {
		return nil, validationErr("quantity", "must be positive")
	}
	if in.FromSiteID == in.ToSiteID {
		return nil, &SameSiteError{SiteID: in.FromSiteID}
	}

	product, err := s.repo.GetProduct(ctx, in.ProductID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("product", in.ProductID)
		}
		return nil, err
	}
	fromSite, err := s.repo.GetSite(ctx, in.FromSiteID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("site", in.FromSiteID)
		}
		return nil, err
	}
	toSite, err := s.repo.GetSite(ctx, in.ToSiteID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundErr("site", in.ToSiteID)
		}
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, []string{
		stockLockKey(in.ProductID, in.FromSiteID),
		stockLockKey(in.ProductID, in.ToSiteID),
	})
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	plan, err := s.allocateFIFO(ctx, in.ProductID, in.FromSiteID, in.Quantity, "", in.UserID, now, nil)
	if err != nil {
		return nil, err
	}

	transfer := domain.Transfer{
		ID:         xid.New("transfer"),
		ProductID:  in.ProductID,
		FromSiteID: in.FromSiteID,
		ToSiteID:   in.ToSiteID,
		Quantity:   in.Quantity,
		Status:     "completed",
		Notes:      in.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  in.UserID,
		UpdatedBy:  in.UserID,
	}

	set := store.TransferSet{
		Transfer:     transfer,
		BatchUpdates: plan.BatchUpdates,
	}
	for _, alloc := range plan.Allocations {
		set.NewBatches = append(set.NewBatches, domain.PurchaseBatch{
			ID:                xid.New("batch"),
			ProductID:         in.ProductID,
			SiteID:            in.ToSiteID,
			BatchNumber:       transferBatchNumber(alloc.BatchNumber),
			PurchaseDate:      alloc.PurchaseDate,
			InitialQuantity:   alloc.Quantity,
			RemainingQuantity: alloc.Quantity,
			PurchasePrice:     alloc.PurchasePrice,
			SupplierName:      fmt.Sprintf("Transfer from %s", fromSite.Name),
			ExpiryDate:        alloc.ExpiryDate,
			CreatedAt:         now,
			UpdatedAt:         now,
			CreatedBy:         in.UserID,
			UpdatedBy:         in.UserID,
		})
	}

	outMovement := domain.StockMovement{
		ID:          xid.New("mov"),
		ProductID:   in.ProductID,
		SiteID:      in.FromSiteID,
		Type:        domain.MovementTransferOut,
		Quantity:    in.Quantity.Neg(),
		ReferenceID: transfer.ID,
		Notes:       fmt.Sprintf("Transfer to %s", toSite.Name),
		CreatedAt:   now,
		CreatedBy:   in.UserID,
	}
	inMovement := domain.StockMovement{
		ID:          xid.New("mov"),
		ProductID:   in.ProductID,
		SiteID:      in.ToSiteID,
		Type:        domain.MovementTransferIn,
		Quantity:    in.Quantity,
		ReferenceID: transfer.ID,
		Notes:       fmt.Sprintf("Transfer from %s", fromSite.Name),
		CreatedAt:   now,
		CreatedBy:   in.UserID,
	}
	set.Movements = []domain.StockMovement{outMovement, inMovement}
	set.Audit = s.auditEntry(xid.New("audit"), "transfers", transfer.ID, transfer, in.UserID, now)

	if err := s.repo.ApplyTransfer(ctx, set); err != nil {
		return nil, err
	}
	s.invalidateStock(ctx, in.ProductID, in.FromSiteID, in.ToSiteID)

	result := &TransferResult{
		Transfer:    transfer,
		Batches:     set.NewBatches,
		OutMovement: outMovement,
		InMovement:  inMovement,
		AverageCost: decimal.Zero,
	}
	if plan.Allocated.GreaterThan(decimal.Zero) {
		result.AverageCost = plan.Cost.Div(plan.Allocated)
	}
	if plan.Short {
		result.Warnings = append(result.Warnings, InsufficientStock{
			ProductID:   in.ProductID,
			ProductName: product.Name,
			SiteID:      in.FromSiteID,
			Requested:   in.Quantity,
			Available:   plan.Available,
		})
	}
	return result, nil
}

func transferBatchNumber(source string) string {
	if source == "" {
		return "TRANSFER"
	}
	return source + "-TRANSFER"
}
