package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
)

// Allocation is one batch's contribution to a consuming operation.
type Allocation struct {
	BatchID       string
	BatchNumber   string
	Quantity      decimal.Decimal
	PurchasePrice decimal.Decimal
	PurchaseDate  time.Time
	SupplierName  string
	ExpiryDate    *time.Time
}

// allocationPlan is the computed, not-yet-committed outcome of draining
// stock for one (product, site) pair. BatchUpdates carry absolute new
// remaining quantities so the commit can apply them verbatim.
type allocationPlan struct {
	Allocations  []Allocation
	BatchUpdates []store.BatchUpdate
	Allocated    decimal.Decimal
	Available    decimal.Decimal
	Cost         decimal.Decimal
	Short        bool
	Shortage     decimal.Decimal
}

// allocateFIFO drains open batches oldest-first (purchase date, then
// insertion order) until the requested quantity is covered. When a
// preferred batch is named it is drained first, the FIFO tail covers the
// rest. Batches are reduced to exactly zero, never negative; if total
// available falls short the plan is flagged and the caller records the
// shortage as a warning, not a failure.
//
// consumed carries quantities already claimed by earlier allocations in the
// same uncommitted write set, keyed by batch id. Pass nil for a standalone
// allocation; pass a shared map when one operation allocates repeatedly so
// later calls see the batches as already drained.
func (s *Service) allocateFIFO(ctx context.Context, productID string, siteID string, requested decimal.Decimal, preferredBatchID string, userID string, at time.Time, consumed map[string]decimal.Decimal) (*allocationPlan, error) {
	batches, err := s.repo.ListOpenBatches(ctx, productID, siteID)
	if err != nil {
		return nil, err
	}

	if preferredBatchID != "" {
		ordered := make([]domain.PurchaseBatch, 0, len(batches))
		for _, b := range batches {
			if b.ID == preferredBatchID {
				ordered = append(ordered, b)
			}
		}
		for _, b := range batches {
			if b.ID != preferredBatchID {
				ordered = append(ordered, b)
			}
		}
		batches = ordered
	}

	plan := &allocationPlan{
		Allocated: decimal.Zero,
		Available: decimal.Zero,
		Cost:      decimal.Zero,
		Shortage:  decimal.Zero,
	}
	remaining := requested

	for _, b := range batches {
		available := b.RemainingQuantity
		if consumed != nil {
			available = available.Sub(consumed[b.ID])
		}
		if !available.GreaterThan(decimal.Zero) {
			continue
		}
		plan.Available = plan.Available.Add(available)
		if remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}

		take := available
		if take.GreaterThan(remaining) {
			take = remaining
		}
		newRemaining := available.Sub(take)

		plan.Allocations = append(plan.Allocations, Allocation{
			BatchID:       b.ID,
			BatchNumber:   b.BatchNumber,
			Quantity:      take,
			PurchasePrice: b.PurchasePrice,
			PurchaseDate:  b.PurchaseDate,
			SupplierName:  b.SupplierName,
			ExpiryDate:    b.ExpiryDate,
		})
		plan.BatchUpdates = append(plan.BatchUpdates, store.BatchUpdate{
			BatchID:           b.ID,
			RemainingQuantity: newRemaining,
			IsExhausted:       newRemaining.LessThanOrEqual(decimal.Zero),
			UpdatedAt:         at,
			UpdatedBy:         userID,
		})

		plan.Allocated = plan.Allocated.Add(take)
		plan.Cost = plan.Cost.Add(take.Mul(b.PurchasePrice))
		remaining = remaining.Sub(take)
		if consumed != nil {
			consumed[b.ID] = consumed[b.ID].Add(take)
		}
	}

	if remaining.GreaterThan(decimal.Zero) {
		plan.Short = true
		plan.Shortage = remaining
	}
	return plan, nil
}
