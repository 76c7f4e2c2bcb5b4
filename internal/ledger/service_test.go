package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store/memory"
)

func dec(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestLedger(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, nil, nil)
	svc.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}

	ctx := context.Background()
	for _, site := range []domain.Site{
		{ID: "site-a", Name: "Pharmacy A"},
		{ID: "site-b", Name: "Warehouse B"},
	} {
		if _, err := repo.CreateSite(ctx, site); err != nil {
			t.Fatalf("create site %s: %v", site.ID, err)
		}
	}

	packSize := dec("10")
	minStock := dec("20")
	products := []domain.Product{
		{ID: "prod-a", Name: "Paracetamol", Unit: "tablet", PackUnit: "box", PackSize: &packSize,
			MarginType: domain.MarginPercentage, MarginValue: dec("30")},
		{ID: "prod-b", Name: "Amoxicillin", Unit: "capsule",
			MarginType: domain.MarginFixed, MarginValue: dec("500"), MinStock: &minStock},
	}
	for _, p := range products {
		if _, err := repo.CreateProduct(ctx, p); err != nil {
			t.Fatalf("create product %s: %v", p.ID, err)
		}
	}
	return svc, repo
}

func purchaseAt(t *testing.T, svc *Service, productID, siteID, qty, price string, day int) *PurchaseResult {
	t.Helper()
	date := time.Date(2025, 5, day, 9, 0, 0, 0, time.UTC)
	result, err := svc.Purchase(context.Background(), PurchaseInput{
		ProductID:     productID,
		SiteID:        siteID,
		Quantity:      dec(qty),
		PurchasePrice: dec(price),
		SupplierName:  "PharmaSupply",
		PurchaseDate:  &date,
		UserID:        "tester",
	})
	if err != nil {
		t.Fatalf("purchase %s x%s failed: %v", productID, qty, err)
	}
	return result
}

func TestPurchaseCreatesBatchMovementAndAudit(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	result := purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)

	if !result.Batch.InitialQuantity.Equal(dec("100")) || !result.Batch.RemainingQuantity.Equal(dec("100")) {
		t.Fatalf("expected initial=remaining=100, got %s/%s", result.Batch.InitialQuantity, result.Batch.RemainingQuantity)
	}
	if result.Batch.IsExhausted {
		t.Fatalf("fresh batch must not be exhausted")
	}
	if result.Movement.Type != domain.MovementPurchase || !result.Movement.Quantity.Equal(dec("100")) {
		t.Fatalf("expected +100 PURCHASE movement, got %s %s", result.Movement.Type, result.Movement.Quantity)
	}
	// 30% margin on 10.
	if !result.SellingPrice.Equal(dec("13")) {
		t.Fatalf("expected selling price 13, got %s", result.SellingPrice)
	}

	entries, err := repo.ListAuditByTable(ctx, "purchase_batches", 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.AuditActionCreate {
		t.Fatalf("expected one CREATE audit entry, got %d", len(entries))
	}
	if entries[0].RecordID != result.Batch.ID || entries[0].NewValues == "" {
		t.Fatalf("audit entry missing record id or snapshot")
	}

	stock, err := svc.CurrentStock(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !stock.Equal(dec("100")) {
		t.Fatalf("expected stock 100, got %s", stock)
	}
}

func TestPurchaseValidation(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input PurchaseInput
		field string
	}{
		{"missing product", PurchaseInput{SiteID: "site-a", Quantity: dec("1"), PurchasePrice: dec("1")}, "product_id"},
		{"missing site", PurchaseInput{ProductID: "prod-a", Quantity: dec("1"), PurchasePrice: dec("1")}, "site_id"},
		{"zero quantity", PurchaseInput{ProductID: "prod-a", SiteID: "site-a", Quantity: dec("0"), PurchasePrice: dec("1")}, "quantity"},
		{"negative price", PurchaseInput{ProductID: "prod-a", SiteID: "site-a", Quantity: dec("1"), PurchasePrice: dec("-1")}, "purchase_price"},
	}
	for _, tc := range cases {
		_, err := svc.Purchase(ctx, tc.input)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if vErr.Field != tc.field {
			t.Fatalf("%s: expected field %s, got %s", tc.name, tc.field, vErr.Field)
		}
	}

	_, err := svc.Purchase(ctx, PurchaseInput{ProductID: "prod-missing", SiteID: "site-a", Quantity: dec("1"), PurchasePrice: dec("1")})
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) || nfErr.EntityType != "product" {
		t.Fatalf("expected product not-found error, got %v", err)
	}
}

func TestPurchaseExpiringWarning(t *testing.T) {
	svc, _ := newTestLedger(t)

	expiry := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	result, err := svc.Purchase(context.Background(), PurchaseInput{
		ProductID:     "prod-a",
		SiteID:        "site-a",
		Quantity:      dec("10"),
		PurchasePrice: dec("5"),
		ExpiryDate:    &expiry,
		UserID:        "tester",
	})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(result.Warnings))
	}
	warning, ok := result.Warnings[0].(ExpiringProduct)
	if !ok {
		t.Fatalf("expected ExpiringProduct warning, got %T", result.Warnings[0])
	}
	if warning.DaysUntilExpiry > 10 || warning.DaysUntilExpiry < 9 {
		t.Fatalf("expected ~10 days until expiry, got %d", warning.DaysUntilExpiry)
	}
}

func TestSaleConsumesOldestBatchFirst(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)
	purchaseAt(t, svc, "prod-a", "site-a", "50", "12", 2)
	purchaseAt(t, svc, "prod-a", "site-a", "75", "15", 3)

	result, err := svc.Sale(ctx, SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clinic Nord",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("80"), UnitPrice: dec("20")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	batches, err := repo.ListOpenBatches(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 open batches, got %d", len(batches))
	}
	if !batches[0].RemainingQuantity.Equal(dec("20")) {
		t.Fatalf("expected oldest batch at 20 remaining, got %s", batches[0].RemainingQuantity)
	}
	if !batches[1].RemainingQuantity.Equal(dec("50")) || !batches[2].RemainingQuantity.Equal(dec("75")) {
		t.Fatalf("newer batches must be untouched, got %s and %s", batches[1].RemainingQuantity, batches[2].RemainingQuantity)
	}

	// 80 units from the oldest batch at cost 10.
	if !result.TotalCost.Equal(dec("800")) {
		t.Fatalf("expected total cost 800, got %s", result.TotalCost)
	}
	if !result.TotalRevenue.Equal(dec("1600")) {
		t.Fatalf("expected revenue 1600, got %s", result.TotalRevenue)
	}
	if !result.GrossProfit.Equal(dec("800")) {
		t.Fatalf("expected gross profit 800, got %s", result.GrossProfit)
	}
	if len(result.Items) != 1 || len(result.Items[0].Allocations) != 1 {
		t.Fatalf("expected one item with one allocation")
	}
	if !result.Movements[0].Quantity.Equal(dec("-80")) || result.Movements[0].Type != domain.MovementSale {
		t.Fatalf("expected -80 SALE movement, got %s %s", result.Movements[0].Type, result.Movements[0].Quantity)
	}
}

func TestSaleSpansMultipleBatches(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)
	purchaseAt(t, svc, "prod-a", "site-a", "50", "12", 2)

	result, err := svc.Sale(ctx, SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clinic Nord",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("120"), UnitPrice: dec("20")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	// 100@10 + 20@12.
	if !result.TotalCost.Equal(dec("1240")) {
		t.Fatalf("expected total cost 1240, got %s", result.TotalCost)
	}
	if len(result.Items[0].Allocations) != 2 {
		t.Fatalf("expected two allocations, got %d", len(result.Items[0].Allocations))
	}

	open, err := repo.ListOpenBatches(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(open) != 1 || !open[0].RemainingQuantity.Equal(dec("30")) {
		t.Fatalf("expected single open batch with 30 remaining")
	}

	exhausted, err := repo.GetBatch(ctx, result.Items[0].Allocations[0].BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !exhausted.IsExhausted || !exhausted.RemainingQuantity.IsZero() {
		t.Fatalf("consumed batch must be exhausted at zero, got %s", exhausted.RemainingQuantity)
	}
}

func TestSaleAgainstEmptyStockWarnsAndCompletes(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	result, err := svc.Sale(ctx, SaleInput{
		SiteID:       "site-a",
		CustomerName: "Walk-in",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("10"), UnitPrice: dec("15")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale should complete despite empty stock: %v", err)
	}

	var shortage *InsufficientStock
	for _, w := range result.Warnings {
		if s, ok := w.(InsufficientStock); ok {
			shortage = &s
		}
	}
	if shortage == nil {
		t.Fatalf("expected InsufficientStock warning, got %v", result.Warnings)
	}
	if !shortage.Requested.Equal(dec("10")) || !shortage.Available.IsZero() || !shortage.Shortage().Equal(dec("10")) {
		t.Fatalf("expected requested=10 available=0 shortage=10, got %s/%s/%s",
			shortage.Requested, shortage.Available, shortage.Shortage())
	}

	batches, err := repo.ListBatches(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("a short sale must not create batches, got %d", len(batches))
	}
	if !result.TotalCost.IsZero() {
		t.Fatalf("no allocation means zero cost, got %s", result.TotalCost)
	}
}

func TestSalePackLevelConversion(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)

	// 2 boxes at 10 tablets per box.
	result, err := svc.Sale(ctx, SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clinic Nord",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("2"), UnitPrice: dec("150"), Level: domain.PackagingLevelPack},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("pack sale failed: %v", err)
	}

	item := result.Items[0]
	if !item.Quantity.Equal(dec("2")) {
		t.Fatalf("display quantity must stay 2, got %s", item.Quantity)
	}
	if item.BaseQuantity == nil || !item.BaseQuantity.Equal(dec("20")) {
		t.Fatalf("expected base quantity 20")
	}
	if !result.Movements[0].Quantity.Equal(dec("-20")) {
		t.Fatalf("expected -20 movement, got %s", result.Movements[0].Quantity)
	}

	stock, err := repo.CurrentStock(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !stock.Equal(dec("80")) {
		t.Fatalf("expected 80 remaining, got %s", stock)
	}
}

func TestSaleUnitLevelStoresNoBaseQuantity(t *testing.T) {
	svc, _ := newTestLedger(t)

	purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)
	result, err := svc.Sale(context.Background(), SaleInput{
		SiteID:       "site-a",
		CustomerName: "Walk-in",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("5"), UnitPrice: dec("15"), Level: domain.PackagingLevelUnit},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if result.Items[0].BaseQuantity != nil {
		t.Fatalf("unit-level items must not store a base quantity")
	}
}

func TestSalePackQuantityCap(t *testing.T) {
	svc, _ := newTestLedger(t)

	purchaseAt(t, svc, "prod-a", "site-a", "500", "10", 1)
	_, err := svc.Sale(context.Background(), SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clinic Nord",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("11"), UnitPrice: dec("150"), Level: domain.PackagingLevelPack},
		},
		UserID: "tester",
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for pack quantity above factor, got %v", err)
	}
}

func TestSalePreferredBatchConsumedFirst(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)
	second := purchaseAt(t, svc, "prod-a", "site-a", "50", "12", 2)

	result, err := svc.Sale(ctx, SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clinic Nord",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("40"), UnitPrice: dec("20"), BatchID: second.Batch.ID},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	if len(result.Items[0].Allocations) != 1 || result.Items[0].Allocations[0].BatchID != second.Batch.ID {
		t.Fatalf("expected the preferred batch to cover the whole sale")
	}
	preferred, err := repo.GetBatch(ctx, second.Batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !preferred.RemainingQuantity.Equal(dec("10")) {
		t.Fatalf("expected preferred batch at 10 remaining, got %s", preferred.RemainingQuantity)
	}
}

func TestSaleRepeatedProductDrainsBatchesOnce(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "60", "10", 1)
	purchaseAt(t, svc, "prod-a", "site-a", "60", "12", 2)

	result, err := svc.Sale(ctx, SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clinic Nord",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("50"), UnitPrice: dec("20")},
			{ProductID: "prod-a", Quantity: dec("50"), UnitPrice: dec("20")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	// 50@10 for the first line, then 10@10 + 40@12 for the second.
	if !result.TotalCost.Equal(dec("1080")) {
		t.Fatalf("expected total cost 1080, got %s", result.TotalCost)
	}

	stock, err := repo.CurrentStock(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !stock.Equal(dec("20")) {
		t.Fatalf("expected 20 remaining, got %s", stock)
	}
}

func TestSaleGrossProfitMayBeNegative(t *testing.T) {
	svc, _ := newTestLedger(t)

	purchaseAt(t, svc, "prod-a", "site-a", "10", "100", 1)
	result, err := svc.Sale(context.Background(), SaleInput{
		SiteID:       "site-a",
		CustomerName: "Clearance",
		Items: []SaleItemInput{
			{ProductID: "prod-a", Quantity: dec("10"), UnitPrice: dec("50")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	if !result.GrossProfit.Equal(dec("-500")) {
		t.Fatalf("expected gross profit -500, got %s", result.GrossProfit)
	}
}

func TestSaleLowStockWarning(t *testing.T) {
	svc, _ := newTestLedger(t)

	// prod-b has min stock 20.
	purchaseAt(t, svc, "prod-b", "site-a", "25", "10", 1)
	result, err := svc.Sale(context.Background(), SaleInput{
		SiteID:       "site-a",
		CustomerName: "Walk-in",
		Items: []SaleItemInput{
			{ProductID: "prod-b", Quantity: dec("10"), UnitPrice: dec("15")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	var low *LowStock
	for _, w := range result.Warnings {
		if l, ok := w.(LowStock); ok {
			low = &l
		}
	}
	if low == nil {
		t.Fatalf("expected LowStock warning, got %v", result.Warnings)
	}
	if !low.CurrentStock.Equal(dec("15")) || !low.MinStock.Equal(dec("20")) {
		t.Fatalf("expected current=15 min=20, got %s/%s", low.CurrentStock, low.MinStock)
	}
}

func TestSaleValidation(t *testing.T) {
	svc, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Sale(ctx, SaleInput{CustomerName: "x", Items: []SaleItemInput{{ProductID: "prod-a", Quantity: dec("1")}}})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "site_id" {
		t.Fatalf("expected site_id validation error, got %v", err)
	}

	_, err = svc.Sale(ctx, SaleInput{SiteID: "site-a", Items: []SaleItemInput{{ProductID: "prod-a", Quantity: dec("1")}}})
	if !errors.As(err, &vErr) || vErr.Field != "customer_name" {
		t.Fatalf("expected customer_name validation error, got %v", err)
	}

	_, err = svc.Sale(ctx, SaleInput{SiteID: "site-a", CustomerName: "x"})
	if !errors.As(err, &vErr) || vErr.Field != "items" {
		t.Fatalf("expected items validation error, got %v", err)
	}

	_, err = svc.Sale(ctx, SaleInput{SiteID: "site-a", CustomerName: "x",
		Items: []SaleItemInput{{ProductID: "prod-a", Quantity: dec("1"), UnitPrice: dec("-2")}}})
	if !errors.As(err, &vErr) || !strings.Contains(vErr.Field, "unit_price") {
		t.Fatalf("expected unit_price validation error, got %v", err)
	}
}

func TestTransferPreservesDateAndCost(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	source := purchaseAt(t, svc, "prod-a", "site-a", "100", "10", 1)

	result, err := svc.Transfer(ctx, TransferInput{
		ProductID:  "prod-a",
		FromSiteID: "site-a",
		ToSiteID:   "site-b",
		Quantity:   dec("100"),
		UserID:     "tester",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	drained, err := repo.GetBatch(ctx, source.Batch.ID)
	if err != nil {
		t.Fatalf("get source batch: %v", err)
	}
	if !drained.IsExhausted || !drained.RemainingQuantity.IsZero() {
		t.Fatalf("source batch must be exhausted at zero")
	}

	if len(result.Batches) != 1 {
		t.Fatalf("expected one destination batch, got %d", len(result.Batches))
	}
	dest := result.Batches[0]
	if dest.SiteID != "site-b" || !dest.RemainingQuantity.Equal(dec("100")) {
		t.Fatalf("destination batch must hold 100 at site-b")
	}
	if !dest.PurchaseDate.Equal(source.Batch.PurchaseDate) {
		t.Fatalf("purchase date must be preserved, got %s vs %s", dest.PurchaseDate, source.Batch.PurchaseDate)
	}
	if !dest.PurchasePrice.Equal(source.Batch.PurchasePrice) {
		t.Fatalf("purchase price must be preserved")
	}
	if dest.SupplierName != "Transfer from Pharmacy A" {
		t.Fatalf("expected transfer supplier label, got %q", dest.SupplierName)
	}

	if result.OutMovement.Type != domain.MovementTransferOut || !result.OutMovement.Quantity.Equal(dec("-100")) {
		t.Fatalf("expected -100 TRANSFER_OUT")
	}
	if result.InMovement.Type != domain.MovementTransferIn || !result.InMovement.Quantity.Equal(dec("100")) {
		t.Fatalf("expected +100 TRANSFER_IN")
	}
}

func TestTransferBatchNumberSuffix(t *testing.T) {
	svc, _ := newTestLedger(t)

	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Purchase(context.Background(), PurchaseInput{
		ProductID:     "prod-a",
		SiteID:        "site-a",
		Quantity:      dec("30"),
		PurchasePrice: dec("10"),
		BatchNumber:   "LOT-77",
		PurchaseDate:  &date,
		UserID:        "tester",
	})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	result, err := svc.Transfer(context.Background(), TransferInput{
		ProductID:  "prod-a",
		FromSiteID: "site-a",
		ToSiteID:   "site-b",
		Quantity:   dec("30"),
		UserID:     "tester",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if result.Batches[0].BatchNumber != "LOT-77-TRANSFER" {
		t.Fatalf("expected LOT-77-TRANSFER, got %q", result.Batches[0].BatchNumber)
	}
}

func TestTransferConservation(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "60", "10", 1)
	purchaseAt(t, svc, "prod-a", "site-a", "60", "12", 2)

	result, err := svc.Transfer(ctx, TransferInput{
		ProductID:  "prod-a",
		FromSiteID: "site-a",
		ToSiteID:   "site-b",
		Quantity:   dec("90"),
		UserID:     "tester",
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	moved := decimal.Zero
	for _, b := range result.Batches {
		moved = moved.Add(b.RemainingQuantity)
	}
	if !moved.Equal(dec("90")) {
		t.Fatalf("destination batches must sum to 90, got %s", moved)
	}

	sourceStock, err := repo.CurrentStock(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !sourceStock.Equal(dec("30")) {
		t.Fatalf("expected 30 left at source, got %s", sourceStock)
	}
	destStock, err := repo.CurrentStock(ctx, "prod-a", "site-b")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !destStock.Equal(dec("90")) {
		t.Fatalf("expected 90 at destination, got %s", destStock)
	}
}

func TestTransferSameSiteRejected(t *testing.T) {
	svc, _ := newTestLedger(t)

	_, err := svc.Transfer(context.Background(), TransferInput{
		ProductID:  "prod-a",
		FromSiteID: "site-a",
		ToSiteID:   "site-a",
		Quantity:   dec("10"),
		UserID:     "tester",
	})
	var sameSite *SameSiteError
	if !errors.As(err, &sameSite) {
		t.Fatalf("expected SameSiteError, got %v", err)
	}
}

func TestTransferShortageWarns(t *testing.T) {
	svc, _ := newTestLedger(t)

	purchaseAt(t, svc, "prod-a", "site-a", "40", "10", 1)
	result, err := svc.Transfer(context.Background(), TransferInput{
		ProductID:  "prod-a",
		FromSiteID: "site-a",
		ToSiteID:   "site-b",
		Quantity:   dec("100"),
		UserID:     "tester",
	})
	if err != nil {
		t.Fatalf("transfer must complete despite shortage: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(result.Warnings))
	}
	shortage, ok := result.Warnings[0].(InsufficientStock)
	if !ok || !shortage.Shortage().Equal(dec("60")) {
		t.Fatalf("expected shortage 60, got %v", result.Warnings[0])
	}

	moved := decimal.Zero
	for _, b := range result.Batches {
		moved = moved.Add(b.RemainingQuantity)
	}
	if !moved.Equal(dec("40")) {
		t.Fatalf("only available stock moves, got %s", moved)
	}
}

func TestInventorySurplusCreatesAdjustmentBatch(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	result, err := svc.Inventory(ctx, InventoryInput{
		SiteID: "site-a",
		Counts: []InventoryCountInput{
			{ProductID: "prod-a", CountedQuantity: dec("50"), Reason: "found in back room"},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}

	if result.TotalDiscrepancies != 1 || result.PositiveAdjustments != 1 || result.NegativeAdjustments != 0 {
		t.Fatalf("expected 1 positive discrepancy, got %d/%d/%d",
			result.TotalDiscrepancies, result.PositiveAdjustments, result.NegativeAdjustments)
	}
	count := result.Counts[0]
	if !count.TheoreticalQuantity.IsZero() || !count.Discrepancy.Equal(dec("50")) {
		t.Fatalf("expected theoretical 0 discrepancy 50, got %s/%s", count.TheoreticalQuantity, count.Discrepancy)
	}

	batches, err := repo.ListOpenBatches(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected one surplus batch, got %d", len(batches))
	}
	surplus := batches[0]
	if !surplus.RemainingQuantity.Equal(dec("50")) || !surplus.PurchasePrice.IsZero() {
		t.Fatalf("surplus batch must hold 50 at zero cost")
	}
	if !strings.HasPrefix(surplus.BatchNumber, "INV-") {
		t.Fatalf("expected INV- batch number, got %q", surplus.BatchNumber)
	}
	if surplus.SupplierName != "Inventory adjustment" {
		t.Fatalf("expected adjustment supplier label, got %q", surplus.SupplierName)
	}

	movements, err := repo.ListMovements(ctx, "prod-a", "site-a", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 || movements[0].Type != domain.MovementInventory || !movements[0].Quantity.Equal(dec("50")) {
		t.Fatalf("expected one +50 INVENTORY movement")
	}
	if result.Session.Status != domain.InventoryStatusCompleted || result.Session.CompletedAt == nil {
		t.Fatalf("session must complete")
	}
}

func TestInventoryShortageDrainsFIFO(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "30", "10", 1)
	purchaseAt(t, svc, "prod-a", "site-a", "30", "12", 2)

	result, err := svc.Inventory(ctx, InventoryInput{
		SiteID: "site-a",
		Counts: []InventoryCountInput{
			{ProductID: "prod-a", CountedQuantity: dec("20"), Reason: "breakage"},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}

	if result.NegativeAdjustments != 1 {
		t.Fatalf("expected one negative adjustment")
	}
	if !result.Counts[0].Discrepancy.Equal(dec("-40")) {
		t.Fatalf("expected discrepancy -40, got %s", result.Counts[0].Discrepancy)
	}

	stock, err := repo.CurrentStock(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !stock.Equal(dec("20")) {
		t.Fatalf("stock must match the counted quantity, got %s", stock)
	}

	open, err := repo.ListOpenBatches(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	// Oldest batch fully drained, newer batch reduced to 20.
	if len(open) != 1 || !open[0].RemainingQuantity.Equal(dec("20")) {
		t.Fatalf("expected newest batch at 20 remaining")
	}

	movements, err := repo.ListMovements(ctx, "prod-a", "site-a", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if movements[0].Type != domain.MovementInventory || !movements[0].Quantity.Equal(dec("-40")) {
		t.Fatalf("expected -40 INVENTORY movement, got %s %s", movements[0].Type, movements[0].Quantity)
	}
}

func TestInventoryZeroDiscrepancyHasNoSideEffects(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "40", "10", 1)

	result, err := svc.Inventory(ctx, InventoryInput{
		SiteID: "site-a",
		Counts: []InventoryCountInput{
			{ProductID: "prod-a", CountedQuantity: dec("40")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}
	if result.TotalDiscrepancies != 0 {
		t.Fatalf("expected no discrepancies")
	}

	movements, err := repo.ListMovements(ctx, "prod-a", "site-a", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	// Only the purchase movement.
	if len(movements) != 1 || movements[0].Type != domain.MovementPurchase {
		t.Fatalf("a zero discrepancy must not add movements")
	}
}

func TestInventoryLowStockWarning(t *testing.T) {
	svc, _ := newTestLedger(t)

	purchaseAt(t, svc, "prod-b", "site-a", "10", "10", 1)
	result, err := svc.Inventory(context.Background(), InventoryInput{
		SiteID: "site-a",
		Counts: []InventoryCountInput{
			{ProductID: "prod-b", CountedQuantity: dec("10")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}

	var low *LowStock
	for _, w := range result.Warnings {
		if l, ok := w.(LowStock); ok {
			low = &l
		}
	}
	if low == nil {
		t.Fatalf("expected LowStock warning below min stock of 20")
	}
}

func TestInventoryAuditTrail(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.Inventory(ctx, InventoryInput{
		SiteID: "site-a",
		Counts: []InventoryCountInput{
			{ProductID: "prod-a", CountedQuantity: dec("5")},
		},
		UserID: "tester",
	})
	if err != nil {
		t.Fatalf("inventory failed: %v", err)
	}

	entries, err := repo.ListAuditByTable(ctx, "inventories", 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "tester" {
		t.Fatalf("expected one audit entry by tester, got %d", len(entries))
	}
}

func TestConcurrentSalesSerializePerProductSite(t *testing.T) {
	svc, repo := newTestLedger(t)
	ctx := context.Background()

	purchaseAt(t, svc, "prod-a", "site-a", "1000", "10", 1)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := svc.Sale(ctx, SaleInput{
				SiteID:       "site-a",
				CustomerName: "Concurrent",
				Items: []SaleItemInput{
					{ProductID: "prod-a", Quantity: dec("10"), UnitPrice: dec("20")},
				},
				UserID: "tester",
			})
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent sale failed: %v", err)
		}
	}

	stock, err := repo.CurrentStock(ctx, "prod-a", "site-a")
	if err != nil {
		t.Fatalf("current stock: %v", err)
	}
	if !stock.Equal(dec("900")) {
		t.Fatalf("expected 900 remaining after 10 concurrent sales of 10, got %s", stock)
	}
}
