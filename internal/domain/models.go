package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Margin types supported on a product. Fixed adds the margin value to the
// purchase price; percentage applies a markup rate.
const (
	MarginFixed      = "fixed"
	MarginPercentage = "percentage"
)

// Stock movement types. Quantity sign convention: positive means stock
// increased at the movement's site, negative means it decreased.
const (
	MovementPurchase    = "PURCHASE"
	MovementSale        = "SALE"
	MovementTransferIn  = "TRANSFER_IN"
	MovementTransferOut = "TRANSFER_OUT"
	MovementInventory   = "INVENTORY"
)

const (
	InventoryStatusInProgress = "in_progress"
	InventoryStatusCompleted  = "completed"
)

const (
	AuditActionCreate = "CREATE"
	AuditActionUpdate = "UPDATE"
	AuditActionDelete = "DELETE"
)

// Packaging levels a sale quantity can be expressed in. Level 1 is the
// product's base unit; level 2 is the optional secondary packaging
// (e.g. a box of N base units).
const (
	PackagingLevelUnit = 1
	PackagingLevelPack = 2
)

type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Unit is the base (level 1) unit of measure label, e.g. "tablet".
	Unit string `json:"unit"`
	// PackUnit is the optional secondary (level 2) packaging label, e.g. "box".
	PackUnit string `json:"pack_unit,omitempty"`
	// PackSize is the default number of base units per secondary pack.
	// Nil when the product has no secondary packaging level.
	PackSize    *decimal.Decimal `json:"pack_size,omitempty"`
	MarginType  string           `json:"margin_type"`
	MarginValue decimal.Decimal  `json:"margin_value"`
	// MinStock triggers low-stock warnings when a site's stock falls below it.
	MinStock *decimal.Decimal `json:"min_stock,omitempty"`
	// SiteID restricts the product to one site when non-empty.
	SiteID    string    `json:"site_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PurchaseBatch is a single purchased lot of a product at a site. Batches are
// never deleted: they are consumed down to zero and flagged exhausted.
// PurchaseDate is the FIFO sort key and is preserved verbatim when a batch is
// split across a transfer.
type PurchaseBatch struct {
	ID                string           `json:"id"`
	ProductID         string           `json:"product_id"`
	SiteID            string           `json:"site_id"`
	BatchNumber       string           `json:"batch_number,omitempty"`
	PurchaseDate      time.Time        `json:"purchase_date"`
	InitialQuantity   decimal.Decimal  `json:"initial_quantity"`
	RemainingQuantity decimal.Decimal  `json:"remaining_quantity"`
	PurchasePrice     decimal.Decimal  `json:"purchase_price"`
	SupplierName      string           `json:"supplier_name,omitempty"`
	ExpiryDate        *time.Time       `json:"expiry_date,omitempty"`
	IsExhausted       bool             `json:"is_exhausted"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	CreatedBy         string           `json:"created_by"`
	UpdatedBy         string           `json:"updated_by"`
}

// StockMovement is one append-only row per physical quantity change.
type StockMovement struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	// ReferenceID points at the batch, sale, transfer or inventory session
	// that caused the movement.
	ReferenceID string    `json:"reference_id,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

// BatchAllocation records how much of a sale item was costed against which
// batch, at the batch's stored purchase price.
type BatchAllocation struct {
	ID            string          `json:"id"`
	SaleItemID    string          `json:"sale_item_id"`
	BatchID       string          `json:"batch_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
}

type SaleItem struct {
	ID        string `json:"id"`
	SaleID    string `json:"sale_id"`
	ProductID string `json:"product_id"`
	// ProductName and Unit are snapshots taken at sale time for historical
	// accuracy; later product edits must not rewrite old sales.
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	// BaseQuantity is set only when the item was sold at packaging level 2;
	// it equals Quantity multiplied by the conversion factor.
	BaseQuantity *decimal.Decimal  `json:"base_quantity,omitempty"`
	UnitPrice    decimal.Decimal   `json:"unit_price"`
	TotalPrice   decimal.Decimal   `json:"total_price"`
	Allocations  []BatchAllocation `json:"allocations"`
}

type Sale struct {
	ID           string          `json:"id"`
	SiteID       string          `json:"site_id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	CreatedBy    string          `json:"created_by"`
}

type Transfer struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	FromSiteID string          `json:"from_site_id"`
	ToSiteID   string          `json:"to_site_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Status     string          `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	CreatedBy  string          `json:"created_by"`
	UpdatedBy  string          `json:"updated_by"`
}

type Inventory struct {
	ID          string     `json:"id"`
	SiteID      string     `json:"site_id"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
}

// InventoryCount is one persisted line of an inventory session.
type InventoryCount struct {
	ID                  string          `json:"id"`
	InventoryID         string          `json:"inventory_id"`
	ProductID           string          `json:"product_id"`
	TheoreticalQuantity decimal.Decimal `json:"theoretical_quantity"`
	CountedQuantity     decimal.Decimal `json:"counted_quantity"`
	Discrepancy         decimal.Decimal `json:"discrepancy"`
	Reason              string          `json:"reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type AuditEntry struct {
	ID        string    `json:"id"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	Action    string    `json:"action"`
	OldValues string    `json:"old_values,omitempty"`
	NewValues string    `json:"new_values,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor identifies the authenticated caller on a request context.
type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}
