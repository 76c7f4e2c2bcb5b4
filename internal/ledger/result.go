package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Warning is a non-blocking finding attached to a successful operation.
// Warnings never cause a rollback; callers inspect them after the fact.
type Warning interface {
	Warning() string
}

// InsufficientStock is raised when FIFO consumption could not fully cover a
// requested quantity. The operation still completes and stock goes implicitly
// negative until the next purchase.
type InsufficientStock struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	SiteID      string          `json:"site_id"`
	Requested   decimal.Decimal `json:"requested"`
	Available   decimal.Decimal `json:"available"`
}

func (w InsufficientStock) Shortage() decimal.Decimal {
	return w.Requested.Sub(w.Available)
}

func (w InsufficientStock) Warning() string {
	return fmt.Sprintf("insufficient stock for product %s at site %s: requested %s, available %s",
		w.ProductID, w.SiteID, w.Requested, w.Available)
}

// ExpiringProduct is raised when a freshly purchased batch expires within the
// lookahead window.
type ExpiringProduct struct {
	ProductID       string    `json:"product_id"`
	ProductName     string    `json:"product_name,omitempty"`
	BatchID         string    `json:"batch_id"`
	ExpiryDate      time.Time `json:"expiry_date"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
}

func (w ExpiringProduct) Warning() string {
	return fmt.Sprintf("batch %s of product %s expires in %d days", w.BatchID, w.ProductID, w.DaysUntilExpiry)
}

// LowStock is raised when a site's stock for a product falls below the
// product's configured minimum.
type LowStock struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	SiteID       string          `json:"site_id"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinStock     decimal.Decimal `json:"min_stock"`
}

func (w LowStock) Warning() string {
	return fmt.Sprintf("stock of product %s at site %s is %s, below minimum %s",
		w.ProductID, w.SiteID, w.CurrentStock, w.MinStock)
}

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NotFoundError rejects an operation referencing a missing entity.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.ID)
}

// SameSiteError rejects a transfer whose source and destination match.
type SameSiteError struct {
	SiteID string
}

func (e *SameSiteError) Error() string {
	return fmt.Sprintf("cannot transfer within site %s", e.SiteID)
}

func validationErr(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func notFoundErr(entityType string, id string) error {
	return &NotFoundError{EntityType: entityType, ID: id}
}
