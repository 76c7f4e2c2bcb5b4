package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
	"medistock/backend/internal/xid"
)

// Store is the PostgreSQL Repository. Compound write sets commit under one
// serializable transaction; the purchase_batches.seq column provides the
// FIFO insertion-order tie-break.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Unit == "" {
		return nil, store.ErrConflict
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, unit, pack_unit, pack_size, margin_type, margin_value, min_stock, site_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
	`, product.ID, product.Name, product.Unit, product.PackUnit, nullDecimal(product.PackSize),
		product.MarginType, product.MarginValue, nullDecimal(product.MinStock), product.SiteID, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	var packSize, minStock decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit, pack_unit, pack_size, margin_type, margin_value, min_stock, site_id, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Unit, &p.PackUnit, &packSize, &p.MarginType, &p.MarginValue,
		&minStock, &p.SiteID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.PackSize = fromNullDecimal(packSize)
	p.MinStock = fromNullDecimal(minStock)
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit, pack_unit, pack_size, margin_type, margin_value, min_stock, site_id, active, created_at, updated_at
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		var packSize, minStock decimal.NullDecimal
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.PackUnit, &packSize, &p.MarginType,
			&p.MarginValue, &minStock, &p.SiteID, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.PackSize = fromNullDecimal(packSize)
		p.MinStock = fromNullDecimal(minStock)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateSite(ctx context.Context, site domain.Site) (*domain.Site, error) {
	if site.Name == "" {
		return nil, store.ErrConflict
	}
	if site.ID == "" {
		site.ID = xid.New("site")
	}
	site.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, address, active, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, site.ID, site.Name, site.Address, site.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := site
	return &created, nil
}

func (s *Store) GetSite(ctx context.Context, id string) (*domain.Site, error) {
	var site domain.Site
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM sites
		WHERE id = $1
	`, id).Scan(&site.ID, &site.Name, &site.Address, &site.Active, &site.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &site, nil
}

func (s *Store) ListSites(ctx context.Context) ([]domain.Site, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM sites
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := make([]domain.Site, 0, 16)
	for rows.Next() {
		var site domain.Site
		if err := rows.Scan(&site.ID, &site.Name, &site.Address, &site.Active, &site.CreatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sites, nil
}

const batchColumns = `
	id, product_id, site_id, batch_number, purchase_date, initial_quantity,
	remaining_quantity, purchase_price, supplier_name, expiry_date, is_exhausted,
	created_at, updated_at, created_by, updated_by`

func scanBatch(scanner interface{ Scan(...any) error }) (domain.PurchaseBatch, error) {
	var b domain.PurchaseBatch
	var expiry sql.NullTime
	err := scanner.Scan(&b.ID, &b.ProductID, &b.SiteID, &b.BatchNumber, &b.PurchaseDate,
		&b.InitialQuantity, &b.RemainingQuantity, &b.PurchasePrice, &b.SupplierName,
		&expiry, &b.IsExhausted, &b.CreatedAt, &b.UpdatedAt, &b.CreatedBy, &b.UpdatedBy)
	if err != nil {
		return b, err
	}
	if expiry.Valid {
		t := expiry.Time
		b.ExpiryDate = &t
	}
	return b, nil
}

func (s *Store) ListOpenBatches(ctx context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM purchase_batches
		WHERE product_id = $1 AND site_id = $2 AND is_exhausted = false
		ORDER BY purchase_date ASC, seq ASC
	`, productID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (s *Store) ListBatches(ctx context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM purchase_batches
		WHERE product_id = $1 AND site_id = $2
		ORDER BY purchase_date ASC, seq ASC
	`, productID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func collectBatches(rows *sql.Rows) ([]domain.PurchaseBatch, error) {
	batches := make([]domain.PurchaseBatch, 0, 16)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.PurchaseBatch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM purchase_batches
		WHERE id = $1
	`, id)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CurrentStock(ctx context.Context, productID string, siteID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining_quantity), 0)
		FROM purchase_batches
		WHERE product_id = $1 AND site_id = $2 AND is_exhausted = false
	`, productID, siteID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) ListMovements(ctx context.Context, productID string, siteID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, site_id, movement_type, quantity, reference_id, notes, created_at, created_by
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1) AND ($2 = '' OR site_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, productID, siteID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.SiteID, &m.Type, &m.Quantity,
			&m.ReferenceID, &m.Notes, &m.CreatedAt, &m.CreatedBy); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, customer_name, total_amount, created_at, created_by
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.SiteID, &sale.CustomerName, &sale.TotalAmount, &sale.CreatedAt, &sale.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, unit, quantity, base_quantity, unit_price, total_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		var base decimal.NullDecimal
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&item.Unit, &item.Quantity, &base, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		item.BaseQuantity = fromNullDecimal(base)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		allocRows, err := s.db.QueryContext(ctx, `
			SELECT id, sale_item_id, batch_id, quantity, purchase_price, created_at, created_by
			FROM batch_allocations
			WHERE sale_item_id = $1
			ORDER BY id
		`, items[i].ID)
		if err != nil {
			return nil, err
		}
		for allocRows.Next() {
			var alloc domain.BatchAllocation
			if err := allocRows.Scan(&alloc.ID, &alloc.SaleItemID, &alloc.BatchID,
				&alloc.Quantity, &alloc.PurchasePrice, &alloc.CreatedAt, &alloc.CreatedBy); err != nil {
				_ = allocRows.Close()
				return nil, err
			}
			items[i].Allocations = append(items[i].Allocations, alloc)
		}
		if err := allocRows.Err(); err != nil {
			_ = allocRows.Close()
			return nil, err
		}
		_ = allocRows.Close()
	}
	return items, nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	var t domain.Transfer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, from_site_id, to_site_id, quantity, status, notes, created_at, updated_at, created_by, updated_by
		FROM transfers
		WHERE id = $1
	`, id).Scan(&t.ID, &t.ProductID, &t.FromSiteID, &t.ToSiteID, &t.Quantity, &t.Status,
		&t.Notes, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetInventory(ctx context.Context, id string) (*domain.Inventory, error) {
	var inv domain.Inventory
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, status, notes, started_at, completed_at, created_by
		FROM inventories
		WHERE id = $1
	`, id).Scan(&inv.ID, &inv.SiteID, &inv.Status, &inv.Notes, &inv.StartedAt, &completed, &inv.CreatedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		inv.CompletedAt = &t
	}
	return &inv, nil
}

func (s *Store) ListInventoryCounts(ctx context.Context, inventoryID string) ([]domain.InventoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inventory_id, product_id, theoretical_quantity, counted_quantity, discrepancy, reason, created_at
		FROM inventory_counts
		WHERE inventory_id = $1
		ORDER BY id
	`, inventoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]domain.InventoryCount, 0, 8)
	for rows.Next() {
		var c domain.InventoryCount
		if err := rows.Scan(&c.ID, &c.InventoryID, &c.ProductID, &c.TheoreticalQuantity,
			&c.CountedQuantity, &c.Discrepancy, &c.Reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) InsertAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, table_name, record_id, action, old_values, new_values, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.TableName, entry.RecordID, entry.Action, entry.OldValues, entry.NewValues, entry.UserID, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditByTable(ctx context.Context, tableName string, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_name, record_id, action, old_values, new_values, user_id, created_at
		FROM audit_logs
		WHERE ($1 = '' OR table_name = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, tableName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, limit)
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.Action, &e.OldValues,
			&e.NewValues, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ApplyPurchase(ctx context.Context, set store.PurchaseSet) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertBatchTx(ctx, tx, set.Batch); err != nil {
		return err
	}
	if err := insertMovementTx(ctx, tx, set.Movement); err != nil {
		return err
	}
	if err := insertAuditTx(ctx, tx, set.Audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplySale(ctx context.Context, set store.SaleSet) error {
	if set.Sale.ID == "" || len(set.Items) == 0 {
		return store.ErrConflict
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyBatchUpdatesTx(ctx, tx, set.BatchUpdates); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, site_id, customer_name, total_amount, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, set.Sale.ID, set.Sale.SiteID, set.Sale.CustomerName, set.Sale.TotalAmount, set.Sale.CreatedAt, set.Sale.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	for _, item := range set.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, product_name, unit, quantity, base_quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, item.ID, item.SaleID, item.ProductID, item.ProductName, item.Unit,
			item.Quantity, nullDecimal(item.BaseQuantity), item.UnitPrice, item.TotalPrice)
		if err != nil {
			return err
		}
		for _, alloc := range item.Allocations {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO batch_allocations (id, sale_item_id, batch_id, quantity, purchase_price, created_at, created_by)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, alloc.ID, alloc.SaleItemID, alloc.BatchID, alloc.Quantity, alloc.PurchasePrice, alloc.CreatedAt, alloc.CreatedBy)
			if err != nil {
				return err
			}
		}
	}

	for _, m := range set.Movements {
		if err := insertMovementTx(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := insertAuditTx(ctx, tx, set.Audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyTransfer(ctx context.Context, set store.TransferSet) error {
	if set.Transfer.ID == "" {
		return store.ErrConflict
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyBatchUpdatesTx(ctx, tx, set.BatchUpdates); err != nil {
		return err
	}
	for _, b := range set.NewBatches {
		if err := insertBatchTx(ctx, tx, b); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, product_id, from_site_id, to_site_id, quantity, status, notes, created_at, updated_at, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, set.Transfer.ID, set.Transfer.ProductID, set.Transfer.FromSiteID, set.Transfer.ToSiteID,
		set.Transfer.Quantity, set.Transfer.Status, set.Transfer.Notes,
		set.Transfer.CreatedAt, set.Transfer.UpdatedAt, set.Transfer.CreatedBy, set.Transfer.UpdatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	for _, m := range set.Movements {
		if err := insertMovementTx(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := insertAuditTx(ctx, tx, set.Audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyInventory(ctx context.Context, set store.InventorySet) error {
	if set.Session.ID == "" || len(set.Counts) == 0 {
		return store.ErrConflict
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyBatchUpdatesTx(ctx, tx, set.BatchUpdates); err != nil {
		return err
	}
	for _, b := range set.NewBatches {
		if err := insertBatchTx(ctx, tx, b); err != nil {
			return err
		}
	}

	var completed any
	if set.Session.CompletedAt != nil {
		completed = *set.Session.CompletedAt
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventories (id, site_id, status, notes, started_at, completed_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, set.Session.ID, set.Session.SiteID, set.Session.Status, set.Session.Notes,
		set.Session.StartedAt, completed, set.Session.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}

	for _, c := range set.Counts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_counts (id, inventory_id, product_id, theoretical_quantity, counted_quantity, discrepancy, reason, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, c.ID, c.InventoryID, c.ProductID, c.TheoreticalQuantity, c.CountedQuantity, c.Discrepancy, c.Reason, c.CreatedAt)
		if err != nil {
			return err
		}
	}

	for _, m := range set.Movements {
		if err := insertMovementTx(ctx, tx, m); err != nil {
			return err
		}
	}
	if err := insertAuditTx(ctx, tx, set.Audit); err != nil {
		return err
	}
	return tx.Commit()
}

func insertBatchTx(ctx context.Context, tx *sql.Tx, b domain.PurchaseBatch) error {
	if b.ID == "" || b.ProductID == "" || b.SiteID == "" {
		return store.ErrConflict
	}
	if b.RemainingQuantity.IsNegative() || b.RemainingQuantity.GreaterThan(b.InitialQuantity) {
		return store.ErrConflict
	}

	var expiry any
	if b.ExpiryDate != nil {
		expiry = *b.ExpiryDate
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO purchase_batches (id, product_id, site_id, batch_number, purchase_date, initial_quantity,
			remaining_quantity, purchase_price, supplier_name, expiry_date, is_exhausted,
			created_at, updated_at, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, b.ID, b.ProductID, b.SiteID, b.BatchNumber, b.PurchaseDate, b.InitialQuantity,
		b.RemainingQuantity, b.PurchasePrice, b.SupplierName, expiry, b.IsExhausted,
		b.CreatedAt, b.UpdatedAt, b.CreatedBy, b.UpdatedBy)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

// applyBatchUpdatesTx writes absolute remaining quantities. The WHERE clause
// re-checks the batch invariant so a stale plan can never push a batch
// negative or above its initial quantity.
func applyBatchUpdatesTx(ctx context.Context, tx *sql.Tx, updates []store.BatchUpdate) error {
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `
			UPDATE purchase_batches
			SET remaining_quantity = $2, is_exhausted = $3, updated_at = $4, updated_by = $5
			WHERE id = $1 AND $2 >= 0 AND $2 <= initial_quantity
		`, u.BatchID, u.RemainingQuantity, u.IsExhausted, u.UpdatedAt, u.UpdatedBy)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrConflict
		}
	}
	return nil
}

func insertMovementTx(ctx context.Context, tx *sql.Tx, m domain.StockMovement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, site_id, movement_type, quantity, reference_id, notes, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.ID, m.ProductID, m.SiteID, m.Type, m.Quantity, m.ReferenceID, m.Notes, m.CreatedAt, m.CreatedBy)
	return err
}

func insertAuditTx(ctx context.Context, tx *sql.Tx, entry domain.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, table_name, record_id, action, old_values, new_values, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.TableName, entry.RecordID, entry.Action, entry.OldValues, entry.NewValues, entry.UserID, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrConflict
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,now())
	`, user.Username, user.Password, user.Role, user.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
