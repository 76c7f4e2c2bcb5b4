package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"medistock/backend/internal/domain"
	"medistock/backend/internal/store"
	"medistock/backend/internal/xid"
)

// Store is the in-memory Repository used in dev mode and by the service
// tests. Batches live in one slice so insertion order is available as the
// FIFO tie-break; every read hands out copies.
type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	sites             map[string]domain.Site
	batches           []domain.PurchaseBatch
	batchIndex        map[string]int
	movements         []domain.StockMovement
	salesByID         map[string]domain.Sale
	saleItemsBySale   map[string][]domain.SaleItem
	transfersByID     map[string]domain.Transfer
	inventoriesByID   map[string]domain.Inventory
	countsByInventory map[string][]domain.InventoryCount
	auditLogs         []domain.AuditEntry
	usersByUsername   map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:          make(map[string]domain.Product),
		sites:             make(map[string]domain.Site),
		batches:           make([]domain.PurchaseBatch, 0, 64),
		batchIndex:        make(map[string]int),
		movements:         make([]domain.StockMovement, 0, 128),
		salesByID:         make(map[string]domain.Sale),
		saleItemsBySale:   make(map[string][]domain.SaleItem),
		transfersByID:     make(map[string]domain.Transfer),
		inventoriesByID:   make(map[string]domain.Inventory),
		countsByInventory: make(map[string][]domain.InventoryCount),
		auditLogs:         make([]domain.AuditEntry, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

// NewSeeded returns a store preloaded with demo sites and products for
// running the server without a database.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	sites := []domain.Site{
		{ID: "site-pharmacy", Name: "Pharmacy", Active: true, CreatedAt: now},
		{ID: "site-warehouse", Name: "Warehouse", Active: true, CreatedAt: now},
	}
	for _, site := range sites {
		s.sites[site.ID] = site
	}

	ten := decimal.NewFromInt(10)
	twenty := decimal.NewFromInt(20)
	products := []domain.Product{
		{ID: "prod-paracetamol", Name: "Paracetamol 500mg", Unit: "tablet", PackUnit: "box",
			PackSize: &ten, MarginType: domain.MarginPercentage, MarginValue: decimal.NewFromInt(30),
			MinStock: &twenty, Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-amoxicillin", Name: "Amoxicillin 250mg", Unit: "capsule",
			MarginType: domain.MarginFixed, MarginValue: decimal.NewFromInt(500),
			Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: "prod-saline", Name: "Saline Solution 500ml", Unit: "bottle",
			MarginType: domain.MarginPercentage, MarginValue: decimal.NewFromInt(15),
			Active: true, CreatedAt: now, UpdatedAt: now},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments use
// PostgreSQL (DATABASE_URL set) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_MANAGER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"manager", managerPwd, "manager"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Unit == "" {
		return nil, store.ErrConflict
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}
	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateSite(_ context.Context, site domain.Site) (*domain.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if site.Name == "" {
		return nil, store.ErrConflict
	}
	if site.ID == "" {
		site.ID = xid.New("site")
	}
	if _, exists := s.sites[site.ID]; exists {
		return nil, store.ErrConflict
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}
	site.Active = true
	s.sites[site.ID] = site
	created := site
	return &created, nil
}

func (s *Store) GetSite(_ context.Context, id string) (*domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, exists := s.sites[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := site
	return &copied, nil
}

func (s *Store) ListSites(_ context.Context) ([]domain.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sites := make([]domain.Site, 0, len(s.sites))
	for _, site := range s.sites {
		if !site.Active {
			continue
		}
		sites = append(sites, site)
	}
	slices.SortFunc(sites, func(a, b domain.Site) int {
		return cmpString(a.Name, b.Name)
	})
	return sites, nil
}

func (s *Store) ListOpenBatches(_ context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openBatchesLocked(productID, siteID), nil
}

// openBatchesLocked returns copies of the live batches for a product/site in
// FIFO order. The batch slice is insertion-ordered, so a stable sort on
// purchase date keeps insertion order as the tie-break.
func (s *Store) openBatchesLocked(productID string, siteID string) []domain.PurchaseBatch {
	open := make([]domain.PurchaseBatch, 0, 8)
	for _, b := range s.batches {
		if b.ProductID != productID || b.SiteID != siteID || b.IsExhausted {
			continue
		}
		open = append(open, b)
	}
	slices.SortStableFunc(open, func(a, b domain.PurchaseBatch) int {
		if a.PurchaseDate.Before(b.PurchaseDate) {
			return -1
		}
		if a.PurchaseDate.After(b.PurchaseDate) {
			return 1
		}
		return 0
	})
	return open
}

func (s *Store) ListBatches(_ context.Context, productID string, siteID string) ([]domain.PurchaseBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]domain.PurchaseBatch, 0, 8)
	for _, b := range s.batches {
		if b.ProductID != productID || b.SiteID != siteID {
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.PurchaseBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.batchIndex[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := s.batches[idx]
	return &copied, nil
}

func (s *Store) CurrentStock(_ context.Context, productID string, siteID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, b := range s.batches {
		if b.ProductID != productID || b.SiteID != siteID || b.IsExhausted {
			continue
		}
		total = total.Add(b.RemainingQuantity)
	}
	return total, nil
}

func (s *Store) ListMovements(_ context.Context, productID string, siteID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if productID != "" && m.ProductID != productID {
			continue
		}
		if siteID != "" && m.SiteID != siteID {
			continue
		}
		movements = append(movements, m)
		if limit > 0 && len(movements) >= limit {
			break
		}
	}
	return movements, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := sale
	return &copied, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID string) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.saleItemsBySale[saleID]
	result := make([]domain.SaleItem, len(items))
	copy(result, items)
	return result, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, exists := s.transfersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := transfer
	return &copied, nil
}

func (s *Store) GetInventory(_ context.Context, id string) (*domain.Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.inventoriesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := session
	return &copied, nil
}

func (s *Store) ListInventoryCounts(_ context.Context, inventoryID string) ([]domain.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := s.countsByInventory[inventoryID]
	result := make([]domain.InventoryCount, len(counts))
	copy(result, counts)
	return result, nil
}

func (s *Store) InsertAudit(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditByTable(_ context.Context, tableName string, limit int) ([]domain.AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.AuditEntry, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		if tableName != "" && s.auditLogs[i].TableName != tableName {
			continue
		}
		entries = append(entries, s.auditLogs[i])
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func (s *Store) ApplyPurchase(_ context.Context, set store.PurchaseSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateNewBatch(set.Batch); err != nil {
		return err
	}
	if _, exists := s.batchIndex[set.Batch.ID]; exists {
		return store.ErrConflict
	}

	s.insertBatchLocked(set.Batch)
	s.movements = append(s.movements, set.Movement)
	s.auditLogs = append(s.auditLogs, set.Audit)
	return nil
}

func (s *Store) ApplySale(_ context.Context, set store.SaleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.Sale.ID == "" || len(set.Items) == 0 {
		return store.ErrConflict
	}
	if _, exists := s.salesByID[set.Sale.ID]; exists {
		return store.ErrConflict
	}
	if err := s.checkBatchUpdatesLocked(set.BatchUpdates); err != nil {
		return err
	}

	s.applyBatchUpdatesLocked(set.BatchUpdates)
	s.salesByID[set.Sale.ID] = set.Sale
	items := make([]domain.SaleItem, len(set.Items))
	copy(items, set.Items)
	s.saleItemsBySale[set.Sale.ID] = items
	s.movements = append(s.movements, set.Movements...)
	s.auditLogs = append(s.auditLogs, set.Audit)
	return nil
}

func (s *Store) ApplyTransfer(_ context.Context, set store.TransferSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.Transfer.ID == "" {
		return store.ErrConflict
	}
	if _, exists := s.transfersByID[set.Transfer.ID]; exists {
		return store.ErrConflict
	}
	if err := s.checkBatchUpdatesLocked(set.BatchUpdates); err != nil {
		return err
	}
	for _, b := range set.NewBatches {
		if err := validateNewBatch(b); err != nil {
			return err
		}
		if _, exists := s.batchIndex[b.ID]; exists {
			return store.ErrConflict
		}
	}

	s.applyBatchUpdatesLocked(set.BatchUpdates)
	for _, b := range set.NewBatches {
		s.insertBatchLocked(b)
	}
	s.transfersByID[set.Transfer.ID] = set.Transfer
	s.movements = append(s.movements, set.Movements...)
	s.auditLogs = append(s.auditLogs, set.Audit)
	return nil
}

func (s *Store) ApplyInventory(_ context.Context, set store.InventorySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.Session.ID == "" || len(set.Counts) == 0 {
		return store.ErrConflict
	}
	if _, exists := s.inventoriesByID[set.Session.ID]; exists {
		return store.ErrConflict
	}
	if err := s.checkBatchUpdatesLocked(set.BatchUpdates); err != nil {
		return err
	}
	for _, b := range set.NewBatches {
		if err := validateNewBatch(b); err != nil {
			return err
		}
		if _, exists := s.batchIndex[b.ID]; exists {
			return store.ErrConflict
		}
	}

	s.applyBatchUpdatesLocked(set.BatchUpdates)
	for _, b := range set.NewBatches {
		s.insertBatchLocked(b)
	}
	s.inventoriesByID[set.Session.ID] = set.Session
	counts := make([]domain.InventoryCount, len(set.Counts))
	copy(counts, set.Counts)
	s.countsByInventory[set.Session.ID] = counts
	s.movements = append(s.movements, set.Movements...)
	s.auditLogs = append(s.auditLogs, set.Audit)
	return nil
}

// checkBatchUpdatesLocked verifies every pending update before anything
// mutates, so a bad write set leaves no partial state behind.
func (s *Store) checkBatchUpdatesLocked(updates []store.BatchUpdate) error {
	for _, u := range updates {
		idx, exists := s.batchIndex[u.BatchID]
		if !exists {
			return store.ErrNotFound
		}
		batch := s.batches[idx]
		if u.RemainingQuantity.IsNegative() || u.RemainingQuantity.GreaterThan(batch.InitialQuantity) {
			return store.ErrConflict
		}
		if u.IsExhausted != u.RemainingQuantity.LessThanOrEqual(decimal.Zero) {
			return store.ErrConflict
		}
	}
	return nil
}

func (s *Store) applyBatchUpdatesLocked(updates []store.BatchUpdate) {
	for _, u := range updates {
		idx := s.batchIndex[u.BatchID]
		s.batches[idx].RemainingQuantity = u.RemainingQuantity
		s.batches[idx].IsExhausted = u.IsExhausted
		s.batches[idx].UpdatedAt = u.UpdatedAt
		s.batches[idx].UpdatedBy = u.UpdatedBy
	}
}

func (s *Store) insertBatchLocked(batch domain.PurchaseBatch) {
	s.batchIndex[batch.ID] = len(s.batches)
	s.batches = append(s.batches, batch)
}

func validateNewBatch(batch domain.PurchaseBatch) error {
	if batch.ID == "" || batch.ProductID == "" || batch.SiteID == "" {
		return store.ErrConflict
	}
	if batch.InitialQuantity.IsNegative() || batch.RemainingQuantity.IsNegative() {
		return store.ErrConflict
	}
	if batch.RemainingQuantity.GreaterThan(batch.InitialQuantity) {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrConflict
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
