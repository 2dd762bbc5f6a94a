package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"gemledger/internal/domain"
	"gemledger/internal/store"
	"gemledger/internal/xid"
)

// Store is an in-memory store.Repository used for tests and dev mode.
// Version tokens behave exactly like the postgres implementation's:
// CompareAndSwap fails with store.ErrVersionConflict on a stale token.
type Store struct {
	mu             sync.RWMutex
	items          map[string]domain.Item
	warehouses     map[string]domain.Warehouse
	inventories    map[string]domain.InventoryRecord
	inventoryByKey map[string]string
	movements      []domain.StockMovement
	transactions   map[string]domain.Transaction
	auditLogs      []domain.AuditLog
	users          map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:          make(map[string]domain.Item),
		warehouses:     make(map[string]domain.Warehouse),
		inventories:    make(map[string]domain.InventoryRecord),
		inventoryByKey: make(map[string]string),
		transactions:   make(map[string]domain.Transaction),
		movements:      make([]domain.StockMovement, 0, 128),
		auditLogs:      make([]domain.AuditLog, 0, 128),
		users:          seedUsers(),
	}
}

// NewSeeded returns a store pre-loaded with a small jewelry catalog, two
// warehouses, and opening stock. Used by dev mode and the test suites.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	items := []domain.Item{
		{ID: "item-ring-solitaire", SKU: "RING-SOL-18K", Name: "Solitaire Ring 18K", Category: "rings", UnitCost: dec("420.00"), PublicPrice: dec("980.00"), GrossWeight: dec("3.2"), SerialControlled: true, Active: true, CreatedAt: now},
		{ID: "item-chain-figaro", SKU: "CHAIN-FIG-45", Name: "Figaro Chain 45cm", Category: "chains", UnitCost: dec("185.50"), PublicPrice: dec("399.00"), GrossWeight: dec("8.7"), Active: true, CreatedAt: now},
		{ID: "item-stud-pearl", SKU: "STUD-PRL-6MM", Name: "Pearl Stud Earrings", Category: "earrings", UnitCost: dec("64.25"), PublicPrice: dec("149.00"), GrossWeight: dec("1.4"), Active: true, CreatedAt: now},
		{ID: "item-bangle-gold", SKU: "BNGL-22K-STD", Name: "Gold Bangle 22K", Category: "bangles", UnitCost: dec("610.00"), PublicPrice: dec("1250.00"), GrossWeight: dec("12.5"), SerialControlled: true, Active: true, CreatedAt: now},
		{ID: "item-solder-wire", SKU: "SOLDER-14K", Name: "Solder Wire 14K", Category: "consumables", UnitCost: dec("2.35"), PublicPrice: dec("4.10"), GrossWeight: dec("0.1"), Active: true, CreatedAt: now},
	}
	for _, item := range items {
		s.items[item.ID] = item
	}

	warehouses := []domain.Warehouse{
		{ID: "wh-vault", Code: "VAULT", Name: "Main Vault", NegativeStockAllowed: false, CreatedAt: now},
		{ID: "wh-showroom", Code: "SHOW", Name: "Showroom", NegativeStockAllowed: false, CreatedAt: now},
		{ID: "wh-workshop", Code: "WORK", Name: "Workshop", NegativeStockAllowed: true, CreatedAt: now},
	}
	for _, wh := range warehouses {
		s.warehouses[wh.ID] = wh
	}

	stock := []domain.InventoryRecord{
		{ID: "inv-ring-vault", ItemID: "item-ring-solitaire", WarehouseID: "wh-vault", OnHand: dec("24"), Reserved: dec("2"), CostPrice: dec("420.00"), ReorderPoint: dec("6"), ReorderQuantity: dec("12")},
		{ID: "inv-chain-vault", ItemID: "item-chain-figaro", WarehouseID: "wh-vault", OnHand: dec("60"), Reserved: dec("0"), CostPrice: dec("185.50"), ReorderPoint: dec("15"), ReorderQuantity: dec("30")},
		{ID: "inv-stud-showroom", ItemID: "item-stud-pearl", WarehouseID: "wh-showroom", OnHand: dec("35"), Reserved: dec("5"), CostPrice: dec("64.25"), ReorderPoint: dec("10"), ReorderQuantity: dec("20")},
		{ID: "inv-bangle-showroom", ItemID: "item-bangle-gold", WarehouseID: "wh-showroom", OnHand: dec("8"), Reserved: dec("0"), CostPrice: dec("610.00"), ReorderPoint: dec("4"), ReorderQuantity: dec("6")},
		{ID: "inv-solder-workshop", ItemID: "item-solder-wire", WarehouseID: "wh-workshop", OnHand: dec("140.5"), Reserved: dec("0"), CostPrice: dec("2.35"), ReorderPoint: dec("50"), ReorderQuantity: dec("100")},
	}
	for _, rec := range stock {
		rec.Version = 1
		s.inventories[rec.ID] = rec
		s.inventoryByKey[inventoryKey(rec.ItemID, rec.WarehouseID, rec.BinID)] = rec.ID
	}

	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func inventoryKey(itemID, warehouseID, binID string) string {
	return itemID + "|" + warehouseID + "|" + binID
}

// seedUsers builds the initial user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production
// deployments use the postgres store and managed accounts.
func seedUsers() map[string]domain.UserAccount {
	now := time.Now().UTC()

	adminPass := envOr("SEED_ADMIN_PASSWORD", "admin-dev-password")
	clerkPass := envOr("SEED_CLERK_PASSWORD", "clerk-dev-password")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CLERK_PASSWORD") == "" {
		log.Println("[memory] WARN: using default seed credentials; set SEED_ADMIN_PASSWORD and SEED_CLERK_PASSWORD")
	}

	users := make(map[string]domain.UserAccount, 2)
	for username, cred := range map[string]struct {
		password string
		role     string
	}{
		"admin": {adminPass, "admin"},
		"clerk": {clerkPass, "clerk"},
	} {
		hashed, err := bcrypt.GenerateFromPassword([]byte(cred.password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[memory] WARN: failed to hash seed password for %s: %v", username, err)
			continue
		}
		users[username] = domain.UserAccount{
			Username:  username,
			Password:  string(hashed),
			Role:      cred.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// --- InventoryRepository ---

func (s *Store) GetInventory(_ context.Context, id string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.inventories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) FindInventoryByKey(_ context.Context, itemID, warehouseID, binID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.inventoryByKey[inventoryKey(itemID, warehouseID, binID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec := s.inventories[id]
	return &rec, nil
}

func (s *Store) CreateInventory(_ context.Context, rec domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if rec.ItemID == "" || rec.WarehouseID == "" {
		return nil, fmt.Errorf("inventory record requires item and warehouse")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := inventoryKey(rec.ItemID, rec.WarehouseID, rec.BinID)
	if _, exists := s.inventoryByKey[key]; exists {
		return nil, store.ErrDuplicate
	}

	if rec.ID == "" {
		rec.ID = xid.New("inv")
	}
	rec.Version = 1
	s.inventories[rec.ID] = rec
	s.inventoryByKey[key] = rec.ID
	return &rec, nil
}

func (s *Store) CompareAndSwap(_ context.Context, rec domain.InventoryRecord, expectedVersion int64) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.inventories[rec.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}

	rec.Version = current.Version + 1
	s.inventories[rec.ID] = rec
	return &rec, nil
}

func (s *Store) ListInventory(_ context.Context, filter store.InventoryFilter) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0, len(s.inventories))
	for _, rec := range s.inventories {
		if filter.ItemID != "" && rec.ItemID != filter.ItemID {
			continue
		}
		if filter.WarehouseID != "" && rec.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendMovement(_ context.Context, movement domain.StockMovement) error {
	if movement.InventoryID == "" || movement.TransactionID == "" {
		return fmt.Errorf("movement requires inventory and transaction refs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	s.movements = append(s.movements, movement)
	return nil
}

func (s *Store) ListMovements(_ context.Context, transactionID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0, 4)
	for _, mov := range s.movements {
		if mov.TransactionID == transactionID {
			out = append(out, mov)
		}
	}
	return out, nil
}

// --- TransactionRepository ---

func (s *Store) LoadTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) SaveTransaction(_ context.Context, tx domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactions[tx.ID]; ok && existing.Status != domain.StatusDraft {
		return store.ErrInvalidState
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id string, from, to domain.TransactionStatus, postedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != from {
		return store.ErrInvalidState
	}

	tx.Status = to
	if postedAt != nil {
		tx.PostedAt = postedAt
	}
	s.transactions[id] = tx
	return nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.ItemID != "" && tx.ItemID != filter.ItemID {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- MasterDataRepository ---

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	for _, existing := range s.items {
		if strings.EqualFold(existing.SKU, item.SKU) {
			return nil, store.ErrDuplicate
		}
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) GetWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.warehouses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &wh, nil
}

func (s *Store) ListWarehouses(_ context.Context) ([]domain.Warehouse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Warehouse, 0, len(s.warehouses))
	for _, wh := range s.warehouses {
		out = append(out, wh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateWarehouse(_ context.Context, wh domain.Warehouse) (*domain.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wh.ID == "" {
		wh.ID = xid.New("wh")
	}
	for _, existing := range s.warehouses {
		if strings.EqualFold(existing.Code, wh.Code) {
			return nil, store.ErrDuplicate
		}
	}
	s.warehouses[wh.ID] = wh
	return &wh, nil
}

// --- AuditRepository ---

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && entry.CreatedAt.After(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- UserStore ---

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
