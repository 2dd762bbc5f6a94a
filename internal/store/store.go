package store

import (
	"context"
	"errors"
	"time"

	"gemledger/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidState    = errors.New("invalid transaction state")
	ErrDuplicate       = errors.New("duplicate record")
)

// InventoryFilter narrows List queries. Empty fields match everything.
type InventoryFilter struct {
	ItemID      string
	WarehouseID string
}

type TransactionFilter struct {
	Status domain.TransactionStatus
	Type   domain.TransactionType
	ItemID string
	Limit  int
}

// InventoryRepository is the only write path for stock positions. The
// returned records carry the version token expected by CompareAndSwap.
type InventoryRepository interface {
	GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error)
	FindInventoryByKey(ctx context.Context, itemID, warehouseID, binID string) (*domain.InventoryRecord, error)
	CreateInventory(ctx context.Context, rec domain.InventoryRecord) (*domain.InventoryRecord, error)
	// CompareAndSwap persists rec only if the stored version still equals
	// expectedVersion, returning the record with its new version.
	// ErrVersionConflict signals a lost race; callers re-read and retry.
	CompareAndSwap(ctx context.Context, rec domain.InventoryRecord, expectedVersion int64) (*domain.InventoryRecord, error)
	ListInventory(ctx context.Context, filter InventoryFilter) ([]domain.InventoryRecord, error)
	AppendMovement(ctx context.Context, movement domain.StockMovement) error
	ListMovements(ctx context.Context, transactionID string) ([]domain.StockMovement, error)
}

// TransactionRepository persists movement documents. Status transitions
// go through UpdateTransactionStatus so the store can enforce them
// atomically.
type TransactionRepository interface {
	LoadTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	SaveTransaction(ctx context.Context, tx domain.Transaction) error
	// UpdateTransactionStatus moves id from the expected current status to
	// the new one; ErrInvalidState if the stored status differs.
	UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TransactionStatus, postedAt *time.Time) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
}

// MasterDataRepository serves item and warehouse lookups. Read-only from
// the posting engine's point of view.
type MasterDataRepository interface {
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	ListItems(ctx context.Context) ([]domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
	CreateWarehouse(ctx context.Context, wh domain.Warehouse) (*domain.Warehouse, error)
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Repository is the composite contract implemented by the memory and
// postgres stores.
type Repository interface {
	InventoryRepository
	TransactionRepository
	MasterDataRepository
	AuditRepository
	UserStore
}
