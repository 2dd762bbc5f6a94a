package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
	"gemledger/internal/store"
	"gemledger/internal/xid"
)

const uniqueViolation = "23505"

// Store is the postgres-backed store.Repository. Optimistic concurrency
// on inventory_records rides on a version column: writes are conditional
// on the version the caller read, and bump it by one.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- InventoryRepository ---

const inventoryColumns = `id, item_id, warehouse_id, COALESCE(bin_id, ''), on_hand, reserved,
	cost_price, reorder_point, reorder_quantity, last_movement_date, last_count_date, version`

func scanInventory(row interface{ Scan(...any) error }) (*domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	var onHand, reserved, costPrice, reorderPoint, reorderQty string
	var lastMovement, lastCount sql.NullTime

	err := row.Scan(&rec.ID, &rec.ItemID, &rec.WarehouseID, &rec.BinID, &onHand, &reserved,
		&costPrice, &reorderPoint, &reorderQty, &lastMovement, &lastCount, &rec.Version)
	if err != nil {
		return nil, err
	}

	if rec.OnHand, err = decimal.NewFromString(onHand); err != nil {
		return nil, fmt.Errorf("parse on_hand: %w", err)
	}
	if rec.Reserved, err = decimal.NewFromString(reserved); err != nil {
		return nil, fmt.Errorf("parse reserved: %w", err)
	}
	if rec.CostPrice, err = decimal.NewFromString(costPrice); err != nil {
		return nil, fmt.Errorf("parse cost_price: %w", err)
	}
	if rec.ReorderPoint, err = decimal.NewFromString(reorderPoint); err != nil {
		return nil, fmt.Errorf("parse reorder_point: %w", err)
	}
	if rec.ReorderQuantity, err = decimal.NewFromString(reorderQty); err != nil {
		return nil, fmt.Errorf("parse reorder_quantity: %w", err)
	}
	if lastMovement.Valid {
		t := lastMovement.Time
		rec.LastMovementDate = &t
	}
	if lastCount.Valid {
		t := lastCount.Time
		rec.LastCountDate = &t
	}
	return &rec, nil
}

func (s *Store) GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory_records WHERE id = $1`, id)

	rec, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) FindInventoryByKey(ctx context.Context, itemID, warehouseID, binID string) (*domain.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inventoryColumns+` FROM inventory_records
		 WHERE item_id = $1 AND warehouse_id = $2 AND COALESCE(bin_id, '') = $3`,
		itemID, warehouseID, binID)

	rec, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find inventory by key: %w", err)
	}
	return rec, nil
}

func (s *Store) CreateInventory(ctx context.Context, rec domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if rec.ID == "" {
		rec.ID = xid.New("inv")
	}
	rec.Version = 1

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_records
		   (id, item_id, warehouse_id, bin_id, on_hand, reserved, cost_price,
		    reorder_point, reorder_quantity, last_movement_date, last_count_date, version)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.ItemID, rec.WarehouseID, rec.BinID,
		rec.OnHand.String(), rec.Reserved.String(), rec.CostPrice.String(),
		rec.ReorderPoint.String(), rec.ReorderQuantity.String(),
		rec.LastMovementDate, rec.LastCountDate, rec.Version)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create inventory: %w", err)
	}
	return &rec, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, rec domain.InventoryRecord, expectedVersion int64) (*domain.InventoryRecord, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE inventory_records
		 SET on_hand = $1, reserved = $2, cost_price = $3, reorder_point = $4,
		     reorder_quantity = $5, last_movement_date = $6, last_count_date = $7,
		     version = version + 1
		 WHERE id = $8 AND version = $9`,
		rec.OnHand.String(), rec.Reserved.String(), rec.CostPrice.String(),
		rec.ReorderPoint.String(), rec.ReorderQuantity.String(),
		rec.LastMovementDate, rec.LastCountDate, rec.ID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("compare-and-swap inventory %s: %w", rec.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("compare-and-swap inventory %s: %w", rec.ID, err)
	}
	if rows == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM inventory_records WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("compare-and-swap inventory %s: %w", rec.ID, err)
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrVersionConflict
	}

	rec.Version = expectedVersion + 1
	return &rec, nil
}

func (s *Store) ListInventory(ctx context.Context, filter store.InventoryFilter) ([]domain.InventoryRecord, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory_records WHERE 1=1`
	args := []any{}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		query += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	if filter.WarehouseID != "" {
		args = append(args, filter.WarehouseID)
		query += fmt.Sprintf(" AND warehouse_id = $%d", len(args))
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	out := make([]domain.InventoryRecord, 0, 32)
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("list inventory: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) AppendMovement(ctx context.Context, m domain.StockMovement) error {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock_movements
		   (id, inventory_id, transaction_id, direction, quantity,
		    on_hand_before, on_hand_after, reversal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.InventoryID, m.TransactionID, string(m.Direction), m.Quantity.String(),
		m.OnHandBefore.String(), m.OnHandAfter.String(), m.Reversal, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, transactionID string) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, inventory_id, transaction_id, direction, quantity,
		        on_hand_before, on_hand_after, reversal, created_at
		 FROM stock_movements WHERE transaction_id = $1 ORDER BY created_at`,
		transactionID)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StockMovement, 0, 4)
	for rows.Next() {
		var m domain.StockMovement
		var direction, quantity, before, after string
		if err := rows.Scan(&m.ID, &m.InventoryID, &m.TransactionID, &direction, &quantity,
			&before, &after, &m.Reversal, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("list movements: %w", err)
		}
		m.Direction = domain.MovementDirection(direction)
		if m.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse movement quantity: %w", err)
		}
		if m.OnHandBefore, err = decimal.NewFromString(before); err != nil {
			return nil, fmt.Errorf("parse on_hand_before: %w", err)
		}
		if m.OnHandAfter, err = decimal.NewFromString(after); err != nil {
			return nil, fmt.Errorf("parse on_hand_after: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- TransactionRepository ---

const transactionColumns = `id, number, type, status, item_id, quantity, unit_cost,
	COALESCE(source_warehouse_id, ''), COALESCE(dest_warehouse_id, ''),
	COALESCE(source_inventory_id, ''), COALESCE(dest_inventory_id, ''),
	COALESCE(reason, ''), COALESCE(reference_type, ''), COALESCE(reference, ''),
	COALESCE(created_by, ''), created_at, posted_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, status, quantity, unitCost, refType string
	var postedAt sql.NullTime

	err := row.Scan(&tx.ID, &tx.Number, &txType, &status, &tx.ItemID, &quantity, &unitCost,
		&tx.SourceWarehouseID, &tx.DestWarehouseID, &tx.SourceInventoryID, &tx.DestInventoryID,
		&tx.Reason, &refType, &tx.Reference, &tx.CreatedBy, &tx.CreatedAt, &postedAt)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	tx.ReferenceType = domain.ReferenceType(refType)
	if tx.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if tx.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
		return nil, fmt.Errorf("parse unit_cost: %w", err)
	}
	if postedAt.Valid {
		t := postedAt.Time
		tx.PostedAt = &t
	}
	return &tx, nil
}

func (s *Store) LoadTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM inventory_transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx domain.Transaction) error {
	// Full-row upsert is only legal while the stored row is still Draft;
	// posted and cancelled rows are immutable.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_transactions
		   (id, number, type, status, item_id, quantity, unit_cost,
		    source_warehouse_id, dest_warehouse_id, source_inventory_id, dest_inventory_id,
		    reason, reference_type, reference, created_by, created_at, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
		         NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''),
		         NULLIF($15, ''), $16, $17)
		 ON CONFLICT (id) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   unit_cost = EXCLUDED.unit_cost,
		   source_warehouse_id = EXCLUDED.source_warehouse_id,
		   dest_warehouse_id = EXCLUDED.dest_warehouse_id,
		   source_inventory_id = EXCLUDED.source_inventory_id,
		   dest_inventory_id = EXCLUDED.dest_inventory_id,
		   reason = EXCLUDED.reason,
		   reference_type = EXCLUDED.reference_type,
		   reference = EXCLUDED.reference
		 WHERE inventory_transactions.status = 'draft'`,
		tx.ID, tx.Number, string(tx.Type), string(tx.Status), tx.ItemID,
		tx.Quantity.String(), tx.UnitCost.String(),
		tx.SourceWarehouseID, tx.DestWarehouseID, tx.SourceInventoryID, tx.DestInventoryID,
		tx.Reason, string(tx.ReferenceType), tx.Reference, tx.CreatedBy, tx.CreatedAt, tx.PostedAt)
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	if rows == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TransactionStatus, postedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE inventory_transactions
		 SET status = $1, posted_at = COALESCE($2, posted_at)
		 WHERE id = $3 AND status = $4`,
		string(to), postedAt, id, string(from))
	if err != nil {
		return fmt.Errorf("update transaction %s status: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction %s status: %w", id, err)
	}
	if rows == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM inventory_transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("update transaction %s status: %w", id, err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrInvalidState
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		query += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// --- MasterDataRepository ---

const itemColumns = `id, sku, name, category, unit_cost, public_price, gross_weight,
	serial_controlled, lot_controlled, expiry_tracked, active, created_at`

func scanItem(row interface{ Scan(...any) error }) (*domain.Item, error) {
	var item domain.Item
	var unitCost, publicPrice, grossWeight string

	err := row.Scan(&item.ID, &item.SKU, &item.Name, &item.Category, &unitCost, &publicPrice,
		&grossWeight, &item.SerialControlled, &item.LotControlled, &item.ExpiryTracked,
		&item.Active, &item.CreatedAt)
	if err != nil {
		return nil, err
	}

	if item.UnitCost, err = decimal.NewFromString(unitCost); err != nil {
		return nil, fmt.Errorf("parse unit_cost: %w", err)
	}
	if item.PublicPrice, err = decimal.NewFromString(publicPrice); err != nil {
		return nil, fmt.Errorf("parse public_price: %w", err)
	}
	if item.GrossWeight, err = decimal.NewFromString(grossWeight); err != nil {
		return nil, fmt.Errorf("parse gross_weight: %w", err)
	}
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Item, 0, 32)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items
		   (id, sku, name, category, unit_cost, public_price, gross_weight,
		    serial_controlled, lot_controlled, expiry_tracked, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.SKU, item.Name, item.Category,
		item.UnitCost.String(), item.PublicPrice.String(), item.GrossWeight.String(),
		item.SerialControlled, item.LotControlled, item.ExpiryTracked, item.Active, item.CreatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE items
		 SET name = $1, category = $2, unit_cost = $3, public_price = $4, active = $5
		 WHERE id = $6`,
		item.Name, item.Category, item.UnitCost.String(), item.PublicPrice.String(),
		item.Active, item.ID)
	if err != nil {
		return nil, fmt.Errorf("update item %s: %w", item.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update item %s: %w", item.ID, err)
	}
	if rows == 0 {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var wh domain.Warehouse
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, negative_stock_allowed, created_at FROM warehouses WHERE id = $1`, id).
		Scan(&wh.ID, &wh.Code, &wh.Name, &wh.NegativeStockAllowed, &wh.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get warehouse %s: %w", id, err)
	}
	return &wh, nil
}

func (s *Store) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, negative_stock_allowed, created_at FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Warehouse, 0, 8)
	for rows.Next() {
		var wh domain.Warehouse
		if err := rows.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.NegativeStockAllowed, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("list warehouses: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) CreateWarehouse(ctx context.Context, wh domain.Warehouse) (*domain.Warehouse, error) {
	if wh.ID == "" {
		wh.ID = xid.New("wh")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO warehouses (id, code, name, negative_stock_allowed, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		wh.ID, wh.Code, wh.Name, wh.NegativeStockAllowed, wh.CreatedAt)
	if isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("create warehouse: %w", err)
	}
	return &wh, nil
}

// --- AuditRepository ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs
		   (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		 FROM audit_logs
		 WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		   AND ($2::timestamptz IS NULL OR created_at <= $2)
		 ORDER BY created_at DESC LIMIT $3`,
		nullableTime(from), nullableTime(to), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("list audit logs: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// --- UserStore ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password, role, active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password = $1 WHERE username = $2`, password, username)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
