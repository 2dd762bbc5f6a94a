package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a stock movement.
type TransactionType string

const (
	TypeReceipt    TransactionType = "receipt"
	TypeIssue      TransactionType = "issue"
	TypeTransfer   TransactionType = "transfer"
	TypeAdjustment TransactionType = "adjustment"
	TypeCount      TransactionType = "count"
)

// TransactionStatus is the lifecycle state of a transaction.
// Posted and Cancelled are terminal.
type TransactionStatus string

const (
	StatusDraft     TransactionStatus = "draft"
	StatusPosted    TransactionStatus = "posted"
	StatusCancelled TransactionStatus = "cancelled"
)

// ReferenceType ties a transaction to its originating document.
type ReferenceType string

const (
	RefPurchase   ReferenceType = "purchase"
	RefSales      ReferenceType = "sales"
	RefProduction ReferenceType = "production"
	RefTransfer   ReferenceType = "transfer"
	RefManual     ReferenceType = "manual"
)

// Item is master data, read-only to the posting engine.
type Item struct {
	ID               string          `json:"id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	PublicPrice      decimal.Decimal `json:"public_price"`
	GrossWeight      decimal.Decimal `json:"gross_weight"`
	SerialControlled bool            `json:"serial_controlled"`
	LotControlled    bool            `json:"lot_controlled"`
	ExpiryTracked    bool            `json:"expiry_tracked"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TotalValue is the carrying value of the given on-hand quantity.
func (i Item) TotalValue(onHand decimal.Decimal) decimal.Decimal {
	return i.UnitCost.Mul(onHand)
}

type Warehouse struct {
	ID                   string    `json:"id"`
	Code                 string    `json:"code"`
	Name                 string    `json:"name"`
	NegativeStockAllowed bool      `json:"negative_stock_allowed"`
	CreatedAt            time.Time `json:"created_at"`
}

// InventoryRecord holds the stock position for one (item, warehouse[, bin])
// key. Mutated only by the posting engine; never deleted, only zeroed.
// Version is a monotonically increasing token used for optimistic
// concurrency on writes.
type InventoryRecord struct {
	ID               string          `json:"id"`
	ItemID           string          `json:"item_id"`
	WarehouseID      string          `json:"warehouse_id"`
	BinID            string          `json:"bin_id,omitempty"`
	OnHand           decimal.Decimal `json:"on_hand"`
	Reserved         decimal.Decimal `json:"reserved"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	ReorderPoint     decimal.Decimal `json:"reorder_point"`
	ReorderQuantity  decimal.Decimal `json:"reorder_quantity"`
	LastMovementDate *time.Time      `json:"last_movement_date,omitempty"`
	LastCountDate    *time.Time      `json:"last_count_date,omitempty"`
	Version          int64           `json:"version"`
}

// Available is on-hand minus reserved, floored at zero. Always derived,
// never stored.
func (r InventoryRecord) Available() decimal.Decimal {
	avail := r.OnHand.Sub(r.Reserved)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Transaction is a stock-movement document. Quantity is unsigned for
// receipt/issue/transfer, signed for adjustment, and an absolute counted
// value for count.
type Transaction struct {
	ID                string            `json:"id"`
	Number            string            `json:"number"`
	Type              TransactionType   `json:"type"`
	Status            TransactionStatus `json:"status"`
	ItemID            string            `json:"item_id"`
	Quantity          decimal.Decimal   `json:"quantity"`
	UnitCost          decimal.Decimal   `json:"unit_cost"`
	SourceWarehouseID string            `json:"source_warehouse_id,omitempty"`
	DestWarehouseID   string            `json:"dest_warehouse_id,omitempty"`
	SourceInventoryID string            `json:"source_inventory_id,omitempty"`
	DestInventoryID   string            `json:"dest_inventory_id,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	ReferenceType     ReferenceType     `json:"reference_type,omitempty"`
	Reference         string            `json:"reference,omitempty"`
	CreatedBy         string            `json:"created_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	PostedAt          *time.Time        `json:"posted_at,omitempty"`
}

// Outbound reports whether the type debits a source inventory record.
func (t Transaction) Outbound() bool {
	return t.Type == TypeIssue || t.Type == TypeTransfer
}

// MovementDirection marks which side of a transaction a journal row
// belongs to.
type MovementDirection string

const (
	DirectionIn  MovementDirection = "in"
	DirectionOut MovementDirection = "out"
	DirectionSet MovementDirection = "set"
)

// StockMovement is one append-only journal row per inventory mutation.
// Reversal is set on the compensating credit written when a transfer's
// destination leg fails after the source debit committed.
type StockMovement struct {
	ID            string            `json:"id"`
	InventoryID   string            `json:"inventory_id"`
	TransactionID string            `json:"transaction_id"`
	Direction     MovementDirection `json:"direction"`
	Quantity      decimal.Decimal   `json:"quantity"`
	OnHandBefore  decimal.Decimal   `json:"on_hand_before"`
	OnHandAfter   decimal.Decimal   `json:"on_hand_after"`
	Reversal      bool              `json:"reversal"`
	CreatedAt     time.Time         `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

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

// ClerkCreateRequest provisions a clerk account. Admin only.
type ClerkCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ClerkUser is the public view of a clerk account; the password hash
// never leaves the store.
type ClerkUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
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

// TransactionCreateRequest creates a Draft transaction.
type TransactionCreateRequest struct {
	Type              TransactionType `json:"type"`
	ItemID            string          `json:"item_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	SourceWarehouseID string          `json:"source_warehouse_id,omitempty"`
	DestWarehouseID   string          `json:"dest_warehouse_id,omitempty"`
	SourceInventoryID string          `json:"source_inventory_id,omitempty"`
	DestInventoryID   string          `json:"dest_inventory_id,omitempty"`
	Reason            string          `json:"reason,omitempty"`
	ReferenceType     ReferenceType   `json:"reference_type,omitempty"`
	Reference         string          `json:"reference,omitempty"`
}

// TransactionUpdateRequest patches a Draft transaction. Nil fields are
// left unchanged.
type TransactionUpdateRequest struct {
	Quantity          *decimal.Decimal `json:"quantity,omitempty"`
	UnitCost          *decimal.Decimal `json:"unit_cost,omitempty"`
	SourceWarehouseID *string          `json:"source_warehouse_id,omitempty"`
	DestWarehouseID   *string          `json:"dest_warehouse_id,omitempty"`
	SourceInventoryID *string          `json:"source_inventory_id,omitempty"`
	DestInventoryID   *string          `json:"dest_inventory_id,omitempty"`
	Reason            *string          `json:"reason,omitempty"`
	Reference         *string          `json:"reference,omitempty"`
}

type ItemCreateRequest struct {
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	PublicPrice      decimal.Decimal `json:"public_price"`
	GrossWeight      decimal.Decimal `json:"gross_weight"`
	SerialControlled bool            `json:"serial_controlled"`
	LotControlled    bool            `json:"lot_controlled"`
	ExpiryTracked    bool            `json:"expiry_tracked"`
}

type ItemUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Category    *string          `json:"category,omitempty"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
	PublicPrice *decimal.Decimal `json:"public_price,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type WarehouseCreateRequest struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	NegativeStockAllowed bool   `json:"negative_stock_allowed"`
}

// AvailabilityResponse answers "is quantity X available at record Y".
type AvailabilityResponse struct {
	InventoryID string          `json:"inventory_id"`
	Requested   decimal.Decimal `json:"requested"`
	Available   decimal.Decimal `json:"available"`
	Sufficient  bool            `json:"sufficient"`
}

// ReorderSuggestion is emitted when available stock falls to or below
// the record's reorder point.
type ReorderSuggestion struct {
	InventoryID    string          `json:"inventory_id"`
	ItemID         string          `json:"item_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	WarehouseID    string          `json:"warehouse_id"`
	Available      decimal.Decimal `json:"available"`
	ReorderPoint   decimal.Decimal `json:"reorder_point"`
	RecommendedQty decimal.Decimal `json:"recommended_qty"`
}

type ReorderSuggestionResponse struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Suggestions []ReorderSuggestion `json:"suggestions"`
}
