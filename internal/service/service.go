package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gemledger/internal/domain"
	"gemledger/internal/posting"
	"gemledger/internal/replenish"
	"gemledger/internal/store"
	"gemledger/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleAdmin = "admin"
	RoleClerk = "clerk"
)

// InputError reports request-level rule violations for master data and
// draft writes, mirroring the shape the posting validator produces.
type InputError struct {
	Issues []posting.ValidationIssue
}

func (e *InputError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

// Service is the application layer between HTTP and the posting engine.
// It owns draft lifecycle, master data rules, role checks, and audit
// logging; all stock mutation stays inside the engine.
type Service struct {
	repo      store.Repository
	engine    *posting.Engine
	checker   *posting.SufficiencyChecker
	replenish *replenish.Engine
	logger    *zap.Logger
	now       func() time.Time
}

func New(repo store.Repository, engine *posting.Engine, checker *posting.SufficiencyChecker, replenisher *replenish.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		checker:   checker,
		replenish: replenisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return actor, ErrForbidden
}

func (s *Service) audit(ctx context.Context, actor domain.Actor, action, entityType, entityID string, detail any) {
	payload := ""
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			payload = string(b)
		}
	}
	entry := domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        payload,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// --- transactions ---

var numberPrefixes = map[domain.TransactionType]string{
	domain.TypeReceipt:    "RCP",
	domain.TypeIssue:      "ISS",
	domain.TypeTransfer:   "TRF",
	domain.TypeAdjustment: "ADJ",
	domain.TypeCount:      "CNT",
}

func (s *Service) nextNumber(txType domain.TransactionType, at time.Time) string {
	prefix, ok := numberPrefixes[txType]
	if !ok {
		prefix = "TXN"
	}
	suffix := strings.TrimPrefix(xid.New("n"), "n-")
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), suffix[:6])
}

// CreateTransaction saves a new Draft. Drafts are allowed to be
// incomplete or even invalid; the full rule set gates posting, not
// creation.
func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (*domain.Transaction, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleClerk)
	if err != nil {
		return nil, err
	}

	switch req.Type {
	case domain.TypeReceipt, domain.TypeIssue, domain.TypeTransfer, domain.TypeAdjustment, domain.TypeCount:
	default:
		return nil, &InputError{Issues: []posting.ValidationIssue{
			{Field: "type", Rule: "known", Message: fmt.Sprintf("unknown transaction type %q", req.Type)},
		}}
	}

	now := s.now().UTC()
	tx := domain.Transaction{
		ID:                xid.New("txn"),
		Number:            s.nextNumber(req.Type, now),
		Type:              req.Type,
		Status:            domain.StatusDraft,
		ItemID:            req.ItemID,
		Quantity:          req.Quantity,
		UnitCost:          req.UnitCost,
		SourceWarehouseID: req.SourceWarehouseID,
		DestWarehouseID:   req.DestWarehouseID,
		SourceInventoryID: req.SourceInventoryID,
		DestInventoryID:   req.DestInventoryID,
		Reason:            req.Reason,
		ReferenceType:     req.ReferenceType,
		Reference:         req.Reference,
		CreatedBy:         actor.Username,
		CreatedAt:         now,
	}

	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	s.audit(ctx, actor, "transaction.create", "transaction", tx.ID, map[string]string{
		"type": string(tx.Type), "number": tx.Number,
	})
	return &tx, nil
}

// UpdateTransaction patches a Draft. Posted and cancelled transactions
// are immutable.
func (s *Service) UpdateTransaction(ctx context.Context, id string, req domain.TransactionUpdateRequest) (*domain.Transaction, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleClerk)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.LoadTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusDraft {
		return nil, &posting.StateError{TransactionID: id, Status: tx.Status, Attempted: "update"}
	}

	if req.Quantity != nil {
		tx.Quantity = *req.Quantity
	}
	if req.UnitCost != nil {
		tx.UnitCost = *req.UnitCost
	}
	if req.SourceWarehouseID != nil {
		tx.SourceWarehouseID = *req.SourceWarehouseID
	}
	if req.DestWarehouseID != nil {
		tx.DestWarehouseID = *req.DestWarehouseID
	}
	if req.SourceInventoryID != nil {
		tx.SourceInventoryID = *req.SourceInventoryID
	}
	if req.DestInventoryID != nil {
		tx.DestInventoryID = *req.DestInventoryID
	}
	if req.Reason != nil {
		tx.Reason = *req.Reason
	}
	if req.Reference != nil {
		tx.Reference = *req.Reference
	}

	if err := s.repo.SaveTransaction(ctx, *tx); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return nil, &posting.StateError{TransactionID: id, Status: tx.Status, Attempted: "update"}
		}
		return nil, fmt.Errorf("save transaction %s: %w", id, err)
	}

	s.audit(ctx, actor, "transaction.update", "transaction", id, nil)
	return tx, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.LoadTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, filter)
}

// PostTransaction drives the Draft to Posted transition through the
// engine and records the outcome in the audit trail either way.
func (s *Service) PostTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleClerk)
	if err != nil {
		return nil, err
	}

	posted, err := s.engine.Post(ctx, id)
	if err != nil {
		s.audit(ctx, actor, "transaction.post.failed", "transaction", id, map[string]string{"error": err.Error()})
		return nil, err
	}

	s.audit(ctx, actor, "transaction.post", "transaction", id, map[string]string{"number": posted.Number})
	return posted, nil
}

func (s *Service) CancelTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	actor, err := s.requireRole(ctx, RoleAdmin, RoleClerk)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.engine.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, "transaction.cancel", "transaction", id, nil)
	return cancelled, nil
}

// TransactionMovements returns the journal rows written when the
// transaction posted. Empty for drafts and cancelled transactions.
func (s *Service) TransactionMovements(ctx context.Context, id string) ([]domain.StockMovement, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	if _, err := s.repo.LoadTransaction(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, id)
}

// --- inventory ---

func (s *Service) GetInventory(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.GetInventory(ctx, id)
}

func (s *Service) ListInventory(ctx context.Context, filter store.InventoryFilter) ([]domain.InventoryRecord, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.ListInventory(ctx, filter)
}

// CheckAvailability answers display queries through the snapshot cache.
// The posting path never uses this.
func (s *Service) CheckAvailability(ctx context.Context, inventoryID string, quantity decimal.Decimal) (*domain.AvailabilityResponse, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}

	sufficient, available, err := s.checker.SnapshotAvailable(ctx, inventoryID, quantity)
	if err != nil {
		return nil, err
	}
	return &domain.AvailabilityResponse{
		InventoryID: inventoryID,
		Requested:   quantity,
		Available:   available,
		Sufficient:  sufficient,
	}, nil
}

func (s *Service) ReorderSuggestions(ctx context.Context, warehouseID string) (*domain.ReorderSuggestionResponse, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.replenish.Suggest(ctx, warehouseID)
}

// --- master data ---

func validateItemPricing(unitCost, publicPrice decimal.Decimal, add func(posting.ValidationIssue)) {
	if unitCost.IsNegative() {
		add(posting.ValidationIssue{Field: "unit_cost", Rule: "nonnegative", Message: "unit cost cannot be negative"})
	}
	// Selling below cost is a pricing mistake until someone makes it
	// explicit by lowering the cost first.
	if publicPrice.IsPositive() && publicPrice.LessThan(unitCost) {
		add(posting.ValidationIssue{Field: "public_price", Rule: "covers_cost", Message: "public price cannot be below unit cost"})
	}
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.Item, error) {
	actor, err := s.requireRole(ctx, RoleAdmin)
	if err != nil {
		return nil, err
	}

	var issues []posting.ValidationIssue
	add := func(issue posting.ValidationIssue) { issues = append(issues, issue) }
	if strings.TrimSpace(req.SKU) == "" {
		add(posting.ValidationIssue{Field: "sku", Rule: "required", Message: "sku is required"})
	}
	if strings.TrimSpace(req.Name) == "" {
		add(posting.ValidationIssue{Field: "name", Rule: "required", Message: "name is required"})
	}
	validateItemPricing(req.UnitCost, req.PublicPrice, add)
	if req.GrossWeight.IsNegative() {
		add(posting.ValidationIssue{Field: "gross_weight", Rule: "nonnegative", Message: "gross weight cannot be negative"})
	}
	if len(issues) > 0 {
		return nil, &InputError{Issues: issues}
	}

	item := domain.Item{
		ID:               xid.New("item"),
		SKU:              strings.TrimSpace(req.SKU),
		Name:             strings.TrimSpace(req.Name),
		Category:         req.Category,
		UnitCost:         req.UnitCost,
		PublicPrice:      req.PublicPrice,
		GrossWeight:      req.GrossWeight,
		SerialControlled: req.SerialControlled,
		LotControlled:    req.LotControlled,
		ExpiryTracked:    req.ExpiryTracked,
		Active:           true,
		CreatedAt:        s.now().UTC(),
	}

	created, err := s.repo.CreateItem(ctx, item)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, &InputError{Issues: []posting.ValidationIssue{
			{Field: "sku", Rule: "unique", Message: fmt.Sprintf("sku %s already exists", item.SKU)},
		}}
	}
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, "item.create", "item", created.ID, map[string]string{"sku": created.SKU})
	return created, nil
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (*domain.Item, error) {
	actor, err := s.requireRole(ctx, RoleAdmin)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Category != nil {
		item.Category = *req.Category
	}
	if req.UnitCost != nil {
		item.UnitCost = *req.UnitCost
	}
	if req.PublicPrice != nil {
		item.PublicPrice = *req.PublicPrice
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	var issues []posting.ValidationIssue
	validateItemPricing(item.UnitCost, item.PublicPrice, func(issue posting.ValidationIssue) {
		issues = append(issues, issue)
	})
	if len(issues) > 0 {
		return nil, &InputError{Issues: issues}
	}

	updated, err := s.repo.UpdateItem(ctx, *item)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, "item.update", "item", id, nil)
	return updated, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, id)
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateWarehouse(ctx context.Context, req domain.WarehouseCreateRequest) (*domain.Warehouse, error) {
	actor, err := s.requireRole(ctx, RoleAdmin)
	if err != nil {
		return nil, err
	}

	var issues []posting.ValidationIssue
	if strings.TrimSpace(req.Code) == "" {
		issues = append(issues, posting.ValidationIssue{Field: "code", Rule: "required", Message: "code is required"})
	}
	if strings.TrimSpace(req.Name) == "" {
		issues = append(issues, posting.ValidationIssue{Field: "name", Rule: "required", Message: "name is required"})
	}
	if len(issues) > 0 {
		return nil, &InputError{Issues: issues}
	}

	wh := domain.Warehouse{
		ID:                   xid.New("wh"),
		Code:                 strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:                 strings.TrimSpace(req.Name),
		NegativeStockAllowed: req.NegativeStockAllowed,
		CreatedAt:            s.now().UTC(),
	}

	created, err := s.repo.CreateWarehouse(ctx, wh)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, &InputError{Issues: []posting.ValidationIssue{
			{Field: "code", Rule: "unique", Message: fmt.Sprintf("warehouse code %s already exists", wh.Code)},
		}}
	}
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, "warehouse.create", "warehouse", created.ID, map[string]string{"code": created.Code})
	return created, nil
}

func (s *Service) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	if _, err := s.requireRole(ctx, RoleAdmin, RoleClerk); err != nil {
		return nil, err
	}
	return s.repo.ListWarehouses(ctx)
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireRole(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}
