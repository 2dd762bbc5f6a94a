package posting

import (
	"context"
	"errors"
	"fmt"

	"gemledger/internal/domain"
	"gemledger/internal/store"
)

// Validator is the stateless rule engine run at draft save and again
// immediately before posting. It performs read-only lookups and never
// mutates anything.
type Validator struct {
	master  store.MasterDataRepository
	inv     store.InventoryRepository
	checker *SufficiencyChecker
}

func NewValidator(master store.MasterDataRepository, inv store.InventoryRepository, checker *SufficiencyChecker) *Validator {
	return &Validator{master: master, inv: inv, checker: checker}
}

// Validate returns the list of rule violations for the transaction. A
// non-nil error means a lookup failed for infrastructure reasons, not
// that the transaction is invalid.
func (v *Validator) Validate(ctx context.Context, tx domain.Transaction) ([]ValidationIssue, error) {
	var issues []ValidationIssue
	add := func(field, rule, format string, args ...any) {
		issues = append(issues, ValidationIssue{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	switch tx.Type {
	case domain.TypeReceipt, domain.TypeIssue, domain.TypeTransfer, domain.TypeAdjustment, domain.TypeCount:
	default:
		add("type", "known", "unknown transaction type %q", tx.Type)
		return issues, nil
	}

	if tx.ItemID == "" {
		add("item_id", "required", "item is required")
		return issues, nil
	}

	item, err := v.master.GetItem(ctx, tx.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		add("item_id", "exists", "item %s does not exist", tx.ItemID)
		return issues, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup item %s: %w", tx.ItemID, err)
	}
	if !item.Active {
		add("item_id", "active", "item %s is inactive", tx.ItemID)
	}

	v.validateQuantity(tx, *item, add)

	srcWh, dstWh, err := v.validateWarehouses(ctx, tx, add)
	if err != nil {
		return nil, err
	}

	if err := v.validateInventoryRefs(ctx, tx, srcWh, dstWh, add); err != nil {
		return nil, err
	}

	if (tx.Type == domain.TypeIssue || tx.Type == domain.TypeAdjustment) && tx.Reason == "" {
		add("reason", "required", "reason is required for %s transactions", tx.Type)
	}

	return issues, nil
}

func (v *Validator) validateQuantity(tx domain.Transaction, item domain.Item, add func(string, string, string, ...any)) {
	switch tx.Type {
	case domain.TypeReceipt, domain.TypeIssue, domain.TypeTransfer:
		if !tx.Quantity.IsPositive() {
			add("quantity", "positive", "quantity must be greater than zero")
		}
	case domain.TypeAdjustment:
		if tx.Quantity.IsZero() {
			add("quantity", "nonzero", "adjustment quantity cannot be zero")
		}
	case domain.TypeCount:
		if tx.Quantity.IsNegative() {
			add("quantity", "nonnegative", "counted quantity cannot be negative")
		}
	}

	if item.SerialControlled && !tx.Quantity.IsInteger() {
		add("quantity", "whole", "serial-controlled items require whole-number quantities")
	}

	// Receipt and transfer create or revalue inventory records, so the
	// cost carried onto the record must be meaningful.
	if (tx.Type == domain.TypeReceipt || tx.Type == domain.TypeTransfer) && !tx.UnitCost.IsPositive() {
		add("unit_cost", "positive", "unit cost must be greater than zero")
	}
}

func (v *Validator) validateWarehouses(ctx context.Context, tx domain.Transaction, add func(string, string, string, ...any)) (src, dst *domain.Warehouse, err error) {
	needsSource := tx.Type == domain.TypeIssue || tx.Type == domain.TypeTransfer ||
		tx.Type == domain.TypeAdjustment || tx.Type == domain.TypeCount
	needsDest := tx.Type == domain.TypeReceipt || tx.Type == domain.TypeTransfer

	if needsSource {
		if tx.SourceWarehouseID == "" {
			add("source_warehouse_id", "required", "source warehouse is required")
		} else {
			src, err = v.lookupWarehouse(ctx, tx.SourceWarehouseID, "source_warehouse_id", add)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	if needsDest {
		if tx.DestWarehouseID == "" {
			add("dest_warehouse_id", "required", "destination warehouse is required")
		} else {
			dst, err = v.lookupWarehouse(ctx, tx.DestWarehouseID, "dest_warehouse_id", add)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	if tx.Type == domain.TypeTransfer && tx.SourceWarehouseID != "" && tx.SourceWarehouseID == tx.DestWarehouseID {
		add("dest_warehouse_id", "distinct", "source and destination warehouses must differ for transfers")
	}

	return src, dst, nil
}

func (v *Validator) lookupWarehouse(ctx context.Context, id, field string, add func(string, string, string, ...any)) (*domain.Warehouse, error) {
	wh, err := v.master.GetWarehouse(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		add(field, "exists", "warehouse %s does not exist", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup warehouse %s: %w", id, err)
	}
	return wh, nil
}

func (v *Validator) validateInventoryRefs(ctx context.Context, tx domain.Transaction, srcWh, dstWh *domain.Warehouse, add func(string, string, string, ...any)) error {
	sourceRefRequired := tx.Type == domain.TypeIssue || tx.Type == domain.TypeTransfer ||
		tx.Type == domain.TypeAdjustment || tx.Type == domain.TypeCount

	if sourceRefRequired && tx.SourceInventoryID == "" {
		add("source_inventory_id", "required", "source inventory record is required")
	}

	var sourceRec *domain.InventoryRecord
	if tx.SourceInventoryID != "" {
		rec, err := v.checkRefMatches(ctx, tx.SourceInventoryID, tx.ItemID, tx.SourceWarehouseID, "source_inventory_id", add)
		if err != nil {
			return err
		}
		sourceRec = rec
	}

	// Destination ref is always optional; the engine creates the record
	// lazily on first receipt or transfer-in. A supplied ref must still
	// resolve to the transaction's (item, warehouse) pair.
	if tx.DestInventoryID != "" {
		if _, err := v.checkRefMatches(ctx, tx.DestInventoryID, tx.ItemID, tx.DestWarehouseID, "dest_inventory_id", add); err != nil {
			return err
		}
	}

	// Availability gate for outbound types. Skipped when the source
	// warehouse permits negative stock.
	if tx.Outbound() && sourceRec != nil && (srcWh == nil || !srcWh.NegativeStockAllowed) {
		sufficient, available, err := v.checker.CheckAvailable(ctx, tx.SourceInventoryID, tx.Quantity)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check availability on %s: %w", tx.SourceInventoryID, err)
		}
		if err == nil && !sufficient {
			add("quantity", "sufficient", "insufficient available stock: available %s, required %s", available, tx.Quantity)
		}
	}

	return nil
}

// checkRefMatches verifies a supplied inventory ref resolves to the same
// (item, warehouse) pair as the transaction. A mismatch is a validation
// issue, never a silent correction.
func (v *Validator) checkRefMatches(ctx context.Context, invID, itemID, warehouseID, field string, add func(string, string, string, ...any)) (*domain.InventoryRecord, error) {
	rec, err := v.inv.GetInventory(ctx, invID)
	if errors.Is(err, store.ErrNotFound) {
		add(field, "exists", "inventory record %s does not exist", invID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup inventory %s: %w", invID, err)
	}

	if rec.ItemID != itemID || (warehouseID != "" && rec.WarehouseID != warehouseID) {
		add(field, "match", "inventory record %s does not match the transaction's item and warehouse", invID)
		return nil, nil
	}
	return rec, nil
}
