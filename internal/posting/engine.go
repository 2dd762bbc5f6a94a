package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gemledger/internal/cache"
	"gemledger/internal/domain"
	"gemledger/internal/store"
	"gemledger/internal/xid"
)

// maxCASAttempts bounds the optimistic-concurrency retry loop. It is
// the only liveness control on the posting path.
const maxCASAttempts = 3

// Engine is the transaction state machine and the only component that
// writes inventory quantities. Post and Cancel are its whole surface.
type Engine struct {
	inv       store.InventoryRepository
	txns      store.TransactionRepository
	master    store.MasterDataRepository
	validator *Validator
	checker   *SufficiencyChecker
	snapshots cache.AvailabilityCache
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(
	inv store.InventoryRepository,
	txns store.TransactionRepository,
	master store.MasterDataRepository,
	validator *Validator,
	checker *SufficiencyChecker,
	snapshots cache.AvailabilityCache,
	logger *zap.Logger,
) *Engine {
	if snapshots == nil {
		snapshots = cache.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		inv:       inv,
		txns:      txns,
		master:    master,
		validator: validator,
		checker:   checker,
		snapshots: snapshots,
		logger:    logger,
		now:       time.Now,
	}
}

// appliedMutation records one committed inventory write so a later
// failure can be compensated. Delta mutations are reversed by applying
// the negated delta; absolute mutations restore the prior on-hand.
type appliedMutation struct {
	inventoryID string
	delta       decimal.Decimal
	absolute    bool
	priorOnHand decimal.Decimal
}

// Post moves a Draft transaction to Posted, applying the per-type
// quantity mutation exactly once. Any failure after the first mutation
// committed triggers compensation before the error is returned.
func (e *Engine) Post(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := e.txns.LoadTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	if tx.Status != domain.StatusDraft {
		return nil, &StateError{TransactionID: transactionID, Status: tx.Status, Attempted: "post"}
	}

	// Draft data may have changed since it was saved, so the full rule
	// set runs again here.
	issues, err := e.validator.Validate(ctx, *tx)
	if err != nil {
		return nil, fmt.Errorf("validate transaction %s: %w", transactionID, err)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{TransactionID: transactionID, Issues: issues}
	}

	applied, err := e.applyMutations(ctx, *tx)
	if err != nil {
		if len(applied) > 0 {
			if cerr := e.compensate(ctx, *tx, applied, err); cerr != nil {
				return nil, cerr
			}
		}
		return nil, err
	}

	postedAt := e.now().UTC()
	if err := e.txns.UpdateTransactionStatus(ctx, transactionID, domain.StatusDraft, domain.StatusPosted, &postedAt); err != nil {
		// The mutation committed but the status stamp did not; roll the
		// inventory back so the caller never sees a half-applied post.
		if cerr := e.compensate(ctx, *tx, applied, err); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, store.ErrInvalidState) {
			return nil, &StateError{TransactionID: transactionID, Status: tx.Status, Attempted: "post"}
		}
		return nil, fmt.Errorf("stamp transaction %s posted: %w", transactionID, err)
	}

	e.invalidateSnapshots(ctx, applied)
	e.logger.Info("transaction posted",
		zap.String("transaction_id", transactionID),
		zap.String("type", string(tx.Type)),
		zap.String("item_id", tx.ItemID),
		zap.String("quantity", tx.Quantity.String()),
	)

	posted, err := e.txns.LoadTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("reload transaction %s: %w", transactionID, err)
	}
	return posted, nil
}

// Cancel is permitted only while Draft and has no inventory effect.
// Reversing a posted movement requires a new compensating transaction.
func (e *Engine) Cancel(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := e.txns.LoadTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	if tx.Status != domain.StatusDraft {
		return nil, &StateError{TransactionID: transactionID, Status: tx.Status, Attempted: "cancel"}
	}

	if err := e.txns.UpdateTransactionStatus(ctx, transactionID, domain.StatusDraft, domain.StatusCancelled, nil); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return nil, &StateError{TransactionID: transactionID, Status: tx.Status, Attempted: "cancel"}
		}
		return nil, fmt.Errorf("cancel transaction %s: %w", transactionID, err)
	}

	cancelled, err := e.txns.LoadTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("reload transaction %s: %w", transactionID, err)
	}
	return cancelled, nil
}

func (e *Engine) applyMutations(ctx context.Context, tx domain.Transaction) ([]appliedMutation, error) {
	switch tx.Type {
	case domain.TypeReceipt:
		return collectApplied(e.creditDestination(ctx, tx))

	case domain.TypeIssue:
		return collectApplied(e.debitSource(ctx, tx, tx.Quantity))

	case domain.TypeTransfer:
		// Two aggregates, no multi-record transaction primitive: debit
		// the source first, credit the destination second, compensate the
		// source if the credit fails.
		source, err := e.debitSource(ctx, tx, tx.Quantity)
		if err != nil {
			return collectApplied(source, err)
		}
		dest, err := e.creditDestination(ctx, tx)
		if err != nil {
			applied, _ := collectApplied(dest, err)
			return append([]appliedMutation{source}, applied...), err
		}
		return []appliedMutation{source, dest}, nil

	case domain.TypeAdjustment:
		enforceFloor, err := e.floorEnforced(ctx, tx.SourceWarehouseID)
		if err != nil {
			return nil, err
		}
		return collectApplied(e.applyDelta(ctx, tx, tx.SourceInventoryID, tx.Quantity, deltaOptions{
			enforceFloor: enforceFloor && tx.Quantity.IsNegative(),
		}))

	case domain.TypeCount:
		return collectApplied(e.applyAbsolute(ctx, tx, tx.SourceInventoryID, tx.Quantity, false))
	}

	return nil, fmt.Errorf("unsupported transaction type %q", tx.Type)
}

// collectApplied keeps a mutation whose inventory write committed even
// when a later step (journaling) failed, so compensation can see it.
func collectApplied(applied appliedMutation, err error) ([]appliedMutation, error) {
	if applied.inventoryID == "" {
		return nil, err
	}
	return []appliedMutation{applied}, err
}

func (e *Engine) debitSource(ctx context.Context, tx domain.Transaction, quantity decimal.Decimal) (appliedMutation, error) {
	enforceFloor, err := e.floorEnforced(ctx, tx.SourceWarehouseID)
	if err != nil {
		return appliedMutation{}, err
	}
	return e.applyDelta(ctx, tx, tx.SourceInventoryID, quantity.Neg(), deltaOptions{
		enforceFloor: enforceFloor,
	})
}

// creditDestination adds quantity to the destination record, creating it
// lazily when the (item, warehouse) pair has none yet.
func (e *Engine) creditDestination(ctx context.Context, tx domain.Transaction) (appliedMutation, error) {
	destID := tx.DestInventoryID
	if destID == "" {
		existing, err := e.inv.FindInventoryByKey(ctx, tx.ItemID, tx.DestWarehouseID, "")
		switch {
		case errors.Is(err, store.ErrNotFound):
			return e.createDestination(ctx, tx)
		case err != nil:
			return appliedMutation{}, fmt.Errorf("resolve destination inventory: %w", err)
		}
		destID = existing.ID
	}

	return e.applyDelta(ctx, tx, destID, tx.Quantity, deltaOptions{revalue: true})
}

func (e *Engine) createDestination(ctx context.Context, tx domain.Transaction) (appliedMutation, error) {
	now := e.now().UTC()
	rec := domain.InventoryRecord{
		ID:               xid.New("inv"),
		ItemID:           tx.ItemID,
		WarehouseID:      tx.DestWarehouseID,
		OnHand:           tx.Quantity,
		Reserved:         decimal.Zero,
		CostPrice:        tx.UnitCost,
		LastMovementDate: &now,
	}

	created, err := e.inv.CreateInventory(ctx, rec)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the creation race to a concurrent receipt; fall back to a
		// delta against the winner's record.
		existing, ferr := e.inv.FindInventoryByKey(ctx, tx.ItemID, tx.DestWarehouseID, "")
		if ferr != nil {
			return appliedMutation{}, fmt.Errorf("resolve destination inventory after create race: %w", ferr)
		}
		return e.applyDelta(ctx, tx, existing.ID, tx.Quantity, deltaOptions{revalue: true})
	}
	if err != nil {
		return appliedMutation{}, fmt.Errorf("create destination inventory: %w", err)
	}

	if err := e.inv.AppendMovement(ctx, domain.StockMovement{
		ID:            xid.New("mov"),
		InventoryID:   created.ID,
		TransactionID: tx.ID,
		Direction:     domain.DirectionIn,
		Quantity:      tx.Quantity,
		OnHandBefore:  decimal.Zero,
		OnHandAfter:   tx.Quantity,
		CreatedAt:     now,
	}); err != nil {
		return appliedMutation{inventoryID: created.ID, delta: tx.Quantity}, fmt.Errorf("journal destination credit: %w", err)
	}

	return appliedMutation{inventoryID: created.ID, delta: tx.Quantity}, nil
}

type deltaOptions struct {
	revalue      bool // carry the transaction's unit cost onto the record
	enforceFloor bool // reject writes that would take on-hand below zero
	reversal     bool // system-generated compensation write
}

// applyDelta runs the optimistic-concurrency loop for a single-record
// mutation: read, recheck sufficiency, compute, compare-and-swap. On a
// version mismatch the whole computation reruns against a fresh read, up
// to maxCASAttempts.
func (e *Engine) applyDelta(ctx context.Context, tx domain.Transaction, inventoryID string, delta decimal.Decimal, opts deltaOptions) (appliedMutation, error) {
	lastAvailable := decimal.Zero

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		rec, err := e.inv.GetInventory(ctx, inventoryID)
		if err != nil {
			return appliedMutation{}, fmt.Errorf("read inventory %s: %w", inventoryID, err)
		}

		if opts.enforceFloor && delta.IsNegative() {
			required := delta.Neg()
			sufficient, available := e.checker.CheckRecord(*rec, required)
			lastAvailable = available
			if !sufficient {
				return appliedMutation{}, &InsufficientStockError{
					InventoryID: inventoryID,
					Required:    required,
					Available:   available,
				}
			}
			if rec.OnHand.Add(delta).IsNegative() {
				return appliedMutation{}, &InsufficientStockError{
					InventoryID: inventoryID,
					Required:    required,
					Available:   rec.OnHand,
				}
			}
		}

		before := rec.OnHand
		now := e.now().UTC()
		next := *rec
		next.OnHand = before.Add(delta)
		next.LastMovementDate = &now
		if opts.revalue && tx.UnitCost.IsPositive() {
			next.CostPrice = tx.UnitCost
		}

		updated, err := e.inv.CompareAndSwap(ctx, next, rec.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			lastAvailable = rec.Available()
			continue
		}
		if err != nil {
			return appliedMutation{}, fmt.Errorf("write inventory %s: %w", inventoryID, err)
		}

		direction := domain.DirectionIn
		quantity := delta
		if delta.IsNegative() {
			direction = domain.DirectionOut
			quantity = delta.Neg()
		}
		applied := appliedMutation{inventoryID: inventoryID, delta: delta, priorOnHand: before}
		if err := e.inv.AppendMovement(ctx, domain.StockMovement{
			ID:            xid.New("mov"),
			InventoryID:   inventoryID,
			TransactionID: tx.ID,
			Direction:     direction,
			Quantity:      quantity,
			OnHandBefore:  before,
			OnHandAfter:   updated.OnHand,
			Reversal:      opts.reversal,
			CreatedAt:     now,
		}); err != nil {
			return applied, fmt.Errorf("journal movement on %s: %w", inventoryID, err)
		}
		return applied, nil
	}

	return appliedMutation{}, &ConcurrencyConflictError{
		InventoryID:   inventoryID,
		Attempts:      maxCASAttempts,
		Requested:     delta.Abs(),
		LastAvailable: lastAvailable,
	}
}

// applyAbsolute replaces on-hand with the counted quantity. Counts stamp
// the count-specific date rather than the movement date.
func (e *Engine) applyAbsolute(ctx context.Context, tx domain.Transaction, inventoryID string, counted decimal.Decimal, reversal bool) (appliedMutation, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		rec, err := e.inv.GetInventory(ctx, inventoryID)
		if err != nil {
			return appliedMutation{}, fmt.Errorf("read inventory %s: %w", inventoryID, err)
		}

		before := rec.OnHand
		now := e.now().UTC()
		next := *rec
		next.OnHand = counted
		next.LastCountDate = &now

		updated, err := e.inv.CompareAndSwap(ctx, next, rec.Version)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return appliedMutation{}, fmt.Errorf("write inventory %s: %w", inventoryID, err)
		}

		applied := appliedMutation{inventoryID: inventoryID, absolute: true, priorOnHand: before}
		if err := e.inv.AppendMovement(ctx, domain.StockMovement{
			ID:            xid.New("mov"),
			InventoryID:   inventoryID,
			TransactionID: tx.ID,
			Direction:     domain.DirectionSet,
			Quantity:      counted,
			OnHandBefore:  before,
			OnHandAfter:   updated.OnHand,
			Reversal:      reversal,
			CreatedAt:     now,
		}); err != nil {
			return applied, fmt.Errorf("journal count on %s: %w", inventoryID, err)
		}
		return applied, nil
	}

	return appliedMutation{}, &ConcurrencyConflictError{
		InventoryID: inventoryID,
		Attempts:    maxCASAttempts,
		Requested:   counted,
	}
}

// compensate reverses committed mutations in LIFO order so a failed
// posting never leaves inventory half-applied. Compensation writes skip
// the sufficiency and floor checks and are journaled as reversals. A
// compensation failure is fatal: it is logged with both refs for manual
// reconciliation and returned wrapping the original cause.
func (e *Engine) compensate(ctx context.Context, tx domain.Transaction, applied []appliedMutation, cause error) error {
	for i := len(applied) - 1; i >= 0; i-- {
		mut := applied[i]
		var err error
		if mut.absolute {
			_, err = e.applyAbsolute(ctx, tx, mut.inventoryID, mut.priorOnHand, true)
		} else {
			_, err = e.applyDelta(ctx, tx, mut.inventoryID, mut.delta.Neg(), deltaOptions{reversal: true})
		}
		if err != nil {
			e.logger.Error("compensation failed, manual reconciliation required",
				zap.String("transaction_id", tx.ID),
				zap.String("inventory_id", mut.inventoryID),
				zap.String("delta", mut.delta.String()),
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
			return &CompensationError{InventoryID: mut.inventoryID, Cause: cause, CompenErr: err}
		}
	}

	e.logger.Warn("posting compensated",
		zap.String("transaction_id", tx.ID),
		zap.Int("mutations_reversed", len(applied)),
		zap.NamedError("cause", cause),
	)
	e.invalidateSnapshots(ctx, applied)
	return nil
}

func (e *Engine) floorEnforced(ctx context.Context, warehouseID string) (bool, error) {
	wh, err := e.master.GetWarehouse(ctx, warehouseID)
	if err != nil {
		return false, fmt.Errorf("lookup warehouse %s: %w", warehouseID, err)
	}
	return !wh.NegativeStockAllowed, nil
}

// invalidateSnapshots drops cached availability for touched records.
// Best effort: a stale display snapshot expires on its own TTL.
func (e *Engine) invalidateSnapshots(ctx context.Context, applied []appliedMutation) {
	if len(applied) == 0 {
		return
	}
	ids := make([]string, 0, len(applied))
	for _, mut := range applied {
		ids = append(ids, mut.inventoryID)
	}
	if err := e.snapshots.InvalidateAvailability(ctx, ids...); err != nil {
		e.logger.Warn("availability snapshot invalidation failed", zap.Strings("inventory_ids", ids), zap.Error(err))
	}
}
