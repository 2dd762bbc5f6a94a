package posting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
	"gemledger/internal/store"
	"gemledger/internal/store/memory"
	"gemledger/internal/xid"
)

func newTestEngine(repo store.Repository) *Engine {
	checker := NewSufficiencyChecker(repo, nil)
	validator := NewValidator(repo, repo, checker)
	return NewEngine(repo, repo, repo, validator, checker, nil, nil)
}

func saveDraft(t *testing.T, repo store.TransactionRepository, tx domain.Transaction) domain.Transaction {
	t.Helper()
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	tx.Status = domain.StatusDraft
	tx.CreatedAt = time.Now().UTC()
	if err := repo.SaveTransaction(context.Background(), tx); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	return tx
}

func mustGetInventory(t *testing.T, repo store.InventoryRepository, id string) domain.InventoryRecord {
	t.Helper()
	rec, err := repo.GetInventory(context.Background(), id)
	if err != nil {
		t.Fatalf("get inventory %s: %v", id, err)
	}
	return *rec
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPostIssueDebitsSource(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-ring-solitaire",
		Quantity:          dec("10"),
		SourceWarehouseID: "wh-vault",
		SourceInventoryID: "inv-ring-vault",
		Reason:            "customer order",
	})

	posted, err := engine.Post(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.Status != domain.StatusPosted {
		t.Fatalf("expected posted status, got %q", posted.Status)
	}
	if posted.PostedAt == nil {
		t.Fatalf("expected posted_at to be stamped")
	}

	rec := mustGetInventory(t, repo, "inv-ring-vault")
	if !rec.OnHand.Equal(dec("14")) {
		t.Fatalf("expected on-hand 14, got %s", rec.OnHand)
	}
	if rec.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", rec.Version)
	}

	movements, err := repo.ListMovements(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	mov := movements[0]
	if mov.Direction != domain.DirectionOut || !mov.Quantity.Equal(dec("10")) {
		t.Fatalf("unexpected movement: %+v", mov)
	}
	if !mov.OnHandBefore.Equal(dec("24")) || !mov.OnHandAfter.Equal(dec("14")) {
		t.Fatalf("expected before/after 24/14, got %s/%s", mov.OnHandBefore, mov.OnHandAfter)
	}
}

func TestPostIssueInsufficientStockFailsValidation(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	// inv-ring-vault has 24 on hand, 2 reserved, so 22 available.
	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-ring-solitaire",
		Quantity:          dec("23"),
		SourceWarehouseID: "wh-vault",
		SourceInventoryID: "inv-ring-vault",
		Reason:            "bulk order",
	})

	_, err := engine.Post(context.Background(), tx.ID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-ring-vault")
	if !rec.OnHand.Equal(dec("24")) {
		t.Fatalf("failed post must not mutate stock, got on-hand %s", rec.OnHand)
	}
	reloaded, _ := repo.LoadTransaction(context.Background(), tx.ID)
	if reloaded.Status != domain.StatusDraft {
		t.Fatalf("failed post must leave the draft intact, got %q", reloaded.Status)
	}
}

func TestPostIssueNegativeStockAllowedGoesBelowZero(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	// wh-workshop permits negative stock; the availability gate and the
	// floor check are both skipped.
	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-solder-wire",
		Quantity:          dec("200"),
		SourceWarehouseID: "wh-workshop",
		SourceInventoryID: "inv-solder-workshop",
		Reason:            "production run",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("post: %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-solder-workshop")
	if !rec.OnHand.Equal(dec("-59.5")) {
		t.Fatalf("expected on-hand -59.5, got %s", rec.OnHand)
	}
	if !rec.Available().Equal(decimal.Zero) {
		t.Fatalf("available must floor at zero, got %s", rec.Available())
	}
}

func TestPostReceiptCreatesDestinationLazily(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	// No inventory record exists for pearl studs in the vault.
	tx := saveDraft(t, repo, domain.Transaction{
		Type:            domain.TypeReceipt,
		ItemID:          "item-stud-pearl",
		Quantity:        dec("12"),
		UnitCost:        dec("5.00"),
		DestWarehouseID: "wh-vault",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("post: %v", err)
	}

	rec, err := repo.FindInventoryByKey(context.Background(), "item-stud-pearl", "wh-vault", "")
	if err != nil {
		t.Fatalf("expected destination record to exist: %v", err)
	}
	if !rec.OnHand.Equal(dec("12")) {
		t.Fatalf("expected on-hand 12, got %s", rec.OnHand)
	}
	if !rec.CostPrice.Equal(dec("5.00")) {
		t.Fatalf("expected cost price 5.00, got %s", rec.CostPrice)
	}
	if rec.LastMovementDate == nil {
		t.Fatalf("expected last movement date to be stamped")
	}
}

func TestPostReceiptRevaluesExistingRecord(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:            domain.TypeReceipt,
		ItemID:          "item-ring-solitaire",
		Quantity:        dec("5"),
		UnitCost:        dec("450.00"),
		DestWarehouseID: "wh-vault",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("post: %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-ring-vault")
	if !rec.OnHand.Equal(dec("29")) {
		t.Fatalf("expected on-hand 29, got %s", rec.OnHand)
	}
	if !rec.CostPrice.Equal(dec("450.00")) {
		t.Fatalf("expected cost revalued to 450.00, got %s", rec.CostPrice)
	}
}

func TestPostTransferConservesTotalQuantity(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeTransfer,
		ItemID:            "item-ring-solitaire",
		Quantity:          dec("10"),
		UnitCost:          dec("420.00"),
		SourceWarehouseID: "wh-vault",
		DestWarehouseID:   "wh-showroom",
		SourceInventoryID: "inv-ring-vault",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("post: %v", err)
	}

	source := mustGetInventory(t, repo, "inv-ring-vault")
	dest, err := repo.FindInventoryByKey(context.Background(), "item-ring-solitaire", "wh-showroom", "")
	if err != nil {
		t.Fatalf("expected destination record: %v", err)
	}

	if !source.OnHand.Equal(dec("14")) {
		t.Fatalf("expected source on-hand 14, got %s", source.OnHand)
	}
	if !dest.OnHand.Equal(dec("10")) {
		t.Fatalf("expected destination on-hand 10, got %s", dest.OnHand)
	}
	if total := source.OnHand.Add(dest.OnHand); !total.Equal(dec("24")) {
		t.Fatalf("transfer must conserve total quantity, got %s", total)
	}

	movements, _ := repo.ListMovements(context.Background(), tx.ID)
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements (out + in), got %d", len(movements))
	}
}

func TestPostAdjustmentAppliesSignedDelta(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeAdjustment,
		ItemID:            "item-bangle-gold",
		Quantity:          dec("-3"),
		SourceWarehouseID: "wh-showroom",
		SourceInventoryID: "inv-bangle-showroom",
		Reason:            "damaged in display",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("post: %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-bangle-showroom")
	if !rec.OnHand.Equal(dec("5")) {
		t.Fatalf("expected on-hand 5, got %s", rec.OnHand)
	}
}

func TestPostAdjustmentZeroQuantityRejected(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeAdjustment,
		ItemID:            "item-bangle-gold",
		Quantity:          decimal.Zero,
		SourceWarehouseID: "wh-showroom",
		SourceInventoryID: "inv-bangle-showroom",
		Reason:            "noop",
	})

	_, err := engine.Post(context.Background(), tx.ID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError for zero adjustment, got %v", err)
	}
}

func TestPostAdjustmentBelowFloorFails(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	// Adjustments skip the validator's availability gate but the engine
	// still enforces the on-hand floor in the showroom.
	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeAdjustment,
		ItemID:            "item-bangle-gold",
		Quantity:          dec("-9"),
		SourceWarehouseID: "wh-showroom",
		SourceInventoryID: "inv-bangle-showroom",
		Reason:            "shrinkage writeoff",
	})

	_, err := engine.Post(context.Background(), tx.ID)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-bangle-showroom")
	if !rec.OnHand.Equal(dec("8")) {
		t.Fatalf("failed adjustment must not mutate stock, got %s", rec.OnHand)
	}
}

func TestPostCountSetsAbsoluteQuantity(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeCount,
		ItemID:            "item-stud-pearl",
		Quantity:          dec("50"),
		SourceWarehouseID: "wh-showroom",
		SourceInventoryID: "inv-stud-showroom",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("post: %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-stud-showroom")
	if !rec.OnHand.Equal(dec("50")) {
		t.Fatalf("count must set on-hand to the counted value, got %s", rec.OnHand)
	}
	if rec.LastCountDate == nil {
		t.Fatalf("expected last count date to be stamped")
	}

	movements, _ := repo.ListMovements(context.Background(), tx.ID)
	if len(movements) != 1 || movements[0].Direction != domain.DirectionSet {
		t.Fatalf("expected a single set movement, got %+v", movements)
	}
}

func TestPostTwiceReturnsStateError(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-chain-figaro",
		Quantity:          dec("5"),
		SourceWarehouseID: "wh-vault",
		SourceInventoryID: "inv-chain-vault",
		Reason:            "order",
	})

	if _, err := engine.Post(context.Background(), tx.ID); err != nil {
		t.Fatalf("first post: %v", err)
	}

	_, err := engine.Post(context.Background(), tx.ID)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected state error on double post, got %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-chain-vault")
	if !rec.OnHand.Equal(dec("55")) {
		t.Fatalf("double post must not apply twice, got %s", rec.OnHand)
	}
}

func TestCancelDraftThenPostFails(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-chain-figaro",
		Quantity:          dec("5"),
		SourceWarehouseID: "wh-vault",
		SourceInventoryID: "inv-chain-vault",
		Reason:            "order",
	})

	cancelled, err := engine.Cancel(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled status, got %q", cancelled.Status)
	}

	if _, err := engine.Post(context.Background(), tx.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected state error posting a cancelled transaction, got %v", err)
	}
	if _, err := engine.Cancel(context.Background(), tx.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected state error cancelling twice, got %v", err)
	}

	rec := mustGetInventory(t, repo, "inv-chain-vault")
	if !rec.OnHand.Equal(dec("60")) {
		t.Fatalf("cancel must have no inventory effect, got %s", rec.OnHand)
	}
}

func TestPostUnknownTransactionReturnsNotFound(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	_, err := engine.Post(context.Background(), "txn-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// faultRepo wraps the memory store to inject failures on specific
// operations.
type faultRepo struct {
	*memory.Store
	failCreateInventory bool
	casConflictAlways   bool
	failAppendOnce      atomic.Bool
}

func (f *faultRepo) CreateInventory(ctx context.Context, rec domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if f.failCreateInventory {
		return nil, errors.New("injected create failure")
	}
	return f.Store.CreateInventory(ctx, rec)
}

func (f *faultRepo) CompareAndSwap(ctx context.Context, rec domain.InventoryRecord, expectedVersion int64) (*domain.InventoryRecord, error) {
	if f.casConflictAlways {
		return nil, store.ErrVersionConflict
	}
	return f.Store.CompareAndSwap(ctx, rec, expectedVersion)
}

func (f *faultRepo) AppendMovement(ctx context.Context, movement domain.StockMovement) error {
	if f.failAppendOnce.CompareAndSwap(true, false) {
		return errors.New("injected journal failure")
	}
	return f.Store.AppendMovement(ctx, movement)
}

func TestTransferDestinationFailureCompensatesSource(t *testing.T) {
	repo := &faultRepo{Store: memory.NewSeeded(), failCreateInventory: true}
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeTransfer,
		ItemID:            "item-ring-solitaire",
		Quantity:          dec("10"),
		UnitCost:          dec("420.00"),
		SourceWarehouseID: "wh-vault",
		DestWarehouseID:   "wh-showroom",
		SourceInventoryID: "inv-ring-vault",
	})

	_, err := engine.Post(context.Background(), tx.ID)
	if err == nil {
		t.Fatalf("expected transfer to fail")
	}

	rec := mustGetInventory(t, repo, "inv-ring-vault")
	if !rec.OnHand.Equal(dec("24")) {
		t.Fatalf("expected source restored to 24, got %s", rec.OnHand)
	}

	reloaded, _ := repo.LoadTransaction(context.Background(), tx.ID)
	if reloaded.Status != domain.StatusDraft {
		t.Fatalf("failed transfer must leave the draft intact, got %q", reloaded.Status)
	}

	movements, _ := repo.ListMovements(context.Background(), tx.ID)
	var sawReversal bool
	for _, mov := range movements {
		if mov.Reversal {
			sawReversal = true
		}
	}
	if !sawReversal {
		t.Fatalf("expected a reversal journal row, got %+v", movements)
	}
}

func TestJournalFailureAfterCommitIsCompensated(t *testing.T) {
	repo := &faultRepo{Store: memory.NewSeeded()}
	repo.failAppendOnce.Store(true)
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-chain-figaro",
		Quantity:          dec("5"),
		SourceWarehouseID: "wh-vault",
		SourceInventoryID: "inv-chain-vault",
		Reason:            "order",
	})

	_, err := engine.Post(context.Background(), tx.ID)
	if err == nil {
		t.Fatalf("expected post to fail on journal write")
	}

	rec := mustGetInventory(t, repo, "inv-chain-vault")
	if !rec.OnHand.Equal(dec("60")) {
		t.Fatalf("expected on-hand restored to 60, got %s", rec.OnHand)
	}
}

func TestExhaustedRetriesReturnConcurrencyConflict(t *testing.T) {
	repo := &faultRepo{Store: memory.NewSeeded(), casConflictAlways: true}
	engine := newTestEngine(repo)

	tx := saveDraft(t, repo, domain.Transaction{
		Type:              domain.TypeIssue,
		ItemID:            "item-chain-figaro",
		Quantity:          dec("5"),
		SourceWarehouseID: "wh-vault",
		SourceInventoryID: "inv-chain-vault",
		Reason:            "order",
	})

	_, err := engine.Post(context.Background(), tx.ID)
	var conflictErr *ConcurrencyConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected ConcurrencyConflictError, got %v", err)
	}
	if conflictErr.Attempts != maxCASAttempts {
		t.Fatalf("expected %d attempts, got %d", maxCASAttempts, conflictErr.Attempts)
	}

	reloaded, _ := repo.LoadTransaction(context.Background(), tx.ID)
	if reloaded.Status != domain.StatusDraft {
		t.Fatalf("expected draft after conflict, got %q", reloaded.Status)
	}
}

func TestConcurrentIssuesNeverOverdraw(t *testing.T) {
	repo := memory.NewSeeded()
	engine := newTestEngine(repo)

	const workers = 6
	quantity := dec("10")

	drafts := make([]domain.Transaction, workers)
	for i := range drafts {
		drafts[i] = saveDraft(t, repo, domain.Transaction{
			Type:              domain.TypeIssue,
			ItemID:            "item-chain-figaro",
			Quantity:          quantity,
			SourceWarehouseID: "wh-vault",
			SourceInventoryID: "inv-chain-vault",
			Reason:            "parallel order",
		})
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := engine.Post(context.Background(), id)
			switch {
			case err == nil:
				successes.Add(1)
			default:
				var conflictErr *ConcurrencyConflictError
				var stockErr *InsufficientStockError
				var validationErr *ValidationError
				if !errors.As(err, &conflictErr) && !errors.As(err, &stockErr) && !errors.As(err, &validationErr) {
					t.Errorf("unexpected failure mode: %v", err)
				}
			}
		}(drafts[i].ID)
	}
	wg.Wait()

	rec := mustGetInventory(t, repo, "inv-chain-vault")
	expected := dec("60").Sub(quantity.Mul(decimal.NewFromInt(int64(successes.Load()))))
	if !rec.OnHand.Equal(expected) {
		t.Fatalf("expected on-hand %s after %d successes, got %s", expected, successes.Load(), rec.OnHand)
	}
	if rec.OnHand.IsNegative() {
		t.Fatalf("concurrent issues must never overdraw, got %s", rec.OnHand)
	}
	if successes.Load() == 0 {
		t.Fatalf("expected at least one post to succeed")
	}
}
