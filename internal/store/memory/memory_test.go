package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
	"gemledger/internal/store"
)

func TestCompareAndSwapBumpsVersion(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	rec, err := s.GetInventory(ctx, "inv-ring-vault")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected seed version 1, got %d", rec.Version)
	}

	next := *rec
	next.OnHand = decimal.NewFromInt(20)
	updated, err := s.CompareAndSwap(ctx, next, rec.Version)
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}

	stored, _ := s.GetInventory(ctx, "inv-ring-vault")
	if !stored.OnHand.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected on-hand 20, got %s", stored.OnHand)
	}
}

func TestCompareAndSwapStaleVersionConflicts(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	rec, _ := s.GetInventory(ctx, "inv-ring-vault")
	first := *rec
	first.OnHand = decimal.NewFromInt(20)
	if _, err := s.CompareAndSwap(ctx, first, rec.Version); err != nil {
		t.Fatalf("first cas: %v", err)
	}

	// The second writer still holds version 1.
	second := *rec
	second.OnHand = decimal.NewFromInt(18)
	_, err := s.CompareAndSwap(ctx, second, rec.Version)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, _ := s.GetInventory(ctx, "inv-ring-vault")
	if !stored.OnHand.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("losing write must not apply, got %s", stored.OnHand)
	}
}

func TestCompareAndSwapMissingRecord(t *testing.T) {
	s := New()
	_, err := s.CompareAndSwap(context.Background(), domain.InventoryRecord{ID: "inv-ghost"}, 1)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateInventoryRejectsDuplicateKey(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateInventory(ctx, domain.InventoryRecord{
		ItemID:      "item-ring-solitaire",
		WarehouseID: "wh-vault",
		OnHand:      decimal.NewFromInt(1),
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	created, err := s.CreateInventory(ctx, domain.InventoryRecord{
		ItemID:      "item-ring-solitaire",
		WarehouseID: "wh-showroom",
		OnHand:      decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected fresh record at version 1, got %d", created.Version)
	}

	found, err := s.FindInventoryByKey(ctx, "item-ring-solitaire", "wh-showroom", "")
	if err != nil || found.ID != created.ID {
		t.Fatalf("expected key lookup to resolve the new record, got %v %v", found, err)
	}
}

func TestUpdateTransactionStatusEnforcesExpectedState(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	tx := domain.Transaction{
		ID:        "txn-1",
		Number:    "ISS-20260828-abc123",
		Type:      domain.TypeIssue,
		Status:    domain.StatusDraft,
		ItemID:    "item-x",
		Quantity:  decimal.NewFromInt(1),
		CreatedAt: now,
	}
	if err := s.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("save: %v", err)
	}

	postedAt := now
	if err := s.UpdateTransactionStatus(ctx, "txn-1", domain.StatusDraft, domain.StatusPosted, &postedAt); err != nil {
		t.Fatalf("post transition: %v", err)
	}

	err := s.UpdateTransactionStatus(ctx, "txn-1", domain.StatusDraft, domain.StatusCancelled, nil)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	err = s.SaveTransaction(ctx, tx)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("posted transactions must be immutable, got %v", err)
	}

	loaded, _ := s.LoadTransaction(ctx, "txn-1")
	if loaded.Status != domain.StatusPosted || loaded.PostedAt == nil {
		t.Fatalf("unexpected stored transaction: %+v", loaded)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, tc := range []struct {
		id     string
		txType domain.TransactionType
		status domain.TransactionStatus
	}{
		{"txn-a", domain.TypeIssue, domain.StatusDraft},
		{"txn-b", domain.TypeReceipt, domain.StatusDraft},
		{"txn-c", domain.TypeIssue, domain.StatusDraft},
	} {
		err := s.SaveTransaction(ctx, domain.Transaction{
			ID:        tc.id,
			Type:      tc.txType,
			Status:    tc.status,
			ItemID:    "item-x",
			Quantity:  decimal.NewFromInt(1),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("save %s: %v", tc.id, err)
		}
	}

	issues, err := s.ListTransactions(ctx, store.TransactionFilter{Type: domain.TypeIssue})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	if issues[0].ID != "txn-c" {
		t.Fatalf("expected newest first, got %s", issues[0].ID)
	}

	limited, _ := s.ListTransactions(ctx, store.TransactionFilter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestMovementsAreScopedToTransaction(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	for _, mov := range []domain.StockMovement{
		{InventoryID: "inv-ring-vault", TransactionID: "txn-1", Direction: domain.DirectionOut, Quantity: decimal.NewFromInt(2)},
		{InventoryID: "inv-ring-vault", TransactionID: "txn-2", Direction: domain.DirectionIn, Quantity: decimal.NewFromInt(3)},
	} {
		if err := s.AppendMovement(ctx, mov); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ListMovements(ctx, "txn-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].TransactionID != "txn-1" {
		t.Fatalf("unexpected movements: %+v", got)
	}
}
