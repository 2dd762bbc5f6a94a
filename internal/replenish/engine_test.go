package replenish

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
	"gemledger/internal/store/memory"
)

func TestSuggestFlagsRecordsAtOrBelowReorderPoint(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()

	// Seed stock sits above every reorder point, so a fresh sweep is empty.
	engine := NewEngine(repo, repo, nil, nil)
	resp, err := engine.Suggest(ctx, "")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(resp.Suggestions) != 0 {
		t.Fatalf("expected no suggestions from seed stock, got %+v", resp.Suggestions)
	}

	// Drop the bangle position to its reorder point.
	rec, err := repo.GetInventory(ctx, "inv-bangle-showroom")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	low := *rec
	low.OnHand = decimal.NewFromInt(4)
	if _, err := repo.CompareAndSwap(ctx, low, rec.Version); err != nil {
		t.Fatalf("cas: %v", err)
	}

	resp, err = engine.Suggest(ctx, "")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(resp.Suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %+v", resp.Suggestions)
	}

	got := resp.Suggestions[0]
	if got.InventoryID != "inv-bangle-showroom" || got.SKU != "BNGL-22K-STD" {
		t.Fatalf("unexpected suggestion: %+v", got)
	}
	if !got.RecommendedQty.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected configured reorder quantity 6, got %s", got.RecommendedQty)
	}
}

func TestSuggestScopesToWarehouse(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	engine := NewEngine(repo, repo, nil, nil)

	rec, _ := repo.GetInventory(ctx, "inv-bangle-showroom")
	low := *rec
	low.OnHand = decimal.NewFromInt(2)
	if _, err := repo.CompareAndSwap(ctx, low, rec.Version); err != nil {
		t.Fatalf("cas: %v", err)
	}

	vault, err := engine.Suggest(ctx, "wh-vault")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(vault.Suggestions) != 0 {
		t.Fatalf("vault sweep must not see showroom shortfalls, got %+v", vault.Suggestions)
	}

	showroom, err := engine.Suggest(ctx, "wh-showroom")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(showroom.Suggestions) != 1 {
		t.Fatalf("expected showroom shortfall, got %+v", showroom.Suggestions)
	}
}

func TestSuggestFallsBackToShortfall(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	engine := NewEngine(repo, repo, nil, nil)

	item, err := repo.CreateItem(ctx, domain.Item{
		SKU: "CLASP-LOB-01", Name: "Lobster Clasp", Active: true,
		UnitCost: decimal.NewFromInt(2), PublicPrice: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	wh, err := repo.CreateWarehouse(ctx, domain.Warehouse{Code: "BENCH", Name: "Bench"})
	if err != nil {
		t.Fatalf("create warehouse: %v", err)
	}
	if _, err := repo.CreateInventory(ctx, domain.InventoryRecord{
		ItemID:       item.ID,
		WarehouseID:  wh.ID,
		OnHand:       decimal.NewFromInt(3),
		ReorderPoint: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("create inventory: %v", err)
	}

	resp, err := engine.Suggest(ctx, "")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(resp.Suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %+v", resp.Suggestions)
	}
	// No configured reorder quantity, so recommend the shortfall 10-3.
	if !resp.Suggestions[0].RecommendedQty.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected shortfall 7, got %s", resp.Suggestions[0].RecommendedQty)
	}
}
