package replenish

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gemledger/internal/cache"
	"gemledger/internal/domain"
	"gemledger/internal/store"
)

const suggestionTTL = 5 * time.Minute

// Engine sweeps inventory records and suggests replenishment for every
// record whose available quantity has fallen to or below its reorder
// point. Results are advisory; nothing here mutates stock.
type Engine struct {
	inv    store.InventoryRepository
	master store.MasterDataRepository
	cache  cache.SuggestionCache
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(inv store.InventoryRepository, master store.MasterDataRepository, suggestions cache.SuggestionCache, logger *zap.Logger) *Engine {
	if suggestions == nil {
		suggestions = cache.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{inv: inv, master: master, cache: suggestions, logger: logger, now: time.Now}
}

// Suggest returns reorder suggestions, optionally scoped to one
// warehouse. Sweeps are memoized briefly; the cache key carries the
// warehouse scope so scoped and global sweeps never cross-pollute.
func (e *Engine) Suggest(ctx context.Context, warehouseID string) (*domain.ReorderSuggestionResponse, error) {
	key := "all"
	if warehouseID != "" {
		key = warehouseID
	}

	if cached, ok, err := e.cache.GetSuggestions(ctx, key); err == nil && ok {
		return cached, nil
	}

	records, err := e.inv.ListInventory(ctx, store.InventoryFilter{WarehouseID: warehouseID})
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}

	items, err := e.master.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	itemsByID := make(map[string]domain.Item, len(items))
	for _, item := range items {
		itemsByID[item.ID] = item
	}

	resp := &domain.ReorderSuggestionResponse{
		GeneratedAt: e.now().UTC(),
		Suggestions: []domain.ReorderSuggestion{},
	}
	for _, rec := range records {
		if !rec.ReorderPoint.IsPositive() {
			continue
		}
		available := rec.Available()
		if available.GreaterThan(rec.ReorderPoint) {
			continue
		}

		item, ok := itemsByID[rec.ItemID]
		if !ok || !item.Active {
			continue
		}

		resp.Suggestions = append(resp.Suggestions, domain.ReorderSuggestion{
			InventoryID:    rec.ID,
			ItemID:         item.ID,
			SKU:            item.SKU,
			Name:           item.Name,
			WarehouseID:    rec.WarehouseID,
			Available:      available,
			ReorderPoint:   rec.ReorderPoint,
			RecommendedQty: recommendedQuantity(rec, available),
		})
	}

	if err := e.cache.SetSuggestions(ctx, key, resp, suggestionTTL); err != nil {
		e.logger.Warn("suggestion cache write failed", zap.String("key", key), zap.Error(err))
	}
	return resp, nil
}

// recommendedQuantity prefers the record's configured reorder quantity
// and falls back to the shortfall against the reorder point.
func recommendedQuantity(rec domain.InventoryRecord, available decimal.Decimal) decimal.Decimal {
	if rec.ReorderQuantity.IsPositive() {
		return rec.ReorderQuantity
	}
	return rec.ReorderPoint.Sub(available)
}
