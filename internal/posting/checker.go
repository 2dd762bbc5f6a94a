package posting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gemledger/internal/cache"
	"gemledger/internal/domain"
	"gemledger/internal/store"
)

const availabilitySnapshotTTL = 15 * time.Second

// SufficiencyChecker answers "is quantity X available at inventory
// record Y". CheckAvailable always reads the repository; the engine
// re-runs it inside the CAS retry loop so the answer reflects the record
// it is about to swap.
type SufficiencyChecker struct {
	inv   store.InventoryRepository
	cache cache.AvailabilityCache
}

func NewSufficiencyChecker(inv store.InventoryRepository, snapshots cache.AvailabilityCache) *SufficiencyChecker {
	if snapshots == nil {
		snapshots = cache.NoopCache{}
	}
	return &SufficiencyChecker{inv: inv, cache: snapshots}
}

// CheckAvailable is the authoritative check used at validation time and
// immediately before mutation.
func (c *SufficiencyChecker) CheckAvailable(ctx context.Context, inventoryID string, quantity decimal.Decimal) (bool, decimal.Decimal, error) {
	rec, err := c.inv.GetInventory(ctx, inventoryID)
	if err != nil {
		return false, decimal.Zero, err
	}
	sufficient, available := c.CheckRecord(*rec, quantity)
	return sufficient, available, nil
}

// CheckRecord evaluates sufficiency against a record the caller already
// holds, so the engine can check the exact version it is about to swap.
func (c *SufficiencyChecker) CheckRecord(rec domain.InventoryRecord, quantity decimal.Decimal) (bool, decimal.Decimal) {
	available := rec.Available()
	return available.GreaterThanOrEqual(quantity), available
}

// SnapshotAvailable serves display queries through the short-lived
// cache. Never used on the posting path.
func (c *SufficiencyChecker) SnapshotAvailable(ctx context.Context, inventoryID string, quantity decimal.Decimal) (bool, decimal.Decimal, error) {
	if available, ok, err := c.cache.GetAvailability(ctx, inventoryID); err == nil && ok {
		return available.GreaterThanOrEqual(quantity), available, nil
	}

	sufficient, available, err := c.CheckAvailable(ctx, inventoryID, quantity)
	if err != nil {
		return false, decimal.Zero, err
	}
	_ = c.cache.SetAvailability(ctx, inventoryID, available, availabilitySnapshotTTL)
	return sufficient, available, nil
}
