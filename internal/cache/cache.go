package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gemledger/internal/domain"
)

// AvailabilityCache holds short-lived availability snapshots served to
// display queries. The posting engine never reads through it and
// invalidates touched records after a posting commits.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, inventoryID string) (decimal.Decimal, bool, error)
	SetAvailability(ctx context.Context, inventoryID string, available decimal.Decimal, ttl time.Duration) error
	InvalidateAvailability(ctx context.Context, inventoryIDs ...string) error
}

// SuggestionCache memoizes reorder suggestion sweeps.
type SuggestionCache interface {
	GetSuggestions(ctx context.Context, key string) (*domain.ReorderSuggestionResponse, bool, error)
	SetSuggestions(ctx context.Context, key string, value *domain.ReorderSuggestionResponse, ttl time.Duration) error
}

type NoopCache struct{}

func (NoopCache) GetAvailability(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopCache) SetAvailability(_ context.Context, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopCache) InvalidateAvailability(_ context.Context, _ ...string) error {
	return nil
}

func (NoopCache) GetSuggestions(_ context.Context, _ string) (*domain.ReorderSuggestionResponse, bool, error) {
	return nil, false, nil
}

func (NoopCache) SetSuggestions(_ context.Context, _ string, _ *domain.ReorderSuggestionResponse, _ time.Duration) error {
	return nil
}
