package cache

import (
	"context"
	"time"

	"retailflow/backend/internal/domain"
)

// ReceiptCache fronts receipt lookups, which are read-heavy (display,
// reprint) and side-effect free. Returns invalidate the cached entry.
type ReceiptCache interface {
	Get(ctx context.Context, receiptNo int64) (*domain.Receipt, bool, error)
	Set(ctx context.Context, receiptNo int64, receipt *domain.Receipt, ttl time.Duration) error
	Invalidate(ctx context.Context, receiptNo int64) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ int64) (*domain.Receipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ int64, _ *domain.Receipt, _ time.Duration) error {
	return nil
}

func (NoopReceiptCache) Invalidate(_ context.Context, _ int64) error {
	return nil
}
