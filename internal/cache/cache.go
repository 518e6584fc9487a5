// Package cache provides a read-through product cache. Cache failures are
// invisible to callers; a miss just falls back to the store.
package cache

import (
	"context"

	"retailcore/backoffice/internal/domain"
)

type ProductCache interface {
	Get(ctx context.Context, tenantID, productID string) (*domain.Product, bool)
	Set(ctx context.Context, product domain.Product)
	Invalidate(ctx context.Context, tenantID string, productIDs ...string)
}

type Noop struct{}

func (Noop) Get(_ context.Context, _, _ string) (*domain.Product, bool) { return nil, false }
func (Noop) Set(_ context.Context, _ domain.Product)                   {}
func (Noop) Invalidate(_ context.Context, _ string, _ ...string)       {}
