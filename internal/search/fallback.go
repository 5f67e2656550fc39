package search

import (
	"context"

	"stockroom/api/internal/store"
)

// directFinder is the slice of the store this package needs: the raw
// predicate evaluation, case-insensitive substring on name/description and
// exact match on qr code.
type directFinder interface {
	FindDirect(ctx context.Context, name, description, qrCode string) ([]store.Item, error)
}

// StoreFallback answers direct-hit queries from the primary store.
type StoreFallback struct {
	store directFinder
}

func NewStoreFallback(s directFinder) *StoreFallback {
	return &StoreFallback{store: s}
}

func (f *StoreFallback) FindDirectIDs(ctx context.Context, name, description, qrCode string) ([]string, error) {
	items, err := f.store.FindDirect(ctx, name, description, qrCode)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids, nil
}
