package store

import "context"

// Tx is the transactional surface the tree engine drives during a
// structural rewrite. Both PostgresStore and MemoryStore run the callback
// atomically: any error rolls every row back.
type Tx interface {
	GetItem(ctx context.Context, id string) (Item, error)
	InsertItem(ctx context.Context, item Item) error
	SetParent(ctx context.Context, id string, parentID *string) error
	// OpenGap makes room for width slots at position at: bounds >= at
	// gain width.
	OpenGap(ctx context.Context, forestID string, at, width int64) error
	// CloseGap compacts after a removal: bounds > after lose width.
	CloseGap(ctx context.Context, forestID string, after, width int64) error
	// DetachSubtree negates the bounds of rows with left_bound in
	// [left, right], parking them outside the live coordinate space while
	// the forest is compacted around them.
	DetachSubtree(ctx context.Context, forestID string, left, right int64) error
	// GraftSubtree rewrites parked rows of srcForestID into dstForestID:
	// bounds are un-negated and shifted by boundOffset, depth by depthDelta.
	GraftSubtree(ctx context.Context, srcForestID, dstForestID string, boundOffset, depthDelta int64) error
	// DeleteSubtree removes rows with left_bound in [left, right] together
	// with their owned child records.
	DeleteSubtree(ctx context.Context, forestID string, left, right int64) error
	InsertHistory(ctx context.Context, entry HistoryEntry) error
}

// ItemPatch is a partial attribute update; nil fields are left untouched.
type ItemPatch struct {
	Name        *string
	Description *string
	QRCode      *string
}
