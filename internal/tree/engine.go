// Package tree implements the nested-set hierarchy engine: every item row
// carries (forest_id, left_bound, right_bound, depth) coordinates, and
// insert/delete/move are atomic rewrites of those coordinates. Ancestor and
// descendant queries become range filters with no recursion.
package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockroom/api/internal/store"
)

// Reader provides committed-snapshot reads over item rows. Implemented by
// both the Postgres and the in-memory store.
type Reader interface {
	GetItem(ctx context.Context, id string) (store.Item, error)
	ItemsByIDs(ctx context.Context, ids []string) ([]store.Item, error)
	Roots(ctx context.Context) ([]store.Item, error)
	ForestItems(ctx context.Context, forestID string) ([]store.Item, error)
	// DescendantRange returns rows in forestID with left_bound in
	// [left, right], ordered by left_bound ascending (pre-order).
	DescendantRange(ctx context.Context, forestID string, left, right int64) ([]store.Item, error)
	// AncestorRange returns rows in forestID whose interval contains
	// [left, right], ordered by left_bound ascending (root first).
	AncestorRange(ctx context.Context, forestID string, left, right int64) ([]store.Item, error)
	// ChildRange returns rows strictly inside (left, right) at the given
	// depth, ordered by left_bound ascending.
	ChildRange(ctx context.Context, forestID string, left, right, depth int64) ([]store.Item, error)
	// FindDirect evaluates the search predicate: case-insensitive
	// substring on name/description, exact match on qr code. Fields left
	// empty do not constrain; all empty yields no rows.
	FindDirect(ctx context.Context, name, description, qrCode string) ([]store.Item, error)
}

// Store combines snapshot reads with atomic transactions. The Tx surface
// (store.Tx) exposes the batch coordinate-shift primitives used only here.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// IDFunc mints new unique identifiers for the given prefix.
type IDFunc func(prefix string) string

// NewItem carries caller attributes for an insert.
type NewItem struct {
	Name        string
	Description string
	QRCode      string
}

// Engine applies structural mutations. All three operations run as one
// transaction under the affected forest locks: a partially applied shift is
// corruption, never a valid intermediate state.
type Engine struct {
	store Store
	newID IDFunc
	locks *forestLocks
	now   func() time.Time
}

func NewEngine(s Store, newID IDFunc) *Engine {
	return &Engine{
		store: s,
		newID: newID,
		locks: newForestLocks(),
		now:   time.Now,
	}
}

// A node can move between forests after we read it but before we take its
// forest lock; each operation re-reads under the lock and retries on a
// mismatch.
const maxLockAttempts = 5

// Insert creates a new item, either as the root of a fresh forest or as the
// last child of parentID. The child case shifts every bound at or past the
// parent's right_bound up by two and claims the freed slots.
func (e *Engine) Insert(ctx context.Context, parentID *string, attrs NewItem) (store.Item, error) {
	item := store.Item{
		ID:          e.newID("item"),
		Name:        attrs.Name,
		Description: attrs.Description,
		QRCode:      attrs.QRCode,
		CreatedAt:   e.now().UTC(),
	}

	if parentID == nil {
		item.ForestID = e.newID("forest")
		item.LeftBound = 1
		item.RightBound = 2
		item.Depth = 0
		err := e.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertItem(ctx, item)
		})
		if err != nil {
			return store.Item{}, fmt.Errorf("insert root: %w", err)
		}
		return item, nil
	}

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		parent, err := e.store.GetItem(ctx, *parentID)
		if err != nil {
			return store.Item{}, fmt.Errorf("insert under %s: %w", *parentID, err)
		}

		unlock := e.locks.acquire(parent.ForestID)
		stale := false
		err = e.store.WithTx(ctx, func(tx store.Tx) error {
			p, err := tx.GetItem(ctx, *parentID)
			if err != nil {
				return err
			}
			if p.ForestID != parent.ForestID {
				stale = true
				return ErrConflict
			}
			if err := tx.OpenGap(ctx, p.ForestID, p.RightBound, 2); err != nil {
				return err
			}
			item.ParentID = parentID
			item.ForestID = p.ForestID
			item.LeftBound = p.RightBound
			item.RightBound = p.RightBound + 1
			item.Depth = p.Depth + 1
			return tx.InsertItem(ctx, item)
		})
		unlock()
		if stale {
			continue
		}
		if err != nil {
			return store.Item{}, fmt.Errorf("insert under %s: %w", *parentID, err)
		}
		return item, nil
	}
	return store.Item{}, fmt.Errorf("insert under %s: %w", *parentID, ErrConflict)
}

// Delete removes the item and every node whose interval it contains, plus
// their owned child records, then compacts the forest so no gap remains.
func (e *Engine) Delete(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		item, err := e.store.GetItem(ctx, id)
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}

		unlock := e.locks.acquire(item.ForestID)
		stale := false
		err = e.store.WithTx(ctx, func(tx store.Tx) error {
			n, err := tx.GetItem(ctx, id)
			if err != nil {
				return err
			}
			if n.ForestID != item.ForestID {
				stale = true
				return ErrConflict
			}
			if err := tx.DeleteSubtree(ctx, n.ForestID, n.LeftBound, n.RightBound); err != nil {
				return err
			}
			return tx.CloseGap(ctx, n.ForestID, n.RightBound, n.Width())
		})
		unlock()
		if stale {
			continue
		}
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("delete %s: %w", id, ErrConflict)
}

// Move reparents the item (nil parent means promote to a root of a fresh
// forest), keeping its subtree's internal structure intact. The rewrite
// detaches the subtree, compacts the source forest, opens a gap at the
// destination, and shifts the parked rows into it by a single offset. A
// successful move appends one history entry inside the same transaction.
func (e *Engine) Move(ctx context.Context, id string, newParentID *string) (store.Item, error) {
	if newParentID != nil && *newParentID == id {
		return store.Item{}, fmt.Errorf("move %s: %w", id, ErrCircularDependency)
	}

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		item, err := e.store.GetItem(ctx, id)
		if err != nil {
			return store.Item{}, fmt.Errorf("move %s: %w", id, err)
		}
		forests := []string{item.ForestID}
		if newParentID != nil {
			parent, err := e.store.GetItem(ctx, *newParentID)
			if err != nil {
				return store.Item{}, fmt.Errorf("move %s under %s: %w", id, *newParentID, err)
			}
			forests = append(forests, parent.ForestID)
		}

		unlock := e.locks.acquire(forests...)
		stale := false
		var moved store.Item
		err = e.store.WithTx(ctx, func(tx store.Tx) error {
			n, err := tx.GetItem(ctx, id)
			if err != nil {
				return err
			}
			if n.ForestID != item.ForestID {
				stale = true
				return ErrConflict
			}
			if newParentID == nil {
				moved, err = e.moveToRoot(ctx, tx, n)
				return err
			}
			moved, err = e.moveUnder(ctx, tx, n, *newParentID, forests)
			if errors.Is(err, ErrConflict) {
				stale = true
			}
			return err
		})
		unlock()
		if stale {
			continue
		}
		if err != nil {
			return store.Item{}, fmt.Errorf("move %s: %w", id, err)
		}
		return moved, nil
	}
	return store.Item{}, fmt.Errorf("move %s: %w", id, ErrConflict)
}

func (e *Engine) moveToRoot(ctx context.Context, tx store.Tx, n store.Item) (store.Item, error) {
	if n.ParentID == nil {
		// Already a root; nothing to rewrite and nothing to record.
		return n, nil
	}
	w := n.Width()
	if err := tx.DetachSubtree(ctx, n.ForestID, n.LeftBound, n.RightBound); err != nil {
		return store.Item{}, err
	}
	if err := tx.CloseGap(ctx, n.ForestID, n.RightBound, w); err != nil {
		return store.Item{}, err
	}
	dst := e.newID("forest")
	if err := tx.GraftSubtree(ctx, n.ForestID, dst, 1-n.LeftBound, -n.Depth); err != nil {
		return store.Item{}, err
	}
	if err := tx.SetParent(ctx, n.ID, nil); err != nil {
		return store.Item{}, err
	}
	if err := tx.InsertHistory(ctx, store.HistoryEntry{
		ItemID:      &n.ID,
		OldParentID: n.ParentID,
		NewParentID: nil,
		ChangedAt:   e.now().UTC(),
	}); err != nil {
		return store.Item{}, err
	}
	return tx.GetItem(ctx, n.ID)
}

func (e *Engine) moveUnder(ctx context.Context, tx store.Tx, n store.Item, parentID string, lockedForests []string) (store.Item, error) {
	p, err := tx.GetItem(ctx, parentID)
	if err != nil {
		return store.Item{}, err
	}
	if !lockedForest(lockedForests, p.ForestID) {
		return store.Item{}, ErrConflict
	}
	// O(1) containment test: the destination lying inside the moving
	// subtree's interval means it is the node itself or a descendant.
	if p.ForestID == n.ForestID && n.LeftBound <= p.LeftBound && p.RightBound <= n.RightBound {
		return store.Item{}, ErrCircularDependency
	}

	w := n.Width()
	if err := tx.DetachSubtree(ctx, n.ForestID, n.LeftBound, n.RightBound); err != nil {
		return store.Item{}, err
	}
	if err := tx.CloseGap(ctx, n.ForestID, n.RightBound, w); err != nil {
		return store.Item{}, err
	}
	// The compaction may have shifted the destination parent.
	p, err = tx.GetItem(ctx, p.ID)
	if err != nil {
		return store.Item{}, err
	}
	at := p.RightBound
	if err := tx.OpenGap(ctx, p.ForestID, at, w); err != nil {
		return store.Item{}, err
	}
	depthDelta := (p.Depth + 1) - n.Depth
	if err := tx.GraftSubtree(ctx, n.ForestID, p.ForestID, at-n.LeftBound, depthDelta); err != nil {
		return store.Item{}, err
	}
	if err := tx.SetParent(ctx, n.ID, &p.ID); err != nil {
		return store.Item{}, err
	}
	if err := tx.InsertHistory(ctx, store.HistoryEntry{
		ItemID:      &n.ID,
		OldParentID: n.ParentID,
		NewParentID: &p.ID,
		ChangedAt:   e.now().UTC(),
	}); err != nil {
		return store.Item{}, err
	}
	return tx.GetItem(ctx, n.ID)
}

func lockedForest(locked []string, forestID string) bool {
	for _, id := range locked {
		if id == forestID {
			return true
		}
	}
	return false
}
