package tree

import (
	"context"
	"fmt"
	"sort"

	"stockroom/api/internal/store"
)

// Verify checks every coordinate invariant of one forest and returns an
// error wrapping ErrInvariantViolation on the first breach. Normal
// operation must never produce one; this exists for tests and the admin
// surface, not for repair.
func (q *Query) Verify(ctx context.Context, forestID string) error {
	items, err := q.store.ForestItems(ctx, forestID)
	if err != nil {
		return fmt.Errorf("verify %s: %w", forestID, err)
	}
	return VerifyItems(forestID, items)
}

// VerifyItems runs the invariant checks over an already-loaded forest.
func VerifyItems(forestID string, items []store.Item) error {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]store.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LeftBound < sorted[j].LeftBound })

	// Bounds must be the permutation 1..2n: positive, distinct, compact.
	used := make(map[int64]string, 2*len(sorted))
	max := int64(2 * len(sorted))
	for _, it := range sorted {
		if it.LeftBound >= it.RightBound {
			return violation("item %s: left_bound %d >= right_bound %d", it.ID, it.LeftBound, it.RightBound)
		}
		for _, b := range []int64{it.LeftBound, it.RightBound} {
			if b < 1 || b > max {
				return violation("item %s: bound %d outside [1, %d]", it.ID, b, max)
			}
			if other, ok := used[b]; ok {
				return violation("items %s and %s share bound %d", other, it.ID, b)
			}
			used[b] = it.ID
		}
	}

	root := sorted[0]
	if root.LeftBound != 1 || root.Depth != 0 || root.ParentID != nil {
		return violation("forest %s: first node %s is not a root (left=%d depth=%d)",
			forestID, root.ID, root.LeftBound, root.Depth)
	}

	// Walk in pre-order with a containment stack: every interval must nest
	// strictly inside its enclosing one, depth must step by one, and the
	// parent reference must name the nearest enclosing node.
	var stack []store.Item
	for _, it := range sorted {
		for len(stack) > 0 && stack[len(stack)-1].RightBound < it.LeftBound {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			if it.ID != root.ID {
				return violation("forest %s: second root %s", forestID, it.ID)
			}
		} else {
			top := stack[len(stack)-1]
			if it.RightBound > top.RightBound {
				return violation("items %s and %s: partial interval overlap", top.ID, it.ID)
			}
			if it.Depth != top.Depth+1 {
				return violation("item %s: depth %d under parent depth %d", it.ID, it.Depth, top.Depth)
			}
			if it.ParentID == nil || *it.ParentID != top.ID {
				return violation("item %s: parent ref does not match enclosing node %s", it.ID, top.ID)
			}
		}
		stack = append(stack, it)
	}
	return nil
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
