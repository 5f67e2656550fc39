package tree

import (
	"context"
	"fmt"

	"stockroom/api/internal/store"
)

// Query answers hierarchy questions as coordinate-range filters over a
// committed snapshot. Nothing here recurses or chases parent pointers.
type Query struct {
	store Reader
}

func NewQuery(r Reader) *Query {
	return &Query{store: r}
}

// Descendants returns the subtree of id in pre-order (left_bound ascending).
// With includeSelf the node itself leads the result.
func (q *Query) Descendants(ctx context.Context, id string, includeSelf bool) ([]store.Item, error) {
	n, err := q.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", id, err)
	}
	left := n.LeftBound
	if !includeSelf {
		left++
	}
	items, err := q.store.DescendantRange(ctx, n.ForestID, left, n.RightBound)
	if err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", id, err)
	}
	return items, nil
}

// Ancestors returns the chain from the forest root down to id (the
// breadcrumb). Ordering by left_bound ascending yields root-first directly.
func (q *Query) Ancestors(ctx context.Context, id string, includeSelf bool) ([]store.Item, error) {
	n, err := q.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", id, err)
	}
	items, err := q.store.AncestorRange(ctx, n.ForestID, n.LeftBound, n.RightBound)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %s: %w", id, err)
	}
	if includeSelf {
		return items, nil
	}
	out := items[:0]
	for _, it := range items {
		if it.ID != n.ID {
			out = append(out, it)
		}
	}
	return out, nil
}

// Siblings returns the nodes sharing id's parent, excluding id. For a root
// that is every other forest root.
func (q *Query) Siblings(ctx context.Context, id string) ([]store.Item, error) {
	n, err := q.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("siblings of %s: %w", id, err)
	}
	var peers []store.Item
	if n.ParentID == nil {
		peers, err = q.store.Roots(ctx)
	} else {
		var p store.Item
		p, err = q.store.GetItem(ctx, *n.ParentID)
		if err == nil {
			peers, err = q.store.ChildRange(ctx, p.ForestID, p.LeftBound, p.RightBound, n.Depth)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("siblings of %s: %w", id, err)
	}
	out := make([]store.Item, 0, len(peers))
	for _, it := range peers {
		if it.ID != n.ID {
			out = append(out, it)
		}
	}
	return out, nil
}

// IsAncestorOf reports strict containment of b's interval inside a's.
// Constant time given the two rows.
func IsAncestorOf(a, b store.Item) bool {
	return a.ForestID == b.ForestID &&
		a.LeftBound < b.LeftBound && b.RightBound < a.RightBound
}

// Roots returns one node per forest, each the top of its tree.
func (q *Query) Roots(ctx context.Context) ([]store.Item, error) {
	return q.store.Roots(ctx)
}

// Expand widens a set of direct search hits to the union of each hit's
// subtree (hit included), deduplicated by id. Result order follows the
// hit order and is otherwise unspecified.
func (q *Query) Expand(ctx context.Context, hits []store.Item) ([]store.Item, error) {
	seen := make(map[string]struct{})
	var out []store.Item
	for _, hit := range hits {
		subtree, err := q.store.DescendantRange(ctx, hit.ForestID, hit.LeftBound, hit.RightBound)
		if err != nil {
			return nil, fmt.Errorf("expand hit %s: %w", hit.ID, err)
		}
		for _, it := range subtree {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out, nil
}
