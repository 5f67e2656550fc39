package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"stockroom/api/internal/store"
)

// seqIDs mints deterministic ids so tests can reference nodes by name.
func seqIDs() IDFunc {
	counts := make(map[string]int)
	return func(prefix string) string {
		counts[prefix]++
		return fmt.Sprintf("%s-%d", prefix, counts[prefix])
	}
}

func newTestEngine() (*Engine, *Query, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return NewEngine(ms, seqIDs()), NewQuery(ms), ms
}

func mustInsert(t *testing.T, e *Engine, parentID *string, name string) store.Item {
	t.Helper()
	item, err := e.Insert(context.Background(), parentID, NewItem{Name: name})
	if err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
	return item
}

func mustVerify(t *testing.T, q *Query, forestID string) {
	t.Helper()
	if err := q.Verify(context.Background(), forestID); err != nil {
		t.Fatalf("forest %s: %v", forestID, err)
	}
}

func reload(t *testing.T, ms *store.MemoryStore, id string) store.Item {
	t.Helper()
	item, err := ms.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return item
}

func assertBounds(t *testing.T, item store.Item, left, right, depth int64) {
	t.Helper()
	if item.LeftBound != left || item.RightBound != right || item.Depth != depth {
		t.Fatalf("%s: got (%d,%d) depth %d, want (%d,%d) depth %d",
			item.Name, item.LeftBound, item.RightBound, item.Depth, left, right, depth)
	}
}

func TestInsertRoot(t *testing.T) {
	e, q, ms := newTestEngine()

	root := mustInsert(t, e, nil, "Warehouse")
	assertBounds(t, reload(t, ms, root.ID), 1, 2, 0)
	if root.ParentID != nil {
		t.Fatalf("root has parent %v", *root.ParentID)
	}
	mustVerify(t, q, root.ForestID)
}

func TestInsertChain(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelf := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	bin := mustInsert(t, e, &shelf.ID, "Bin-1")

	assertBounds(t, reload(t, ms, warehouse.ID), 1, 6, 0)
	assertBounds(t, reload(t, ms, shelf.ID), 2, 5, 1)
	assertBounds(t, reload(t, ms, bin.ID), 3, 4, 2)
	mustVerify(t, q, warehouse.ForestID)
}

func TestInsertSecondChildAppends(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelfA := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	mustInsert(t, e, &shelfA.ID, "Bin-1")
	shelfB := mustInsert(t, e, &warehouse.ID, "Shelf-B")

	assertBounds(t, reload(t, ms, warehouse.ID), 1, 8, 0)
	assertBounds(t, reload(t, ms, shelfA.ID), 2, 5, 1)
	assertBounds(t, reload(t, ms, shelfB.ID), 6, 7, 1)
	mustVerify(t, q, warehouse.ForestID)
}

func TestInsertUnknownParent(t *testing.T) {
	e, _, _ := newTestEngine()

	missing := "item-missing"
	_, err := e.Insert(context.Background(), &missing, NewItem{Name: "Orphan"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestEachRootOwnsAForest(t *testing.T) {
	e, _, _ := newTestEngine()

	a := mustInsert(t, e, nil, "Warehouse-A")
	b := mustInsert(t, e, nil, "Warehouse-B")
	if a.ForestID == b.ForestID {
		t.Fatalf("two roots share forest %s", a.ForestID)
	}
	assertBounds(t, a, 1, 2, 0)
	assertBounds(t, b, 1, 2, 0)
}

func TestDeleteCascadesAndCompacts(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelfA := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	bin := mustInsert(t, e, &shelfA.ID, "Bin-1")
	shelfB := mustInsert(t, e, &warehouse.ID, "Shelf-B")

	if err := e.Delete(context.Background(), shelfA.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, id := range []string{shelfA.ID, bin.ID} {
		if _, err := ms.GetItem(context.Background(), id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("item %s survived delete: %v", id, err)
		}
	}
	// The forest compacts: no gap where the shelf's interval was.
	assertBounds(t, reload(t, ms, warehouse.ID), 1, 4, 0)
	assertBounds(t, reload(t, ms, shelfB.ID), 2, 3, 1)
	mustVerify(t, q, warehouse.ForestID)
}

func TestDeleteRootEmptiesForest(t *testing.T) {
	e, _, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelf := mustInsert(t, e, &warehouse.ID, "Shelf-A")

	if err := e.Delete(context.Background(), warehouse.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	left, err := ms.ForestItems(context.Background(), warehouse.ForestID)
	if err != nil {
		t.Fatalf("forest items: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("forest still holds %d items", len(left))
	}
	if _, err := ms.GetItem(context.Background(), shelf.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("descendant survived root delete: %v", err)
	}
}

func TestDeleteUnknownItem(t *testing.T) {
	e, _, _ := newTestEngine()
	if err := e.Delete(context.Background(), "item-nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMoveWithinForest(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelfA := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	bin := mustInsert(t, e, &shelfA.ID, "Bin-1")
	shelfB := mustInsert(t, e, &warehouse.ID, "Shelf-B")

	moved, err := e.Move(context.Background(), bin.ID, &shelfB.ID)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ParentID == nil || *moved.ParentID != shelfB.ID {
		t.Fatalf("moved parent = %v, want %s", moved.ParentID, shelfB.ID)
	}
	if moved.Depth != 2 {
		t.Fatalf("moved depth = %d, want 2", moved.Depth)
	}
	if !reload(t, ms, shelfB.ID).Contains(moved) {
		t.Fatal("destination does not contain the moved node")
	}
	if w := reload(t, ms, shelfA.ID).Width(); w != 2 {
		t.Fatalf("old parent width = %d, want 2", w)
	}
	mustVerify(t, q, warehouse.ForestID)

	entries, err := ms.ListHistory(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.ItemID == nil || *entry.ItemID != bin.ID {
		t.Fatalf("history item = %v, want %s", entry.ItemID, bin.ID)
	}
	if entry.OldParentID == nil || *entry.OldParentID != shelfA.ID {
		t.Fatalf("history old parent = %v, want %s", entry.OldParentID, shelfA.ID)
	}
	if entry.NewParentID == nil || *entry.NewParentID != shelfB.ID {
		t.Fatalf("history new parent = %v, want %s", entry.NewParentID, shelfB.ID)
	}
}

func TestMoveSubtreeAcrossForests(t *testing.T) {
	e, q, ms := newTestEngine()

	src := mustInsert(t, e, nil, "Warehouse-A")
	shelf := mustInsert(t, e, &src.ID, "Shelf-A")
	bin1 := mustInsert(t, e, &shelf.ID, "Bin-1")
	bin2 := mustInsert(t, e, &shelf.ID, "Bin-2")
	dst := mustInsert(t, e, nil, "Warehouse-B")

	moved, err := e.Move(context.Background(), shelf.ID, &dst.ID)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ForestID != dst.ForestID {
		t.Fatalf("moved forest = %s, want %s", moved.ForestID, dst.ForestID)
	}
	// The whole subtree comes along with internal order preserved.
	for i, id := range []string{bin1.ID, bin2.ID} {
		item := reload(t, ms, id)
		if item.ForestID != dst.ForestID {
			t.Fatalf("bin %d left behind in forest %s", i+1, item.ForestID)
		}
		if !moved.Contains(item) {
			t.Fatalf("bin %d not inside the moved shelf", i+1)
		}
		if item.Depth != moved.Depth+1 {
			t.Fatalf("bin %d depth = %d, want %d", i+1, item.Depth, moved.Depth+1)
		}
	}
	if reload(t, ms, bin1.ID).LeftBound >= reload(t, ms, bin2.ID).LeftBound {
		t.Fatal("sibling order changed during the move")
	}
	// The source forest compacts down to its lone root.
	assertBounds(t, reload(t, ms, src.ID), 1, 2, 0)
	mustVerify(t, q, src.ForestID)
	mustVerify(t, q, dst.ForestID)
}

func TestMoveToRoot(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelf := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	mustInsert(t, e, &shelf.ID, "Bin-1")

	moved, err := e.Move(context.Background(), shelf.ID, nil)
	if err != nil {
		t.Fatalf("move to root: %v", err)
	}
	if moved.ParentID != nil {
		t.Fatalf("promoted node still has parent %v", *moved.ParentID)
	}
	if moved.ForestID == warehouse.ForestID {
		t.Fatal("promoted node stayed in the source forest")
	}
	assertBounds(t, moved, 1, 4, 0)
	mustVerify(t, q, warehouse.ForestID)
	mustVerify(t, q, moved.ForestID)

	entries, _ := ms.ListHistory(context.Background())
	if len(entries) != 1 || entries[0].NewParentID != nil {
		t.Fatalf("expected one root-move history entry, got %+v", entries)
	}
}

func TestMoveRootToRootIsNoop(t *testing.T) {
	e, _, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	moved, err := e.Move(context.Background(), warehouse.ID, nil)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ForestID != warehouse.ForestID {
		t.Fatal("no-op move changed the forest")
	}
	entries, _ := ms.ListHistory(context.Background())
	if len(entries) != 0 {
		t.Fatalf("no-op move recorded history: %+v", entries)
	}
}

func TestMoveRejectsSelfParent(t *testing.T) {
	e, _, _ := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	_, err := e.Move(context.Background(), warehouse.ID, &warehouse.ID)
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("want ErrCircularDependency, got %v", err)
	}
}

func TestMoveRejectsDescendantParent(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelf := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	bin := mustInsert(t, e, &shelf.ID, "Bin-1")

	_, err := e.Move(context.Background(), shelf.ID, &bin.ID)
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("want ErrCircularDependency, got %v", err)
	}

	// The rejection leaves coordinates and history untouched.
	assertBounds(t, reload(t, ms, warehouse.ID), 1, 6, 0)
	assertBounds(t, reload(t, ms, shelf.ID), 2, 5, 1)
	assertBounds(t, reload(t, ms, bin.ID), 3, 4, 2)
	mustVerify(t, q, warehouse.ForestID)
	entries, _ := ms.ListHistory(context.Background())
	if len(entries) != 0 {
		t.Fatalf("rejected move recorded history: %+v", entries)
	}
}

func TestMoveRoundTripRestoresContainment(t *testing.T) {
	e, q, ms := newTestEngine()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelf := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	bin := mustInsert(t, e, &shelf.ID, "Bin-1")
	other := mustInsert(t, e, nil, "Warehouse-B")

	if _, err := e.Move(context.Background(), shelf.ID, &other.ID); err != nil {
		t.Fatalf("move away: %v", err)
	}
	if _, err := e.Move(context.Background(), shelf.ID, &warehouse.ID); err != nil {
		t.Fatalf("move back: %v", err)
	}

	w := reload(t, ms, warehouse.ID)
	s := reload(t, ms, shelf.ID)
	b := reload(t, ms, bin.ID)
	if !w.Contains(s) || !s.Contains(b) {
		t.Fatal("containment not restored after round trip")
	}
	if s.Depth != 1 || b.Depth != 2 {
		t.Fatalf("depths after round trip: shelf %d bin %d", s.Depth, b.Depth)
	}
	mustVerify(t, q, w.ForestID)
	mustVerify(t, q, reload(t, ms, other.ID).ForestID)
}

func TestConcurrentMutationsAcrossForests(t *testing.T) {
	e, q, _ := newTestEngine()
	ctx := context.Background()

	rootA := mustInsert(t, e, nil, "Warehouse-A")
	rootB := mustInsert(t, e, nil, "Warehouse-B")

	var wg sync.WaitGroup
	errs := make(chan error, 32)

	// Parallel inserts, both contending on one forest and spread across
	// the disjoint pair.
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			if _, err := e.Insert(ctx, &rootA.ID, NewItem{Name: fmt.Sprintf("A-Shelf-%d", n)}); err != nil {
				errs <- fmt.Errorf("insert under A: %w", err)
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			if _, err := e.Insert(ctx, &rootB.ID, NewItem{Name: fmt.Sprintf("B-Shelf-%d", n)}); err != nil {
				errs <- fmt.Errorf("insert under B: %w", err)
			}
		}(i)
	}
	wg.Wait()

	aKids, err := q.Descendants(ctx, rootA.ID, false)
	if err != nil {
		t.Fatalf("descendants A: %v", err)
	}
	bKids, err := q.Descendants(ctx, rootB.ID, false)
	if err != nil {
		t.Fatalf("descendants B: %v", err)
	}
	if len(aKids) != 8 || len(bKids) != 8 {
		t.Fatalf("children after inserts: A=%d B=%d, want 8/8", len(aKids), len(bKids))
	}

	// Opposite-direction moves between the same forest pair. Sorted lock
	// acquisition is what keeps the two directions from deadlocking.
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			if _, err := e.Move(ctx, id, &rootB.ID); err != nil {
				errs <- fmt.Errorf("move %s into B: %w", id, err)
			}
		}(aKids[i].ID)
		go func(id string) {
			defer wg.Done()
			if _, err := e.Move(ctx, id, &rootA.ID); err != nil {
				errs <- fmt.Errorf("move %s into A: %w", id, err)
			}
		}(bKids[i].ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent op: %v", err)
	}

	aKids, err = q.Descendants(ctx, rootA.ID, false)
	if err != nil {
		t.Fatalf("descendants A after moves: %v", err)
	}
	bKids, err = q.Descendants(ctx, rootB.ID, false)
	if err != nil {
		t.Fatalf("descendants B after moves: %v", err)
	}
	if len(aKids) != 8 || len(bKids) != 8 {
		t.Fatalf("children after swap: A=%d B=%d, want 8/8", len(aKids), len(bKids))
	}
	mustVerify(t, q, rootA.ForestID)
	mustVerify(t, q, rootB.ForestID)
}

func TestWarehouseScenario(t *testing.T) {
	e, q, ms := newTestEngine()
	ctx := context.Background()

	warehouse := mustInsert(t, e, nil, "Warehouse")
	shelf := mustInsert(t, e, &warehouse.ID, "Shelf-A")
	bin := mustInsert(t, e, &shelf.ID, "Bin-1")

	items, err := q.Descendants(ctx, warehouse.ID, true)
	if err != nil {
		t.Fatalf("descendants: %v", err)
	}
	assertNames(t, items, "Warehouse", "Shelf-A", "Bin-1")

	moved, err := e.Move(ctx, bin.ID, &warehouse.ID)
	if err != nil {
		t.Fatalf("move bin: %v", err)
	}
	if moved.Depth != 1 {
		t.Fatalf("bin depth = %d, want 1", moved.Depth)
	}
	chain, err := q.Ancestors(ctx, bin.ID, false)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	assertNames(t, chain, "Warehouse")

	before, _ := ms.ListHistory(ctx)
	if _, err := e.Move(ctx, warehouse.ID, &bin.ID); !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("want ErrCircularDependency, got %v", err)
	}
	after, _ := ms.ListHistory(ctx)
	if len(after) != len(before) {
		t.Fatalf("history grew on rejected move: %d -> %d", len(before), len(after))
	}

	// Shelf-A no longer contains the bin, so deleting it touches nothing else.
	if err := e.Delete(ctx, shelf.ID); err != nil {
		t.Fatalf("delete shelf: %v", err)
	}
	if _, err := ms.GetItem(ctx, bin.ID); err != nil {
		t.Fatalf("bin gone with the shelf: %v", err)
	}
	chain, err = q.Ancestors(ctx, bin.ID, false)
	if err != nil {
		t.Fatalf("ancestors after delete: %v", err)
	}
	assertNames(t, chain, "Warehouse")
	mustVerify(t, q, warehouse.ForestID)
}

func TestInvariantsSurviveMixedOperations(t *testing.T) {
	e, q, ms := newTestEngine()

	root := mustInsert(t, e, nil, "Warehouse")
	var shelves []store.Item
	for i := 0; i < 4; i++ {
		shelf := mustInsert(t, e, &root.ID, fmt.Sprintf("Shelf-%d", i))
		shelves = append(shelves, shelf)
		for j := 0; j < 3; j++ {
			mustInsert(t, e, &shelf.ID, fmt.Sprintf("Bin-%d-%d", i, j))
		}
	}

	if _, err := e.Move(context.Background(), shelves[3].ID, &shelves[0].ID); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := e.Delete(context.Background(), shelves[1].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Move(context.Background(), shelves[2].ID, nil); err != nil {
		t.Fatalf("promote: %v", err)
	}

	roots, err := ms.Roots(context.Background())
	if err != nil {
		t.Fatalf("roots: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("roots = %d, want 2", len(roots))
	}
	for _, r := range roots {
		mustVerify(t, q, r.ForestID)
	}
}
