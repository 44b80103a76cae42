package btree

import (
	"path/filepath"
	"testing"

	"github.com/teto/tetodb/internal/pager"
)

// fakeChecker is an in-memory RowDeletionChecker for index tests that have
// no backing heap table.
type fakeChecker struct {
	deleted map[uint32]bool
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{deleted: make(map[uint32]bool)}
}

func (f *fakeChecker) IsRowDeleted(rowID uint32) bool { return f.deleted[rowID] }

func (f *fakeChecker) MarkRowDeleted(rowID uint32) error {
	f.deleted[rowID] = true
	return nil
}

func openTestTree(t *testing.T) (*BTree, *fakeChecker) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.btree")
	p, err := pager.Open(path)
	if err != nil {
		t.Fatalf("pager.Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	checker := newFakeChecker()
	tree, err := Open(p, checker)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tree, checker
}

func TestInsertAndSelectRangeSingleLeaf(t *testing.T) {
	tree, _ := openTestTree(t)

	for i, key := range []int32{5, 1, 3, 4, 2} {
		if err := tree.Insert(key, uint32(i)); err != nil {
			t.Fatalf("Insert(%d): %v", key, err)
		}
	}

	got, err := tree.SelectRange(2, 4)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	// keys 2,3,4 were inserted at rowIds 4,2,3 respectively; result must be
	// sorted by rowId ascending regardless of key order.
	want := []uint32{2, 3, 4}
	if !equalUint32(got, want) {
		t.Errorf("SelectRange(2,4) = %v, want %v", got, want)
	}
}

func TestForcedSplitKeepsLeafChainOrdered(t *testing.T) {
	tree, _ := openTestTree(t)
	tree.SetMaxCellsForTesting(3, 3)

	n := 20
	for i := 0; i < n; i++ {
		if err := tree.Insert(int32(i), uint32(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	got, err := tree.SelectRange(0, int32(n-1))
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	if len(got) != n {
		t.Fatalf("SelectRange returned %d rows, want %d", len(got), n)
	}
	for i, rowID := range got {
		if rowID != uint32(i) {
			t.Errorf("SelectRange[%d] = %d, want %d", i, rowID, i)
		}
	}
}

func TestForcedSplitMultiLevel(t *testing.T) {
	tree, _ := openTestTree(t)
	tree.SetMaxCellsForTesting(3, 3)

	// Enough inserts to force at least one internal-node split, so the
	// root itself becomes a 3-level tree.
	n := 200
	for i := 0; i < n; i++ {
		if err := tree.Insert(int32(i), uint32(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	got, err := tree.SelectRange(50, 149)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	want := make([]uint32, 0, 100)
	for i := 50; i <= 149; i++ {
		want = append(want, uint32(i))
	}
	if !equalUint32(got, want) {
		t.Errorf("SelectRange(50,149) mismatch: got %d rows, want %d", len(got), len(want))
	}
}

func TestDeleteRangeHidesFromSelectAndReportsCount(t *testing.T) {
	tree, checker := openTestTree(t)
	tree.SetMaxCellsForTesting(3, 3)

	for i := 0; i < 30; i++ {
		if err := tree.Insert(int32(i), uint32(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	count, err := tree.DeleteRange(10, 19)
	if err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	if count != 10 {
		t.Errorf("DeleteRange count = %d, want 10", count)
	}

	got, err := tree.SelectRange(0, 29)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	for _, rowID := range got {
		if rowID >= 10 && rowID <= 19 {
			t.Errorf("SelectRange returned deleted row %d", rowID)
		}
	}
	if len(got) != 20 {
		t.Errorf("SelectRange returned %d rows, want 20", len(got))
	}

	// A second DeleteRange over the same range should find nothing left to
	// delete — the checker already marks those rows deleted.
	count2, err := tree.DeleteRange(10, 19)
	if err != nil {
		t.Fatalf("DeleteRange (again): %v", err)
	}
	if count2 != 0 {
		t.Errorf("second DeleteRange count = %d, want 0", count2)
	}
	_ = checker
}

func TestInsertReusesTombstonedSlot(t *testing.T) {
	tree, checker := openTestTree(t)

	for i := 0; i < 5; i++ {
		if err := tree.Insert(int32(i), uint32(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	checker.deleted[2] = true

	if err := tree.Insert(2, 99); err != nil {
		t.Fatalf("Insert after tombstone: %v", err)
	}
	checker.deleted[2] = false // the old cell for rowId 2 no longer exists

	got, err := tree.SelectRange(0, 10)
	if err != nil {
		t.Fatalf("SelectRange: %v", err)
	}
	foundNew := false
	for _, rowID := range got {
		if rowID == 99 {
			foundNew = true
		}
		if rowID == 2 {
			t.Errorf("stale cell for rowId 2 should have been overwritten")
		}
	}
	if !foundNew {
		t.Errorf("expected rowId 99 in range results, got %v", got)
	}
}

func equalUint32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
