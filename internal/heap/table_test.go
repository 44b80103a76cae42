package heap

import (
	"path/filepath"
	"testing"

	"github.com/teto/tetodb/internal/column"
)

func testSchema() column.Schema {
	return column.Build([]column.Column{
		{Name: "id", Type: column.Int, Size: 4, Indexed: true},
		{Name: "name", Type: column.String, Size: 8},
	})
}

func openTestTable(t *testing.T) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.db")
	tbl, err := Open(path, testSchema(), 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestInsertAndGetRow(t *testing.T) {
	tbl := openTestTable(t)

	id := tbl.GetNextRowId()
	row := Row{"id": int32(7), "name": "alice"}
	if err := tbl.InsertRow(id, row); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	got, err := tbl.GetRow(id)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got["id"] != int32(7) || got["name"] != "alice" {
		t.Errorf("unexpected row: %+v", got)
	}
	if tbl.IsRowDeleted(id) {
		t.Errorf("freshly inserted row should not be tombstoned")
	}
}

func TestDeleteReuseFreeList(t *testing.T) {
	tbl := openTestTable(t)

	var ids []uint32
	for i := 0; i < 4; i++ {
		id := tbl.GetNextRowId()
		if err := tbl.InsertRow(id, Row{"id": int32(i), "name": "x"}); err != nil {
			t.Fatalf("InsertRow: %v", err)
		}
		ids = append(ids, id)
	}

	if err := tbl.MarkRowDeleted(ids[1]); err != nil {
		t.Fatalf("MarkRowDeleted: %v", err)
	}
	if !tbl.IsRowDeleted(ids[1]) {
		t.Errorf("expected row %d to be tombstoned", ids[1])
	}

	// Double delete is a no-op: the free list must not grow twice.
	if err := tbl.MarkRowDeleted(ids[1]); err != nil {
		t.Fatalf("MarkRowDeleted (again): %v", err)
	}
	if len(tbl.FreeList()) != 1 {
		t.Errorf("expected free list length 1, got %d", len(tbl.FreeList()))
	}

	newID := tbl.GetNextRowId()
	if newID != ids[1] {
		t.Errorf("expected reused id %d, got %d", ids[1], newID)
	}
	if len(tbl.FreeList()) != 0 {
		t.Errorf("expected empty free list after reuse, got %v", tbl.FreeList())
	}
}

func TestCommitThenReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	tbl, err := Open(path, testSchema(), 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := tbl.GetNextRowId()
	if err := tbl.InsertRow(id, Row{"id": int32(99), "name": "bob"}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := tbl.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	tbl.Close()

	reopened, err := Open(path, testSchema(), 1, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetRow(id)
	if err != nil {
		t.Fatalf("GetRow after reopen: %v", err)
	}
	if got["id"] != int32(99) || got["name"] != "bob" {
		t.Errorf("unexpected row after reopen: %+v", got)
	}
}
