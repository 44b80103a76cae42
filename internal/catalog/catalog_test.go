package catalog

import (
	"path/filepath"
	"testing"

	"github.com/teto/tetodb/internal/column"
)

func sampleCatalog() *Catalog {
	return &Catalog{Tables: []TableEntry{
		{
			Name:     "users",
			RowCount: 3,
			Columns: column.Schema{
				{Name: "id", Type: column.Int, Size: 4, Offset: 1, Indexed: true},
				{Name: "name", Type: column.String, Size: 8, Offset: 5},
			},
			FreeList: []uint32{2},
		},
		{
			Name:     "empty",
			RowCount: 0,
			Columns: column.Schema{
				{Name: "x", Type: column.Int, Size: 4, Offset: 1},
			},
			FreeList: nil,
		},
	}}
}

func TestLoadMissingFileReturnsEmptyCatalog(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "nope.teto"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cat.Tables) != 0 {
		t.Errorf("expected empty catalog, got %+v", cat)
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.teto")
	want := sampleCatalog()
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(got.Tables))
	}

	u := got.Tables[0]
	if u.Name != "users" || u.RowCount != 3 {
		t.Errorf("unexpected users entry: %+v", u)
	}
	if len(u.Columns) != 2 || !u.Columns[0].Indexed || u.Columns[1].Size != 8 {
		t.Errorf("unexpected users columns: %+v", u.Columns)
	}
	if len(u.FreeList) != 1 || u.FreeList[0] != 2 {
		t.Errorf("unexpected users free list: %v", u.FreeList)
	}

	e := got.Tables[1]
	if len(e.FreeList) != 0 {
		t.Errorf("expected empty free list, got %v", e.FreeList)
	}
}

func TestWriteAtomicLeavesNoTempFileBehind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.teto")
	if err := WriteAtomic(path, sampleCatalog()); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load after WriteAtomic: %v", err)
	}
	leftovers, err := filepath.Glob(path + ".tmp-catalog*")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("expected no temp catalog files, found %v", leftovers)
	}
}
