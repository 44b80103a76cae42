package heap

import (
	"fmt"

	"github.com/teto/tetodb/internal/column"
	"github.com/teto/tetodb/internal/pager"
)

// Table maps row ids to fixed-width row slots in a data file, addressed
// via its own Pager. rowCount is a high-water mark of ever-allocated ids
// and never decreases; deleted rows return their id to freeList for
// reuse by a future insert, which preserves the id-to-slot-address
// mapping every secondary index depends on.
type Table struct {
	Pager       *pager.Pager
	Schema      column.Schema
	rowCount    uint32
	rowSize     uint32
	rowsPerPage uint32
	freeList    []uint32
}

// Open creates (or reopens) a heap table backed by the data file at path.
// rowCount must be supplied by the caller when reopening an existing table
// (it lives in the catalog, not the data file itself); pass 0 for a brand
// new table.
func Open(path string, schema column.Schema, rowCount uint32, freeList []uint32) (*Table, error) {
	pg, err := pager.Open(path)
	if err != nil {
		return nil, err
	}
	rowSize := schema.RowSize()
	rowsPerPage := pager.PageSize / rowSize
	if rowsPerPage == 0 {
		pg.Close()
		return nil, fmt.Errorf("heap: row size %d exceeds page size %d", rowSize, pager.PageSize)
	}
	return &Table{
		Pager:       pg,
		Schema:      schema,
		rowCount:    rowCount,
		rowSize:     rowSize,
		rowsPerPage: rowsPerPage,
		freeList:    append([]uint32(nil), freeList...),
	}, nil
}

// RowCount returns the high-water mark of ever-allocated row ids.
func (t *Table) RowCount() uint32 { return t.rowCount }

// FreeList returns a copy of the reclaimable row ids, in the order they
// would be reused (most-recently-freed first), for catalog persistence.
func (t *Table) FreeList() []uint32 {
	return append([]uint32(nil), t.freeList...)
}

// rowSlot returns the page and in-page byte offset for rowId.
func (t *Table) rowSlot(rowID uint32) (pager.PageNum, uint32) {
	pageNum := rowID / t.rowsPerPage
	offset := (rowID % t.rowsPerPage) * t.rowSize
	return pageNum, offset
}

// RowSlot fetches the page containing rowId and returns a slice into its
// frame. The slice is only valid until the next call into this Table's
// Pager, matching the fix/pin discipline of the storage design.
func (t *Table) RowSlot(rowID uint32, markDirty bool) ([]byte, error) {
	pageNum, offset := t.rowSlot(rowID)
	pg, err := t.Pager.Get(pageNum, markDirty)
	if err != nil {
		return nil, fmt.Errorf("heap: row slot %d: %w", rowID, err)
	}
	return pg.Data[offset : offset+t.rowSize], nil
}

// GetNextRowId pops a reusable id from the free list if one exists,
// otherwise extends the high-water mark.
func (t *Table) GetNextRowId() uint32 {
	if n := len(t.freeList); n > 0 {
		id := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		return id
	}
	id := t.rowCount
	t.rowCount++
	return id
}

// ensurePages makes sure the row's backing page exists, allocating pages
// up through the one rowId lives in if the table hasn't grown that far.
func (t *Table) ensurePages(rowID uint32) error {
	pageNum, _ := t.rowSlot(rowID)
	for t.Pager.NumPages() <= pageNum {
		if _, err := t.Pager.AllocateNewPage(); err != nil {
			return err
		}
	}
	return nil
}

// InsertRow serializes row into the slot for rowID, allocating backing
// pages as needed.
func (t *Table) InsertRow(rowID uint32, row Row) error {
	if err := t.ensurePages(rowID); err != nil {
		return err
	}
	slot, err := t.RowSlot(rowID, true)
	if err != nil {
		return err
	}
	return SerializeRow(t.Schema, row, slot)
}

// GetRow deserializes the row at rowID, regardless of its tombstone state.
func (t *Table) GetRow(rowID uint32) (Row, error) {
	slot, err := t.RowSlot(rowID, false)
	if err != nil {
		return nil, err
	}
	return DeserializeRow(t.Schema, slot)
}

// IsRowDeleted reports whether rowId's tombstone byte is set, or whether
// the slot is unreachable (beyond any page the table has ever allocated).
// The B+Tree consults this to hide cells from selects and to decide
// whether it may reuse a leaf slot in place during inserts.
func (t *Table) IsRowDeleted(rowID uint32) bool {
	if rowID >= t.rowCount {
		return true
	}
	pageNum, _ := t.rowSlot(rowID)
	if pageNum >= t.Pager.NumPages() {
		return true
	}
	slot, err := t.RowSlot(rowID, false)
	if err != nil {
		return true
	}
	return IsTombstoned(slot)
}

// MarkRowDeleted writes the tombstone byte and returns the id to the free
// list. Idempotent: deleting an already-deleted row is a no-op so the free
// list never gains duplicate entries.
func (t *Table) MarkRowDeleted(rowID uint32) error {
	if t.IsRowDeleted(rowID) {
		return nil
	}
	slot, err := t.RowSlot(rowID, true)
	if err != nil {
		return err
	}
	slot[0] = 1
	t.freeList = append(t.freeList, rowID)
	return nil
}

// Commit flushes the heap's own Pager. Index commits are the caller's
// (internal/db.Table's) responsibility, since a heap table doesn't know
// which indexes exist over it.
func (t *Table) Commit() error {
	return t.Pager.FlushAll()
}

// Close releases the underlying file handles without flushing.
func (t *Table) Close() error {
	return t.Pager.Close()
}
