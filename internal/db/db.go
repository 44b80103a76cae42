// Package db wires the heap, btree, and catalog layers into the
// operations a client (the REPL, or any other embedder) actually calls:
// create/drop table, insert, select, delete, and commit. It owns no
// package-level state — every caller holds its own *Database handle,
// deliberately diverging from the original's single global DB_INSTANCE.
package db

import (
	"fmt"
	"os"

	"github.com/teto/tetodb/internal/btree"
	"github.com/teto/tetodb/internal/catalog"
	"github.com/teto/tetodb/internal/column"
	"github.com/teto/tetodb/internal/dberrors"
	"github.com/teto/tetodb/internal/dbglog"
	"github.com/teto/tetodb/internal/heap"
	"github.com/teto/tetodb/internal/pager"
)

// Table bundles one table's heap store with the secondary indexes over it,
// keyed by column name.
type Table struct {
	Name    string
	Schema  column.Schema
	Heap    *heap.Table
	Indexes map[string]*btree.BTree

	indexPagers map[string]*pager.Pager
}

// Database is the set of open tables for one <dbName> prefix.
type Database struct {
	name   string
	tables map[string]*Table
	log    *dbglog.Logger
}

func dataFilePath(dbName, table string) string {
	return fmt.Sprintf("%s_%s.db", dbName, table)
}

func indexFilePath(dbName, table, col string) string {
	return fmt.Sprintf("%s_%s_%s.btree", dbName, table, col)
}

func catalogPath(dbName string) string {
	return dbName + ".teto"
}

// Open loads <dbName>.teto (if present) and opens every table and index it
// lists. A database with no prior catalog file opens with zero tables.
func Open(dbName string, log *dbglog.Logger) (*Database, error) {
	cat, err := catalog.Load(catalogPath(dbName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dberrors.ErrIOFatal, err)
	}

	d := &Database{name: dbName, tables: make(map[string]*Table), log: log}
	for _, entry := range cat.Tables {
		t, err := d.openExistingTable(entry)
		if err != nil {
			return nil, err
		}
		d.tables[entry.Name] = t
		log.Tracef("loaded table %s: %d rows, %d free", entry.Name, entry.RowCount, len(entry.FreeList))
	}
	return d, nil
}

func (d *Database) openExistingTable(entry catalog.TableEntry) (*Table, error) {
	ht, err := heap.Open(dataFilePath(d.name, entry.Name), entry.Columns, entry.RowCount, entry.FreeList)
	if err != nil {
		return nil, fmt.Errorf("%w: open table %s: %v", dberrors.ErrIOFatal, entry.Name, err)
	}

	t := &Table{
		Name:        entry.Name,
		Schema:      entry.Columns,
		Heap:        ht,
		Indexes:     make(map[string]*btree.BTree),
		indexPagers: make(map[string]*pager.Pager),
	}
	for _, c := range entry.Columns {
		if !c.Indexed {
			continue
		}
		if err := t.openIndex(d.name, c.Name); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) openIndex(dbName, col string) error {
	p, err := pager.Open(indexFilePath(dbName, t.Name, col))
	if err != nil {
		return fmt.Errorf("%w: open index %s.%s: %v", dberrors.ErrIOFatal, t.Name, col, err)
	}
	bt, err := btree.Open(p, t.Heap)
	if err != nil {
		return fmt.Errorf("%w: init index %s.%s: %v", dberrors.ErrIOFatal, t.Name, col, err)
	}
	t.indexPagers[col] = p
	t.Indexes[col] = bt
	return nil
}

// CreateTable registers a new table with the given columns (in declaration
// order) and opens a fresh heap file plus one B+Tree file per indexed
// int column.
func (d *Database) CreateTable(name string, cols []column.Column) error {
	if _, exists := d.tables[name]; exists {
		return dberrors.ErrTableAlreadyExists
	}
	schema := column.Build(cols)

	ht, err := heap.Open(dataFilePath(d.name, name), schema, 0, nil)
	if err != nil {
		return fmt.Errorf("%w: create table %s: %v", dberrors.ErrIOFatal, name, err)
	}
	t := &Table{
		Name:        name,
		Schema:      schema,
		Heap:        ht,
		Indexes:     make(map[string]*btree.BTree),
		indexPagers: make(map[string]*pager.Pager),
	}
	for _, c := range schema {
		if !c.Indexed {
			continue
		}
		if err := t.openIndex(d.name, c.Name); err != nil {
			return err
		}
	}
	d.tables[name] = t
	return nil
}

// DropTable closes and removes every file backing the named table. This
// recovers a feature the distilled command language dropped but the
// original CommandDispatcher supported directly.
func (d *Database) DropTable(name string) error {
	t, ok := d.tables[name]
	if !ok {
		return dberrors.ErrTableNotFound
	}

	t.Heap.Close()
	os.Remove(dataFilePath(d.name, name))
	os.Remove(t.Heap.Pager.ShadowPath())
	for col, p := range t.indexPagers {
		p.Close()
		os.Remove(indexFilePath(d.name, name, col))
		os.Remove(p.ShadowPath())
	}
	delete(d.tables, name)
	return nil
}

// GetTable returns the named table, or false if it doesn't exist.
func (d *Database) GetTable(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// TableNames returns every table name, for .tables.
func (d *Database) TableNames() []string {
	names := make([]string, 0, len(d.tables))
	for name := range d.tables {
		names = append(names, name)
	}
	return names
}

// Insert allocates a row id, inserts (columnValue, rowId) into every index
// over the table in schema declaration order, then writes the row slot —
// matching the ordering §5 specifies: index fan-out happens before the row
// itself is durable in the heap.
func (d *Database) Insert(tableName string, row heap.Row) (uint32, error) {
	t, ok := d.tables[tableName]
	if !ok {
		return 0, dberrors.ErrTableNotFound
	}

	rowID := t.Heap.GetNextRowId()
	for _, c := range t.Schema {
		if !c.Indexed {
			continue
		}
		v, ok := row[c.Name].(int32)
		if !ok {
			return 0, fmt.Errorf("%w: column %q requires an int value", dberrors.ErrInvalidSchema, c.Name)
		}
		if err := t.Indexes[c.Name].Insert(v, rowID); err != nil {
			return 0, fmt.Errorf("%w: index insert on %s.%s: %v", dberrors.ErrIOFatal, tableName, c.Name, err)
		}
	}
	if err := t.Heap.InsertRow(rowID, row); err != nil {
		return 0, err
	}
	return rowID, nil
}

// SelectAll returns every live row in id order.
func (d *Database) SelectAll(tableName string) ([]heap.Row, error) {
	t, ok := d.tables[tableName]
	if !ok {
		return nil, dberrors.ErrTableNotFound
	}
	var out []heap.Row
	for i := uint32(0); i < t.Heap.RowCount(); i++ {
		if t.Heap.IsRowDeleted(i) {
			continue
		}
		row, err := t.Heap.GetRow(i)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// SelectWithRange returns live rows with col's value in [lo, hi], routing
// to the column's B+Tree if indexed, else a linear heap scan.
func (d *Database) SelectWithRange(tableName, col string, lo, hi int32) ([]heap.Row, error) {
	t, ok := d.tables[tableName]
	if !ok {
		return nil, dberrors.ErrTableNotFound
	}
	c, ok := t.Schema.ByName(col)
	if !ok {
		return nil, dberrors.ErrColumnNotFound
	}
	if c.Type != column.Int {
		return nil, fmt.Errorf("%w: column %q is not an int column", dberrors.ErrInvalidSchema, col)
	}

	if !c.Indexed {
		var out []heap.Row
		for i := uint32(0); i < t.Heap.RowCount(); i++ {
			if t.Heap.IsRowDeleted(i) {
				continue
			}
			row, err := t.Heap.GetRow(i)
			if err != nil {
				return nil, err
			}
			v := row[col].(int32)
			if v >= lo && v <= hi {
				out = append(out, row)
			}
		}
		return out, nil
	}

	rowIDs, err := t.Indexes[col].SelectRange(lo, hi)
	if err != nil {
		return nil, err
	}
	out := make([]heap.Row, 0, len(rowIDs))
	for _, id := range rowIDs {
		row, err := t.Heap.GetRow(id)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// DeleteAll tombstones every live row without touching indexes — stale
// index cells are cleaned up lazily the next time a leaf is range-deleted
// or an insert overwrites a tombstoned cell in place, per §4.4. Rows are
// tombstoned from the highest id down, so the free list hands ids back
// lowest first.
func (d *Database) DeleteAll(tableName string) (int, error) {
	t, ok := d.tables[tableName]
	if !ok {
		return 0, dberrors.ErrTableNotFound
	}
	count := 0
	for id := t.Heap.RowCount(); id > 0; id-- {
		i := id - 1
		if t.Heap.IsRowDeleted(i) {
			continue
		}
		if err := t.Heap.MarkRowDeleted(i); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// DeleteWithRange tombstones live rows with col's value in [lo, hi],
// routing to the B+Tree's DeleteRange if col is indexed, else a linear
// heap scan.
func (d *Database) DeleteWithRange(tableName, col string, lo, hi int32) (int, error) {
	t, ok := d.tables[tableName]
	if !ok {
		return 0, dberrors.ErrTableNotFound
	}
	c, ok := t.Schema.ByName(col)
	if !ok {
		return 0, dberrors.ErrColumnNotFound
	}
	if c.Type != column.Int {
		return 0, fmt.Errorf("%w: column %q is not an int column", dberrors.ErrInvalidSchema, col)
	}

	if !c.Indexed {
		count := 0
		for i := uint32(0); i < t.Heap.RowCount(); i++ {
			if t.Heap.IsRowDeleted(i) {
				continue
			}
			row, err := t.Heap.GetRow(i)
			if err != nil {
				return count, err
			}
			v := row[col].(int32)
			if v >= lo && v <= hi {
				if err := t.Heap.MarkRowDeleted(i); err != nil {
					return count, err
				}
				count++
			}
		}
		return count, nil
	}

	return t.Indexes[col].DeleteRange(lo, hi)
}

// Commit writes the catalog and flushes every table's heap Pager and
// every index Pager — the only durable state transition in the system.
func (d *Database) Commit() error {
	cat := &catalog.Catalog{}
	for _, t := range d.tables {
		cat.Tables = append(cat.Tables, catalog.TableEntry{
			Name:     t.Name,
			RowCount: t.Heap.RowCount(),
			Columns:  t.Schema,
			FreeList: t.Heap.FreeList(),
		})
		if err := t.Heap.Commit(); err != nil {
			return fmt.Errorf("%w: commit table %s: %v", dberrors.ErrIOFatal, t.Name, err)
		}
		for col, p := range t.indexPagers {
			if err := p.FlushAll(); err != nil {
				return fmt.Errorf("%w: commit index %s.%s: %v", dberrors.ErrIOFatal, t.Name, col, err)
			}
		}
	}
	if err := catalog.WriteAtomic(catalogPath(d.name), cat); err != nil {
		return fmt.Errorf("%w: write catalog: %v", dberrors.ErrIOFatal, err)
	}
	return nil
}

// Close releases every open file handle without flushing.
func (d *Database) Close() error {
	var firstErr error
	for _, t := range d.tables {
		if err := t.Heap.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		for _, p := range t.indexPagers {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
