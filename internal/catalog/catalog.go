// Package catalog reads and writes the meta-catalog file: a plain text
// listing of every table's schema, row count, and free list, persisted to
// <dbName>.teto at commit time.
package catalog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/teto/tetodb/internal/column"
)

// TableEntry is one table's catalog record.
type TableEntry struct {
	Name     string
	RowCount uint32
	Columns  column.Schema
	FreeList []uint32
}

// Catalog is the in-memory form of a <dbName>.teto file.
type Catalog struct {
	Tables []TableEntry
}

// Load reads path. A missing file is not an error — it means a brand new
// database with no tables yet, matching LoadFromMeta's behavior of
// silently returning when the file can't be opened.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fields := newFieldReader(sc)

	numTables, err := fields.int()
	if err != nil {
		return &Catalog{}, nil
	}

	cat := &Catalog{}
	for i := 0; i < numTables; i++ {
		name, err := fields.token()
		if err != nil {
			return nil, fmt.Errorf("catalog: table %d: %w", i, err)
		}
		rowCount, err := fields.uint32()
		if err != nil {
			return nil, fmt.Errorf("catalog: table %s: row count: %w", name, err)
		}
		numCols, err := fields.int()
		if err != nil {
			return nil, fmt.Errorf("catalog: table %s: column count: %w", name, err)
		}

		cols := make([]column.Column, numCols)
		for j := 0; j < numCols; j++ {
			cName, err := fields.token()
			if err != nil {
				return nil, fmt.Errorf("catalog: table %s column %d: %w", name, j, err)
			}
			typeID, err := fields.int()
			if err != nil {
				return nil, fmt.Errorf("catalog: table %s column %s: type: %w", name, cName, err)
			}
			sizeOrIndex, err := fields.uint32()
			if err != nil {
				return nil, fmt.Errorf("catalog: table %s column %s: size: %w", name, cName, err)
			}
			offset, err := fields.uint32()
			if err != nil {
				return nil, fmt.Errorf("catalog: table %s column %s: offset: %w", name, cName, err)
			}

			c := column.Column{Name: cName, Offset: offset}
			if column.Type(typeID) == column.Int {
				c.Type = column.Int
				c.Size = 4
				c.Indexed = sizeOrIndex != 0
			} else {
				c.Type = column.String
				c.Size = sizeOrIndex
			}
			cols[j] = c
		}

		freeListSize, err := fields.int()
		if err != nil {
			return nil, fmt.Errorf("catalog: table %s: free list size: %w", name, err)
		}
		freeList := make([]uint32, freeListSize)
		for k := 0; k < freeListSize; k++ {
			id, err := fields.uint32()
			if err != nil {
				return nil, fmt.Errorf("catalog: table %s: free list entry %d: %w", name, k, err)
			}
			freeList[k] = id
		}

		cat.Tables = append(cat.Tables, TableEntry{
			Name:     name,
			RowCount: rowCount,
			Columns:  cols,
			FreeList: freeList,
		})
	}
	return cat, nil
}

// Write serializes the catalog directly to path, matching the original
// format's non-atomic FlushToMeta: a crash mid-write can leave a truncated
// or torn .teto file. Commit callers should prefer WriteAtomic.
func Write(path string, cat *Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("catalog: create %s: %w", path, err)
	}
	defer f.Close()
	return encode(f, cat)
}

// WriteAtomic writes to a temp file in the same directory and renames it
// over path, so a crash mid-write never leaves a torn catalog — unlike the
// original's direct-overwrite FlushToMeta, which §9 calls out as an
// acknowledged, non-crash-atomic limitation.
func WriteAtomic(path string, cat *Catalog) error {
	tmp := path + ".tmp-catalog"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("catalog: create %s: %w", tmp, err)
	}
	if err := encode(f, cat); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("catalog: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("catalog: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("catalog: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

func encode(f *os.File, cat *Catalog) error {
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, len(cat.Tables))
	for _, t := range cat.Tables {
		fmt.Fprintf(w, "%s %d %d\n", t.Name, t.RowCount, len(t.Columns))
		for _, c := range t.Columns {
			if c.Type == column.Int {
				idx := 0
				if c.Indexed {
					idx = 1
				}
				fmt.Fprintf(w, "%s %d %d %d\n", c.Name, int(column.Int), idx, c.Offset)
			} else {
				fmt.Fprintf(w, "%s %d %d %d\n", c.Name, int(column.String), c.Size, c.Offset)
			}
		}
		fmt.Fprintln(w, len(t.FreeList))
		for i, id := range t.FreeList {
			if i > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprint(w, id)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// fieldReader tokenizes a text file by whitespace, spanning line breaks,
// since the original format is whitespace- not line-delimited for most
// fields (only the free list trailing newline matters for EOF detection).
type fieldReader struct {
	sc *bufio.Scanner
}

func newFieldReader(sc *bufio.Scanner) *fieldReader {
	sc.Split(bufio.ScanWords)
	return &fieldReader{sc: sc}
}

func (r *fieldReader) token() (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("unexpected end of catalog file")
	}
	return r.sc.Text(), nil
}

func (r *fieldReader) int() (int, error) {
	tok, err := r.token()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(tok))
}

func (r *fieldReader) uint32() (uint32, error) {
	tok, err := r.token()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 32)
	return uint32(v), err
}
