// Package heap implements the row store: a table's row ids map to fixed
// row slots in a paged data file, with a tombstone byte for deletion and a
// free list of reclaimable ids. It cooperates with internal/btree by
// satisfying the RowDeletionChecker interface B+Tree indexes use to hide
// tombstoned rows from range scans.
package heap

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/teto/tetodb/internal/column"
	"github.com/teto/tetodb/internal/dberrors"
)

// Row is a single record, keyed by column name. Int columns hold int32,
// String columns hold string.
type Row map[string]interface{}

// SerializeRow writes tombstone=0 followed by each column's fixed-width
// payload into dst, which must be exactly schema.RowSize() bytes long.
func SerializeRow(schema column.Schema, row Row, dst []byte) error {
	if uint32(len(dst)) != schema.RowSize() {
		return fmt.Errorf("heap: dst length %d, expected %d", len(dst), schema.RowSize())
	}

	for i := range dst {
		dst[i] = 0
	}
	dst[0] = 0 // live

	for _, c := range schema {
		base := c.Offset
		val, ok := row[c.Name]
		if !ok {
			return fmt.Errorf("heap: %w: missing value for column %q", dberrors.ErrInvalidSchema, c.Name)
		}
		switch c.Type {
		case column.Int:
			v, ok := val.(int32)
			if !ok {
				return fmt.Errorf("heap: %w: column %q expects int32, got %T", dberrors.ErrInvalidSchema, c.Name, val)
			}
			binary.LittleEndian.PutUint32(dst[base:base+4], uint32(v))

		case column.String:
			s, ok := val.(string)
			if !ok {
				return fmt.Errorf("heap: %w: column %q expects string, got %T", dberrors.ErrInvalidSchema, c.Name, val)
			}
			b := []byte(s)
			n := c.Size - 1 // preserve a trailing zero terminator
			if uint32(len(b)) > n {
				b = b[:n]
			}
			copy(dst[base:base+uint32(len(b))], b)

		default:
			return fmt.Errorf("heap: unsupported column type for %q", c.Name)
		}
	}
	return nil
}

// DeserializeRow is the inverse of SerializeRow. It ignores the tombstone
// byte — callers check liveness separately via IsRowDeleted.
func DeserializeRow(schema column.Schema, src []byte) (Row, error) {
	if uint32(len(src)) != schema.RowSize() {
		return nil, fmt.Errorf("heap: src length %d, expected %d", len(src), schema.RowSize())
	}

	row := make(Row, len(schema))
	for _, c := range schema {
		base := c.Offset
		switch c.Type {
		case column.Int:
			v := binary.LittleEndian.Uint32(src[base : base+4])
			row[c.Name] = int32(v)

		case column.String:
			raw := src[base : base+c.Size]
			row[c.Name] = strings.TrimRight(string(raw), "\x00")
		}
	}
	return row, nil
}

// IsTombstoned reports whether a row slot's leading byte marks it deleted.
func IsTombstoned(slot []byte) bool {
	return len(slot) == 0 || slot[0] == 1
}
