// Package repl implements the line-oriented command language: table
// creation, insert, select, delete, and the dot-commands, dispatched
// against a *db.Database and rendered with markkurossi/tabulate.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markkurossi/tabulate"

	"github.com/teto/tetodb/internal/column"
	"github.com/teto/tetodb/internal/db"
	"github.com/teto/tetodb/internal/dberrors"
	"github.com/teto/tetodb/internal/heap"
)

const Prompt = "TETO_DB >> "

// REPL dispatches command lines against one Database handle.
type REPL struct {
	db     *db.Database
	out    io.Writer
	timing bool
}

// New builds a REPL writing output to out. When timing is true, each
// executed statement prints its elapsed wall-clock time, recovered from
// the original TetoDB.cpp's per-statement instrumentation.
func New(database *db.Database, out io.Writer, timing bool) *REPL {
	return &REPL{db: database, out: out, timing: timing}
}

// RunScript executes every non-empty line of the file at path in order,
// printing errors but not stopping on them — matching how the interactive
// loop behaves for a bad line.
func (r *REPL) RunScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("repl: open script %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(r.out, Prompt+line)
		if !r.Execute(line) {
			return nil
		}
	}
	return sc.Err()
}

// RunInteractive reads lines from in until EOF or .exit.
func (r *REPL) RunInteractive(in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, Prompt)
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !r.Execute(line) {
			return nil
		}
	}
}

// Execute runs one line and returns false if the REPL should stop (.exit).
func (r *REPL) Execute(line string) bool {
	start := time.Now()
	keepRunning := true

	if strings.HasPrefix(line, ".") {
		keepRunning = r.executeDot(line)
	} else {
		if err := r.executeStatement(line); err != nil {
			fmt.Fprintln(r.out, "Error:", err)
		}
	}

	if r.timing {
		fmt.Fprintf(r.out, "(%.3fms)\n", float64(time.Since(start).Microseconds())/1000.0)
	}
	return keepRunning
}

func (r *REPL) executeDot(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".exit":
		return false
	case ".help":
		fmt.Fprintln(r.out, "commands: create table, insert into, select from, delete from, drop table, .commit, .tables, .schema <T>, .exit")
	case ".commit":
		if err := r.db.Commit(); err != nil {
			fmt.Fprintln(r.out, "Error:", err)
		}
	case ".tables":
		for _, name := range r.db.TableNames() {
			fmt.Fprintln(r.out, name)
		}
	case ".schema":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "Error: .schema requires a table name")
			return true
		}
		r.printSchema(fields[1])
	default:
		fmt.Fprintln(r.out, "Error: unrecognized command", fields[0])
	}
	return true
}

func (r *REPL) printSchema(tableName string) {
	t, ok := r.db.GetTable(tableName)
	if !ok {
		fmt.Fprintln(r.out, "Error:", dberrors.ErrTableNotFound)
		return
	}
	tab := tabulate.New(tabulate.UnicodeLight)
	tab.Header("Column")
	tab.Header("Type")
	tab.Header("Size").SetAlign(tabulate.MR)
	tab.Header("Offset").SetAlign(tabulate.MR)
	tab.Header("Indexed")
	for _, c := range t.Schema {
		row := tab.Row()
		row.Column(c.Name)
		row.Column(c.Type.String())
		row.Column(fmt.Sprintf("%d", c.Size))
		row.Column(fmt.Sprintf("%d", c.Offset))
		row.Column(fmt.Sprintf("%v", c.Indexed))
	}
	tab.Print(r.out)
}

func (r *REPL) printRows(schema column.Schema, rows []heap.Row) {
	tab := tabulate.New(tabulate.UnicodeLight)
	for _, c := range schema {
		h := tab.Header(c.Name)
		if c.Type == column.Int {
			h.SetAlign(tabulate.MR)
		}
	}
	for _, rowVal := range rows {
		row := tab.Row()
		for _, c := range schema {
			row.Column(fmt.Sprintf("%v", rowVal[c.Name]))
		}
	}
	tab.Print(r.out)
}

// executeStatement parses and dispatches one non-dot statement.
func (r *REPL) executeStatement(line string) error {
	toks := tokenize(line)
	if len(toks) == 0 {
		return nil
	}
	cmd := strings.ToLower(toks[0])

	switch cmd {
	case "create":
		return r.doCreate(toks[1:])
	case "insert":
		return r.doInsert(toks[1:])
	case "select":
		return r.doSelect(toks[1:])
	case "delete":
		return r.doDelete(toks[1:])
	case "drop":
		return r.doDrop(toks[1:])
	default:
		return fmt.Errorf("unrecognized statement %q", toks[0])
	}
}

// doCreate handles: table <T> (<col> <type> <sizeOrIndexFlag>)+
func (r *REPL) doCreate(toks []string) error {
	if len(toks) < 1 || toks[0] != "table" {
		return fmt.Errorf("expected 'create table ...'")
	}
	toks = toks[1:]
	if len(toks) < 1 {
		return fmt.Errorf("expected table name")
	}
	tableName := toks[0]
	toks = toks[1:]
	if len(toks)%3 != 0 || len(toks) == 0 {
		return fmt.Errorf("expected column definitions in groups of 3: <col> <type> <sizeOrIndexFlag>")
	}

	var cols []column.Column
	for i := 0; i < len(toks); i += 3 {
		name, typ, sizeTok := toks[i], toks[i+1], toks[i+2]
		n, err := strconv.Atoi(sizeTok)
		if err != nil {
			return fmt.Errorf("column %s: invalid size/index flag %q", name, sizeTok)
		}
		switch typ {
		case "int":
			cols = append(cols, column.Column{Name: name, Type: column.Int, Size: 4, Indexed: n != 0})
		case "char":
			cols = append(cols, column.Column{Name: name, Type: column.String, Size: uint32(n)})
		default:
			return fmt.Errorf("column %s: unknown type %q", name, typ)
		}
	}

	if err := r.db.CreateTable(tableName, cols); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "table %s created\n", tableName)
	return nil
}

// doInsert handles: into <T> <v1> <v2> ...
func (r *REPL) doInsert(toks []string) error {
	if len(toks) < 2 || toks[0] != "into" {
		return fmt.Errorf("expected 'insert into <T> ...'")
	}
	tableName := toks[1]
	values := toks[2:]

	t, ok := r.db.GetTable(tableName)
	if !ok {
		return dberrors.ErrTableNotFound
	}
	if len(values) != len(t.Schema) {
		return fmt.Errorf("%w: table %s expects %d values, got %d", dberrors.ErrInvalidSchema, tableName, len(t.Schema), len(values))
	}

	row := make(heap.Row, len(t.Schema))
	for i, c := range t.Schema {
		switch c.Type {
		case column.Int:
			v, err := strconv.Atoi(values[i])
			if err != nil {
				return fmt.Errorf("%w: column %s expects an int, got %q", dberrors.ErrInvalidSchema, c.Name, values[i])
			}
			row[c.Name] = int32(v)
		case column.String:
			row[c.Name] = values[i]
		}
	}

	rowID, err := r.db.Insert(tableName, row)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "inserted row id %d\n", rowID)
	return nil
}

// doSelect handles: from <T> [where <col> <lo> <hi>]
func (r *REPL) doSelect(toks []string) error {
	tableName, rest, err := parseFrom(toks)
	if err != nil {
		return err
	}
	t, ok := r.db.GetTable(tableName)
	if !ok {
		return dberrors.ErrTableNotFound
	}

	var rows []heap.Row
	if len(rest) == 0 {
		rows, err = r.db.SelectAll(tableName)
	} else {
		var col string
		var lo, hi int32
		col, lo, hi, err = parseWhere(rest)
		if err == nil {
			rows, err = r.db.SelectWithRange(tableName, col, lo, hi)
		}
	}
	if err != nil {
		return err
	}
	r.printRows(t.Schema, rows)
	return nil
}

// doDelete handles: from <T> [where <col> <lo> <hi>]
func (r *REPL) doDelete(toks []string) error {
	tableName, rest, err := parseFrom(toks)
	if err != nil {
		return err
	}

	var n int
	if len(rest) == 0 {
		n, err = r.db.DeleteAll(tableName)
	} else {
		var col string
		var lo, hi int32
		col, lo, hi, err = parseWhere(rest)
		if err == nil {
			n, err = r.db.DeleteWithRange(tableName, col, lo, hi)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "deleted %d rows\n", n)
	return nil
}

// doDrop handles: table <T> — a supplemented statement recovered from the
// original Database::DropTable, absent from the distilled command grammar.
func (r *REPL) doDrop(toks []string) error {
	if len(toks) < 2 || toks[0] != "table" {
		return fmt.Errorf("expected 'drop table <T>'")
	}
	if err := r.db.DropTable(toks[1]); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "table %s dropped\n", toks[1])
	return nil
}

func parseFrom(toks []string) (tableName string, rest []string, err error) {
	if len(toks) < 2 || toks[0] != "from" {
		return "", nil, fmt.Errorf("expected 'from <T>'")
	}
	return toks[1], toks[2:], nil
}

func parseWhere(toks []string) (col string, lo, hi int32, err error) {
	if len(toks) != 4 || toks[0] != "where" {
		return "", 0, 0, fmt.Errorf("expected 'where <col> <lo> <hi>'")
	}
	loVal, err := strconv.Atoi(toks[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid lower bound %q", toks[2])
	}
	hiVal, err := strconv.Atoi(toks[3])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid upper bound %q", toks[3])
	}
	return toks[1], int32(loVal), int32(hiVal), nil
}
