package repl

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/teto/tetodb/internal/db"
	"github.com/teto/tetodb/internal/dbglog"
)

func newTestREPL(t *testing.T) (*REPL, *bytes.Buffer) {
	t.Helper()
	dbName := filepath.Join(t.TempDir(), "t")
	database, err := db.Open(dbName, dbglog.New(false))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	var out bytes.Buffer
	return New(database, &out, false), &out
}

func TestCreateInsertSelect(t *testing.T) {
	r, out := newTestREPL(t)

	lines := []string{
		`create table t id int 1 name char 8`,
		`insert into t 7 "alice"`,
		`insert into t 3 "bob"`,
		`insert into t 9 "carol"`,
		`select from t where id 4 10`,
	}
	for _, l := range lines {
		if !r.Execute(l) {
			t.Fatalf("unexpected stop on %q", l)
		}
	}

	got := out.String()
	if !strings.Contains(got, "alice") || !strings.Contains(got, "carol") {
		t.Errorf("expected alice and carol in output, got:\n%s", got)
	}
	if strings.Contains(got, "bob") {
		t.Errorf("bob should be filtered out of range [4,10]:\n%s", got)
	}
}

func TestDotCommandsAndExit(t *testing.T) {
	r, out := newTestREPL(t)

	r.Execute(`create table t id int 0 name char 8`)
	out.Reset()
	r.Execute(`.tables`)
	if !strings.Contains(out.String(), "t") {
		t.Errorf(".tables should list table t, got:\n%s", out.String())
	}

	out.Reset()
	r.Execute(`.schema t`)
	if !strings.Contains(out.String(), "name") {
		t.Errorf(".schema should list column name, got:\n%s", out.String())
	}

	if keepRunning := r.Execute(`.exit`); keepRunning {
		t.Errorf(".exit should signal the REPL to stop")
	}
}

func TestDropTableStatement(t *testing.T) {
	r, out := newTestREPL(t)

	r.Execute(`create table t id int 0`)
	r.Execute(`drop table t`)
	if !strings.Contains(out.String(), "dropped") {
		t.Errorf("expected drop confirmation, got:\n%s", out.String())
	}

	out.Reset()
	r.Execute(`select from t`)
	if !strings.Contains(out.String(), "Error") {
		t.Errorf("expected error selecting from dropped table, got:\n%s", out.String())
	}
}

func TestInsertThenDeleteWithRange(t *testing.T) {
	r, out := newTestREPL(t)

	r.Execute(`create table t k int 1`)
	for _, v := range []string{"1", "2", "3", "4"} {
		r.Execute(`insert into t ` + v)
	}
	out.Reset()
	r.Execute(`delete from t where k 2 3`)
	if !strings.Contains(out.String(), "deleted 2 rows") {
		t.Errorf("expected 2 rows deleted, got:\n%s", out.String())
	}
}
