// Command tetodb is a single-process embedded relational database with a
// line-oriented command language, a buffer-pooled paged store with
// shadow-paging commits, and B+Tree secondary indexes.
package main

import (
	"fmt"
	"os"

	"github.com/teto/tetodb/internal/config"
	"github.com/teto/tetodb/internal/db"
	"github.com/teto/tetodb/internal/dbglog"
	"github.com/teto/tetodb/internal/repl"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}

	log := dbglog.New(cfg.Timing)

	database, err := db.Open(cfg.DBName, log)
	if err != nil {
		log.Fatalf("open database %s: %v", cfg.DBName, err)
	}
	defer database.Close()

	r := repl.New(database, os.Stdout, cfg.Timing)

	if cfg.ScriptFile != "" {
		if err := r.RunScript(cfg.ScriptFile); err != nil {
			fmt.Fprintln(os.Stderr, "script error:", err)
		}
	}

	if err := r.RunInteractive(os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, "repl error:", err)
	}

	os.Exit(0)
}
