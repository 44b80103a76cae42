// Package config parses the tetodb command-line arguments: the required
// database name, an optional script file to run before the REPL, and the
// optional -timing flag.
package config

import "fmt"

// Config is the parsed command line.
type Config struct {
	// DBName names the meta file <DBName>.teto and prefixes every table
	// file <DBName>_<table>.db.
	DBName string
	// ScriptFile, if non-empty, is executed line by line before the
	// interactive REPL starts.
	ScriptFile string
	// Timing enables per-statement elapsed-time output, recovered from the
	// original TetoDB.cpp's instrumentation.
	Timing bool
}

// Parse reads os.Args[1:]-style arguments. The only recognized flag is
// -timing; it may appear anywhere. Exactly one or two positional arguments
// are expected: <dbName> [scriptFile].
func Parse(args []string) (Config, error) {
	var cfg Config
	var positional []string

	for _, a := range args {
		if a == "-timing" {
			cfg.Timing = true
			continue
		}
		positional = append(positional, a)
	}

	if len(positional) == 0 {
		return Config{}, fmt.Errorf("usage: tetodb [-timing] <dbName> [scriptFile]")
	}
	cfg.DBName = positional[0]
	if len(positional) > 1 {
		cfg.ScriptFile = positional[1]
	}
	return cfg, nil
}
