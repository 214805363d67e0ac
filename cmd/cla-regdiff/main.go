package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/robert-at-pretension-io/cla-compiler/internal/regdump"
)

func main() {
	output := flag.String("output", "", "write delta JSON to file (default: stdout)")
	flag.StringVar(output, "o", "", "write delta JSON to file (shorthand)")
	failOnDiff := flag.Bool("exit-code", false, "exit with status 1 when the dumps differ")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: cla-regdiff [--output file] [--exit-code] <prev.yaml> <next.yaml>")
		os.Exit(2)
	}

	prev, err := readDump(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	next, err := readDump(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	delta := regdump.Compute(prev, next)
	if err := writeJSON(*output, delta); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *failOnDiff && !delta.Empty() {
		os.Exit(1)
	}
}

func readDump(path string) (regdump.Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := regdump.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func writeJSON(path string, value interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		enc = json.NewEncoder(f)
	}
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("writing delta JSON: %w", err)
	}
	return nil
}
