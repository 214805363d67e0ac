// =============================================================================
// CLA Compiler - Main Entry Point
// =============================================================================
//
// Compiles a CLA program description into the CSR field values that program
// the on-chip logic analyzer.
//
// THE PIPELINE:
//   1. Program and debug bus documents are parsed as YAML node trees
//   2. CUE schemas reject malformed documents before decoding
//   3. OPA lint rules report unreachable nodes, unused events and the like
//   4. Detectors are allocated and signals routed through the mux network
//   5. Registers are populated and checked against the output schema
//   6. YAML, CSV and optional APB artifacts are written atomically
//
// WHEN A REGISTER LOOKS WRONG:
//   Run with -v and read the "Signal path" lines first. Routing issues
//   explain most bad masks and delays.
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/robert-at-pretension-io/cla-compiler/internal/compiler"
	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
)

const version = "1.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "init":
		runInit()
	case "version", "--version":
		fmt.Printf("cla-compile %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	case "compile":
		os.Exit(runCompile(os.Args[2:]))
	default:
		os.Exit(runCompile(os.Args[1:]))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: cla-compile [command] [options] <program.yaml>

Commands:
  compile           Compile a CLA program (the default)
  init              Create a cla_compiler.json configuration file
  version           Print the compiler version

Options:
  --bus <file>      Debug bus description (default: built-in single mux)
  -o <file>         YAML register dump (default: value_dump.<program>)
  --csv <file>      CSV register dump (default: the -o path with .csv)
  --apb <file>      Also write APB write traffic
  -c <file>         Use this config file
  --log <file>      Write a debug log
  --timing <file>   Write per-phase timing as JSONL
  --no-lint         Skip the lint rules
  -v, --verbose     Print debug diagnostics
  -h, --help        Show this help message

Configuration:
  cla-compile looks for configuration in:
    1. ./cla_compiler.json
    2. ./.cla_compiler.json
    3. <program dir>/cla_compiler.json
    4. ~/.config/cla_compiler/config.json

  Run 'cla-compile init' to create a default configuration file.`)
}

func runInit() {
	configPath := "cla_compiler.json"

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - Hardware limits and opcode tables")
	fmt.Println("  - Lint rule severities")
	fmt.Println("  - APB register addresses")
}

func runCompile(args []string) int {
	fs := flag.NewFlagSet("cla-compile", flag.ContinueOnError)
	bus := fs.String("bus", "", "debug bus description")
	output := fs.String("o", "", "YAML register dump")
	csvPath := fs.String("csv", "", "CSV register dump")
	apb := fs.String("apb", "", "APB write traffic")
	configPath := fs.String("c", "", "config file")
	logPath := fs.String("log", "", "debug log file")
	timing := fs.String("timing", "", "per-phase timing JSONL")
	noLint := fs.Bool("no-lint", false, "skip the lint rules")
	verbose := fs.Bool("v", false, "print debug diagnostics")
	fs.BoolVar(verbose, "verbose", false, "print debug diagnostics")
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() != 1 {
		printUsage()
		return 1
	}
	programPath := fs.Arg(0)

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", *configPath, err)
			return 1
		}
	} else if cfg, err = config.Load(programPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	opts := diag.Options{
		ConsoleLevel: cfg.Log.Console,
		File:         cfg.Log.File,
		FileLevel:    cfg.Log.FileLevel,
	}
	if *verbose {
		opts.ConsoleLevel = "debug"
	}
	if *logPath != "" {
		opts.File = *logPath
	}
	log, err := diag.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer log.Close()

	res, err := compiler.Run(context.Background(), compiler.Options{
		ProgramPath:  programPath,
		TopologyPath: *bus,
		OutputPath:   *output,
		CSVPath:      *csvPath,
		APBPath:      *apb,
		NoLint:       *noLint,
		TimingPath:   *timing,
		Config:       cfg,
		Log:          log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	for _, out := range res.Outputs {
		fmt.Printf("Wrote %s\n", out)
	}
	if res.Warnings > 0 {
		fmt.Printf("%d warning(s)\n", res.Warnings)
	}
	return 0
}
