package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/document"
	"github.com/robert-at-pretension-io/cla-compiler/internal/policy"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
	"github.com/robert-at-pretension-io/cla-compiler/internal/topology"
	"github.com/robert-at-pretension-io/cla-compiler/internal/validator"
)

// Options configures one file-level compilation.
type Options struct {
	ProgramPath string
	// TopologyPath is the debug bus description. Empty selects the default
	// single mux topology and suppresses mux select registers.
	TopologyPath string
	// OutputPath is the YAML register dump. Defaults to value_dump.<program>.
	OutputPath string
	// CSVPath defaults to OutputPath with a .csv extension.
	CSVPath string
	// APBPath enables the APB traffic script.
	APBPath string
	// NoLint skips the policy pass regardless of configuration.
	NoLint     bool
	TimingPath string

	Config *config.Config
	Log    *diag.Logger
}

// RunResult describes a successful run.
type RunResult struct {
	*Result
	Program  *program.Program
	Lint     *policy.Result
	Outputs  []string
	Warnings int
}

// DefaultOutputPath returns the dump path used when none is given.
func DefaultOutputPath(programPath string) string {
	return "value_dump." + filepath.Base(programPath)
}

// CSVPathFor returns the CSV path that accompanies a YAML dump.
func CSVPathFor(out string) string {
	if strings.HasSuffix(out, ".yaml") {
		return strings.TrimSuffix(out, ".yaml") + ".csv"
	}
	return out + ".csv"
}

type artifact struct {
	path string
	data []byte
}

// Run compiles one program file. Every artifact is rendered and staged in a
// temporary file before the first one is renamed into place, so a failed
// compile or write leaves existing outputs untouched.
func Run(ctx context.Context, opts Options) (*RunResult, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Log
	if log == nil {
		log = diag.Discard()
	}
	out := opts.OutputPath
	if out == "" {
		out = DefaultOutputPath(opts.ProgramPath)
	}
	csvPath := opts.CSVPath
	if csvPath == "" {
		csvPath = CSVPathFor(out)
	}

	tr := newTimingRecorder(time.Now(), resolveTimingPath(opts.TimingPath))
	defer tr.Close()
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("opening timing file: %w", err)
	}

	step := func(phase string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return tr.stage(phase, fn)
	}

	v, err := validator.New()
	if err != nil {
		return nil, err
	}

	run := &RunResult{}

	if err := step("program", func() error {
		log.Infof("Opening program description %q", opts.ProgramPath)
		root, err := loadChecked(opts.ProgramPath, v.ValidateProgram)
		if err != nil {
			return err
		}
		run.Program, err = program.Decode(root, cfg, log)
		return err
	}); err != nil {
		return nil, err
	}
	p := run.Program

	var cat *topology.Catalog
	if err := step("topology", func() error {
		if opts.TopologyPath == "" {
			log.Infof("No debug bus description given, using the default topology")
			cat = topology.Default(cfg.Hardware.DebugInputWidth)
			return nil
		}
		log.Infof("Opening debug bus description %q", opts.TopologyPath)
		root, err := loadChecked(opts.TopologyPath, v.ValidateTopology)
		if err != nil {
			return err
		}
		cat, err = topology.Decode(root, cfg.Hardware.DebugInputWidth, log)
		return err
	}); err != nil {
		return nil, err
	}

	if !opts.NoLint && cfg.LintEnabled() {
		if err := step("lint", func() error {
			res, err := lint(ctx, cfg, p, log)
			run.Lint = res
			return err
		}); err != nil {
			return nil, err
		}
	}

	if err := step("compile", func() error {
		log.Infof("Compiling CLA CSR field values")
		res, err := New(cfg, log).Compile(p, cat, opts.TopologyPath != "")
		run.Result = res
		return err
	}); err != nil {
		return nil, err
	}

	if err := step("check", func() error {
		ov, err := validator.NewOutputValidator()
		if err != nil {
			return err
		}
		if err := ov.Validate(run.Bank.Dump()); err != nil {
			return fmt.Errorf("register dump is malformed: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var artifacts []artifact
	if err := step("render", func() error {
		var err error
		artifacts, err = render(run.Result, cfg, log, out, csvPath, opts.APBPath)
		return err
	}); err != nil {
		return nil, err
	}

	staged := make([]string, 0, len(artifacts))
	discard := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			discard()
			return nil, err
		}
		log.Infof("Writing field values to %q", a.path)
		var tmp string
		if err := tr.writeFile(a.path, func() (err error) {
			tmp, err = stage(a.path, a.data)
			return err
		}); err != nil {
			discard()
			return nil, err
		}
		staged = append(staged, tmp)
	}
	for i, a := range artifacts {
		if err := os.Rename(staged[i], a.path); err != nil {
			discard()
			return nil, fmt.Errorf("replacing %s: %w", a.path, err)
		}
		run.Outputs = append(run.Outputs, a.path)
	}
	if err := tr.Err(); err != nil {
		log.Warnf("Timing events could not be written: %v", err)
	}

	log.Infof("Compilation success")
	run.Warnings = log.Warnings()
	return run, nil
}

// loadChecked reads a document and checks it against its schema before
// any decoding.
func loadChecked(path string, check func(interface{}) error) (*yaml.Node, error) {
	root, err := document.Load(path)
	if err != nil {
		return nil, diag.Wrap(diag.Syntax, path, err)
	}
	plain, err := document.Value(root)
	if err != nil {
		return nil, diag.Wrap(diag.Syntax, path, err)
	}
	if err := check(plain); err != nil {
		return nil, diag.Wrap(diag.Structure, path, err)
	}
	return root, nil
}

func lint(ctx context.Context, cfg *config.Config, p *program.Program, log *diag.Logger) (*policy.Result, error) {
	engine, err := policy.New(cfg.Lint.PolicyDir)
	if err != nil {
		return nil, err
	}
	res, err := engine.Evaluate(ctx, policy.Facts(p, cfg.Lint.Rules))
	if err != nil {
		return nil, err
	}
	for _, v := range res.Violations {
		switch v.Severity {
		case policy.SeverityError:
			log.Errorf("[%s] %s: %s", v.Rule, v.Location, v.Message)
		case policy.SeverityWarning:
			log.Warnf("[%s] %s: %s", v.Rule, v.Location, v.Message)
		default:
			log.Infof("[%s] %s: %s", v.Rule, v.Location, v.Message)
		}
	}
	if res.Summary.Errors > 0 {
		return res, diag.Errorf(diag.Consistency, "lint found %d error(s)", res.Summary.Errors)
	}
	return res, nil
}

func render(res *Result, cfg *config.Config, log *diag.Logger, out, csvPath, apbPath string) ([]artifact, error) {
	var yamlBuf, csvBuf bytes.Buffer
	if err := res.Bank.WriteYAML(&yamlBuf); err != nil {
		return nil, err
	}
	if err := res.Bank.WriteCSV(&csvBuf); err != nil {
		return nil, err
	}
	artifacts := []artifact{
		{path: out, data: yamlBuf.Bytes()},
		{path: csvPath, data: csvBuf.Bytes()},
	}
	if apbPath != "" {
		var apbBuf bytes.Buffer
		skipped, err := res.Bank.WriteAPB(&apbBuf, cfg.RegisterAddress)
		if err != nil {
			return nil, err
		}
		for _, name := range skipped {
			log.Warnf("No APB address configured for %s; register left out of %s", name, apbPath)
		}
		artifacts = append(artifacts, artifact{path: apbPath, data: apbBuf.Bytes()})
	}
	return artifacts, nil
}

// stage writes data to a temporary file next to path and returns its name.
func stage(path string, data []byte) (string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".tmp*")
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return tmp, nil
}
