package validator

// =============================================================================
// CONTRACT GUARD
// =============================================================================
//
// The CUE schemas sit between the documents a user writes and the decoders
// that turn them into a program and a topology, and between the compiler
// and the register dump it emits.
//
// A document that breaks its schema is rejected before any decoding starts,
// with every violation listed. A register dump that breaks the output
// schema means the compiler itself is wrong: the run fails and nothing is
// written.
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaFS embed.FS

//go:embed output_schema.cue
var outputSchemaFS embed.FS

// Schema definitions of the input documents.
const (
	ProgramDef  = "#Program"
	TopologyDef = "#Topology"
)

// Validator checks input documents against the embedded schema.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// New creates a Validator with the embedded input schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx, schemaFS, "schema.cue")
	if err != nil {
		return nil, err
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

func compileSchema(ctx *cue.Context, fs embed.FS, name string) (cue.Value, error) {
	schemaBytes, err := fs.ReadFile(name)
	if err != nil {
		return cue.Value{}, fmt.Errorf("loading embedded schema %s: %w", name, err)
	}
	schema := ctx.CompileBytes(schemaBytes)
	if schema.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling schema %s: %w", name, schema.Err())
	}
	return schema, nil
}

// unify checks data against one definition of schema.
func unify(ctx *cue.Context, schema cue.Value, def string, data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}
	dataValue := ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}
	defValue := schema.LookupPath(cue.ParsePath(def))
	if defValue.Err() != nil {
		return fmt.Errorf("looking up %s definition: %w", def, defValue.Err())
	}
	return defValue.Unify(dataValue).Validate(cue.Concrete(true))
}

// ValidateProgram checks a program document given as plain values.
func (v *Validator) ValidateProgram(data interface{}) error {
	if err := unify(v.ctx, v.schema, ProgramDef, data); err != nil {
		return fmt.Errorf("program schema validation failed: %w", err)
	}
	return nil
}

// ValidateTopology checks a topology document given as plain values.
func (v *Validator) ValidateTopology(data interface{}) error {
	if err := unify(v.ctx, v.schema, TopologyDef, data); err != nil {
		return fmt.Errorf("topology schema validation failed: %w", err)
	}
	return nil
}

// ValidationErrors returns every violation of def by data, one per line.
func (v *Validator) ValidationErrors(def string, data interface{}) []string {
	return listErrors(unify(v.ctx, v.schema, def, data))
}

func listErrors(err error) []string {
	if err == nil {
		return nil
	}
	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	if len(errs) == 0 {
		errs = append(errs, err.Error())
	}
	return errs
}

// OutputValidator checks emitted register dumps.
type OutputValidator struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewOutputValidator creates a validator for register dumps.
func NewOutputValidator() (*OutputValidator, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx, outputSchemaFS, "output_schema.cue")
	if err != nil {
		return nil, err
	}
	return &OutputValidator{ctx: ctx, schema: schema}, nil
}

// Validate checks a register dump, as returned by csr.Bank.Dump.
func (v *OutputValidator) Validate(data interface{}) error {
	if err := unify(v.ctx, v.schema, "#RegisterDump", data); err != nil {
		return fmt.Errorf("output schema validation failed: %w", err)
	}
	return nil
}

// ValidationErrors returns every violation of the output schema by data.
func (v *OutputValidator) ValidationErrors(data interface{}) []string {
	return listErrors(unify(v.ctx, v.schema, "#RegisterDump", data))
}
