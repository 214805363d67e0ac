// Package regdump reads emitted register dumps and compares two of them.
package regdump

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/cla-compiler/internal/csr"
	"github.com/robert-at-pretension-io/cla-compiler/internal/document"
)

// Register is one register of a dump.
type Register struct {
	Name   string
	Fields map[string]uint64
	Value  uint64
}

// Dump maps register names to registers.
type Dump map[string]Register

// Names returns the register names in sorted order.
func (d Dump) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Read parses a YAML register dump as written by csr.Bank.WriteYAML.
func Read(r io.Reader) (Dump, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading register dump: %w", err)
	}
	root, err := document.Parse(data)
	if err != nil {
		return nil, err
	}
	pairs, err := document.Pairs(root)
	if err != nil {
		return nil, err
	}
	out := make(Dump, len(pairs))
	for _, pair := range pairs {
		var body struct {
			Fields map[string]uint64 `yaml:"fields"`
			Value  uint64            `yaml:"value"`
		}
		if err := decode(pair.Value, &body); err != nil {
			return nil, fmt.Errorf("register %s on line %d: %w", pair.Key, pair.Line, err)
		}
		if body.Fields == nil {
			body.Fields = map[string]uint64{}
		}
		out[pair.Key] = Register{Name: pair.Key, Fields: body.Fields, Value: body.Value}
	}
	return out, nil
}

func decode(n *yaml.Node, v interface{}) error {
	if n == nil {
		return fmt.Errorf("missing register body")
	}
	return document.Resolve(n).Decode(v)
}

// FromBank converts a compiled bank into a Dump.
func FromBank(b *csr.Bank) Dump {
	out := Dump{}
	for name, r := range b.Dump() {
		out[name] = Register{Name: name, Fields: r.Fields, Value: r.Value}
	}
	return out
}
