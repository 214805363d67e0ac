package csr

import (
	"encoding/csv"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Hex formats a register or field value the way every artifact shows it.
func Hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func keyNode(name, comment string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
	if comment != "" {
		n.LineComment = "# " + comment
	}
	return n
}

func hexNode(v uint64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: Hex(v)}
}

// YAMLNode builds the register dump document: registers and their fields
// sorted by name, each with its packed value.
func (b *Bank) YAMLNode() *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, r := range b.Sorted() {
		fields := &yaml.Node{Kind: yaml.MappingNode}
		for _, f := range r.SortedFields() {
			fields.Content = append(fields.Content, keyNode(f.Name, f.Comment), hexNode(f.Value))
		}
		body := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
			keyNode("fields", ""), fields,
			keyNode("value", ""), hexNode(r.Value()),
		}}
		root.Content = append(root.Content, keyNode(r.Name, r.Comment), body)
	}
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
}

// WriteYAML writes the commented register dump.
func (b *Bank) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(b.YAMLNode()); err != nil {
		return fmt.Errorf("encoding register dump: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding register dump: %w", err)
	}
	return nil
}

// WriteCSV writes one mmr_name,hex_value row per register in bank order.
func (b *Bank) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"mmr_name", "hex_value"}); err != nil {
		return fmt.Errorf("writing register table: %w", err)
	}
	for _, r := range b.regs {
		if err := cw.Write([]string{r.Name, Hex(r.Value())}); err != nil {
			return fmt.Errorf("writing register table: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing register table: %w", err)
	}
	return nil
}

// AddressFunc maps a register name to its APB address.
type AddressFunc func(reg string) (uint64, bool)

// WriteAPB writes the APB traffic that programs the bank: for every
// register with a known address, the lower 32 bits then the upper 32 bits.
// It returns the registers skipped for lack of an address.
func (b *Bank) WriteAPB(w io.Writer, addr AddressFunc) ([]string, error) {
	var skipped []string
	for _, r := range b.regs {
		a, ok := addr(r.Name)
		if !ok {
			skipped = append(skipped, r.Name)
			continue
		}
		v := r.Value()
		if _, err := fmt.Fprintf(w, "write %#x %#x f\nwrite %#x %#x f\n", a, v&0xffffffff, a+4, v>>32); err != nil {
			return skipped, fmt.Errorf("writing APB traffic: %w", err)
		}
	}
	return skipped, nil
}

// DumpRegister is the plain form of one register for schema validation.
type DumpRegister struct {
	Fields map[string]uint64 `json:"fields"`
	Value  uint64            `json:"value"`
}

// Dump returns the bank as plain values.
func (b *Bank) Dump() map[string]DumpRegister {
	out := make(map[string]DumpRegister, len(b.regs))
	for _, r := range b.regs {
		fields := make(map[string]uint64, len(r.Fields))
		for _, f := range r.Fields {
			fields[f.Name] = f.Value
		}
		out[r.Name] = DumpRegister{Fields: fields, Value: r.Value()}
	}
	return out
}
