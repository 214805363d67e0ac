// Package document loads YAML and JSON input documents as yaml.v3 node
// trees, keeping key order and source positions for diagnostics.
package document

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML or JSON file. JSON is accepted because it
// is a subset of YAML.
func Load(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return root, nil
}

// Parse decodes a single document and returns its top-level node. Mapping
// keys must be unique at every level.
func Parse(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	root := doc.Content[0]
	if err := checkDuplicates(root); err != nil {
		return nil, err
	}
	return root, nil
}

func checkDuplicates(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		seen := make(map[string]int, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if line, ok := seen[key.Value]; ok {
				return fmt.Errorf("line %d: key %q already defined at line %d", key.Line, key.Value, line)
			}
			seen[key.Value] = key.Line
			if err := checkDuplicates(n.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if err := checkDuplicates(c); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			return checkDuplicates(n.Alias)
		}
	}
	return nil
}

// Pair is one key/value entry of a mapping.
type Pair struct {
	Key   string
	Line  int
	Value *yaml.Node
}

// Pairs returns the entries of a mapping node in document order. A nil or
// null node yields no entries.
func Pairs(n *yaml.Node) ([]Pair, error) {
	n = Resolve(n)
	if n == nil || IsNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping, found %s", n.Line, KindName(n))
	}
	out := make([]Pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, Pair{Key: n.Content[i].Value, Line: n.Content[i].Line, Value: n.Content[i+1]})
	}
	return out, nil
}

// Lookup returns the value of key in a mapping node, or nil.
func Lookup(n *yaml.Node, key string) *yaml.Node {
	n = Resolve(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// Resolve follows alias nodes.
func Resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// IsNull reports whether n is absent or an explicit null.
func IsNull(n *yaml.Node) bool {
	n = Resolve(n)
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// String returns a scalar that is not a mapping or a sequence as text.
func String(n *yaml.Node) (string, error) {
	n = Resolve(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: expected a scalar, found %s", line(n), KindName(n))
	}
	return n.Value, nil
}

// Strings returns a scalar or a sequence of scalars as a list of text.
func Strings(n *yaml.Node) ([]string, error) {
	n = Resolve(n)
	if IsNull(n) {
		return nil, nil
	}
	if n.Kind == yaml.ScalarNode {
		return []string{n.Value}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a string or a list, found %s", n.Line, KindName(n))
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		s, err := String(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Int returns an integer scalar. Hex (0x) and decimal forms are accepted.
func Int(n *yaml.Node) (int64, error) {
	s, err := String(n)
	if err != nil {
		return 0, err
	}
	v, err := ParseInt(s)
	if err != nil {
		return 0, fmt.Errorf("line %d: %q is not an integer", n.Line, s)
	}
	return v, nil
}

// ParseInt parses a 0x-prefixed hex or a plain decimal integer. Leading
// zeros are decimal.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		base = 16
		digits = digits[2:]
	}
	v, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}

// KindName describes a node for error messages.
func KindName(n *yaml.Node) string {
	n = Resolve(n)
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a list"
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!null":
			return "null"
		case "!!int":
			return "an integer"
		case "!!bool":
			return "a boolean"
		case "!!float":
			return "a number"
		}
		return "a string"
	}
	return "an unknown node"
}

func line(n *yaml.Node) int {
	if n == nil {
		return 0
	}
	return n.Line
}

// Value converts a node tree to plain Go values (maps, slices, strings,
// int64, float64, bool, nil) for schema validation.
func Value(n *yaml.Node) (any, error) {
	n = Resolve(n)
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := Value(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := Value(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!null":
			return nil, nil
		case "!!int":
			if v, err := ParseInt(n.Value); err == nil {
				return v, nil
			}
			v, err := strconv.ParseInt(strings.ReplaceAll(n.Value, "_", ""), 0, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: integer %q out of range", n.Line, n.Value)
			}
			return v, nil
		case "!!float", "!!bool":
			var v any
			if err := n.Decode(&v); err != nil {
				return nil, fmt.Errorf("line %d: %w", n.Line, err)
			}
			return v, nil
		}
		return n.Value, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node", n.Line)
}
