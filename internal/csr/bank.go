// Package csr models the CLA register bank: fixed-width fields packed MSB
// first into 64-bit registers, with provenance comments, and the writers
// that serialize a bank.
package csr

import (
	"fmt"
	"sort"

	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
)

// Field is one bit field of a register.
type Field struct {
	Name    string
	Width   int
	Value   uint64
	Comment string
}

// Register is a named list of fields, most significant first.
type Register struct {
	Name    string
	Kind    string
	Comment string
	Fields  []*Field
}

type fieldSpec struct {
	name  string
	width int
	reset uint64
}

func newRegister(name, kind string, specs []fieldSpec) *Register {
	r := &Register{Name: name, Kind: kind}
	width := 0
	for _, s := range specs {
		r.Fields = append(r.Fields, &Field{Name: s.name, Width: s.width, Value: s.reset})
		width += s.width
	}
	if width > 64 {
		panic(fmt.Sprintf("register layout %s is %d bits wide", kind, width))
	}
	return r
}

// Field returns the named field, or nil.
func (r *Register) Field(name string) *Field {
	for _, f := range r.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Set stores v in a field after checking that it fits.
func (r *Register) Set(field string, v uint64, comment string) error {
	f := r.Field(field)
	if f == nil {
		return fmt.Errorf("register %s has no field %s", r.Name, field)
	}
	if f.Width < 64 && v>>uint(f.Width) != 0 {
		return fmt.Errorf("field %s.%s[%d:0] is not wide enough for value %#x", r.Name, field, f.Width-1, v)
	}
	f.Value = v
	if comment != "" {
		f.Comment = comment
	}
	return nil
}

// Value packs the fields into the register value.
func (r *Register) Value() uint64 {
	var v uint64
	for _, f := range r.Fields {
		v = v<<uint(f.Width) | f.Value
	}
	return v
}

// SortedFields returns the fields ordered by name.
func (r *Register) SortedFields() []*Field {
	out := append([]*Field(nil), r.Fields...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Register kinds.
const (
	KindCounter   = "counter_cfg"
	KindEAP       = "eap"
	KindValue     = "value"
	KindMask      = "mask"
	KindEdge      = "edge_detect_cfg"
	KindMuxSelect = "mux_select"
	KindDelay     = "signal_delay"
)

var layouts = map[string][]fieldSpec{
	KindCounter: {
		{"rsvd", 1, 0},
		{"upper_target", 15, 0},
		{"upper_counter", 15, 0},
		{"reset_on_target", 1, 0},
		{"target", 16, 0},
		{"counter", 16, 0},
	},
	KindEAP: {
		{"action3", 6, 0},
		{"action2", 6, 0},
		{"udf", 8, 0},
		{"event_type2", 6, 0},
		{"custom_action1_enable", 1, 0},
		{"custom_action0_enable", 1, 0},
		{"custom_action_1", 4, 0},
		{"custom_action_0", 4, 0},
		{"event_type1", 6, 0},
		{"event_type0", 6, 0},
		{"logical_op", 2, 0},
		{"action1", 6, 0},
		{"action0", 6, 0},
		{"dest_node", 2, 0},
	},
	KindValue: {{"value", 64, 0}},
	KindMask:  {{"mask", 64, 0}},
	KindEdge: {
		{"pos_edge_signal1", 1, 0},
		{"signal1_select", 6, 0},
		{"pos_edge_signal0", 1, 0},
		{"signal0_select", 6, 0},
	},
	KindMuxSelect: {
		{"Muxselseg7", 6, 0},
		{"Muxselseg6", 6, 0},
		{"Muxselseg5", 6, 0},
		{"Muxselseg4", 6, 0},
		{"Muxselseg3", 6, 0},
		{"Muxselseg2", 6, 0},
		{"Muxselseg1", 6, 0},
		{"Muxselseg0", 6, 0},
		{"rsvd", 8, 0},
		{"DbmId", 6, 0},
		{"DbmMode", 2, 1},
	},
	KindDelay: {
		{"rsvd", 48, 0},
		{"Muxselseg7", 2, 0},
		{"Muxselseg6", 2, 0},
		{"Muxselseg5", 2, 0},
		{"Muxselseg4", 2, 0},
		{"Muxselseg3", 2, 0},
		{"Muxselseg2", 2, 0},
		{"Muxselseg1", 2, 0},
		{"Muxselseg0", 2, 0},
	},
}

// Fixed register names.
const (
	EdgeDetect     = "dbg_signal_edge_detect_cfg"
	TransitionMask = "dbg_transition_mask"
	TransitionFrom = "dbg_transition_from_value"
	TransitionTo   = "dbg_transition_to_value"
	OnesCountMask  = "dbg_ones_count_mask"
	OnesCountValue = "dbg_ones_count_value"
	AnyChange      = "dbg_any_change"
	SignalDelay    = "dbg_signal_delay_mux_sel"
)

func CounterName(i int) string { return fmt.Sprintf("dbg_cla_counter%d_cfg", i) }
func EAPName(node, eap int) string { return fmt.Sprintf("dbg_node%d_eap%d", node, eap) }
func MaskName(i int) string { return fmt.Sprintf("dbg_signal_mask%d", i) }
func MatchName(i int) string { return fmt.Sprintf("dbg_signal_match%d", i) }

// MuxSelectName names the register of a select CSR driving mux id.
func MuxSelectName(csr string, id int) string { return fmt.Sprintf("%s__ID_%d", csr, id) }

// Bank is the set of registers of one compilation, in construction order.
type Bank struct {
	regs   []*Register
	byName map[string]*Register
}

// NewBank builds every fixed register of a CLA sized by hw, all fields at
// their reset value.
func NewBank(hw config.HardwareConfig) *Bank {
	b := &Bank{byName: map[string]*Register{}}
	for i := 0; i < hw.Counters; i++ {
		b.add(newRegister(CounterName(i), KindCounter, layouts[KindCounter]))
	}
	for n := 0; n < hw.Nodes; n++ {
		for e := 0; e < hw.EAPsPerNode; e++ {
			b.add(newRegister(EAPName(n, e), KindEAP, layouts[KindEAP]))
		}
	}
	for i := 0; i < hw.MatchRegisters; i++ {
		b.add(newRegister(MaskName(i), KindValue, layouts[KindValue]))
		b.add(newRegister(MatchName(i), KindValue, layouts[KindValue]))
	}
	b.add(newRegister(EdgeDetect, KindEdge, layouts[KindEdge]))
	for _, name := range []string{TransitionMask, TransitionFrom, TransitionTo, OnesCountMask, OnesCountValue} {
		b.add(newRegister(name, KindValue, layouts[KindValue]))
	}
	b.add(newRegister(AnyChange, KindMask, layouts[KindMask]))
	b.add(newRegister(SignalDelay, KindDelay, layouts[KindDelay]))
	return b
}

func (b *Bank) add(r *Register) {
	b.regs = append(b.regs, r)
	b.byName[r.Name] = r
}

// AddMuxSelect adds the select register of one (CSR, mux ID) pair.
func (b *Bank) AddMuxSelect(csr string, id int) (*Register, error) {
	if csr == "" {
		return nil, fmt.Errorf("empty select CSR name for mux ID %d", id)
	}
	name := MuxSelectName(csr, id)
	if _, dup := b.byName[name]; dup {
		return nil, fmt.Errorf("multiple debug mux instances connected to select CSR %q have the same mux ID %d", csr, id)
	}
	r := newRegister(name, KindMuxSelect, layouts[KindMuxSelect])
	if err := r.Set("DbmId", uint64(id), ""); err != nil {
		return nil, err
	}
	b.add(r)
	return r, nil
}

// Register returns the named register.
func (b *Bank) Register(name string) (*Register, bool) {
	r, ok := b.byName[name]
	return r, ok
}

// Set stores v in reg.field.
func (b *Bank) Set(reg, field string, v uint64, comment string) error {
	r, ok := b.byName[reg]
	if !ok {
		return fmt.Errorf("unknown register %s", reg)
	}
	return r.Set(field, v, comment)
}

// Comment sets the comment of a register.
func (b *Bank) Comment(reg, comment string) error {
	r, ok := b.byName[reg]
	if !ok {
		return fmt.Errorf("unknown register %s", reg)
	}
	r.Comment = comment
	return nil
}

// Registers returns the registers in construction order.
func (b *Bank) Registers() []*Register {
	return b.regs
}

// Sorted returns the registers ordered by name.
func (b *Bank) Sorted() []*Register {
	out := append([]*Register(nil), b.regs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registers.
func (b *Bank) Len() int {
	return len(b.regs)
}
