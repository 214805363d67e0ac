package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/document"
)

// Topology document keys.
const (
	KeyInput       = "CLA Input"
	KeyMuxes       = "Debug Mux Instances"
	KeyOutput      = "Debug Bus Output"
	KeySelectCSR   = "DbgMuxSelCsr"
	KeyMuxID       = "DEBUG_MUX_ID"
	KeyLaneWidth   = "LANE_WIDTH"
	KeyStages      = "additional_output_stages"
	KeyOutputWidth = "Output Width"
	KeyInputs      = "Debug Bus Inputs"

	KeyName           = "Name"
	KeyType           = "Type"
	KeyBitWidth       = "Bit Width"
	KeyLaneLower      = "Lane Lower"
	KeyLaneLowerIndex = "Lane Lower Index"
	KeyLaneUpper      = "Lane Upper"
	KeyLaneUpperIndex = "Lane Upper Index"
	KeySubBuses       = "Sub Buses"
)

// Decode builds a Catalog from a parsed topology document.
func Decode(root *yaml.Node, inputWidth int, log *diag.Logger) (*Catalog, error) {
	if log == nil {
		log = diag.Discard()
	}
	input, err := document.String(document.Lookup(root, KeyInput))
	if err != nil || input == "" {
		return nil, diag.At(diag.Structure, KeyInput, "the CLA input signal name is required")
	}
	c := newCatalog(input, inputWidth)

	muxes, err := document.Pairs(document.Lookup(root, KeyMuxes))
	if err != nil {
		return nil, diag.Wrap(diag.Structure, KeyMuxes, err)
	}
	if len(muxes) == 0 {
		return nil, diag.At(diag.Structure, KeyMuxes, "no debug mux instances defined")
	}

	for _, pair := range muxes {
		m, err := decodeMux(pair.Key, pair.Value, input, inputWidth)
		if err != nil {
			return nil, err
		}
		id := c.addMux(m)
		inputs := document.Resolve(document.Lookup(pair.Value, KeyInputs))
		if inputs == nil || inputs.Kind != yaml.SequenceNode {
			return nil, diag.At(diag.Structure, pair.Key, "%s must be a list", KeyInputs)
		}
		for _, bus := range inputs.Content {
			if err := c.decodeBus(bus, "", id, pair.Key, log); err != nil {
				return nil, err
			}
		}
	}

	if err := c.checkOutputs(); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeMux(name string, n *yaml.Node, input string, inputWidth int) (Mux, error) {
	m := Mux{Name: name}
	var err error

	if m.Output, err = document.String(document.Lookup(n, KeyOutput)); err != nil || m.Output == "" {
		return m, diag.At(diag.Structure, name, "%s is required", KeyOutput)
	}
	if m.SelectCSRs, err = document.Strings(document.Lookup(n, KeySelectCSR)); err != nil || len(m.SelectCSRs) == 0 {
		return m, diag.At(diag.Structure, name, "%s must name at least one select CSR", KeySelectCSR)
	}
	id, err := requiredInt(n, KeyMuxID, name)
	if err != nil {
		return m, err
	}
	if id < 0 || id > 63 {
		return m, diag.At(diag.Structure, name, "%s %d does not fit the 6-bit DbmId field", KeyMuxID, id)
	}
	m.HardwareID = id

	if m.LaneWidth, err = requiredInt(n, KeyLaneWidth, name); err != nil {
		return m, err
	}
	if m.LaneWidth <= 0 {
		return m, diag.At(diag.Structure, name, "%s must be positive", KeyLaneWidth)
	}

	stages := 0
	if v := document.Lookup(n, KeyStages); !document.IsNull(v) {
		s, err := document.Int(v)
		if err != nil || s < 0 {
			return m, diag.At(diag.Structure, name, "%s must be a non-negative integer", KeyStages)
		}
		stages = int(s)
	}
	m.OutputDelay = 1 + stages

	m.OutputWidth = inputWidth
	if v := document.Lookup(n, KeyOutputWidth); !document.IsNull(v) {
		w, err := document.Int(v)
		if err != nil || w <= 0 {
			return m, diag.At(diag.Structure, name, "%s must be a positive integer", KeyOutputWidth)
		}
		m.OutputWidth = int(w)
	}
	if m.OutputWidth%m.LaneWidth != 0 {
		return m, diag.At(diag.Structure, name, "output width %d is not a whole number of %d-bit lanes", m.OutputWidth, m.LaneWidth)
	}
	m.OutputLanes = m.OutputWidth / m.LaneWidth
	m.Final = m.Output == input
	return m, nil
}

func requiredInt(n *yaml.Node, key, loc string) (int, error) {
	v := document.Lookup(n, key)
	if document.IsNull(v) {
		return 0, diag.At(diag.Structure, loc, "%s is required", key)
	}
	i, err := document.Int(v)
	if err != nil {
		return 0, diag.Wrap(diag.Structure, loc+"."+key, err)
	}
	return int(i), nil
}

func (c *Catalog) decodeBus(n *yaml.Node, parent string, mux MuxID, muxName string, log *diag.Logger) error {
	name, err := document.String(document.Lookup(n, KeyName))
	if err != nil || name == "" {
		return diag.At(diag.Structure, muxName, "debug bus input without a %s", KeyName)
	}
	if parent != "" {
		name = parent + "." + name
	}
	loc := muxName + "." + name

	s := Signal{Name: name, Mux: mux}
	if v := document.Lookup(n, KeyType); !document.IsNull(v) {
		s.Type, _ = document.String(v)
	}
	fields := []struct {
		key string
		dst *int
	}{
		{KeyBitWidth, &s.Width},
		{KeyLaneLower, &s.LowerLane},
		{KeyLaneLowerIndex, &s.LowerLaneIndex},
		{KeyLaneUpper, &s.UpperLane},
		{KeyLaneUpperIndex, &s.UpperLaneIndex},
	}
	for _, f := range fields {
		if *f.dst, err = requiredInt(n, f.key, loc); err != nil {
			return err
		}
	}

	lw := c.Mux(mux).LaneWidth
	if s.Width <= 0 {
		return diag.At(diag.Structure, loc, "%s must be positive", KeyBitWidth)
	}
	if s.LowerLane < 0 || s.UpperLane < s.LowerLane {
		return diag.At(diag.Structure, loc, "lane span %d..%d is invalid", s.LowerLane, s.UpperLane)
	}
	if s.LowerLaneIndex < 0 || s.LowerLaneIndex >= lw || s.UpperLaneIndex < 0 || s.UpperLaneIndex >= lw {
		return diag.At(diag.Structure, loc, "lane indexes must be within a %d-bit lane", lw)
	}
	span := (s.UpperLane*lw + s.UpperLaneIndex) - (s.LowerLane*lw + s.LowerLaneIndex) + 1
	if span != s.Width {
		return diag.At(diag.Structure, loc, "%s %d does not match its lane span of %d bits", KeyBitWidth, s.Width, span)
	}

	if c.addSignal(s) {
		log.Warnf("Debug bus signal %s is defined more than once; the definition under %s is used", name, muxName)
	}

	subs := document.Resolve(document.Lookup(n, KeySubBuses))
	if document.IsNull(subs) {
		return nil
	}
	if subs.Kind != yaml.SequenceNode {
		return diag.At(diag.Structure, loc, "%s must be a list", KeySubBuses)
	}
	for _, sub := range subs.Content {
		if err := c.decodeBus(sub, name, mux, muxName, log); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) checkOutputs() error {
	for i := range c.muxes {
		m := &c.muxes[i]
		if m.Final {
			continue
		}
		id, ok := c.byName[m.Output]
		if !ok {
			return diag.At(diag.Structure, m.Name, "output %s is neither the CLA input nor an input of another mux", m.Output)
		}
		if c.signals[id].Mux == MuxID(i) {
			return diag.At(diag.Structure, m.Name, "output %s feeds back into the same mux", m.Output)
		}
		if w := c.signals[id].Width; w < m.OutputWidth {
			return diag.At(diag.Structure, m.Name, "output width %d exceeds the %d bits of %s", m.OutputWidth, w, m.Output)
		}
	}
	if _, ok := c.FinalMux(); !ok {
		return diag.At(diag.Structure, KeyMuxes, "no mux drives the CLA input %s", c.Input)
	}
	return nil
}

// String describes the catalog for debug logs.
func (c *Catalog) String() string {
	return fmt.Sprintf("topology(input=%s, muxes=%d, signals=%d)", c.Input, len(c.muxes), len(c.signals))
}
