// Package compiler turns a CLA program and a debug mux topology into the
// register values that program the CLA block.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/cla-compiler/internal/alloc"
	"github.com/robert-at-pretension-io/cla-compiler/internal/condition"
	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/csr"
	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/logic"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
	"github.com/robert-at-pretension-io/cla-compiler/internal/router"
	"github.com/robert-at-pretension-io/cla-compiler/internal/topology"
)

// Compiler populates a register bank. It holds no state between
// compilations.
type Compiler struct {
	hw  config.HardwareConfig
	ops config.OpcodeConfig
	log *diag.Logger
}

// New returns a Compiler for the hardware and opcodes of cfg.
func New(cfg *config.Config, log *diag.Logger) *Compiler {
	if log == nil {
		log = diag.Discard()
	}
	return &Compiler{hw: cfg.Hardware, ops: cfg.Opcodes, log: log}
}

// Result is one compilation.
type Result struct {
	Bank   *csr.Bank
	Alloc  *alloc.Allocation
	Routes *router.Result
	// Nodes maps node names to their physical node slot.
	Nodes map[string]int
	// UDF holds the synthesized table of every EAP by node.eap location.
	UDF map[string]logic.Table
}

// Compile runs every phase over p. Mux select registers are only emitted
// when the topology came from a document rather than the default.
func (c *Compiler) Compile(p *program.Program, cat *topology.Catalog, topologyProvided bool) (*Result, error) {
	a, err := alloc.Allocate(p, c.hw)
	if err != nil {
		return nil, err
	}
	routes, err := router.Route(cat, p.Requests(), c.log)
	if err != nil {
		return nil, err
	}
	for _, line := range routes.Chains() {
		c.log.Debugf("Signal path: %s", line)
	}

	res := &Result{
		Bank:   csr.NewBank(c.hw),
		Alloc:  a,
		Routes: routes,
		Nodes:  p.NodeIndexes(),
		UDF:    map[string]logic.Table{},
	}

	if topologyProvided {
		if err := c.muxSelects(res, cat); err != nil {
			return nil, err
		}
	}
	phases := []struct {
		name string
		run  func(*Result, *program.Program) error
	}{
		{"counter", c.counters},
		{"edge detect", c.edges},
		{"match/mask", c.matches},
		{"transition", c.transitions},
		{"any change", c.anyChanges},
		{"ones count", c.onesCounts},
		{"EAP", c.eaps},
		{"signal delay", c.delays},
	}
	for _, ph := range phases {
		c.log.Debugf("Compiling %s registers", ph.name)
		if err := ph.run(res, p); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Compiler) muxSelects(res *Result, cat *topology.Catalog) error {
	for _, sel := range res.Routes.Selections() {
		mux := cat.Mux(sel.Mux)
		reg, err := res.Bank.AddMuxSelect(sel.CSR, mux.HardwareID)
		if err != nil {
			return diag.Wrap(diag.Structure, mux.Name, err)
		}
		reg.Comment = strings.Join(sel.Signals, ", ")
		for out, lane := range sel.Assignment {
			field := fmt.Sprintf("Muxselseg%d", out)
			if reg.Field(field) == nil {
				return diag.At(diag.Resource, mux.Name, "%d output lanes but select register %s has no %s field", mux.OutputLanes, reg.Name, field)
			}
			if err := reg.Set(field, router.SelectValue(lane, mux.OutputLanes), fmt.Sprintf("Lane %d", lane)); err != nil {
				return diag.Wrap(diag.Structure, mux.Name, err)
			}
		}
		c.log.Debugf("Mux %s: %s = %s", mux.Name, reg.Name, csr.Hex(reg.Value()))
	}
	return nil
}

func (c *Compiler) counters(res *Result, _ *program.Program) error {
	for _, cs := range res.Alloc.Counters {
		name := csr.CounterName(cs.Index)
		if err := res.Bank.Comment(name, cs.Alias); err != nil {
			return err
		}
		if !cs.HasTarget {
			continue
		}
		if err := res.Bank.Set(name, "target", cs.Target, ""); err != nil {
			return diag.Wrap(diag.Resource, cs.Users[0].Location(), err)
		}
	}
	return nil
}

// vector is a set of CLA debug input bits and the values expected on them.
type vector struct {
	mask  uint64
	value uint64
}

// expand maps every bit of signal onto its CLA debug input bit. want is the
// value compared against, LSB on bit 0 of the signal.
func expand(routes *router.Result, signal string, want uint64, loc string) (vector, error) {
	bits, err := routes.OutputBits(signal)
	if err != nil {
		return vector{}, diag.Wrap(diag.Structure, loc, err)
	}
	if len(bits) < 64 && want>>uint(len(bits)) != 0 {
		return vector{}, diag.At(diag.Structure, loc, "signal %s is not wide enough to compare to value %d", signal, want)
	}
	var v vector
	for i, b := range bits {
		v.mask |= 1 << uint(b)
		v.value |= (want >> uint(i) & 1) << uint(b)
	}
	return v, nil
}

// triggerVector merges the expansion of every condition of t. pick selects
// the compared value of a condition. Conditions may share bits only where
// they expect the same value.
func triggerVector(routes *router.Result, t *program.EventTrigger, pick func(condition.Condition) uint64) (vector, error) {
	var out vector
	for _, cond := range t.Conditions {
		v, err := expand(routes, cond.Signal, pick(cond), t.Location())
		if err != nil {
			return vector{}, err
		}
		if clash := out.mask & v.mask & (out.value ^ v.value); clash != 0 {
			return vector{}, diag.At(diag.Consistency, t.Location(), "conditions %s expect different values on CLA debug input bits %#x", signalList(t), clash)
		}
		out.mask |= v.mask
		out.value |= v.value
	}
	return out, nil
}

func toValue(c condition.Condition) uint64 { return c.Value }
func fromValue(c condition.Condition) uint64 { return c.From }
func noValue(condition.Condition) uint64 { return 0 }

func signalList(t *program.EventTrigger) string {
	return strings.Join(t.Signals(), ", ")
}

func joinConditions(t *program.EventTrigger, format string, pick func(condition.Condition) uint64) string {
	parts := make([]string, len(t.Conditions))
	for i, cond := range t.Conditions {
		parts[i] = fmt.Sprintf(format, cond.Signal, pick(cond))
	}
	return strings.Join(parts, " & ")
}

func (c *Compiler) edges(res *Result, _ *program.Program) error {
	for _, slot := range res.Alloc.Edge {
		cond := slot.Trigger.Conditions[0]
		bits, err := res.Routes.OutputBits(cond.Signal)
		if err != nil {
			return diag.Wrap(diag.Structure, slot.Trigger.Location(), err)
		}
		if len(bits) != 1 {
			return diag.At(diag.Structure, slot.Trigger.Location(), "edge detect signal %s is %d bits wide; only single bit signals are supported", cond.Signal, len(bits))
		}
		var pos uint64
		if cond.Kind == condition.PosEdge {
			pos = 1
		}
		sel := fmt.Sprintf("signal%d_select", slot.Index)
		if err := res.Bank.Set(csr.EdgeDetect, sel, uint64(bits[0]), cond.Signal); err != nil {
			return diag.Wrap(diag.Resource, slot.Trigger.Location(), err)
		}
		if err := res.Bank.Set(csr.EdgeDetect, fmt.Sprintf("pos_edge_signal%d", slot.Index), pos, ""); err != nil {
			return diag.Wrap(diag.Resource, slot.Trigger.Location(), err)
		}
	}
	return nil
}

func (c *Compiler) matches(res *Result, _ *program.Program) error {
	for _, slot := range res.Alloc.Match {
		t := slot.Trigger
		v, err := triggerVector(res.Routes, t, toValue)
		if err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.MaskName(slot.Index), "value", v.mask, signalList(t)); err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.MatchName(slot.Index), "value", v.value, t.Comment()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) transitions(res *Result, _ *program.Program) error {
	for _, slot := range res.Alloc.Transition {
		t := slot.Trigger
		to, err := triggerVector(res.Routes, t, toValue)
		if err != nil {
			return err
		}
		from, err := triggerVector(res.Routes, t, fromValue)
		if err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.TransitionMask, "value", to.mask, signalList(t)); err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.TransitionTo, "value", to.value, joinConditions(t, "(%s == %d)", toValue)); err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.TransitionFrom, "value", from.value, joinConditions(t, "(%s == %d)", fromValue)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) anyChanges(res *Result, _ *program.Program) error {
	for _, slot := range res.Alloc.AnyChange {
		v, err := triggerVector(res.Routes, slot.Trigger, noValue)
		if err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.AnyChange, "mask", v.mask, signalList(slot.Trigger)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) onesCounts(res *Result, _ *program.Program) error {
	for _, slot := range res.Alloc.OnesCount {
		t := slot.Trigger
		v, err := triggerVector(res.Routes, t, noValue)
		if err != nil {
			return err
		}
		cond := t.Conditions[0]
		if width, _ := res.Routes.Width(cond.Signal); cond.Value > uint64(width) {
			return diag.At(diag.Structure, t.Location(), "signal %s has %d bits and can never have %d of them set", cond.Signal, width, cond.Value)
		}
		if err := setValue(res.Bank, csr.OnesCountMask, "value", v.mask, signalList(t)); err != nil {
			return err
		}
		if err := setValue(res.Bank, csr.OnesCountValue, "value", cond.Value, joinConditions(t, "(countones(%s) == %d)", toValue)); err != nil {
			return err
		}
	}
	return nil
}

func setValue(b *csr.Bank, reg, field string, v uint64, comment string) error {
	if err := b.Set(reg, field, v, ""); err != nil {
		return err
	}
	return b.Comment(reg, comment)
}

func (c *Compiler) eaps(res *Result, p *program.Program) error {
	none, err := c.opcode(c.ops.Logical, "logical", "NONE")
	if err != nil {
		return err
	}
	for _, node := range p.Nodes {
		idx := res.Nodes[node.Name]
		for e, eap := range node.EAPs {
			if err := c.eap(res, p, eap, csr.EAPName(idx, e), none); err != nil {
				return diag.Locate(eap.Location(), err)
			}
		}
	}
	return nil
}

func (c *Compiler) eap(res *Result, p *program.Program, eap *program.EAP, name string, none uint64) error {
	reg, ok := res.Bank.Register(name)
	if !ok {
		return diag.Errorf(diag.Resource, "no register %s for %s", name, eap.Location())
	}
	reg.Comment = eap.Location()

	dest, ok := res.Nodes[eap.NextStateNode]
	if !ok {
		return diag.Errorf(diag.Structure, "unknown destination node %q", eap.NextStateNode)
	}
	set := func(field string, v uint64, comment string) error {
		if err := reg.Set(field, v, comment); err != nil {
			return diag.Wrap(diag.Structure, "", err)
		}
		return nil
	}
	if err := set("dest_node", uint64(dest), eap.NextStateNode); err != nil {
		return err
	}
	if err := set("logical_op", none, "NONE"); err != nil {
		return err
	}

	fixed := map[string]bool{}
	for _, ev := range eap.Events {
		if ev.Kind() == condition.Always {
			fixed[ev.Name] = true
		}
	}
	table, err := logic.SynthesizeFixed(eap.LogicalOp, eap.EventNames(), fixed)
	if err != nil {
		return diag.Wrap(diag.Syntax, "", err)
	}
	res.UDF[eap.Location()] = table
	c.log.Debugf("UDF of %s for %q = %s\n%s", eap.Location(), eap.LogicalOp, csr.Hex(uint64(table.Value)), table)
	if err := set("udf", uint64(table.Value), eap.LogicalOp); err != nil {
		return err
	}

	for _, ev := range eap.Events {
		op, err := c.eventOpcode(ev, res.Alloc, p)
		if err != nil {
			return diag.Wrap(diag.Structure, ev.Location(), err)
		}
		if err := set(fmt.Sprintf("event_type%d", ev.Index), op, ev.Comment()); err != nil {
			return err
		}
	}

	for i, action := range eap.CustomActions {
		op, err := customOpcode(action, p)
		if err != nil {
			return diag.Wrap(diag.Structure, "", err)
		}
		if err := set(fmt.Sprintf("custom_action_%d", i), op, action); err != nil {
			return err
		}
		if err := set(fmt.Sprintf("custom_action%d_enable", i), 1, ""); err != nil {
			return err
		}
	}

	for i, action := range eap.Actions {
		op, err := c.actionOpcode(action, p)
		if err != nil {
			return diag.Wrap(diag.Structure, "", err)
		}
		if err := set(fmt.Sprintf("action%d", i), op, action); err != nil {
			return err
		}
	}
	return nil
}

// delays equalizes the latency of the CLA input lanes. A lane fed through
// paths of different delays cannot be compensated; the register is then
// left at reset and a warning is logged.
func (c *Compiler) delays(res *Result, _ *program.Program) error {
	laneBits := c.hw.DebugInputWidth / c.hw.DelayLanes
	byLane := map[int]map[int]bool{}
	for _, fb := range res.Routes.FinalBits() {
		lane := fb.Bit / laneBits
		if byLane[lane] == nil {
			byLane[lane] = map[int]bool{}
		}
		byLane[lane][fb.Delay] = true
	}
	lanes := make([]int, 0, len(byLane))
	for l := range byLane {
		lanes = append(lanes, l)
	}
	sort.Ints(lanes)

	delay := make(map[int]int, len(lanes))
	most := 0
	for _, l := range lanes {
		if len(byLane[l]) > 1 {
			var seen []int
			for d := range byLane[l] {
				seen = append(seen, d)
			}
			sort.Ints(seen)
			c.log.Warnf("CLA input lane #%d has driving signals with different propagation delays %v. Unable to determine values for %s", l, seen, csr.SignalDelay)
			return nil
		}
		for d := range byLane[l] {
			delay[l] = d
		}
		if delay[l] > most {
			most = delay[l]
		}
	}
	c.log.Debugf("Maximum CLA input propagation delay = %d cycles", most)

	for _, l := range lanes {
		staging := most - delay[l]
		c.log.Debugf("CLA input lane #%d required staging = %d", l, staging)
		if err := res.Bank.Set(csr.SignalDelay, fmt.Sprintf("Muxselseg%d", l), uint64(staging), ""); err != nil {
			return diag.Wrap(diag.Resource, csr.SignalDelay, err)
		}
	}
	return nil
}
