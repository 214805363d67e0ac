package program

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/cla-compiler/internal/condition"
	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/document"
)

// Top-level program keys.
const (
	KeyStartNode     = "START_NODE"
	KeyCounters      = "COUNTERS"
	KeyCustomActions = "CUSTOM_ACTIONS"
	KeyNodes         = "NODES"
)

// EAP keys.
const (
	KeyDebugMuxReg     = "debug_mux_reg"
	KeyEventTriggers   = "event_triggers"
	KeyEventLogicalOp  = "event_logical_op"
	KeyActions         = "actions"
	KeyCustomActionsEA = "custom_actions"
	KeySnapshotSignals = "snapshot_signals"
	KeyNextStateNode   = "next_state_node"
)

var eapKeywords = []string{
	KeyDebugMuxReg, KeyEventTriggers, KeyEventLogicalOp, KeyActions,
	KeyCustomActionsEA, KeySnapshotSignals, KeyNextStateNode,
}

var topKeywords = []string{KeyStartNode, KeyCounters, KeyCustomActions, KeyNodes}

func isKeyword(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

type decoder struct {
	hw  config.HardwareConfig
	ops config.OpcodeConfig
	log *diag.Logger
	p   *Program
}

// Decode builds a Program from a parsed program document.
func Decode(root *yaml.Node, cfg *config.Config, log *diag.Logger) (*Program, error) {
	if log == nil {
		log = diag.Discard()
	}
	d := &decoder{
		hw:  cfg.Hardware,
		ops: cfg.Opcodes,
		log: log,
		p: &Program{
			counterIndex: map[string]int{},
			customIndex:  map[string]uint64{},
		},
	}
	if err := d.decodeRoot(root); err != nil {
		return nil, err
	}
	return d.p, nil
}

func (d *decoder) decodeRoot(root *yaml.Node) error {
	pairs, err := document.Pairs(root)
	if err != nil {
		return diag.Wrap(diag.Structure, "", fmt.Errorf("program: %w", err))
	}
	for _, pair := range pairs {
		if !isKeyword(topKeywords, pair.Key) {
			d.log.Warnf("Unknown program key %q on line %d ignored (check for stray whitespace)", pair.Key, pair.Line)
		}
	}

	start := document.Lookup(root, KeyStartNode)
	if document.IsNull(start) {
		return diag.Errorf(diag.Structure, "%s is required", KeyStartNode)
	}
	if d.p.StartNode, err = document.String(start); err != nil {
		return diag.Wrap(diag.Structure, KeyStartNode, err)
	}
	d.p.StartNode = strings.TrimSpace(d.p.StartNode)

	if err := d.decodeCounters(document.Lookup(root, KeyCounters)); err != nil {
		return err
	}
	if err := d.decodeCustomActions(document.Lookup(root, KeyCustomActions)); err != nil {
		return err
	}
	if err := d.decodeNodes(document.Lookup(root, KeyNodes)); err != nil {
		return err
	}
	return d.checkReferences()
}

func (d *decoder) decodeCounters(n *yaml.Node) error {
	names, err := document.Strings(n)
	if err != nil {
		return diag.Wrap(diag.Structure, KeyCounters, err)
	}
	if len(names) > d.hw.Counters {
		return diag.At(diag.Resource, KeyCounters, "%d counters declared, only %d available", len(names), d.hw.Counters)
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if _, dup := d.p.counterIndex[name]; dup {
			return diag.At(diag.Structure, KeyCounters, "counter %s declared twice", name)
		}
		d.p.counterIndex[name] = i
		d.p.Counters = append(d.p.Counters, name)
	}
	return nil
}

func (d *decoder) decodeCustomActions(n *yaml.Node) error {
	pairs, err := document.Pairs(n)
	if err != nil {
		return diag.Wrap(diag.Structure, KeyCustomActions, err)
	}
	for _, pair := range pairs {
		v, err := document.Int(pair.Value)
		if err != nil || v < 0 {
			return diag.At(diag.Syntax, KeyCustomActions+"."+pair.Key, "custom action value must be a non-negative integer")
		}
		d.p.customIndex[pair.Key] = uint64(v)
		d.p.CustomActions = append(d.p.CustomActions, CustomAction{Name: pair.Key, Value: uint64(v)})
	}
	return nil
}

func (d *decoder) decodeNodes(n *yaml.Node) error {
	if document.IsNull(n) {
		return diag.Errorf(diag.Structure, "%s is required", KeyNodes)
	}
	pairs, err := document.Pairs(n)
	if err != nil {
		return diag.Wrap(diag.Structure, KeyNodes, err)
	}
	if len(pairs) > d.hw.Nodes {
		return diag.At(diag.Resource, KeyNodes, "%d nodes defined, only %d available", len(pairs), d.hw.Nodes)
	}
	for _, pair := range pairs {
		node, err := d.decodeNode(pair.Key, pair.Value)
		if err != nil {
			return err
		}
		d.p.Nodes = append(d.p.Nodes, node)
	}
	return nil
}

func (d *decoder) decodeNode(name string, n *yaml.Node) (*StateNode, error) {
	pairs, err := document.Pairs(n)
	if err != nil {
		return nil, diag.Wrap(diag.Structure, name, err)
	}
	if len(pairs) > d.hw.EAPsPerNode {
		return nil, diag.At(diag.Resource, name, "%d EAPs defined, only %d available per node", len(pairs), d.hw.EAPsPerNode)
	}
	node := &StateNode{Name: name}
	for _, pair := range pairs {
		eap, err := d.decodeEAP(name, pair.Key, pair.Value)
		if err != nil {
			return nil, err
		}
		node.EAPs = append(node.EAPs, eap)
	}
	return node, nil
}

func (d *decoder) decodeEAP(node, name string, n *yaml.Node) (*EAP, error) {
	eap := &EAP{Node: node, Name: name}
	loc := eap.Location()

	pairs, err := document.Pairs(n)
	if err != nil {
		return nil, diag.Wrap(diag.Structure, loc, err)
	}
	for _, pair := range pairs {
		if !isKeyword(eapKeywords, pair.Key) {
			d.log.Warnf("Unknown key %q in %s on line %d ignored (check for stray whitespace)", pair.Key, loc, pair.Line)
		}
	}

	if v := document.Lookup(n, KeyDebugMuxReg); !document.IsNull(v) {
		if eap.DebugMuxReg, err = document.String(v); err != nil {
			return nil, diag.Wrap(diag.Structure, loc+"."+KeyDebugMuxReg, err)
		}
	}

	if err := d.decodeEvents(eap, document.Lookup(n, KeyEventTriggers)); err != nil {
		return nil, err
	}

	op := document.Lookup(n, KeyEventLogicalOp)
	if op == nil {
		return nil, diag.At(diag.Structure, loc, "%s is required", KeyEventLogicalOp)
	}
	op = document.Resolve(op)
	if op.Kind != yaml.ScalarNode || op.Tag != "!!str" {
		return nil, diag.At(diag.Structure, loc, "%s must be a string expression over the EAP's events, found %s", KeyEventLogicalOp, document.KindName(op))
	}
	eap.LogicalOp = strings.TrimSpace(op.Value)
	if _, legacy := d.ops.Logical[eap.LogicalOp]; legacy {
		return nil, diag.At(diag.Structure, loc, "%s %q is a hardware opcode name; write a logical expression over the event names instead", KeyEventLogicalOp, eap.LogicalOp)
	}

	if eap.Actions, err = d.decodeActions(document.Lookup(n, KeyActions)); err != nil {
		return nil, diag.Wrap(diag.Structure, loc+"."+KeyActions, err)
	}
	if len(eap.Actions) > d.hw.ActionsPerEAP {
		return nil, diag.At(diag.Resource, loc, "%d actions defined, only %d available per EAP", len(eap.Actions), d.hw.ActionsPerEAP)
	}

	if eap.CustomActions, err = d.decodeActions(document.Lookup(n, KeyCustomActionsEA)); err != nil {
		return nil, diag.Wrap(diag.Structure, loc+"."+KeyCustomActionsEA, err)
	}
	if len(eap.CustomActions) > d.hw.CustomActionsPerEAP {
		return nil, diag.At(diag.Resource, loc, "%d custom actions defined, only %d available per EAP", len(eap.CustomActions), d.hw.CustomActionsPerEAP)
	}

	if v := document.Lookup(n, KeySnapshotSignals); !document.IsNull(v) {
		if document.Resolve(v).Kind != yaml.SequenceNode {
			return nil, diag.At(diag.Structure, loc, "%s must be a list", KeySnapshotSignals)
		}
		if eap.SnapshotSignals, err = document.Strings(v); err != nil {
			return nil, diag.Wrap(diag.Structure, loc+"."+KeySnapshotSignals, err)
		}
	}

	next := document.Lookup(n, KeyNextStateNode)
	if document.IsNull(next) {
		return nil, diag.At(diag.Structure, loc, "%s is required", KeyNextStateNode)
	}
	if document.Resolve(next).Tag != "!!str" {
		return nil, diag.At(diag.Structure, loc, "%s must be a node name, found %s", KeyNextStateNode, document.KindName(next))
	}
	eap.NextStateNode = strings.TrimSpace(next.Value)

	return eap, nil
}

// decodeActions accepts a list of strings, integers and nulls. Nulls become
// "NULL" and integers keep their source text.
func (d *decoder) decodeActions(n *yaml.Node) ([]string, error) {
	n = document.Resolve(n)
	if document.IsNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list, found %s", n.Line, document.KindName(n))
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		if document.IsNull(c) {
			out = append(out, "NULL")
			continue
		}
		s, err := document.String(c)
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func (d *decoder) decodeEvents(eap *EAP, n *yaml.Node) error {
	pairs, err := document.Pairs(n)
	if err != nil {
		return diag.Wrap(diag.Structure, eap.Location()+"."+KeyEventTriggers, err)
	}
	if len(pairs) > d.hw.EventsPerEAP {
		return diag.At(diag.Resource, eap.Location(), "%d events defined, only %d available per EAP", len(pairs), d.hw.EventsPerEAP)
	}
	for i, pair := range pairs {
		ev := &EventTrigger{Node: eap.Node, EAP: eap.Name, Name: pair.Key, Index: i}
		if isKeyword(eapKeywords, pair.Key) {
			d.log.Warnf("Event %s uses the EAP keyword %q as its name; check the indentation of %s", ev.Location(), pair.Key, eap.Location())
		}
		srcs, err := document.Strings(pair.Value)
		if err != nil {
			return diag.Wrap(diag.Structure, ev.Location(), err)
		}
		if len(srcs) == 0 {
			return diag.At(diag.Structure, ev.Location(), "event has no conditions")
		}
		for _, src := range srcs {
			c, err := condition.Parse(src, d.p)
			if err != nil {
				return diag.Locate(ev.Location(), err)
			}
			ev.Conditions = append(ev.Conditions, c)
		}
		if err := checkTrigger(ev); err != nil {
			return err
		}
		eap.Events = append(eap.Events, ev)
	}
	return nil
}

func checkTrigger(ev *EventTrigger) error {
	first := ev.Conditions[0]
	for _, c := range ev.Conditions[1:] {
		if c.Kind != first.Kind || c.Counter != first.Counter {
			return diag.At(diag.Structure, ev.Location(), "multiple event types implied by conditions %q and %q", first.Source, c.Source)
		}
	}
	if len(ev.Conditions) > 1 && !first.Kind.Multi() {
		return diag.At(diag.Structure, ev.Location(), "%s events take a single condition, %d given", first.Kind, len(ev.Conditions))
	}
	return nil
}

func (d *decoder) checkReferences() error {
	if d.p.Node(d.p.StartNode) == nil {
		return diag.At(diag.Structure, KeyStartNode, "start node %s is not defined in %s", d.p.StartNode, KeyNodes)
	}
	for _, e := range d.p.EAPs() {
		if d.p.Node(e.NextStateNode) == nil {
			return diag.At(diag.Structure, e.Location(), "next state node %s is not defined in %s", e.NextStateNode, KeyNodes)
		}
	}
	return nil
}
