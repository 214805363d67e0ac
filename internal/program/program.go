// Package program models a CLA program: state nodes, their event-action
// pairs and the trigger conditions those pairs react to.
package program

import (
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/cla-compiler/internal/condition"
)

// Program is a validated CLA program. Nodes, EAPs and events keep their
// declaration order.
type Program struct {
	StartNode     string
	Counters      []string
	CustomActions []CustomAction
	Nodes         []*StateNode

	counterIndex map[string]int
	customIndex  map[string]uint64
}

// CustomAction is a program-level alias for a raw custom action opcode.
type CustomAction struct {
	Name  string
	Value uint64
}

// StateNode is one state of the CLA state machine.
type StateNode struct {
	Name string
	EAPs []*EAP
}

// EAP is an event-action pair: when its logic expression over its events
// is true, its actions fire and the machine moves to NextStateNode.
type EAP struct {
	Node            string
	Name            string
	DebugMuxReg     string
	Events          []*EventTrigger
	LogicalOp       string
	Actions         []string
	CustomActions   []string
	SnapshotSignals []string
	NextStateNode   string
}

// EventTrigger is a named group of conditions inside an EAP. Index is its
// event slot in the EAP register.
type EventTrigger struct {
	Node       string
	EAP        string
	Name       string
	Index      int
	Conditions []condition.Condition
}

// Location returns the node.eap path of the EAP.
func (e *EAP) Location() string {
	return e.Node + "." + e.Name
}

// EventNames returns the event names in slot order.
func (e *EAP) EventNames() []string {
	names := make([]string, len(e.Events))
	for i, ev := range e.Events {
		names[i] = ev.Name
	}
	return names
}

// Location returns the node.eap.event path of the trigger.
func (t *EventTrigger) Location() string {
	return t.Node + "." + t.EAP + "." + t.Name
}

// Kind returns the kind shared by all conditions of the trigger.
func (t *EventTrigger) Kind() condition.Kind {
	return t.Conditions[0].Kind
}

// Counter reports whether the trigger compares counter aliases.
func (t *EventTrigger) Counter() bool {
	return t.Conditions[0].Counter
}

// Key identifies the trigger by the set of its condition keys, so triggers
// that only differ in spelling or condition order share a key.
func (t *EventTrigger) Key() string {
	seen := make(map[string]bool, len(t.Conditions))
	keys := make([]string, 0, len(t.Conditions))
	for _, c := range t.Conditions {
		k := c.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, "&")
}

// Comment renders the trigger for register provenance comments.
func (t *EventTrigger) Comment() string {
	sep := " & "
	if t.Kind() == condition.AnyChange {
		sep = " | "
	}
	parts := make([]string, len(t.Conditions))
	for i, c := range t.Conditions {
		parts[i] = c.Comment()
	}
	return strings.Join(parts, sep)
}

// Signals returns the operand of every condition in order.
func (t *EventTrigger) Signals() []string {
	out := make([]string, 0, len(t.Conditions))
	for _, c := range t.Conditions {
		out = append(out, c.Signal)
	}
	return out
}

// IsCounter reports whether name is a declared counter alias.
func (p *Program) IsCounter(name string) bool {
	_, ok := p.counterIndex[name]
	return ok
}

// CounterIndex returns the counter register that holds alias name.
func (p *Program) CounterIndex(name string) (int, bool) {
	i, ok := p.counterIndex[name]
	return i, ok
}

// CustomAction returns the opcode of a custom action alias.
func (p *Program) CustomAction(name string) (uint64, bool) {
	v, ok := p.customIndex[name]
	return v, ok
}

// Node returns the node called name.
func (p *Program) Node(name string) *StateNode {
	for _, n := range p.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// EAPs returns every EAP in declaration order.
func (p *Program) EAPs() []*EAP {
	var out []*EAP
	for _, n := range p.Nodes {
		out = append(out, n.EAPs...)
	}
	return out
}

// Events returns every event trigger in declaration order.
func (p *Program) Events() []*EventTrigger {
	var out []*EventTrigger
	for _, n := range p.Nodes {
		for _, e := range n.EAPs {
			out = append(out, e.Events...)
		}
	}
	return out
}

// NodeIndexes assigns physical node slots: the start node gets 0 and the
// others follow in declaration order.
func (p *Program) NodeIndexes() map[string]int {
	out := map[string]int{p.StartNode: 0}
	next := 1
	for _, n := range p.Nodes {
		if n.Name == p.StartNode {
			continue
		}
		out[n.Name] = next
		next++
	}
	return out
}

// Request asks the router for a debug signal.
type Request struct {
	Signal   string
	CSR      string
	Location string
}

// Requests lists every signal that has to be routed to the CLA debug
// input: snapshot signals and the operands of signal conditions. The same
// signal and CSR pair appears once, at its first use.
func (p *Program) Requests() []Request {
	var out []Request
	seen := map[string]bool{}
	add := func(sig, csr, loc string) {
		key := sig + "\x00" + csr
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Request{Signal: sig, CSR: csr, Location: loc})
	}
	for _, e := range p.EAPs() {
		for _, ev := range e.Events {
			for _, c := range ev.Conditions {
				if NeedsRouting(c) {
					add(c.Signal, e.DebugMuxReg, ev.Location())
				}
			}
		}
		for _, sig := range e.SnapshotSignals {
			add(sig, e.DebugMuxReg, e.Location())
		}
	}
	return out
}

// NeedsRouting reports whether a condition reads a debug bus signal.
func NeedsRouting(c condition.Condition) bool {
	if c.Counter || !c.Kind.HasOperand() {
		return false
	}
	switch c.Kind {
	case condition.Equal, condition.NotEqual, condition.PosEdge, condition.NegEdge,
		condition.Transition, condition.CountOnes, condition.AnyChange:
		return true
	}
	return false
}
