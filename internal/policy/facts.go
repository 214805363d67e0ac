package policy

import (
	"github.com/robert-at-pretension-io/cla-compiler/internal/condition"
	"github.com/robert-at-pretension-io/cla-compiler/internal/logic"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
)

// Facts flattens a decoded program into lint input. severities overrides
// the default severity of a rule by name.
func Facts(p *program.Program, severities map[string]string) Input {
	in := Input{
		StartNode:     p.StartNode,
		Nodes:         make([]Node, 0, len(p.Nodes)),
		EAPs:          []EAP{},
		Counters:      append([]string{}, p.Counters...),
		CustomActions: make([]string, 0, len(p.CustomActions)),
		Severities:    map[string]string{},
	}
	for rule, sev := range severities {
		in.Severities[rule] = sev
	}
	for _, ca := range p.CustomActions {
		in.CustomActions = append(in.CustomActions, ca.Name)
	}
	for _, n := range p.Nodes {
		in.Nodes = append(in.Nodes, Node{Name: n.Name})
		for _, e := range n.EAPs {
			in.EAPs = append(in.EAPs, eapFacts(e))
		}
	}
	return in
}

func eapFacts(e *program.EAP) EAP {
	out := EAP{
		Node:          e.Node,
		Name:          e.Name,
		Location:      e.Location(),
		Next:          e.NextStateNode,
		LogicalOp:     e.LogicalOp,
		Identifiers:   []string{},
		Events:        make([]Event, 0, len(e.Events)),
		Actions:       []string{},
		CustomActions: []string{},
		UDF:           -1,
	}
	if ids, err := logic.Identifiers(e.LogicalOp); err == nil {
		out.Identifiers = append(out.Identifiers, ids...)
	}

	fixed := map[string]bool{}
	for _, ev := range e.Events {
		if ev.Kind() == condition.Always {
			fixed[ev.Name] = true
		}
		out.Events = append(out.Events, Event{
			Name:     ev.Name,
			Location: ev.Location(),
			Kind:     ev.Kind().String(),
			Counter:  ev.Counter(),
			Operands: ev.Signals(),
		})
	}
	if t, err := logic.SynthesizeFixed(e.LogicalOp, e.EventNames(), fixed); err == nil {
		out.UDF = int(t.Value)
	}

	// NULL slots are padding, not actions.
	for _, a := range e.Actions {
		if a != "" && a != "NULL" {
			out.Actions = append(out.Actions, a)
		}
	}
	for _, a := range e.CustomActions {
		if a != "" && a != "NULL" {
			out.CustomActions = append(out.CustomActions, a)
		}
	}
	return out
}
