package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robert-at-pretension-io/cla-compiler/internal/alloc"
	"github.com/robert-at-pretension-io/cla-compiler/internal/condition"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
)

// counterVerbs are tried in this order, so STOP_AUTO_INCREMENT is not read
// as AUTO_INCREMENT and AUTO_INCREMENT is not read as INCREMENT.
var counterVerbs = []struct {
	verb   string
	re     *regexp.Regexp
	opcode string
}{
	{"CLEAR", regexp.MustCompile(`CLEAR\s`), "CLEAR_COUNTER_%d"},
	{"STOP_AUTO_INCREMENT", regexp.MustCompile(`STOP_AUTO_INCREMENT\s`), "STOP_AUTO_INCREMENT_COUNTER_%d"},
	{"AUTO_INCREMENT", regexp.MustCompile(`AUTO_INCREMENT\s`), "AUTO_INCREMENT_COUNTER_%d"},
	{"INCREMENT", regexp.MustCompile(`INCREMENT\s`), "INCREMENT_COUNTER_%d"},
}

func (c *Compiler) opcode(table map[string]uint64, kind, name string) (uint64, error) {
	v, ok := table[name]
	if !ok {
		return 0, fmt.Errorf("no %s opcode configured for %s", kind, name)
	}
	return v, nil
}

// actionOpcode encodes one standard action: a named opcode, a counter verb
// followed by a counter alias, or a raw number.
func (c *Compiler) actionOpcode(action string, p *program.Program) (uint64, error) {
	if action == "" {
		action = "NULL"
	}
	if v, ok := c.ops.Actions[action]; ok {
		return v, nil
	}
	for _, cv := range counterVerbs {
		if !cv.re.MatchString(action) {
			continue
		}
		alias := strings.TrimSpace(strings.Replace(action, cv.verb, "", 1))
		idx, ok := p.CounterIndex(alias)
		if !ok {
			return 0, fmt.Errorf("unknown counter %q in action %q", alias, action)
		}
		return c.opcode(c.ops.Actions, "action", fmt.Sprintf(cv.opcode, idx))
	}
	if v, err := condition.ParseValue(action); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("unknown action %q", action)
}

// customOpcode encodes a custom action: a program alias or a raw number.
func customOpcode(action string, p *program.Program) (uint64, error) {
	if v, ok := p.CustomAction(action); ok {
		return v, nil
	}
	if v, err := condition.ParseValue(action); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("unknown custom action %q", action)
}

// eventOpcode encodes the event type of a trigger from its kind and the
// detector slot it was given.
func (c *Compiler) eventOpcode(t *program.EventTrigger, a *alloc.Allocation, p *program.Program) (uint64, error) {
	ev := func(name string) (uint64, error) { return c.opcode(c.ops.Events, "event", name) }

	switch t.Kind() {
	case condition.Always:
		return ev("ALWAYS_ON")
	case condition.PeriodTick:
		return ev("PERIOD_TICK")
	case condition.XTrigger0:
		return ev("XTRIGGER_0")
	case condition.XTrigger1:
		return ev("XTRIGGER_1")
	}

	if t.Counter() {
		alias := t.Conditions[0].Signal
		idx, ok := p.CounterIndex(alias)
		if !ok {
			return 0, fmt.Errorf("unknown counter %q", alias)
		}
		switch t.Kind() {
		case condition.Equal:
			return ev(fmt.Sprintf("COUNTER_%d_EQUAL_TARGET", idx))
		case condition.Greater:
			return ev(fmt.Sprintf("COUNTER_%d_GREATER_TARGET", idx))
		case condition.Less:
			return ev(fmt.Sprintf("COUNTER_%d_LESS_TARGET", idx))
		}
		return 0, fmt.Errorf("%s cannot compare counter %q", t.Kind(), alias)
	}

	slot, ok := a.SlotOf(t)
	if !ok {
		return 0, fmt.Errorf("event %s was not allocated a detector", t.Location())
	}
	switch t.Kind() {
	case condition.Equal:
		return ev(fmt.Sprintf("MATCH_%d", slot.Index))
	case condition.NotEqual:
		return ev(fmt.Sprintf("NOT_MATCH_%d", slot.Index))
	case condition.PosEdge, condition.NegEdge:
		return ev(fmt.Sprintf("EDGE_DETECT_%d", slot.Index))
	case condition.Transition:
		return ev("TRANSITION")
	case condition.CountOnes:
		return ev("ONES_COUNT")
	case condition.AnyChange:
		return ev("DEBUG_SIGNALS_CHANGE")
	}
	return 0, fmt.Errorf("no event type for %s", t.Kind())
}
