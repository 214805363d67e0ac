// Package alloc assigns event triggers to the detector registers of the CLA.
//
// Allocation is first fit in program order. Triggers with the same key share
// one slot; a pool with more distinct triggers than registers fails.
package alloc

import (
	"github.com/robert-at-pretension-io/cla-compiler/internal/condition"
	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
)

// Category is the detector pool a trigger needs.
type Category int

const (
	// None is a trigger decoded without a detector (ALWAYS, cross triggers,
	// period tick).
	None Category = iota
	MatchMask
	Edge
	Counter
	Transition
	OnesCount
	AnyChange
)

var categoryNames = map[Category]string{
	None:       "none",
	MatchMask:  "match/mask registers",
	Edge:       "edge detects",
	Counter:    "CLA counters",
	Transition: "transition detects",
	OnesCount:  "ones_count registers",
	AnyChange:  "any change mask registers",
}

func (c Category) String() string { return categoryNames[c] }

// CategoryOf classifies a trigger by the kind and operand class of its first
// condition.
func CategoryOf(t *program.EventTrigger) Category {
	c := t.Conditions[0]
	switch c.Kind {
	case condition.Equal:
		if c.Counter {
			return Counter
		}
		return MatchMask
	case condition.NotEqual:
		if c.Counter {
			return None
		}
		return MatchMask
	case condition.Greater, condition.Less:
		if c.Counter {
			return Counter
		}
	case condition.PosEdge, condition.NegEdge:
		return Edge
	case condition.Transition:
		return Transition
	case condition.CountOnes:
		return OnesCount
	case condition.AnyChange:
		return AnyChange
	}
	return None
}

// Slot is one detector register and the triggers it serves. Trigger is the
// first trigger that claimed the slot.
type Slot struct {
	Index   int
	Key     string
	Trigger *program.EventTrigger
	Users   []*program.EventTrigger
}

// CounterSlot is one CLA counter register bound to a program alias.
type CounterSlot struct {
	Index     int
	Alias     string
	HasTarget bool
	Target    uint64
	Users     []*program.EventTrigger
}

// Allocation is the result of Allocate.
type Allocation struct {
	Match      []*Slot
	Edge       []*Slot
	Transition []*Slot
	OnesCount  []*Slot
	AnyChange  []*Slot
	Counters   []*CounterSlot

	byKey map[Category]map[string]*Slot
}

// Pool returns the slots of a category.
func (a *Allocation) Pool(c Category) []*Slot {
	switch c {
	case MatchMask:
		return a.Match
	case Edge:
		return a.Edge
	case Transition:
		return a.Transition
	case OnesCount:
		return a.OnesCount
	case AnyChange:
		return a.AnyChange
	}
	return nil
}

// SlotOf returns the detector slot serving t.
func (a *Allocation) SlotOf(t *program.EventTrigger) (*Slot, bool) {
	s, ok := a.byKey[CategoryOf(t)][t.Key()]
	return s, ok
}

// Counter returns the counter slot of an alias.
func (a *Allocation) Counter(alias string) (*CounterSlot, bool) {
	for _, c := range a.Counters {
		if c.Alias == alias {
			return c, true
		}
	}
	return nil, false
}

// Allocate distributes every trigger of p over the pools sized by hw.
func Allocate(p *program.Program, hw config.HardwareConfig) (*Allocation, error) {
	a := &Allocation{byKey: map[Category]map[string]*Slot{}}
	for i, alias := range p.Counters {
		a.Counters = append(a.Counters, &CounterSlot{Index: i, Alias: alias})
	}

	for _, t := range p.Events() {
		cat := CategoryOf(t)
		switch cat {
		case None:
			continue
		case Counter:
			if err := a.addCounterUse(t); err != nil {
				return nil, err
			}
		default:
			a.claim(cat, t)
		}
	}

	limits := []struct {
		cat  Category
		have int
	}{
		{MatchMask, hw.MatchRegisters},
		{Edge, hw.EdgeDetectors},
		{Transition, hw.TransitionDetectors},
		{OnesCount, hw.OnesCountDetectors},
		{AnyChange, hw.AnyChangeDetectors},
	}
	for _, l := range limits {
		if need := len(a.Pool(l.cat)); need > l.have {
			return nil, diag.Errorf(diag.Resource, "%d %s required to implement program. Only %d available", need, l.cat, l.have)
		}
	}
	return a, nil
}

func (a *Allocation) claim(cat Category, t *program.EventTrigger) {
	keys := a.byKey[cat]
	if keys == nil {
		keys = map[string]*Slot{}
		a.byKey[cat] = keys
	}
	key := t.Key()
	if s, ok := keys[key]; ok {
		s.Users = append(s.Users, t)
		return
	}
	pool := a.poolRef(cat)
	s := &Slot{Index: len(*pool), Key: key, Trigger: t, Users: []*program.EventTrigger{t}}
	*pool = append(*pool, s)
	keys[key] = s
}

func (a *Allocation) poolRef(cat Category) *[]*Slot {
	switch cat {
	case MatchMask:
		return &a.Match
	case Edge:
		return &a.Edge
	case Transition:
		return &a.Transition
	case OnesCount:
		return &a.OnesCount
	}
	return &a.AnyChange
}

func (a *Allocation) addCounterUse(t *program.EventTrigger) error {
	if len(t.Conditions) > 1 {
		return diag.At(diag.Structure, t.Location(), "multiple counter comparisons used; only one counter comparison per event is supported")
	}
	c := t.Conditions[0]
	slot, ok := a.Counter(c.Signal)
	if !ok {
		return diag.At(diag.Structure, t.Location(), "counter %s is not declared", c.Signal)
	}
	slot.Users = append(slot.Users, t)
	if !slot.HasTarget {
		slot.HasTarget, slot.Target = true, c.Value
		return nil
	}
	if slot.Target != c.Value {
		return diag.At(diag.Consistency, t.Location(), "Multiple target values used for CLA counter %q (%d and %d). Only one target value per counter is supported", c.Signal, slot.Target, c.Value)
	}
	return nil
}
