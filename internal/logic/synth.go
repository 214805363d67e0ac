package logic

import (
	"fmt"
	"strings"
)

// Table is the synthesized UDF of an EAP. Bit i holds the expression value
// for event2, event1 and event0 set to bits 2, 1 and 0 of i.
type Table struct {
	Value uint8
}

// At returns the table entry for one event combination.
func (t Table) At(e2, e1, e0 bool) bool {
	return t.Value>>index(e2, e1, e0)&1 == 1
}

// String renders the truth table for debug logs.
func (t Table) String() string {
	var b strings.Builder
	b.WriteString("E2 E1 E0 | UDF bit | value")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "\n %d  %d  %d | %d       | %d", i>>2&1, i>>1&1, i&1, i, t.Value>>i&1)
	}
	return b.String()
}

func index(e2, e1, e0 bool) uint {
	var i uint
	if e2 {
		i |= 4
	}
	if e1 {
		i |= 2
	}
	if e0 {
		i |= 1
	}
	return i
}

// UndefinedError reports an expression identifier that is not an event of
// the EAP.
type UndefinedError struct {
	Name string
	Expr string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("event name %q used in logical expression %q is not defined for this EAP", e.Name, e.Expr)
}

// Synthesize evaluates expr over all 8 combinations of up to three events.
// events lists the event names in slot order; slots without an event read
// as false.
func Synthesize(expr string, events []string) (Table, error) {
	return SynthesizeFixed(expr, events, nil)
}

// SynthesizeFixed is Synthesize with some events pinned to a constant, such
// as an ALWAYS_ON event that is true whatever its slot bit says.
func SynthesizeFixed(expr string, events []string, fixed map[string]bool) (Table, error) {
	if len(events) > 3 {
		return Table{}, fmt.Errorf("%d events given, an EAP has 3 event slots", len(events))
	}
	x, err := Parse(expr)
	if err != nil {
		return Table{}, fmt.Errorf("logical expression %q: %w", expr, err)
	}
	slot := make(map[string]int, len(events))
	for i, name := range events {
		slot[name] = i
	}
	for _, name := range Names(x) {
		if _, ok := slot[name]; !ok {
			return Table{}, &UndefinedError{Name: name, Expr: expr}
		}
	}

	var t Table
	for i := 0; i < 8; i++ {
		env := [3]bool{i&1 == 1, i&2 == 2, i&4 == 4}
		value := func(name string) bool {
			if v, ok := fixed[name]; ok {
				return v
			}
			return env[slot[name]]
		}
		if eval(x, value) {
			t.Value |= 1 << i
		}
	}
	return t, nil
}

// Identifiers lists the names referenced by expr.
func Identifiers(expr string) ([]string, error) {
	x, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return Names(x), nil
}

func eval(x Expr, value func(string) bool) bool {
	switch e := x.(type) {
	case ExprIdent:
		return value(e.Name)
	case ExprNot:
		return !eval(e.X, value)
	case ExprAnd:
		return eval(e.A, value) && eval(e.B, value)
	case ExprOr:
		return eval(e.A, value) || eval(e.B, value)
	case ExprConst:
		return e.Value
	}
	return false
}
