// Package condition parses the trigger condition strings of a CLA program
// into typed comparisons.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
)

// Kind is the comparison a condition performs.
type Kind int

const (
	Always Kind = iota + 1
	Equal
	NotEqual
	Greater
	Less
	PosEdge
	NegEdge
	XTrigger0
	XTrigger1
	AnyChange
	Transition
	CountOnes
	PeriodTick
)

var kindNames = map[Kind]string{
	Always:     "ALWAYS",
	Equal:      "EQUAL",
	NotEqual:   "NOT_EQUAL",
	Greater:    "GREATER",
	Less:       "LESS",
	PosEdge:    "POSEDGE",
	NegEdge:    "NEGEDGE",
	XTrigger0:  "XTRIGGER_0",
	XTrigger1:  "XTRIGGER_1",
	AnyChange:  "ANY_CHANGE",
	Transition: "TRANSITION",
	CountOnes:  "COUNT_ONES",
	PeriodTick: "PERIOD_TICK",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HasOperand reports whether conditions of this kind name a signal.
func (k Kind) HasOperand() bool {
	switch k {
	case Always, PeriodTick, XTrigger0, XTrigger1:
		return false
	}
	return true
}

// Multi reports whether one event may combine several conditions of this kind.
func (k Kind) Multi() bool {
	return k == Equal || k == Transition || k == AnyChange
}

// Counters answers whether a name is a declared counter alias.
type Counters interface {
	IsCounter(name string) bool
}

// CounterSet is a Counters backed by a set of names.
type CounterSet map[string]bool

func (s CounterSet) IsCounter(name string) bool { return s[name] }

// Condition is one parsed comparison.
type Condition struct {
	Source string
	Kind   Kind
	Signal string
	// Counter is set when Signal is a counter alias.
	Counter  bool
	HasValue bool
	Value    uint64
	// From is the starting value of a transition.
	From uint64
}

var (
	posedgeRe    = regexp.MustCompile(`posedge\s`)
	negedgeRe    = regexp.MustCompile(`negedge\s`)
	anychangeRe  = regexp.MustCompile(`anychange\s*\(`)
	transitionRe = regexp.MustCompile(`transition\s*\(`)
	countonesRe  = regexp.MustCompile(`countones\s*\(`)
)

// Parse turns src into a Condition. Every recognized form present in src is
// applied in a fixed order and the last one decides the kind, so that
// `countones(sig) == 3` is first read as an equality and then refined.
func Parse(src string, counters Counters) (Condition, error) {
	if counters == nil {
		counters = CounterSet(nil)
	}
	c := Condition{Source: src}
	matched := false

	if strings.Contains(src, ">=") || strings.Contains(src, "<=") {
		return c, diag.Errorf(diag.Syntax, "unsupported operator in condition %q: only ==, !=, > and < are available", src)
	}

	if strings.Contains(src, "==") {
		sig, val, err := splitComparison(src, "==")
		if err != nil {
			return c, err
		}
		c.Kind, c.Signal, c.Value, c.HasValue = Equal, sig, val, true
		matched = true
	}
	if strings.Contains(src, "!=") {
		sig, val, err := splitComparison(src, "!=")
		if err != nil {
			return c, err
		}
		if counters.IsCounter(sig) {
			return c, diag.Errorf(diag.Structure, "not-equal comparison is not supported for counter %s in %q", sig, src)
		}
		c.Kind, c.Signal, c.Value, c.HasValue = NotEqual, sig, val, true
		matched = true
	}
	if strings.Contains(src, ">") {
		sig, val, err := splitComparison(src, ">")
		if err != nil {
			return c, err
		}
		if !counters.IsCounter(sig) {
			return c, diag.Errorf(diag.Structure, "greater-than comparison is only supported for counters, %s in %q is not a counter", sig, src)
		}
		c.Kind, c.Signal, c.Value, c.HasValue = Greater, sig, val, true
		matched = true
	}
	if strings.Contains(src, "<") {
		sig, val, err := splitComparison(src, "<")
		if err != nil {
			return c, err
		}
		if !counters.IsCounter(sig) {
			return c, diag.Errorf(diag.Structure, "less-than comparison is only supported for counters, %s in %q is not a counter", sig, src)
		}
		c.Kind, c.Signal, c.Value, c.HasValue = Less, sig, val, true
		matched = true
	}
	if loc := posedgeRe.FindStringIndex(src); loc != nil {
		sig := strings.TrimSpace(src[loc[1]:])
		if sig == "" {
			return c, diag.Errorf(diag.Syntax, "no signal given for posedge in %q", src)
		}
		c.Kind, c.Signal, c.HasValue = PosEdge, sig, false
		matched = true
	}
	if loc := negedgeRe.FindStringIndex(src); loc != nil {
		sig := strings.TrimSpace(src[loc[1]:])
		if sig == "" {
			return c, diag.Errorf(diag.Syntax, "no signal given for negedge in %q", src)
		}
		c.Kind, c.Signal, c.HasValue = NegEdge, sig, false
		matched = true
	}
	if strings.Contains(src, "XTRIGGER_0") {
		c.Kind = XTrigger0
		matched = true
	}
	if strings.Contains(src, "XTRIGGER_1") {
		c.Kind = XTrigger1
		matched = true
	}
	if strings.Contains(src, "ALWAYS_ON") {
		c.Kind = Always
		matched = true
	}
	if strings.Contains(src, "PERIOD_TICK") {
		c.Kind = PeriodTick
		matched = true
	}
	if anychangeRe.MatchString(src) {
		args, err := callArgs(src, "anychange")
		if err != nil {
			return c, err
		}
		if len(args) != 1 {
			return c, diag.Errorf(diag.Syntax, "%d arguments given to anychange in %q, only one argument expected", len(args), src)
		}
		c.Kind, c.Signal, c.HasValue = AnyChange, args[0], false
		matched = true
	}
	if transitionRe.MatchString(src) {
		args, err := callArgs(src, "transition")
		if err != nil {
			return c, err
		}
		if len(args) != 3 {
			return c, diag.Errorf(diag.Syntax, "%d arguments given to transition in %q, expected signal, from value and to value", len(args), src)
		}
		from, err := ParseValue(args[1])
		if err != nil {
			return c, diag.Errorf(diag.Syntax, "invalid from value %q in %q", args[1], src)
		}
		to, err := ParseValue(args[2])
		if err != nil {
			return c, diag.Errorf(diag.Syntax, "invalid to value %q in %q", args[2], src)
		}
		c.Kind, c.Signal, c.From, c.Value, c.HasValue = Transition, args[0], from, to, true
		matched = true
	}
	if countonesRe.MatchString(src) {
		parts := strings.Split(src, "==")
		if len(parts) != 2 {
			return c, diag.Errorf(diag.Syntax, "countones in %q must be compared with == to a value", src)
		}
		val, err := ParseValue(parts[1])
		if err != nil {
			return c, diag.Errorf(diag.Syntax, "invalid ones count %q in %q", strings.TrimSpace(parts[1]), src)
		}
		args, err := callArgs(parts[0], "countones")
		if err != nil {
			return c, err
		}
		if len(args) != 1 {
			return c, diag.Errorf(diag.Syntax, "%d arguments given to countones in %q, only one argument expected", len(args), src)
		}
		c.Kind, c.Signal, c.Value, c.HasValue = CountOnes, args[0], val, true
		matched = true
	}

	if !matched {
		return c, diag.Errorf(diag.Syntax, "unsupported or invalid condition %q", src)
	}

	if !c.Kind.HasOperand() {
		c.Signal, c.Value, c.HasValue, c.From = "", 0, false, 0
		return c, nil
	}
	c.Counter = counters.IsCounter(c.Signal)
	if c.Counter {
		switch c.Kind {
		case Equal, Greater, Less:
		default:
			return c, diag.Errorf(diag.Structure, "counter %s in %q can only be compared with ==, > or <", c.Signal, src)
		}
	}
	return c, nil
}

func splitComparison(src, op string) (string, uint64, error) {
	parts := strings.Split(src, op)
	if len(parts) != 2 {
		return "", 0, diag.Errorf(diag.Syntax, "could not split %q on %s into a signal and a value", src, op)
	}
	sig := strings.TrimSpace(parts[0])
	if sig == "" {
		return "", 0, diag.Errorf(diag.Syntax, "no signal given on the left of %s in %q", op, src)
	}
	val, err := ParseValue(parts[1])
	if err != nil {
		return "", 0, diag.Errorf(diag.Syntax, "could not convert %q to an integer in %q", strings.TrimSpace(parts[1]), src)
	}
	return sig, val, nil
}

func callArgs(src, fn string) ([]string, error) {
	open := strings.Index(src, "(")
	end := strings.LastIndex(src, ")")
	if open < 0 || end < open {
		return nil, diag.Errorf(diag.Syntax, "unbalanced parentheses for %s in %q", fn, src)
	}
	inner := strings.TrimSpace(src[open+1 : end])
	if inner == "" {
		return nil, diag.Errorf(diag.Syntax, "no signal given to %s in %q", fn, src)
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return nil, diag.Errorf(diag.Syntax, "empty argument to %s in %q", fn, src)
		}
	}
	return parts, nil
}

// ParseValue parses an unsigned 0x-prefixed hex or decimal value.
func ParseValue(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// Key identifies a condition by its meaning rather than its spelling.
func (c Condition) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d", c.Kind, c.Signal, c.Value, c.From)
}

// Comment renders the condition for register provenance comments.
func (c Condition) Comment() string {
	switch c.Kind {
	case Always:
		return "(ALWAYS)"
	case PeriodTick:
		return "(PERIOD_TICK)"
	case XTrigger0:
		return "(XTRIGGER_0)"
	case XTrigger1:
		return "(XTRIGGER_1)"
	case Equal:
		return fmt.Sprintf("(%s == %d)", c.Signal, c.Value)
	case NotEqual:
		return fmt.Sprintf("(%s != %d)", c.Signal, c.Value)
	case Greater:
		return fmt.Sprintf("(%s > %d)", c.Signal, c.Value)
	case Less:
		return fmt.Sprintf("(%s < %d)", c.Signal, c.Value)
	case PosEdge:
		return fmt.Sprintf("(posedge %s)", c.Signal)
	case NegEdge:
		return fmt.Sprintf("(negedge %s)", c.Signal)
	case AnyChange:
		return fmt.Sprintf("(anychange(%s))", c.Signal)
	case Transition:
		return fmt.Sprintf("(transition(%s,%d,%d))", c.Signal, c.From, c.Value)
	case CountOnes:
		return fmt.Sprintf("(countones(%s) == %d)", c.Signal, c.Value)
	}
	return "(" + c.Source + ")"
}
