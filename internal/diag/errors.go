package diag

import (
	"errors"
	"fmt"
)

// Class groups compiler failures by the kind of mistake in the input.
type Class int

const (
	// Syntax is a malformed condition, expression or value.
	Syntax Class = iota + 1
	// Structure is a program or topology that breaks a modeling rule.
	Structure
	// Resource is a program that needs more hardware than the CLA has.
	Resource
	// Consistency is a program whose parts disagree with each other.
	Consistency
)

func (c Class) String() string {
	switch c {
	case Syntax:
		return "syntax"
	case Structure:
		return "structure"
	case Resource:
		return "resource"
	case Consistency:
		return "consistency"
	}
	return "unknown"
}

// Error is a compiler failure with its class and a node.eap.event location.
type Error struct {
	Class    Class
	Location string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Location == "" {
		return fmt.Sprintf("%s error: %s", e.Class, msg)
	}
	return fmt.Sprintf("%s error at %s: %s", e.Class, e.Location, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error without a location.
func Errorf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// At builds an Error at a location.
func At(class Class, location, format string, args ...any) *Error {
	return &Error{Class: class, Location: location, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a class and location to err.
func Wrap(class Class, location string, err error) *Error {
	return &Error{Class: class, Location: location, Err: err}
}

// Locate fills in the location of a diag Error that has none yet. Any
// other error becomes a Syntax error at location.
func Locate(location string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.Location == "" {
			cp := *de
			cp.Location = location
			return &cp
		}
		return err
	}
	return Wrap(Syntax, location, err)
}

// ClassOf reports the class of the first diag Error in err's chain.
func ClassOf(err error) (Class, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Class, true
	}
	return 0, false
}
