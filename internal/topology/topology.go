// Package topology models the debug multiplexer network that carries chip
// signals to the CLA debug input.
//
// Signals and muxes live in arenas owned by a Catalog and refer to each
// other by index.
package topology

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SignalID indexes a signal in its Catalog.
type SignalID int

// MuxID indexes a mux in its Catalog.
type MuxID int

// NoMux marks a signal that is not an input of any mux.
const NoMux MuxID = -1

// Signal is a named debug bus entry of the topology. Lane fields give the
// span of the signal on the inputs of its mux; they are -1 for signals that
// are not mux inputs.
type Signal struct {
	Name           string
	Type           string
	Width          int
	LowerLane      int
	LowerLaneIndex int
	UpperLane      int
	UpperLaneIndex int
	Mux            MuxID
}

// Mux is one debug multiplexer instance.
type Mux struct {
	Name string
	// Output is the catalog signal the mux drives.
	Output      string
	SelectCSRs  []string
	HardwareID  int
	LaneWidth   int
	OutputWidth int
	OutputLanes int
	// OutputDelay is the number of cycles from mux input to mux output.
	OutputDelay int
	// Final is set when Output is the CLA debug input.
	Final bool
}

// HasCSR reports whether csr is one of the mux's select registers.
func (m *Mux) HasCSR(csr string) bool {
	for _, c := range m.SelectCSRs {
		if c == csr {
			return true
		}
	}
	return false
}

// Catalog is the arena of every signal and mux of a topology.
type Catalog struct {
	// Input names the CLA debug input signal.
	Input      string
	InputWidth int
	// Default is set for the built-in pass-through topology.
	Default bool

	signals   []Signal
	byName    map[string]SignalID
	muxes     []Mux
	muxByName map[string]MuxID
}

func newCatalog(input string, width int) *Catalog {
	c := &Catalog{
		Input:      input,
		InputWidth: width,
		byName:     map[string]SignalID{},
		muxByName:  map[string]MuxID{},
	}
	c.addSignal(Signal{
		Name:           input,
		Type:           fmt.Sprintf("logic [%d:0]", width-1),
		Width:          width,
		LowerLane:      -1,
		LowerLaneIndex: -1,
		UpperLane:      -1,
		UpperLaneIndex: -1,
		Mux:            NoMux,
	})
	return c
}

// addSignal registers s and reports whether it replaced an existing entry.
func (c *Catalog) addSignal(s Signal) bool {
	if id, ok := c.byName[s.Name]; ok {
		c.signals[id] = s
		return true
	}
	c.byName[s.Name] = SignalID(len(c.signals))
	c.signals = append(c.signals, s)
	return false
}

func (c *Catalog) addMux(m Mux) MuxID {
	id := MuxID(len(c.muxes))
	c.muxes = append(c.muxes, m)
	c.muxByName[m.Name] = id
	return id
}

// Signal returns the signal with the given id.
func (c *Catalog) Signal(id SignalID) *Signal {
	return &c.signals[id]
}

// Lookup returns the id of an exact signal name.
func (c *Catalog) Lookup(name string) (SignalID, bool) {
	id, ok := c.byName[name]
	return id, ok
}

// InputID returns the id of the CLA debug input signal.
func (c *Catalog) InputID() SignalID {
	return c.byName[c.Input]
}

// Mux returns the mux with the given id.
func (c *Catalog) Mux(id MuxID) *Mux {
	return &c.muxes[id]
}

// MuxCount returns the number of muxes.
func (c *Catalog) MuxCount() int {
	return len(c.muxes)
}

// MuxByName returns the id of a mux.
func (c *Catalog) MuxByName(name string) (MuxID, bool) {
	id, ok := c.muxByName[name]
	return id, ok
}

// Downstream returns the mux that consumes m's output, or NoMux for a final
// mux.
func (c *Catalog) Downstream(m MuxID) MuxID {
	mux := c.Mux(m)
	if mux.Final {
		return NoMux
	}
	id, ok := c.byName[mux.Output]
	if !ok {
		return NoMux
	}
	return c.signals[id].Mux
}

// FinalMux returns the first mux, in declaration order, that drives the CLA
// debug input.
func (c *Catalog) FinalMux() (MuxID, bool) {
	for i := range c.muxes {
		if c.muxes[i].Final {
			return MuxID(i), true
		}
	}
	return NoMux, false
}

// Names returns every signal name, sorted.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Default builds the pass-through topology used when no topology document
// is given: one mux whose single 64-bit input feeds the CLA debug input.
func Default(inputWidth int) *Catalog {
	const laneWidth = 16
	c := newCatalog("dbm_out", inputWidth)
	c.Default = true
	id := c.addMux(Mux{
		Name:        "debug_bus_mux_A",
		Output:      "dbm_out",
		SelectCSRs:  []string{"default_dummy_mux"},
		HardwareID:  0,
		LaneWidth:   laneWidth,
		OutputWidth: inputWidth,
		OutputLanes: inputWidth / laneWidth,
		OutputDelay: 1,
		Final:       true,
	})
	c.addSignal(Signal{
		Name:           "debug_signals",
		Type:           fmt.Sprintf("logic [%d:0]", inputWidth-1),
		Width:          inputWidth,
		LowerLane:      0,
		LowerLaneIndex: 0,
		UpperLane:      (inputWidth - 1) / laneWidth,
		UpperLaneIndex: (inputWidth - 1) % laneWidth,
		Mux:            id,
	})
	return c
}

// View is a resolved, possibly bit-sliced, reference to a catalog signal.
type View struct {
	Name   string
	Signal SignalID
	Width  int
	// Lower and Upper are the bit indexes of the view within its signal.
	Lower          int
	Upper          int
	LowerLane      int
	LowerLaneIndex int
	UpperLane      int
	UpperLaneIndex int
}

// Lanes returns the mux input lanes the view spans, lowest first.
func (v View) Lanes() []int {
	if v.LowerLane < 0 {
		return nil
	}
	out := make([]int, 0, v.UpperLane-v.LowerLane+1)
	for l := v.LowerLane; l <= v.UpperLane; l++ {
		out = append(out, l)
	}
	return out
}

// BitPlacement returns the mux input lane and lane index of bit (counted
// from the view's least significant bit).
func (v View) BitPlacement(bit, laneWidth int) (lane, index int) {
	offset := v.LowerLaneIndex + bit
	return v.LowerLane + offset/laneWidth, offset % laneWidth
}

// Full returns a view of the whole signal.
func (c *Catalog) Full(id SignalID) View {
	s := c.Signal(id)
	return View{
		Name:           s.Name,
		Signal:         id,
		Width:          s.Width,
		Lower:          0,
		Upper:          s.Width - 1,
		LowerLane:      s.LowerLane,
		LowerLaneIndex: s.LowerLaneIndex,
		UpperLane:      s.UpperLane,
		UpperLaneIndex: s.UpperLaneIndex,
	}
}

// Slice narrows a signal to a bit range written as [hi:lo], [n], [:lo],
// [hi:] or []. Lane placement is recomputed on the lanes of the signal's
// mux.
func (c *Catalog) Slice(id SignalID, suffix string) (View, error) {
	v := c.Full(id)
	s := c.Signal(id)
	v.Name = s.Name + suffix
	if suffix == "" || suffix == "[]" {
		return v, nil
	}
	if !strings.HasPrefix(suffix, "[") || !strings.HasSuffix(suffix, "]") {
		return v, fmt.Errorf("malformed bit range %q on %s", suffix, s.Name)
	}
	inner := strings.TrimSpace(suffix[1 : len(suffix)-1])

	hi, lo := s.Width-1, 0
	var err error
	if before, after, ok := strings.Cut(inner, ":"); ok {
		if before = strings.TrimSpace(before); before != "" {
			if hi, err = parseIndex(before); err != nil {
				return v, fmt.Errorf("bit range %q on %s: %w", suffix, s.Name, err)
			}
		}
		if after = strings.TrimSpace(after); after != "" {
			if lo, err = parseIndex(after); err != nil {
				return v, fmt.Errorf("bit range %q on %s: %w", suffix, s.Name, err)
			}
		}
	} else {
		if hi, err = parseIndex(inner); err != nil {
			return v, fmt.Errorf("bit range %q on %s: %w", suffix, s.Name, err)
		}
		lo = hi
	}

	if hi < lo {
		return v, fmt.Errorf("bit range %q on %s: upper index %d below lower index %d", suffix, s.Name, hi, lo)
	}
	if lo < 0 || hi >= s.Width {
		return v, fmt.Errorf("bit range %q on %s: out of range for a %d-bit signal", suffix, s.Name, s.Width)
	}

	v.Lower, v.Upper, v.Width = lo, hi, hi-lo+1
	if s.Mux == NoMux {
		return v, nil
	}
	lw := c.Mux(s.Mux).LaneWidth
	low := s.LowerLaneIndex + lo
	v.LowerLane = s.LowerLane + floorDiv(low, lw)
	v.LowerLaneIndex = floorMod(low, lw)
	high := s.UpperLaneIndex - (s.Width - hi - 1)
	v.UpperLane = s.UpperLane + floorDiv(high, lw)
	v.UpperLaneIndex = floorMod(high, lw)
	return v, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("index %q is not a number", s)
	}
	return n, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// SplitRef separates a signal reference into its name and bit-range suffix.
func SplitRef(ref string) (name, suffix string) {
	ref = strings.TrimSpace(ref)
	if strings.HasSuffix(ref, "]") {
		if i := strings.LastIndex(ref, "["); i >= 0 {
			return strings.TrimSpace(ref[:i]), ref[i:]
		}
	}
	return ref, ""
}

// Resolve finds the catalog signal a reference names and applies its bit
// range. An exact name wins; otherwise the reference must be the dotted
// suffix of exactly one catalog entry.
func (c *Catalog) Resolve(ref string) (View, error) {
	name, suffix := SplitRef(ref)
	if name == "" {
		return View{}, fmt.Errorf("empty signal reference %q", ref)
	}
	id, ok := c.byName[name]
	if !ok {
		var matches []string
		for _, cand := range c.Names() {
			if strings.HasSuffix(cand, "."+name) {
				matches = append(matches, cand)
			}
		}
		switch len(matches) {
		case 0:
			msg := fmt.Sprintf("could not find rtl signal %s in the debug bus topology", name)
			if c.Default {
				msg += "; no topology file was given, so only debug_signals is available"
			}
			return View{}, fmt.Errorf("%s", msg)
		case 1:
			id = c.byName[matches[0]]
		default:
			return View{}, fmt.Errorf("multiple matches for rtl signal %s: %s", name, strings.Join(matches, ", "))
		}
	}
	v, err := c.Slice(id, suffix)
	if err != nil {
		return View{}, err
	}
	v.Name = strings.TrimSpace(ref)
	return v, nil
}
