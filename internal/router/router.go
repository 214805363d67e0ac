// Package router routes requested debug signals through the mux tree to the
// CLA debug input, assigning mux lanes and tracking propagation delay.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
	"github.com/robert-at-pretension-io/cla-compiler/internal/topology"
)

// NodeID indexes a routed signal in its Result.
type NodeID int

const noNode NodeID = -1

// Node is one routed signal: a requested input or a single output bit of a
// mux. Nodes refer to each other by index.
type Node struct {
	View topology.View
	// Mux is the mux this node enters, NoMux once it is on the CLA input.
	Mux   topology.MuxID
	CSR   string
	Delay int
	// Driver is the node one stage upstream.
	Driver NodeID
	// Loads holds, per bit, the node one stage downstream.
	Loads    []NodeID
	Location string
}

// Selection is the lane setup of one (mux, select CSR) pair.
type Selection struct {
	Mux topology.MuxID
	CSR string
	// Lanes are the input lanes needed by the routed signals, sorted.
	Lanes []int
	// Assignment maps each output lane to the input lane it selects.
	Assignment []int
	// Signals names the routed inputs in request order.
	Signals []string
}

// Result holds the routed signal graph.
type Result struct {
	cat        *topology.Catalog
	nodes      []Node
	requested  map[string]NodeID
	order      []string
	selections []Selection
}

type router struct {
	cat     *topology.Catalog
	log     *diag.Logger
	res     *Result
	pending map[topology.MuxID][]NodeID
}

// Route resolves every request and routes it to the CLA debug input.
func Route(cat *topology.Catalog, reqs []program.Request, log *diag.Logger) (*Result, error) {
	if log == nil {
		log = diag.Discard()
	}
	r := &router{
		cat:     cat,
		log:     log,
		res:     &Result{cat: cat, requested: map[string]NodeID{}},
		pending: map[topology.MuxID][]NodeID{},
	}
	for _, req := range reqs {
		if err := r.request(req); err != nil {
			return nil, err
		}
	}
	order, err := r.muxOrder()
	if err != nil {
		return nil, err
	}
	byMux := make(map[topology.MuxID][]Selection, len(order))
	for _, m := range order {
		sels, err := r.routeMux(m)
		if err != nil {
			return nil, err
		}
		byMux[m] = sels
	}
	for m := 0; m < cat.MuxCount(); m++ {
		r.res.selections = append(r.res.selections, byMux[topology.MuxID(m)]...)
	}
	return r.res, nil
}

func (r *router) addNode(n Node) NodeID {
	id := NodeID(len(r.res.nodes))
	r.res.nodes = append(r.res.nodes, n)
	return id
}

func (r *router) request(req program.Request) error {
	name := strings.TrimSpace(req.Signal)
	if id, ok := r.res.requested[name]; ok {
		prev := r.res.nodes[id]
		if req.CSR != "" && prev.Mux != topology.NoMux && req.CSR != prev.CSR {
			return diag.At(diag.Consistency, req.Location, "signal %s is requested through select CSR %s and %s", name, prev.CSR, req.CSR)
		}
		return nil
	}

	view, err := r.cat.Resolve(name)
	if err != nil {
		return diag.Wrap(diag.Structure, req.Location, err)
	}
	sig := r.cat.Signal(view.Signal)
	node := Node{View: view, Mux: sig.Mux, Driver: noNode, Location: req.Location}

	if sig.Mux == topology.NoMux {
		if view.Signal != r.cat.InputID() {
			return diag.At(diag.Structure, req.Location, "signal %s is not an input of any debug mux", name)
		}
		if req.CSR != "" {
			return diag.At(diag.Structure, req.Location, "signal %s is the CLA input itself and has no select CSR, but %s was given", name, req.CSR)
		}
		id := r.addNode(node)
		r.res.requested[name] = id
		r.res.order = append(r.res.order, name)
		return nil
	}

	mux := r.cat.Mux(sig.Mux)
	switch {
	case req.CSR != "":
		if !mux.HasCSR(req.CSR) {
			return diag.At(diag.Structure, req.Location, "select CSR %s is not connected to mux %s (available: %s)", req.CSR, mux.Name, strings.Join(mux.SelectCSRs, ", "))
		}
		node.CSR = req.CSR
	case len(mux.SelectCSRs) == 1:
		node.CSR = mux.SelectCSRs[0]
	default:
		return diag.At(diag.Structure, req.Location, "signal %s enters mux %s, which has select CSRs %s; name one with debug_mux_reg", name, mux.Name, strings.Join(mux.SelectCSRs, ", "))
	}

	id := r.addNode(node)
	r.res.requested[name] = id
	r.res.order = append(r.res.order, name)
	r.pending[sig.Mux] = append(r.pending[sig.Mux], id)
	return nil
}

// muxOrder sorts muxes so that each comes after every mux feeding it.
func (r *router) muxOrder() ([]topology.MuxID, error) {
	n := r.cat.MuxCount()
	indeg := make([]int, n)
	for m := 0; m < n; m++ {
		if d := r.cat.Downstream(topology.MuxID(m)); d != topology.NoMux {
			indeg[d]++
		}
	}
	done := make([]bool, n)
	var order []topology.MuxID
	for len(order) < n {
		next := topology.NoMux
		for m := 0; m < n; m++ {
			if !done[m] && indeg[m] == 0 {
				next = topology.MuxID(m)
				break
			}
		}
		if next == topology.NoMux {
			var loop []string
			for m := 0; m < n; m++ {
				if !done[m] {
					loop = append(loop, r.cat.Mux(topology.MuxID(m)).Name)
				}
			}
			return nil, diag.Errorf(diag.Structure, "debug muxes %s feed each other in a loop", strings.Join(loop, ", "))
		}
		done[next] = true
		order = append(order, next)
		if d := r.cat.Downstream(next); d != topology.NoMux {
			indeg[d]--
		}
	}
	return order, nil
}

func (r *router) routeMux(m topology.MuxID) ([]Selection, error) {
	mux := r.cat.Mux(m)
	inputs := r.pending[m]

	groups := make([][]NodeID, len(mux.SelectCSRs))
	used := 0
	for i, csr := range mux.SelectCSRs {
		for _, id := range inputs {
			if r.res.nodes[id].CSR == csr {
				groups[i] = append(groups[i], id)
			}
		}
		if len(groups[i]) > 0 {
			used++
		}
	}
	if used > 1 && !mux.Final {
		return nil, diag.Errorf(diag.Structure, "routing through mux %s is unclear due to multiple mux select CSRs in use; only the final mux may use more than one", mux.Name)
	}

	sels := make([]Selection, 0, len(mux.SelectCSRs))
	for i, csr := range mux.SelectCSRs {
		sel, err := r.routeGroup(m, csr, groups[i])
		if err != nil {
			return nil, err
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

func (r *router) routeGroup(m topology.MuxID, csr string, group []NodeID) (Selection, error) {
	mux := r.cat.Mux(m)
	sel := Selection{Mux: m, CSR: csr}

	laneSet := map[int]bool{}
	for _, id := range group {
		sel.Signals = append(sel.Signals, r.res.nodes[id].View.Name)
		for _, l := range r.res.nodes[id].View.Lanes() {
			laneSet[l] = true
		}
	}
	for l := range laneSet {
		sel.Lanes = append(sel.Lanes, l)
	}
	sort.Ints(sel.Lanes)
	if len(sel.Lanes) > mux.OutputLanes {
		return sel, diag.Errorf(diag.Resource, "too many lanes used for debug mux %s through %s: %d needed, only %d available", mux.Name, csr, len(sel.Lanes), mux.OutputLanes)
	}

	sel.Assignment = AssignLanes(sel.Lanes, mux.OutputLanes)
	outLane := make(map[int]int, len(sel.Assignment))
	for out, in := range sel.Assignment {
		if laneSet[in] {
			outLane[in] = out
		}
	}

	outID, ok := r.cat.Lookup(mux.Output)
	if !ok {
		return sel, diag.Errorf(diag.Structure, "output %s of mux %s is not in the topology", mux.Output, mux.Name)
	}
	downstream := r.cat.Signal(outID).Mux
	downCSR := ""
	if downstream != topology.NoMux {
		downCSR = r.cat.Mux(downstream).SelectCSRs[0]
	}

	for _, id := range group {
		in := r.res.nodes[id]
		loads := make([]NodeID, in.View.Width)
		for bit := 0; bit < in.View.Width; bit++ {
			lane, idx := in.View.BitPlacement(bit, mux.LaneWidth)
			out := outLane[lane]*mux.LaneWidth + idx
			view, err := r.cat.Slice(outID, fmt.Sprintf("[%d]", out))
			if err != nil {
				return sel, diag.Wrap(diag.Structure, in.Location, fmt.Errorf("routing %s through %s: %w", in.View.Name, mux.Name, err))
			}
			child := r.addNode(Node{
				View:     view,
				Mux:      downstream,
				CSR:      downCSR,
				Delay:    in.Delay + mux.OutputDelay,
				Driver:   id,
				Location: in.Location,
			})
			loads[bit] = child
			if downstream != topology.NoMux {
				r.pending[downstream] = append(r.pending[downstream], child)
			}
		}
		r.res.nodes[id].Loads = loads
	}

	r.log.Debugf("Mux %s via %s: lanes %v, assignment %v", mux.Name, csr, sel.Lanes, sel.Assignment)
	return sel, nil
}

// AssignLanes places required input lanes on output lanes. A lane that fits
// keeps its number; the rest take the lowest free output lane in order.
// Output lanes nobody needs select their own index.
func AssignLanes(required []int, outputLanes int) []int {
	assign := make([]int, outputLanes)
	taken := make([]bool, outputLanes)
	for i := range assign {
		assign[i] = i
	}
	for _, l := range required {
		if l < outputLanes {
			taken[l] = true
		}
	}
	next := 0
	for _, l := range required {
		if l < outputLanes {
			continue
		}
		for next < outputLanes && taken[next] {
			next++
		}
		if next == outputLanes {
			break
		}
		assign[next] = l
		taken[next] = true
	}
	return assign
}

// SelectValue encodes the input lane an output lane selects for the mux
// select register.
func SelectValue(inputLane, outputLanes int) uint64 {
	v := inputLane - outputLanes + 1
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// Selections returns every (mux, CSR) lane setup in mux declaration order.
func (res *Result) Selections() []Selection {
	return res.selections
}

// Requested returns the routed signal names in request order.
func (res *Result) Requested() []string {
	return res.order
}

// Width returns the width of a requested signal.
func (res *Result) Width(signal string) (int, bool) {
	id, ok := res.requested[strings.TrimSpace(signal)]
	if !ok {
		return 0, false
	}
	return res.nodes[id].View.Width, true
}

// OutputBits returns, for each bit of a requested signal (least significant
// first), the CLA debug input bit it arrives on.
func (res *Result) OutputBits(signal string) ([]int, error) {
	name := strings.TrimSpace(signal)
	id, ok := res.requested[name]
	if !ok {
		return nil, fmt.Errorf("signal %s was not routed", name)
	}
	in := res.nodes[id]
	input := res.cat.InputID()
	bits := make([]int, in.View.Width)
	if in.View.Signal == input && in.Driver == noNode {
		for i := range bits {
			bits[i] = in.View.Lower + i
		}
		return bits, nil
	}
	for i := range bits {
		cur := in.Loads[i]
		for len(res.nodes[cur].Loads) == 1 {
			cur = res.nodes[cur].Loads[0]
		}
		end := res.nodes[cur]
		if end.View.Signal != input || len(end.Loads) != 0 {
			return nil, fmt.Errorf("bit %d of %s does not reach the CLA debug input %s", i, name, res.cat.Input)
		}
		bits[i] = end.View.Lower
	}
	return bits, nil
}

// FinalBit is a CLA debug input bit with its propagation delay.
type FinalBit struct {
	Bit   int
	Delay int
}

// FinalBits returns every CLA debug input bit driven by a mux, sorted by
// bit. Requests for the CLA input itself have no mux delay and are left out.
func (res *Result) FinalBits() []FinalBit {
	input := res.cat.InputID()
	var out []FinalBit
	for _, n := range res.nodes {
		if n.View.Signal != input || n.Driver == noNode {
			continue
		}
		for b := n.View.Lower; b <= n.View.Upper; b++ {
			out = append(out, FinalBit{Bit: b, Delay: n.Delay})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bit != out[j].Bit {
			return out[i].Bit < out[j].Bit
		}
		return out[i].Delay < out[j].Delay
	})
	return out
}

// Chain describes the path of every bit of a requested signal.
func (res *Result) Chain(signal string) []string {
	id, ok := res.requested[strings.TrimSpace(signal)]
	if !ok {
		return nil
	}
	in := res.nodes[id]
	var out []string
	for i, first := range in.Loads {
		parts := []string{fmt.Sprintf("%s bit %d", in.View.Name, i)}
		for cur := first; ; {
			n := res.nodes[cur]
			parts = append(parts, fmt.Sprintf("%s (delay %d)", n.View.Name, n.Delay))
			if len(n.Loads) != 1 {
				break
			}
			cur = n.Loads[0]
		}
		out = append(out, strings.Join(parts, " -> "))
	}
	return out
}

// Chains returns the bit paths of every requested signal in request order.
func (res *Result) Chains() []string {
	var out []string
	for _, name := range res.order {
		out = append(out, res.Chain(name)...)
	}
	return out
}
