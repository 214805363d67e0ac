package router

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/document"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
	"github.com/robert-at-pretension-io/cla-compiler/internal/topology"
)

func parseTopology(t *testing.T, src string) *topology.Catalog {
	t.Helper()
	root, err := document.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse topology: %v", err)
	}
	cat, err := topology.Decode(root, 64, diag.Discard())
	if err != nil {
		t.Fatalf("decode topology: %v", err)
	}
	return cat
}

func twoLevel(t *testing.T) *topology.Catalog {
	t.Helper()
	root, err := document.Load(filepath.Join("..", "..", "testdata", "topology", "two_level.yaml"))
	if err != nil {
		t.Fatalf("load topology: %v", err)
	}
	cat, err := topology.Decode(root, 64, diag.Discard())
	if err != nil {
		t.Fatalf("decode topology: %v", err)
	}
	return cat
}

func reqs(signals ...string) []program.Request {
	out := make([]program.Request, 0, len(signals))
	for _, s := range signals {
		out = append(out, program.Request{Signal: s, Location: "n.eap0.e"})
	}
	return out
}

func TestAssignLanes(t *testing.T) {
	tests := []struct {
		required []int
		lanes    int
		want     []int
	}{
		{nil, 4, []int{0, 1, 2, 3}},
		{[]int{1, 5}, 4, []int{5, 1, 2, 3}},
		{[]int{2, 5, 6, 7}, 4, []int{5, 6, 2, 7}},
		{[]int{4}, 4, []int{4, 1, 2, 3}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, AssignLanes(tt.required, tt.lanes)); diff != "" {
			t.Errorf("AssignLanes(%v, %d) mismatch (-want +got):\n%s", tt.required, tt.lanes, diff)
		}
	}
}

func TestSelectValue(t *testing.T) {
	if got := SelectValue(6, 4); got != 3 {
		t.Fatalf("SelectValue(6, 4) = %d, want 3", got)
	}
	if got := SelectValue(2, 4); got != 0 {
		t.Fatalf("SelectValue(2, 4) = %d, want 0", got)
	}
}

func TestRouteDefaultTopology(t *testing.T) {
	res, err := Route(topology.Default(64), reqs("debug_signals[7:0]", "debug_signals[63:48]"), nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	bits, err := res.OutputBits("debug_signals[7:0]")
	if err != nil {
		t.Fatalf("OutputBits: %v", err)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7}, bits); diff != "" {
		t.Fatalf("bits mismatch (-want +got):\n%s", diff)
	}
	high, err := res.OutputBits("debug_signals[63:48]")
	if err != nil {
		t.Fatalf("OutputBits: %v", err)
	}
	if high[0] != 48 || high[15] != 63 {
		t.Fatalf("expected bits 48..63, got %v", high)
	}

	sels := res.Selections()
	if len(sels) != 1 || sels[0].CSR != "default_dummy_mux" {
		t.Fatalf("unexpected selections %+v", sels)
	}
	if diff := cmp.Diff([]int{0, 3}, sels[0].Lanes); diff != "" {
		t.Fatalf("lanes mismatch (-want +got):\n%s", diff)
	}
	for _, fb := range res.FinalBits() {
		if fb.Delay != 1 {
			t.Fatalf("expected delay 1 through the default mux, got %+v", fb)
		}
	}
}

func TestRouteTwoLevel(t *testing.T) {
	res, err := Route(twoLevel(t), reqs("lsu.state", "fetch_pc[3:0]", "uncore_evt[0]"), nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	wantBits := map[string][]int{
		"lsu.state":     {0, 1, 2, 3},
		"fetch_pc[3:0]": {8, 9, 10, 11},
		"uncore_evt[0]": {32},
	}
	for sig, want := range wantBits {
		got, err := res.OutputBits(sig)
		if err != nil {
			t.Fatalf("OutputBits(%s): %v", sig, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("OutputBits(%s) mismatch (-want +got):\n%s", sig, diff)
		}
	}

	sels := res.Selections()
	if len(sels) != 2 {
		t.Fatalf("expected one selection per mux, got %+v", sels)
	}
	if diff := cmp.Diff([]int{0, 6, 2, 3}, sels[0].Assignment); diff != "" {
		t.Fatalf("core_mux assignment mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 1, 2, 3}, sels[1].Assignment); diff != "" {
		t.Fatalf("top_mux assignment mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lsu.state", "fetch_pc[3:0]"}, sels[0].Signals); diff != "" {
		t.Fatalf("core_mux signals mismatch (-want +got):\n%s", diff)
	}

	delays := map[int]int{}
	for _, fb := range res.FinalBits() {
		delays[fb.Bit] = fb.Delay
	}
	if delays[0] != 3 || delays[11] != 3 || delays[32] != 1 {
		t.Fatalf("unexpected delays %v", delays)
	}

	chain := res.Chain("fetch_pc[3:0]")
	if len(chain) != 4 || !strings.Contains(chain[0], "core_dbg[8] (delay 2)") || !strings.Contains(chain[0], "cla_debug_in[8] (delay 3)") {
		t.Fatalf("unexpected chain %v", chain)
	}
}

func TestRouteCLAInputDirectly(t *testing.T) {
	res, err := Route(topology.Default(64), reqs("dbm_out[5:4]"), nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	bits, err := res.OutputBits("dbm_out[5:4]")
	if err != nil {
		t.Fatalf("OutputBits: %v", err)
	}
	if diff := cmp.Diff([]int{4, 5}, bits); diff != "" {
		t.Fatalf("bits mismatch (-want +got):\n%s", diff)
	}
}

const wideTopology = `
CLA Input: out
Debug Mux Instances:
  leaf:
    Debug Bus Output: leaf_out
    DbgMuxSelCsr: [csr_a, csr_b]
    DEBUG_MUX_ID: 3
    LANE_WIDTH: 16
    Debug Bus Inputs:
      - {Name: wide, Bit Width: 96, Lane Lower: 0, Lane Lower Index: 0, Lane Upper: 5, Lane Upper Index: 15}
  root:
    Debug Bus Output: out
    DbgMuxSelCsr: [root_a, root_b]
    DEBUG_MUX_ID: 4
    LANE_WIDTH: 16
    Debug Bus Inputs:
      - {Name: leaf_out, Bit Width: 64, Lane Lower: 0, Lane Lower Index: 0, Lane Upper: 3, Lane Upper Index: 15}
      - {Name: other, Bit Width: 16, Lane Lower: 4, Lane Lower Index: 0, Lane Upper: 4, Lane Upper Index: 15}
`

func TestRouteErrors(t *testing.T) {
	tests := []struct {
		name    string
		reqs    []program.Request
		class   diag.Class
		message string
	}{
		{
			name:    "too_many_lanes",
			reqs:    []program.Request{{Signal: "wide", CSR: "csr_a"}},
			class:   diag.Resource,
			message: "too many lanes",
		},
		{
			name:    "ambiguous_csr",
			reqs:    []program.Request{{Signal: "wide[3:0]"}},
			class:   diag.Structure,
			message: "debug_mux_reg",
		},
		{
			name:    "unknown_csr",
			reqs:    []program.Request{{Signal: "wide[3:0]", CSR: "nope"}},
			class:   diag.Structure,
			message: "not connected to mux leaf",
		},
		{
			name:    "several_csrs_on_leaf",
			reqs:    []program.Request{{Signal: "wide[3:0]", CSR: "csr_a"}, {Signal: "wide[7:4]", CSR: "csr_b"}},
			class:   diag.Structure,
			message: "unclear",
		},
		{
			name:    "conflicting_csrs",
			reqs:    []program.Request{{Signal: "wide[3:0]", CSR: "csr_a"}, {Signal: "wide[3:0]", CSR: "csr_b"}},
			class:   diag.Consistency,
			message: "csr_a and csr_b",
		},
		{
			name:    "unknown_signal",
			reqs:    []program.Request{{Signal: "ghost"}},
			class:   diag.Structure,
			message: "could not find",
		},
		{
			name:    "mux_output_is_not_routable",
			reqs:    []program.Request{{Signal: "out[1]", CSR: "root_a"}},
			class:   diag.Structure,
			message: "CLA input itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Route(parseTopology(t, wideTopology), tt.reqs, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if class, _ := diag.ClassOf(err); class != tt.class {
				t.Fatalf("expected %v error, got %v", tt.class, err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("expected %q in %v", tt.message, err)
			}
		})
	}
}

func TestFinalMuxMayUseSeveralCSRs(t *testing.T) {
	res, err := Route(parseTopology(t, wideTopology), []program.Request{
		{Signal: "other[0]", CSR: "root_a"},
		{Signal: "leaf_out[0]", CSR: "root_b"},
	}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	sels := res.Selections()
	if len(sels) != 4 {
		t.Fatalf("expected a selection per mux CSR, got %d", len(sels))
	}
	if sels[2].CSR != "root_a" || len(sels[2].Signals) != 1 || sels[3].CSR != "root_b" {
		t.Fatalf("unexpected root selections %+v", sels[2:])
	}
}

func TestRouteMuxLoop(t *testing.T) {
	cat := parseTopology(t, `
CLA Input: out
Debug Mux Instances:
  m1:
    Debug Bus Output: b
    DbgMuxSelCsr: c1
    DEBUG_MUX_ID: 1
    LANE_WIDTH: 16
    Debug Bus Inputs:
      - {Name: a, Bit Width: 64, Lane Lower: 0, Lane Lower Index: 0, Lane Upper: 3, Lane Upper Index: 15}
  m2:
    Debug Bus Output: a
    DbgMuxSelCsr: c2
    DEBUG_MUX_ID: 2
    LANE_WIDTH: 16
    Debug Bus Inputs:
      - {Name: b, Bit Width: 64, Lane Lower: 0, Lane Lower Index: 0, Lane Upper: 3, Lane Upper Index: 15}
  m3:
    Debug Bus Output: out
    DbgMuxSelCsr: c3
    DEBUG_MUX_ID: 3
    LANE_WIDTH: 16
    Debug Bus Inputs:
      - {Name: c, Bit Width: 64, Lane Lower: 0, Lane Lower Index: 0, Lane Upper: 3, Lane Upper Index: 15}
`)
	if _, err := Route(cat, nil, nil); err == nil || !strings.Contains(err.Error(), "loop") {
		t.Fatalf("expected loop error, got %v", err)
	}
}
