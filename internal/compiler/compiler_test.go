package compiler

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/csr"
	"github.com/robert-at-pretension-io/cla-compiler/internal/diag"
	"github.com/robert-at-pretension-io/cla-compiler/internal/document"
	"github.com/robert-at-pretension-io/cla-compiler/internal/program"
	"github.com/robert-at-pretension-io/cla-compiler/internal/topology"
)

func decodeProgram(t *testing.T, src string) *program.Program {
	t.Helper()
	root, err := document.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse program: %v", err)
	}
	p, err := program.Decode(root, config.DefaultConfig(), diag.Discard())
	if err != nil {
		t.Fatalf("decode program: %v", err)
	}
	return p
}

func compileDefault(t *testing.T, src string) (*Result, error) {
	t.Helper()
	c := New(config.DefaultConfig(), diag.Discard())
	return c.Compile(decodeProgram(t, src), topology.Default(64), false)
}

func mustCompile(t *testing.T, src string) *Result {
	t.Helper()
	res, err := compileDefault(t, src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

func field(t *testing.T, b *csr.Bank, reg, name string) uint64 {
	t.Helper()
	r, ok := b.Register(reg)
	if !ok {
		t.Fatalf("register %s missing", reg)
	}
	f := r.Field(name)
	if f == nil {
		t.Fatalf("register %s has no field %s", reg, name)
	}
	return f.Value
}

func TestAlwaysOnProgram(t *testing.T) {
	res := mustCompile(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers: {go: ALWAYS_ON}
      event_logical_op: go
      next_state_node: A
`)
	if res.Bank.Len() != 36 {
		t.Fatalf("expected 36 registers without a topology, got %d", res.Bank.Len())
	}
	eap := csr.EAPName(0, 0)
	got := map[string]uint64{
		"event_type0": field(t, res.Bank, eap, "event_type0"),
		"dest_node":   field(t, res.Bank, eap, "dest_node"),
		"logical_op":  field(t, res.Bank, eap, "logical_op"),
		"udf":         field(t, res.Bank, eap, "udf"),
	}
	want := map[string]uint64{"event_type0": 0x1, "dest_node": 0, "logical_op": 0x2, "udf": 0xFF}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EAP fields mismatch (-want +got):\n%s", diff)
	}
	r, _ := res.Bank.Register(eap)
	if r.Value() != 0xFF00000018000 {
		t.Errorf("EAP value = %#x", r.Value())
	}
	if r.Comment != "A.eap0" {
		t.Errorf("EAP comment = %q", r.Comment)
	}
	if res.UDF["A.eap0"].Value != 0xFF {
		t.Errorf("UDF table not recorded: %+v", res.UDF)
	}
}

func TestMatchExpandsSignalBits(t *testing.T) {
	res := mustCompile(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        low: debug_signals[7:0] == 0x5A
        hi: ["debug_signals[63:60] == 3", "debug_signals[8] == 1"]
      event_logical_op: low || hi
      next_state_node: A
`)
	if got := field(t, res.Bank, csr.MaskName(0), "value"); got != 0xff {
		t.Errorf("mask0 = %#x, want 0xff", got)
	}
	if got := field(t, res.Bank, csr.MatchName(0), "value"); got != 0x5a {
		t.Errorf("match0 = %#x, want 0x5a", got)
	}
	if got := field(t, res.Bank, csr.MaskName(1), "value"); got != 0xF000000000000100 {
		t.Errorf("mask1 = %#x", got)
	}
	if got := field(t, res.Bank, csr.MatchName(1), "value"); got != 0x3000000000000100 {
		t.Errorf("match1 = %#x", got)
	}
	eap := csr.EAPName(0, 0)
	if got := field(t, res.Bank, eap, "event_type0"); got != 0x2 {
		t.Errorf("event_type0 = %#x, want MATCH_0", got)
	}
	if got := field(t, res.Bank, eap, "event_type1"); got != 0x4 {
		t.Errorf("event_type1 = %#x, want MATCH_1", got)
	}
	if got := field(t, res.Bank, eap, "udf"); got != 0xEE {
		t.Errorf("udf = %#x, want 0xee", got)
	}
}

func TestMatchValueMustFit(t *testing.T) {
	_, err := compileDefault(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers: {big: "debug_signals[3:0] == 16"}
      event_logical_op: big
      next_state_node: A
`)
	if err == nil || !strings.Contains(err.Error(), "not wide enough") {
		t.Fatalf("expected a width error, got %v", err)
	}
	if class, _ := diag.ClassOf(err); class != diag.Structure {
		t.Fatalf("expected a structure error, got %v", class)
	}
}

const fourMatches = `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        m0: debug_signals[0] == 1
        m1: debug_signals[1] == 1
        m2: debug_signals[2] == 1
      event_logical_op: m0 || m1 || m2
      next_state_node: A
    eap1:
      event_triggers:
        m3: debug_signals[3] == 1
        again: debug_signals[0] == 1
      event_logical_op: m3 && again
      next_state_node: A
`

func TestOverlappingConditions(t *testing.T) {
	res := mustCompile(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        same: ["debug_signals[3:0] == 5", "debug_signals[1:0] == 1"]
      event_logical_op: same
      next_state_node: A
`)
	if got := field(t, res.Bank, csr.MaskName(0), "value"); got != 0xf {
		t.Errorf("mask0 = %#x, want 0xf", got)
	}
	if got := field(t, res.Bank, csr.MatchName(0), "value"); got != 0x5 {
		t.Errorf("match0 = %#x, want 0x5", got)
	}

	_, err := compileDefault(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        both: ["debug_signals[1:0] == 1", "debug_signals[1:0] == 2"]
      event_logical_op: both
      next_state_node: A
`)
	if err == nil || !strings.Contains(err.Error(), "expect different values") {
		t.Fatalf("expected contradictory conditions to fail, got %v", err)
	}
	if class, _ := diag.ClassOf(err); class != diag.Consistency {
		t.Errorf("expected a consistency error, got %v", class)
	}
}

func TestMatchRegisterLimit(t *testing.T) {
	res := mustCompile(t, fourMatches)
	if len(res.Alloc.Match) != 4 {
		t.Fatalf("expected 4 match slots, got %d", len(res.Alloc.Match))
	}
	// The repeated condition shares the first slot.
	if got := field(t, res.Bank, csr.EAPName(0, 1), "event_type1"); got != 0x2 {
		t.Errorf("deduplicated event_type1 = %#x, want MATCH_0", got)
	}

	fifth := strings.Replace(fourMatches, "again: debug_signals[0] == 1", "again: debug_signals[4] == 1", 1)
	_, err := compileDefault(t, fifth)
	if err == nil || !strings.Contains(err.Error(), "match/mask registers") {
		t.Fatalf("expected the match register limit to be reported, got %v", err)
	}
	if class, _ := diag.ClassOf(err); class != diag.Resource {
		t.Fatalf("expected a resource error, got %v", class)
	}
}

func TestCounterProgram(t *testing.T) {
	res := mustCompile(t, `
START_NODE: idle
COUNTERS: [spare, hits]
CUSTOM_ACTIONS: {pulse: 0x5}
NODES:
  idle:
    eap0:
      event_triggers:
        hit: debug_signals[0] == 1
      event_logical_op: hit
      actions: [CLOCK_HALT, null, "AUTO_INCREMENT hits", 0x3]
      custom_actions: [pulse]
      next_state_node: counting
  counting:
    eap0:
      event_triggers:
        full: hits == 3
      event_logical_op: full
      actions: [CLEAR hits, STOP_AUTO_INCREMENT spare, INCREMENT hits]
      next_state_node: idle
`)
	if got := field(t, res.Bank, csr.CounterName(1), "target"); got != 3 {
		t.Errorf("hits target = %d, want 3", got)
	}
	if r, _ := res.Bank.Register(csr.CounterName(1)); r.Comment != "hits" {
		t.Errorf("counter comment = %q", r.Comment)
	}

	idle := csr.EAPName(0, 0)
	got := map[string]uint64{}
	for _, f := range []string{"dest_node", "action0", "action1", "action2", "action3", "custom_action_0", "custom_action0_enable", "custom_action1_enable"} {
		got[f] = field(t, res.Bank, idle, f)
	}
	want := map[string]uint64{
		"dest_node":             1,
		"action0":               0x1,
		"action1":               0x0,
		"action2":               0x16,
		"action3":               0x3,
		"custom_action_0":       0x5,
		"custom_action0_enable": 1,
		"custom_action1_enable": 0,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("idle EAP fields mismatch (-want +got):\n%s", diff)
	}

	counting := csr.EAPName(1, 0)
	if got := field(t, res.Bank, counting, "event_type0"); got != 0x13 {
		t.Errorf("counting event_type0 = %#x, want COUNTER_1_EQUAL_TARGET", got)
	}
	for f, want := range map[string]uint64{"action0": 0x15, "action1": 0x13, "action2": 0x14} {
		if got := field(t, res.Bank, counting, f); got != want {
			t.Errorf("counting %s = %#x, want %#x", f, got, want)
		}
	}
}

func TestCounterTargetConflict(t *testing.T) {
	_, err := compileDefault(t, `
START_NODE: A
COUNTERS: [hits]
NODES:
  A:
    eap0:
      event_triggers:
        three: hits == 3
        four: hits > 4
      event_logical_op: three || four
      next_state_node: A
`)
	if err == nil || !strings.Contains(err.Error(), "Multiple target values") {
		t.Fatalf("expected a target conflict, got %v", err)
	}
	if class, _ := diag.ClassOf(err); class != diag.Consistency {
		t.Fatalf("expected a consistency error, got %v", class)
	}
}

func TestEdgeTransitionOnesCountAnyChange(t *testing.T) {
	res := mustCompile(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        rise: posedge debug_signals[9]
        fall: negedge debug_signals[10]
        step: transition(debug_signals[3:0], 1, 2)
      event_logical_op: rise || fall || step
      next_state_node: A
    eap1:
      event_triggers:
        pop: countones(debug_signals[15:8]) == 3
        wiggle: anychange(debug_signals[23:16])
      event_logical_op: pop && wiggle
      next_state_node: A
`)
	b := res.Bank
	edge := map[string]uint64{
		"signal0_select":   field(t, b, csr.EdgeDetect, "signal0_select"),
		"pos_edge_signal0": field(t, b, csr.EdgeDetect, "pos_edge_signal0"),
		"signal1_select":   field(t, b, csr.EdgeDetect, "signal1_select"),
		"pos_edge_signal1": field(t, b, csr.EdgeDetect, "pos_edge_signal1"),
	}
	if diff := cmp.Diff(map[string]uint64{"signal0_select": 9, "pos_edge_signal0": 1, "signal1_select": 10, "pos_edge_signal1": 0}, edge); diff != "" {
		t.Errorf("edge detect mismatch (-want +got):\n%s", diff)
	}

	for reg, want := range map[string]uint64{
		csr.TransitionMask: 0xf,
		csr.TransitionFrom: 0x1,
		csr.TransitionTo:   0x2,
		csr.OnesCountMask:  0xff00,
		csr.OnesCountValue: 3,
	} {
		if got := field(t, b, reg, "value"); got != want {
			t.Errorf("%s = %#x, want %#x", reg, got, want)
		}
	}
	if got := field(t, b, csr.AnyChange, "mask"); got != 0xff0000 {
		t.Errorf("any change mask = %#x", got)
	}

	types := []uint64{
		field(t, b, csr.EAPName(0, 0), "event_type0"),
		field(t, b, csr.EAPName(0, 0), "event_type1"),
		field(t, b, csr.EAPName(0, 0), "event_type2"),
		field(t, b, csr.EAPName(0, 1), "event_type0"),
		field(t, b, csr.EAPName(0, 1), "event_type1"),
	}
	if diff := cmp.Diff([]uint64{0x6, 0x7, 0x8, 0xb, 0xc}, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestEdgeNeedsSingleBit(t *testing.T) {
	_, err := compileDefault(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers: {rise: "posedge debug_signals[1:0]"}
      event_logical_op: rise
      next_state_node: A
`)
	if err == nil || !strings.Contains(err.Error(), "only single bit signals") {
		t.Fatalf("expected a single bit error, got %v", err)
	}
}

func TestOnesCountBeyondWidth(t *testing.T) {
	_, err := compileDefault(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers: {pop: "countones(debug_signals[1:0]) == 3"}
      event_logical_op: pop
      next_state_node: A
`)
	if err == nil || !strings.Contains(err.Error(), "can never have 3") {
		t.Fatalf("expected a ones count error, got %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	_, err := compileDefault(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers: {go: ALWAYS_ON}
      event_logical_op: go
      actions: [MAKE_COFFEE]
      next_state_node: A
`)
	if err == nil || !strings.Contains(err.Error(), `unknown action "MAKE_COFFEE"`) {
		t.Fatalf("expected an unknown action error, got %v", err)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	src := `
START_NODE: A
COUNTERS: [c0]
NODES:
  A:
    eap0:
      event_triggers:
        a: debug_signals[7:0] == 3
        b: c0 == 7
        c: posedge debug_signals[12]
      event_logical_op: (a || b) && !c
      actions: [INCREMENT c0]
      next_state_node: B
  B:
    eap0:
      event_triggers: {go: ALWAYS_ON}
      event_logical_op: go
      next_state_node: A
`
	render := func() string {
		var buf bytes.Buffer
		if err := mustCompile(t, src).Bank.WriteYAML(&buf); err != nil {
			t.Fatal(err)
		}
		return buf.String()
	}
	first := render()
	for i := 0; i < 5; i++ {
		if got := render(); got != first {
			t.Fatalf("compilation %d differs:\n%s", i, cmp.Diff(first, got))
		}
	}
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

const twoLevelProgram = `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        state: lsu.state == 5
        pc: fetch_pc[3:0] == 0xA
        evt: posedge uncore_evt[0]
      event_logical_op: state && pc && evt
      next_state_node: A
`

func TestTwoLevelTopology(t *testing.T) {
	c := New(config.DefaultConfig(), diag.Discard())
	res, err := c.Compile(decodeProgram(t, twoLevelProgram), twoLevel(t), true)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	b := res.Bank
	if b.Len() != 38 {
		t.Fatalf("expected 36 fixed registers and 2 mux selects, got %d", b.Len())
	}

	core, ok := b.Register("CrCsrCdbgmuxsel__ID_1")
	if !ok {
		t.Fatal("core mux select register missing")
	}
	if core.Value() != 0xC00005 {
		t.Errorf("core mux select = %#x, want 0xc00005", core.Value())
	}
	if core.Comment != "lsu.state, fetch_pc[3:0]" {
		t.Errorf("core mux comment = %q", core.Comment)
	}
	top, ok := b.Register("CrCsrCdbgmuxsel__ID_2")
	if !ok {
		t.Fatal("top mux select register missing")
	}
	if top.Value() != 0x10009 {
		t.Errorf("top mux select = %#x, want 0x10009", top.Value())
	}

	if got := field(t, b, csr.MaskName(0), "value"); got != 0xf {
		t.Errorf("mask0 = %#x", got)
	}
	if got := field(t, b, csr.MatchName(1), "value"); got != 0xa00 {
		t.Errorf("match1 = %#x", got)
	}
	if got := field(t, b, csr.EdgeDetect, "signal0_select"); got != 32 {
		t.Errorf("edge select = %d, want 32", got)
	}

	// Lanes 0 and 1 arrive after 3 cycles, lane 4 after 1.
	delay, _ := b.Register(csr.SignalDelay)
	if delay.Value() != 0x200 {
		t.Errorf("signal delay = %#x, want 0x200", delay.Value())
	}
}

func TestDefaultTopologyHasNoMuxSelects(t *testing.T) {
	res := mustCompile(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        x: debug_signals[40] == 1
      event_logical_op: x
      next_state_node: A
`)
	for _, r := range res.Bank.Registers() {
		if strings.Contains(r.Name, "__ID_") {
			t.Fatalf("unexpected mux select register %s", r.Name)
		}
	}
	if delay, _ := res.Bank.Register(csr.SignalDelay); delay.Value() != 0 {
		t.Errorf("single stage delay = %#x, want 0", delay.Value())
	}
}

// Lane 0 of the CLA input carries near (one mux stage) on bits 3:0 and far
// (two mux stages) on bits 7:4.
const skewedTopology = `
CLA Input: cla_debug_in
Debug Mux Instances:
  leaf_mux:
    Debug Bus Output: leaf_dbg
    DbgMuxSelCsr: CrCsrCdbgmuxsel
    DEBUG_MUX_ID: 1
    LANE_WIDTH: 4
    Output Width: 4
    Debug Bus Inputs:
      - Name: far
        Bit Width: 4
        Lane Lower: 0
        Lane Lower Index: 0
        Lane Upper: 0
        Lane Upper Index: 3
  top_mux:
    Debug Bus Output: cla_debug_in
    DbgMuxSelCsr: CrCsrCdbgmuxsel
    DEBUG_MUX_ID: 2
    LANE_WIDTH: 4
    Output Width: 32
    Debug Bus Inputs:
      - Name: near
        Bit Width: 4
        Lane Lower: 0
        Lane Lower Index: 0
        Lane Upper: 0
        Lane Upper Index: 3
      - Name: leaf_dbg
        Bit Width: 4
        Lane Lower: 1
        Lane Lower Index: 0
        Lane Upper: 1
        Lane Upper Index: 3
`

func TestMismatchedLaneDelays(t *testing.T) {
	root, err := document.Parse([]byte(skewedTopology))
	if err != nil {
		t.Fatalf("parse topology: %v", err)
	}
	cat, err := topology.Decode(root, 64, diag.Discard())
	if err != nil {
		t.Fatalf("decode topology: %v", err)
	}
	p := decodeProgram(t, `
START_NODE: A
NODES:
  A:
    eap0:
      event_triggers:
        n: near == 1
        f: far == 2
      event_logical_op: n && f
      next_state_node: A
`)

	var console bytes.Buffer
	log, err := diag.New(diag.Options{Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	res, err := New(config.DefaultConfig(), log).Compile(p, cat, true)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if log.Warnings() != 1 {
		t.Fatalf("expected one warning, got %d:\n%s", log.Warnings(), console.String())
	}
	if !strings.Contains(console.String(), "lane #0 has driving signals with different propagation delays [1 2]") {
		t.Errorf("unexpected warning output %q", console.String())
	}
	delay, _ := res.Bank.Register(csr.SignalDelay)
	if delay.Value() != 0 {
		t.Errorf("signal delay = %#x, want reset value 0", delay.Value())
	}
	if got := field(t, res.Bank, csr.MatchName(0), "value"); got != 0x1 {
		t.Errorf("match0 = %#x, want near on bits 3:0", got)
	}
	if got := field(t, res.Bank, csr.MatchName(1), "value"); got != 0x20 {
		t.Errorf("match1 = %#x, want far on bits 7:4", got)
	}
}
