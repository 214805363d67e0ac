package csr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
)

func TestNewBankHasFixedRegisterSet(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	if b.Len() != 36 {
		t.Fatalf("expected 36 registers, got %d", b.Len())
	}
	for _, name := range []string{"dbg_cla_counter3_cfg", "dbg_node3_eap3", "dbg_signal_match3", EdgeDetect, AnyChange, SignalDelay} {
		if _, ok := b.Register(name); !ok {
			t.Errorf("register %s missing", name)
		}
	}
	if first := b.Registers()[0].Name; first != "dbg_cla_counter0_cfg" {
		t.Fatalf("expected counters first, got %s", first)
	}
}

func TestRegisterPacking(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	eap := EAPName(0, 0)
	must(t, b.Set(eap, "dest_node", 1, "A"))
	must(t, b.Set(eap, "action0", 2, ""))
	must(t, b.Set(eap, "udf", 0xFF, ""))
	r, _ := b.Register(eap)
	want := uint64(0xFF)<<44 | 2<<2 | 1
	if r.Value() != want {
		t.Fatalf("value = %#x, want %#x", r.Value(), want)
	}

	must(t, b.Set(CounterName(1), "target", 0xBEEF, ""))
	c, _ := b.Register(CounterName(1))
	if c.Value() != 0xBEEF<<16 {
		t.Fatalf("counter value = %#x", c.Value())
	}

	must(t, b.Set(AnyChange, "mask", ^uint64(0), ""))
	a, _ := b.Register(AnyChange)
	if a.Value() != ^uint64(0) {
		t.Fatalf("any change value = %#x", a.Value())
	}
}

func TestSetRejectsOverflow(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	err := b.Set(EAPName(1, 2), "dest_node", 4, "")
	if err == nil || !strings.Contains(err.Error(), "not wide enough") {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if err := b.Set(EAPName(1, 2), "nope", 0, ""); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if err := b.Set("dbg_nope", "value", 0, ""); err == nil {
		t.Fatalf("expected unknown register error")
	}
}

func TestAddMuxSelect(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	r, err := b.AddMuxSelect("CrCsrCdbgmuxsel", 3)
	if err != nil {
		t.Fatalf("AddMuxSelect: %v", err)
	}
	if r.Name != "CrCsrCdbgmuxsel__ID_3" || r.Value() != 3<<2|1 {
		t.Fatalf("unexpected mux select %s = %#x", r.Name, r.Value())
	}
	if _, err := b.AddMuxSelect("CrCsrCdbgmuxsel", 3); err == nil {
		t.Fatalf("expected duplicate (CSR, ID) error")
	}
	if b.Len() != 37 {
		t.Fatalf("expected 37 registers, got %d", b.Len())
	}
}

func TestWriteCSV(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	must(t, b.Set(CounterName(0), "target", 10, ""))
	var buf bytes.Buffer
	must(t, b.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 37 {
		t.Fatalf("expected header plus 36 rows, got %d", len(lines))
	}
	if diff := cmp.Diff([]string{"mmr_name,hex_value", "dbg_cla_counter0_cfg,0xa0000"}, lines[:2]); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
	if lines[36] != "dbg_signal_delay_mux_sel,0x0" {
		t.Fatalf("expected the delay register last, got %s", lines[36])
	}
}

func TestWriteAPB(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	must(t, b.Set(MatchName(0), "value", 0x1234_0000_00ff, ""))
	addrs := map[string]uint64{MatchName(0): 0x3168, CounterName(0): 0x3100}
	var buf bytes.Buffer
	skipped, err := b.WriteAPB(&buf, func(reg string) (uint64, bool) {
		a, ok := addrs[reg]
		return a, ok
	})
	if err != nil {
		t.Fatalf("WriteAPB: %v", err)
	}
	want := "write 0x3100 0x0 f\nwrite 0x3104 0x0 f\nwrite 0x3168 0xff f\nwrite 0x316c 0x1234 f\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("APB traffic mismatch (-want +got):\n%s", diff)
	}
	if len(skipped) != 34 {
		t.Fatalf("expected 34 registers without an address, got %d", len(skipped))
	}
}

func TestWriteYAML(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	eap := EAPName(0, 0)
	must(t, b.Comment(eap, "A.eap0"))
	must(t, b.Set(eap, "event_type0", 1, "(ALWAYS)"))
	must(t, b.Set(eap, "udf", 0xFF, "go"))

	var buf bytes.Buffer
	must(t, b.WriteYAML(&buf))
	out := buf.String()

	var parsed map[string]struct {
		Fields map[string]uint64 `yaml:"fields"`
		Value  uint64            `yaml:"value"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("dump does not parse back: %v\n%s", err, out)
	}
	if len(parsed) != 36 {
		t.Fatalf("expected 36 registers, got %d", len(parsed))
	}
	got := parsed[eap]
	if got.Fields["udf"] != 0xFF || got.Fields["event_type0"] != 1 || got.Value != uint64(0xFF)<<44|1<<16 {
		t.Fatalf("unexpected %s: %+v", eap, got)
	}

	if !strings.HasPrefix(out, "dbg_any_change:") {
		t.Fatalf("expected registers sorted by name, dump starts with %q", out[:40])
	}
	if !lineContains(out, "dbg_node0_eap0:", "# A.eap0") || !lineContains(out, "event_type0:", "# (ALWAYS)") {
		t.Fatalf("comments missing from dump:\n%s", out)
	}
	if strings.Contains(out, "'0x") || strings.Contains(out, "\"0x") {
		t.Fatalf("hex values should not be quoted:\n%s", out)
	}

	var again bytes.Buffer
	must(t, b.WriteYAML(&again))
	if again.String() != out {
		t.Fatalf("dump is not deterministic")
	}
}

func TestDump(t *testing.T) {
	b := NewBank(config.DefaultHardware())
	must(t, b.Set(OnesCountValue, "value", 3, ""))
	d := b.Dump()
	if d[OnesCountValue].Value != 3 || d[OnesCountValue].Fields["value"] != 3 {
		t.Fatalf("unexpected dump entry %+v", d[OnesCountValue])
	}
}

func lineContains(text, prefix, want string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) && strings.Contains(line, want) {
			return true
		}
	}
	return false
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
