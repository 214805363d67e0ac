package regdump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/robert-at-pretension-io/cla-compiler/internal/config"
	"github.com/robert-at-pretension-io/cla-compiler/internal/csr"
)

func bank(t *testing.T) *csr.Bank {
	t.Helper()
	b := csr.NewBank(config.DefaultHardware())
	if err := b.Set(csr.MatchName(0), "value", 0xFFFFFFFFFFFFFFFF, "all ones"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(csr.EAPName(0, 0), "udf", 0xAA, "a"); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestReadRoundTripsBank(t *testing.T) {
	b := bank(t)
	var buf bytes.Buffer
	if err := b.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(FromBank(b), got); diff != "" {
		t.Fatalf("dump mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRejectsMalformedDump(t *testing.T) {
	_, err := Read(strings.NewReader("dbg_any_change:\n  fields: [1, 2]\n  value: 0x0\n"))
	if err == nil || !strings.Contains(err.Error(), "dbg_any_change") {
		t.Fatalf("expected an error naming the register, got %v", err)
	}
}

func TestCompute(t *testing.T) {
	prev := FromBank(bank(t))

	b := bank(t)
	if err := b.Set(csr.EAPName(0, 0), "udf", 0x88, "a && b"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(csr.EAPName(0, 0), "dest_node", 1, "B"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddMuxSelect("CrCsrCdbgmuxsel", 1); err != nil {
		t.Fatal(err)
	}
	next := FromBank(b)
	delete(next, csr.AnyChange)

	d := Compute(prev, next)
	want := Delta{
		Added:   []string{"CrCsrCdbgmuxsel__ID_1"},
		Removed: []string{csr.AnyChange},
		Changed: []Change{
			{Register: "dbg_node0_eap0", Field: "dest_node", Old: "0x0", New: "0x1"},
			{Register: "dbg_node0_eap0", Field: "udf", Old: "0xaa", New: "0x88"},
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", diff)
	}
	if d.Empty() {
		t.Fatal("delta reported empty")
	}
	if !Compute(prev, prev).Empty() {
		t.Fatal("identical dumps produced a delta")
	}
}

func TestComputeFieldOnOneSide(t *testing.T) {
	prev := Dump{"r": {Name: "r", Fields: map[string]uint64{"a": 1}, Value: 1}}
	next := Dump{"r": {Name: "r", Fields: map[string]uint64{"b": 1}, Value: 1}}
	want := []Change{
		{Register: "r", Field: "a", Old: "0x1"},
		{Register: "r", Field: "b", New: "0x1"},
	}
	if diff := cmp.Diff(want, Compute(prev, next).Changed); diff != "" {
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
}
