package diag

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerLevelsPerDestination(t *testing.T) {
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "compile.log")

	log, err := New(Options{Console: &console, ConsoleLevel: "warning", File: logPath, FileLevel: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("routing lane 3")
	log.Warn("delay mismatch")
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if strings.Contains(console.String(), "routing lane 3") {
		t.Fatalf("debug message leaked to console: %q", console.String())
	}
	if !strings.Contains(console.String(), "delay mismatch") {
		t.Fatalf("expected warning on console, got %q", console.String())
	}
	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "routing lane 3") || !strings.Contains(string(raw), "delay mismatch") {
		t.Fatalf("expected both messages in log file, got %q", raw)
	}
	if log.Warnings() != 1 {
		t.Fatalf("expected 1 warning counted, got %d", log.Warnings())
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{ConsoleLevel: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestErrorLocationAndClass(t *testing.T) {
	base := Errorf(Syntax, "could not parse %q", "sig ==")
	located := Locate("A.eap0.ev0", base)

	if got := located.Error(); got != `syntax error at A.eap0.ev0: could not parse "sig =="` {
		t.Fatalf("unexpected message %q", got)
	}
	if base.Location != "" {
		t.Fatalf("Locate must not mutate the original error")
	}

	wrapped := fmt.Errorf("compiling program: %w", located)
	class, ok := ClassOf(wrapped)
	if !ok || class != Syntax {
		t.Fatalf("expected Syntax class through wrapping, got %v (ok=%v)", class, ok)
	}

	already := At(Resource, "A.eap1", "no slots")
	if Locate("B.eap0", already).Error() != already.Error() {
		t.Fatalf("Locate must keep an existing location")
	}

	plain := errors.New("boom")
	if c, _ := ClassOf(Locate("X", plain)); c != Syntax {
		t.Fatalf("expected plain errors to be located as Syntax, got %v", c)
	}
	if !errors.Is(Locate("X", plain), plain) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
}
