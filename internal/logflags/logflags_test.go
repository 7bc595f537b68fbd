package logflags

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// TestSetup verifies level parsing and the wire switch
func TestSetup(t *testing.T) {
	defer func() {
		_ = Setup("info", false)
		SetOutput(os.Stderr)
	}()

	if err := Setup("verbose", false); err == nil {
		t.Error("expected error for unknown level")
	}

	var buf bytes.Buffer
	SetOutput(&buf)
	if err := Setup("warn", false); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	log := SessionLogger()
	log.Info("hidden")
	log.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") || !strings.Contains(buf.String(), "layer=session") {
		t.Errorf("expected tagged warning, got %q", buf.String())
	}

	buf.Reset()
	if err := Setup("info", true); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !Wire() {
		t.Error("expected wire logging enabled")
	}
	SupervisorLogger().Debug("-> process continue")
	if !strings.Contains(buf.String(), "process continue") {
		t.Errorf("wire logging should lower the level to debug, got %q", buf.String())
	}
}
