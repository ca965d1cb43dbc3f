package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "auditctl", "warn")

	logger.Info("hidden")
	logger.Warn("sweep_budget_exhausted", "processed", 3)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "auditctl" || entry["msg"] != "sweep_budget_exhausted" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
