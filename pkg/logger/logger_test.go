package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithOutput("info", "json", &buf); err != nil {
		t.Fatalf("init: %v", err)
	}

	WithFields(Fields{"workspace_id": "ws-1"}).Info("submission failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["msg"] != "submission failed" || entry["workspace_id"] != "ws-1" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithOutput("warn", "text", &buf); err != nil {
		t.Fatalf("init: %v", err)
	}

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestUnknownLevel(t *testing.T) {
	if err := InitWithOutput("verbose", "text", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
