package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		log, err := New(tt.level, "text")
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.level, err)
		}
		if log.GetLevel() != tt.want {
			t.Errorf("New(%q) level = %s, want %s", tt.level, log.GetLevel(), tt.want)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "text"); err == nil {
		t.Error("New() should reject an unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("New() should reject an unknown format")
	}
}

func TestNewWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOutput("info", "json", &buf)
	if err != nil {
		t.Fatalf("NewWithOutput() error = %v", err)
	}

	log.WithField("address", "AA:BB").Info("[BLE] connected")
	log.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "[BLE] connected" {
		t.Errorf("msg = %v, want [BLE] connected", entry["msg"])
	}
	if entry["address"] != "AA:BB" {
		t.Errorf("address = %v, want AA:BB", entry["address"])
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "blexplorer.log")
	log, err := New("info", "text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	closer, err := OpenFile(log, path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	log.Info("[BLE] scanning")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[BLE] scanning") {
		t.Errorf("log file = %q, want it to contain the message", data)
	}
}
