package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"caller fields",
			`{"data":{"callerName":"Ada Lovelace","callerPhone":"+447700900123","callerAvatar":"https://cdn.example.org/u/42.jpg"}}`,
			`{"data":{"callerName":"Test Caller","callerPhone":"+15550001234","callerAvatar":"https://example.com/avatar.png"}}`,
		},
		{
			"token and ip",
			`{"token": "abc123", "origin":"192.168.1.20", "local":"127.0.0.1"}`,
			`{"token": "REDACTED", "origin":"10.0.0.1", "local":"127.0.0.1"}`,
		},
		{
			"untouched",
			`{"data":{"type":"call.started","callId":"c-1"}}`,
			`{"data":{"type":"call.started","callId":"c-1"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLine(tt.in); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSanitizeFileKeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.jsonl")
	orig := `{"data":{"callerPhone":"07700900123"}}` + "\n"
	if err := os.WriteFile(path, []byte(orig), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := sanitizeFile(path); err != nil {
		t.Fatalf("sanitize: %v", err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(bak) != orig {
		t.Errorf("expected backup to hold the original, got %q", bak)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(got), "07700900123") {
		t.Errorf("expected phone number redacted, got %q", got)
	}
}
