package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if got != tc.want || (err == nil) != tc.ok {
			t.Fatalf("ParseLevel(%q) = %v, %v", tc.in, got, err)
		}
	}
}

func TestNewWriterAttributesAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "chunkcastd", "warn")
	log.Info("hidden")
	log.Warn("shown", "file", "a.bin")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record passed a warn logger: %s", out)
	}
	for _, want := range []string{"msg=shown", "app=chunkcastd", "pid=", "file=a.bin"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %s", want, out)
		}
	}
}
