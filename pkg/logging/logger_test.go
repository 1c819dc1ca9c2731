package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
)

func newTestLogger(t *testing.T, format string) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == "json" {
		handler = slog.NewJSONHandler(buf, opts)
	} else {
		handler = slog.NewTextHandler(buf, opts)
	}
	return &Logger{Logger: slog.New(handler), cfg: &Config{Format: format}}, buf
}

func TestWithErrorIncludesKind(t *testing.T) {
	l, buf := newTestLogger(t, "json")
	l.WithError(lcerr.New(lcerr.InvalidJustification, "bad signature")).Error("verification failed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["error_kind"] != string(lcerr.InvalidJustification) {
		t.Fatalf("got error_kind %v, want %v", line["error_kind"], lcerr.InvalidJustification)
	}
}

func TestWithComponentTagsLines(t *testing.T) {
	l, buf := newTestLogger(t, "text")
	l.WithComponent("grandpa").Info("verifying justification")
	if !strings.Contains(buf.String(), "component=grandpa") {
		t.Fatalf("expected component field in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = (%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
