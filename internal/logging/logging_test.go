package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"text":  FormatText,
		"TINT":  FormatText,
		"human": FormatText,
		"json":  FormatJSON,
		" JSON": FormatJSON,
		"":      FormatAuto,
		"xml":   FormatAuto,
	}
	for in, want := range cases {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandlerJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	if IsTTY(&buf) {
		t.Fatal("buffer reported as a terminal")
	}
	log := slog.New(NewHandler(&buf, FormatAuto, slog.LevelInfo))
	log.Debug("hidden")
	log.Info("session registered", "total", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not a single JSON record: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "session registered" || rec["total"] != float64(2) {
		t.Fatalf("record = %v", rec)
	}
}

func TestNewHandlerTextForced(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, FormatText, slog.LevelDebug)).Debug("poll")
	if buf.Len() == 0 {
		t.Fatal("nothing written")
	}
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatal("text format produced JSON")
	}
}
