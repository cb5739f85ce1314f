package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"trace": LevelTrace,
		"DEBUG": LevelDebug,
		"":      LevelInfo,
		"warn":  LevelWarn,
		"panic": LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("info record should be filtered: %s", got)
	}
	if !strings.Contains(got, "shown 2") {
		t.Fatalf("warn record missing: %s", got)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetFormat("json")
	defer func() {
		SetFormat("text")
		SetOutput(nil)
	}()

	Error("boom")
	if !strings.Contains(buf.String(), `"msg":"boom"`) {
		t.Fatalf("expected json record, got %s", buf.String())
	}
}
