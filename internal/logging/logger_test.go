package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWithWriter_JSONOutsideLocal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "info")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	logger.Info().Str("paper_uid", "0811.3648").Msg("paper imported")

	line := buf.String()
	if !strings.Contains(line, `"service":"paperfeed"`) {
		t.Fatalf("expected service field in %q", line)
	}
	if !strings.Contains(line, `"paper_uid":"0811.3648"`) {
		t.Fatalf("expected paper_uid field in %q", line)
	}
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "warn")
	if err != nil {
		t.Fatalf("NewWithWriter failed: %v", err)
	}
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %q", buf.String())
	}
}

func TestNewWithWriter_InvalidLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewWithWriter(&bytes.Buffer{}, "local", "loud"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}
