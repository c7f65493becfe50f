package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)

	logger.WithFields(map[string]interface{}{
		"chain": "polygon",
	}).WithError(errors.New("upstream 503")).Warn("chain fetch failed")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry.Level != "warn" || entry.Message != "chain fetch failed" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["chain"] != "polygon" || entry.Fields["error"] != "upstream 503" {
		t.Errorf("fields = %v", entry.Fields)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput(LevelWarn, FormatText, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below level were written: %s", out)
	}
	if !strings.Contains(out, "warn: shown") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestChildDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithOutput(LevelInfo, FormatJSON, &buf)
	_ = parent.WithField("requestId", "abc")

	parent.Info("plain")
	if strings.Contains(buf.String(), "requestId") {
		t.Error("parent logger picked up child field")
	}
}

func TestFromContext(t *testing.T) {
	fallback := Nop()
	if FromContext(context.Background(), fallback) != fallback {
		t.Error("expected fallback logger")
	}

	scoped := Nop().WithField("requestId", "r-1")
	ctx := WithLogger(context.Background(), scoped)
	if FromContext(ctx, fallback) != scoped {
		t.Error("expected context logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if ParseLogFormat("text") != FormatText || ParseLogFormat("xml") != FormatJSON {
		t.Error("ParseLogFormat mismatch")
	}
}
