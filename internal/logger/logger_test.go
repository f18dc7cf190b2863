package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlog_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Service: "streamer"}, &buf)
	log := NewSlog(&zl).With("component", "processor")

	log.Debug("hidden")
	ctx := WithLayer(WithRequestID(context.Background(), "req-1"), "ortho")
	log.WarnContext(ctx, "giving up", "target", 12, "retry_in", 3*time.Second, "err", errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1 (debug filtered)", len(lines))
	}
	m := lines[0]
	want := map[string]any{
		"level": "warn", "msg": "giving up", "service": "streamer", "component": "processor",
		"request_id": "req-1", "layer": "ortho", "err": "boom", "target": float64(12),
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("%s=%v want %v (record %v)", k, m[k], v, m)
		}
	}
	if _, ok := m["retry_in"].(float64); !ok {
		t.Fatalf("retry_in not numeric: %v", m["retry_in"])
	}
}

func TestSlog_Group(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	NewSlog(&zl).WithGroup("cache").Info("stats", "hits", 3)

	m := decodeLines(t, &buf)[0]
	if m["cache.hits"] != float64(3) {
		t.Fatalf("record=%v want cache.hits=3", m)
	}
}

func TestRequestID_Generated(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("id=%q want 16 hex chars", id)
	}
}
