package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "search", "req-1")
	childCtx, fanout := StartChildSpan(ctx, "fanout")
	fanout.SetAttr("keywords", 3)
	_, page := StartChildSpan(childCtx, "page")
	page.End()
	fanout.End()
	root.End()

	if len(root.Children) != 1 || root.Children[0] != fanout {
		t.Fatalf("root children = %v", root.Children)
	}
	if page.TraceID != "req-1" {
		t.Errorf("trace id not propagated: %q", page.TraceID)
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	out := buf.String()
	for _, want := range []string{"span=search", "span=fanout", "span=page", "keywords=3", "depth=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestEndIsIdempotent(t *testing.T) {
	_, s := StartSpan(context.Background(), "x", "")
	s.End()
	first := s.Duration
	s.End()
	if s.Duration != first {
		t.Errorf("duration changed on second End: %v -> %v", first, s.Duration)
	}
}

func TestChildWithoutParent(t *testing.T) {
	ctx, s := StartChildSpan(context.Background(), "orphan")
	if SpanFromContext(ctx) != s {
		t.Error("child span not stored in context")
	}
	if s.TraceID != "" {
		t.Errorf("orphan trace id = %q", s.TraceID)
	}
}
