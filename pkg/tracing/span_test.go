package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSpanTree(t *testing.T) {
	ctx, root := Start(context.Background(), "build")
	_, load := Start(ctx, "load")
	load.End(nil)
	childCtx, write := Start(ctx, "write")
	_, fsync := Start(childCtx, "fsync")
	fsync.End(nil)
	write.End(errors.New("disk full"))
	root.SetAttr("docs", 3)
	root.End(nil)

	if root.TraceID == "" || load.TraceID != root.TraceID || fsync.TraceID != root.TraceID {
		t.Fatalf("trace ids differ: %s %s %s", root.TraceID, load.TraceID, fsync.TraceID)
	}
	if got := len(root.Children()); got != 2 {
		t.Fatalf("root has %d children, want 2", got)
	}
	if got := write.Children(); len(got) != 1 || got[0] != fsync {
		t.Errorf("write children = %v", got)
	}
	if write.Err() == nil || load.Err() != nil {
		t.Error("span errors not recorded")
	}
	if FromContext(childCtx) != write {
		t.Error("context does not carry the child span")
	}

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewJSONHandler(&buf, nil)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("logged %d spans, want 4:\n%s", len(lines), buf.String())
	}
	wantOrder := []string{"build", "load", "write", "fsync"}
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatal(err)
		}
		if rec["span"] != wantOrder[i] {
			t.Errorf("line %d span = %v, want %s", i, rec["span"], wantOrder[i])
		}
		if rec["span"] == "write" && (rec["level"] != "WARN" || rec["error"] != "disk full") {
			t.Errorf("failed span logged as %v", rec)
		}
		if rec["span"] == "build" && rec["docs"] != float64(3) {
			t.Errorf("root attrs = %v", rec)
		}
	}
}

func TestFromContextEmpty(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("span found in empty context")
	}
}
