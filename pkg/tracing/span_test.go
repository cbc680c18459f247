package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansShareTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "generate", "req-1")
	_, child := StartChildSpan(ctx, "summarize")
	child.SetAttr("sentences", 5)
	child.End()
	root.End()

	got := root.Child("summarize")
	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.TraceID)
	assert.Equal(t, 5, got.Attrs["sentences"])
	assert.Nil(t, root.Child("missing"))
	assert.Same(t, root, SpanFromContext(ctx))
}

func TestLogWritesTreeAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := StartSpan(context.Background(), "generate", "req-2")
	_, child := StartChildSpan(ctx, "keywords")
	child.End()
	root.End()
	root.Log(logger)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "msg=span"))
	assert.Contains(t, out, "span=keywords")
	assert.Contains(t, out, "depth=1")
}
