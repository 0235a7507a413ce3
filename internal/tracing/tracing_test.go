package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEnd_RecordsStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tr := FromProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))

	ctx, parent := tr.Start(context.Background(), "batch", map[string]string{"batch.id": "b1"})
	_, child := tr.Start(ctx, "consequence.approve-edit", nil)
	child.End(errors.New("conflict"))
	parent.End(nil)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "consequence.approve-edit", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	assert.Equal(t, "batch", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	require.Len(t, spans[1].Attributes(), 1)
	assert.Equal(t, "b1", spans[1].Attributes()[0].Value.AsString())
}

func TestNewStdout_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")

	tr, err := NewStdout("modq", "test", path)
	require.NoError(t, err)

	_, span := tr.Start(context.Background(), "test", map[string]string{"k": "v"})
	span.End(nil)
	require.NoError(t, tr.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"test"`)
}

func TestNoop(t *testing.T) {
	tr := Noop()
	_, span := tr.Start(context.Background(), "x", nil)
	span.SetAttributes(map[string]string{"a": "b"})
	span.End(nil)
	assert.NoError(t, tr.Shutdown(context.Background()))
}
