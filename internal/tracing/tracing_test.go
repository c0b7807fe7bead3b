package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanHelpers(t *testing.T) {
	tracer := mocktracer.New()
	prev := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(prev)

	span, ctx := StartSpan(context.Background(), "extract.run")
	child, _ := StartSpan(ctx, "frame.save")
	SetTag(child, "frame", 30)
	LogError(child, errors.New("disk full"))
	FinishSpan(child)
	FinishSpan(span)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	assert.Equal(t, "frame.save", finished[0].OperationName)
	assert.Equal(t, 30, finished[0].Tag("frame"))
	assert.Equal(t, true, finished[0].Tag("error"))
	assert.Equal(t, finished[1].SpanContext.SpanID, finished[0].ParentID)
}

func TestNilSpanHelpers(t *testing.T) {
	FinishSpan(nil)
	SetTag(nil, "k", "v")
	LogError(nil, errors.New("ignored"))
}

func TestSetupDisabled(t *testing.T) {
	closer, err := Setup(false, "frameflow", "")
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}
