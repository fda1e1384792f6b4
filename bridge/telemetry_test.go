package bridge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/chazu/custody/vm"
)

func TestMetricsCountDispositions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("custody", reg)
	rt := newFakeRuntime()
	Install(rt, WithMetrics(m))

	restored := rt.raise(t, vm.FromExceptionID(2))
	cleared := rt.raise(t, vm.FromExceptionID(3))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.live))

	require.NoError(t, restored.Restore())
	_ = restored.Restore()
	cleared.Release()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.raisedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disposedTotal.WithLabelValues("restored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disposedTotal.WithLabelValues("cleared")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misuseTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.live))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.raised()
		m.disposed(Cleared)
		m.misused()
	})
}

func TestCapsuleLifetimeIsOneSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	rt := newFakeRuntime()
	Install(rt, WithTracerProvider(tp))

	c := rt.raise(t, vm.FromExceptionID(4))
	assert.Empty(t, sr.Ended(), "span stays open while custody is pending")

	c.Release()
	c.Release()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "custody.capsule", spans[0].Name())

	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "cleared", attrs["custody.disposition"])
	assert.Equal(t, "exception#4", attrs["custody.ref"])
	assert.Equal(t, c.ID().String(), attrs["custody.capsule"])
}
