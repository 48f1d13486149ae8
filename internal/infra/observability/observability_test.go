package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"warden/internal/domain/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRunActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.RunFinished(task.StatusCompleted, task.TerminationFinished, 3, 2*time.Second)
	m.RunFinished(task.StatusFailed, task.TerminationMaxTurns, 20, time.Minute)
	m.ActionDispatched(task.KindReadFile, "ok")
	m.ActionDispatched(task.KindReadFile, "ok")
	m.ActionDispatched(task.KindRunCommand, "denied")
	m.PolicyDecision("command", "deny")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("completed", "finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("failed", "max_turns")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.actions.WithLabelValues("readFile", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("runCommand", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyVerdict.WithLabelValues("command", "deny")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runTurns))
}

func TestMustNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.ActionDispatched(task.KindGlob, "ok")
	second.ActionDispatched(task.KindGlob, "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.actions.WithLabelValues("glob", "ok")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunFinished(task.StatusAborted, task.TerminationAborted, 1, time.Second)
		m.ActionDispatched(task.KindFinish, "finished")
		m.PolicyDecision("path", "allow")
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	m.ActionDispatched(task.KindWriteFile, "approval")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `warden_task_actions_total{kind="writeFile",status="approval"} 1`))
}

func TestDisabledTracerProviderIsNoop(t *testing.T) {
	tp, err := NewTracerProvider(context.Background(), TracingConfig{})
	require.NoError(t, err)
	_, span := tp.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported trace exporter")
}
