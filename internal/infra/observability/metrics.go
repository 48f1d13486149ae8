// Package observability exposes the Prometheus collectors and OpenTelemetry
// tracer provider used by warden runs.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"warden/internal/domain/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "warden"
	subsystem = "task"
)

// Metrics records task run activity. It implements task.Recorder.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runTurns      prometheus.Histogram
	actions       *prometheus.CounterVec
	policyVerdict *prometheus.CounterVec
}

var _ task.Recorder = (*Metrics)(nil)

// MustNewMetrics registers the task collectors with reg. Collectors that are
// already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Finished task runs by final status and termination reason.",
		},
		[]string{"status", "reason"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of task runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)
	runTurns := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_turns",
			Help:      "Model turns consumed per task run.",
			Buckets:   prometheus.LinearBuckets(1, 2, 15),
		},
	)
	actions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actions_total",
			Help:      "Dispatched actions by kind and outcome.",
		},
		[]string{"kind", "status"},
	)
	policyVerdict := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "policy_decisions_total",
			Help:      "Execution policy decisions by subject and verdict.",
		},
		[]string{"subject", "verdict"},
	)

	collectors := []prometheus.Collector{runs, runDuration, runTurns, actions, policyVerdict}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
			switch collector {
			case runs:
				runs = already.ExistingCollector.(*prometheus.CounterVec)
			case actions:
				actions = already.ExistingCollector.(*prometheus.CounterVec)
			case policyVerdict:
				policyVerdict = already.ExistingCollector.(*prometheus.CounterVec)
			case runDuration:
				runDuration = already.ExistingCollector.(*prometheus.HistogramVec)
			case runTurns:
				runTurns = already.ExistingCollector.(prometheus.Histogram)
			}
		}
	}

	return &Metrics{
		runs:          runs,
		runDuration:   runDuration,
		runTurns:      runTurns,
		actions:       actions,
		policyVerdict: policyVerdict,
	}
}

func (m *Metrics) RunFinished(status task.Status, reason task.TerminationReason, turns int, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status), string(reason)).Inc()
	m.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	m.runTurns.Observe(float64(turns))
}

func (m *Metrics) ActionDispatched(kind task.Kind, status string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(kind), status).Inc()
}

func (m *Metrics) PolicyDecision(subject, verdict string) {
	if m == nil {
		return
	}
	m.policyVerdict.WithLabelValues(subject, verdict).Inc()
}

// Handler serves the collectors of gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
