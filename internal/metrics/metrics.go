// Package metrics exposes boot-run observations as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/orchestrator/runner"
)

const namespace = "stagehand"

// Run results used as the "result" label.
const (
	ResultReady     = "ready"
	ResultCancelled = "cancelled"
)

// Recorder owns a private registry and the collectors a boot run updates.
type Recorder struct {
	registry *prometheus.Registry

	slots        *prometheus.CounterVec
	slotDuration *prometheus.HistogramVec
	progress     *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	generation   prometheus.Gauge
	destroyed    *prometheus.CounterVec
}

// New creates a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		slots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_total",
			Help:      "Progress slots finished, by phase and status.",
		}, []string{"phase", "status"}),
		slotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_setup_seconds",
			Help:      "Time spent in unit Setup.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Last published progress fraction.",
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Boot runs finished, by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Wall time of completed boot runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Current cancellation generation.",
		}),
		destroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_destroyed_total",
			Help:      "Instances torn down, by result.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.slots,
		r.slotDuration,
		r.progress,
		r.runs,
		r.runDuration,
		r.generation,
		r.destroyed,
	)
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// SlotFinished records one finished slot.
func (r *Recorder) SlotFinished(phase string, status runner.SlotStatus, d time.Duration) {
	r.slots.WithLabelValues(phase, string(status)).Inc()
	if status == runner.SlotCompleted || status == runner.SlotFailed {
		r.slotDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// ProgressPublished records the last published fraction.
func (r *Recorder) ProgressPublished(phase string, value float64) {
	r.progress.WithLabelValues(phase).Set(value)
}

// RunStarted records the generation of a new run.
func (r *Recorder) RunStarted(generation uint64) {
	r.generation.Set(float64(generation))
}

// RunFinished records a run's result. Duration is observed for ready runs only.
func (r *Recorder) RunFinished(result string, d time.Duration) {
	r.runs.WithLabelValues(result).Inc()
	if result == ResultReady {
		r.runDuration.Observe(d.Seconds())
	}
}

// InstanceDestroyed records one instance teardown.
func (r *Recorder) InstanceDestroyed(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	r.destroyed.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NopLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
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
