// Package telemetry exports poller activity as Prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "dockhand"

// Metrics records poller outcomes. It implements poller.Observer.
type Metrics struct {
	reg *prometheus.Registry

	probes      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	consecutive *prometheus.GaugeVec
	active      *prometheus.GaugeVec
	pauses      *prometheus.CounterVec
}

// New creates Metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "probes_total",
			Help:      "Probe invocations by outcome.",
		}, []string{"poller", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "probe_duration_seconds",
			Help:      "Probe invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"poller"}),
		consecutive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "consecutive_errors",
			Help:      "Failures since the last successful probe.",
		}, []string{"poller"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active",
			Help:      "1 while the poller reschedules itself, 0 when paused.",
		}, []string{"poller"}),
		pauses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "pauses_total",
			Help:      "Pauses by cause.",
		}, []string{"poller", "cause"}),
	}
}

func (m *Metrics) ProbeSucceeded(name string, elapsed time.Duration) {
	m.probes.WithLabelValues(name, "success").Inc()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	m.consecutive.WithLabelValues(name).Set(0)
}

func (m *Metrics) ProbeFailed(name string, elapsed time.Duration, consecutive int) {
	m.probes.WithLabelValues(name, "failure").Inc()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	m.consecutive.WithLabelValues(name).Set(float64(consecutive))
}

func (m *Metrics) Paused(name string, auto bool) {
	cause := "manual"
	if auto {
		cause = "errors"
	}
	m.pauses.WithLabelValues(name, cause).Inc()
	m.active.WithLabelValues(name).Set(0)
}

func (m *Metrics) Resumed(name string) {
	m.active.WithLabelValues(name).Set(1)
	m.consecutive.WithLabelValues(name).Set(0)
}

// MarkActive records a poller that starts out scheduled.
func (m *Metrics) MarkActive(name string) {
	m.active.WithLabelValues(name).Set(1)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
