package production

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/comalice/teax"
)

const metricsNamespace = "teax"

// PrometheusObserver exports runtime activity as Prometheus metrics. Register
// it with teax.WithObserver.
type PrometheusObserver struct {
	component string

	ActivationsTotal   *prometheus.CounterVec
	ActiveActivations  *prometheus.GaugeVec
	SnapshotsTotal     *prometheus.CounterVec
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
}

// NewPrometheusObserver registers the runtime metrics with reg. component is
// the value of the "component" label on every series.
func NewPrometheusObserver(reg prometheus.Registerer, component string) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		component: component,
		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "activations_total",
			Help:      "Activations by terminal status (started, stopped, failed)",
		}, []string{"component", "status"}),
		ActiveActivations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "active_activations",
			Help:      "Activations currently running",
		}, []string{"component"}),
		SnapshotsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "snapshots_total",
			Help:      "Snapshots emitted by kind",
		}, []string{"component", "kind"}),
		ResolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Finished resolutions by status (success, error)",
		}, []string{"component", "status"}),
		ResolutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "resolver",
			Name:      "duration_seconds",
			Help:      "Resolution latency in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"component"}),
	}
}

func (o *PrometheusObserver) ActivationStarted(context.Context, string) {
	o.ActivationsTotal.WithLabelValues(o.component, "started").Inc()
	o.ActiveActivations.WithLabelValues(o.component).Inc()
}

func (o *PrometheusObserver) ActivationStopped(_ context.Context, _ string, err error) {
	status := "stopped"
	if err != nil {
		status = "failed"
	}
	o.ActivationsTotal.WithLabelValues(o.component, status).Inc()
	o.ActiveActivations.WithLabelValues(o.component).Dec()
}

func (o *PrometheusObserver) SnapshotEmitted(_ context.Context, _ string, kind teax.SnapshotKind) {
	o.SnapshotsTotal.WithLabelValues(o.component, kind.String()).Inc()
}

func (o *PrometheusObserver) ResolutionStarted(ctx context.Context, _ string, _ any) context.Context {
	return ctx
}

func (o *PrometheusObserver) ResolutionFinished(_ context.Context, _ string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.ResolutionsTotal.WithLabelValues(o.component, status).Inc()
	o.ResolutionDuration.WithLabelValues(o.component).Observe(d.Seconds())
}

var _ teax.Observer = (*PrometheusObserver)(nil)
