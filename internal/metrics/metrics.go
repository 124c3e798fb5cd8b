package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cvt2bids/internal/services"
)

const namespace = "cvt2bids"

// Recorder collects the counters of one conversion run.
type Recorder struct {
	registry     *prometheus.Registry
	jobs         *prometheus.CounterVec
	created      prometheus.Gauge
	sidecars     prometheus.Gauge
	duration     prometheus.Gauge
	lastFinished prometheus.Gauge
}

// NewRecorder registers the run metrics on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "dcm2bids invocations by outcome.",
		}, []string{"outcome"}),
		created: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_created",
			Help:      "Participants added to the registry by the last run.",
		}),
		sidecars: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sidecars_read",
			Help:      "JSON sidecars aggregated by the last run.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	r.registry.MustRegister(r.jobs, r.created, r.sidecars, r.duration, r.lastFinished)
	for _, outcome := range []string{
		services.OutcomeConverted,
		services.OutcomeFailed,
		services.OutcomeTimeout,
		services.OutcomeSkipped,
		services.OutcomeCanceled,
	} {
		r.jobs.WithLabelValues(outcome)
	}
	return r
}

// ObserveJob counts one job outcome.
func (r *Recorder) ObserveJob(outcome string) {
	r.jobs.WithLabelValues(outcome).Inc()
}

// SetParticipantsCreated records how many registry rows the run added.
func (r *Recorder) SetParticipantsCreated(n int) {
	r.created.Set(float64(n))
}

// SetSidecarsRead records how many sidecars were aggregated.
func (r *Recorder) SetSidecarsRead(n int) {
	r.sidecars.Set(float64(n))
}

// Finish stamps the run duration and completion time.
func (r *Recorder) Finish(started, finished time.Time) {
	r.duration.Set(finished.Sub(started).Seconds())
	r.lastFinished.Set(float64(finished.Unix()))
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile atomically writes the metrics in the node exporter
// textfile format. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
