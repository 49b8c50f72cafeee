package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of a cibox process.
//
// All recording methods accept a nil receiver so components can be wired
// without metrics in tests.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram

	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	JobsRunning prometheus.Gauge

	ImageBuilds        *prometheus.CounterVec
	ImageBuildDuration prometheus.Histogram
	ImageCacheHits     prometheus.Counter
	ImageCacheMisses   prometheus.Counter
	ImagePushes        *prometheus.CounterVec

	ArtifactsStored prometheus.Counter
	ArtifactBytes   prometheus.Counter

	ContainersReaped prometheus.Counter
}

var durationBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cibox_runs_total",
				Help: "Total number of pipeline runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cibox_run_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs",
				Buckets: durationBuckets,
			},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cibox_jobs_total",
				Help: "Total number of jobs by terminal state",
			},
			[]string{"state"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cibox_job_duration_seconds",
				Help:    "Container execution time of jobs",
				Buckets: durationBuckets,
			},
			[]string{"state"},
		),
		JobsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cibox_jobs_running",
				Help: "Number of jobs currently executing",
			},
		),
		ImageBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cibox_image_builds_total",
				Help: "Total number of image builds by result",
			},
			[]string{"result"},
		),
		ImageBuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cibox_image_build_duration_seconds",
				Help:    "Duration of image builds",
				Buckets: durationBuckets,
			},
		),
		ImageCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cibox_image_cache_hits_total",
				Help: "Image resolutions served from the cache",
			},
		),
		ImageCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cibox_image_cache_misses_total",
				Help: "Image resolutions that required a build",
			},
		),
		ImagePushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cibox_image_pushes_total",
				Help: "Registry pushes by result",
			},
			[]string{"result"},
		),
		ArtifactsStored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cibox_artifacts_stored_total",
				Help: "Artifacts harvested from job output directories",
			},
		),
		ArtifactBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cibox_artifact_bytes_total",
				Help: "Bytes of artifact content stored",
			},
		),
		ContainersReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cibox_containers_reaped_total",
				Help: "Leftover containers removed during crash recovery",
			},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRun records a finished pipeline run.
func (m *Metrics) RecordRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// RecordJob records a job reaching a terminal state.
func (m *Metrics) RecordJob(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(state).Inc()
	if d > 0 {
		m.JobDuration.WithLabelValues(state).Observe(d.Seconds())
	}
}

// JobStarted increments the running gauge; the returned func decrements it.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.JobsRunning.Inc()
	return m.JobsRunning.Dec
}

// RecordBuild records an image build attempt.
func (m *Metrics) RecordBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ImageBuilds.WithLabelValues(result(err)).Inc()
	m.ImageBuildDuration.Observe(d.Seconds())
}

// RecordCacheLookup records whether an image resolution hit the cache.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ImageCacheHits.Inc()
	} else {
		m.ImageCacheMisses.Inc()
	}
}

// RecordPush records a registry push.
func (m *Metrics) RecordPush(err error) {
	if m == nil {
		return
	}
	m.ImagePushes.WithLabelValues(result(err)).Inc()
}

// RecordArtifact records a stored artifact of size bytes.
func (m *Metrics) RecordArtifact(size int64) {
	if m == nil {
		return
	}
	m.ArtifactsStored.Inc()
	m.ArtifactBytes.Add(float64(size))
}

// RecordReaped records containers removed by crash recovery.
func (m *Metrics) RecordReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ContainersReaped.Add(float64(n))
}
