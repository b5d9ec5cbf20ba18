package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingest outcomes recorded by the recorder endpoint.
const (
	IngestAccepted = "accepted"
	IngestIgnored  = "ignored"
	IngestFailed   = "failed"
	IngestRetried  = "retried"
)

// Metrics records ingestion, upload and HTTP activity. A nil *Metrics is a no-op.
type Metrics struct {
	ingest         *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadDuration prometheus.Histogram
	uploadedBytes  prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New registers the service metrics on reg. queueDepth, when non-nil, is
// sampled on every scrape.
func New(reg prometheus.Registerer, queueDepth func() float64) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadmgr_ingest_events_total",
			Help: "Recorder events received, by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadmgr_uploads_total",
			Help: "Upload jobs processed by the worker, by result.",
		}, []string{"result"}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uploadmgr_upload_duration_seconds",
			Help:    "Wall time of successful upload jobs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uploadmgr_uploaded_bytes_total",
			Help: "Bytes sent to the archive platform.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploadmgr_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uploadmgr_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(m.ingest, m.uploads, m.uploadDuration, m.uploadedBytes, m.httpRequests, m.httpDuration)
	if queueDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "uploadmgr_queue_depth",
			Help: "Events waiting in the upload queue.",
		}, queueDepth))
	}
	return m
}

// IncIngest counts one recorder event with the given outcome.
func (m *Metrics) IncIngest(outcome string) {
	if m == nil || m.ingest == nil {
		return
	}
	m.ingest.WithLabelValues(outcome).Inc()
}

// UploadSucceeded records a finished job.
func (m *Metrics) UploadSucceeded(d time.Duration) {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues("success").Inc()
	m.uploadDuration.Observe(d.Seconds())
}

// UploadFailed records an abandoned job.
func (m *Metrics) UploadFailed() {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues("failure").Inc()
}

// AddUploadedBytes adds n to the bytes-sent counter.
func (m *Metrics) AddUploadedBytes(n int64) {
	if m == nil || m.uploadedBytes == nil || n <= 0 {
		return
	}
	m.uploadedBytes.Add(float64(n))
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, path, status string, d time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	if path == "" {
		path = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
