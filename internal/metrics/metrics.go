// Package metrics exposes Prometheus counters for uploads and deliveries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upload outcomes.
const (
	UploadAccepted = "accepted"
	UploadEmpty    = "empty"
	UploadFailed   = "failed"
)

// Delivery outcomes.
const (
	DeliveryDelivered = "delivered"
	DeliveryRejected  = "rejected"
	DeliveryReleased  = "released"
	DeliveryExpired   = "expired"
)

// Metrics records relay activity.
type Metrics interface {
	IncUploads(outcome string)
	IncDeliveries(outcome string)
	IncOrphanedBlobs()
	IncSweptBlobs()
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncUploads(string)                              {}
func (Noop) IncDeliveries(string)                           {}
func (Noop) IncOrphanedBlobs()                              {}
func (Noop) IncSweptBlobs()                                 {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	reg        prometheus.Registerer
	namespace  string
	uploads    *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	orphaned   prometheus.Counter
	swept      prometheus.Counter
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewProm registers the relay collectors on reg. A nil reg means the
// default registerer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		reg:       reg,
		namespace: namespace,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by outcome",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome",
		}, []string{"outcome"}),
		orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_blobs_total",
			Help:      "Delivered blobs whose removal failed",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_blobs_total",
			Help:      "Orphaned blobs removed by the sweeper",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(p.uploads, p.deliveries, p.orphaned, p.swept, p.requests, p.latency)
	return p
}

// TrackArtifacts exports the number of indexed artifacts as a gauge.
func (p *Prom) TrackArtifacts(count func() int) {
	p.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      "artifacts_stored",
		Help:      "Artifacts awaiting or undergoing delivery",
	}, func() float64 { return float64(count()) }))
}

func (p *Prom) IncUploads(outcome string) {
	p.uploads.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncDeliveries(outcome string) {
	p.deliveries.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncOrphanedBlobs() { p.orphaned.Inc() }

func (p *Prom) IncSweptBlobs() { p.swept.Inc() }

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
