package rosbridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts the work done by a Bridge.
type Metrics struct {
	FramesReceived      prometheus.Counter
	DetectionsPublished prometheus.Counter
	Errors              *prometheus.CounterVec // By stage: decode, detect, publish.

	registry *prometheus.Registry
}

// NewMetrics creates the bridge metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rosdetect_frames_received_total",
			Help: "Frames received from the image topic",
		}),
		DetectionsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rosdetect_detections_published_total",
			Help: "Detection messages published",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rosdetect_errors_total",
			Help: "Frames that failed, by processing stage",
		}, []string{"stage"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.FramesReceived, m.DetectionsPublished, m.Errors)

	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
