package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the checkout counters so tests can use an isolated
// instance instead of the global default registry.
type Registry struct {
	registry *prometheus.Registry

	PreviewRequests   *prometheus.CounterVec
	Initiations       *prometheus.CounterVec
	ProofSubmissions  *prometheus.CounterVec
	PollTicks         prometheus.Counter
	PollResolutions   *prometheus.CounterVec
	WindowExpirations prometheus.Counter
	OpenWindows       prometheus.Gauge
}

func New() *Registry {
	r := prometheus.NewRegistry()

	m := &Registry{
		registry: r,
		PreviewRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_preview_requests_total",
			Help: "Pricing preview requests by outcome.",
		}, []string{"outcome"}),
		Initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_initiations_total",
			Help: "Purchase initiations by provider.",
		}, []string{"provider"}),
		ProofSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_proof_submissions_total",
			Help: "Proof submissions by outcome.",
		}, []string{"outcome"}),
		PollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_poll_ticks_total",
			Help: "Confirmation poll ticks issued.",
		}),
		PollResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_poll_resolutions_total",
			Help: "Poll loop resolutions by terminal outcome.",
		}, []string{"outcome"}),
		WindowExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_window_expirations_total",
			Help: "Payment windows that expired before proof submission.",
		}),
		OpenWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_open_payment_windows",
			Help: "Payment windows currently open.",
		}),
	}

	r.MustRegister(
		m.PreviewRequests,
		m.Initiations,
		m.ProofSubmissions,
		m.PollTicks,
		m.PollResolutions,
		m.WindowExpirations,
		m.OpenWindows,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
