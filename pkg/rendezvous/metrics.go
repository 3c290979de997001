package rendezvous

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the server's Prometheus collectors. Each server owns its own
// registry so multiple servers can coexist in one process (and in tests).
type metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	rateLimited      prometheus.Counter
	invitesCreated   prometheus.Counter
	invitesRedeemed  prometheus.Counter
	relayConnections prometheus.Gauge
	relayFrames      prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezvous_requests_total",
			Help: "HTTP requests handled, by route and status code.",
		}, []string{"route", "code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		}),
		invitesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_invites_created_total",
			Help: "Share codes issued.",
		}),
		invitesRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_invites_redeemed_total",
			Help: "Share codes redeemed.",
		}),
		relayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rendezvous_relay_connections",
			Help: "Currently open signaling relay connections.",
		}),
		relayFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rendezvous_relay_frames_total",
			Help: "Frames relayed between signaling clients.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.rateLimited,
		m.invitesCreated,
		m.invitesRedeemed,
		m.relayConnections,
		m.relayFrames,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
