package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the pool's prometheus collectors
type Metrics struct {
	FramesReceived      *prometheus.CounterVec
	FramesSent          *prometheus.CounterVec
	MalformedFrames     *prometheus.CounterVec
	Dials               *prometheus.CounterVec
	ConnectedRelays     prometheus.Gauge
	ActiveSubscriptions prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when non-nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_client_frames_received_total",
				Help: "Frames received from relays by type",
			},
			[]string{"relay", "type"},
		),
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_client_frames_sent_total",
				Help: "Frames written to relays by type",
			},
			[]string{"relay", "type"},
		),
		MalformedFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_client_malformed_frames_total",
				Help: "Inbound frames that could not be parsed",
			},
			[]string{"relay"},
		),
		Dials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_client_dials_total",
				Help: "Relay dial attempts by result",
			},
			[]string{"relay", "result"},
		),
		ConnectedRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_client_connected_relays",
			Help: "Relays with an open transport",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_client_active_subscriptions",
			Help: "Open subscriptions in the pool",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesReceived,
			m.FramesSent,
			m.MalformedFrames,
			m.Dials,
			m.ConnectedRelays,
			m.ActiveSubscriptions,
		)
	}
	return m
}
