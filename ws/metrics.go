package ws

import (
	"github.com/prometheus/client_golang/prometheus"

	pb "github.com/mqy/minichat/proto"
)

const namespace = "minichat"

// Metrics holds the socket collectors.
type Metrics struct {
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	openSockets    *prometheus.GaugeVec
	dialFailures   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on `reg` unless it is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Inbound frames decoded, by channel and status.",
		}, []string{"channel", "status"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_sent_total",
			Help:      "Outbound frames enqueued, by channel and status.",
		}, []string{"channel", "status"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped, by channel and reason.",
		}, []string{"channel", "reason"}),
		openSockets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "open_sockets",
			Help:      "Sockets currently open, by channel.",
		}, []string{"channel"}),
		dialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "dial_failures_total",
			Help:      "Failed socket dials, by channel.",
		}, []string{"channel"}),
	}
	if reg != nil {
		reg.MustRegister(m.framesReceived, m.framesSent, m.framesDropped, m.openSockets, m.dialFailures)
	}
	return m
}

func (m *Metrics) frameReceived(channel string, status pb.Status) {
	m.framesReceived.WithLabelValues(channel, string(status)).Inc()
}

func (m *Metrics) frameSent(channel string, status pb.Status) {
	m.framesSent.WithLabelValues(channel, string(status)).Inc()
}

func (m *Metrics) frameDropped(channel, reason string) {
	m.framesDropped.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) framesDiscarded(channel string, n int) {
	m.framesDropped.WithLabelValues(channel, "closed").Add(float64(n))
}

func (m *Metrics) opened(channel string) {
	m.openSockets.WithLabelValues(channel).Inc()
}

func (m *Metrics) closed(channel string) {
	m.openSockets.WithLabelValues(channel).Dec()
}

func (m *Metrics) dialFailed(channel string) {
	m.dialFailures.WithLabelValues(channel).Inc()
}
