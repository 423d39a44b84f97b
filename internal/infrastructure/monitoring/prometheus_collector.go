package monitoring

import (
	"time"

	"pixelrelay/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignallingCollector implements ports.SignallingMetrics.
type SignallingCollector struct {
	connectionsOpen   *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	subscribeRequests *prometheus.CounterVec
}

func NewSignallingCollector(reg prometheus.Registerer) *SignallingCollector {
	factory := promauto.With(reg)
	return &SignallingCollector{
		connectionsOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pixelrelay_connections_open",
			Help: "Number of open signalling connections",
		}, []string{"kind"}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_connections_total",
			Help: "Total number of accepted signalling connections",
		}, []string{"kind"}),

		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_messages_received_total",
			Help: "Signalling messages received, by endpoint kind and message type",
		}, []string{"kind", "type"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_messages_dropped_total",
			Help: "Signalling messages dropped before dispatch",
		}, []string{"kind", "reason"}),

		subscribeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_subscribe_requests_total",
			Help: "Subscribe requests by outcome",
		}, []string{"result"}),
	}
}

func (c *SignallingCollector) ConnectionOpened(kind domain.EndpointKind) {
	c.connectionsOpen.WithLabelValues(string(kind)).Inc()
	c.connectionsTotal.WithLabelValues(string(kind)).Inc()
}

func (c *SignallingCollector) ConnectionClosed(kind domain.EndpointKind) {
	c.connectionsOpen.WithLabelValues(string(kind)).Dec()
}

func (c *SignallingCollector) MessageReceived(kind domain.EndpointKind, messageType string) {
	c.messagesReceived.WithLabelValues(string(kind), messageType).Inc()
}

func (c *SignallingCollector) MessageDropped(kind domain.EndpointKind, reason string) {
	c.messagesDropped.WithLabelValues(string(kind), reason).Inc()
}

func (c *SignallingCollector) SubscribeResult(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	c.subscribeRequests.WithLabelValues(result).Inc()
}

// SFUCollector implements ports.SFUMetrics.
type SFUCollector struct {
	state               *prometheus.GaugeVec
	playerSessions      prometheus.Gauge
	dataFrames          *prometheus.CounterVec
	dataBytes           *prometheus.CounterVec
	dataDropped         *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec
	reconnects          prometheus.Counter
}

var sfuStates = []string{"connecting", "identified", "awaiting_streamer_list", "subscribing", "negotiating", "active"}

func NewSFUCollector(reg prometheus.Registerer) *SFUCollector {
	factory := promauto.With(reg)
	return &SFUCollector{
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pixelrelay_sfu_state",
			Help: "1 for the current state of the SFU upstream leg",
		}, []string{"state"}),

		playerSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pixelrelay_sfu_player_sessions",
			Help: "Number of downstream player sessions",
		}),

		dataFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_sfu_data_frames_total",
			Help: "Data channel frames relayed, by direction",
		}, []string{"direction"}),

		dataBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_sfu_data_bytes_total",
			Help: "Data channel payload bytes relayed, by direction",
		}, []string{"direction"}),

		dataDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelrelay_sfu_data_frames_dropped_total",
			Help: "Data channel frames dropped by the router",
		}, []string{"reason"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelrelay_sfu_negotiation_duration_seconds",
			Help:    "Time to produce a complete local description",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		}, []string{"leg"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelrelay_sfu_reconnects_total",
			Help: "Signalling reconnect attempts",
		}),
	}
}

func (c *SFUCollector) SetState(state string) {
	for _, s := range sfuStates {
		value := 0.0
		if s == state {
			value = 1
		}
		c.state.WithLabelValues(s).Set(value)
	}
}

func (c *SFUCollector) PlayerSessions(n int) {
	c.playerSessions.Set(float64(n))
}

func (c *SFUCollector) DataFrameRelayed(direction string, bytes int) {
	c.dataFrames.WithLabelValues(direction).Inc()
	c.dataBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (c *SFUCollector) DataFrameDropped(reason string) {
	c.dataDropped.WithLabelValues(reason).Inc()
}

func (c *SFUCollector) NegotiationDuration(leg string, d time.Duration) {
	c.negotiationDuration.WithLabelValues(leg).Observe(d.Seconds())
}

func (c *SFUCollector) Reconnect() {
	c.reconnects.Inc()
}
