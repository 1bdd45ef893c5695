package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		socketConnections,
		agentReplies,
		agentReplyLatency,
	)
}

var (
	socketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "socket_connections_active",
			Help: "Agent sockets currently open.",
		},
	)

	agentReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_replies_total",
			Help: "Agent replies by delivery mode and result.",
		},
		[]string{"agent", "mode", "success"},
	)

	agentReplyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_reply_latency_ms",
			Help:    "Agent reply generation latency in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"mode"},
	)
)

func SocketOpened() { socketConnections.Inc() }

func SocketClosed() { socketConnections.Dec() }

func ObserveAgentReply(agentID, mode string, elapsed time.Duration, success bool) {
	agentReplies.WithLabelValues(norm(agentID), norm(mode), strconv.FormatBool(success)).Inc()
	agentReplyLatency.WithLabelValues(norm(mode)).Observe(float64(elapsed.Milliseconds()))
}
