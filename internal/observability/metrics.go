package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DirectionEncode = "encode"
	DirectionDecode = "decode"
)

var (
	registerOnce sync.Once

	codecPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctlwire",
			Subsystem: "codec",
			Name:      "packets_total",
			Help:      "Control packets passed through the codec.",
		},
		[]string{"direction", "code", "result"},
	)
	codecErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctlwire",
			Subsystem: "codec",
			Name:      "decode_errors_total",
			Help:      "Rejected control packet bodies by the field that could not be read.",
		},
		[]string{"field"},
	)
	sessionRetransmits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctlwire",
			Subsystem: "session",
			Name:      "retransmits_total",
			Help:      "Control packets resent after their ack deadline.",
		},
	)
	sessionAcked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctlwire",
			Subsystem: "session",
			Name:      "acked_packets_total",
			Help:      "Outbound control packets acknowledged by the peer.",
		},
	)
	sessionAckLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ctlwire",
			Subsystem: "session",
			Name:      "ack_latency_seconds",
			Help:      "Time from first transmission to acknowledgment.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
	sessionResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ctlwire",
			Subsystem: "session",
			Name:      "resets_total",
			Help:      "Control channels restarted after a peer hard reset.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctlwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inspect API requests by route and control packet code.",
		},
		[]string{"method", "route", "code", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ctlwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			codecPackets,
			codecErrors,
			sessionRetransmits,
			sessionAcked,
			sessionAckLatency,
			sessionResets,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordEncode(code protocol.PacketCode, err error) {
	RegisterMetrics()
	codecPackets.WithLabelValues(DirectionEncode, code.String(), resultLabel(err)).Inc()
}

// RecordDecode counts one decode attempt and, on failure, the field that
// stopped the parser.
func RecordDecode(code protocol.PacketCode, err error) {
	RegisterMetrics()
	codecPackets.WithLabelValues(DirectionDecode, code.String(), resultLabel(err)).Inc()
	if err == nil {
		return
	}
	field := protocol.ErrorField(err)
	if field == "" {
		field = "other"
	}
	codecErrors.WithLabelValues(field).Inc()
}

func RecordRetransmits(n int) {
	RegisterMetrics()
	sessionRetransmits.Add(float64(n))
}

func RecordAcked(n int) {
	RegisterMetrics()
	sessionAcked.Add(float64(n))
}

func RecordAckLatency(d time.Duration) {
	RegisterMetrics()
	sessionAckLatency.Observe(d.Seconds())
}

func RecordReset() {
	RegisterMetrics()
	sessionResets.Inc()
}

func RecordHTTPRequest(method, route, code string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, code, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, code, statusLabel).Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
