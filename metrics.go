package gbnet

import (
	"strconv"

	"github.com/packetforge/gbnet/conn"
	"github.com/packetforge/gbnet/congestion"
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink wires conn.Stats snapshots and event counts into
// Prometheus gauges/counters, the one metrics library present anywhere in
// the retrieved corpus (vango-dev/vango). Purely additive instrumentation,
// not a protocol feature.
//
// rto_seconds and loss_ratio are single unlabelled gauges holding the most
// recently observed connection's values; congestion_mode is labelled by
// connection id; bytes_received_total counts delivered message bytes.
// bytes_sent_total is registered, but nothing in this package adds to it.
//
// Each sink owns a private prometheus.Registry rather than registering
// into the global default one, since spec.md §9's "no global state" note
// applies here too: an application running many NetServer/NetClient
// instances in one process must not have the second instance's
// MustRegister panic on the first's already-registered collectors.
type metricsSink struct {
	registry       *prometheus.Registry
	eventsTotal    *prometheus.CounterVec
	rtoSeconds     prometheus.Gauge
	lossRatio      prometheus.Gauge
	congestionMode *prometheus.GaugeVec
	bytesSent      prometheus.Counter
	bytesRecv      prometheus.Counter
}

func newMetricsSink(cfg *MetricsConfig) *metricsSink {
	ns := cfg.Namespace
	if ns == "" {
		ns = "gbnet"
	}
	m := &metricsSink{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_total",
			Help:      "Count of ServerEvent/ClientEvent instances by kind.",
		}, []string{"kind"}),
		rtoSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "rto_seconds",
			Help:      "Most recently observed connection RTO.",
		}),
		lossRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "loss_ratio",
			Help:      "Most recently observed connection loss EMA.",
		}),
		congestionMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "congestion_mode",
			Help:      "1 if the connection is currently in Bad congestion mode, else 0.",
		}, []string{"connection_id"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_sent_total",
		}),
		bytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bytes_received_total",
		}),
	}
	m.registry.MustRegister(m.eventsTotal, m.rtoSeconds, m.lossRatio, m.congestionMode, m.bytesSent, m.bytesRecv)
	return m
}

// Registry exposes the sink's private prometheus.Registry so the caller
// can serve it (e.g. via promhttp.HandlerFor) however it sees fit; gbnet
// itself has no HTTP surface.
func (m *metricsSink) Registry() *prometheus.Registry { return m.registry }

func (m *metricsSink) observeStats(connectionID uint16, s conn.Stats) {
	m.rtoSeconds.Set(s.RTO.Seconds())
	m.lossRatio.Set(s.Loss)
	mode := 0.0
	if s.CongestionMode == congestion.Bad {
		mode = 1.0
	}
	m.congestionMode.WithLabelValues(strconv.Itoa(int(connectionID))).Set(mode)
}

func (m *metricsSink) observeServerEvent(e ServerEvent) {
	m.eventsTotal.WithLabelValues(serverEventKindLabel(e.Kind)).Inc()
	if e.Kind == ServerMessageReceived {
		m.bytesRecv.Add(float64(len(e.Message)))
	}
}

func (m *metricsSink) observeClientEvent(e ClientEvent) {
	m.eventsTotal.WithLabelValues(clientEventKindLabel(e.Kind)).Inc()
	if e.Kind == ClientMessageReceived {
		m.bytesRecv.Add(float64(len(e.Message)))
	}
}

func serverEventKindLabel(k ServerEventKind) string {
	switch k {
	case ServerClientConnected:
		return "client_connected"
	case ServerClientDisconnected:
		return "client_disconnected"
	case ServerMessageReceived:
		return "message_received"
	default:
		return "error"
	}
}

func clientEventKindLabel(k ClientEventKind) string {
	switch k {
	case ClientConnected:
		return "connected"
	case ClientDisconnected:
		return "disconnected"
	case ClientMessageReceived:
		return "message_received"
	default:
		return "error"
	}
}
