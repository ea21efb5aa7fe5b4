package network

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/tileverse/internal/protocol"
)

// Metrics Prometheus-метрики сетевого слоя
type Metrics struct {
	connections    prometheus.Gauge
	handshakes     *prometheus.CounterVec
	packets        *prometheus.CounterVec
	protocolErrors prometheus.Counter
	tickDuration   prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg; nil reg оставляет их
// незарегистрированными
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tileverse",
			Subsystem: "network",
			Name:      "clients_connected",
			Help:      "Клиенты, находящиеся в мире.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "network",
			Name:      "handshakes_total",
			Help:      "Завершённые рукопожатия по результату.",
		}, []string{"result"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "network",
			Name:      "packets_total",
			Help:      "Пакеты по направлению и типу.",
		}, []string{"direction", "type"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "network",
			Name:      "protocol_errors_total",
			Help:      "Соединения, разорванные из-за нарушения протокола.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tileverse",
			Subsystem: "server",
			Name:      "tick_duration_seconds",
			Help:      "Длительность тика сервера мира.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.0166, 0.025, 0.05, 0.1},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.handshakes, m.packets, m.protocolErrors, m.tickDuration)
	}
	return m
}

func (m *Metrics) observePackets(direction string, packets []protocol.Packet) {
	if m == nil {
		return
	}
	for _, p := range packets {
		m.packets.WithLabelValues(direction, p.Type().String()).Inc()
	}
}

func (m *Metrics) handshake(result string) {
	if m != nil {
		m.handshakes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}

func (m *Metrics) setConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) observeTick(seconds float64) {
	if m != nil {
		m.tickDuration.Observe(seconds)
	}
}
