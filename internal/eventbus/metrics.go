package eventbus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter переносит Stats шины в Prometheus-метрики.
// Экспортер не делает предположений о конкретной реализации шины,
// он опирается только на EventBus.Metrics. HTTP-эндпоинт /metrics
// отдаёт административный API.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	done     chan struct{}

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg (nil - без регистрации)
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	me := &MetricsExporter{
		bus:      bus,
		interval: time.Second,
		done:     make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tileverse",
			Subsystem: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
		}),
	}
	if reg != nil {
		reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	}
	return me
}

// Run обновляет метрики до отмены ctx
func (m *MetricsExporter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	// Counter только растёт, поэтому храним прошлое значение и прибавляем дельту.
	var prev Stats
	for {
		select {
		case <-ticker.C:
			prev = m.collect(prev)
		case <-ctx.Done():
			return
		}
	}
}

// Done закрывается после выхода из Run
func (m *MetricsExporter) Done() <-chan struct{} { return m.done }

func (m *MetricsExporter) collect(prev Stats) Stats {
	stats := m.bus.Metrics()
	if d := stats.Published - prev.Published; d > 0 {
		m.published.Add(float64(d))
	}
	if d := stats.Consumed - prev.Consumed; d > 0 {
		m.consumed.Add(float64(d))
	}
	if d := stats.Dropped - prev.Dropped; d > 0 {
		m.dropped.Add(float64(d))
	}
	m.inflight.Set(float64(stats.InFlight))
	return stats
}
