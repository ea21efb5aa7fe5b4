package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-метрики симуляции мира
type Metrics struct {
	entities        *prometheus.GaugeVec
	tileFailures    prometheus.Counter
	tileDamage      prometheus.Counter
	messagesExpired prometheus.Counter
	messagesRouted  *prometheus.CounterVec
	damageRequests  prometheus.Counter
	stepPhase       *prometheus.HistogramVec
}

// NewMetrics создаёт метрики и регистрирует их в reg; nil reg оставляет их
// незарегистрированными
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "entities",
			Help:      "Сущности мира по режиму.",
		}, []string{"mode"}),
		tileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "tile_modification_failures_total",
			Help:      "Отклонённые изменения тайлов.",
		}),
		tileDamage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "tiles_broken_total",
			Help:      "Разрушенные уроном тайлы.",
		}),
		messagesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "entity_messages_expired_total",
			Help:      "Сообщения сущностям, не получившие ответа вовремя.",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "entity_messages_total",
			Help:      "Сообщения сущностям по способу доставки.",
		}, []string{"route"}),
		damageRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "damage_requests_total",
			Help:      "Запросы урона, доставленные владельцам целей.",
		}),
		stepPhase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tileverse",
			Subsystem: "world",
			Name:      "step_phase_seconds",
			Help:      "Длительность этапов шага мира.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}, []string{"phase"}),
	}
	if reg != nil {
		reg.MustRegister(m.entities, m.tileFailures, m.tileDamage, m.messagesExpired,
			m.messagesRouted, m.damageRequests, m.stepPhase)
	}
	return m
}

func (m *Metrics) setEntities(masters, slaves int) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues("master").Set(float64(masters))
	m.entities.WithLabelValues("slave").Set(float64(slaves))
}

func (m *Metrics) tileFailed(n int) {
	if m != nil && n > 0 {
		m.tileFailures.Add(float64(n))
	}
}

func (m *Metrics) tileBroken() {
	if m != nil {
		m.tileDamage.Inc()
	}
}

func (m *Metrics) messageExpired() {
	if m != nil {
		m.messagesExpired.Inc()
	}
}

func (m *Metrics) messageRouted(route string) {
	if m != nil {
		m.messagesRouted.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) damageRequested() {
	if m != nil {
		m.damageRequests.Inc()
	}
}

func (m *Metrics) phase(name string, seconds float64) {
	if m != nil {
		m.stepPhase.WithLabelValues(name).Observe(seconds)
	}
}
