// Package metrics содержит Prometheus-метрики сервиса лояльности.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loyalty"

// Metrics хранит собственный реестр и коллекторы сервиса.
// Методы безопасно вызывать у nil-значения.
type Metrics struct {
	registry *prometheus.Registry

	httpDuration    *prometheus.HistogramVec
	adjustments     *prometheus.CounterVec
	spendingRecords prometheus.Counter
	spendingCents   prometheus.Counter
	logins          *prometheus.CounterVec
}

// New создаёт реестр и регистрирует в нём метрики.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_adjustments_total",
			Help:      "Number of manual points adjustments.",
		}, []string{"direction"}),
		spendingRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spending_records_total",
			Help:      "Number of recorded purchases.",
		}),
		spendingCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spending_amount_cents_total",
			Help:      "Sum of recorded purchases in cents.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Sign-in attempts by method and result.",
		}, []string{"method", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration,
		m.adjustments,
		m.spendingRecords,
		m.spendingCents,
		m.logins,
	)

	return m
}

// Registry возвращает реестр метрик.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest фиксирует длительность обработанного запроса.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// PointsAdjusted учитывает корректировку баллов.
func (m *Metrics) PointsAdjusted(delta int64) {
	if m == nil {
		return
	}
	direction := "credit"
	if delta < 0 {
		direction = "debit"
	}
	m.adjustments.WithLabelValues(direction).Inc()
}

// SpendingRecorded учитывает покупку.
func (m *Metrics) SpendingRecorded(amountCents int64) {
	if m == nil {
		return
	}
	m.spendingRecords.Inc()
	m.spendingCents.Add(float64(amountCents))
}

// Login учитывает попытку входа.
func (m *Metrics) Login(method string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.logins.WithLabelValues(method, result).Inc()
}
