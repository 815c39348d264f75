package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер prometheus метрик
type Metrics struct {
	// RPC метрики
	RequestsTotal     *prometheus.CounterVec // по протоколам
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	StreamMessagesOut *prometheus.CounterVec

	// Метрики валидации
	ValidationChecksTotal   *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec

	// Метрики подбора правил
	RuleMatchesTotal *prometheus.CounterVec

	// Перезагрузки снапшота
	ReloadsTotal *prometheus.CounterVec

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics инициализирует метрики
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of RPC requests by wire protocol",
			},
			[]string{"protocol", "method", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Duration of RPC requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"protocol", "method"},
		),

		RequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_in_flight",
				Help:      "Current number of RPC requests being processed",
			},
		),

		StreamMessagesOut: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stream_messages_out_total",
				Help:      "Total number of emitted stream messages",
			},
			[]string{"method"},
		),

		ValidationChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "validation_checks_total",
				Help:      "Total number of validation checks",
			},
			[]string{"outcome"},
		),

		ValidationFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "validation_failures_total",
				Help:      "Total number of validation failures by constraint type",
			},
			[]string{"type"},
		),

		RuleMatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rule_matches_total",
				Help:      "Total number of rule match attempts",
			},
			[]string{"outcome"},
		),

		ReloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reloads_total",
				Help:      "Total number of snapshot reloads",
			},
			[]string{"outcome"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("protomock", "")
	}
	return defaultMetrics
}

// SetServiceInfo выставляет информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// RecordRequest записывает метрики одного RPC запроса
func (m *Metrics) RecordRequest(protocol, method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(protocol, method, status).Inc()
	m.RequestDuration.WithLabelValues(protocol, method).Observe(duration.Seconds())
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer запускает отдельный HTTP сервер метрик
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
