// metrics.go — Prometheus HTTP метрики DOI Registrar.
// Регистрирует метрики: dr_http_requests_total, dr_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dr_http_requests_total",
			Help: "Общее количество HTTP-запросов к DOI Registrar",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к DOI Registrar в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// knownPaths — маршруты, попадающие в лейбл path как есть.
var knownPaths = map[string]struct{}{
	"/health/live":               {},
	"/health/ready":              {},
	"/metrics":                   {},
	"/api/v1/pids/exists":        {},
	"/api/v1/pids/metadata":      {},
	"/api/v1/pids/cache":         {},
	"/api/v1/pids/reserve":       {},
	"/api/v1/pids/register":      {},
	"/api/v1/pids/modify":        {},
	"/api/v1/objects/identifier": {},
	"/api/v1/objects/publicize":  {},
	"/api/v1/objects/target":     {},
	"/api/v1/objects/metadata":   {},
	"/api/v1/objects/lookup":     {},
}

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath сводит неизвестные пути к "other".
// Идентификаторы DOI передаются в query, поэтому путь маршрута статичен.
func normalizePath(path string) string {
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "other"
}
