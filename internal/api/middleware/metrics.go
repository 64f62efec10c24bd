// metrics.go — Prometheus HTTP метрики Contract Module.
// Регистрирует метрики: cm_http_requests_total, cm_http_request_duration_seconds.
// Бизнес-метрики (cm_contracts_generated_total, cm_sign_fallback_total и др.)
// регистрируются в сервисном слое.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Contract Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Contract Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
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

// normalizePath заменяет UUID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/contracts/a1b2c3d4-... → /api/v1/contracts/{id}
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/bookings/") && isUUIDSegment(path, "/api/v1/bookings/"):
		// /api/v1/bookings/{uuid}/contract
		if path[len("/api/v1/bookings/")+36:] == "/contract" {
			return "/api/v1/bookings/{id}/contract"
		}
	case strings.HasPrefix(path, "/api/v1/contracts/") && isUUIDSegment(path, "/api/v1/contracts/"):
		// /api/v1/contracts/{uuid}[/verify|/download]
		switch path[len("/api/v1/contracts/")+36:] {
		case "":
			return "/api/v1/contracts/{id}"
		case "/verify":
			return "/api/v1/contracts/{id}/verify"
		case "/download":
			return "/api/v1/contracts/{id}/download"
		}
	case strings.HasPrefix(path, "/api/v1/audit/") && len(path) > len("/api/v1/audit/"):
		// /api/v1/audit/{type}/{id} — тип и id произвольны, схлопываем целиком
		return "/api/v1/audit/{type}/{id}"
	}
	return path
}

// isUUIDSegment проверяет, начинается ли сегмент пути после prefix с UUID.
func isUUIDSegment(path, prefix string) bool {
	if len(path) < len(prefix)+36 {
		return false
	}
	segment := path[len(prefix) : len(prefix)+36]
	for i, c := range segment {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
		} else if !isHexChar(byte(c)) {
			return false
		}
	}
	return true
}

// isHexChar проверяет, является ли байт шестнадцатеричной цифрой.
func isHexChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
