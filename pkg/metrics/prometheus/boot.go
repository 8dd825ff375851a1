// Package prometheus provides Prometheus-backed implementations of the
// metrics collector interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ggnet/ggboot/pkg/metrics"
)

// bootMetrics is the Prometheus implementation of metrics.BootMetrics.
type bootMetrics struct {
	sessionStarts   *prometheus.CounterVec
	sessionEnds     *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
	bootScripts     prometheus.Counter
	conversions     *prometheus.CounterVec
	conversionTime  *prometheus.HistogramVec
}

// NewBootMetrics creates a new Prometheus-backed BootMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBootMetrics() metrics.BootMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &bootMetrics{
		sessionStarts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ggboot_session_starts_total",
				Help: "Total number of boot session start attempts by result",
			},
			[]string{"result"}, // "success", "error"
		),
		sessionEnds: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ggboot_sessions_ended_total",
				Help: "Total number of finished boot sessions by terminal status",
			},
			[]string{"status"}, // "stopped", "timeout", "error"
		),
		sessionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ggboot_session_duration_seconds",
				Help: "Lifetime of finished boot sessions in seconds",
				Buckets: []float64{
					60,    // 1m - aborted boots
					300,   // 5m
					900,   // 15m
					1800,  // 30m
					3600,  // 1h - short lab session
					7200,  // 2h
					14400, // 4h
					28800, // 8h - full day
				},
			},
			[]string{"status"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ggboot_active_sessions",
				Help: "Current number of live boot sessions",
			},
		),
		bootScripts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ggboot_boot_scripts_served_total",
				Help: "Total number of iPXE boot scripts served",
			},
		),
		conversions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ggboot_conversions_total",
				Help: "Total number of image conversions by result",
			},
			[]string{"result"}, // "success", "error"
		),
		conversionTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "ggboot_conversion_duration_seconds",
				Help: "Duration of qemu-img conversions in seconds",
				Buckets: []float64{
					10,   // small images
					30,
					60,   // 1m
					300,  // 5m
					900,  // 15m - typical Windows image
					1800, // 30m
					3600, // 1h
				},
			},
			[]string{"result"},
		),
	}
}

func (m *bootMetrics) RecordSessionStart(result string) {
	if m == nil {
		return
	}
	m.sessionStarts.WithLabelValues(result).Inc()
}

func (m *bootMetrics) RecordSessionEnd(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sessionEnds.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *bootMetrics) SetActiveSessions(count int64) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func (m *bootMetrics) RecordBootScriptServed() {
	if m == nil {
		return
	}
	m.bootScripts.Inc()
}

func (m *bootMetrics) RecordConversion(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(result).Inc()
	m.conversionTime.WithLabelValues(result).Observe(duration.Seconds())
}
