package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "wakeguard_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	chainScheduleTotal   *prometheus.CounterVec
	chainScheduleLatency *prometheus.HistogramVec
	chainPostCheckMiss   prometheus.Counter
	staleChainsRemoved   prometheus.Counter

	notificationsDelivered prometheus.Counter
	pendingNotifications   prometheus.Gauge

	dismissalOutcomes *prometheus.CounterVec
	alarmEventsTotal  *prometheus.CounterVec

	runExportTotal   *prometheus.CounterVec
	runExportLatency *prometheus.HistogramVec
)

// Init registers observability metrics.
func Init(logger *log.Logger) {
	registerOnce.Do(func() {
		chainScheduleTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "chain_schedule_total",
				Help: "Total chain scheduling attempts by outcome",
			},
			[]string{"outcome"},
		)
		chainScheduleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "chain_schedule_latency_seconds",
				Help:    "Chain scheduling latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)
		chainPostCheckMiss = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "chain_postcheck_mismatch_total",
				Help: "Total post-check mismatches between expected and live pending requests",
			},
		)
		staleChainsRemoved = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stale_chains_removed_total",
				Help: "Total chains removed by stale cleanup",
			},
		)

		notificationsDelivered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_delivered_total",
				Help: "Total chain notifications delivered",
			},
		)
		pendingNotifications = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pending_notifications",
				Help: "Current pending notification requests",
			},
		)

		dismissalOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dismissal_outcomes_total",
				Help: "Total dismissal flow completions by outcome",
			},
			[]string{"outcome"},
		)
		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm lifecycle events by type",
			},
			[]string{"event"},
		)

		runExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "run_export_total",
				Help: "Total run history exports by format and result",
			},
			[]string{"format", "result"},
		)
		runExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "run_export_latency_seconds",
				Help:    "Run history export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			chainScheduleTotal,
			chainScheduleLatency,
			chainPostCheckMiss,
			staleChainsRemoved,
			notificationsDelivered,
			pendingNotifications,
			dismissalOutcomes,
			alarmEventsTotal,
			runExportTotal,
			runExportLatency,
		)

		if logger != nil {
			logger.Printf("metrics registered")
		}
	})
}

// ObserveChainSchedule records a chain scheduling attempt.
func ObserveChainSchedule(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	if chainScheduleTotal != nil {
		chainScheduleTotal.WithLabelValues(outcome).Inc()
	}
	if chainScheduleLatency != nil {
		chainScheduleLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// IncChainPostCheckMismatch increments the post-check mismatch counter.
func IncChainPostCheckMismatch() {
	if chainPostCheckMiss != nil {
		chainPostCheckMiss.Inc()
	}
}

// AddStaleChainsRemoved adds to the stale cleanup counter.
func AddStaleChainsRemoved(count int) {
	if count <= 0 {
		return
	}
	if staleChainsRemoved != nil {
		staleChainsRemoved.Add(float64(count))
	}
}

// IncNotificationDelivered increments the delivered counter.
func IncNotificationDelivered() {
	if notificationsDelivered != nil {
		notificationsDelivered.Inc()
	}
}

// SetPendingNotifications sets the pending request gauge.
func SetPendingNotifications(count int) {
	if count < 0 {
		count = 0
	}
	if pendingNotifications != nil {
		pendingNotifications.Set(float64(count))
	}
}

// IncDismissalOutcome increments a dismissal completion counter.
func IncDismissalOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if dismissalOutcomes != nil {
		dismissalOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncAlarmEvent increments alarm lifecycle counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveRunExport records export latency and result.
func ObserveRunExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if runExportTotal != nil {
		runExportTotal.WithLabelValues(format, result).Inc()
	}
	if runExportLatency != nil {
		runExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
