package observability

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type apiMetrics struct {
	requests    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttles   *prometheus.CounterVec
	feedUpdates *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	stableEngineOnce sync.Once
	stableEngineReg  *StableEngineMetrics
)

// API returns the lazily-initialised registry recording stabled HTTP activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stablecore",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
			feedUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "api",
				Name:      "feed_updates_total",
				Help:      "Operator price feed answers published through the API.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
			apiRegistry.feedUpdates,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// RecordFeedUpdate counts an operator-published feed answer.
func (m *apiMetrics) RecordFeedUpdate(feed string) {
	if m == nil {
		return
	}
	m.feedUpdates.WithLabelValues(labelAddress(feed)).Inc()
}

// StableEngineMetrics records collateral engine activity. It satisfies
// stable.Metrics.
type StableEngineMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	repaid       *prometheus.CounterVec
	seized       *prometheus.CounterVec
	totalDebt    prometheus.Gauge

	opCounter metric.Int64Counter
}

// StableEngine returns the singleton metrics registry for the collateral engine.
func StableEngine() *StableEngineMetrics {
	stableEngineOnce.Do(func() {
		m := &StableEngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by kind and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stablecore",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Time spent holding the engine lock per operation.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Successful liquidations segmented by seized collateral token.",
			}, []string{"asset"}),
			repaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "engine",
				Name:      "debt_repaid_total",
				Help:      "Stable debt repaid by liquidators, in whole stable units.",
			}, []string{"asset"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablecore",
				Subsystem: "engine",
				Name:      "collateral_seized_base_units_total",
				Help:      "Collateral transferred to liquidators, in the token's smallest unit.",
			}, []string{"asset"}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stablecore",
				Subsystem: "engine",
				Name:      "total_debt",
				Help:      "Outstanding stable debt across all positions, in whole stable units.",
			}),
		}
		prometheus.MustRegister(m.operations, m.duration, m.liquidations, m.repaid, m.seized, m.totalDebt)
		m.initMeter()
		stableEngineReg = m
	})
	return stableEngineReg
}

func (m *StableEngineMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("stablecore/engine")
	counter, err := meter.Int64Counter("stablecore.engine.operations")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("stablecore/engine")
		counter, _ = fallback.Int64Counter("stablecore.engine.operations")
	}
	m.opCounter = counter
}

// ObserveOperation records one engine operation.
func (m *StableEngineMetrics) ObserveOperation(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(duration.Seconds())
	if m.opCounter != nil {
		m.opCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("operation", kind),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordLiquidation accumulates a successful liquidation.
func (m *StableEngineMetrics) RecordLiquidation(asset common.Address, repaid, seized *uint256.Int) {
	if m == nil {
		return
	}
	label := labelAddress(asset.Hex())
	m.liquidations.WithLabelValues(label).Inc()
	m.repaid.WithLabelValues(label).Add(wadToFloat(repaid))
	m.seized.WithLabelValues(label).Add(uintToFloat(seized))
}

// SetTotalDebt publishes the aggregate outstanding debt.
func (m *StableEngineMetrics) SetTotalDebt(total *uint256.Int) {
	if m == nil {
		return
	}
	m.totalDebt.Set(wadToFloat(total))
}

func labelAddress(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToLower(trimmed)
}

var wadFloat = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

func wadToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	return bigToFloat(new(big.Float).Quo(new(big.Float).SetInt(value.ToBig()), wadFloat))
}

func uintToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	return bigToFloat(new(big.Float).SetInt(value.ToBig()))
}

func bigToFloat(value *big.Float) float64 {
	floatVal, acc := value.Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
