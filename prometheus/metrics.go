package prometheus

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/plexica/tenantd/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Provisioning metrics
	ProvisioningRunCounter      *prometheus.CounterVec
	ProvisioningStepCounter     *prometheus.CounterVec
	RollbackCounter             *prometheus.CounterVec
	RollbackFailureCounter      *prometheus.CounterVec
	ProvisioningDurationHistogram prometheus.Histogram

	// Lifecycle metrics
	TenantTransitionCounter *prometheus.CounterVec
	HardDeleteCleanupCounter *prometheus.CounterVec
	TenantsReapedCounter    prometheus.Counter

	// Directory gateway metrics
	DirectoryRequestCounter *prometheus.CounterVec
	DirectoryAuthCounter  prometheus.Counter

	// Cache metrics
	CacheKeysSweptCounter prometheus.Counter

	// Database operation metrics
	DBOperationHistogram *prometheus.HistogramVec

	// Request metrics
	RequestDurationHistogram *prometheus.HistogramVec
	APIRequestCounter        *prometheus.CounterVec
	APIErrorCounter          *prometheus.CounterVec

	// Namespace prefix for metrics
	namespace string
)

// InitMetrics initializes all Prometheus metrics
func InitMetrics(cfg *config.Config) {
	namespace = cfg.Metrics.Prefix

	// Provisioning metrics
	ProvisioningRunCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_runs_total",
			Help:      "Total number of tenant provisioning runs",
		},
		[]string{"outcome"},
	)

	ProvisioningStepCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_steps_total",
			Help:      "Total number of provisioning step executions",
		},
		[]string{"step", "outcome"},
	)

	RollbackCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_rollbacks_total",
			Help:      "Total number of compensating rollbacks executed",
		},
		[]string{"step"},
	)

	RollbackFailureCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_rollback_failures_total",
			Help:      "Total number of rollbacks that themselves failed",
		},
		[]string{"step"},
	)

	ProvisioningDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provisioning_duration_seconds",
		Help:      "Duration of full provisioning runs in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// Lifecycle metrics
	TenantTransitionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_transitions_total",
			Help:      "Total number of tenant lifecycle transitions",
		},
		[]string{"from", "to"},
	)

	HardDeleteCleanupCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hard_delete_cleanup_total",
			Help:      "Total number of hard-delete cleanup actions",
		},
		[]string{"resource", "outcome"},
	)

	TenantsReapedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenants_reaped_total",
		Help:      "Total number of tenants hard-deleted by the reaper",
	})

	// Directory gateway metrics
	DirectoryRequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_requests_total",
			Help:      "Total number of identity directory requests",
		},
		[]string{"operation", "status"},
	)

	DirectoryAuthCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "directory_auth_total",
		Help:      "Total number of admin token grants",
	})

	// Cache metrics
	CacheKeysSweptCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_keys_swept_total",
		Help:      "Total number of cache keys deleted during tenant cleanup",
	})

	// Database operation metrics
	DBOperationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Duration of database operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Request metrics
	RequestDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIRequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path"},
	)

	APIErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_errors_total",
			Help:      "Total number of API errors",
		},
		[]string{"method", "path", "status"},
	)
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			APIRequestCounter.With(prometheus.Labels{
				"method": c.Request().Method,
				"path":   c.Path(),
			}).Inc()

			// Process the request
			err := next(c)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			RequestDurationHistogram.With(prometheus.Labels{
				"method": c.Request().Method,
				"path":   c.Path(),
				"status": status,
			}).Observe(duration)

			if c.Response().Status >= 400 {
				APIErrorCounter.With(prometheus.Labels{
					"method": c.Request().Method,
					"path":   c.Path(),
					"status": status,
				}).Inc()
			}

			return err
		}
	}
}

// HandlerFunc returns a HTTP handler for metrics endpoint
func HandlerFunc() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// TrackDBOperation returns a function that tracks database operation duration
func TrackDBOperation(operation string) func(time.Time) {
	return func(startTime time.Time) {
		if DBOperationHistogram == nil {
			return
		}
		duration := time.Since(startTime).Seconds()
		DBOperationHistogram.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// RecordProvisioningRun increments the provisioning run counter
func RecordProvisioningRun(outcome string) {
	if ProvisioningRunCounter == nil {
		return
	}
	ProvisioningRunCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordProvisioningStep increments the provisioning step counter
func RecordProvisioningStep(step, outcome string) {
	if ProvisioningStepCounter == nil {
		return
	}
	ProvisioningStepCounter.With(prometheus.Labels{"step": step, "outcome": outcome}).Inc()
}

// RecordRollback increments the rollback counter
func RecordRollback(step string) {
	if RollbackCounter == nil {
		return
	}
	RollbackCounter.With(prometheus.Labels{"step": step}).Inc()
}

// RecordRollbackFailure increments the rollback failure counter
func RecordRollbackFailure(step string) {
	if RollbackFailureCounter == nil {
		return
	}
	RollbackFailureCounter.With(prometheus.Labels{"step": step}).Inc()
}

// RecordTenantTransition increments the lifecycle transition counter
func RecordTenantTransition(from, to string) {
	if TenantTransitionCounter == nil {
		return
	}
	TenantTransitionCounter.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

// RecordHardDeleteCleanup increments the hard-delete cleanup counter
func RecordHardDeleteCleanup(resource, outcome string) {
	if HardDeleteCleanupCounter == nil {
		return
	}
	HardDeleteCleanupCounter.With(prometheus.Labels{"resource": resource, "outcome": outcome}).Inc()
}

// RecordTenantReaped increments the reaper counter
func RecordTenantReaped() {
	if TenantsReapedCounter == nil {
		return
	}
	TenantsReapedCounter.Inc()
}

// RecordDirectoryRequest increments the directory request counter
func RecordDirectoryRequest(operation, status string) {
	if DirectoryRequestCounter == nil {
		return
	}
	DirectoryRequestCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
}

// RecordDirectoryAuth increments the admin token grant counter
func RecordDirectoryAuth() {
	if DirectoryAuthCounter == nil {
		return
	}
	DirectoryAuthCounter.Inc()
}

// RecordCacheKeysSwept adds to the swept cache key counter
func RecordCacheKeysSwept(n int) {
	if CacheKeysSweptCounter == nil {
		return
	}
	CacheKeysSweptCounter.Add(float64(n))
}
