package monitoring

import "time"

// PerformanceReport is the JSON document served at /metrics.
type PerformanceReport struct {
	Timestamp     string                 `json:"timestamp"`
	RequestStats  RequestStats           `json:"request_stats"`
	SystemMetrics map[string]Summary     `json:"system_metrics"`
	HealthStatus  string                 `json:"health_status"`
	HealthChecks  map[string]CheckResult `json:"health_checks"`
}

// BuildReport assembles the current performance report. Metric
// summaries cover the last hour.
func BuildReport(monitor *Monitor, checker *Checker) PerformanceReport {
	const window = time.Hour
	return PerformanceReport{
		Timestamp:    time.Now().Format(time.RFC3339),
		RequestStats: monitor.RequestStats(),
		SystemMetrics: map[string]Summary{
			"goroutines":    monitor.MetricsSummary("go_goroutines", window),
			"heap_alloc_mb": monitor.MetricsSummary("go_heap_alloc_mb", window),
			"sys_mb":        monitor.MetricsSummary("go_sys_mb", window),
		},
		HealthStatus: checker.OverallStatus(),
		HealthChecks: checker.LastResults(),
	}
}
