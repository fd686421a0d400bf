package monitoring

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusWarning   = "warning"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// CheckResult is the outcome of one named health check.
type CheckResult struct {
	Name         string         `json:"name"`
	Status       string         `json:"status"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
	ResponseTime float64        `json:"response_time"`
	Details      map[string]any `json:"details,omitempty"`
}

// CheckFunc evaluates one health condition.
type CheckFunc func() CheckResult

// Checker runs named health checks and folds them into one overall
// status. A check that panics counts as unhealthy.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	order  []string
	last   map[string]CheckResult
	logger *slog.Logger
}

func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		last:   make(map[string]CheckResult),
		logger: log.With(slog.String("service", "healthcheck")),
	}
}

// Register adds a named check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	if _, exists := c.checks[name]; !exists {
		c.order = append(c.order, name)
	}
	c.checks[name] = check
	c.mu.Unlock()
	c.logger.Info("registered health check", slog.String("check", name))
}

// RunAll evaluates every check and returns results keyed by name.
func (c *Checker) RunAll() map[string]CheckResult {
	c.mu.Lock()
	order := append([]string(nil), c.order...)
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.Unlock()

	results := make(map[string]CheckResult, len(order))
	for _, name := range order {
		results[name] = c.run(name, checks[name])
	}

	c.mu.Lock()
	for name, result := range results {
		c.last[name] = result
	}
	c.mu.Unlock()
	return results
}

func (c *Checker) run(name string, check CheckFunc) (result CheckResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{
				Name:      name,
				Status:    StatusUnhealthy,
				Message:   fmt.Sprintf("Health check failed: %v", r),
				Timestamp: time.Now(),
			}
		}
		result.ResponseTime = time.Since(started).Seconds()
	}()

	result = check()
	result.Name = name
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return result
}

// LastResults returns the most recent result per check.
func (c *Checker) LastResults() map[string]CheckResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]CheckResult, len(c.last))
	for name, result := range c.last {
		out[name] = result
	}
	return out
}

// OverallStatus is unhealthy if any check is, else warning if any
// check warns, else healthy. Unknown until the first run.
func (c *Checker) OverallStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.last) == 0 {
		return StatusUnknown
	}
	overall := StatusHealthy
	for _, result := range c.last {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusWarning:
			overall = StatusWarning
		}
	}
	return overall
}

// degrade escalates one step: healthy becomes warning, anything
// already degraded becomes unhealthy.
func degrade(status string) string {
	if status == StatusHealthy {
		return StatusWarning
	}
	return StatusUnhealthy
}

const (
	goroutineWarnThreshold = 500
	heapWarnThresholdMB    = 1024
)

// RegisterDefaultChecks wires the runtime-resources and request-rate
// checks against the monitor.
func RegisterDefaultChecks(checker *Checker, monitor *Monitor) {
	checker.Register("runtime_resources", func() CheckResult {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines := runtime.NumGoroutine()
		heapMB := float64(ms.HeapAlloc) / bytesPerMB

		status := StatusHealthy
		var messages []string
		if goroutines > goroutineWarnThreshold {
			status = degrade(status)
			messages = append(messages, fmt.Sprintf("High goroutine count: %d", goroutines))
		}
		if heapMB > heapWarnThresholdMB {
			status = degrade(status)
			messages = append(messages, fmt.Sprintf("High heap usage: %.1fMB", heapMB))
		}

		message := "Runtime resources OK"
		if len(messages) > 0 {
			message = strings.Join(messages, "; ")
		}
		return CheckResult{
			Status:  status,
			Message: message,
			Details: map[string]any{
				"goroutines": goroutines,
				"heap_mb":    heapMB,
				"sys_mb":     float64(ms.Sys) / bytesPerMB,
				"num_gc":     ms.NumGC,
				"go_version": runtime.Version(),
				"num_cpu":    runtime.NumCPU(),
			},
		}
	})

	checker.Register("request_rate", func() CheckResult {
		stats := monitor.RequestStats()

		status := StatusHealthy
		var messages []string
		if stats.SuccessRate < 0.9 && stats.TotalRequests > 10 {
			status = StatusWarning
			messages = append(messages, fmt.Sprintf("Low success rate: %.2f%%", stats.SuccessRate*100))
		}
		if stats.ActiveRequests > 50 {
			status = degrade(status)
			messages = append(messages, fmt.Sprintf("High active requests: %d", stats.ActiveRequests))
		}
		if stats.AvgResponseTime > 10 {
			status = degrade(status)
			messages = append(messages, fmt.Sprintf("High avg response time: %.2fs", stats.AvgResponseTime))
		}

		message := "Request metrics OK"
		if len(messages) > 0 {
			message = strings.Join(messages, "; ")
		}
		return CheckResult{
			Status:  status,
			Message: message,
			Details: map[string]any{"stats": stats},
		}
	})
}
