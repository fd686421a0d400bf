// Package monitoring collects in-process performance metrics and runs
// the health checks exposed over HTTP. Recording never blocks the
// message pipeline.
package monitoring

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ringSize bounds the per-metric sample history.
const ringSize = 1000

// Sample is one recorded metric value.
type Sample struct {
	Timestamp time.Time
	Value     float64
	Tags      map[string]string
}

// ring is a fixed-capacity sample buffer. Oldest samples are
// overwritten once full.
type ring struct {
	samples []Sample
	next    int
	full    bool
}

func (r *ring) add(s Sample) {
	if r.samples == nil {
		r.samples = make([]Sample, ringSize)
	}
	r.samples[r.next] = s
	r.next = (r.next + 1) % ringSize
	if r.next == 0 {
		r.full = true
	}
}

// all returns the samples oldest first.
func (r *ring) all() []Sample {
	if !r.full {
		return r.samples[:r.next]
	}
	out := make([]Sample, 0, ringSize)
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

// RequestStats is the aggregate view of task processing.
type RequestStats struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	AvgResponseTime    float64 `json:"avg_response_time"`
	MaxResponseTime    float64 `json:"max_response_time"`
	MinResponseTime    float64 `json:"min_response_time"`
	ActiveRequests     int64   `json:"active_requests"`
	UptimeSeconds      float64 `json:"uptime"`
}

// Summary aggregates one metric over a time window.
type Summary struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Latest float64 `json:"latest"`
}

// Monitor accumulates request statistics and named metric rings.
type Monitor struct {
	mu      sync.Mutex
	metrics map[string]*ring

	totalRequests int64
	successful    int64
	failed        int64
	totalTime     float64
	maxTime       float64
	minTime       float64
	active        int64

	startTime time.Time
	logger    *slog.Logger
}

func NewMonitor(log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		metrics:   make(map[string]*ring),
		startTime: time.Now(),
		logger:    log.With(slog.String("service", "monitoring")),
	}
}

// RecordMetric appends one sample to the named ring.
func (m *Monitor) RecordMetric(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	r, ok := m.metrics[name]
	if !ok {
		r = &ring{}
		m.metrics[name] = r
	}
	r.add(Sample{Timestamp: time.Now(), Value: value, Tags: tags})
	m.mu.Unlock()
}

// RecordRequest folds one finished task into the aggregate stats.
func (m *Monitor) RecordRequest(success bool, duration time.Duration) {
	seconds := duration.Seconds()

	m.mu.Lock()
	m.totalRequests++
	if success {
		m.successful++
	} else {
		m.failed++
	}
	m.totalTime += seconds
	if seconds > m.maxTime {
		m.maxTime = seconds
	}
	if m.minTime == 0 || seconds < m.minTime {
		m.minTime = seconds
	}
	m.mu.Unlock()

	m.RecordMetric("request_response_time", seconds, map[string]string{
		"success": map[bool]string{true: "true", false: "false"}[success],
	})
}

// TaskStarted increments the active task gauge.
func (m *Monitor) TaskStarted() {
	m.mu.Lock()
	m.active++
	active := m.active
	m.mu.Unlock()
	m.RecordMetric("active_requests", float64(active), nil)
}

// TaskFinished decrements the active task gauge.
func (m *Monitor) TaskFinished() {
	m.mu.Lock()
	if m.active > 0 {
		m.active--
	}
	active := m.active
	m.mu.Unlock()
	m.RecordMetric("active_requests", float64(active), nil)
}

// RequestStats returns a snapshot of the aggregate request view.
func (m *Monitor) RequestStats() RequestStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := RequestStats{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		MaxResponseTime:    m.maxTime,
		MinResponseTime:    m.minTime,
		ActiveRequests:     m.active,
		UptimeSeconds:      time.Since(m.startTime).Seconds(),
	}
	if m.totalRequests > 0 {
		stats.SuccessRate = float64(m.successful) / float64(m.totalRequests)
		stats.AvgResponseTime = m.totalTime / float64(m.totalRequests)
	}
	return stats
}

// MetricsSummary aggregates samples of one metric within the window.
func (m *Monitor) MetricsSummary(name string, window time.Duration) Summary {
	cutoff := time.Now().Add(-window)

	m.mu.Lock()
	r, ok := m.metrics[name]
	if !ok {
		m.mu.Unlock()
		return Summary{}
	}
	samples := r.all()
	m.mu.Unlock()

	var summary Summary
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if summary.Count == 0 || s.Value < summary.Min {
			summary.Min = s.Value
		}
		if s.Value > summary.Max {
			summary.Max = s.Value
		}
		summary.Avg += s.Value
		summary.Latest = s.Value
		summary.Count++
	}
	if summary.Count > 0 {
		summary.Avg /= float64(summary.Count)
	}
	return summary
}

const bytesPerMB = 1024 * 1024

// SampleRuntime records current Go runtime resource metrics.
func (m *Monitor) SampleRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.RecordMetric("go_goroutines", float64(runtime.NumGoroutine()), nil)
	m.RecordMetric("go_heap_alloc_mb", float64(ms.HeapAlloc)/bytesPerMB, nil)
	m.RecordMetric("go_sys_mb", float64(ms.Sys)/bytesPerMB, nil)
	m.RecordMetric("go_num_gc", float64(ms.NumGC), nil)
}

// Sampler records runtime metrics on a fixed schedule.
type Sampler struct {
	cron    *cron.Cron
	monitor *Monitor
	logger  *slog.Logger
}

// NewSampler schedules a runtime sample every 30 seconds. Start must
// be called to begin sampling.
func NewSampler(log *slog.Logger, monitor *Monitor) (*Sampler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Sampler{
		cron:    cron.New(),
		monitor: monitor,
		logger:  log.With(slog.String("service", "monitoring")),
	}
	if _, err := s.cron.AddFunc("@every 30s", s.monitor.SampleRuntime); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sampler) Start() {
	// Seed the rings so the first report is not empty.
	s.monitor.SampleRuntime()
	s.cron.Start()
	s.logger.Info("runtime sampler started")
}

func (s *Sampler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("runtime sampler stopped")
}
