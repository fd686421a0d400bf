package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roadbotai/roadbot/internal/faults"
	"github.com/roadbotai/roadbot/internal/monitoring"
)

// MetricsHandler serves the JSON performance report.
type MetricsHandler struct {
	monitor  *monitoring.Monitor
	checker  *monitoring.Checker
	reporter *faults.Reporter
	logger   *slog.Logger
}

func NewMetricsHandler(log *slog.Logger, monitor *monitoring.Monitor, checker *monitoring.Checker, reporter *faults.Reporter) *MetricsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &MetricsHandler{
		monitor:  monitor,
		checker:  checker,
		reporter: reporter,
		logger:   log.With(slog.String("handler", "metrics")),
	}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", h.Metrics)
}

func (h *MetricsHandler) Metrics(c echo.Context) error {
	report := monitoring.BuildReport(h.monitor, h.checker)
	return c.JSON(http.StatusOK, map[string]any{
		"timestamp":      report.Timestamp,
		"request_stats":  report.RequestStats,
		"system_metrics": report.SystemMetrics,
		"health_status":  report.HealthStatus,
		"health_checks":  report.HealthChecks,
		"error_stats":    h.reporter.Stats(),
	})
}
