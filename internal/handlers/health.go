package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/roadbotai/roadbot/internal/monitoring"
)

// HealthHandler serves the composite health status. Only the
// unhealthy state turns into a non-200 response; warnings stay 200 so
// load balancers do not evict a degraded but working instance.
type HealthHandler struct {
	checker *monitoring.Checker
	logger  *slog.Logger
}

func NewHealthHandler(log *slog.Logger, checker *monitoring.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		checker: checker,
		logger:  log.With(slog.String("handler", "health")),
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
}

func (h *HealthHandler) Health(c echo.Context) error {
	results := h.checker.RunAll()
	overall := h.checker.OverallStatus()

	status := http.StatusOK
	if overall == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
