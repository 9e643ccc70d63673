package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency the service cannot answer without.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int, error)
}

type SystemHandler struct {
	deps  map[string]Pinger
	cache CacheInvalidator
}

func NewSystemHandler(deps map[string]Pinger, cache CacheInvalidator) *SystemHandler {
	return &SystemHandler{deps: deps, cache: cache}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *SystemHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
	defer cancel()

	checks := fiber.Map{}
	ready := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "unavailable"
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": checks,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"checks": checks,
	})
}

func (h *SystemHandler) InvalidateCache(c *fiber.Ctx) error {
	deleted, err := h.cache.Invalidate(c.Context())
	if err != nil {
		logger.Error("Failed to invalidate cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to invalidate cache",
			"deleted": deleted,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Cache invalidated",
		"deleted": deleted,
	})
}
