package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/query"
	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

const defaultHistoryLimit = 50

type QueryProcessor interface {
	Process(ctx context.Context, req query.Request) (*query.Response, error)
}

type HistoryStore interface {
	GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	processor QueryProcessor
	history   HistoryStore
}

func NewQueryHandler(processor QueryProcessor, history HistoryStore) *QueryHandler {
	return &QueryHandler{
		processor: processor,
		history:   history,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req query.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"kind":  query.KindInvalidQuery,
		})
	}

	response, err := h.processor.Process(c.Context(), req)
	if err != nil {
		return queryError(c, err)
	}

	return c.JSON(response)
}

// queryError maps a Process failure to a status without exposing internals.
func queryError(c *fiber.Ctx, err error) error {
	kind := query.KindOf(err)
	switch kind {
	case query.KindInvalidQuery:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
			"kind":  kind,
		})
	case query.KindCancelled:
		logger.Warn("Query cancelled", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Query was cancelled before completion",
			"kind":  kind,
		})
	default:
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
			"kind":  kind,
		})
	}
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}

	records, err := h.history.GetQueryHistory(c.Context(), userID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"id":              r.ID,
			"conversation_id": r.ConversationID,
			"query":           r.QueryText,
			"response":        r.Response,
			"tier_used":       r.TierUsed,
			"model_id":        r.ModelID,
			"cached":          r.Cached,
			"cost":            r.Cost,
			"latency_ms":      r.LatencyMS,
			"created_at":      r.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"history": history,
	})
}
