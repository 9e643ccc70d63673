package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/audit"
	"github.com/aws-agent/knowledge-assistant/internal/evaluation"
	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/internal/storage/sqlite"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

const (
	defaultTrailLimit   = 100
	defaultReportWindow = 7 * 24 * time.Hour
)

type AuditReader interface {
	Trail(ctx context.Context, filter models.AuditFilter) ([]audit.Event, error)
	ComplianceReport(ctx context.Context, from, to time.Time) (*audit.Report, error)
}

type QualityService interface {
	CollectFeedback(ctx context.Context, fb *models.Feedback) error
	Report(ctx context.Context, from, to time.Time) (*evaluation.QualityReport, error)
}

// GovernanceHandler serves the audit trail, compliance and quality reports,
// and user feedback.
type GovernanceHandler struct {
	audit   AuditReader
	quality QualityService
	now     func() time.Time
}

func NewGovernanceHandler(auditReader AuditReader, quality QualityService) *GovernanceHandler {
	return &GovernanceHandler{
		audit:   auditReader,
		quality: quality,
		now:     time.Now,
	}
}

func (h *GovernanceHandler) GetAuditTrail(c *fiber.Ctx) error {
	filter := models.AuditFilter{
		UserID:    c.Query("user_id"),
		EventType: c.Query("event_type"),
		Limit:     c.QueryInt("limit", defaultTrailLimit),
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = defaultTrailLimit
	}

	var err error
	if filter.Since, err = parseTime(c.Query("since")); err != nil {
		return badRequest(c, errBadTime("since"))
	}
	if filter.Until, err = parseTime(c.Query("until")); err != nil {
		return badRequest(c, errBadTime("until"))
	}

	events, err := h.audit.Trail(c.Context(), filter)
	if err != nil {
		logger.Error("Failed to read audit trail", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read audit trail",
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

func (h *GovernanceHandler) GetComplianceReport(c *fiber.Ctx) error {
	from, to, err := h.window(c)
	if err != nil {
		return badRequest(c, err)
	}

	report, err := h.audit.ComplianceReport(c.Context(), from, to)
	if err != nil {
		logger.Error("Failed to build compliance report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build compliance report",
		})
	}

	return c.JSON(report)
}

func (h *GovernanceHandler) GetQualityReport(c *fiber.Ctx) error {
	from, to, err := h.window(c)
	if err != nil {
		return badRequest(c, err)
	}

	report, err := h.quality.Report(c.Context(), from, to)
	if err != nil {
		logger.Error("Failed to build quality report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build quality report",
		})
	}

	return c.JSON(report)
}

func (h *GovernanceHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID string `json:"query_id"`
		UserID  string `json:"user_id"`
		Type    string `json:"type"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	fb := &models.Feedback{
		QueryID: req.QueryID,
		UserID:  req.UserID,
		Type:    models.FeedbackType(req.Type),
		Rating:  req.Rating,
		Comment: req.Comment,
	}

	err := h.quality.CollectFeedback(c.Context(), fb)
	switch {
	case err == nil:
	case errors.Is(err, evaluation.ErrInvalidFeedback):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, sqlite.ErrUnknownQuery):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Query not found",
		})
	default:
		logger.Error("Failed to store feedback", zap.String("query_id", req.QueryID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Feedback recorded",
		"query_id": fb.QueryID,
	})
}

// window reads from/to (RFC 3339) and defaults to the last seven days.
func (h *GovernanceHandler) window(c *fiber.Ctx) (time.Time, time.Time, error) {
	to, err := parseTime(c.Query("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errBadTime("to")
	}
	if to.IsZero() {
		to = h.now().UTC()
	}

	from, err := parseTime(c.Query("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errBadTime("from")
	}
	if from.IsZero() {
		from = to.Add(-defaultReportWindow)
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func errBadTime(param string) error {
	return errors.New(param + " must be an RFC 3339 timestamp")
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}
