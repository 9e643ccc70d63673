package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/ingestion"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, url, htmlContent string) (*ingestion.Result, error)
}

type DocumentHandler struct {
	processor DocumentProcessor
}

func NewDocumentHandler(processor DocumentProcessor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		URL         string `json:"url"`
		HTMLContent string `json:"html_content"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.URL == "" || req.HTMLContent == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL and HTML content are required",
		})
	}

	result, err := h.processor.ProcessDocument(c.Context(), req.URL, req.HTMLContent)
	if errors.Is(err, ingestion.ErrNoContent) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Document has no indexable content",
		})
	}
	if err != nil {
		logger.Error("Failed to process document", zap.String("url", req.URL), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":     "Document processed successfully",
		"document_id": result.DocumentID,
		"title":       result.Title,
		"chunks":      result.Chunks,
	})
}
