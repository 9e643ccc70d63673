package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/query"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed query requests before they reach the
// orchestrator. Only markup injection is screened; content safety is left to
// the guardrail pipeline.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		switch {
		case strings.HasSuffix(c.Path(), "/api/v1/query"):
			return validateQuery(c, cfg)
		case strings.HasSuffix(c.Path(), "/api/v1/documents"):
			return validateDocument(c, cfg)
		}
		return c.Next()
	}
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return invalid(c, "Invalid JSON format")
	}

	text, ok := req["query"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return invalid(c, "Query is required and must be a string")
	}

	if utf8.RuneCountInString(text) > cfg.MaxQueryLength {
		return invalid(c, "Query exceeds maximum length")
	}

	if xssPattern.MatchString(text) {
		cfg.Logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.Int("query_length", len(text)),
		)
		return invalid(c, "Invalid query content")
	}

	if strings.ContainsRune(text, 0) {
		return invalid(c, "Query contains control characters")
	}

	return c.Next()
}

func validateDocument(c *fiber.Ctx, cfg Config) error {
	var req map[string]interface{}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	urlStr, ok := req["url"].(string)
	if !ok || urlStr == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required and must be a string",
		})
	}

	if !isValidURL(urlStr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid URL format",
		})
	}

	content, ok := req["html_content"].(string)
	if ok && len(content) > cfg.MaxDocumentSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Document content exceeds maximum size",
		})
	}

	return c.Next()
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func invalid(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"kind":  query.KindInvalidQuery,
	})
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}
