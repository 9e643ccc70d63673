package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/aws-agent/knowledge-assistant/internal/api/handlers"
	"github.com/aws-agent/knowledge-assistant/internal/metrics"
)

type Handlers struct {
	Query      *handlers.QueryHandler
	Governance *handlers.GovernanceHandler
	System     *handlers.SystemHandler
	Documents  *handlers.DocumentHandler
	WebSocket  *handlers.WebSocketHandler
}

// Register mounts the HTTP and websocket routes. Middleware is installed by
// the caller before Register.
func Register(app *fiber.App, h Handlers) {
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/query", h.Query.HandleQuery)
	api.Get("/query/history", h.Query.GetQueryHistory)

	api.Post("/documents", h.Documents.UploadDocument)

	api.Post("/feedback", h.Governance.SubmitFeedback)
	api.Get("/quality/report", h.Governance.GetQualityReport)
	api.Get("/audit/trail", h.Governance.GetAuditTrail)
	api.Get("/audit/report", h.Governance.GetComplianceReport)

	api.Delete("/cache", h.System.InvalidateCache)
	api.Get("/health", h.System.Health)
	api.Get("/ready", h.System.Ready)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(h.WebSocket.HandleConnection))
}
