package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/query"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

type WebSocketHandler struct {
	processor QueryProcessor
	timeout   time.Duration
}

func NewWebSocketHandler(processor QueryProcessor, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &WebSocketHandler{
		processor: processor,
		timeout:   timeout,
	}
}

type clientMessage struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// jsonWriter is the part of a websocket connection used for replies.
type jsonWriter interface {
	WriteJSON(v interface{}) error
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg clientMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "query" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		err := h.streamResponse(ctx, c, msg)
		cancel()
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			break
		}
	}
}

// streamResponse answers one query: a status frame, the answer word by word,
// then a complete frame with the response metadata. Query failures are
// reported to the client; only write failures are returned.
func (h *WebSocketHandler) streamResponse(ctx context.Context, w jsonWriter, msg clientMessage) error {
	if err := h.sendChunk(w, "status", "Processing query..."); err != nil {
		return err
	}

	response, err := h.processor.Process(ctx, query.Request{
		QueryText:      msg.Content,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
	})
	if err != nil {
		logger.Warn("WebSocket query failed", zap.Error(err))
		return h.sendError(w, query.KindOf(err))
	}

	words := splitIntoWords(response.AnswerText)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" && words[i+1] != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(w, "chunk", chunk); err != nil {
			return err
		}
	}

	return h.sendComplete(w, response)
}

func (h *WebSocketHandler) sendChunk(w jsonWriter, msgType, content string) error {
	return w.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendComplete(w jsonWriter, response *query.Response) error {
	return w.WriteJSON(map[string]interface{}{
		"type":              "complete",
		"message_id":        response.RequestID,
		"conversation_id":   response.ConversationID,
		"sources":           response.Sources,
		"tier_used":         response.TierUsed,
		"fallback_occurred": response.FallbackOccurred,
		"cost":              response.Cost,
		"latency_ms":        response.LatencyMS,
		"quality_scores":    response.QualityScores,
		"governance":        response.Governance,
		"cached":            response.Cached,
	})
}

func (h *WebSocketHandler) sendError(w jsonWriter, kind query.ErrorKind) error {
	message := "Failed to process query"
	switch kind {
	case query.KindInvalidQuery:
		message = "Query is required"
	case query.KindCancelled:
		message = "Query timed out"
	}

	return w.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": message,
		"kind":  kind,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
