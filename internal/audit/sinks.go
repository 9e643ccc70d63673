package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// FileArchiver writes one JSON document per event under
// <base>/audit-logs/YYYY/MM/DD/<audit_id>.json.
type FileArchiver struct {
	baseDir string
}

func NewFileArchiver(baseDir string) *FileArchiver {
	return &FileArchiver{baseDir: baseDir}
}

func (a *FileArchiver) Path(e Event) string {
	return filepath.Join(a.baseDir, "audit-logs", e.Timestamp.UTC().Format("2006/01/02"), e.AuditID+".json")
}

func (a *FileArchiver) Archive(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := a.Path(e)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, timeout: timeout}
}

func (n *WebhookNotifier) Notify(ctx context.Context, subject string, e Event) error {
	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	agent := fiber.Post(n.url).
		JSON(fiber.Map{
			"subject": subject,
			"event":   e,
		}).
		Timeout(timeout)

	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("failed to send alert: %w", errs[0])
	}
	if code >= fiber.StatusBadRequest {
		return fmt.Errorf("alert webhook returned status %d", code)
	}
	return nil
}

// LogNotifier raises alerts on the process log when no webhook is set.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, subject string, e Event) error {
	n.log.Warn(subject,
		zap.String("audit_id", e.AuditID),
		zap.String("user_id", e.UserID),
		zap.Any("details", e.Details),
	)
	return nil
}
