package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
)

// ErrUnknownQuery is returned when a row references a query that was never
// recorded.
var ErrUnknownQuery = errors.New("unknown query")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		query_text TEXT NOT NULL,
		response_text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_id, id);
	CREATE INDEX IF NOT EXISTS idx_turns_created ON conversation_turns(created_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		conversation_id TEXT,
		query_text TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		response TEXT,
		tier_used TEXT,
		model_id TEXT,
		complexity_score INTEGER,
		fallback_occurred INTEGER DEFAULT 0,
		cached INTEGER DEFAULT 0,
		pii_detected INTEGER DEFAULT 0,
		guardrails_applied INTEGER DEFAULT 0,
		prompt_tokens INTEGER,
		output_tokens INTEGER,
		cost REAL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_id TEXT,
		score REAL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_query ON query_sources(query_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		feedback_type TEXT NOT NULL,
		rating INTEGER,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);

	CREATE TABLE IF NOT EXISTS evaluation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		model_id TEXT,
		tier_used TEXT,
		complexity_score INTEGER,
		relevance_score REAL,
		coherence_score REAL,
		completeness_score REAL,
		accuracy_score REAL,
		conciseness_score REAL,
		groundedness_score REAL,
		overall_score REAL,
		chunk_count INTEGER,
		latency_ms INTEGER,
		cost REAL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_eval_query ON evaluation_results(query_id);
	CREATE INDEX IF NOT EXISTS idx_eval_created ON evaluation_results(created_at);

	CREATE TABLE IF NOT EXISTS audit_events (
		audit_id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		user_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_events(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type, timestamp);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// AppendTurn adds one exchange to a conversation.
func (c *Client) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	query := `INSERT INTO conversation_turns (conversation_id, query_text, response_text, created_at) VALUES (?, ?, ?, ?)`

	res, err := c.db.ExecContext(ctx, query,
		turn.ConversationID,
		turn.QueryText,
		turn.ResponseText,
		turn.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		turn.Sequence = id
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns created at or after
// since, oldest first.
func (c *Client) RecentTurns(ctx context.Context, conversationID string, limit int, since time.Time) ([]models.ConversationTurn, error) {
	query := `
		SELECT id, conversation_id, query_text, response_text, created_at
		FROM conversation_turns
		WHERE conversation_id = ? AND created_at >= ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, conversationID, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var createdAt int64

		if err := rows.Scan(&t.Sequence, &t.ConversationID, &t.QueryText, &t.ResponseText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// PurgeTurnsBefore deletes turns older than cutoff.
func (c *Client) PurgeTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge turns: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("Expired conversation turns purged", zap.Int64("deleted", n))
	}
	return n, nil
}

func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, user_id, conversation_id, query_text, query_hash, response, tier_used,
			model_id, complexity_score, fallback_occurred, cached, pii_detected, guardrails_applied,
			prompt_tokens, output_tokens, cost, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.ConversationID,
		record.QueryText,
		record.QueryHash,
		record.Response,
		record.TierUsed,
		record.ModelID,
		record.ComplexityScore,
		boolToInt(record.FallbackOccurred),
		boolToInt(record.Cached),
		boolToInt(record.PIIDetected),
		boolToInt(record.GuardrailsApplied),
		record.PromptTokens,
		record.OutputTokens,
		record.Cost,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("tier", record.TierUsed),
		zap.Bool("cached", record.Cached),
	)

	return nil
}

func (c *Client) InsertQuerySource(ctx context.Context, source *models.QuerySource) error {
	query := `INSERT INTO query_sources (query_id, document_id, chunk_id, score) VALUES (?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		source.QueryID,
		source.DocumentID,
		source.ChunkID,
		source.Score,
	)

	if err != nil {
		return fmt.Errorf("failed to insert query source: %w", foreignKey(err))
	}

	return nil
}

// GetQueryHistory lists a user's queries, newest first.
func (c *Client) GetQueryHistory(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, COALESCE(conversation_id, ''), query_text, COALESCE(response, ''), COALESCE(tier_used, ''),
			COALESCE(model_id, ''), fallback_occurred, cached, pii_detected, guardrails_applied,
			COALESCE(cost, 0), COALESCE(latency_ms, 0), created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var fallback, cached, pii, guarded int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.ConversationID, &r.QueryText, &r.Response, &r.TierUsed, &r.ModelID,
			&fallback, &cached, &pii, &guarded, &r.Cost, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.UserID = userID
		r.FallbackOccurred = fallback == 1
		r.Cached = cached == 1
		r.PIIDetected = pii == 1
		r.GuardrailsApplied = guarded == 1
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) GetQuerySources(ctx context.Context, queryID string) ([]models.QuerySource, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, query_id, document_id, COALESCE(chunk_id, ''), COALESCE(score, 0) FROM query_sources WHERE query_id = ? ORDER BY id`,
		queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get query sources: %w", err)
	}
	defer rows.Close()

	var sources []models.QuerySource
	for rows.Next() {
		var s models.QuerySource
		if err := rows.Scan(&s.ID, &s.QueryID, &s.DocumentID, &s.ChunkID, &s.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, s)
	}

	return sources, rows.Err()
}

func (c *Client) StoreFeedback(ctx context.Context, feedback *models.Feedback) error {
	query := `INSERT INTO feedback (query_id, user_id, feedback_type, rating, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	var rating any
	if feedback.Rating > 0 {
		rating = feedback.Rating
	}

	res, err := c.db.ExecContext(ctx, query,
		feedback.QueryID,
		feedback.UserID,
		string(feedback.Type),
		rating,
		feedback.Comment,
		feedback.CreatedAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", foreignKey(err))
	}

	if id, err := res.LastInsertId(); err == nil {
		feedback.ID = int(id)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.String("type", string(feedback.Type)),
	)

	return nil
}

func (c *Client) ListFeedback(ctx context.Context, from, to time.Time) ([]models.Feedback, error) {
	query := `
		SELECT id, query_id, user_id, feedback_type, COALESCE(rating, 0), COALESCE(comment, ''), created_at
		FROM feedback
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at
	`

	rows, err := c.db.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []models.Feedback
	for rows.Next() {
		var f models.Feedback
		var fbType string
		var createdAt int64

		if err := rows.Scan(&f.ID, &f.QueryID, &f.UserID, &fbType, &f.Rating, &f.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		f.Type = models.FeedbackType(fbType)
		f.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, f)
	}

	return out, rows.Err()
}

func (c *Client) InsertEvaluation(ctx context.Context, result *models.EvaluationResult) error {
	query := `
		INSERT INTO evaluation_results (query_id, model_id, tier_used, complexity_score, relevance_score,
			coherence_score, completeness_score, accuracy_score, conciseness_score, groundedness_score,
			overall_score, chunk_count, latency_ms, cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.ExecContext(ctx, query,
		result.QueryID,
		result.ModelID,
		result.TierUsed,
		result.ComplexityScore,
		result.RelevanceScore,
		result.CoherenceScore,
		result.CompletenessScore,
		result.AccuracyScore,
		result.ConcisenessScore,
		result.GroundednessScore,
		result.OverallScore,
		result.ChunkCount,
		result.LatencyMS,
		result.Cost,
		result.CreatedAt.UnixMilli(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		result.ID = int(id)
	}
	return nil
}

func (c *Client) ListEvaluations(ctx context.Context, from, to time.Time) ([]models.EvaluationResult, error) {
	query := `
		SELECT id, query_id, COALESCE(model_id, ''), COALESCE(tier_used, ''), COALESCE(complexity_score, 0),
			relevance_score, coherence_score, completeness_score, accuracy_score, conciseness_score,
			groundedness_score, overall_score, chunk_count, latency_ms, cost, created_at
		FROM evaluation_results
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at
	`

	rows, err := c.db.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.EvaluationResult
	for rows.Next() {
		var r models.EvaluationResult
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryID, &r.ModelID, &r.TierUsed, &r.ComplexityScore,
			&r.RelevanceScore, &r.CoherenceScore, &r.CompletenessScore, &r.AccuracyScore,
			&r.ConcisenessScore, &r.GroundednessScore, &r.OverallScore, &r.ChunkCount,
			&r.LatencyMS, &r.Cost, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, r)
	}

	return out, rows.Err()
}

func (c *Client) AppendAuditEvent(ctx context.Context, record models.AuditRecord) error {
	query := `INSERT INTO audit_events (audit_id, timestamp, event_type, user_id, severity, details) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		record.AuditID,
		record.Timestamp.UnixMilli(),
		record.EventType,
		record.UserID,
		record.Severity,
		record.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// QueryAuditEvents returns matching events, newest first.
func (c *Client) QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, filter.Until.UnixMilli())
	}

	query := `SELECT audit_id, timestamp, event_type, user_id, severity, COALESCE(details, '') FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var ts int64

		if err := rows.Scan(&r.AuditID, &ts, &r.EventType, &r.UserID, &r.Severity, &r.Details); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Timestamp = time.UnixMilli(ts).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func foreignKey(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return fmt.Errorf("%w: %v", ErrUnknownQuery, err)
	}
	return err
}
