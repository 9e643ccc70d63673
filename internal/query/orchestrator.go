// Package query runs a question through the full answering pipeline: cache,
// guardrails, tier selection, retrieval, prompting, tiered invocation,
// evaluation and audit.
package query

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/audit"
	"github.com/aws-agent/knowledge-assistant/internal/complexity"
	"github.com/aws-agent/knowledge-assistant/internal/evaluation"
	"github.com/aws-agent/knowledge-assistant/internal/fallback"
	"github.com/aws-agent/knowledge-assistant/internal/guardrail"
	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/prompt"
	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/internal/storage/models"
	"github.com/aws-agent/knowledge-assistant/internal/tier"
	"github.com/aws-agent/knowledge-assistant/pkg/logger"
	"github.com/aws-agent/knowledge-assistant/pkg/utils"
)

var tracer = otel.Tracer("github.com/aws-agent/knowledge-assistant/internal/query")

type ResponseCache interface {
	Get(ctx context.Context, query string) (json.RawMessage, bool)
	Put(ctx context.Context, query string, payload any)
}

type Guardrails interface {
	CheckInput(ctx context.Context, text, userID string) guardrail.Verdict
	CheckOutput(ctx context.Context, text, userID string) guardrail.Verdict
}

type Retriever interface {
	RetrieveAndRerank(ctx context.Context, query string) []retrieval.Chunk
}

type Invoker interface {
	Invoke(ctx context.Context, selected tier.Tier, prompt, userID string) (fallback.Result, error)
}

type Evaluator interface {
	EvaluateQuery(ctx context.Context, query, answer string, chunks []retrieval.Chunk, meta evaluation.Metadata) evaluation.Score
}

type Auditor interface {
	LogQuery(ctx context.Context, q audit.QueryEvent) string
}

type ConversationStore interface {
	RecentTurns(ctx context.Context, conversationID string, limit int, since time.Time) ([]models.ConversationTurn, error)
	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error
}

type RecordStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	InsertQuerySource(ctx context.Context, source *models.QuerySource) error
}

// Deps are the orchestrator's collaborators. Cache, Evaluator, Auditor,
// Conversations and Records may be nil.
type Deps struct {
	Cache         ResponseCache
	Guardrails    Guardrails
	Retriever     Retriever
	Assembler     *prompt.Assembler
	Invoker       Invoker
	Evaluator     Evaluator
	Auditor       Auditor
	Conversations ConversationStore
	Records       RecordStore
}

type Config struct {
	HistoryLimit   int
	Retention      time.Duration
	PersistTimeout time.Duration
}

type Request struct {
	QueryText      string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Score      float64 `json:"score"`
}

type Governance struct {
	PIIDetected       bool     `json:"pii_detected"`
	PIITypes          []string `json:"pii_types,omitempty"`
	GuardrailsApplied bool     `json:"guardrails_applied"`
	AuditID           string   `json:"audit_id,omitempty"`
}

type TokenUsage struct {
	Prompt int `json:"prompt"`
	Output int `json:"output"`
}

type Response struct {
	RequestID        string                `json:"request_id"`
	ConversationID   string                `json:"conversation_id"`
	AnswerText       string                `json:"answer"`
	Sources          []Source              `json:"sources"`
	TierUsed         tier.Tier             `json:"tier_used"`
	ModelID          string                `json:"model_id,omitempty"`
	FallbackOccurred bool                  `json:"fallback_occurred"`
	Cost             float64               `json:"cost"`
	LatencyMS        int64                 `json:"latency_ms"`
	InvocationMS     int64                 `json:"invocation_ms"`
	Tokens           TokenUsage            `json:"tokens"`
	QualityScores    *evaluation.Score     `json:"quality_scores,omitempty"`
	Governance       Governance            `json:"governance"`
	Complexity       complexity.Assessment `json:"complexity"`
	Cached           bool                  `json:"cached"`
	CacheAgeSeconds  int64                 `json:"cache_age_seconds,omitempty"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Process answers one question. Only an empty query or a missing tier chain
// returns an error. Upstream failures and a caller deadline that expires
// mid-invocation degrade into a response with flags set.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	start := o.now()

	queryText := strings.TrimSpace(req.QueryText)
	if queryText == "" {
		metrics.QueryTotal.WithLabelValues("invalid").Inc()
		return nil, &Error{Kind: KindInvalidQuery, Err: ErrInvalidQuery}
	}

	userID := req.UserID
	if userID == "" {
		userID = audit.AnonymousUser
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	requestID := uuid.New().String()

	ctx, span := tracer.Start(ctx, "query.process", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.String("conversation_id", conversationID),
	))
	defer span.End()

	log := logger.GetLogger().With(
		zap.String("request_id", requestID),
		zap.String("query_hash", utils.QueryKey(queryText)),
	)

	if resp, ok := o.fromCache(ctx, queryText, start); ok {
		resp.RequestID = requestID
		resp.ConversationID = conversationID
		o.finish(span, "cached", start)
		log.Info("Query served from cache", zap.Int64("cache_age_seconds", resp.CacheAgeSeconds))
		return resp, nil
	}

	gctx, gspan := tracer.Start(ctx, "guardrail.input")
	verdict := o.deps.Guardrails.CheckInput(gctx, queryText, userID)
	gspan.SetAttributes(attribute.Bool("skip_processing", verdict.SkipProcessing), attribute.Bool("pii_detected", verdict.PIIDetected))
	gspan.End()

	if verdict.SkipProcessing {
		resp := &Response{
			RequestID:      requestID,
			ConversationID: conversationID,
			AnswerText:     verdict.SafeMessage,
			Sources:        []Source{},
			TierUsed:       tier.None,
			Governance: Governance{
				PIIDetected:       verdict.PIIDetected,
				GuardrailsApplied: true,
			},
			GeneratedAt: o.now().UTC(),
		}
		resp.LatencyMS = o.now().Sub(start).Milliseconds()
		resp.Governance.AuditID = o.auditQuery(ctx, requestID, userID, queryText, resp, true)
		o.finish(span, "blocked", start)
		log.Info("Query blocked by input guardrails", zap.Int("issues", len(verdict.Issues)))
		return resp, nil
	}

	processed := verdict.Text
	history := o.loadHistory(ctx, conversationID, log)

	assessment := complexity.Score(processed, history)
	selected, _ := tier.Select(assessment.Score)
	metrics.ComplexityScore.Observe(float64(assessment.Score))
	metrics.TierSelected.WithLabelValues(selected.String()).Inc()
	span.SetAttributes(attribute.Int("complexity", assessment.Score), attribute.String("tier_selected", selected.String()))

	rctx, rspan := tracer.Start(ctx, "retrieval")
	chunks := o.deps.Retriever.RetrieveAndRerank(rctx, processed)
	rspan.SetAttributes(attribute.Int("chunks", len(chunks)))
	rspan.End()

	assembled := o.deps.Assembler.Assemble(processed, chunks, history)
	metrics.RetrievedChunks.Observe(float64(len(assembled.ChunksUsed)))
	metrics.PromptTokens.Observe(float64(assembled.Tokens))
	if assembled.Truncated || assembled.OverBudget {
		log.Debug("Prompt trimmed to token budget",
			zap.Int("tokens", assembled.Tokens),
			zap.Int("chunks_used", len(assembled.ChunksUsed)),
			zap.Int("turns_used", assembled.TurnsUsed),
			zap.Bool("over_budget", assembled.OverBudget),
		)
	}

	ictx, ispan := tracer.Start(ctx, "invoke", trace.WithAttributes(attribute.String("tier_selected", selected.String())))
	result, err := o.deps.Invoker.Invoke(ictx, selected, assembled.Text, userID)
	if err != nil {
		ispan.RecordError(err)
		ispan.End()
		o.finish(span, string(KindInternal), start)
		log.Error("Query abandoned before invocation", zap.Error(err))
		return nil, &Error{Kind: KindInternal, Err: err}
	}
	ispan.SetAttributes(
		attribute.String("tier_used", result.TierUsed.String()),
		attribute.Bool("fallback", result.FallbackOccurred),
		attribute.Bool("interrupted", result.Interrupted),
	)
	ispan.End()

	answer := result.Text
	guardrailsApplied := false
	if result.TierUsed != tier.None {
		octx, ospan := tracer.Start(ctx, "guardrail.output")
		out := o.deps.Guardrails.CheckOutput(octx, answer, userID)
		ospan.End()
		if !out.Safe {
			answer = out.Text
			guardrailsApplied = true
		}
	}

	resp := &Response{
		RequestID:        requestID,
		ConversationID:   conversationID,
		AnswerText:       answer,
		Sources:          sourcesOf(assembled.ChunksUsed),
		TierUsed:         result.TierUsed,
		ModelID:          result.ModelID,
		FallbackOccurred: result.FallbackOccurred,
		Cost:             result.Cost,
		InvocationMS:     result.Latency.Milliseconds(),
		Tokens:           TokenUsage{Prompt: result.InputTokens, Output: result.OutputTokens},
		Governance: Governance{
			PIIDetected:       verdict.PIIDetected,
			PIITypes:          verdict.PIITypes,
			GuardrailsApplied: guardrailsApplied,
		},
		Complexity:  assessment,
		GeneratedAt: o.now().UTC(),
	}
	resp.LatencyMS = o.now().Sub(start).Milliseconds()

	// Writes below outlive a disconnected caller.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()

	o.persist(pctx, resp, userID, queryText, processed, log)

	// An interrupted chain produced no exchange worth scoring or replaying.
	if o.deps.Evaluator != nil && !result.Interrupted {
		ectx, espan := tracer.Start(pctx, "evaluate")
		score := o.deps.Evaluator.EvaluateQuery(ectx, processed, answer, assembled.ChunksUsed, evaluation.Metadata{
			QueryID:         requestID,
			ModelID:         result.ModelID,
			Tier:            result.TierUsed.String(),
			ComplexityScore: assessment.Score,
			Latency:         time.Duration(resp.LatencyMS) * time.Millisecond,
			Cost:            result.Cost,
		})
		espan.End()
		resp.QualityScores = &score
	}

	if o.deps.Conversations != nil && !result.Interrupted {
		err := o.deps.Conversations.AppendTurn(pctx, &models.ConversationTurn{
			ConversationID: conversationID,
			QueryText:      processed,
			ResponseText:   answer,
			CreatedAt:      resp.GeneratedAt,
		})
		if err != nil {
			log.Warn("Failed to store conversation turn", zap.Error(err))
		}
	}

	if o.deps.Cache != nil && result.TierUsed != tier.None {
		o.deps.Cache.Put(pctx, queryText, resp)
	}

	resp.Governance.AuditID = o.auditQuery(pctx, requestID, userID, queryText, resp, false)

	outcome := "answered"
	switch {
	case result.Interrupted:
		outcome = "interrupted"
	case result.TierUsed == tier.None:
		outcome = "exhausted"
	}
	o.finish(span, outcome, start)

	log.Info("Query processed",
		zap.String("tier_selected", selected.String()),
		zap.String("tier_used", result.TierUsed.String()),
		zap.Bool("fallback", result.FallbackOccurred),
		zap.Int("complexity", assessment.Score),
		zap.Int("chunks", len(resp.Sources)),
		zap.Float64("cost", resp.Cost),
		zap.Int64("latency_ms", resp.LatencyMS),
		zap.Int64("invocation_ms", resp.InvocationMS),
	)

	return resp, nil
}

// fromCache returns a fresh copy of a cached response. An entry that does
// not decode is a miss.
func (o *Orchestrator) fromCache(ctx context.Context, queryText string, start time.Time) (*Response, bool) {
	if o.deps.Cache == nil {
		return nil, false
	}

	ctx, span := tracer.Start(ctx, "cache.lookup")
	defer span.End()

	payload, ok := o.deps.Cache.Get(ctx, queryText)
	span.SetAttributes(attribute.Bool("hit", ok))
	if !ok {
		return nil, false
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		logger.Warn("Discarding undecodable cached response", zap.Error(err))
		return nil, false
	}

	now := o.now()
	resp.Cached = true
	resp.Cost = 0
	resp.LatencyMS = now.Sub(start).Milliseconds()
	if !resp.GeneratedAt.IsZero() {
		resp.CacheAgeSeconds = int64(now.Sub(resp.GeneratedAt).Seconds())
	}
	return &resp, true
}

func (o *Orchestrator) loadHistory(ctx context.Context, conversationID string, log *zap.Logger) []models.ConversationTurn {
	if o.deps.Conversations == nil {
		return nil
	}

	var since time.Time
	if o.cfg.Retention > 0 {
		since = o.now().Add(-o.cfg.Retention)
	}

	turns, err := o.deps.Conversations.RecentTurns(ctx, conversationID, o.cfg.HistoryLimit, since)
	if err != nil {
		log.Warn("Failed to load conversation history, continuing without it", zap.Error(err))
		return nil
	}
	return turns
}

// persist writes the query record and then its sources, which reference it.
// The stored text is the redacted query.
func (o *Orchestrator) persist(ctx context.Context, resp *Response, userID, queryText, processed string, log *zap.Logger) {
	if o.deps.Records == nil {
		return
	}

	record := &models.QueryRecord{
		ID:                resp.RequestID,
		UserID:            userID,
		ConversationID:    resp.ConversationID,
		QueryText:         processed,
		QueryHash:         utils.QueryKey(queryText),
		Response:          resp.AnswerText,
		TierUsed:          resp.TierUsed.String(),
		ModelID:           resp.ModelID,
		ComplexityScore:   resp.Complexity.Score,
		FallbackOccurred:  resp.FallbackOccurred,
		PIIDetected:       resp.Governance.PIIDetected,
		GuardrailsApplied: resp.Governance.GuardrailsApplied,
		PromptTokens:      resp.Tokens.Prompt,
		OutputTokens:      resp.Tokens.Output,
		Cost:              resp.Cost,
		LatencyMS:         resp.LatencyMS,
		CreatedAt:         resp.GeneratedAt,
	}
	if err := o.deps.Records.InsertQueryRecord(ctx, record); err != nil {
		log.Warn("Failed to store query record", zap.Error(err))
		return
	}

	for _, s := range resp.Sources {
		err := o.deps.Records.InsertQuerySource(ctx, &models.QuerySource{
			QueryID:    resp.RequestID,
			DocumentID: s.DocumentID,
			ChunkID:    s.ChunkID,
			Score:      s.Score,
		})
		if err != nil {
			log.Warn("Failed to store query source", zap.String("document_id", s.DocumentID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) auditQuery(ctx context.Context, requestID, userID, queryText string, resp *Response, blocked bool) string {
	if o.deps.Auditor == nil {
		return ""
	}
	return o.deps.Auditor.LogQuery(ctx, audit.QueryEvent{
		RequestID:        requestID,
		UserID:           userID,
		Query:            queryText,
		Response:         resp.AnswerText,
		ModelID:          resp.ModelID,
		PIIDetected:      resp.Governance.PIIDetected,
		GuardrailBlocked: blocked,
		Cost:             resp.Cost,
		Latency:          time.Duration(resp.LatencyMS) * time.Millisecond,
	})
}

func (o *Orchestrator) finish(span trace.Span, outcome string, start time.Time) {
	metrics.QueryTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.WithLabelValues(outcome).Observe(o.now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))
	if outcome == string(KindCancelled) || outcome == string(KindInternal) {
		span.SetStatus(codes.Error, outcome)
	}
}

func sourcesOf(chunks []retrieval.Chunk) []Source {
	sources := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, Source{
			DocumentID: c.DocumentID,
			ChunkID:    c.ChunkID,
			Score:      c.RelevanceScore,
		})
	}
	return sources
}
