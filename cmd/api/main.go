package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/aws-agent/knowledge-assistant/internal/api"
	"github.com/aws-agent/knowledge-assistant/internal/api/handlers"
	"github.com/aws-agent/knowledge-assistant/internal/audit"
	"github.com/aws-agent/knowledge-assistant/internal/cache"
	"github.com/aws-agent/knowledge-assistant/internal/cache/redis"
	"github.com/aws-agent/knowledge-assistant/internal/evaluation"
	"github.com/aws-agent/knowledge-assistant/internal/fallback"
	"github.com/aws-agent/knowledge-assistant/internal/guardrail"
	"github.com/aws-agent/knowledge-assistant/internal/ingestion"
	"github.com/aws-agent/knowledge-assistant/internal/llm"
	"github.com/aws-agent/knowledge-assistant/internal/metrics"
	"github.com/aws-agent/knowledge-assistant/internal/middleware/ratelimit"
	"github.com/aws-agent/knowledge-assistant/internal/middleware/security"
	"github.com/aws-agent/knowledge-assistant/internal/middleware/validation"
	"github.com/aws-agent/knowledge-assistant/internal/prompt"
	"github.com/aws-agent/knowledge-assistant/internal/query"
	"github.com/aws-agent/knowledge-assistant/internal/retrieval"
	"github.com/aws-agent/knowledge-assistant/internal/search/elastic"
	"github.com/aws-agent/knowledge-assistant/internal/search/milvus"
	"github.com/aws-agent/knowledge-assistant/internal/storage/sqlite"
	"github.com/aws-agent/knowledge-assistant/internal/telemetry"
	"github.com/aws-agent/knowledge-assistant/internal/tier"
	"github.com/aws-agent/knowledge-assistant/internal/tokens"
	"github.com/aws-agent/knowledge-assistant/pkg/config"
	appLogger "github.com/aws-agent/knowledge-assistant/pkg/logger"
)

type invalidatingStore interface {
	cache.Store
	Invalidate(ctx context.Context) (int, error)
}

type searchBackend interface {
	retrieval.Searcher
	retrieval.Indexer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting knowledge assistant API server")

	metrics.Init()

	shutdownTracer, err := telemetry.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Enabled)
	if err != nil {
		appLogger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	pingers := map[string]handlers.Pinger{"sqlite": sqliteClient}

	var responseStore, embeddingStore invalidatingStore
	redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, caching in process memory", zap.Error(err))
		responseStore = cache.NewMemoryStore()
		embeddingStore = cache.NewMemoryStore()
	} else {
		defer redisClient.Close()
		responseStore = redisClient.Namespace("query")
		embeddingStore = redisClient.Namespace("embedding")
		pingers["redis"] = redisClient
	}

	searcher, closeSearcher, err := newSearcher(cfg)
	if err != nil {
		appLogger.Fatal("Failed to create searcher", zap.Error(err))
	}
	defer closeSearcher()

	llmClient := llm.NewClient(cfg.LLM)
	embedder := cache.NewEmbeddingCache(llmClient, embeddingStore, 24*time.Hour)

	retriever := retrieval.NewEngine(searcher, embedder, retrieval.Config{
		Mode:       retrieval.Mode(cfg.Retrieval.Mode),
		MaxResults: cfg.Retrieval.MaxResults,
		TopK:       cfg.Retrieval.TopK,
		Timeout:    time.Duration(cfg.Retrieval.TimeoutSec) * time.Second,
	})

	processor := ingestion.NewProcessor(llmClient, searcher, ingestion.Config{
		ChunkSize:    cfg.Ingestion.ChunkSize,
		ChunkOverlap: cfg.Ingestion.ChunkOverlap,
	})

	counter := tokens.NewTiktokenCounter()
	assembler := prompt.NewAssembler(counter, prompt.Config{
		TokenBudget:      cfg.Prompt.TokenBudget,
		HistoryExchanges: cfg.Prompt.HistoryExchanges,
	})

	var notifier audit.Notifier = audit.NewLogNotifier(appLogger.Named("alerts"))
	if cfg.Audit.AlertWebhookURL != "" {
		notifier = audit.NewWebhookNotifier(cfg.Audit.AlertWebhookURL, time.Duration(cfg.Audit.TimeoutSec)*time.Second)
	}
	auditLogger := audit.NewLogger(
		sqliteClient,
		audit.NewFileArchiver(cfg.Audit.ArchiveDir),
		notifier,
		appLogger.Named("audit"),
		audit.WithTimeout(time.Duration(cfg.Audit.TimeoutSec)*time.Second),
	)

	policy, err := guardrail.ParsePolicy(cfg.Guardrail.Policy)
	if err != nil {
		appLogger.Fatal("Invalid guardrail policy", zap.Error(err))
	}
	var classifier guardrail.SafetyClassifier = guardrail.AllowAll{}
	if cfg.LLM.ModerationEnabled {
		classifier = guardrail.NewModerationClassifier(llmClient)
	}
	guardrails := guardrail.NewPipeline(
		classifier,
		guardrail.NewRegexDetector(cfg.Guardrail.NameDetection),
		auditLogger,
		guardrail.Config{
			Policy:      policy,
			PIIMaxChars: cfg.Guardrail.PIIMaxChars,
			Timeout:     time.Duration(cfg.Guardrail.AnalyticsTimeout) * time.Second,
		},
	)

	invoker := fallback.NewInvoker(llmClient, tier.FromConfig(cfg.Tiers), counter, auditLogger)
	evaluator := evaluation.NewEvaluator(sqliteClient)
	retention := time.Duration(cfg.Conversation.RetentionDays) * 24 * time.Hour

	deps := query.Deps{
		Guardrails:    guardrails,
		Retriever:     retriever,
		Assembler:     assembler,
		Invoker:       invoker,
		Evaluator:     evaluator,
		Auditor:       auditLogger,
		Conversations: sqliteClient,
		Records:       sqliteClient,
	}
	if cfg.Cache.Enabled {
		deps.Cache = cache.New(responseStore, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}
	orchestrator := query.NewOrchestrator(deps, query.Config{
		HistoryLimit: cfg.Conversation.HistoryLimit,
		Retention:    retention,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go purgeConversations(ctx, sqliteClient, retention)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.GetLogger(),
	})
	defer limiter.Stop()

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.IsDevelopment,
	}))
	app.Use("/api", limiter.Middleware())
	app.Use("/api", validation.Middleware(validation.Config{
		MaxQueryLength:  cfg.Server.MaxQueryLength,
		MaxDocumentSize: cfg.Ingestion.MaxDocument,
		Logger:          appLogger.GetLogger(),
	}))

	api.Register(app, api.Handlers{
		Query:      handlers.NewQueryHandler(orchestrator, sqliteClient),
		Governance: handlers.NewGovernanceHandler(auditLogger, evaluator),
		System:     handlers.NewSystemHandler(pingers, responseStore),
		Documents:  handlers.NewDocumentHandler(processor),
		WebSocket:  handlers.NewWebSocketHandler(orchestrator, time.Duration(cfg.Server.WriteTimeout)*time.Second),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		appLogger.Error("Tracer shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func newSearcher(cfg *config.Config) (searchBackend, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.Retrieval.Backend {
	case "milvus":
		s, err := milvus.NewSearcher(ctx, cfg.Milvus, time.Duration(cfg.Retrieval.TimeoutSec)*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := elastic.NewSearcher(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureIndex(ctx, cfg.LLM.EmbeddingDim); err != nil {
			return nil, nil, fmt.Errorf("failed to ensure index: %w", err)
		}
		return s, func() {}, nil
	}
}

func purgeConversations(ctx context.Context, store *sqlite.Client, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			deleted, err := store.PurgeTurnsBefore(ctx, now.Add(-retention))
			if err != nil {
				appLogger.Warn("Failed to purge conversation turns", zap.Error(err))
				continue
			}
			if deleted > 0 {
				appLogger.Info("Purged expired conversation turns", zap.Int64("deleted", deleted))
			}
		}
	}
}
