package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	SQLite        SQLiteConfig
	Redis         RedisConfig
	Elasticsearch ElasticsearchConfig
	Milvus        MilvusConfig
	LLM           LLMConfig
	Tiers         TiersConfig
	Retrieval     RetrievalConfig
	Ingestion     IngestionConfig
	Prompt        PromptConfig
	Guardrail     GuardrailConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Conversation  ConversationConfig
	RateLimit     RateLimitConfig
	Tracing       TracingConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxQueryLength int
	AllowedOrigins []string
	IsDevelopment  bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type ElasticsearchConfig struct {
	Addresses  []string
	Username   string
	Password   string
	Index      string
	TimeoutSec int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type LLMConfig struct {
	APIKey            string
	BaseURL           string
	EmbeddingModel    string
	EmbeddingDim      int
	TimeoutSec        int
	EmbeddingTimeout  int
	ModerationEnabled bool
}

// TierConfig overrides one entry of the static tier table.
type TierConfig struct {
	ModelID         string
	MaxOutputTokens int
	Temperature     float32
	CostPer1KInput  float64
	CostPer1KOutput float64
}

type TiersConfig struct {
	Simple   TierConfig
	Standard TierConfig
	Advanced TierConfig
}

type RetrievalConfig struct {
	Backend    string
	Mode       string
	MaxResults int
	TopK       int
	TimeoutSec int
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MaxDocument  int
}

type PromptConfig struct {
	TokenBudget      int
	HistoryExchanges int
}

type GuardrailConfig struct {
	Policy           string
	PIIMaxChars      int
	NameDetection    bool
	AnalyticsTimeout int
}

type CacheConfig struct {
	Enabled    bool
	TTLSeconds int
}

type AuditConfig struct {
	ArchiveDir      string
	AlertWebhookURL string
	TimeoutSec      int
}

type ConversationConfig struct {
	HistoryLimit  int
	RetentionDays int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/knowledge-assistant")

	v.SetEnvPrefix("KA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Retrieval.Mode {
	case "hybrid", "vector":
	default:
		errs = append(errs, fmt.Errorf("retrieval.mode must be hybrid or vector, got %q", c.Retrieval.Mode))
	}
	switch c.Retrieval.Backend {
	case "elasticsearch", "milvus":
	default:
		errs = append(errs, fmt.Errorf("retrieval.backend must be elasticsearch or milvus, got %q", c.Retrieval.Backend))
	}
	if c.Retrieval.Backend == "milvus" && c.Retrieval.Mode == "hybrid" {
		errs = append(errs, errors.New("milvus backend only supports retrieval.mode=vector"))
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.MaxResults < c.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("retrieval.topK must be positive and not exceed maxResults"))
	}
	switch c.Guardrail.Policy {
	case "fail_open", "fail_closed":
	default:
		errs = append(errs, fmt.Errorf("guardrail.policy must be fail_open or fail_closed, got %q", c.Guardrail.Policy))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.ttlSeconds must be positive"))
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		errs = append(errs, errors.New("ingestion.chunkOverlap must be smaller than ingestion.chunkSize"))
	}
	if c.Prompt.TokenBudget <= 0 {
		errs = append(errs, errors.New("prompt.tokenBudget must be positive"))
	}
	if c.LLM.EmbeddingDim <= 0 {
		errs = append(errs, errors.New("llm.embeddingDim must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 90)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxQueryLength", 5000)
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("sqlite.path", "./data/assistant.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.index", "document-chunks")
	v.SetDefault("elasticsearch.timeoutSec", 10)

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "document_chunks")
	v.SetDefault("milvus.vectorDim", 1536)

	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.timeoutSec", 30)
	v.SetDefault("llm.embeddingTimeout", 15)
	v.SetDefault("llm.moderationEnabled", true)

	v.SetDefault("tiers.simple.modelID", "gpt-4o-mini")
	v.SetDefault("tiers.simple.maxOutputTokens", 1000)
	v.SetDefault("tiers.simple.temperature", 0.2)
	v.SetDefault("tiers.simple.costPer1KInput", 0.00025)
	v.SetDefault("tiers.simple.costPer1KOutput", 0.00125)
	v.SetDefault("tiers.standard.modelID", "gpt-4o")
	v.SetDefault("tiers.standard.maxOutputTokens", 2000)
	v.SetDefault("tiers.standard.temperature", 0.7)
	v.SetDefault("tiers.standard.costPer1KInput", 0.008)
	v.SetDefault("tiers.standard.costPer1KOutput", 0.024)
	v.SetDefault("tiers.advanced.modelID", "gpt-4-turbo")
	v.SetDefault("tiers.advanced.maxOutputTokens", 4000)
	v.SetDefault("tiers.advanced.temperature", 0.7)
	v.SetDefault("tiers.advanced.costPer1KInput", 0.003)
	v.SetDefault("tiers.advanced.costPer1KOutput", 0.015)

	v.SetDefault("retrieval.backend", "elasticsearch")
	v.SetDefault("retrieval.mode", "hybrid")
	v.SetDefault("retrieval.maxResults", 10)
	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.timeoutSec", 10)

	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.chunkOverlap", 100)
	v.SetDefault("ingestion.maxDocument", 10485760)

	v.SetDefault("prompt.tokenBudget", 6000)
	v.SetDefault("prompt.historyExchanges", 3)

	v.SetDefault("guardrail.policy", "fail_open")
	v.SetDefault("guardrail.piiMaxChars", 5000)
	v.SetDefault("guardrail.nameDetection", false)
	v.SetDefault("guardrail.analyticsTimeout", 5)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttlSeconds", 3600)

	v.SetDefault("audit.archiveDir", "./data/audit-archive")
	v.SetDefault("audit.timeoutSec", 5)

	v.SetDefault("conversation.historyLimit", 10)
	v.SetDefault("conversation.retentionDays", 30)

	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "knowledge-assistant")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
