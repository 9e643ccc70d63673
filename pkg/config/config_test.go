package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	setDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.Equal(t, 1000, cfg.Tiers.Simple.MaxOutputTokens)
	assert.Equal(t, 4000, cfg.Tiers.Advanced.MaxOutputTokens)
	assert.InDelta(t, 0.2, cfg.Tiers.Simple.Temperature, 1e-6)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Elasticsearch.Addresses)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad retrieval mode",
			mutate:  func(c *Config) { c.Retrieval.Mode = "keyword" },
			wantErr: "retrieval.mode",
		},
		{
			name: "milvus cannot run hybrid",
			mutate: func(c *Config) {
				c.Retrieval.Backend = "milvus"
			},
			wantErr: "milvus backend",
		},
		{
			name:    "top k above max results",
			mutate:  func(c *Config) { c.Retrieval.TopK = 50 },
			wantErr: "retrieval.topK",
		},
		{
			name:    "chunk overlap not below chunk size",
			mutate:  func(c *Config) { c.Ingestion.ChunkOverlap = c.Ingestion.ChunkSize },
			wantErr: "ingestion.chunkOverlap",
		},
		{
			name:    "unknown guardrail policy",
			mutate:  func(c *Config) { c.Guardrail.Policy = "lenient" },
			wantErr: "guardrail.policy",
		},
		{
			name:    "zero cache ttl",
			mutate:  func(c *Config) { c.Cache.TTLSeconds = 0 },
			wantErr: "cache.ttlSeconds",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("KA_RETRIEVAL_MODE", "vector")
	t.Setenv("KA_CACHE_TTLSECONDS", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "vector", cfg.Retrieval.Mode)
	assert.Equal(t, 120, cfg.Cache.TTLSeconds)
}
