package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("paths:\n  workspace: /tmp/thoth\n"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/thoth", cfg.Paths.Workspace)
	assert.Equal(t, "/tmp/thoth/incoming", cfg.Paths.Incoming)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/thoth/thoth.db", cfg.Store.DSN)
	assert.Equal(t, "chromem", cfg.Vector.Provider)
	assert.Equal(t, 60, cfg.Retrieval.FusionK)
	assert.Equal(t, 0.7, cfg.Retrieval.UpperConfidence)
	assert.Equal(t, 0.4, cfg.Retrieval.LowerConfidence)
	assert.Equal(t, 3, cfg.Pipeline.EnhanceWorkers)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Gateway.CacheTTL)
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("THOTH_TEST_KEY", "sk-secret")
	defer os.Unsetenv("THOTH_TEST_KEY")

	cfg, err := Parse([]byte(`
llm:
  api_key: ${THOTH_TEST_KEY}
  model: ${THOTH_TEST_MODEL:-gpt-4o}
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "bad store driver",
			yaml: "store:\n  driver: oracle\n  dsn: x\n",
		},
		{
			name: "bad vector provider",
			yaml: "vector:\n  provider: faiss\n",
		},
		{
			name: "overlap exceeds chunk size",
			yaml: "retrieval:\n  chunk_size: 100\n  chunk_overlap: 150\n",
		},
		{
			name: "bad hallucination mode",
			yaml: "retrieval:\n  hallucination_mode: medium\n",
		},
		{
			name: "service without base url",
			yaml: "gateway:\n  services:\n    arxiv: {}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestGatewayServiceConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
gateway:
  default_rate_limit: 2.0
  services:
    semantic_scholar:
      base_url: https://api.semanticscholar.org/graph/v1
      rate_limit: 0.5
      cache_ttl: 10m
`))
	require.NoError(t, err)

	svc, ok := cfg.Gateway.Services["semantic_scholar"]
	require.True(t, ok)
	assert.Equal(t, 0.5, svc.RateLimit)
	assert.Equal(t, 10*time.Minute, svc.CacheTTL)
	assert.Equal(t, 2.0, cfg.Gateway.DefaultRateLimit)
}
