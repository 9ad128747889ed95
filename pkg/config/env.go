package config

import (
	"os"

	"github.com/calque-ai/go-smartchat/pkg/helpers"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// ApplyEnv overrides fields from SMARTCHAT_* variables. Provider API keys
// also fall back to the vendor variables (OPENAI_API_KEY, GOOGLE_API_KEY,
// OLLAMA_HOST), and a provider with a key is enabled unless
// SMARTCHAT_<PROVIDER>_ENABLED says otherwise.
func (c *Config) ApplyEnv() {
	c.Server.Addr = helpers.GetStringFromEnv("SMARTCHAT_ADDR", c.Server.Addr)
	c.Server.ShutdownTimeout = helpers.GetDurationFromEnv("SMARTCHAT_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthRefreshInterval = helpers.GetDurationFromEnv("SMARTCHAT_HEALTH_REFRESH_INTERVAL", c.Server.HealthRefreshInterval)
	c.Server.DebugResponses = helpers.GetBoolFromEnv("SMARTCHAT_DEBUG_RESPONSES", c.Server.DebugResponses)

	c.Log.Level = helpers.GetStringFromEnv("SMARTCHAT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = helpers.GetStringFromEnv("SMARTCHAT_LOG_FORMAT", c.Log.Format)

	c.Retrieval.Scorer = helpers.GetStringFromEnv("SMARTCHAT_SCORER", c.Retrieval.Scorer)
	c.Retrieval.Tokenizer = helpers.GetStringFromEnv("SMARTCHAT_TOKENIZER", c.Retrieval.Tokenizer)
	c.Retrieval.Embedder.Backend = helpers.GetStringFromEnv("SMARTCHAT_EMBEDDER", c.Retrieval.Embedder.Backend)
	c.Retrieval.Embedder.Model = helpers.GetStringFromEnv("SMARTCHAT_EMBEDDING_MODEL", c.Retrieval.Embedder.Model)
	c.Retrieval.Engine.Defaults.MaxTokens = helpers.GetIntFromEnv("SMARTCHAT_MAX_CONTEXT_TOKENS", c.Retrieval.Engine.Defaults.MaxTokens)
	c.Retrieval.Engine.Defaults.MinRelevanceScore = helpers.GetFloatFromEnv("SMARTCHAT_MIN_RELEVANCE", c.Retrieval.Engine.Defaults.MinRelevanceScore)

	c.Switch.DefaultPriority = switcher.Priority(helpers.GetStringFromEnv("SMARTCHAT_DEFAULT_PRIORITY", string(c.Switch.DefaultPriority)))
	c.Switch.DefaultMaxResponseTime = helpers.GetDurationFromEnv("SMARTCHAT_MAX_RESPONSE_TIME", c.Switch.DefaultMaxResponseTime)
	c.Switch.DefaultMaxCostPerMessage = helpers.GetFloatFromEnv("SMARTCHAT_MAX_COST_PER_MESSAGE", c.Switch.DefaultMaxCostPerMessage)
	c.Switch.ABTestRate = helpers.GetFloatFromEnv("SMARTCHAT_AB_TEST_RATE", c.Switch.ABTestRate)
	c.Switch.MaxAttempts = helpers.GetIntFromEnv("SMARTCHAT_MAX_ATTEMPTS", c.Switch.MaxAttempts)
	c.Switch.CacheTTL = helpers.GetDurationFromEnv("SMARTCHAT_RESPONSE_CACHE_TTL", c.Switch.CacheTTL)

	p := &c.Providers
	p.OpenAI.APIKey = firstNonEmpty(os.Getenv("SMARTCHAT_OPENAI_API_KEY"), p.OpenAI.APIKey, os.Getenv("OPENAI_API_KEY"))
	p.OpenAI.BaseURL = helpers.GetStringFromEnv("SMARTCHAT_OPENAI_BASE_URL", p.OpenAI.BaseURL)
	p.OpenAI.Enabled = helpers.GetBoolFromEnv("SMARTCHAT_OPENAI_ENABLED", p.OpenAI.Enabled || p.OpenAI.APIKey != "")

	p.Gemini.APIKey = firstNonEmpty(os.Getenv("SMARTCHAT_GEMINI_API_KEY"), p.Gemini.APIKey, os.Getenv("GOOGLE_API_KEY"))
	p.Gemini.Enabled = helpers.GetBoolFromEnv("SMARTCHAT_GEMINI_ENABLED", p.Gemini.Enabled || p.Gemini.APIKey != "")

	p.Ollama.Host = firstNonEmpty(os.Getenv("SMARTCHAT_OLLAMA_HOST"), p.Ollama.Host)
	p.Ollama.Enabled = helpers.GetBoolFromEnv("SMARTCHAT_OLLAMA_ENABLED", p.Ollama.Enabled)

	p.Mock.Enabled = helpers.GetBoolFromEnv("SMARTCHAT_MOCK_ENABLED", p.Mock.Enabled)
	p.Judge.Provider = helpers.GetStringFromEnv("SMARTCHAT_JUDGE_PROVIDER", p.Judge.Provider)
	p.Judge.Model = helpers.GetStringFromEnv("SMARTCHAT_JUDGE_MODEL", p.Judge.Model)

	c.Sources.Backend = helpers.GetStringFromEnv("SMARTCHAT_SOURCES_BACKEND", c.Sources.Backend)
	c.Sources.Postgres.URL = helpers.GetStringFromEnv("SMARTCHAT_POSTGRES_URL", c.Sources.Postgres.URL)
	c.Sources.Postgres.EnsureSchema = helpers.GetBoolFromEnv("SMARTCHAT_POSTGRES_ENSURE_SCHEMA", c.Sources.Postgres.EnsureSchema)

	c.Storage.Backend = helpers.GetStringFromEnv("SMARTCHAT_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Path = helpers.GetStringFromEnv("SMARTCHAT_STORAGE_PATH", c.Storage.Path)

	c.Observability.Metrics = helpers.GetStringFromEnv("SMARTCHAT_METRICS", c.Observability.Metrics)
	c.Observability.Tracing.Enabled = helpers.GetBoolFromEnv("SMARTCHAT_TRACING_ENABLED", c.Observability.Tracing.Enabled)
	c.Observability.Tracing.Endpoint = helpers.GetStringFromEnv("SMARTCHAT_OTLP_ENDPOINT", c.Observability.Tracing.Endpoint)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
