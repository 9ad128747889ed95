// Package config holds the process configuration: defaults, YAML loading,
// environment overrides and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/sources"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
	gemprovider "github.com/calque-ai/go-smartchat/pkg/switcher/providers/gemini"
	ollprovider "github.com/calque-ai/go-smartchat/pkg/switcher/providers/ollama"
	oaiprovider "github.com/calque-ai/go-smartchat/pkg/switcher/providers/openai"
)

// Config is the full process configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Switch        switcher.Config     `yaml:"switch"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Sources       SourcesConfig       `yaml:"sources"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// HealthRefreshInterval re-probes providers in the background. Zero disables it.
	HealthRefreshInterval time.Duration `yaml:"health_refresh_interval"`
	// DebugResponses adds the debug block to smart-chat responses.
	DebugResponses bool `yaml:"debug_responses"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Scorer names.
const (
	ScorerLexical   = "lexical"
	ScorerEmbedding = "embedding"
)

// Tokenizer names.
const (
	TokenizerTiktoken = "tiktoken"
	TokenizerWord     = "word"
)

// RetrievalConfig configures the context engine and its scorer.
type RetrievalConfig struct {
	Engine    retrieval.Config `yaml:"engine"`
	Scorer    string           `yaml:"scorer"`
	Tokenizer string           `yaml:"tokenizer"`
	// Encoding is the tiktoken encoding or model name.
	Encoding string         `yaml:"encoding"`
	Embedder EmbedderConfig `yaml:"embedder"`
}

// EmbedderConfig selects an embedding backend for the embedding scorer.
type EmbedderConfig struct {
	Backend   string `yaml:"backend"` // openai, ollama or gemini
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"` // openai base URL or ollama host
}

// ProvidersConfig lists provider profiles and the invokers backing them.
type ProvidersConfig struct {
	Profiles []switcher.ProviderProfile `yaml:"profiles"`
	OpenAI   OpenAIConfig               `yaml:"openai"`
	Gemini   GeminiConfig               `yaml:"gemini"`
	Ollama   OllamaConfig               `yaml:"ollama"`
	// Mock serves every profile of provider "mock" with echo replies.
	Mock  MockConfig  `yaml:"mock"`
	Judge JudgeConfig `yaml:"judge"`
}

type OpenAIConfig struct {
	Enabled            bool `yaml:"enabled"`
	oaiprovider.Config `yaml:",inline"`
}

type GeminiConfig struct {
	Enabled            bool `yaml:"enabled"`
	gemprovider.Config `yaml:",inline"`
}

type OllamaConfig struct {
	Enabled            bool `yaml:"enabled"`
	ollprovider.Config `yaml:",inline"`
}

type MockConfig struct {
	Enabled bool `yaml:"enabled"`
}

// JudgeConfig enables LLM-judged response quality. Empty Provider keeps the
// heuristic scorer.
type JudgeConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Source registry backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// SourcesConfig selects the Source Registry.
type SourcesConfig struct {
	Backend  string         `yaml:"backend"` // memory or postgres
	Postgres PostgresConfig `yaml:"postgres"`
	// Agents seed the memory registry, or are upserted into postgres at startup.
	Agents []AgentConfig `yaml:"agents"`
}

// PostgresConfig mirrors sources.PGConfig with YAML tags.
type PostgresConfig struct {
	URL             string `yaml:"url"`
	AgentsTable     string `yaml:"agents_table"`
	SourcesTable    string `yaml:"sources_table"`
	VectorDimension int    `yaml:"vector_dimension"`
	MaxConns        int32  `yaml:"max_conns"`
	EnsureSchema    bool   `yaml:"ensure_schema"`
}

// PGConfig converts to the registry configuration.
func (p PostgresConfig) PGConfig() sources.PGConfig {
	return sources.PGConfig{
		ConnectionString: p.URL,
		AgentsTable:      p.AgentsTable,
		SourcesTable:     p.SourcesTable,
		VectorDimension:  p.VectorDimension,
		MaxConns:         p.MaxConns,
	}
}

// AgentConfig is an agent with its inline knowledge sources.
type AgentConfig struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	SystemPrompt string         `yaml:"system_prompt"`
	Provider     string         `yaml:"provider"`
	Model        string         `yaml:"model"`
	Sources      []SourceConfig `yaml:"sources"`
}

// Agent returns the registry form of a.
func (a AgentConfig) Agent() sources.Agent {
	return sources.Agent{
		ID:           a.ID,
		Name:         a.Name,
		SystemPrompt: a.SystemPrompt,
		Provider:     a.Provider,
		Model:        a.Model,
	}
}

// SourceConfig is a knowledge source given inline or by file.
type SourceConfig struct {
	ID          string  `yaml:"id"`
	Type        string  `yaml:"type"`
	Name        string  `yaml:"name"`
	Content     string  `yaml:"content"`
	File        string  `yaml:"file"` // read when Content is empty
	Credibility float64 `yaml:"credibility"`
	Priority    float64 `yaml:"priority"`
}

// KnowledgeSource resolves the content and returns the engine form of s.
func (s SourceConfig) KnowledgeSource() (retrieval.KnowledgeSource, error) {
	content := s.Content
	if content == "" && s.File != "" {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return retrieval.KnowledgeSource{}, fmt.Errorf("source %s: %w", s.ID, err)
		}
		content = string(data)
	}
	srcType := retrieval.SourceType(s.Type)
	if srcType == "" {
		srcType = retrieval.SourceDocument
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return retrieval.KnowledgeSource{
		ID:               s.ID,
		Type:             srcType,
		Name:             name,
		Content:          content,
		CredibilityScore: s.Credibility,
		Priority:         s.Priority,
	}, nil
}

// StorageConfig selects the key/value store for conversations and history.
type StorageConfig struct {
	Backend      string               `yaml:"backend"` // memory or badger
	Path         string               `yaml:"path"`
	SyncWrites   bool                 `yaml:"sync_writes"`
	Conversation conversation.Options `yaml:"conversation"`
	// HistoryFlushInterval persists selection history. Zero flushes only at shutdown.
	HistoryFlushInterval time.Duration `yaml:"history_flush_interval"`
	// GCInterval runs badger value log GC. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`
}

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsMemory     = "memory"
	MetricsNone       = "none"
)

// ObservabilityConfig configures metrics, tracing and health checks.
type ObservabilityConfig struct {
	Metrics     string        `yaml:"metrics"`
	Tracing     TracingConfig `yaml:"tracing"`
	HealthCheck HealthConfig  `yaml:"health_check"`
}

type TracingConfig struct {
	Enabled                  bool `yaml:"enabled"`
	observability.OTLPConfig `yaml:",inline"`
}

type HealthConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	CacheDuration time.Duration `yaml:"cache_duration"`
}

// DefaultConfig returns a configuration that runs locally with no external
// services: in-memory stores, lexical scoring and the mock provider.
func DefaultConfig() *Config {
	hc := observability.DefaultHealthCheckConfig()
	return &Config{
		Server: ServerConfig{
			Addr:                  ":8080",
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          120 * time.Second,
			ShutdownTimeout:       15 * time.Second,
			HealthRefreshInterval: time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Retrieval: RetrievalConfig{
			Engine:    retrieval.DefaultConfig(),
			Scorer:    ScorerLexical,
			Tokenizer: TokenizerTiktoken,
			Encoding:  "cl100k_base",
			Embedder: EmbedderConfig{
				Backend:   "openai",
				Model:     "text-embedding-3-small",
				CacheSize: 4096,
			},
		},
		Switch: switcher.DefaultConfig(),
		Providers: ProvidersConfig{
			Profiles: DefaultProfiles(),
			Mock:     MockConfig{Enabled: true},
		},
		Sources: SourcesConfig{
			Backend: BackendMemory,
			Postgres: PostgresConfig{
				AgentsTable:     "agents",
				SourcesTable:    "knowledge_sources",
				VectorDimension: 1536,
			},
		},
		Storage: StorageConfig{
			Backend:              BackendMemory,
			Path:                 "./data",
			Conversation:         conversation.DefaultOptions(),
			HistoryFlushInterval: 5 * time.Minute,
			GCInterval:           10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsPrometheus,
			Tracing: TracingConfig{
				OTLPConfig: observability.OTLPConfig{
					ServiceName:  "smartchat",
					Endpoint:     "localhost:4317",
					Insecure:     true,
					SampleRate:   1,
					BatchTimeout: 5 * time.Second,
				},
			},
			HealthCheck: HealthConfig{Timeout: hc.Timeout, CacheDuration: hc.CacheDuration},
		},
	}
}

// DefaultProfiles lists the models the service knows about out of the box.
// Profiles whose provider is disabled are filtered out at selection time.
func DefaultProfiles() []switcher.ProviderProfile {
	return []switcher.ProviderProfile{
		{
			Provider: "openai", Model: "gpt-4o",
			ResponseTimeEstimateMs: 2500, CostPer1kTokens: 0.01, Tier: switcher.ComplexityExpert,
			Capabilities: []switcher.Capability{switcher.CapChat, switcher.CapFunctionCalling, switcher.CapStreaming, switcher.CapVision, switcher.CapLargeContext},
		},
		{
			Provider: "openai", Model: "gpt-4o-mini",
			ResponseTimeEstimateMs: 1200, CostPer1kTokens: 0.0006, Tier: switcher.ComplexityComplex,
			Capabilities: []switcher.Capability{switcher.CapChat, switcher.CapFunctionCalling, switcher.CapStreaming, switcher.CapLargeContext},
		},
		{
			Provider: "gemini", Model: "gemini-2.0-flash",
			ResponseTimeEstimateMs: 900, CostPer1kTokens: 0.0004, Tier: switcher.ComplexityComplex,
			Capabilities: []switcher.Capability{switcher.CapChat, switcher.CapFunctionCalling, switcher.CapStreaming, switcher.CapVision, switcher.CapLargeContext},
		},
		{
			Provider: "ollama", Model: "llama3.1",
			ResponseTimeEstimateMs: 3000, CostPer1kTokens: 0, Tier: switcher.ComplexityMedium,
			Capabilities: []switcher.Capability{switcher.CapChat, switcher.CapStreaming},
		},
		{
			Provider: "mock", Model: "echo",
			ResponseTimeEstimateMs: 50, CostPer1kTokens: 0, Tier: switcher.ComplexitySimple,
			Capabilities: []switcher.Capability{switcher.CapChat},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, smartchat.WrapKindErr(context.Background(), smartchat.KindConfig, err, "failed to read config file").
				Tag(slog.String("path", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, smartchat.WrapKindErr(context.Background(), smartchat.KindConfig, err, "failed to parse config file").
				Tag(slog.String("path", path))
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, smartchat.WrapKindErr(context.Background(), smartchat.KindConfig, err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks every section and fills derived defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}

	if err := c.Retrieval.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retrieval.engine: %w", err))
	}
	switch c.Retrieval.Scorer {
	case ScorerLexical:
	case ScorerEmbedding:
		switch c.Retrieval.Embedder.Backend {
		case "openai", "ollama", "gemini":
		default:
			errs = append(errs, fmt.Errorf("retrieval.embedder.backend %q must be openai, ollama or gemini", c.Retrieval.Embedder.Backend))
		}
		if c.Retrieval.Embedder.Model == "" {
			errs = append(errs, errors.New("retrieval.embedder.model is required for the embedding scorer"))
		}
	default:
		errs = append(errs, fmt.Errorf("retrieval.scorer %q must be lexical or embedding", c.Retrieval.Scorer))
	}
	switch c.Retrieval.Tokenizer {
	case TokenizerTiktoken, TokenizerWord:
	default:
		errs = append(errs, fmt.Errorf("retrieval.tokenizer %q must be tiktoken or word", c.Retrieval.Tokenizer))
	}

	if err := c.Switch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("switch: %w", err))
	}
	if len(c.Providers.Profiles) == 0 {
		errs = append(errs, errors.New("providers.profiles must not be empty"))
	}
	if j := c.Providers.Judge; j.Provider != "" {
		if !c.ProviderEnabled(j.Provider) {
			errs = append(errs, fmt.Errorf("providers.judge.provider %q is not enabled", j.Provider))
		}
		if j.Model == "" {
			errs = append(errs, errors.New("providers.judge.model is required"))
		}
	}

	switch c.Sources.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Sources.Postgres.URL == "" {
			errs = append(errs, errors.New("sources.postgres.url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("sources.backend %q must be memory or postgres", c.Sources.Backend))
	}
	seen := make(map[string]bool, len(c.Sources.Agents))
	for i, a := range c.Sources.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("sources.agents[%d].id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("sources.agents[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the badger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be memory or badger", c.Storage.Backend))
	}

	switch c.Observability.Metrics {
	case MetricsPrometheus, MetricsMemory, MetricsNone:
	default:
		errs = append(errs, fmt.Errorf("observability.metrics %q must be prometheus, memory or none", c.Observability.Metrics))
	}
	if c.Observability.Tracing.Enabled && c.Observability.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("observability.tracing.endpoint is required when tracing is enabled"))
	}

	return errors.Join(errs...)
}

// ProviderEnabled reports whether an invoker is configured for provider.
func (c *Config) ProviderEnabled(provider string) bool {
	switch provider {
	case oaiprovider.ProviderName:
		return c.Providers.OpenAI.Enabled
	case gemprovider.ProviderName:
		return c.Providers.Gemini.Enabled
	case ollprovider.ProviderName:
		return c.Providers.Ollama.Enabled
	case "mock":
		return c.Providers.Mock.Enabled
	}
	return false
}
