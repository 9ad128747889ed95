// Package openai embeds texts with the OpenAI embeddings API. It also works
// against OpenAI-compatible servers through Config.BaseURL.
//
// Example:
//
//	emb, err := openai.New("text-embedding-3-small")
//	if err != nil {
//		log.Fatal(err)
//	}
//	scorer, _ := retrieval.NewEmbeddingScorer(emb, 4096)
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Config holds OpenAI embedding settings.
type Config struct {
	// Required. API key, defaults to OPENAI_API_KEY
	APIKey string `yaml:"api_key"`

	// Optional. Base URL for OpenAI-compatible servers
	BaseURL string `yaml:"base_url"`

	// Optional. Output dimensions for models that support shortening
	Dimensions int64 `yaml:"dimensions"`

	// Optional. Texts per API call, default 256
	BatchSize int `yaml:"batch_size"`
}

// DefaultConfig reads the API key from the environment.
func DefaultConfig() *Config {
	return &Config{
		APIKey:    os.Getenv("OPENAI_API_KEY"),
		BatchSize: 256,
	}
}

// Embedder implements retrieval.Embedder.
type Embedder struct {
	client *openai.Client
	model  string
	config *Config
}

// New creates an embedder for model. A nil cfg uses DefaultConfig.
func New(model string, cfg *Config) (*Embedder, error) {
	if model == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}
	config := DefaultConfig()
	if cfg != nil {
		if cfg.APIKey != "" {
			config.APIKey = cfg.APIKey
		}
		if cfg.BatchSize > 0 {
			config.BatchSize = cfg.BatchSize
		}
		config.BaseURL = cfg.BaseURL
		config.Dimensions = cfg.Dimensions
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set or provided in config")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Embedder{client: &client, model: model, config: config}, nil
}

// Embed implements retrieval.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.config.Dimensions > 0 {
		params.Dimensions = openai.Int(e.config.Dimensions)
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
