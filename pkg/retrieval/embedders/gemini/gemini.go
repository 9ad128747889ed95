// Package gemini embeds texts with the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// Config holds Gemini embedding settings.
type Config struct {
	// Required. API key, defaults to GOOGLE_API_KEY
	APIKey string `yaml:"api_key"`

	// Optional. Task type hint such as "RETRIEVAL_DOCUMENT"
	TaskType string `yaml:"task_type"`

	// Optional. Output dimensionality for models that support it
	Dimensions int32 `yaml:"dimensions"`
}

// Embedder implements retrieval.Embedder.
type Embedder struct {
	client *genai.Client
	model  string
	config *Config
}

// New creates an embedder for model, "text-embedding-004" when empty.
func New(ctx context.Context, model string, cfg *Config) (*Embedder, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable not set or provided in config")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Embedder{client: client, model: model, config: cfg}, nil
}

// Embed implements retrieval.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var config *genai.EmbedContentConfig
	if e.config.TaskType != "" || e.config.Dimensions > 0 {
		config = &genai.EmbedContentConfig{TaskType: e.config.TaskType}
		if e.config.Dimensions > 0 {
			config.OutputDimensionality = genai.Ptr(e.config.Dimensions)
		}
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
