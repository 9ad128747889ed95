// Package ollama embeds texts with a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// Config holds Ollama embedding settings.
type Config struct {
	// Optional. Server URL, defaults to OLLAMA_HOST or localhost:11434
	Host string `yaml:"host"`

	// Optional. How long the model stays loaded, e.g. "5m"
	KeepAlive string `yaml:"keep_alive"`
}

// Embedder implements retrieval.Embedder.
type Embedder struct {
	client    *api.Client
	model     string
	keepAlive *api.Duration
}

// New creates an embedder for model, "nomic-embed-text" when empty.
//
// Example:
//
//	emb, err := ollama.New("nomic-embed-text", &ollama.Config{Host: "http://localhost:11434"})
func New(model string, cfg *Config) (*Embedder, error) {
	if model == "" {
		model = "nomic-embed-text"
	}
	if cfg == nil {
		cfg = &Config{}
	}

	var client *api.Client
	if cfg.Host == "" {
		c, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create client from environment: %w", err)
		}
		client = c
	} else {
		u, err := url.Parse(cfg.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid host URL: %w", err)
		}
		client = api.NewClient(u, http.DefaultClient)
	}

	e := &Embedder{client: client, model: model}
	if cfg.KeepAlive != "" {
		d, err := parseKeepAlive(cfg.KeepAlive)
		if err != nil {
			return nil, err
		}
		e.keepAlive = d
	}
	return e, nil
}

// Embed implements retrieval.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model:     e.model,
		Input:     texts,
		KeepAlive: e.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func parseKeepAlive(s string) (*api.Duration, error) {
	var d api.Duration
	if err := d.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return nil, fmt.Errorf("invalid keep_alive %q: %w", s, err)
	}
	return &d, nil
}
