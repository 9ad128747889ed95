// Package ollama invokes models served by a local Ollama server for the
// model switcher.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// ProviderName is the registry provider name served by this package.
const ProviderName = "ollama"

// Config holds Ollama settings.
type Config struct {
	// Optional. Server URL, defaults to OLLAMA_HOST or localhost:11434
	Host string `yaml:"host"`

	// Optional. Sampling temperature
	Temperature *float64 `yaml:"temperature"`
}

// Invoker implements switcher.Invoker and switcher.Pinger.
type Invoker struct {
	client *api.Client
	config *Config
}

// New creates an invoker. A nil cfg connects through the environment.
func New(cfg *Config) (*Invoker, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create client from environment: %w", err)
		}
		return &Invoker{client: client, config: cfg}, nil
	}
	u, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid host URL: %w", err)
	}
	return &Invoker{client: api.NewClient(u, http.DefaultClient), config: cfg}, nil
}

// Invoke implements switcher.Invoker with a non-streaming chat request.
func (i *Invoker) Invoke(ctx context.Context, in switcher.Invocation) (*switcher.Completion, error) {
	var comp switcher.Completion
	err := i.client.Chat(ctx, i.buildRequest(in), func(resp api.ChatResponse) error {
		comp.Content += resp.Message.Content
		if resp.Done {
			comp.PromptTokens = resp.PromptEvalCount
			comp.CompletionTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, wrapError(err)
	}
	return &comp, nil
}

func (i *Invoker) buildRequest(in switcher.Invocation) *api.ChatRequest {
	stream := false
	messages := make([]api.Message, 0, len(in.Messages)+1)
	if in.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	req := &api.ChatRequest{
		Model:    in.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if in.MaxTokens > 0 {
		req.Options["num_predict"] = in.MaxTokens
	}
	if i.config.Temperature != nil {
		req.Options["temperature"] = *i.config.Temperature
	}
	if len(in.JSONSchema) > 0 {
		req.Format = json.RawMessage(in.JSONSchema)
	}
	return req
}

// Ping implements switcher.Pinger by showing the model, which fails when
// it is not pulled.
func (i *Invoker) Ping(ctx context.Context, model string) error {
	if _, err := i.client.Show(ctx, &api.ShowRequest{Model: model}); err != nil {
		return wrapError(err)
	}
	return nil
}

func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &switcher.ProviderError{Provider: ProviderName, Err: err}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		pe.StatusCode = statusErr.StatusCode
	}
	return pe
}
