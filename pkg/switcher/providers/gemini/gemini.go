// Package gemini invokes Google Gemini models for the model switcher.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// ProviderName is the registry provider name served by this package.
const ProviderName = "gemini"

const applicationJSON = "application/json"

// Config holds Gemini settings.
type Config struct {
	// Required. API key, defaults to GOOGLE_API_KEY
	APIKey string `yaml:"api_key"`

	// Optional. Sampling temperature (0.0-2.0)
	Temperature *float32 `yaml:"temperature"`

	// Optional. API endpoint override
	BaseURL string `yaml:"base_url"`
}

// Invoker implements switcher.Invoker and switcher.Pinger.
type Invoker struct {
	client *genai.Client
	config *Config
}

// New creates an invoker on the Gemini API backend.
func New(ctx context.Context, cfg *Config) (*Invoker, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable not set or provided in config")
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Invoker{client: client, config: cfg}, nil
}

// Invoke implements switcher.Invoker.
func (i *Invoker) Invoke(ctx context.Context, in switcher.Invocation) (*switcher.Completion, error) {
	resp, err := i.client.Models.GenerateContent(ctx, in.Model, toContents(in.Messages), i.buildConfig(in))
	if err != nil {
		return nil, wrapError(err)
	}
	comp := &switcher.Completion{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		comp.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		comp.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return comp, nil
}

func (i *Invoker) buildConfig(in switcher.Invocation) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{Temperature: i.config.Temperature}
	if in.System != "" {
		config.SystemInstruction = genai.NewContentFromText(in.System, genai.RoleUser)
	}
	if in.MaxTokens > 0 {
		config.MaxOutputTokens = int32(in.MaxTokens)
	}
	if len(in.JSONSchema) > 0 {
		config.ResponseMIMEType = applicationJSON
		config.ResponseJsonSchema = json.RawMessage(in.JSONSchema)
	}
	return config
}

// toContents maps chat messages onto Gemini roles. System messages inside
// the conversation are sent as user turns.
func toContents(messages []switcher.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

// Ping implements switcher.Pinger by retrieving the model metadata.
func (i *Invoker) Ping(ctx context.Context, model string) error {
	if _, err := i.client.Models.Get(ctx, model, nil); err != nil {
		return wrapError(err)
	}
	return nil
}

func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &switcher.ProviderError{Provider: ProviderName, Err: err}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.Code
	}
	return pe
}
