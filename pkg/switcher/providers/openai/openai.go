// Package openai invokes OpenAI chat completions for the model switcher.
// It also works against OpenAI-compatible servers through Config.BaseURL.
//
// Example:
//
//	inv, err := openai.New(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	orch, _ := switcher.NewOrchestrator(cfg, registry, map[string]switcher.Invoker{"openai": inv})
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/openai/openai-go/v2/shared/constant"

	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// ProviderName is the registry provider name served by this package.
const ProviderName = "openai"

// Config holds OpenAI settings.
type Config struct {
	// Required. API key, defaults to OPENAI_API_KEY
	APIKey string `yaml:"api_key"`

	// Optional. Base URL for OpenAI-compatible servers
	BaseURL string `yaml:"base_url"`

	// Optional. Organization ID for API requests
	OrgID string `yaml:"org_id"`

	// Optional. Sampling temperature (0.0-2.0)
	Temperature *float64 `yaml:"temperature"`
}

// DefaultConfig reads the API key from the environment.
func DefaultConfig() *Config {
	return &Config{APIKey: os.Getenv("OPENAI_API_KEY")}
}

// Invoker implements switcher.Invoker and switcher.Pinger.
type Invoker struct {
	client *openai.Client
	config *Config
}

// New creates an invoker. A nil cfg uses DefaultConfig. The SDK's own
// retries are disabled; the orchestrator owns retry and fallback.
func New(cfg *Config) (*Invoker, error) {
	config := DefaultConfig()
	if cfg != nil {
		if cfg.APIKey != "" {
			config.APIKey = cfg.APIKey
		}
		config.BaseURL = cfg.BaseURL
		config.OrgID = cfg.OrgID
		config.Temperature = cfg.Temperature
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set or provided in config")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.OrgID != "" {
		opts = append(opts, option.WithOrganization(config.OrgID))
	}
	client := openai.NewClient(opts...)

	return &Invoker{client: &client, config: config}, nil
}

// Invoke implements switcher.Invoker.
func (i *Invoker) Invoke(ctx context.Context, in switcher.Invocation) (*switcher.Completion, error) {
	resp, err := i.client.Chat.Completions.New(ctx, i.buildParams(in))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &switcher.ProviderError{Provider: ProviderName, Err: errors.New("response contained no choices")}
	}
	return &switcher.Completion{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (i *Invoker) buildParams(in switcher.Invocation) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages)+1)
	if in.System != "" {
		messages = append(messages, openai.SystemMessage(in.System))
	}
	for _, m := range in.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(in.Model),
		Messages: messages,
	}
	if in.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(in.MaxTokens))
	}
	if i.config.Temperature != nil {
		params.Temperature = openai.Float(*i.config.Temperature)
	}
	if len(in.JSONSchema) > 0 {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				Type: constant.JSONSchema("").Default(),
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response_schema",
					Schema: json.RawMessage(in.JSONSchema),
				},
			},
		}
	}
	return params
}

// Ping implements switcher.Pinger by retrieving the model.
func (i *Invoker) Ping(ctx context.Context, model string) error {
	if _, err := i.client.Models.Get(ctx, model); err != nil {
		return wrapError(err)
	}
	return nil
}

func wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &switcher.ProviderError{Provider: ProviderName, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}
