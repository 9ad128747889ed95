package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/sources"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// SmartChatRequest is the body of POST /agents/{id}/smart-chat.
type SmartChatRequest struct {
	Message        string          `json:"message"`
	ConversationID string          `json:"conversationId,omitempty"`
	ContextOptions *ContextOptions `json:"contextOptions,omitempty"`
	SourceOptions  *SourceOptions  `json:"sourceOptions,omitempty"`
	QualityOptions *QualityOptions `json:"qualityOptions,omitempty"`
	Config         *ChatConfig     `json:"config,omitempty"`
}

// QualityOptions gate the use of retrieved context.
type QualityOptions struct {
	// MinOverallScore drops context scoring below it; the model then answers
	// without context.
	MinOverallScore float64 `json:"minOverallScore,omitempty"`
	Debug           bool    `json:"debug,omitempty"`
}

// ChatConfig overrides the agent's model for one request.
type ChatConfig struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// ChatMessage is the assistant reply.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Performance reports per-phase timings in milliseconds.
type Performance struct {
	RetrievalMs  float64 `json:"retrievalMs"`
	GenerationMs float64 `json:"generationMs"`
	TotalMs      float64 `json:"totalMs"`
}

// Debug is included when requested and enabled.
type Debug struct {
	SystemPrompt string                   `json:"systemPrompt"`
	Selected     []retrieval.SearchResult `json:"selected"`
	Stats        retrieval.Stats          `json:"stats"`
}

// SmartChatResponse is the body of a successful smart-chat call.
type SmartChatResponse struct {
	Message         ChatMessage                 `json:"message"`
	ConversationID  string                      `json:"conversationId"`
	RAGInfo         RAGInfo                     `json:"ragInfo"`
	Sources         []retrieval.SourceUsage     `json:"sources"`
	Quality         retrieval.QualityAssessment `json:"quality"`
	Context         retrieval.OptimizedContext  `json:"context"`
	Recommendations []string                    `json:"recommendations"`
	Performance     Performance                 `json:"performance"`
	Debug           *Debug                      `json:"debug,omitempty"`
}

// SmartChatStatus is the body of GET /agents/{id}/smart-chat.
type SmartChatStatus struct {
	SmartRAGStatus observability.HealthStatus                 `json:"smartRAGStatus"`
	AgentID        string                                     `json:"agentId"`
	Services       map[string]observability.HealthCheckResult `json:"services"`
	Metrics        ChatMetrics                                `json:"metrics"`
	Performance    PerformanceSummary                         `json:"performance"`
}

func (s *Server) handleSmartChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := s.now()

	var req SmartChatRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	message, err := s.validateMessage(ctx, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	agentID := r.PathValue("id")
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = conversation.NewID()
	}

	got, err := s.retrieve(ctx, agentID, conversationID, message, req.ContextOptions, req.SourceOptions)
	if err != nil {
		s.stats.failure()
		writeError(w, r, err)
		return
	}
	res := got.result

	recommendations := append([]string(nil), res.Recommendations...)
	useContext := !res.Empty()
	if q := req.QualityOptions; q != nil && useContext && res.Quality.OverallScore < q.MinOverallScore {
		useContext = false
		recommendations = append(recommendations, fmt.Sprintf(
			"context quality %.2f is below the requested minimum %.2f; answered without context",
			res.Quality.OverallScore, q.MinOverallScore))
	}

	provider, model := s.chatModel(got.agent, req.Config)
	prompt := systemPrompt(got.agent, res, useContext)

	genStart := s.now()
	comp, err := s.complete(ctx, provider, model, prompt, message, req.Config)
	if err != nil {
		s.stats.failure()
		writeError(w, r, err)
		return
	}
	genElapsed := s.now().Sub(genStart)

	_, err = s.deps.Conversations.Append(ctx, agentID, userID(r), conversationID,
		conversation.Turn{Role: conversation.RoleUser, Content: message},
		conversation.Turn{Role: conversation.RoleAssistant, Content: comp.Content, Provider: provider, Model: model},
	)
	if err != nil {
		smartchat.LogWarn(ctx, "failed to persist conversation", "conversation_id", conversationID, "error", err)
	}

	total := s.now().Sub(start)
	s.stats.success(res.Empty(), res.Quality.OverallScore, got.elapsed, genElapsed, total)

	resp := SmartChatResponse{
		Message:         ChatMessage{Role: conversation.RoleAssistant, Content: comp.Content, Provider: provider, Model: model},
		ConversationID:  conversationID,
		RAGInfo:         ragInfo(res, useContext),
		Sources:         nonNil(res.SourcesUsed),
		Quality:         res.Quality,
		Context:         res.Context,
		Recommendations: nonNil(recommendations),
		Performance: Performance{
			RetrievalMs:  durationMs(got.elapsed),
			GenerationMs: durationMs(genElapsed),
			TotalMs:      durationMs(total),
		},
	}
	if s.opts.Debug && req.QualityOptions != nil && req.QualityOptions.Debug {
		resp.Debug = &Debug{SystemPrompt: prompt, Selected: nonNil(res.Selected), Stats: res.Stats}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// chatModel picks the request override, then the agent, then the server default.
func (s *Server) chatModel(agent sources.Agent, cfg *ChatConfig) (string, string) {
	provider, model := agent.Provider, agent.Model
	if provider == "" {
		provider, model = s.opts.DefaultProvider, s.opts.DefaultModel
	}
	if cfg != nil && cfg.Provider != "" {
		provider, model = cfg.Provider, cfg.Model
	}
	if cfg != nil && cfg.Model != "" {
		model = cfg.Model
	}
	return provider, model
}

// complete calls the provider directly, bypassing model selection.
func (s *Server) complete(ctx context.Context, provider, model, system, message string, cfg *ChatConfig) (*switcher.Completion, error) {
	inv, ok := s.deps.Invokers[provider]
	if !ok || model == "" {
		return nil, smartchat.NewKindErr(ctx, smartchat.KindNoEligibleProvider,
			fmt.Sprintf("no invoker configured for %q model %q", provider, model))
	}
	maxTokens := s.opts.MaxOutputTokens
	if cfg != nil && cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.InvokeTimeout)
	defer cancel()
	comp, err := inv.Invoke(callCtx, switcher.Invocation{
		Model:     model,
		System:    system,
		Messages:  []switcher.Message{{Role: "user", Content: message}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, smartchat.WrapErr(ctx, ctx.Err(), "request cancelled")
		}
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindProvider, err, "model invocation failed")
	}
	return comp, nil
}

func (s *Server) handleSmartChatStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := r.PathValue("id")
	if _, err := s.deps.Sources.Agent(ctx, agentID); err != nil {
		writeError(w, r, err)
		return
	}

	report := s.deps.Health.RunAll(ctx)
	metrics, perf := s.stats.snapshot()

	status := http.StatusOK
	if report.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, SmartChatStatus{
		SmartRAGStatus: report.Status,
		AgentID:        agentID,
		Services:       report.Checks,
		Metrics:        metrics,
		Performance:    perf,
	})
}
