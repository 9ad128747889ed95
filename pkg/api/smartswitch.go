package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// defaultHistoryDays is the insight window when the query names none.
const defaultHistoryDays = 30

// SmartSwitchChatRequest is the body of POST /agents/{id}/smart-switch-chat.
type SmartSwitchChatRequest struct {
	Message           string              `json:"message"`
	ConversationID    string              `json:"conversationId,omitempty"`
	MessageComplexity switcher.Complexity `json:"messageComplexity,omitempty"`
	QualityPriority   switcher.Priority   `json:"qualityPriority,omitempty"`
	// MaxResponseTime in milliseconds.
	MaxResponseTime   int64   `json:"maxResponseTime,omitempty"`
	MaxCostPerMessage float64 `json:"maxCostPerMessage,omitempty"`
	PreferredProvider string  `json:"preferredProvider,omitempty"`
	PreferredModel    string  `json:"preferredModel,omitempty"`
	switcher.Features
	EnableOptimization bool `json:"enableOptimization"`
	EnableABTesting    bool `json:"enableABTesting"`
	// UseContext runs retrieval first. Default true.
	UseContext     *bool           `json:"useContext,omitempty"`
	ContextOptions *ContextOptions `json:"contextOptions,omitempty"`
	SourceOptions  *SourceOptions  `json:"sourceOptions,omitempty"`
}

// ConversationInfo identifies the conversation the reply was stored in.
type ConversationInfo struct {
	ID    string `json:"id"`
	Turns int    `json:"turns"`
}

// ProviderInfo explains the model selection.
type ProviderInfo struct {
	Name              string                 `json:"name"`
	Model             string                 `json:"model"`
	SelectionReason   string                 `json:"selectionReason"`
	Confidence        float64                `json:"confidence"`
	Alternatives      []switcher.Alternative `json:"alternatives"`
	MessageComplexity switcher.Complexity    `json:"messageComplexity"`
	FallbackUsed      bool                   `json:"fallbackUsed"`
	Attempts          []switcher.Attempt     `json:"attempts"`
}

// SwitchPerformance reports timings in milliseconds.
type SwitchPerformance struct {
	ResponseTimeMs float64 `json:"responseTimeMs"`
	RetrievalMs    float64 `json:"retrievalMs"`
	TotalMs        float64 `json:"totalMs"`
	QualityScore   float64 `json:"qualityScore"`
}

// CostInfo is the spend of one request.
type CostInfo struct {
	Actual    float64 `json:"actual"`
	Estimated float64 `json:"estimated"`
	Currency  string  `json:"currency"`
}

// SystemInfo carries the outcome flags of a request.
type SystemInfo struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	ErrorKind smartchat.Kind `json:"errorKind,omitempty"`
	HistoryID string         `json:"historyId,omitempty"`
	CacheHit  bool           `json:"cacheHit"`
	RAG       *RAGInfo       `json:"rag,omitempty"`
}

// SmartSwitchChatResponse is the body of every smart-switch-chat reply that
// reached model selection, failed or not.
type SmartSwitchChatResponse struct {
	Message      *ChatMessage         `json:"message,omitempty"`
	Conversation ConversationInfo     `json:"conversation"`
	Provider     ProviderInfo         `json:"provider"`
	Performance  SwitchPerformance    `json:"performance"`
	Cost         CostInfo             `json:"cost"`
	ABTest       *switcher.ABTestInfo `json:"abTest,omitempty"`
	Usage        switcher.Usage       `json:"usage"`
	System       SystemInfo           `json:"system"`
}

// SwitchHistoryResponse is the body of GET /agents/{id}/smart-switch-chat.
type SwitchHistoryResponse struct {
	AgentID  string                  `json:"agentId"`
	Days     int                     `json:"days"`
	History  []switcher.HistoryEntry `json:"history"`
	Insights *switcher.Insights      `json:"insights,omitempty"`
}

func (s *Server) handleSmartSwitchChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := s.now()

	var req SmartSwitchChatRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	message, err := s.validateMessage(ctx, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.MaxResponseTime < 0 {
		writeError(w, r, smartchat.NewKindErr(ctx, smartchat.KindValidation, "maxResponseTime must not be negative"))
		return
	}

	agentID := r.PathValue("id")
	user := userID(r)
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = conversation.NewID()
	}

	sreq := switcher.Request{
		UserID:             user,
		AgentID:            agentID,
		ConversationID:     conversationID,
		Message:            message,
		Complexity:         req.MessageComplexity,
		Priority:           req.QualityPriority,
		MaxResponseTime:    time.Duration(req.MaxResponseTime) * time.Millisecond,
		MaxCostPerMessage:  req.MaxCostPerMessage,
		PreferredProvider:  req.PreferredProvider,
		PreferredModel:     req.PreferredModel,
		Features:           req.Features,
		EnableOptimization: req.EnableOptimization,
		EnableABTesting:    req.EnableABTesting,
	}

	var (
		rag         *RAGInfo
		retrievalMs float64
	)
	if req.UseContext == nil || *req.UseContext {
		got, err := s.retrieve(ctx, agentID, conversationID, message, req.ContextOptions, req.SourceOptions)
		if err != nil {
			writeError(w, r, err)
			return
		}
		info := ragInfo(got.result, !got.result.Empty())
		rag = &info
		retrievalMs = durationMs(got.elapsed)
		sreq.SystemPrompt = systemPrompt(got.agent, got.result, info.ContextUsed)
	} else {
		agent, err := s.deps.Sources.Agent(ctx, agentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sreq.SystemPrompt = agent.SystemPrompt
		turns, err := s.deps.Conversations.Recent(ctx, agentID, conversationID, s.deps.Engine.Defaults().MaxHistoryTurns)
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, t := range turns {
			sreq.History = append(sreq.History, switcher.Message{Role: t.Role, Content: t.Content})
		}
	}

	resp, err := s.deps.Orchestrator.SelectAndInvoke(ctx, sreq)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := SmartSwitchChatResponse{
		Conversation: ConversationInfo{ID: conversationID},
		Provider: ProviderInfo{
			Name:              resp.SelectedProvider,
			Model:             resp.SelectedModel,
			SelectionReason:   resp.SelectionReason,
			Confidence:        resp.SelectionConfidence,
			Alternatives:      nonNil(resp.Alternatives),
			MessageComplexity: resp.Complexity,
			FallbackUsed:      resp.FallbackUsed,
			Attempts:          nonNil(resp.Attempts),
		},
		Performance: SwitchPerformance{
			ResponseTimeMs: durationMs(resp.ResponseTime),
			RetrievalMs:    retrievalMs,
			QualityScore:   resp.QualityScore,
		},
		Cost:   CostInfo{Actual: resp.Cost, Estimated: resp.EstimatedCost, Currency: "USD"},
		ABTest: resp.ABTest,
		Usage:  resp.TokensUsed,
		System: SystemInfo{
			Success:   resp.Success,
			Error:     resp.Error,
			ErrorKind: resp.ErrorKind,
			HistoryID: resp.HistoryID,
			CacheHit:  resp.CacheHit,
			RAG:       rag,
		},
	}

	status := http.StatusOK
	if resp.Success {
		out.Message = &ChatMessage{
			Role:     conversation.RoleAssistant,
			Content:  resp.Content,
			Provider: resp.SelectedProvider,
			Model:    resp.SelectedModel,
		}
		conv, err := s.deps.Conversations.Append(ctx, agentID, user, conversationID,
			conversation.Turn{Role: conversation.RoleUser, Content: message},
			conversation.Turn{
				Role:     conversation.RoleAssistant,
				Content:  resp.Content,
				Provider: resp.SelectedProvider,
				Model:    resp.SelectedModel,
			},
		)
		if err != nil {
			smartchat.LogWarn(ctx, "failed to persist conversation", "conversation_id", conversationID, "error", err)
		} else {
			out.Conversation.Turns = len(conv.Turns)
		}
	} else {
		status = StatusFor(resp.ErrorKind)
		smartchat.LogWarn(ctx, "smart switch failed",
			"kind", resp.ErrorKind, "reason", resp.Error, "attempts", len(resp.Attempts))
	}

	out.Performance.TotalMs = durationMs(s.now().Sub(start))
	writeJSON(w, r, status, out)
}

func (s *Server) handleSmartSwitchHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := r.PathValue("id")

	days := defaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, smartchat.NewKindErr(ctx, smartchat.KindValidation, "days must be a positive integer"))
			return
		}
		days = n
	}
	withInsights, _ := strconv.ParseBool(r.URL.Query().Get("insights"))

	if _, err := s.deps.Sources.Agent(ctx, agentID); err != nil {
		writeError(w, r, err)
		return
	}

	user := userID(r)
	out := SwitchHistoryResponse{
		AgentID: agentID,
		Days:    days,
		History: nonNil(s.deps.Orchestrator.RecentHistory(user, agentID, days)),
	}
	if withInsights {
		insights, err := s.deps.Orchestrator.GetOptimizationInsights(ctx, user, agentID, days)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.Insights = &insights
	}
	writeJSON(w, r, http.StatusOK, out)
}
