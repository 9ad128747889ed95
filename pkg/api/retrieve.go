package api

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/calque-ai/go-smartchat/pkg/config"
	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/sources"
)

// ContextOptions override the engine defaults per request. Nil fields keep
// the configured value.
type ContextOptions struct {
	MaxTokens                  *int     `json:"maxTokens,omitempty"`
	MinRelevanceScore          *float64 `json:"minRelevanceScore,omitempty"`
	MaxResultsPerSource        *int     `json:"maxResultsPerSource,omitempty"`
	EnableDiversityFiltering   *bool    `json:"enableDiversityFiltering,omitempty"`
	IncludeConversationHistory *bool    `json:"includeConversationHistory,omitempty"`
	MaxHistoryTurns            *int     `json:"maxHistoryTurns,omitempty"`
	ChunkingStrategy           *string  `json:"chunkingStrategy,omitempty"`
	ChunkSize                  *int     `json:"chunkSize,omitempty"`
	DuplicateThreshold         *float64 `json:"duplicateThreshold,omitempty"`
	DiversityLambda            *float64 `json:"diversityLambda,omitempty"`
}

// SourceOptions narrow the agent's sources before retrieval.
type SourceOptions struct {
	SourceIDs  []string `json:"sourceIds,omitempty"`
	Types      []string `json:"types,omitempty"`
	MaxSources int      `json:"maxSources,omitempty"`
}

// RAGInfo summarizes the retrieval step.
type RAGInfo struct {
	ContextUsed       bool                       `json:"contextUsed"`
	SourcesConsidered int                        `json:"sourcesConsidered"`
	ChunksScored      int                        `json:"chunksScored"`
	ChunksSelected    int                        `json:"chunksSelected"`
	ContextTokens     int                        `json:"contextTokens"`
	CompressionRatio  float64                    `json:"compressionRatio"`
	ChunkingStrategy  retrieval.ChunkingStrategy `json:"chunkingStrategy"`
	DegradedScoring   bool                       `json:"degradedScoring"`
}

type retrieved struct {
	agent   sources.Agent
	result  *retrieval.Result
	elapsed time.Duration
}

func (s *Server) validateMessage(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", smartchat.NewKindErr(ctx, smartchat.KindValidation, "message is required")
	}
	if utf8.RuneCountInString(message) > s.opts.MaxMessageLength {
		return "", smartchat.NewKindErr(ctx, smartchat.KindValidation, "message is too long")
	}
	return message, nil
}

// retrieve resolves the agent, loads its sources and the conversation
// history, and runs the context engine.
func (s *Server) retrieve(ctx context.Context, agentID, conversationID, query string, co *ContextOptions, so *SourceOptions) (*retrieved, error) {
	agent, err := s.deps.Sources.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	opts := s.deps.Engine.Defaults()
	config.Merge(&opts, co)

	q := sources.Query{}
	if so != nil {
		q.Limit = so.MaxSources
	}
	if s.deps.QueryEmbedder != nil {
		vecs, err := s.deps.QueryEmbedder.Embed(ctx, []string{query})
		if err == nil && len(vecs) == 1 {
			q.Embedding = vecs[0]
		} else {
			smartchat.LogWarn(ctx, "query embedding failed, listing sources unfiltered", "error", err)
		}
	}
	srcs, err := s.deps.Sources.Sources(ctx, agentID, q)
	if err != nil {
		return nil, err
	}
	srcs = filterSources(srcs, so)

	if opts.IncludeConversationHistory && conversationID != "" && opts.MaxHistoryTurns > 0 {
		turns, err := s.deps.Conversations.Recent(ctx, agentID, conversationID, opts.MaxHistoryTurns)
		if err != nil {
			return nil, err
		}
		opts.History = conversation.ToRetrieval(turns)
	}

	start := s.now()
	res, err := s.deps.Engine.RetrieveAndOptimize(ctx, query, srcs, opts)
	if err != nil {
		return nil, err
	}
	return &retrieved{agent: agent, result: res, elapsed: s.now().Sub(start)}, nil
}

func filterSources(srcs []retrieval.KnowledgeSource, so *SourceOptions) []retrieval.KnowledgeSource {
	if so == nil || (len(so.SourceIDs) == 0 && len(so.Types) == 0) {
		return srcs
	}
	out := srcs[:0:0]
	for _, src := range srcs {
		if len(so.SourceIDs) > 0 && !slices.Contains(so.SourceIDs, src.ID) {
			continue
		}
		if len(so.Types) > 0 && !slices.Contains(so.Types, string(src.Type)) {
			continue
		}
		out = append(out, src)
	}
	return out
}

func ragInfo(res *retrieval.Result, used bool) RAGInfo {
	return RAGInfo{
		ContextUsed:       used,
		SourcesConsidered: res.Stats.SourcesConsidered,
		ChunksScored:      res.Stats.ChunksScored,
		ChunksSelected:    res.Stats.Selected,
		ContextTokens:     res.Context.OptimizedTokenCount,
		CompressionRatio:  res.Context.CompressionRatio,
		ChunkingStrategy:  res.Context.ChunkingStrategy,
		DegradedScoring:   res.Stats.DegradedScoring,
	}
}

const defaultSystemPrompt = "You are a helpful assistant."

// systemPrompt joins the agent prompt with the conversation summary and, when
// withContext is set, the optimized context.
func systemPrompt(agent sources.Agent, res *retrieval.Result, withContext bool) string {
	var b strings.Builder
	if agent.SystemPrompt != "" {
		b.WriteString(agent.SystemPrompt)
	} else {
		b.WriteString(defaultSystemPrompt)
	}

	if withContext && res.Context.Content != "" {
		b.WriteString("\n\nAnswer using the context below. If it does not contain the answer, say so instead of guessing.\n\nContext:\n")
		b.WriteString(res.Context.Content)
	}
	if res.Context.ConversationSummary != "" {
		b.WriteString("\n\nConversation so far:\n")
		b.WriteString(res.Context.ConversationSummary)
	}
	return b.String()
}

// nonNil keeps JSON arrays from rendering as null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
