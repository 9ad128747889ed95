// Package retrieval implements the context retrieval and optimization engine:
// it scores knowledge sources against a query, caps and diversifies the
// matches, fits them into a token budget and grades the resulting context.
package retrieval

import "time"

// SourceType distinguishes documents from prior conversations.
type SourceType string

const (
	SourceDocument     SourceType = "document"
	SourceConversation SourceType = "conversation"
)

// KnowledgeSource is a unit of retrievable content. It is treated as
// immutable for the duration of a request.
type KnowledgeSource struct {
	ID               string     `json:"id"`
	Type             SourceType `json:"type"`
	Name             string     `json:"name"`
	Content          string     `json:"content"`
	CredibilityScore float64    `json:"credibilityScore"` // 0..1
	Priority         float64    `json:"priority"`         // ranking weight, <= 0 means 1
}

// SearchResult is a scored chunk of a KnowledgeSource.
type SearchResult struct {
	SourceID       string     `json:"sourceId"`
	SourceName     string     `json:"sourceName"`
	SourceType     SourceType `json:"sourceType"`
	ChunkIndex     int        `json:"chunkIndex"`
	RelevanceScore float64    `json:"relevanceScore"`
	Content        string     `json:"content"`
	Priority       float64    `json:"priority"`
	Credibility    float64    `json:"credibility"`
	Tokens         int        `json:"tokens"`
}

// RankScore is the budget-fitting key: relevance weighted by source priority.
func (r SearchResult) RankScore() float64 {
	return r.RelevanceScore * r.Priority
}

// ChunkingStrategy selects how sources are split before scoring.
type ChunkingStrategy string

const (
	ChunkingNone        ChunkingStrategy = "none"
	ChunkingSemantic    ChunkingStrategy = "semantic"
	ChunkingFixedWindow ChunkingStrategy = "fixed-window"
)

// Valid reports whether s is a known strategy.
func (s ChunkingStrategy) Valid() bool {
	switch s {
	case ChunkingNone, ChunkingSemantic, ChunkingFixedWindow:
		return true
	}
	return false
}

// OptimizedContext is the budget-fitting context bundle.
//
// OptimizedTokenCount never exceeds the requested MaxTokens and
// CompressionRatio is always in (0, 1].
type OptimizedContext struct {
	Content             string           `json:"content"`
	OriginalTokenCount  int              `json:"originalTokenCount"`
	OptimizedTokenCount int              `json:"optimizedTokenCount"`
	CompressionRatio    float64          `json:"compressionRatio"`
	ChunkingStrategy    ChunkingStrategy `json:"chunkingStrategy"`
	ConversationSummary string           `json:"conversationSummary,omitempty"`
}

// QualityAssessment grades a context bundle. Every score is in [0, 1].
type QualityAssessment struct {
	RelevanceScore   float64 `json:"relevanceScore"`
	DiversityScore   float64 `json:"diversityScore"`
	CredibilityScore float64 `json:"credibilityScore"`
	CoherenceScore   float64 `json:"coherenceScore"`
	OverallScore     float64 `json:"overallScore"`
}

// SourceUsage is the provenance entry for one source that contributed chunks.
type SourceUsage struct {
	SourceID       string     `json:"sourceId"`
	Name           string     `json:"name"`
	Type           SourceType `json:"type"`
	RelevanceScore float64    `json:"relevanceScore"` // best chunk
	Chunks         int        `json:"chunks"`
}

// ConversationTurn is one prior message of the conversation.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats describes how candidates were narrowed down.
type Stats struct {
	SourcesConsidered int           `json:"sourcesConsidered"`
	ChunksScored      int           `json:"chunksScored"`
	AboveThreshold    int           `json:"aboveThreshold"`
	AfterCapping      int           `json:"afterCapping"`
	AfterDiversity    int           `json:"afterDiversity"`
	Selected          int           `json:"selected"`
	DegradedScoring   bool          `json:"degradedScoring"`
	Duration          time.Duration `json:"duration"`
}

// Result is the output of RetrieveAndOptimize.
type Result struct {
	Context         OptimizedContext  `json:"context"`
	Quality         QualityAssessment `json:"quality"`
	Selected        []SearchResult    `json:"selected"`
	SourcesUsed     []SourceUsage     `json:"sourcesUsed"`
	Recommendations []string          `json:"recommendations"`
	Stats           Stats             `json:"stats"`
}

// Empty reports whether no context was selected.
func (r *Result) Empty() bool {
	return len(r.Selected) == 0
}
