package retrieval

import (
	"fmt"
	"math"
)

// Options are the per-request constraints of RetrieveAndOptimize. They are
// used as given, zero values included; start from Engine.Defaults or
// DefaultOptions and override what the request names.
type Options struct {
	MaxTokens                  int     `json:"maxTokens" yaml:"max_tokens"`
	MinRelevanceScore          float64 `json:"minRelevanceScore" yaml:"min_relevance_score"`
	MaxResultsPerSource        int     `json:"maxResultsPerSource" yaml:"max_results_per_source"`
	EnableDiversityFiltering   bool    `json:"enableDiversityFiltering" yaml:"enable_diversity_filtering"`
	IncludeConversationHistory bool    `json:"includeConversationHistory" yaml:"include_conversation_history"`
	MaxHistoryTurns            int     `json:"maxHistoryTurns" yaml:"max_history_turns"`

	ChunkingStrategy   ChunkingStrategy `json:"chunkingStrategy" yaml:"chunking_strategy"`
	ChunkSize          int              `json:"chunkSize" yaml:"chunk_size"` // tokens for semantic, words for fixed-window
	DuplicateThreshold float64          `json:"duplicateThreshold" yaml:"duplicate_threshold"`
	DiversityLambda    float64          `json:"diversityLambda" yaml:"diversity_lambda"`
	HistoryBudgetRatio float64          `json:"historyBudgetRatio" yaml:"history_budget_ratio"`

	// History holds the prior turns summarized when IncludeConversationHistory is set.
	History []ConversationTurn `json:"-" yaml:"-"`
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxTokens:                  4000,
		MinRelevanceScore:          0.6,
		MaxResultsPerSource:        3,
		EnableDiversityFiltering:   true,
		IncludeConversationHistory: true,
		MaxHistoryTurns:            10,
		ChunkingStrategy:           ChunkingSemantic,
		ChunkSize:                  256,
		DuplicateThreshold:         0.85,
		DiversityLambda:            0.7,
		HistoryBudgetRatio:         0.2,
	}
}

// Validate checks ranges.
func (o Options) Validate() error {
	switch {
	case o.MaxTokens <= 0:
		return fmt.Errorf("maxTokens must be positive, got %d", o.MaxTokens)
	case !inUnit(o.MinRelevanceScore):
		return fmt.Errorf("minRelevanceScore must be in [0,1], got %v", o.MinRelevanceScore)
	case o.MaxResultsPerSource <= 0:
		return fmt.Errorf("maxResultsPerSource must be positive, got %d", o.MaxResultsPerSource)
	case o.MaxHistoryTurns < 0:
		return fmt.Errorf("maxHistoryTurns must not be negative, got %d", o.MaxHistoryTurns)
	case !o.ChunkingStrategy.Valid():
		return fmt.Errorf("unknown chunking strategy %q", o.ChunkingStrategy)
	case o.ChunkSize <= 0:
		return fmt.Errorf("chunkSize must be positive, got %d", o.ChunkSize)
	case !inUnit(o.DuplicateThreshold):
		return fmt.Errorf("duplicateThreshold must be in [0,1], got %v", o.DuplicateThreshold)
	case !inUnit(o.DiversityLambda):
		return fmt.Errorf("diversityLambda must be in [0,1], got %v", o.DiversityLambda)
	case o.HistoryBudgetRatio < 0 || o.HistoryBudgetRatio >= 1 || math.IsNaN(o.HistoryBudgetRatio):
		return fmt.Errorf("historyBudgetRatio must be in [0,1), got %v", o.HistoryBudgetRatio)
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}
