// Package switcher implements the model selection orchestrator: it filters
// and ranks provider/model candidates against cost, latency and quality
// constraints, invokes the best one with a bounded fallback chain, and
// records the outcome for future rankings and optimization insights.
package switcher

import (
	"slices"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// Complexity is the estimated difficulty of a message.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
	ComplexityExpert  Complexity = "expert"
)

// Tier orders complexities from 0 (simple) to 3 (expert), -1 when unknown.
func (c Complexity) Tier() int {
	switch c {
	case ComplexitySimple:
		return 0
	case ComplexityMedium:
		return 1
	case ComplexityComplex:
		return 2
	case ComplexityExpert:
		return 3
	}
	return -1
}

// Valid reports whether c is a known complexity.
func (c Complexity) Valid() bool { return c.Tier() >= 0 }

// Priority selects which factor dominates the ranking.
type Priority string

const (
	PriorityCost     Priority = "cost"
	PrioritySpeed    Priority = "speed"
	PriorityQuality  Priority = "quality"
	PriorityBalanced Priority = "balanced"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCost, PrioritySpeed, PriorityQuality, PriorityBalanced:
		return true
	}
	return false
}

// Capability is a feature a provider/model supports.
type Capability string

const (
	CapChat            Capability = "chat"
	CapFunctionCalling Capability = "function_calling"
	CapStreaming       Capability = "streaming"
	CapVision          Capability = "vision"
	CapLargeContext    Capability = "large_context"
)

// HealthStatus is the last known health of a provider/model.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// RateLimit throttles calls to one provider/model. Zero values disable the
// corresponding limit.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" json:"requestsPerMinute"`
	Burst             int     `yaml:"burst" json:"burst"`
	MaxConcurrent     int64   `yaml:"max_concurrent" json:"maxConcurrent"`
}

// ProviderProfile describes one provider/model combination. Profiles are
// immutable once published to a Registry.
type ProviderProfile struct {
	Provider               string       `yaml:"provider" json:"provider"`
	Model                  string       `yaml:"model" json:"model"`
	ResponseTimeEstimateMs int64        `yaml:"response_time_estimate_ms" json:"responseTimeEstimateMs"`
	CostPer1kTokens        float64      `yaml:"cost_per_1k_tokens" json:"costPer1kTokens"`
	Capabilities           []Capability `yaml:"capabilities" json:"capabilities"`
	// Tier is the highest message complexity the model handles well.
	Tier       Complexity   `yaml:"tier" json:"tier"`
	Health     HealthStatus `yaml:"health" json:"healthStatus"`
	RateLimit  RateLimit    `yaml:"rate_limit" json:"rateLimit"`
	HealthNote string       `yaml:"-" json:"healthNote,omitempty"`
}

// Key identifies the profile as "provider/model".
func (p ProviderProfile) Key() string {
	return p.Provider + "/" + p.Model
}

// Has reports whether the profile lists capability c.
func (p ProviderProfile) Has(c Capability) bool {
	return slices.Contains(p.Capabilities, c)
}

// ResponseTimeEstimate returns the latency estimate as a duration.
func (p ProviderProfile) ResponseTimeEstimate() time.Duration {
	return time.Duration(p.ResponseTimeEstimateMs) * time.Millisecond
}

// Features are the capabilities a request requires.
type Features struct {
	RequiresStreaming       bool `json:"requiresStreaming"`
	RequiresFunctionCalling bool `json:"requiresFunctionCalling"`
	RequiresVision          bool `json:"requiresVision"`
	RequiresLongContext     bool `json:"requiresLongContext"`
}

// Required lists the capabilities implied by f. Chat is always required.
func (f Features) Required() []Capability {
	caps := []Capability{CapChat}
	if f.RequiresStreaming {
		caps = append(caps, CapStreaming)
	}
	if f.RequiresFunctionCalling {
		caps = append(caps, CapFunctionCalling)
	}
	if f.RequiresVision {
		caps = append(caps, CapVision)
	}
	if f.RequiresLongContext {
		caps = append(caps, CapLargeContext)
	}
	return caps
}

// Message is one chat message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single model selection decision.
type Request struct {
	UserID         string `json:"userId,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`

	Message      string    `json:"message"`
	SystemPrompt string    `json:"-"`
	History      []Message `json:"-"`

	// Complexity is classified from Message when empty.
	Complexity Complexity `json:"messageComplexity,omitempty"`
	Priority   Priority   `json:"qualityPriority,omitempty"`
	// MaxResponseTime bounds each attempt. Zero uses the configured default.
	MaxResponseTime time.Duration `json:"maxResponseTime,omitempty"`
	// MaxCostPerMessage in USD. Zero uses the configured default, negative
	// disables the ceiling.
	MaxCostPerMessage float64 `json:"maxCostPerMessage,omitempty"`

	PreferredProvider string `json:"preferredProvider,omitempty"`
	PreferredModel    string `json:"preferredModel,omitempty"`

	Features

	// EnableOptimization ranks on historical quality; otherwise every
	// candidate gets the configured default quality.
	EnableOptimization bool `json:"enableOptimization"`
	EnableABTesting    bool `json:"enableABTesting"`
}

// Usage counts tokens of one completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Alternative is a ranked runner-up.
type Alternative struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Score         float64 `json:"score"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// Attempt records one invocation in the fallback chain.
type Attempt struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// ABTestInfo tags a response served by a sampled variant.
type ABTestInfo struct {
	Variant string  `json:"variant"`
	Control string  `json:"control"`
	Rate    float64 `json:"rate"`
}

// Response is the outcome of SelectAndInvoke. It is never mutated after it
// is returned.
type Response struct {
	Success bool   `json:"success"`
	Content string `json:"content"`

	SelectedProvider    string        `json:"selectedProvider"`
	SelectedModel       string        `json:"selectedModel"`
	SelectionReason     string        `json:"selectionReason"`
	SelectionConfidence float64       `json:"selectionConfidence"`
	Alternatives        []Alternative `json:"alternatives"`
	Complexity          Complexity    `json:"messageComplexity"`

	Cost          float64       `json:"cost"`
	EstimatedCost float64       `json:"estimatedCost"`
	TokensUsed    Usage         `json:"tokensUsed"`
	ResponseTime  time.Duration `json:"responseTime"`
	QualityScore  float64       `json:"qualityScore"`

	CacheHit     bool        `json:"cacheHit"`
	FallbackUsed bool        `json:"fallbackUsed"`
	ABTest       *ABTestInfo `json:"abTestInfo,omitempty"`
	Attempts     []Attempt   `json:"attempts"`

	Error     string         `json:"error,omitempty"`
	ErrorKind smartchat.Kind `json:"errorKind,omitempty"`
	HistoryID string         `json:"historyId,omitempty"`
}
