package api

import (
	"sync"
	"time"
)

// chatStats are in-process smart-chat counters for the status route.
type chatStats struct {
	mu           sync.Mutex
	requests     int64
	failures     int64
	emptyContext int64
	qualitySum   float64
	retrieval    time.Duration
	generation   time.Duration
	total        time.Duration
}

// ChatMetrics are cumulative smart-chat counters.
type ChatMetrics struct {
	TotalRequests    int64   `json:"totalRequests"`
	FailedRequests   int64   `json:"failedRequests"`
	EmptyContextRate float64 `json:"emptyContextRate"`
	AvgQualityScore  float64 `json:"avgQualityScore"`
}

// PerformanceSummary averages smart-chat timings over successful requests.
type PerformanceSummary struct {
	AvgRetrievalMs  float64 `json:"avgRetrievalMs"`
	AvgGenerationMs float64 `json:"avgGenerationMs"`
	AvgTotalMs      float64 `json:"avgTotalMs"`
}

func (c *chatStats) success(empty bool, quality float64, retrieval, generation, total time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	if empty {
		c.emptyContext++
	}
	c.qualitySum += quality
	c.retrieval += retrieval
	c.generation += generation
	c.total += total
}

func (c *chatStats) failure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.failures++
}

func (c *chatStats) snapshot() (ChatMetrics, PerformanceSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := ChatMetrics{TotalRequests: c.requests, FailedRequests: c.failures}
	var p PerformanceSummary
	ok := c.requests - c.failures
	if ok > 0 {
		n := float64(ok)
		m.EmptyContextRate = float64(c.emptyContext) / n
		m.AvgQualityScore = c.qualitySum / n
		p.AvgRetrievalMs = durationMs(c.retrieval) / n
		p.AvgGenerationMs = durationMs(c.generation) / n
		p.AvgTotalMs = durationMs(c.total) / n
	}
	return m, p
}
