package switcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/store"
)

// HistoryEntry records one SelectAndInvoke outcome.
type HistoryEntry struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId,omitempty"`
	AgentID        string        `json:"agentId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	Complexity     Complexity    `json:"complexity"`
	Priority       Priority      `json:"priority"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	Cost           float64       `json:"cost"`
	TokensUsed     int           `json:"tokensUsed"`
	ResponseTime   time.Duration `json:"responseTime"`
	QualityScore   float64       `json:"qualityScore"`
	FallbackUsed   bool          `json:"fallbackUsed"`
	ABVariant      bool          `json:"abVariant,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Key returns the entry's "provider/model".
func (e HistoryEntry) Key() string { return e.Provider + "/" + e.Model }

// HistoryFilter selects entries. Empty fields match everything.
type HistoryFilter struct {
	UserID  string
	AgentID string
	Since   time.Time
}

func (f HistoryFilter) match(e HistoryEntry) bool {
	return (f.UserID == "" || e.UserID == f.UserID) &&
		(f.AgentID == "" || e.AgentID == f.AgentID) &&
		(f.Since.IsZero() || !e.CreatedAt.Before(f.Since))
}

// HistoryConfig bounds the history log.
type HistoryConfig struct {
	Capacity int           `yaml:"capacity" json:"capacity"`
	MaxAge   time.Duration `yaml:"max_age" json:"maxAge"`
	// QualityAlpha is the smoothing factor of the per-model quality average.
	QualityAlpha float64 `yaml:"quality_alpha" json:"qualityAlpha"`
}

// DefaultHistoryConfig keeps 10 000 entries for 30 days.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{Capacity: 10000, MaxAge: 30 * 24 * time.Hour, QualityAlpha: 0.2}
}

// History is a bounded, append-only ring buffer of entries with running
// per-model quality averages. Appends are serialized; readers copy a
// snapshot under a short read lock.
type History struct {
	cfg HistoryConfig
	now func() time.Time

	mu      sync.RWMutex
	buf     []HistoryEntry
	start   int
	size    int
	seq     uint64 // entries ever appended
	flushed uint64 // seq at the last Flush
	quality map[string]float64
}

// NewHistory creates an empty history.
func NewHistory(cfg HistoryConfig) *History {
	d := DefaultHistoryConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.QualityAlpha <= 0 || cfg.QualityAlpha > 1 {
		cfg.QualityAlpha = d.QualityAlpha
	}
	return &History{
		cfg:     cfg,
		now:     time.Now,
		buf:     make([]HistoryEntry, cfg.Capacity),
		quality: make(map[string]float64),
	}
}

// Append adds an entry, evicting the oldest when full.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(e)
}

func (h *History) appendLocked(e HistoryEntry) {
	idx := (h.start + h.size) % len(h.buf)
	if h.size == len(h.buf) {
		h.buf[h.start] = e
		h.start = (h.start + 1) % len(h.buf)
	} else {
		h.buf[idx] = e
		h.size++
	}
	h.seq++

	if e.Success {
		key := e.Key()
		if prev, ok := h.quality[key]; ok {
			h.quality[key] = prev + h.cfg.QualityAlpha*(e.QualityScore-prev)
		} else {
			h.quality[key] = e.QualityScore
		}
	}
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Entries returns the matching entries within MaxAge, oldest first.
func (h *History) Entries(f HistoryFilter) []HistoryEntry {
	cutoff := time.Time{}
	if h.cfg.MaxAge > 0 {
		cutoff = h.now().Add(-h.cfg.MaxAge)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HistoryEntry, 0, h.size)
	for i := 0; i < h.size; i++ {
		e := h.buf[(h.start+i)%len(h.buf)]
		if e.CreatedAt.Before(cutoff) || !f.match(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Quality returns the smoothed quality of successful calls to key.
func (h *History) Quality(key string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	q, ok := h.quality[key]
	return q, ok
}

const historyPrefix = "history/"

func historyKey(e HistoryEntry) string {
	return fmt.Sprintf("%s%020d-%s", historyPrefix, e.CreatedAt.UnixNano(), e.ID)
}

// Flush writes entries appended since the previous Flush to st. Entries
// expire from the store after MaxAge.
func (h *History) Flush(ctx context.Context, st store.Store) (int, error) {
	h.mu.RLock()
	pending := int(min(h.seq-h.flushed, uint64(h.size)))
	batch := make([]HistoryEntry, 0, pending)
	for i := h.size - pending; i < h.size; i++ {
		batch = append(batch, h.buf[(h.start+i)%len(h.buf)])
	}
	seq := h.seq
	h.mu.RUnlock()

	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			return 0, smartchat.WrapErr(ctx, err, "failed to encode history entry")
		}
		if err := st.Set(ctx, historyKey(e), data, h.cfg.MaxAge); err != nil {
			return 0, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to persist history entry")
		}
	}

	h.mu.Lock()
	if seq > h.flushed {
		h.flushed = seq
	}
	h.mu.Unlock()
	return len(batch), nil
}

// Restore appends persisted entries within MaxAge, oldest first. Call it
// before serving traffic; restored entries are not flushed again.
func (h *History) Restore(ctx context.Context, st store.Store) (int, error) {
	keys, err := st.List(ctx, historyPrefix)
	if err != nil {
		return 0, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to list history")
	}

	cutoff := time.Time{}
	if h.cfg.MaxAge > 0 {
		cutoff = h.now().Add(-h.cfg.MaxAge)
	}
	var entries []HistoryEntry
	for _, k := range keys {
		data, err := st.Get(ctx, k)
		if err != nil {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			smartchat.LogWarn(ctx, "skipping corrupt history entry", "key", k, "error", err)
			continue
		}
		if e.CreatedAt.Before(cutoff) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		h.appendLocked(e)
	}
	h.flushed = h.seq
	return len(entries), nil
}
