package switcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/store"
)

// ResponseCache stores successful completions keyed by model and the exact
// prompt, so repeated questions skip the provider call.
type ResponseCache struct {
	store store.Store
	ttl   time.Duration
}

// NewResponseCache caches on st for ttl. A ttl <= 0 keeps entries until the
// store drops them.
func NewResponseCache(st store.Store, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: st, ttl: ttl}
}

type cacheKeyInput struct {
	Provider string    `json:"p"`
	Model    string    `json:"m"`
	System   string    `json:"s"`
	Messages []Message `json:"msgs"`
}

func (c *ResponseCache) key(p ProviderProfile, in Invocation) string {
	data, _ := json.Marshal(cacheKeyInput{Provider: p.Provider, Model: p.Model, System: in.System, Messages: in.Messages})
	sum := sha256.Sum256(data)
	return "responses/" + hex.EncodeToString(sum[:])
}

// Get returns the cached completion for p and in. Store failures count as
// misses.
func (c *ResponseCache) Get(ctx context.Context, p ProviderProfile, in Invocation) (*Completion, bool) {
	data, err := c.store.Get(ctx, c.key(p, in))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			smartchat.LogWarn(ctx, "response cache read failed", "error", err)
		}
		return nil, false
	}
	var comp Completion
	if err := json.Unmarshal(data, &comp); err != nil {
		smartchat.LogWarn(ctx, "response cache entry is corrupt", "error", err)
		return nil, false
	}
	return &comp, true
}

// Put stores comp for p and in.
func (c *ResponseCache) Put(ctx context.Context, p ProviderProfile, in Invocation, comp *Completion) {
	data, err := json.Marshal(comp)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, c.key(p, in), data, c.ttl); err != nil {
		smartchat.LogWarn(ctx, "response cache write failed", "error", err)
	}
}
