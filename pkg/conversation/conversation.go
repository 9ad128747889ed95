// Package conversation persists chat turns per agent conversation on top of
// a store.Store so follow-up requests can summarize prior context.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/store"
)

// Roles used in turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one persisted message.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
}

// Conversation is the stored document for one conversation.
type Conversation struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	UserID    string    `json:"userId,omitempty"`
	Turns     []Turn    `json:"turns"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Options configure a Manager.
type Options struct {
	// MaxTurns caps stored turns per conversation, oldest dropped first.
	MaxTurns int `yaml:"max_turns"`
	// TTL expires idle conversations. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultOptions keeps 200 turns for 30 days.
func DefaultOptions() Options {
	return Options{MaxTurns: 200, TTL: 30 * 24 * time.Hour}
}

// Manager reads and appends conversation turns.
type Manager struct {
	store store.Store
	opts  Options
	now   func() time.Time

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewManager creates a Manager on st.
func NewManager(st store.Store, opts Options) *Manager {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultOptions().MaxTurns
	}
	return &Manager{store: st, opts: opts, now: time.Now}
}

// NewID returns a fresh conversation ID.
func NewID() string {
	return uuid.NewString()
}

func key(agentID, conversationID string) string {
	return "conversations/" + agentID + "/" + conversationID
}

// Get loads a conversation. A missing conversation is a KindNotFound error.
func (m *Manager) Get(ctx context.Context, agentID, conversationID string) (*Conversation, error) {
	data, err := m.store.Get(ctx, key(agentID, conversationID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, smartchat.NewKindErr(ctx, smartchat.KindNotFound, "conversation not found").
			Tag(slog.String("conversation_id", conversationID))
	}
	if err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to load conversation")
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to decode conversation")
	}
	return &conv, nil
}

// Recent returns up to n of the latest turns, oldest first. A missing
// conversation yields no turns.
func (m *Manager) Recent(ctx context.Context, agentID, conversationID string, n int) ([]Turn, error) {
	if conversationID == "" || n <= 0 {
		return nil, nil
	}
	conv, err := m.Get(ctx, agentID, conversationID)
	if smartchat.IsKind(err, smartchat.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(conv.Turns) > n {
		return conv.Turns[len(conv.Turns)-n:], nil
	}
	return conv.Turns, nil
}

// Append adds turns to a conversation, creating it when needed.
func (m *Manager) Append(ctx context.Context, agentID, userID, conversationID string, turns ...Turn) (*Conversation, error) {
	if agentID == "" || conversationID == "" {
		return nil, smartchat.NewKindErr(ctx, smartchat.KindValidation, "agent and conversation IDs are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.Get(ctx, agentID, conversationID)
	switch {
	case smartchat.IsKind(err, smartchat.KindNotFound):
		conv = &Conversation{ID: conversationID, AgentID: agentID, UserID: userID}
	case err != nil:
		return nil, err
	}

	now := m.now().UTC()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		conv.Turns = append(conv.Turns, t)
	}
	if extra := len(conv.Turns) - m.opts.MaxTurns; extra > 0 {
		conv.Turns = append([]Turn(nil), conv.Turns[extra:]...)
	}
	conv.UpdatedAt = now

	data, err := json.Marshal(conv)
	if err != nil {
		return nil, smartchat.WrapErr(ctx, err, "failed to encode conversation")
	}
	if err := m.store.Set(ctx, key(agentID, conversationID), data, m.opts.TTL); err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to save conversation")
	}

	smartchat.LogDebug(ctx, "conversation updated",
		"conversation_id", conversationID,
		"turns", len(conv.Turns),
	)
	return conv, nil
}

// List returns the conversation IDs stored for an agent.
func (m *Manager) List(ctx context.Context, agentID string) ([]string, error) {
	prefix := "conversations/" + agentID + "/"
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to list conversations")
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(prefix):]
	}
	return ids, nil
}

// ToRetrieval converts turns for the retrieval engine's summarizer.
func ToRetrieval(turns []Turn) []retrieval.ConversationTurn {
	out := make([]retrieval.ConversationTurn, len(turns))
	for i, t := range turns {
		out[i] = retrieval.ConversationTurn{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt}
	}
	return out
}
