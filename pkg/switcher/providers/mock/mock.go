// Package mock provides a scripted switcher.Invoker for tests and for
// running the server without provider credentials.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// Step is one scripted reply. A non-nil Err fails the call; Delay is waited
// before replying and honors cancellation.
type Step struct {
	Content string
	Err     error
	Delay   time.Duration
}

// Invoker replays scripted steps per model. Once a model's script is
// consumed its last step repeats; unscripted models echo the last user
// message.
type Invoker struct {
	name string

	mu      sync.Mutex
	scripts map[string][]Step
	calls   map[string]int
	pingErr error
	last    switcher.Invocation
}

// New creates a mock invoker reporting as provider name.
func New(name string) *Invoker {
	return &Invoker{name: name, scripts: make(map[string][]Step), calls: make(map[string]int)}
}

// Script sets the steps for model.
func (m *Invoker) Script(model string, steps ...Step) *Invoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[model] = steps
	return m
}

// Fail makes every call to model fail with the given HTTP status.
func (m *Invoker) Fail(model string, status int) *Invoker {
	return m.Script(model, Step{Err: &switcher.ProviderError{
		Provider:   m.name,
		StatusCode: status,
		Err:        fmt.Errorf("mock failure"),
	}})
}

// Slow makes every call to model take d.
func (m *Invoker) Slow(model string, d time.Duration) *Invoker {
	return m.Script(model, Step{Content: "slow reply.", Delay: d})
}

// SetPingError sets the error Ping returns.
func (m *Invoker) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// Calls returns how many times model was invoked.
func (m *Invoker) Calls(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[model]
}

// LastInvocation returns the most recent invocation.
func (m *Invoker) LastInvocation() switcher.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Invoke implements switcher.Invoker.
func (m *Invoker) Invoke(ctx context.Context, in switcher.Invocation) (*switcher.Completion, error) {
	step := m.next(in)

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	content := step.Content
	if content == "" {
		content = fmt.Sprintf("[%s/%s] %s", m.name, in.Model, lastUserMessage(in.Messages))
	}
	prompt := len(strings.Fields(in.System))
	for _, msg := range in.Messages {
		prompt += len(strings.Fields(msg.Content))
	}
	return &switcher.Completion{
		Content:          content,
		PromptTokens:     prompt,
		CompletionTokens: len(strings.Fields(content)),
	}, nil
}

func (m *Invoker) next(in switcher.Invocation) Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.calls[in.Model]
	m.calls[in.Model] = n + 1
	m.last = in

	script := m.scripts[in.Model]
	if len(script) == 0 {
		return Step{}
	}
	return script[min(n, len(script)-1)]
}

// Ping implements switcher.Pinger.
func (m *Invoker) Ping(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func lastUserMessage(messages []switcher.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
