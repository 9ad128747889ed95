package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calque-ai/go-smartchat/pkg/api"
	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/logger"
	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
	"github.com/calque-ai/go-smartchat/pkg/sources"
	"github.com/calque-ai/go-smartchat/pkg/store"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
	"github.com/calque-ai/go-smartchat/pkg/switcher/providers/mock"
)

const refundDoc = "Our refund policy allows returns within 30 days of purchase. Refunds are issued to the original payment method."

type harness struct {
	handler http.Handler
	invoker *mock.Invoker
	convs   *conversation.Manager
	metrics *observability.InMemoryMetricsProvider
	health  *observability.HealthCheckRegistry
}

type setup struct {
	health   switcher.HealthStatus
	invokers map[string]switcher.Invoker
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()

	log, err := logger.New(logger.Options{Level: "error", Writer: io.Discard})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}

	engine, err := retrieval.NewEngine(retrieval.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	reg := sources.NewMemoryRegistry()
	reg.PutAgent(sources.Agent{ID: "support", Name: "Support", SystemPrompt: "You answer billing questions.", Provider: "mock", Model: "echo"})
	reg.PutSource("support", retrieval.KnowledgeSource{
		ID: "refunds", Type: retrieval.SourceDocument, Name: "Refunds", Content: refundDoc, CredibilityScore: 0.9, Priority: 1,
	}, nil)

	inv := mock.New("mock")
	profiles, err := switcher.NewRegistry([]switcher.ProviderProfile{{
		Provider:               "mock",
		Model:                  "echo",
		ResponseTimeEstimateMs: 5,
		Tier:                   switcher.ComplexityExpert,
		Capabilities:           []switcher.Capability{switcher.CapChat},
		Health:                 s.health,
	}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	cfg := switcher.DefaultConfig()
	cfg.ABTestRate = 0
	cfg.DefaultMaxCostPerMessage = 0
	metrics := observability.NewInMemoryMetricsProvider()
	orch, err := switcher.NewOrchestrator(cfg, profiles, map[string]switcher.Invoker{"mock": inv}, switcher.WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}

	invokers := s.invokers
	if invokers == nil {
		invokers = map[string]switcher.Invoker{"mock": inv}
	}
	convs := conversation.NewManager(store.NewMemoryStore(), conversation.DefaultOptions())
	health := observability.NewHealthCheckRegistry(observability.WithCacheDuration(0))

	srv, err := api.New(api.Deps{
		Engine:        engine,
		Orchestrator:  orch,
		Sources:       reg,
		Conversations: convs,
		Invokers:      invokers,
		Health:        health,
		Metrics:       metrics,
		Logger:        log,
	}, api.Options{Debug: true})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}
	return &harness{handler: srv.Handler(), invoker: inv, convs: convs, metrics: metrics, health: health}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSmartChat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	rec := h.do(t, http.MethodPost, "/agents/support/smart-chat", map[string]any{
		"message":        "What is the refund policy?",
		"qualityOptions": map[string]any{"debug": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	resp := decode[api.SmartChatResponse](t, rec)
	if resp.ConversationID == "" || resp.Message.Role != conversation.RoleAssistant || resp.Message.Content == "" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Message.Provider != "mock" || resp.Message.Model != "echo" {
		t.Errorf("model = %s/%s, want the agent's mock/echo", resp.Message.Provider, resp.Message.Model)
	}
	if !resp.RAGInfo.ContextUsed || resp.RAGInfo.SourcesConsidered != 1 || resp.RAGInfo.ChunksSelected == 0 {
		t.Errorf("ragInfo = %+v", resp.RAGInfo)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].SourceID != "refunds" {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if resp.Debug == nil || !strings.Contains(resp.Debug.SystemPrompt, "refund policy allows returns") {
		t.Errorf("debug = %+v", resp.Debug)
	}

	last := h.invoker.LastInvocation()
	if !strings.HasPrefix(last.System, "You answer billing questions.") || !strings.Contains(last.System, "30 days") {
		t.Errorf("system prompt = %q", last.System)
	}

	turns, err := h.convs.Recent(context.Background(), "support", resp.ConversationID, 10)
	if err != nil || len(turns) != 2 {
		t.Fatalf("Recent() = %d turns, %v", len(turns), err)
	}
	if turns[0].Role != conversation.RoleUser || turns[1].Model != "echo" {
		t.Errorf("turns = %+v", turns)
	}

	if got := h.metrics.GetCounter(observability.MetricHTTPRequests,
		map[string]string{"route": "POST /agents/{id}/smart-chat", "status": "200"}); got != 1 {
		t.Errorf("http request counter = %d, want 1", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestSmartChatFollowUpUsesHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	first := decode[api.SmartChatResponse](t, h.do(t, http.MethodPost, "/agents/support/smart-chat",
		map[string]any{"message": "What is the refund policy?"}))

	rec := h.do(t, http.MethodPost, "/agents/support/smart-chat",
		map[string]any{"message": "And for digital goods?", "conversationId": first.ConversationID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	second := decode[api.SmartChatResponse](t, rec)
	if second.ConversationID != first.ConversationID {
		t.Errorf("conversation = %q, want %q", second.ConversationID, first.ConversationID)
	}
	if second.Context.ConversationSummary == "" {
		t.Error("follow-up has no conversation summary")
	}

	turns, _ := h.convs.Recent(context.Background(), "support", first.ConversationID, 10)
	if len(turns) != 4 {
		t.Errorf("turns = %d, want 4", len(turns))
	}
}

func TestSmartChatQualityGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	rec := h.do(t, http.MethodPost, "/agents/support/smart-chat", map[string]any{
		"message":        "What is the refund policy?",
		"qualityOptions": map[string]any{"minOverallScore": 1.1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	resp := decode[api.SmartChatResponse](t, rec)
	if resp.RAGInfo.ContextUsed {
		t.Error("context used despite the quality gate")
	}
	if strings.Contains(h.invoker.LastInvocation().System, refundDoc) {
		t.Error("gated context reached the model")
	}
	if len(resp.Recommendations) == 0 {
		t.Error("expected a recommendation about the quality gate")
	}
}

func TestSmartChatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   smartchat.Kind
	}{
		{"empty message", "/agents/support/smart-chat", map[string]any{"message": "   "}, http.StatusBadRequest, smartchat.KindValidation},
		{"invalid json", "/agents/support/smart-chat", "{", http.StatusBadRequest, smartchat.KindValidation},
		{"unknown agent", "/agents/ghost/smart-chat", map[string]any{"message": "hi"}, http.StatusNotFound, smartchat.KindNotFound},
		{"invalid context options", "/agents/support/smart-chat",
			map[string]any{"message": "hi", "contextOptions": map[string]any{"minRelevanceScore": 2}},
			http.StatusBadRequest, smartchat.KindValidation},
		{"unknown provider", "/agents/support/smart-chat",
			map[string]any{"message": "hi", "config": map[string]any{"provider": "nope", "model": "x"}},
			http.StatusUnprocessableEntity, smartchat.KindNoEligibleProvider},
	}

	h := newHarness(t, setup{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			body := decode[api.ErrorBody](t, rec)
			if body.Kind != tt.kind || body.Error == "" || body.RequestID == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestSmartChatProviderFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	h.invoker.Fail("echo", http.StatusInternalServerError)

	rec := h.do(t, http.MethodPost, "/agents/support/smart-chat", map[string]any{"message": "What is the refund policy?"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if body := decode[api.ErrorBody](t, rec); body.Kind != smartchat.KindProvider {
		t.Errorf("kind = %s", body.Kind)
	}
}

func TestSmartChatStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	h.do(t, http.MethodPost, "/agents/support/smart-chat", map[string]any{"message": "What is the refund policy?"})

	rec := h.do(t, http.MethodGet, "/agents/support/smart-chat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	status := decode[api.SmartChatStatus](t, rec)
	if status.SmartRAGStatus != observability.HealthStatusHealthy || status.AgentID != "support" {
		t.Errorf("status = %+v", status)
	}
	if status.Metrics.TotalRequests != 1 || status.Metrics.FailedRequests != 0 || status.Performance.AvgTotalMs < 0 {
		t.Errorf("metrics = %+v perf = %+v", status.Metrics, status.Performance)
	}

	h.health.Register(&observability.FuncHealthCheck{
		CheckName: "db",
		CheckFunc: func(context.Context) error { return errors.New("down") },
	}, true)
	if rec := h.do(t, http.MethodGet, "/agents/support/smart-chat", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/agents/ghost/smart-chat", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}

func TestSmartSwitchChat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	rec := h.do(t, http.MethodPost, "/agents/support/smart-switch-chat", map[string]any{
		"message":         "What is the refund policy?",
		"qualityPriority": "cost",
		"maxResponseTime": 5000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	resp := decode[api.SmartSwitchChatResponse](t, rec)
	if resp.Message == nil || resp.Message.Content == "" {
		t.Fatalf("message = %+v", resp.Message)
	}
	if resp.Provider.Name != "mock" || resp.Provider.Model != "echo" || resp.Provider.SelectionReason == "" {
		t.Errorf("provider = %+v", resp.Provider)
	}
	if !resp.System.Success || resp.System.HistoryID == "" || resp.System.RAG == nil || !resp.System.RAG.ContextUsed {
		t.Errorf("system = %+v", resp.System)
	}
	if resp.Conversation.ID == "" || resp.Conversation.Turns != 2 || resp.Cost.Currency != "USD" {
		t.Errorf("conversation = %+v cost = %+v", resp.Conversation, resp.Cost)
	}
	if !strings.Contains(h.invoker.LastInvocation().System, "30 days") {
		t.Error("retrieved context missing from the system prompt")
	}
}

func TestSmartSwitchChatWithoutContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	rec := h.do(t, http.MethodPost, "/agents/support/smart-switch-chat", map[string]any{
		"message":    "What is the refund policy?",
		"useContext": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	resp := decode[api.SmartSwitchChatResponse](t, rec)
	if resp.System.RAG != nil {
		t.Errorf("rag = %+v, want none", resp.System.RAG)
	}
	if got := h.invoker.LastInvocation().System; got != "You answer billing questions." {
		t.Errorf("system prompt = %q", got)
	}
}

func TestSmartSwitchChatFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  setup
		fail   bool
		body   map[string]any
		status int
		kind   smartchat.Kind
	}{
		{"all unhealthy", setup{health: switcher.HealthUnhealthy}, false,
			map[string]any{"message": "hello"}, http.StatusUnprocessableEntity, smartchat.KindNoEligibleProvider},
		{"exhausted", setup{}, true,
			map[string]any{"message": "hello"}, http.StatusBadGateway, smartchat.KindExhausted},
		{"unknown priority", setup{}, false,
			map[string]any{"message": "hello", "qualityPriority": "fastest"}, http.StatusBadRequest, smartchat.KindValidation},
		{"negative response time", setup{}, false,
			map[string]any{"message": "hello", "maxResponseTime": -1}, http.StatusBadRequest, smartchat.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tt.setup)
			if tt.fail {
				h.invoker.Fail("echo", http.StatusInternalServerError)
			}
			rec := h.do(t, http.MethodPost, "/agents/support/smart-switch-chat", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			if tt.status == http.StatusBadRequest {
				if body := decode[api.ErrorBody](t, rec); body.Kind != tt.kind {
					t.Errorf("kind = %s, want %s", body.Kind, tt.kind)
				}
				return
			}
			resp := decode[api.SmartSwitchChatResponse](t, rec)
			if resp.System.Success || resp.System.ErrorKind != tt.kind || resp.System.Error == "" || resp.Message != nil {
				t.Errorf("system = %+v message = %+v", resp.System, resp.Message)
			}
		})
	}
}

func TestSmartSwitchHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	for range 3 {
		rec := h.do(t, http.MethodPost, "/agents/support/smart-switch-chat", map[string]any{"message": "What is the refund policy?"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
		}
	}

	rec := h.do(t, http.MethodGet, "/agents/support/smart-switch-chat?days=7&insights=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	resp := decode[api.SwitchHistoryResponse](t, rec)
	if resp.AgentID != "support" || resp.Days != 7 || len(resp.History) != 3 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Insights == nil || resp.Insights.TotalRequests != 3 || resp.Insights.SuccessRate != 1 {
		t.Errorf("insights = %+v", resp.Insights)
	}

	plain := decode[api.SwitchHistoryResponse](t, h.do(t, http.MethodGet, "/agents/support/smart-switch-chat", nil))
	if plain.Insights != nil || plain.Days != 30 {
		t.Errorf("plain = %+v", plain)
	}

	for _, path := range []string{"/agents/support/smart-switch-chat?days=abc", "/agents/support/smart-switch-chat?days=0"} {
		if rec := h.do(t, http.MethodGet, path, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, rec.Code)
		}
	}
	if rec := h.do(t, http.MethodGet, "/agents/ghost/smart-switch-chat", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown agent status = %d, want 404", rec.Code)
	}
}

type panicInvoker struct{}

func (panicInvoker) Invoke(context.Context, switcher.Invocation) (*switcher.Completion, error) {
	panic("boom")
}

func TestPanicRecovery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{invokers: map[string]switcher.Invoker{"mock": panicInvoker{}}})
	rec := h.do(t, http.MethodPost, "/agents/support/smart-chat", map[string]any{"message": "What is the refund policy?"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	body := decode[api.ErrorBody](t, rec)
	if body.Error != "internal error" || body.RequestID == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("status = %d request id = %q", rec.Code, rec.Header().Get("X-Request-ID"))
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind smartchat.Kind
		want int
	}{
		{smartchat.KindValidation, http.StatusBadRequest},
		{smartchat.KindNotFound, http.StatusNotFound},
		{smartchat.KindNoEligibleProvider, http.StatusUnprocessableEntity},
		{smartchat.KindExhausted, http.StatusBadGateway},
		{smartchat.KindProvider, http.StatusBadGateway},
		{smartchat.KindBackend, http.StatusInternalServerError},
		{smartchat.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			if got := api.StatusFor(tt.kind); got != tt.want {
				t.Errorf("StatusFor(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
