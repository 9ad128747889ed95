package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float32{float32(i), 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embeddings})
	}))
	defer srv.Close()

	emb, err := New("", &Config{Host: srv.URL, KeepAlive: "5m"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	vecs, err := emb.Embed(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 1 {
		t.Errorf("Embed() = %v", vecs)
	}
}

func TestEmbedServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	emb, err := New("missing", &Config{Host: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := emb.Embed(context.Background(), []string{"x"}); err == nil {
		t.Errorf("Embed() error = nil, want error")
	}
}

func TestNewRejectsBadKeepAlive(t *testing.T) {
	t.Parallel()

	if _, err := New("m", &Config{Host: "http://localhost:11434", KeepAlive: "soon"}); err == nil {
		t.Errorf("New() error = nil, want error")
	}
}
