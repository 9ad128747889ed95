package gemini

import (
	"context"
	"testing"
)

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")

	if _, err := New(context.Background(), "", nil); err == nil {
		t.Errorf("New() error = nil, want missing key error")
	}
}

func TestNewDefaultsModel(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "test-key")

	emb, err := New(context.Background(), "", &Config{TaskType: "RETRIEVAL_QUERY"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if emb.model != "text-embedding-004" {
		t.Errorf("model = %q, want text-embedding-004", emb.model)
	}
	if emb.config.APIKey != "test-key" {
		t.Errorf("APIKey not read from environment")
	}
}
