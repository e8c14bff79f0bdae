package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/appforge-labs/appforge/internal/config"
)

func completionBody(content string) string {
	return `{"choices": [{"message": {"role": "assistant", "content": ` + jsonString(content) + `}}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestHTTPClientComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(completionBody("  hello there  ")))
	}))
	defer server.Close()

	client, err := NewHTTPClient(config.LLMConfig{
		Provider:  config.ProviderOpenAI,
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Model:     "test-model",
		MaxTokens: 1000,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	reply, err := client.Complete(context.Background(), Request{
		System:      "be brief",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("expected trimmed reply, got %q", reply)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotReq.Model != "test-model" {
		t.Fatalf("unexpected model: %s", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[0].Content != "be brief" {
		t.Fatalf("system message not prepended: %+v", gotReq.Messages)
	}
	if gotReq.MaxTokens != 1000 {
		t.Fatalf("expected configured max tokens, got %d", gotReq.MaxTokens)
	}
}

func TestHTTPClientRetriesTransientFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("recovered")))
	}))
	defer server.Close()

	client, err := NewHTTPClient(config.LLMConfig{
		Provider:   config.ProviderOpenAI,
		APIKey:     "k",
		BaseURL:    server.URL,
		Model:      "m",
		MaxRetries: 2,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	reply, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(config.LLMConfig{
		Provider:   config.ProviderOpenAI,
		APIKey:     "k",
		BaseURL:    server.URL,
		Model:      "m",
		MaxRetries: 3,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestHTTPClientAzureRouting(t *testing.T) {
	var gotPath, gotVersion, gotKey string
	var gotReq wireRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	client, err := NewHTTPClient(config.LLMConfig{
		Provider:   config.ProviderAzure,
		APIKey:     "azure-key",
		Endpoint:   server.URL,
		Deployment: "gpt-test",
		APIVersion: "2024-02-01",
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/openai/deployments/gpt-test/chat/completions") {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotVersion != "2024-02-01" {
		t.Fatalf("unexpected api version: %s", gotVersion)
	}
	if gotKey != "azure-key" {
		t.Fatalf("api-key header not set")
	}
	if gotReq.Model != "" {
		t.Fatalf("azure request should not carry a model, got %q", gotReq.Model)
	}
}

func TestNewHTTPClientRejectsMissingKey(t *testing.T) {
	if _, err := NewHTTPClient(config.LLMConfig{Provider: config.ProviderOpenAI}, nil); err == nil {
		t.Fatal("expected error for missing api key")
	}
	if _, err := NewHTTPClient(config.LLMConfig{Provider: "other"}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
