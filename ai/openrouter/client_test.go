package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/internal/httpclient"
)

func TestClient_Configuration(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := NewClient(Config{APIKey: "test-key"})

		assert.Equal(t, DefaultModel, client.Model())
		assert.Equal(t, DefaultBaseURL, client.baseURL)
		assert.Equal(t, 120*time.Second, client.httpClient.Timeout)
		assert.True(t, client.IsConfigured())
	})

	t.Run("preserves custom values", func(t *testing.T) {
		client := NewClient(Config{
			BaseURL: "http://localhost:1234/v1/",
			Model:   "custom/model",
		})

		assert.Equal(t, "custom/model", client.Model())
		assert.Equal(t, "http://localhost:1234/v1", client.baseURL)
		assert.False(t, client.IsConfigured())
	})
}

func TestClient_BuildRequest(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	seed := 123
	wire := client.BuildRequest(structured.Request{
		Step:        "parse",
		Messages:    []structured.Message{{Role: structured.RoleUser, Content: "hi"}},
		Schema:      structured.Schema{Name: "ParsedOutput", Document: json.RawMessage(`{"type":"object"}`)},
		MaxTokens:   1500,
		Temperature: 0.6,
		Seed:        &seed,
		Strict:      true,
	})

	raw, err := json.Marshal(wire)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"model": "openai/gpt-4o",
		"messages": [{"role":"user","content":"hi"}],
		"temperature": 0.6,
		"max_tokens": 1500,
		"seed": 123,
		"response_format": {
			"type": "json_schema",
			"json_schema": {"name":"ParsedOutput","strict":true,"schema":{"type":"object"}}
		}
	}`, string(raw))
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Logger:  zaptest.NewLogger(t).Sugar(),
	})
	client.SetHTTPClient(server.Client())
	return client
}

func TestClient_Generate(t *testing.T) {
	var captured ChatCompletionRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "ontogen", r.Header.Get("X-Title"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "gen-1",
			"model": "openai/gpt-4o-2024-08-06",
			"choices": [{"index":0,"message":{"role":"assistant","content":"  {\"reasoning\":\"because\"}  "},"finish_reason":"stop"}],
			"usage": {"prompt_tokens": 40, "completion_tokens": 12, "total_tokens": 52}
		}`))
	})

	reply, err := client.Generate(context.Background(), structured.Request{
		Step:     "reasoning",
		Messages: []structured.Message{{Role: structured.RoleSystem, Content: "sys"}, {Role: structured.RoleUser, Content: "q"}},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"reasoning":"because"}`, string(reply.Content))
	assert.Equal(t, "openai/gpt-4o-2024-08-06", reply.Model)
	assert.Equal(t, 52, reply.Usage.TotalTokens)
	assert.Len(t, captured.Messages, 2)
	assert.Nil(t, captured.ResponseFormat)
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"server error", http.StatusBadGateway, `upstream down`, "status 502"},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, "status 429"},
		{"error object with 200", http.StatusOK, `{"error":{"code":400,"message":"schema invalid"}}`, "schema invalid"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no response choices"},
		{"refusal", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"","refusal":"cannot help"}}]}`, "refused"},
		{"truncated", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"{\"a\":"},"finish_reason":"length"}]}`, "truncated"},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"  "}}]}`, "empty reply"},
		{"not json", http.StatusOK, `<html>`, "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Generate(context.Background(), structured.Request{Step: "match"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestClient_GenerateHonorsContext(t *testing.T) {
	release := make(chan struct{})
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, structured.Request{Step: "match"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_PrivateGateway(t *testing.T) {
	reached := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()
	req := structured.Request{Step: "match", Messages: []structured.Message{{Role: structured.RoleUser, Content: "q"}}}

	blocked := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	_, err := blocked.Generate(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, httpclient.ErrBlocked))
	assert.Zero(t, reached)

	allowed := NewClient(Config{APIKey: "k", BaseURL: server.URL, AllowPrivateHosts: true})
	_, err = allowed.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
}
