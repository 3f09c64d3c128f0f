package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/internal/httpclient"
)

// LocalProvider talks to an Ollama server through its native /api/chat
// endpoint, which accepts a JSON Schema in "format" for structured output
type LocalProvider struct {
	baseURL    string
	model      string
	httpClient *httpclient.SaferClient
	logger     *zap.SugaredLogger
}

// LocalConfig configures a LocalProvider
type LocalConfig struct {
	BaseURL     string // e.g. "http://localhost:11434"
	Model       string // e.g. "qwen2.5:7b"
	HTTPTimeout time.Duration
	Logger      *zap.SugaredLogger
}

// NewLocalProvider creates a provider for local inference
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LocalProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: httpclient.New(timeout, httpclient.AllowPrivateHosts()),
		logger:     logger,
	}
}

// ChatRequest is the Ollama /api/chat request body
type ChatRequest struct {
	Model    string               `json:"model"`
	Messages []structured.Message `json:"messages"`
	Stream   bool                 `json:"stream"`
	Format   json.RawMessage      `json:"format,omitempty"`
	Options  *ChatOptions         `json:"options,omitempty"`
}

// ChatOptions are Ollama sampling options
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        *int    `json:"seed,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // Ollama's max_tokens
}

// ChatResponse is the non-streaming /api/chat response body
type ChatResponse struct {
	Model           string             `json:"model"`
	Message         structured.Message `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	PromptEvalCount int                `json:"prompt_eval_count"`
	EvalCount       int                `json:"eval_count"`
	Error           string             `json:"error,omitempty"`
}

// Generate implements structured.Generator
func (lp *LocalProvider) Generate(ctx context.Context, req structured.Request) (*structured.Reply, error) {
	body := ChatRequest{
		Model:    lp.model,
		Messages: req.Messages,
		Stream:   false,
		Format:   req.Schema.Document,
		Options: &ChatOptions{
			Temperature: req.Temperature,
			Seed:        req.Seed,
			NumPredict:  req.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, lp.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := lp.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "local inference request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errors.Newf("local inference returned status %d: %s", resp.StatusCode, string(errBody))
	}

	var chat ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if chat.Error != "" {
		return nil, errors.Newf("local inference error: %s", chat.Error)
	}
	if chat.DoneReason == "length" {
		return nil, errors.Newf("reply truncated at num_predict=%d", req.MaxTokens)
	}

	content := strings.TrimSpace(chat.Message.Content)
	if content == "" {
		return nil, errors.New("empty reply content")
	}

	lp.logger.Debugw("Local inference response",
		"step", req.Step,
		"model", chat.Model,
		"eval_count", chat.EvalCount)

	model := chat.Model
	if model == "" {
		model = lp.model
	}

	return &structured.Reply{
		Content: json.RawMessage(content),
		Model:   model,
		Usage: structured.Usage{
			PromptTokens:     chat.PromptEvalCount,
			CompletionTokens: chat.EvalCount,
			TotalTokens:      chat.PromptEvalCount + chat.EvalCount,
		},
	}, nil
}

// GetModelName returns the configured local model name
func (lp *LocalProvider) GetModelName() string {
	return lp.model
}

var _ structured.Generator = (*LocalProvider)(nil)
