// Package openrouter sends structured-output requests to an OpenAI-compatible
// chat completions endpoint (OpenRouter by default).
//
// The client makes exactly one HTTP request per Generate call. Retries,
// timeouts and rate limiting belong to the structured executor.
package openrouter

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

const (
	// DefaultModel is the fallback model when none is specified
	// Should match the default in am/defaults.go for consistency
	DefaultModel = "openai/gpt-4o"

	// DefaultBaseURL is the OpenRouter API root
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// maxErrorBody caps how much of a failed response is kept in the error
	maxErrorBody = 2048
)

// Client is an OpenAI-compatible chat completions client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	logger     *zap.SugaredLogger
}

// Config holds client configuration
type Config struct {
	APIKey      string
	BaseURL     string             // "" = DefaultBaseURL
	Model       string             // "" = DefaultModel
	HTTPTimeout time.Duration      // transport ceiling; the executor's attempt timeout is normally shorter
	Title       string             // X-Title header for the OpenRouter dashboard
	Logger      *zap.SugaredLogger // Structured logger (nil = nop logger)

	// AllowPrivateHosts permits a gateway on loopback or a private network
	AllowPrivateHosts bool
}

// NewClient creates a new client with defaults applied
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 120 * time.Second
	}
	if config.Title == "" {
		config.Title = "ontogen"
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var opts []httpclient.Option
	if config.AllowPrivateHosts {
		opts = append(opts, httpclient.AllowPrivateHosts())
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpclient.New(config.HTTPTimeout, opts...),
		config:     config,
		logger:     logger,
	}
}

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model          string               `json:"model"`
	Messages       []structured.Message `json:"messages"`
	Temperature    float64              `json:"temperature"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Seed           *int                 `json:"seed,omitempty"`
	ResponseFormat *ResponseFormat      `json:"response_format,omitempty"`
}

// ResponseFormat asks the service to constrain its reply to a JSON Schema
type ResponseFormat struct {
	Type       string      `json:"type"` // "json_schema"
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema is the named schema inside a response_format
type JSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// Message represents a message in a chat completion response
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Refusal string `json:"refusal,omitempty"`
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []Choice         `json:"choices"`
	Usage   structured.Usage `json:"usage"`
	Error   *APIError        `json:"error,omitempty"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// APIError is the error object some gateways return with a 200 status
type APIError struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
}

// BuildRequest converts an executor request into the wire request
func (c *Client) BuildRequest(req structured.Request) ChatCompletionRequest {
	wire := ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Seed:        req.Seed,
	}
	if len(req.Schema.Document) > 0 {
		wire.ResponseFormat = &ResponseFormat{
			Type: "json_schema",
			JSONSchema: &JSONSchema{
				Name:   req.Schema.Name,
				Strict: req.Strict,
				Schema: req.Schema.Document,
			},
		}
	}
	return wire
}

// CreateChatCompletion sends a chat completion request
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("X-Title", c.config.Title)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		body := string(respBody)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, errors.WithDetail(
			errors.Newf("API request failed with status %d", resp.StatusCode),
			body,
		)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	if chatResp.Error != nil {
		return nil, errors.Newf("API error: %s", chatResp.Error.Message)
	}

	return &chatResp, nil
}

// Generate implements structured.Generator: one request, no retries
func (c *Client) Generate(ctx context.Context, req structured.Request) (*structured.Reply, error) {
	wire := c.BuildRequest(req)

	c.logger.Debugw("Chat completion request",
		"step", req.Step,
		"model", wire.Model,
		"temperature", wire.Temperature,
		"max_tokens", wire.MaxTokens,
		"messages", len(wire.Messages),
	)

	resp, err := c.CreateChatCompletion(ctx, wire)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices")
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, errors.Newf("model refused: %s", choice.Message.Refusal)
	}
	if choice.FinishReason == "length" {
		return nil, errors.Newf("reply truncated at max_tokens=%d", wire.MaxTokens)
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, errors.New("empty reply content")
	}

	model := resp.Model
	if model == "" {
		model = wire.Model
	}

	c.logger.Debugw("Chat completion response",
		"step", req.Step,
		"content_length", len(content),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return &structured.Reply{
		Content: json.RawMessage(content),
		Model:   model,
		Usage:   resp.Usage,
	}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.config.Model
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.Wrap(client)
}

var _ structured.Generator = (*Client)(nil)
