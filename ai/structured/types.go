package structured

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one entry of the conversation sent to the generative service
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Schema names the shape a reply must conform to.
// Document is a JSON Schema object.
type Schema struct {
	Name     string
	Document json.RawMessage
}

// Request is one logical request: every attempt sends the same payload
type Request struct {
	// Step labels the request in logs, metrics and usage rows (match, queries, ...)
	Step        string
	Messages    []Message
	Schema      Schema
	MaxTokens   int
	Temperature float64
	Seed        *int
	Strict      bool
}

// Usage reports tokens consumed by one attempt
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is the raw reply of one attempt, before decoding
type Reply struct {
	Content json.RawMessage
	Model   string
	Usage   Usage
}

// Generator sends one attempt to the generative service.
// Implementations must honor ctx cancellation and must not retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Permitter grants one rate-limit permit per attempt
type Permitter interface {
	Acquire(ctx context.Context) error
}

// Attempt outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Attempt describes one finished attempt for recorders
type Attempt struct {
	Step        string
	Number      int
	Model       string
	Temperature float64
	MaxTokens   int
	Started     time.Time
	Finished    time.Time
	Outcome     string
	Usage       *Usage
	Err         error
}

// Duration returns how long the attempt took
func (a Attempt) Duration() time.Duration {
	return a.Finished.Sub(a.Started)
}

// Recorder observes every attempt (usage tracking, metrics).
// RecordAttempt is called synchronously and must not block for long.
type Recorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(ctx context.Context, attempt Attempt)

// RecordAttempt implements Recorder
func (f RecorderFunc) RecordAttempt(ctx context.Context, attempt Attempt) {
	f(ctx, attempt)
}
