// Package tracker records every generative-service attempt in SQLite.
package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// ModelUsage represents one attempt against the generative service
type ModelUsage struct {
	ID                int        `json:"id" db:"id"`
	RunID             string     `json:"run_id" db:"run_id"`
	SegmentStart      int        `json:"segment_start" db:"segment_start"`
	Step              string     `json:"step" db:"step"`
	Attempt           int        `json:"attempt" db:"attempt"`
	ModelName         string     `json:"model_name" db:"model_name"`
	ModelProvider     string     `json:"model_provider" db:"model_provider"`
	ModelConfig       *string    `json:"model_config,omitempty" db:"model_config"`
	RequestTimestamp  time.Time  `json:"request_timestamp" db:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty" db:"response_timestamp"`
	DurationMS        int64      `json:"duration_ms" db:"duration_ms"`
	PromptTokens      *int       `json:"prompt_tokens,omitempty" db:"prompt_tokens"`
	CompletionTokens  *int       `json:"completion_tokens,omitempty" db:"completion_tokens"`
	Cost              *float64   `json:"cost,omitempty" db:"cost"`
	Outcome           string     `json:"outcome" db:"outcome"`
	Success           bool       `json:"success" db:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// ModelConfig represents the generation parameters used for an attempt
type ModelConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// CostFunc prices an attempt in USD
type CostFunc func(model string, promptTokens, completionTokens int) float64

// Config configures a UsageTracker
type Config struct {
	Provider     string   // recorded as model_provider
	Model        string   // used when a failed attempt reports no model
	RunID        string   // groups rows of one worker invocation
	SegmentStart int      // segment the worker owns
	Cost         CostFunc // nil = no cost recorded
	Logger       *zap.SugaredLogger
}

// UsageTracker persists attempts. It implements structured.Recorder.
type UsageTracker struct {
	db     *sql.DB
	config Config
	logger *zap.SugaredLogger
}

// NewUsageTracker creates a new usage tracker
func NewUsageTracker(db *sql.DB, config Config) *UsageTracker {
	return &UsageTracker{
		db:     db,
		config: config,
		logger: logger.OrNop(config.Logger),
	}
}

// TrackUsage records one attempt in the database
func (t *UsageTracker) TrackUsage(ctx context.Context, usage *ModelUsage) error {
	query := `
		INSERT INTO ai_model_usage (
			run_id, segment_start, step, attempt, model_name, model_provider,
			model_config, request_timestamp, response_timestamp, duration_ms,
			prompt_tokens, completion_tokens, cost, outcome, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := t.db.ExecContext(ctx, query,
		usage.RunID, usage.SegmentStart, usage.Step, usage.Attempt,
		usage.ModelName, usage.ModelProvider, usage.ModelConfig,
		usage.RequestTimestamp, usage.ResponseTimestamp, usage.DurationMS,
		usage.PromptTokens, usage.CompletionTokens, usage.Cost,
		usage.Outcome, usage.Success, usage.ErrorMessage,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert ai_model_usage row")
	}
	return nil
}

// RecordAttempt implements structured.Recorder.
// Tracking failures are logged and never affect the request.
func (t *UsageTracker) RecordAttempt(ctx context.Context, attempt structured.Attempt) {
	usage := t.usageFromAttempt(attempt)

	// Cancelled attempts are still recorded
	if err := t.TrackUsage(context.WithoutCancel(ctx), usage); err != nil {
		t.logger.Warnw("Failed to track usage",
			logger.FieldError, err,
			logger.FieldStep, attempt.Step,
			logger.FieldAttempt, attempt.Number)
	}
}

func (t *UsageTracker) usageFromAttempt(a structured.Attempt) *ModelUsage {
	finished := a.Finished
	temperature := a.Temperature
	maxTokens := a.MaxTokens

	usage := &ModelUsage{
		RunID:             t.config.RunID,
		SegmentStart:      t.config.SegmentStart,
		Step:              a.Step,
		Attempt:           a.Number,
		ModelName:         a.Model,
		ModelProvider:     t.config.Provider,
		ModelConfig:       NewModelConfig(&temperature, &maxTokens),
		RequestTimestamp:  a.Started,
		ResponseTimestamp: &finished,
		DurationMS:        a.Duration().Milliseconds(),
		Outcome:           a.Outcome,
		Success:           a.Outcome == structured.OutcomeSuccess,
	}
	if usage.ModelName == "" {
		usage.ModelName = t.config.Model
	}
	if a.Usage != nil {
		prompt, completion := a.Usage.PromptTokens, a.Usage.CompletionTokens
		usage.PromptTokens = &prompt
		usage.CompletionTokens = &completion
		if t.config.Cost != nil {
			cost := t.config.Cost(usage.ModelName, prompt, completion)
			usage.Cost = &cost
		}
	}
	if a.Err != nil {
		msg := a.Err.Error()
		usage.ErrorMessage = &msg
	}
	return usage
}

// UsageStats represents aggregated usage statistics
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	TimedOutRequests   int     `json:"timed_out_requests"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTokens        int     `json:"total_tokens"`
	TotalCost          float64 `json:"total_cost"`
}

// GetUsageStats returns usage statistics since the given time
func (t *UsageTracker) GetUsageStats(ctx context.Context, since time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as total_requests,
			COUNT(CASE WHEN success = 1 THEN 1 END) as successful_requests,
			COUNT(CASE WHEN outcome = 'timeout' THEN 1 END) as timed_out_requests,
			COALESCE(SUM(COALESCE(prompt_tokens, 0) + COALESCE(completion_tokens, 0)), 0) as total_tokens,
			COALESCE(SUM(COALESCE(cost, 0)), 0) as total_cost
		FROM ai_model_usage
		WHERE request_timestamp >= ?`

	var stats UsageStats
	err := t.db.QueryRowContext(ctx, query, since).Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests, &stats.TimedOutRequests,
		&stats.TotalTokens, &stats.TotalCost,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage stats")
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}

	return &stats, nil
}

// StepBreakdown represents usage statistics for one generation step
type StepBreakdown struct {
	Step          string  `json:"step"`
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	TotalTokens   int     `json:"total_tokens"`
	TotalCost     float64 `json:"total_cost"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// GetStepBreakdown returns usage grouped by generation step
func (t *UsageTracker) GetStepBreakdown(ctx context.Context, since time.Time) ([]StepBreakdown, error) {
	query := `
		SELECT
			step,
			COUNT(*) as attempts,
			COUNT(CASE WHEN success = 1 THEN 1 END) as successes,
			COALESCE(SUM(COALESCE(prompt_tokens, 0) + COALESCE(completion_tokens, 0)), 0) as total_tokens,
			COALESCE(SUM(COALESCE(cost, 0)), 0) as total_cost,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms
		FROM ai_model_usage
		WHERE request_timestamp >= ?
		GROUP BY step
		ORDER BY attempts DESC`

	rows, err := t.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query step breakdown")
	}
	defer rows.Close()

	var breakdown []StepBreakdown
	for rows.Next() {
		var sb StepBreakdown
		if err := rows.Scan(&sb.Step, &sb.Attempts, &sb.Successes,
			&sb.TotalTokens, &sb.TotalCost, &sb.AvgDurationMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan step breakdown")
		}
		breakdown = append(breakdown, sb)
	}

	return breakdown, rows.Err()
}

// NewModelConfig creates a ModelConfig and serializes it to JSON
func NewModelConfig(temperature *float64, maxTokens *int) *string {
	if temperature == nil && maxTokens == nil {
		return nil
	}

	data, err := json.Marshal(ModelConfig{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil
	}

	jsonStr := string(data)
	return &jsonStr
}

var _ structured.Recorder = (*UsageTracker)(nil)
