package am

import (
	"strings"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// Validate checks that the configuration is usable.
// Failures are marked errors.ErrInvalidConfig; a worker exits non-zero on them.
func (c *Config) Validate() error {
	switch c.Generator.Provider {
	case "openrouter", "local":
	default:
		return errors.NewInvalidConfigError("generator.provider must be openrouter or local, got %q", c.Generator.Provider)
	}
	if strings.TrimSpace(c.Generator.BaseURL) == "" {
		return errors.NewInvalidConfigError("generator.base_url cannot be empty")
	}
	if strings.TrimSpace(c.Generator.Model) == "" {
		return errors.NewInvalidConfigError("generator.model cannot be empty")
	}
	if c.Generator.MaxTokens <= 0 {
		return errors.NewInvalidConfigError("generator.max_tokens must be > 0, got %d", c.Generator.MaxTokens)
	}
	if c.Generator.HTTPTimeoutSeconds <= 0 {
		return errors.NewInvalidConfigError("generator.http_timeout_seconds must be > 0, got %d", c.Generator.HTTPTimeoutSeconds)
	}

	if c.Limiter.RequestsPerMinute <= 0 {
		return errors.NewInvalidConfigError("limiter.requests_per_minute must be > 0, got %d", c.Limiter.RequestsPerMinute)
	}
	if c.Limiter.PollIntervalMS <= 0 {
		return errors.NewInvalidConfigError("limiter.poll_interval_ms must be > 0, got %d", c.Limiter.PollIntervalMS)
	}

	if c.Executor.TimeoutSeconds <= 0 {
		return errors.NewInvalidConfigError("executor.timeout_seconds must be > 0, got %d", c.Executor.TimeoutSeconds)
	}
	if c.Executor.MaxRetries <= 0 {
		return errors.NewInvalidConfigError("executor.max_retries must be > 0, got %d", c.Executor.MaxRetries)
	}
	if c.Executor.InitialBackoffMS < 0 {
		return errors.NewInvalidConfigError("executor.initial_backoff_ms must be >= 0, got %d", c.Executor.InitialBackoffMS)
	}

	if c.Pipeline.CircuitThreshold <= 0 {
		return errors.NewInvalidConfigError("pipeline.circuit_threshold must be > 0, got %d", c.Pipeline.CircuitThreshold)
	}
	if c.Pipeline.QueryPauseMS < 0 {
		return errors.NewInvalidConfigError("pipeline.query_pause_ms must be >= 0, got %d", c.Pipeline.QueryPauseMS)
	}
	if c.Pipeline.Candidates <= 0 {
		return errors.NewInvalidConfigError("pipeline.candidates must be > 0, got %d", c.Pipeline.Candidates)
	}

	if c.Batch.Size <= 0 {
		return errors.NewInvalidConfigError("batch.size must be > 0, got %d", c.Batch.Size)
	}
	if c.Batch.ChunkSize <= 0 {
		return errors.NewInvalidConfigError("batch.chunk_size must be > 0, got %d", c.Batch.ChunkSize)
	}
	if c.Batch.ChunkTimeoutSeconds <= 0 {
		return errors.NewInvalidConfigError("batch.chunk_timeout_seconds must be > 0, got %d", c.Batch.ChunkTimeoutSeconds)
	}
	if c.Batch.BatchPauseMS < 0 || c.Batch.ChunkPauseMS < 0 || c.Batch.FailurePauseMS < 0 {
		return errors.NewInvalidConfigError("batch pauses must be >= 0")
	}

	if c.Segments.Size <= 0 {
		return errors.NewInvalidConfigError("segments.size must be > 0, got %d", c.Segments.Size)
	}
	if c.Segments.MaxConcurrent <= 0 {
		return errors.NewInvalidConfigError("segments.max_concurrent must be > 0, got %d", c.Segments.MaxConcurrent)
	}
	if c.Segments.WavePauseMS < 0 {
		return errors.NewInvalidConfigError("segments.wave_pause_ms must be >= 0, got %d", c.Segments.WavePauseMS)
	}
	if c.Segments.MemoryPerWorkerMB < 0 {
		return errors.NewInvalidConfigError("segments.memory_per_worker_mb must be >= 0, got %d", c.Segments.MemoryPerWorkerMB)
	}

	if c.Segment.Start < 0 {
		return errors.NewInvalidConfigError("segment.start must be >= 0, got %d", c.Segment.Start)
	}
	if c.Segment.Size <= 0 {
		return errors.NewInvalidConfigError("segment.size must be > 0, got %d", c.Segment.Size)
	}

	if strings.TrimSpace(c.Ontology.Source) == "" {
		return errors.NewInvalidConfigError("ontology.source cannot be empty")
	}
	if c.Dataset.Dir == "" || c.Dataset.Final == "" {
		return errors.NewInvalidConfigError("dataset.dir and dataset.final cannot be empty")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// RequireAPIKey checks that a cloud provider has credentials.
// Only commands that contact the generative service call this.
func (c *Config) RequireAPIKey() error {
	if c.Generator.Provider == "openrouter" && c.Generator.APIKey == "" {
		return errors.WithHint(
			errors.NewInvalidConfigError("generator.api_key is required for provider openrouter"),
			"set OPENROUTER_API_KEY (or OPENAI_API_KEY with an api.openai.com base_url), or put it in .env",
		)
	}
	return nil
}
