package am

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Generative service
	v.SetDefault("generator.provider", "openrouter")
	v.SetDefault("generator.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "openai/gpt-4o")
	v.SetDefault("generator.seed", 123)
	v.SetDefault("generator.strict", true)
	v.SetDefault("generator.max_tokens", 1500)
	v.SetDefault("generator.http_timeout_seconds", 120)
	v.SetDefault("generator.allow_private_hosts", false)

	// Rate limiter
	v.SetDefault("limiter.requests_per_minute", 30000)
	v.SetDefault("limiter.poll_interval_ms", 100)

	// Request executor
	v.SetDefault("executor.timeout_seconds", 30)
	v.SetDefault("executor.max_retries", 3)
	v.SetDefault("executor.initial_backoff_ms", 1000) // doubles per retry

	// Unit pipeline
	v.SetDefault("pipeline.circuit_threshold", 3)
	v.SetDefault("pipeline.query_pause_ms", 100)
	v.SetDefault("pipeline.candidates", 3)
	v.SetDefault("pipeline.min_categories", 4)

	// Batches and chunks
	v.SetDefault("batch.size", 20)
	v.SetDefault("batch.batch_pause_ms", 500)
	v.SetDefault("batch.chunk_size", 4)
	v.SetDefault("batch.chunk_timeout_seconds", 180)
	v.SetDefault("batch.chunk_pause_ms", 500)
	v.SetDefault("batch.failure_pause_ms", 1000)

	// Segment runner
	v.SetDefault("segments.size", 30)
	v.SetDefault("segments.max_concurrent", 5)
	v.SetDefault("segments.wave_pause_ms", 1000)
	v.SetDefault("segments.worker_command", "")
	v.SetDefault("segments.memory_per_worker_mb", 512)
	v.SetDefault("segments.skip_completed", false)

	// Worker segment
	v.SetDefault("segment.start", 0)
	v.SetDefault("segment.size", 50)

	v.SetDefault("ontology.source", "ontology.toml")
	v.SetDefault("ontology.comment_prefix", "#")

	v.SetDefault("dataset.dir", "datasets")
	v.SetDefault("dataset.prefix", "parser_dataset_segment_")
	v.SetDefault("dataset.final", "parser_dataset_final.csv")

	v.SetDefault("database.path", "")
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds configuration that is conventionally
// supplied through unprefixed environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// First match wins. OPENAI_API_KEY is vendor-specific, see vendorAPIKey.
	v.BindEnv("generator.api_key", "ONTOGEN_API_KEY", "OPENROUTER_API_KEY")

	// Set by the segment runner on every worker it launches
	v.BindEnv("segment.start", EnvSegmentStart)
	v.BindEnv("segment.size", EnvSegmentSize)
}

// EnvOpenAIAPIKey is only read when generator.base_url is OpenAI's own endpoint
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

// vendorAPIKey returns the key the vendor behind baseURL expects when none was configured
func vendorAPIKey(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() != "api.openai.com" {
		return ""
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// Environment variables carrying a worker's segment
const (
	EnvSegmentStart = "SEGMENT_START"
	EnvSegmentSize  = "SEGMENT_SIZE"
)

// SegmentEnv returns the environment assignments for a worker owning [start, start+size)
func SegmentEnv(start, size int) []string {
	return []string{
		EnvSegmentStart + "=" + strconv.Itoa(start),
		EnvSegmentSize + "=" + strconv.Itoa(size),
	}
}

// SegmentFile returns the output path for the segment starting at start
func (c *Config) SegmentFile(start int) string {
	return filepath.Join(c.Dataset.Dir, fmt.Sprintf("%s%d.csv", c.Dataset.Prefix, start))
}

// FinalFile returns the merged dataset path
func (c *Config) FinalFile() string {
	return filepath.Join(c.Dataset.Dir, c.Dataset.Final)
}

// ExecutorTimeout returns the per-attempt deadline
func (c *Config) ExecutorTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSeconds) * time.Second
}

// InitialBackoff returns the delay before the second attempt
func (c *Config) InitialBackoff() time.Duration {
	return Millis(c.Executor.InitialBackoffMS)
}

// ChunkTimeout bounds one chunk of concurrently processed units
func (c *Config) ChunkTimeout() time.Duration {
	return time.Duration(c.Batch.ChunkTimeoutSeconds) * time.Second
}

// HTTPTimeout returns the transport timeout for the generative service client
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Generator.HTTPTimeoutSeconds) * time.Second
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Model: %s, Limiter: %d/min, Segment: [%d,+%d), Segments: %d x %d}",
		c.Generator.Model, c.Limiter.RequestsPerMinute, c.Segment.Start, c.Segment.Size,
		c.Segments.Size, c.Segments.MaxConcurrent)
}

// Millis converts a millisecond setting to a duration
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
