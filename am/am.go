package am

// Config represents the ontogen configuration
type Config struct {
	Generator GeneratorConfig `mapstructure:"generator" toml:"generator" json:"generator" yaml:"generator"`
	Limiter   LimiterConfig   `mapstructure:"limiter" toml:"limiter" json:"limiter" yaml:"limiter"`
	Executor  ExecutorConfig  `mapstructure:"executor" toml:"executor" json:"executor" yaml:"executor"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" toml:"pipeline" json:"pipeline" yaml:"pipeline"`
	Batch     BatchConfig     `mapstructure:"batch" toml:"batch" json:"batch" yaml:"batch"`
	Segments  SegmentsConfig  `mapstructure:"segments" toml:"segments" json:"segments" yaml:"segments"`
	Segment   SegmentConfig   `mapstructure:"segment" toml:"segment" json:"segment" yaml:"segment"`
	Ontology  OntologyConfig  `mapstructure:"ontology" toml:"ontology" json:"ontology" yaml:"ontology"`
	Dataset   DatasetConfig   `mapstructure:"dataset" toml:"dataset" json:"dataset" yaml:"dataset"`
	Database  DatabaseConfig  `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics" toml:"metrics" json:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// GeneratorConfig configures access to the generative text service
type GeneratorConfig struct {
	// openrouter | local
	Provider           string `mapstructure:"provider" toml:"provider" json:"provider" yaml:"provider"`
	BaseURL            string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	APIKey             string `mapstructure:"api_key" toml:"api_key" json:"-" yaml:"-"`
	Model              string `mapstructure:"model" toml:"model" json:"model" yaml:"model"`
	Seed               int    `mapstructure:"seed" toml:"seed" json:"seed" yaml:"seed"`
	Strict             bool   `mapstructure:"strict" toml:"strict" json:"strict" yaml:"strict"`
	MaxTokens          int    `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds" toml:"http_timeout_seconds" json:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	AllowPrivateHosts  bool   `mapstructure:"allow_private_hosts" toml:"allow_private_hosts" json:"allow_private_hosts" yaml:"allow_private_hosts"`
}

// LimiterConfig configures the process-wide request ceiling
type LimiterConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
	PollIntervalMS    int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// ExecutorConfig configures retries for one logical request
type ExecutorConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	// total attempts
	MaxRetries       int `mapstructure:"max_retries" toml:"max_retries" json:"max_retries" yaml:"max_retries"`
	InitialBackoffMS int `mapstructure:"initial_backoff_ms" toml:"initial_backoff_ms" json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
}

// PipelineConfig configures the per-unit pipeline
type PipelineConfig struct {
	CircuitThreshold int `mapstructure:"circuit_threshold" toml:"circuit_threshold" json:"circuit_threshold" yaml:"circuit_threshold"`
	QueryPauseMS     int `mapstructure:"query_pause_ms" toml:"query_pause_ms" json:"query_pause_ms" yaml:"query_pause_ms"`
	// combinations requested from Match
	Candidates       int `mapstructure:"candidates" toml:"candidates" json:"candidates" yaml:"candidates"`
	// asked for in the Match prompt
	MinCategories    int `mapstructure:"min_categories" toml:"min_categories" json:"min_categories" yaml:"min_categories"`
}

// BatchConfig configures intra-segment batching and chunk scheduling
type BatchConfig struct {
	Size                int `mapstructure:"size" toml:"size" json:"size" yaml:"size"`
	BatchPauseMS        int `mapstructure:"batch_pause_ms" toml:"batch_pause_ms" json:"batch_pause_ms" yaml:"batch_pause_ms"`
	ChunkSize           int `mapstructure:"chunk_size" toml:"chunk_size" json:"chunk_size" yaml:"chunk_size"`
	ChunkTimeoutSeconds int `mapstructure:"chunk_timeout_seconds" toml:"chunk_timeout_seconds" json:"chunk_timeout_seconds" yaml:"chunk_timeout_seconds"`
	ChunkPauseMS        int `mapstructure:"chunk_pause_ms" toml:"chunk_pause_ms" json:"chunk_pause_ms" yaml:"chunk_pause_ms"`
	FailurePauseMS      int `mapstructure:"failure_pause_ms" toml:"failure_pause_ms" json:"failure_pause_ms" yaml:"failure_pause_ms"`
}

// SegmentsConfig configures the top-level segment runner
type SegmentsConfig struct {
	Size              int    `mapstructure:"size" toml:"size" json:"size" yaml:"size"`
	MaxConcurrent     int    `mapstructure:"max_concurrent" toml:"max_concurrent" json:"max_concurrent" yaml:"max_concurrent"`
	WavePauseMS       int    `mapstructure:"wave_pause_ms" toml:"wave_pause_ms" json:"wave_pause_ms" yaml:"wave_pause_ms"`
	// empty: this binary + "worker"
	WorkerCommand     string `mapstructure:"worker_command" toml:"worker_command" json:"worker_command" yaml:"worker_command"`
	MemoryPerWorkerMB int    `mapstructure:"memory_per_worker_mb" toml:"memory_per_worker_mb" json:"memory_per_worker_mb" yaml:"memory_per_worker_mb"`
	SkipCompleted     bool   `mapstructure:"skip_completed" toml:"skip_completed" json:"skip_completed" yaml:"skip_completed"`
}

// SegmentConfig is the slice a worker process owns.
// Bound to SEGMENT_START and SEGMENT_SIZE.
type SegmentConfig struct {
	Start int `mapstructure:"start" toml:"start" json:"start" yaml:"start"`
	Size  int `mapstructure:"size" toml:"size" json:"size" yaml:"size"`
}

// OntologyConfig locates the ontology listing
type OntologyConfig struct {
	// local path or go-getter URL
	Source        string `mapstructure:"source" toml:"source" json:"source" yaml:"source"`
	CommentPrefix string `mapstructure:"comment_prefix" toml:"comment_prefix" json:"comment_prefix" yaml:"comment_prefix"`
}

// DatasetConfig configures where rows are written
type DatasetConfig struct {
	Dir    string `mapstructure:"dir" toml:"dir" json:"dir" yaml:"dir"`
	Prefix string `mapstructure:"prefix" toml:"prefix" json:"prefix" yaml:"prefix"`
	Final  string `mapstructure:"final" toml:"final" json:"final" yaml:"final"`
}

// DatabaseConfig configures the SQLite database.
// An empty path disables usage tracking and segment bookkeeping.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// MetricsConfig configures the Prometheus textfile export
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile" toml:"textfile" json:"textfile" yaml:"textfile"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
	Level string `mapstructure:"level" toml:"level" json:"level" yaml:"level"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
