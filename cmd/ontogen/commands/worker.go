package commands

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/ontogen/ai/openrouter"
	"github.com/teranos/ontogen/ai/provider"
	"github.com/teranos/ontogen/ai/structured"
	"github.com/teranos/ontogen/ai/tracker"
	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/dataset"
	"github.com/teranos/ontogen/db"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/generator"
	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/metrics"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/pipeline"
	"github.com/teranos/ontogen/pulse/batch"
	"github.com/teranos/ontogen/pulse/budget"
	"github.com/teranos/ontogen/pulse/segment"
)

// WorkerCmd processes one segment. It is normally started by `ontogen run`.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process one segment of the ontology",
	Long: `Process the units in [SEGMENT_START, SEGMENT_START+SEGMENT_SIZE) of the
flattened ontology and append every validated row to the segment's CSV file.

The worker exits non-zero only on configuration or startup failures. Failures
of individual requests, units or chunks are logged and skipped.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	log := logger.Logger.Named("worker").With(
		logger.FieldSegmentStart, cfg.Segment.Start,
		logger.FieldSegmentSize, cfg.Segment.Size)

	return runSegmentWorker(cmd.Context(), cfg, nil, log)
}

// runSegmentWorker wires the whole per-segment stack. gen overrides the
// configured generative backend when non-nil.
func runSegmentWorker(ctx context.Context, cfg *am.Config, gen structured.Generator, log *zap.SugaredLogger) error {
	d := segment.Descriptor{Start: cfg.Segment.Start, Size: cfg.Segment.Size}

	listing, err := ontology.LoadWithLogger(ctx, cfg.Ontology.Source, cfg.Ontology.CommentPrefix, log)
	if err != nil {
		return err
	}
	units := ontology.Slice(listing.Units(), d.Start, d.Size)
	if len(units) == 0 {
		log.Infow("Segment holds no units, nothing to do", logger.FieldTotalCount, listing.Count())
		return nil
	}
	log.Infow("Processing segment "+strconv.Itoa(d.Number()), logger.FieldCount, len(units))

	m := metrics.New(prometheus.Labels{"segment": strconv.Itoa(d.Start)})
	limiter := budget.NewLimiter(cfg.Limiter.RequestsPerMinute,
		budget.WithPollInterval(am.Millis(cfg.Limiter.PollIntervalMS)),
		budget.WithLogger(log.Named("budget")),
		budget.WithWaitObserver(m.ObserveWait))

	if gen == nil {
		gen, err = provider.NewGenerator(cfg, log.Named("provider"))
		if err != nil {
			return err
		}
	}

	runID := uuid.NewString()
	opts := []structured.Option{
		structured.WithTimeout(cfg.ExecutorTimeout()),
		structured.WithMaxRetries(cfg.Executor.MaxRetries),
		structured.WithInitialBackoff(cfg.InitialBackoff()),
		structured.WithRecorder(m),
		structured.WithLogger(log.Named("executor")),
	}
	if cfg.Database.Path != "" {
		database, err := db.OpenWithMigrations(cfg.Database.Path, log)
		if err != nil {
			return err
		}
		defer database.Close()
		opts = append(opts, structured.WithRecorder(newTracker(database, cfg, runID, log)))
	}
	ex := structured.NewExecutor(gen, limiter, opts...)

	steps, err := generator.New(ex, listing, generator.Config{
		MaxTokens:     cfg.Generator.MaxTokens,
		Seed:          cfg.Generator.Seed,
		Strict:        cfg.Generator.Strict,
		Candidates:    cfg.Pipeline.Candidates,
		MinCategories: cfg.Pipeline.MinCategories,
	}, log.Named("generator"))
	if err != nil {
		return err
	}

	sink, err := dataset.OpenCSV(cfg.SegmentFile(d.Start))
	if err != nil {
		return err
	}
	defer sink.Close()

	runner := pipeline.NewRunner(steps, sink, pipeline.Config{
		CircuitThreshold: cfg.Pipeline.CircuitThreshold,
		QueryPause:       am.Millis(cfg.Pipeline.QueryPauseMS),
	}, log.Named("pipeline"))

	scheduler := batch.NewScheduler(runner.Process, batch.Config{
		ChunkSize:    cfg.Batch.ChunkSize,
		ChunkTimeout: cfg.ChunkTimeout(),
		ChunkPause:   am.Millis(cfg.Batch.ChunkPauseMS),
		FailurePause: am.Millis(cfg.Batch.FailurePauseMS),
		BatchSize:    cfg.Batch.Size,
		BatchPause:   am.Millis(cfg.Batch.BatchPauseMS),
	}, log.Named("batch"), batch.WithObserver(m))

	result := scheduler.RunBatches(ctx, d.Number(), units)

	log.Infow("Segment finished",
		logger.FieldCount, len(units),
		logger.FieldRows, sink.Rows(),
		"lost_units", result.Nil(),
		"chunk_timeouts", result.TimedOut,
		"panics", result.Panicked)

	if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		log.Warnw("Failed to write metrics", logger.FieldError, err)
	}
	// A partial segment must not exit 0: the runner would record it as completed.
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "segment interrupted")
	}
	return nil
}

func newTracker(database *sql.DB, cfg *am.Config, runID string, log *zap.SugaredLogger) *tracker.UsageTracker {
	var cost tracker.CostFunc
	if p, _ := provider.ParseProvider(cfg.Generator.Provider); p == provider.ProviderOpenRouter {
		cost = openrouter.CalculateCost
	}
	return tracker.NewUsageTracker(database, tracker.Config{
		Provider:     cfg.Generator.Provider,
		Model:        cfg.Generator.Model,
		RunID:        runID,
		SegmentStart: cfg.Segment.Start,
		Cost:         cost,
		Logger:       log.Named("tracker"),
	})
}
