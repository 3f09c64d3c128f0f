package segment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/pulse"
)

// Defaults for the segment runner
const (
	DefaultMaxConcurrent = 5
	DefaultWavePause     = time.Second
)

// maxLineSize bounds one logged worker line
const maxLineSize = 1024 * 1024

// Config bounds how many workers run at once
type Config struct {
	MaxConcurrent int
	WavePause     time.Duration
	// MemoryPerWorkerMB feeds the memory pressure warning; 0 disables it
	MemoryPerWorkerMB int
	// SkipCompleted skips segments whose latest recorded run completed
	SkipCompleted bool
	// RunID labels bookkeeping rows
	RunID string
}

// Status of one segment after a run
type Status string

const (
	SegmentCompleted Status = "completed"
	SegmentFailed    Status = "failed"
	SegmentSkipped   Status = "skipped"
)

// SegmentResult is the fate of one segment
type SegmentResult struct {
	Descriptor Descriptor
	Status     Status
	ExitCode   int
	Err        error
	Duration   time.Duration
}

// Summary reports a whole run
type Summary struct {
	Waves     int
	Completed int
	Failed    int
	Skipped   int
	Segments  []SegmentResult
}

// Runner supervises worker processes wave by wave
type Runner struct {
	launcher Launcher
	cfg      Config
	logger   pulse.Logger
	store    *Store
	memory   MemoryStats
	sleep    func(ctx context.Context, d time.Duration) error
	progress pulse.ProgressEmitter
}

// Option configures a Runner
type Option func(*Runner)

// WithStore records every segment run and enables SkipCompleted
func WithStore(s *Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithMemoryStats replaces the system memory source (tests)
func WithMemoryStats(m MemoryStats) Option {
	return func(r *Runner) { r.memory = m }
}

// WithSleeper replaces the wave pause (tests)
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// WithProgress reports waves and segment results to an emitter
func WithProgress(p pulse.ProgressEmitter) Option {
	return func(r *Runner) { r.progress = p }
}

// NewRunner creates a runner; zero values take the defaults
func NewRunner(launcher Launcher, cfg Config, log *zap.SugaredLogger, opts ...Option) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.WavePause < 0 {
		cfg.WavePause = DefaultWavePause
	}
	r := &Runner{
		launcher: launcher,
		cfg:      cfg,
		logger:   pulse.NewLogger(log),
		memory:   SystemMemory,
		sleep:    pulse.Pause,
		progress: pulse.NopEmitter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives every segment to completion. Worker failures are recorded in
// the summary; Run itself only stops early when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, segments []Descriptor) Summary {
	var summary Summary

	if warning := memoryWarning(r.memory, min(r.cfg.MaxConcurrent, len(segments)), r.cfg.MemoryPerWorkerMB); warning != "" {
		r.logger.Warn(warning)
	}

	pending := r.filterCompleted(ctx, segments, &summary)
	r.logger.Starting("Running segments",
		logger.FieldCount, len(pending),
		"max_concurrent", r.cfg.MaxConcurrent)

	for start := 0; start < len(pending); start += r.cfg.MaxConcurrent {
		if ctx.Err() != nil {
			r.logger.Warnw("Segment run cancelled", logger.FieldError, ctx.Err(), "remaining", len(pending)-start)
			break
		}
		end := min(start+r.cfg.MaxConcurrent, len(pending))
		summary.Waves++
		wave := pending[start:end]

		r.progress.EmitStage("wave", fmt.Sprintf("Starting wave %d with %d segments", summary.Waves, len(wave)))
		results := r.runWave(ctx, summary.Waves, wave)
		for _, res := range results {
			summary.Segments = append(summary.Segments, res)
			if res.Status == SegmentCompleted {
				summary.Completed++
			} else {
				summary.Failed++
				r.progress.EmitError(res.Descriptor.String(), segmentError(res))
			}
		}
		r.progress.EmitProgress(summary.Completed+summary.Failed, map[string]interface{}{
			"type":  "segments",
			"total": len(pending),
		})

		if end == len(pending) {
			break
		}
		if err := r.sleep(ctx, r.cfg.WavePause); err != nil {
			continue
		}
	}

	r.logger.Closing("All segments finished",
		"waves", summary.Waves,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	r.progress.EmitComplete(map[string]interface{}{
		"waves":     summary.Waves,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	})
	return summary
}

func segmentError(res SegmentResult) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.Newf("exit code %d", res.ExitCode)
}

func (r *Runner) filterCompleted(ctx context.Context, segments []Descriptor, summary *Summary) []Descriptor {
	if !r.cfg.SkipCompleted || r.store == nil {
		return segments
	}
	var pending []Descriptor
	for _, d := range segments {
		done, err := r.store.Completed(ctx, d)
		if err != nil {
			r.logger.Warnw("Cannot check segment history, running it", logger.FieldSegment, d.Number(), logger.FieldError, err)
		}
		if done {
			summary.Skipped++
			summary.Segments = append(summary.Segments, SegmentResult{Descriptor: d, Status: SegmentSkipped})
			r.logger.Infow("Skipping completed segment", logger.FieldSegment, d.Number(), logger.FieldSegmentStart, d.Start)
			continue
		}
		pending = append(pending, d)
	}
	return pending
}

// runWave launches every segment of a wave and waits for all of them
func (r *Runner) runWave(ctx context.Context, wave int, segments []Descriptor) []SegmentResult {
	r.logger.Starting(fmt.Sprintf("Starting concurrent execution of segments wave %d", wave),
		logger.FieldWave, wave, logger.FieldCount, len(segments))

	results := make([]SegmentResult, len(segments))
	var g errgroup.Group
	for i, d := range segments {
		g.Go(func() error {
			results[i] = r.runSegment(ctx, d)
			return nil
		})
	}
	g.Wait()

	r.logger.Closing(fmt.Sprintf("Completed wave %d of segments", wave), logger.FieldWave, wave)
	return results
}

// runSegment supervises one worker: spawn, two line readers, join, exit code
func (r *Runner) runSegment(ctx context.Context, d Descriptor) SegmentResult {
	res := SegmentResult{Descriptor: d, Status: SegmentFailed, ExitCode: -1}
	n := d.Number()
	log := r.logger.With(logger.FieldSegment, n, logger.FieldSegmentStart, d.Start, logger.FieldSegmentSize, d.Size)
	log.Infow(fmt.Sprintf("Starting segment %d (paths %d to %d)", n, d.Start, d.End()))
	started := time.Now()

	var runID int64
	if r.store != nil {
		id, err := r.store.Begin(ctx, r.cfg.RunID, d)
		if err != nil {
			log.Warnw("Failed to record segment start", logger.FieldError, err)
		}
		runID = id
	}

	proc, err := r.launcher.Launch(ctx, d)
	if err != nil {
		res.Err = err
		log.Errorw(fmt.Sprintf("Error running segment %d", n), logger.FieldError, err)
		r.finish(ctx, log, runID, res)
		return res
	}

	var readers errgroup.Group
	readers.Go(func() error { return streamLines(proc.Stdout(), log, n, "OUT") })
	readers.Go(func() error { return streamLines(proc.Stderr(), log, n, "ERR") })
	if err := readers.Wait(); err != nil {
		log.Warnw("Worker output stream failed", logger.FieldError, err)
	}

	code, err := proc.Wait()
	res.ExitCode = code
	res.Err = err
	res.Duration = time.Since(started)

	switch {
	case err != nil:
		log.Errorw(fmt.Sprintf("Error running segment %d", n), logger.FieldError, err)
	case code != 0:
		log.Errorw(fmt.Sprintf("Segment %d failed with return code %d", n, code), logger.FieldExitCode, code)
	default:
		res.Status = SegmentCompleted
		log.Infow(fmt.Sprintf("Segment %d completed successfully", n), logger.FieldDurationMS, res.Duration.Milliseconds())
	}
	r.finish(ctx, log, runID, res)
	return res
}

func (r *Runner) finish(ctx context.Context, log *zap.SugaredLogger, runID int64, res SegmentResult) {
	if r.store == nil || runID == 0 {
		return
	}
	if err := r.store.Finish(context.WithoutCancel(ctx), runID, res.ExitCode, res.Err); err != nil {
		log.Warnw("Failed to record segment finish", logger.FieldError, err)
	}
}

// streamLines logs every line of rd as "Segment N PREFIX: line"
func streamLines(rd io.Reader, log *zap.SugaredLogger, segment int, prefix string) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \r\t")
		log.Infof("Segment %d %s: %s", segment, prefix, line)
	}
	if err := sc.Err(); err != nil {
		// Drain so the worker never blocks on a full pipe
		if _, drainErr := io.Copy(io.Discard, rd); drainErr != nil {
			return errors.WithSecondaryError(err, drainErr)
		}
		return err
	}
	return nil
}
