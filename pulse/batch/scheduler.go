// Package batch drives units through the pipeline in bounded concurrent
// chunks.
//
// Units run in chunks of ChunkSize. A chunk is awaited as a whole under
// ChunkTimeout; when the timeout fires the chunk's context is cancelled and
// every unit of that chunk reports a nil outcome, then the next chunk starts.
// A panicking unit yields a nil outcome without disturbing its siblings.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/pipeline"
	"github.com/teranos/ontogen/pulse"
)

// Defaults for chunked scheduling
const (
	DefaultChunkSize    = 4
	DefaultChunkTimeout = 180 * time.Second
	DefaultChunkPause   = 500 * time.Millisecond
	DefaultFailurePause = time.Second
	DefaultBatchSize    = 20
	DefaultBatchPause   = 500 * time.Millisecond
)

// ProcessFunc runs one unit. It must honor ctx and must not return until the
// unit is done or abandoned.
type ProcessFunc func(ctx context.Context, unit ontology.Unit) *pipeline.Outcome

// Config bounds concurrency and pacing
type Config struct {
	ChunkSize    int
	ChunkTimeout time.Duration
	// ChunkPause follows a chunk that completed
	ChunkPause time.Duration
	// FailurePause follows a chunk that timed out
	FailurePause time.Duration
	// BatchSize and BatchPause slice a segment for RunBatches
	BatchSize  int
	BatchPause time.Duration
}

// DefaultConfig returns the standard pacing
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkTimeout: DefaultChunkTimeout,
		ChunkPause:   DefaultChunkPause,
		FailurePause: DefaultFailurePause,
		BatchSize:    DefaultBatchSize,
		BatchPause:   DefaultBatchPause,
	}
}

// Result holds one outcome per input unit, in input order. A nil outcome
// means the unit timed out, panicked or never started.
type Result struct {
	Outcomes []*pipeline.Outcome
	// Waves is the number of chunks launched
	Waves int
	// TimedOut is the number of chunks abandoned at ChunkTimeout
	TimedOut int
	// Panicked is the number of units that panicked
	Panicked int
}

// Rows totals the rows of every outcome
func (r *Result) Rows() int {
	n := 0
	for _, o := range r.Outcomes {
		if o != nil {
			n += o.Rows
		}
	}
	return n
}

// Nil counts units without an outcome
func (r *Result) Nil() int {
	n := 0
	for _, o := range r.Outcomes {
		if o == nil {
			n++
		}
	}
	return n
}

func (r *Result) merge(other Result) {
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Waves += other.Waves
	r.TimedOut += other.TimedOut
	r.Panicked += other.Panicked
}

// ChunkObserver is told about every finished chunk
type ChunkObserver interface {
	ChunkDone(outcomes []*pipeline.Outcome, timedOut bool)
}

// Scheduler runs units chunk by chunk
type Scheduler struct {
	process  ProcessFunc
	cfg      Config
	logger   pulse.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	observer ChunkObserver
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSleeper replaces the pacing sleep (tests)
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithObserver reports finished chunks, e.g. to metrics
func WithObserver(o ChunkObserver) Option {
	return func(s *Scheduler) { s.observer = o }
}

// NewScheduler creates a scheduler; zero sizes and timeouts take the defaults
func NewScheduler(process ProcessFunc, cfg Config, log *zap.SugaredLogger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	s := &Scheduler{
		process: process,
		cfg:     cfg,
		logger:  pulse.NewLogger(log),
		sleep:   pulse.Pause,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes units to completion. It never fails: chunk timeouts and
// panics become nil outcomes. Cancelling ctx leaves the remaining units nil.
func (s *Scheduler) Run(ctx context.Context, units []ontology.Unit) Result {
	res := Result{Outcomes: make([]*pipeline.Outcome, 0, len(units))}

	for start := 0; start < len(units); start += s.cfg.ChunkSize {
		end := min(start+s.cfg.ChunkSize, len(units))
		if ctx.Err() != nil {
			s.logger.Warnw("Scheduler cancelled, leaving units unprocessed",
				logger.FieldCount, len(units)-start, logger.FieldError, ctx.Err())
			res.Outcomes = append(res.Outcomes, make([]*pipeline.Outcome, len(units)-start)...)
			break
		}

		res.Waves++
		outcomes, timedOut, panicked := s.runChunk(ctx, res.Waves, units[start:end])
		res.Outcomes = append(res.Outcomes, outcomes...)
		res.Panicked += panicked
		if timedOut {
			res.TimedOut++
		}
		if s.observer != nil {
			s.observer.ChunkDone(outcomes, timedOut)
		}

		if end == len(units) {
			break
		}
		pause := s.cfg.ChunkPause
		if timedOut {
			pause = s.cfg.FailurePause
		}
		if err := s.sleep(ctx, pause); err != nil {
			continue // the cancellation check above fills in the rest
		}
	}
	return res
}

// runChunk runs one chunk concurrently and waits for all of it or the timeout
func (s *Scheduler) runChunk(ctx context.Context, chunk int, units []ontology.Unit) ([]*pipeline.Outcome, bool, int) {
	chunkCtx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
	defer cancel()

	log := pulse.NewLogger(s.logger.With(logger.FieldChunk, chunk))
	log.Starting("Chunk starting", logger.FieldCount, len(units))
	started := time.Now()

	outcomes := make([]*pipeline.Outcome, len(units))
	var (
		mu       sync.Mutex
		panicked int
		wg       sync.WaitGroup
	)
	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit ontology.Unit) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					panicked++
					mu.Unlock()
					log.Errorw("Unit panicked",
						logger.FieldCategory, unit.Category,
						logger.FieldPath, unit.Path,
						logger.FieldError, fmt.Sprint(r))
				}
			}()
			o := s.process(chunkCtx, unit)
			mu.Lock()
			outcomes[i] = o
			mu.Unlock()
		}(i, unit)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	finished := awaitChunk(chunkCtx, done)

	// Stragglers see the cancelled context and finish on their own
	mu.Lock()
	defer mu.Unlock()
	switch {
	case finished:
		log.Closing("Chunk finished",
			logger.FieldDurationMS, time.Since(started).Milliseconds(),
			logger.FieldRows, countRows(outcomes))
		return outcomes, false, panicked
	case ctx.Err() == nil:
		log.Errorw("Chunk timed out, abandoning its units",
			logger.FieldCount, len(units),
			"timeout", s.cfg.ChunkTimeout)
		return make([]*pipeline.Outcome, len(units)), true, panicked
	default:
		log.Warnw("Chunk cancelled", logger.FieldError, ctx.Err())
		return make([]*pipeline.Outcome, len(units)), false, panicked
	}
}

// awaitChunk blocks until every unit returned or chunkCtx ends and reports
// whether every unit returned. Completion wins when both are ready.
func awaitChunk(chunkCtx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-chunkCtx.Done():
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func countRows(outcomes []*pipeline.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o != nil {
			n += o.Rows
		}
	}
	return n
}

// RunBatches slices a segment's units into batches of BatchSize and runs each
// through Run with BatchPause between batches
func (s *Scheduler) RunBatches(ctx context.Context, segment int, units []ontology.Unit) Result {
	var total Result
	log := pulse.NewLogger(s.logger.With(logger.FieldSegment, segment))

	for start := 0; start < len(units); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(units))
		batch := start/s.cfg.BatchSize + 1

		log.Starting("Batch starting", logger.FieldBatch, batch, logger.FieldCount, end-start)
		total.merge(s.Run(ctx, units[start:end]))
		log.Pulse(fmt.Sprintf("Processed %d/%d paths in segment %d", end, len(units), segment),
			logger.FieldBatch, batch)

		if end == len(units) || ctx.Err() != nil {
			if ctx.Err() != nil && end < len(units) {
				total.Outcomes = append(total.Outcomes, make([]*pipeline.Outcome, len(units)-end)...)
			}
			break
		}
		if err := s.sleep(ctx, s.cfg.BatchPause); err != nil {
			total.Outcomes = append(total.Outcomes, make([]*pipeline.Outcome, len(units)-end)...)
			break
		}
	}
	return total
}
