// Package pipeline turns one ontology unit into dataset rows.
//
// A unit runs match, then query generation, then reasoning and structured
// parse for each query in order. Rows are appended to the sink as soon as a
// query completes. Failures stay inside the unit: Process never returns an
// error, the worst outcome is zero rows.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/dataset"
	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/pulse"
	"github.com/teranos/ontogen/schema"
)

// Defaults for a unit run
const (
	DefaultCircuitThreshold = 3
	DefaultQueryPause       = 100 * time.Millisecond
)

// Steps are the generation steps a unit runs through
type Steps interface {
	Match(ctx context.Context, path string) (*schema.Combinations, error)
	Queries(ctx context.Context, combos *schema.Combinations) (*schema.UserQueries, error)
	Reasoning(ctx context.Context, query string) (string, error)
	Parse(ctx context.Context, query, reasoning string) (*schema.ParsedOutputReasoned, error)
}

// Sink receives completed rows. It must accept concurrent appends.
type Sink interface {
	Append(ctx context.Context, row dataset.Row) error
}

// Config controls the circuit breaker and pacing
type Config struct {
	// CircuitThreshold is the number of failed queries after which a unit stops
	CircuitThreshold int
	// QueryPause separates completed queries
	QueryPause time.Duration
}

// Outcome summarizes one unit run
type Outcome struct {
	Unit     ontology.Unit
	Queries  int
	Rows     int
	Failures int
	// NoMatch is set when match returned no candidates
	NoMatch bool
	// Tripped is set when the circuit breaker stopped the unit
	Tripped bool
	// Err is the match or query generation failure that ended the unit early
	Err error
}

// Runner processes units
type Runner struct {
	steps  Steps
	sink   Sink
	cfg    Config
	logger *zap.SugaredLogger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner; zero config values take the defaults
func NewRunner(steps Steps, sink Sink, cfg Config, log *zap.SugaredLogger) *Runner {
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = DefaultCircuitThreshold
	}
	if cfg.QueryPause < 0 {
		cfg.QueryPause = DefaultQueryPause
	}
	return &Runner{
		steps:  steps,
		sink:   sink,
		cfg:    cfg,
		logger: logger.OrNop(log),
		sleep:  pulse.Pause,
	}
}

// unitBreaker counts failed queries of one unit
type unitBreaker struct {
	failures  int
	threshold int
}

func (b *unitBreaker) fail()         { b.failures++ }
func (b *unitBreaker) tripped() bool { return b.failures >= b.threshold }

// Process runs unit to completion and reports what it produced
func (r *Runner) Process(ctx context.Context, unit ontology.Unit) *Outcome {
	out := &Outcome{Unit: unit}
	log := r.logger.With(logger.FieldCategory, unit.Category, logger.FieldPath, unit.Path)
	log.Infow("Processing unit")

	combos, err := r.steps.Match(ctx, unit.Path)
	if err != nil {
		out.Err = errors.Wrap(err, "match")
		log.Errorw("Match failed", logger.FieldError, err)
		return out
	}
	if combos.Empty() {
		out.NoMatch = true
		log.Warnw("No matching ontology combinations")
		return out
	}

	queries, err := r.steps.Queries(ctx, combos)
	if err != nil {
		out.Err = errors.Wrap(err, "query generation")
		log.Errorw("Query generation failed", logger.FieldError, err)
		return out
	}

	breaker := unitBreaker{threshold: r.cfg.CircuitThreshold}
	for _, q := range queries.Queries {
		if breaker.tripped() {
			out.Tripped = true
			log.Errorw("Circuit breaker tripped, skipping remaining queries",
				logger.FieldCount, breaker.failures,
				"remaining", len(queries.Queries)-out.Queries)
			break
		}
		if ctx.Err() != nil {
			log.Warnw("Unit cancelled", logger.FieldError, ctx.Err())
			break
		}

		out.Queries++
		if err := r.query(ctx, unit, combos, q.Query); err != nil {
			breaker.fail()
			out.Failures++
			log.Errorw("Query failed", logger.FieldQuery, q.Query, logger.FieldError, err)
			continue
		}
		out.Rows++

		if err := r.sleep(ctx, r.cfg.QueryPause); err != nil {
			break
		}
	}

	log.Infow("Unit finished",
		logger.FieldRows, out.Rows,
		"queries", out.Queries,
		"failures", out.Failures)
	return out
}

// query derives reasoning and parse for one query and appends the row
func (r *Runner) query(ctx context.Context, unit ontology.Unit, combos *schema.Combinations, query string) error {
	reasoning, err := r.steps.Reasoning(ctx, query)
	if err != nil {
		return errors.Wrap(err, "reasoning")
	}
	parsed, err := r.steps.Parse(ctx, query, reasoning)
	if err != nil {
		return errors.Wrap(err, "structured parse")
	}
	row := dataset.Row{
		Unit:         unit,
		Matched:      combos,
		Query:        query,
		Reasoning:    reasoning,
		ParsedOutput: parsed.ParsedOutput,
	}
	if err := r.sink.Append(ctx, row); err != nil {
		return errors.Wrap(err, "append row")
	}
	return nil
}
