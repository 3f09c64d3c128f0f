package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ontogen/ontology"
	"github.com/teranos/ontogen/pipeline"
)

func makeUnits(n int) []ontology.Unit {
	units := make([]ontology.Unit, n)
	for i := range units {
		units[i] = ontology.Unit{Category: "exposure", Path: fmt.Sprintf("exposure/p%d", i)}
	}
	return units
}

// sleepRecorder replaces pacing sleeps and keeps their durations
type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, d)
	return ctx.Err()
}

func oneRow(ctx context.Context, unit ontology.Unit) *pipeline.Outcome {
	return &pipeline.Outcome{Unit: unit, Rows: 1}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkTimeout = time.Second
	return cfg
}

func TestRun_WavesAndOrder(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 9, 12} {
		t.Run(fmt.Sprintf("%d units", n), func(t *testing.T) {
			sleeps := &sleepRecorder{}
			s := NewScheduler(oneRow, testConfig(), zaptest.NewLogger(t).Sugar(), WithSleeper(sleeps.sleep))

			units := makeUnits(n)
			res := s.Run(context.Background(), units)

			assert.Equal(t, (n+3)/4, res.Waves, "ceil(N/4) waves")
			require.Len(t, res.Outcomes, n)
			for i, o := range res.Outcomes {
				require.NotNil(t, o)
				assert.Equal(t, units[i], o.Unit, "outcomes are positional")
			}
			assert.Equal(t, n, res.Rows())

			wantPauses := 0
			if res.Waves > 1 {
				wantPauses = res.Waves - 1
			}
			assert.Len(t, sleeps.pauses, wantPauses, "no pause after the last chunk")
			for _, p := range sleeps.pauses {
				assert.Equal(t, DefaultChunkPause, p)
			}
		})
	}
}

func TestRun_ChunkConcurrencyIsBounded(t *testing.T) {
	var running, peak int32
	process := func(ctx context.Context, unit ontology.Unit) *pipeline.Outcome {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &pipeline.Outcome{Unit: unit}
	}

	s := NewScheduler(process, testConfig(), nil, WithSleeper(func(context.Context, time.Duration) error { return nil }))
	s.Run(context.Background(), makeUnits(10))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(DefaultChunkSize))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1), "units of a chunk run concurrently")
}

func TestRun_ChunkTimeoutYieldsNilOutcomes(t *testing.T) {
	process := func(ctx context.Context, unit ontology.Unit) *pipeline.Outcome {
		if unit.Path == "exposure/p5" {
			<-ctx.Done()
			return &pipeline.Outcome{Unit: unit}
		}
		return &pipeline.Outcome{Unit: unit, Rows: 1}
	}
	sleeps := &sleepRecorder{}
	cfg := testConfig()
	cfg.ChunkTimeout = 50 * time.Millisecond
	s := NewScheduler(process, cfg, zaptest.NewLogger(t).Sugar(), WithSleeper(sleeps.sleep))

	res := s.Run(context.Background(), makeUnits(10))

	assert.Equal(t, 3, res.Waves)
	assert.Equal(t, 1, res.TimedOut)
	require.Len(t, res.Outcomes, 10)
	assert.Equal(t, 4, res.Nil(), "a timed-out chunk yields chunk-size nil outcomes")
	for i := 4; i < 8; i++ {
		assert.Nil(t, res.Outcomes[i])
	}
	assert.NotNil(t, res.Outcomes[8], "processing continues after a timeout")
	assert.Equal(t, []time.Duration{DefaultChunkPause, DefaultFailurePause}, sleeps.pauses)
}

func TestAwaitChunk_CompletionWinsOverDeadline(t *testing.T) {
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	close(done)

	// Both channels ready: select order is random, the answer must not be.
	for i := 0; i < 100; i++ {
		require.True(t, awaitChunk(expired, done))
	}

	pending := make(chan struct{})
	assert.False(t, awaitChunk(expired, pending))
}

func TestRun_PanicIsContained(t *testing.T) {
	process := func(ctx context.Context, unit ontology.Unit) *pipeline.Outcome {
		if unit.Path == "exposure/p1" {
			panic("boom")
		}
		return &pipeline.Outcome{Unit: unit, Rows: 1}
	}
	s := NewScheduler(process, testConfig(), zaptest.NewLogger(t).Sugar(), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	res := s.Run(context.Background(), makeUnits(4))

	assert.Equal(t, 1, res.Panicked)
	assert.Nil(t, res.Outcomes[1])
	assert.Equal(t, 3, res.Rows(), "siblings finish normally")
	assert.Equal(t, 0, res.TimedOut)
}

func TestRun_CancelledContextLeavesRemainderNil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	process := func(ctx context.Context, unit ontology.Unit) *pipeline.Outcome {
		atomic.AddInt32(&calls, 1)
		return &pipeline.Outcome{Unit: unit}
	}
	s := NewScheduler(process, testConfig(), nil, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	res := s.Run(ctx, makeUnits(10))

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, res.Waves)
	require.Len(t, res.Outcomes, 10)
	assert.Equal(t, 6, res.Nil())
}

type chunkCounter struct {
	chunks, timedOut int
}

func (c *chunkCounter) ChunkDone(outcomes []*pipeline.Outcome, timedOut bool) {
	c.chunks++
	if timedOut {
		c.timedOut++
	}
}

func TestRun_Observer(t *testing.T) {
	obs := &chunkCounter{}
	s := NewScheduler(oneRow, testConfig(), nil,
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
		WithObserver(obs))

	s.Run(context.Background(), makeUnits(9))
	assert.Equal(t, 3, obs.chunks)
	assert.Equal(t, 0, obs.timedOut)
}

func TestRunBatches(t *testing.T) {
	sleeps := &sleepRecorder{}
	cfg := testConfig()
	cfg.BatchSize = 5
	s := NewScheduler(oneRow, cfg, zaptest.NewLogger(t).Sugar(), WithSleeper(sleeps.sleep))

	res := s.RunBatches(context.Background(), 30, makeUnits(12))

	require.Len(t, res.Outcomes, 12)
	assert.Equal(t, 12, res.Rows())
	// batches of 5, 5 and 2 units: 2 + 2 + 1 chunks
	assert.Equal(t, 5, res.Waves)
	assert.Equal(t, []time.Duration{
		DefaultChunkPause, DefaultBatchPause,
		DefaultChunkPause, DefaultBatchPause,
	}, sleeps.pauses)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(oneRow, Config{}, nil)
	assert.Equal(t, DefaultChunkSize, s.cfg.ChunkSize)
	assert.Equal(t, DefaultChunkTimeout, s.cfg.ChunkTimeout)
	assert.Equal(t, DefaultBatchSize, s.cfg.BatchSize)
}
