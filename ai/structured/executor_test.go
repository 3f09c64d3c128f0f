package structured

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ontogen/errors"
)

type countingPermitter struct {
	acquired atomic.Int32
	err      error
}

func (p *countingPermitter) Acquire(ctx context.Context) error {
	if p.err != nil {
		return p.err
	}
	p.acquired.Add(1)
	return nil
}

// scriptedGenerator plays one function per attempt, repeating the last
type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	steps []func(ctx context.Context) (*Reply, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()
	if i >= len(g.steps) {
		i = len(g.steps) - 1
	}
	return g.steps[i](ctx)
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func hang(ctx context.Context) (*Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func fail(msg string) func(context.Context) (*Reply, error) {
	return func(context.Context) (*Reply, error) {
		return nil, errors.New(msg)
	}
}

func reply(content string) func(context.Context) (*Reply, error) {
	return func(context.Context) (*Reply, error) {
		return &Reply{Content: json.RawMessage(content), Model: "test-model", Usage: Usage{TotalTokens: 7}}, nil
	}
}

type recordedSleeps struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordedSleeps) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

type answer struct {
	Answer string `json:"answer"`
}

func newTestExecutor(t *testing.T, gen Generator, permits Permitter, sleeps *recordedSleeps, opts ...Option) *Executor {
	base := []Option{
		WithTimeout(20 * time.Millisecond),
		WithSleeper(sleeps.Sleep),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	}
	return NewExecutor(gen, permits, append(base, opts...)...)
}

func TestCall_AlwaysTimesOut(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){hang}}
	permits := &countingPermitter{}
	sleeps := &recordedSleeps{}
	ex := newTestExecutor(t, gen, permits, sleeps)

	_, err := Call(context.Background(), ex, Request{Step: "match"}, DecodeJSON[answer])

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExhaustedRetries))
	assert.True(t, errors.Is(err, errors.ErrRequestTimeout))
	assert.False(t, errors.Is(err, errors.ErrRequestFailed))
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, int32(3), permits.acquired.Load(), "one permit per attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.sleeps)
}

func TestCall_BackoffDoubles(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){fail("boom")}}
	sleeps := &recordedSleeps{}
	ex := newTestExecutor(t, gen, &countingPermitter{}, sleeps, WithMaxRetries(5))

	_, err := Call(context.Background(), ex, Request{Step: "queries"}, DecodeJSON[answer])

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExhaustedRetries))
	assert.True(t, errors.Is(err, errors.ErrRequestFailed))
	assert.Equal(t, 5, gen.Calls())
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeps.sleeps)
}

func TestCall_SucceedsAfterFailures(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){
		fail("connection reset"),
		reply(`{"answer":"yes"}`),
	}}
	permits := &countingPermitter{}
	sleeps := &recordedSleeps{}
	ex := newTestExecutor(t, gen, permits, sleeps)

	got, err := Call(context.Background(), ex, Request{Step: "reasoning"}, DecodeJSON[answer])

	require.NoError(t, err)
	assert.Equal(t, "yes", got.Answer)
	assert.Equal(t, 2, gen.Calls())
	assert.Equal(t, int32(2), permits.acquired.Load())
	assert.Equal(t, []time.Duration{time.Second}, sleeps.sleeps)
}

func TestCall_DecodeFailureIsRetried(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){
		reply(`not json`),
		reply(`{"answer":"fixed"}`),
	}}
	ex := newTestExecutor(t, gen, &countingPermitter{}, &recordedSleeps{})

	got, err := Call(context.Background(), ex, Request{Step: "parse"}, DecodeJSON[answer])

	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Answer)
	assert.Equal(t, 2, gen.Calls())
}

func TestCall_DecodeFailureExhausted(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){reply(`[]`)}}
	ex := newTestExecutor(t, gen, &countingPermitter{}, &recordedSleeps{})

	_, err := Call(context.Background(), ex, Request{Step: "parse"}, DecodeJSON[answer])

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExhaustedRetries))
	assert.True(t, errors.Is(err, errors.ErrRequestFailed))
	assert.True(t, errors.Is(err, errors.ErrDecode))
}

func TestCall_ParentCancelStopsRetrying(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){hang}}
	sleeps := &recordedSleeps{}
	ex := newTestExecutor(t, gen, &countingPermitter{}, sleeps, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Call(ctx, ex, Request{Step: "match"}, DecodeJSON[answer])

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, errors.ErrExhaustedRetries))
	assert.Equal(t, 1, gen.Calls())
	assert.Empty(t, sleeps.sleeps)
}

func TestCall_PermitErrorAbortsRequest(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){reply(`{}`)}}
	permits := &countingPermitter{err: context.DeadlineExceeded}
	ex := newTestExecutor(t, gen, permits, &recordedSleeps{})

	_, err := Call(context.Background(), ex, Request{Step: "match"}, DecodeJSON[answer])

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, gen.Calls())
}

func TestCall_PanickingGeneratorCountsAsFailure(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){
		func(context.Context) (*Reply, error) { panic("driver bug") },
		reply(`{"answer":"ok"}`),
	}}
	ex := newTestExecutor(t, gen, &countingPermitter{}, &recordedSleeps{})

	got, err := Call(context.Background(), ex, Request{Step: "match"}, DecodeJSON[answer])

	require.NoError(t, err)
	assert.Equal(t, "ok", got.Answer)
}

func TestCall_RecordsEveryAttempt(t *testing.T) {
	gen := &scriptedGenerator{steps: []func(context.Context) (*Reply, error){
		hang,
		fail("bad gateway"),
		reply(`{"answer":"done"}`),
	}}
	var mu sync.Mutex
	var attempts []Attempt
	rec := RecorderFunc(func(_ context.Context, a Attempt) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, a)
	})
	ex := newTestExecutor(t, gen, &countingPermitter{}, &recordedSleeps{}, WithRecorder(rec))

	_, err := Call(context.Background(), ex, Request{Step: "queries", Temperature: 0.7, MaxTokens: 1500}, DecodeJSON[answer])
	require.NoError(t, err)

	require.Len(t, attempts, 3)
	assert.Equal(t, OutcomeTimeout, attempts[0].Outcome)
	assert.Equal(t, OutcomeFailed, attempts[1].Outcome)
	assert.Equal(t, OutcomeSuccess, attempts[2].Outcome)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, "queries", a.Step)
		assert.Equal(t, 1500, a.MaxTokens)
	}
	require.NotNil(t, attempts[2].Usage)
	assert.Equal(t, 7, attempts[2].Usage.TotalTokens)
	assert.Equal(t, "test-model", attempts[2].Model)
}

func TestRunDetached_AbandonsSlowCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := RunDetached(ctx, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunDetached_ReturnsValue(t *testing.T) {
	v, err := RunDetached(context.Background(), func(context.Context) (string, error) {
		return "value", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}
