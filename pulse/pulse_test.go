package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/ontogen/errors"
)

func TestPause(t *testing.T) {
	require.NoError(t, Pause(context.Background(), 0))
	require.NoError(t, Pause(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Pause(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLogger_Markers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLogger(zap.New(core).Sugar())

	l.Starting("chunk", "chunk", 1)
	l.Pulse("working")
	l.Closing("chunk")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "✿ chunk", entries[0].Message)
	assert.Equal(t, "working", entries[1].Message)
	assert.Equal(t, "❀ chunk", entries[2].Message)

	assert.NotPanics(t, func() { NewLogger(nil).Starting("quiet") })
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)
	e.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	e.EmitStage("wave", "Starting wave 1")
	e.EmitProgress(3, map[string]interface{}{"type": "segments"})
	e.EmitError("segment 2", errors.New("exit code 3"))
	e.EmitComplete(map[string]interface{}{"failed": 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var events []ProgressEvent
	for _, line := range lines {
		var ev ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	assert.Equal(t, "stage", events[0].Type)
	assert.Equal(t, "progress", events[1].Type)
	assert.Equal(t, float64(3), events[1].Data["count"])
	assert.Equal(t, "segments", events[1].Data["type"])
	assert.Equal(t, "exit code 3", events[2].Data["error"])
	assert.Equal(t, "complete", events[3].Type)
}

func TestCLIEmitter_DoesNotPanic(t *testing.T) {
	e := NewCLIEmitter(1)
	assert.NotPanics(t, func() {
		e.EmitStage("wave", "Starting wave 1")
		e.EmitProgress(2, map[string]interface{}{"type": "segments", "total": 4})
		e.EmitProgress(2, nil)
		e.EmitInfo("info")
		e.EmitError("segment 1", errors.New("boom"))
		e.EmitComplete(map[string]interface{}{"completed": 3})
	})
}
