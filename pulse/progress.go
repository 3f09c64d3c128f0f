package pulse

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// ProgressEmitter reports progress of long-running operations to a human or
// a machine. Implementations must be safe for concurrent use.
type ProgressEmitter interface {
	// EmitStage announces the start of a processing stage
	EmitStage(stage string, message string)

	// EmitProgress announces a running count; metadata["type"] names what is counted
	EmitProgress(count int, metadata map[string]interface{})

	// EmitComplete announces completion with a summary
	EmitComplete(summary map[string]interface{})

	// EmitError announces a failure that did not stop processing
	EmitError(stage string, err error)

	// EmitInfo emits a general informational message
	EmitInfo(message string)
}

// NopEmitter discards everything
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)                 {}
func (NopEmitter) EmitProgress(int, map[string]interface{}) {}
func (NopEmitter) EmitComplete(map[string]interface{})      {}
func (NopEmitter) EmitError(string, error)                  {}
func (NopEmitter) EmitInfo(string)                          {}

// CLIEmitter prints progress to the terminal using pterm
type CLIEmitter struct {
	verbosity int
	mu        sync.Mutex
}

// NewCLIEmitter creates a terminal emitter; info lines need verbosity >= 1
func NewCLIEmitter(verbosity int) *CLIEmitter {
	return &CLIEmitter{verbosity: verbosity}
}

func (e *CLIEmitter) EmitStage(stage string, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pterm.Printf("🔄 %s: %s\n", pterm.LightCyan(stage), message)
}

func (e *CLIEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	itemType, ok := metadata["type"].(string)
	if !ok {
		itemType = "items"
	}
	if total, ok := metadata["total"].(int); ok {
		pterm.Printf("✅ Processed %s/%d %s\n", pterm.Green(fmt.Sprintf("%d", count)), total, itemType)
		return
	}
	pterm.Printf("✅ Processed %s %s\n", pterm.Green(fmt.Sprintf("%d", count)), itemType)
}

func (e *CLIEmitter) EmitComplete(summary map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pterm.Success.Println("Processing complete!")
	for _, key := range sortedKeys(summary) {
		pterm.Printf("  %s: %v\n", key, summary[key])
	}
}

func (e *CLIEmitter) EmitError(stage string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pterm.Error.Printf("Error in %s: %v\n", stage, err)
}

func (e *CLIEmitter) EmitInfo(message string) {
	if e.verbosity < 1 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pterm.Info.Println(message)
}

// ProgressEvent is one line of JSONEmitter output
type ProgressEvent struct {
	Type      string                 `json:"type"` // stage, progress, complete, error, info
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// JSONEmitter writes one JSON event per line, for consumption by other tools
type JSONEmitter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	now     func() time.Time
}

// NewJSONEmitter writes events to w
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{encoder: json.NewEncoder(w), now: time.Now}
}

func (e *JSONEmitter) emit(kind string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encoder.Encode(ProgressEvent{Type: kind, Timestamp: e.now(), Data: data})
}

func (e *JSONEmitter) EmitStage(stage string, message string) {
	e.emit("stage", map[string]interface{}{"stage": stage, "message": message})
}

func (e *JSONEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	data := map[string]interface{}{"count": count}
	for k, v := range metadata {
		data[k] = v
	}
	e.emit("progress", data)
}

func (e *JSONEmitter) EmitComplete(summary map[string]interface{}) {
	e.emit("complete", summary)
}

func (e *JSONEmitter) EmitError(stage string, err error) {
	e.emit("error", map[string]interface{}{"stage": stage, "error": err.Error()})
}

func (e *JSONEmitter) EmitInfo(message string) {
	e.emit("info", map[string]interface{}{"message": message})
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
