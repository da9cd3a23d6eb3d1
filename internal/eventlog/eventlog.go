// Package eventlog appends pipeline events as JSON lines:
// {"timestamp": <epoch seconds>, "event": <name>, "payload": {...}}.
package eventlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event names.
const (
	LogInteraction   = "Log_Interaction"
	SafetyCheck      = "Safety_Check"
	ToolSelect       = "Tool_Select"
	ToolResult       = "Tool_Result"
	GenerateResponse = "Generate_Response"
	Ingest           = "Ingest"
)

// Sink receives one event per pipeline stage transition.
type Sink interface {
	Emit(event string, payload map[string]any)
}

// Logger is a Sink writing JSON lines through a dedicated zap core. Concurrent Emit calls
// never interleave partial lines.
type Logger struct {
	zl     *zap.Logger
	closer io.Closer
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.EpochTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

// New returns a Logger writing to w.
func New(w io.Writer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(zapcore.AddSync(w)), zapcore.InfoLevel)
	return &Logger{zl: zap.New(core)}
}

// Open appends to the file at path, creating it and its directory when missing.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := New(f)
	l.closer = f
	return l, nil
}

// Emit appends one event.
func (l *Logger) Emit(event string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	l.zl.Info(event, zap.Any("payload", payload))
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Record is one captured event.
type Record struct {
	Event   string
	Payload map[string]any
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// Emit stores the event.
func (r *Recorder) Emit(event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Event: event, Payload: payload})
}

// Records returns a copy of the captured events in order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Events returns the captured event names in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.records))
	for i, rec := range r.records {
		names[i] = rec.Event
	}
	return names
}

// Nop discards events.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(string, map[string]any) {}

// Tee fans events out to several sinks in order.
type Tee []Sink

// Emit forwards the event to every sink.
func (t Tee) Emit(event string, payload map[string]any) {
	for _, s := range t {
		s.Emit(event, payload)
	}
}
