package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/getmockd/mcpgate/pkg/httputil"
	"github.com/getmockd/mcpgate/pkg/session"
	"github.com/getmockd/mcpgate/pkg/tracing"
)

// Event names.
const (
	EventSessionCreated = "session.created"
	EventSessionClosed  = "session.closed"
	EventToolCalled     = "tool.called"
)

// StderrPath selects standard error as the audit destination.
const StderrPath = "-"

// Entry is one audit record.
type Entry struct {
	Sequence   int64     `json:"sequence"`
	Time       time.Time `json:"time"`
	Event      string    `json:"event"`
	SessionID  string    `json:"sessionId,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	TraceID    string    `json:"traceId,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	Client     string    `json:"client,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	IsError    bool      `json:"isError,omitempty"`
}

// FromContext returns an entry for event with the session, request and
// trace ids taken from ctx.
func FromContext(ctx context.Context, event string) Entry {
	return Entry{
		Event:     event,
		SessionID: session.IDFromContext(ctx),
		RequestID: httputil.RequestID(ctx),
		TraceID:   tracing.TraceID(ctx),
	}
}

// Logger records audit entries. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(entry Entry) error
	Close() error
}

// NoOpLogger discards every entry.
type NoOpLogger struct{}

// Log discards the entry.
func (NoOpLogger) Log(Entry) error { return nil }

// Close does nothing.
func (NoOpLogger) Close() error { return nil }

var _ Logger = NoOpLogger{}

// WriterLogger encodes entries as JSON lines onto an io.Writer.
type WriterLogger struct {
	mu     sync.Mutex
	closer io.Closer
	enc    *json.Encoder
	seq    int64
	now    func() time.Time
	closed bool
}

// NewWriterLogger returns a WriterLogger on w. If w is an io.Closer other
// than stdout or stderr, Close closes it.
func NewWriterLogger(w io.Writer) *WriterLogger {
	l := &WriterLogger{enc: json.NewEncoder(w), now: time.Now}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		l.closer = c
	}
	return l
}

// Log stamps the entry with a sequence number and, when unset, the current
// time, then writes it.
func (l *WriterLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit: logger is closed")
	}
	l.seq++
	entry.Sequence = l.seq
	if entry.Time.IsZero() {
		entry.Time = l.now().UTC()
	}
	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("audit: encoding entry: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any. Later calls to Log fail.
func (l *WriterLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer == nil {
		return nil
	}
	if f, ok := l.closer.(*os.File); ok {
		_ = f.Sync()
	}
	return l.closer.Close()
}

var _ Logger = (*WriterLogger)(nil)

// Open returns the logger for path: stderr for "-", otherwise the file at
// path opened for append. An empty path disables auditing.
func Open(path string) (Logger, error) {
	switch path {
	case "":
		return NoOpLogger{}, nil
	case StderrPath:
		return NewWriterLogger(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", path, err)
	}
	return NewWriterLogger(f), nil
}
