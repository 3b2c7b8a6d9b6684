package errlog

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/jonboulle/clockwork"
)

// Store persists error messages in insertion order
type Store interface {
	Append(ctx context.Context, message string, at int64) error
	List(ctx context.Context) ([]string, error)
	// Pop removes the newest message; ok is false when the store is empty
	Pop(ctx context.Context) (message string, ok bool, err error)
	Clear(ctx context.Context) error
}

// Notifier surfaces a freshly recorded error to the user
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// WriterNotifier prints notifications as single lines
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.w, "cellsync: %s\n", message)
}

// Options configures a Log
type Options struct {
	Notifier Notifier
	// NotifyEnabled is consulted on every record, so settings changes apply immediately
	NotifyEnabled func() bool
	Clock         clockwork.Clock
	Logger        logging.Logger
}

// Log is the user-visible list of sync errors
type Log struct {
	store         Store
	notifier      Notifier
	notifyEnabled func() bool
	clock         clockwork.Clock
	logger        logging.Logger
}

func New(store Store, opts Options) *Log {
	if store == nil {
		store = NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.NotifyEnabled == nil {
		opts.NotifyEnabled = func() bool { return false }
	}
	return &Log{
		store:         store,
		notifier:      opts.Notifier,
		notifyEnabled: opts.NotifyEnabled,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
}

// Record appends message and notifies when enabled. Storage failures are
// logged, never returned.
func (l *Log) Record(ctx context.Context, message string) {
	if err := l.store.Append(ctx, message, l.clock.Now().Unix()); err != nil {
		l.logger.Error("Failed to record error", logging.F("message", message), logging.F("error", err))
	}
	l.logger.Warn("Sync error recorded", logging.F("message", message))
	if l.notifier != nil && l.notifyEnabled() {
		l.notifier.Notify(message)
	}
}

// Recordf formats and records a message
func (l *Log) Recordf(ctx context.Context, format string, args ...interface{}) {
	l.Record(ctx, fmt.Sprintf(format, args...))
}

// Entries returns all messages oldest first
func (l *Log) Entries(ctx context.Context) ([]string, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []string{}
	}
	return entries, nil
}

// Pop removes and returns the newest message, or "" when the log is empty
func (l *Log) Pop(ctx context.Context) (string, error) {
	msg, _, err := l.store.Pop(ctx)
	return msg, err
}

func (l *Log) Clear(ctx context.Context) error {
	return l.store.Clear(ctx)
}
