// Package telemetry provides the pipeline log stream and its subscribers.
//
// Information Hiding:
// - Bounded history (newest first) behind Entries()
// - Per-subscriber delivery goroutines with a one-slot mailbox
// - zap sink for structured process logs
//
// Publishing never blocks on a subscriber. When a subscriber has not yet
// consumed its pending snapshot, the pending one is replaced by the newer
// snapshot and counted as dropped.

package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistoryLimit is the number of entries retained.
const HistoryLimit = 100

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Entry is one log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// Stats counts snapshot deliveries across all subscribers.
type Stats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Logger is the logging surface consumed by pipeline components.
type Logger interface {
	Log(level Level, message string, details ...string)
}

// Monitor is the log service passed to the controller and its collaborators.
// Safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool
	zap     *zap.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	mailbox chan []Entry
	done    chan struct{}
}

// NewMonitor creates a monitor writing every entry to logger.
// A nil logger discards structured output.
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		subs: make(map[uint64]*subscriber),
		zap:  logger,
	}
}

// Log records an entry and notifies subscribers.
func (m *Monitor) Log(level Level, message string, details ...string) {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	if len(details) > 0 {
		entry.Details = details[0]
	}

	m.write(entry)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	keep := min(len(m.entries), HistoryLimit-1)
	next := make([]Entry, 0, keep+1)
	next = append(next, entry)
	next = append(next, m.entries[:keep]...)
	m.entries = next

	m.published.Add(1)
	for _, s := range m.subs {
		m.offer(s, next)
	}
}

// Subscribe registers fn to receive history snapshots, newest first.
// fn is called with the current history right away and after every Log.
// Snapshots are shared and must not be modified.
func (m *Monitor) Subscribe(fn func([]Entry)) (unsubscribe func()) {
	s := &subscriber{
		mailbox: make(chan []Entry, 1),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		for snapshot := range s.mailbox {
			fn(snapshot)
			m.delivered.Add(1)
		}
	}()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(s.mailbox)
		return func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = s
	m.offer(s, m.entries)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(s.mailbox)
			}
		})
	}
}

// offer hands a snapshot to a subscriber without blocking. Caller holds m.mu.
func (m *Monitor) offer(s *subscriber, snapshot []Entry) {
	select {
	case s.mailbox <- snapshot:
		return
	default:
	}
	select {
	case <-s.mailbox:
		m.dropped.Add(1)
	default:
	}
	select {
	case s.mailbox <- snapshot:
	default:
		m.dropped.Add(1)
	}
}

// Entries returns a copy of the history, newest first.
func (m *Monitor) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Stats returns delivery counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Published: m.published.Load(),
		Delivered: m.delivered.Load(),
		Dropped:   m.dropped.Load(),
	}
}

// Close detaches every subscriber and waits for their goroutines to finish.
// Must not be called from inside a subscriber callback.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	for _, s := range subs {
		close(s.mailbox)
	}
	m.mu.Unlock()

	for _, s := range subs {
		<-s.done
	}
	_ = m.zap.Sync()
}

func (m *Monitor) write(e Entry) {
	fields := []zap.Field{zap.String("entry_id", e.ID)}
	if e.Details != "" {
		fields = append(fields, zap.String("details", e.Details))
	}

	switch e.Level {
	case LevelError:
		m.zap.Error(e.Message, fields...)
	case LevelWarning:
		m.zap.Warn(e.Message, fields...)
	case LevelSuccess:
		m.zap.Info(e.Message, append(fields, zap.String("outcome", "success"))...)
	default:
		m.zap.Info(e.Message, fields...)
	}
}

var _ Logger = (*Monitor)(nil)
