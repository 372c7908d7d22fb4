// Package audit records security events without ever blocking or failing
// the operation that produced them. Events are queued in memory and written
// by a background worker to the store and any configured sinks; overflow and
// write failures are counted and exposed through Health.
package audit

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/idx"
)

const (
	DefaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Sink receives every entry after it has been offered to the store.
type Sink interface {
	Name() string
	Write(ctx context.Context, e domain.AuditEntry) error
	Close() error
}

// Health summarises the logger's failures since start.
type Health struct {
	Queued    int    `json:"queued"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	LastError string `json:"lastError,omitempty"`
}

type Logger struct {
	store  store.Store
	sinks  []Sink
	clock  clockx.Clock
	logger *slog.Logger

	queue   chan domain.AuditEntry
	pending atomic.Int64
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	lastErr string

	// stateMu orders Log against Stop so nothing is queued after the drain.
	stateMu sync.RWMutex
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewLogger returns a logger writing to st. A non-positive queueSize uses
// DefaultQueueSize.
func NewLogger(st store.Store, logger *slog.Logger, clock clockx.Clock, queueSize int, sinks ...Sink) *Logger {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:  st,
		sinks:  sinks,
		clock:  clockx.Or(clock),
		logger: logger,
		queue:  make(chan domain.AuditEntry, queueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Log queues an event. It never blocks; when the queue is full or the logger
// has stopped the event is dropped and counted. ip and userID may be empty.
func (l *Logger) Log(ctx context.Context, event domain.AuditEvent, details map[string]any, userID, ip string) {
	now := l.clock.Now()

	d := make(map[string]any, len(details)+2)
	maps.Copy(d, details)
	d["ipAddress"] = ip
	d["timestamp"] = now.Format(time.RFC3339)

	e := domain.AuditEntry{
		ID:        idx.NewAt(now).String(),
		EventType: event,
		Details:   d,
		CreatedAt: now,
	}
	if userID != "" {
		e.UserID = &userID
	}

	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if l.stopped {
		l.dropped.Add(1)
		l.logger.WarnContext(ctx, "audit logger stopped, event dropped", "event", event)
		return
	}

	l.pending.Add(1)
	select {
	case l.queue <- e:
	default:
		l.pending.Add(-1)
		l.dropped.Add(1)
		l.logger.WarnContext(ctx, "audit queue full, event dropped", "event", event)
	}
}

// Start launches the background writer.
func (l *Logger) Start() {
	l.startOnce.Do(func() {
		go l.run()
		l.logger.Info("audit logger started", "sinks", len(l.sinks))
	})
}

// Stop drains queued events, stops the worker and closes the sinks.
func (l *Logger) Stop() {
	l.stopOnce.Do(func() {
		l.Start()
		l.stateMu.Lock()
		l.stopped = true
		l.stateMu.Unlock()

		close(l.stopCh)
		<-l.doneCh
		for _, s := range l.sinks {
			if err := s.Close(); err != nil {
				l.logger.Error("failed to close audit sink", "sink", s.Name(), "error", err)
			}
		}
		l.logger.Info("audit logger stopped")
	})
}

// Flush waits until every queued event has been handled or ctx ends.
func (l *Logger) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for l.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (l *Logger) Health() Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Health{
		Queued:    len(l.queue),
		Dropped:   l.dropped.Load(),
		Failed:    l.failed.Load(),
		LastError: l.lastErr,
	}
}

func (l *Logger) run() {
	defer close(l.doneCh)

	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.stopCh:
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e domain.AuditEntry) {
	defer l.pending.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := l.store.AuditLogs().Append(ctx, e); err != nil {
		l.fail("store", e, err)
	}
	for _, s := range l.sinks {
		if err := s.Write(ctx, e); err != nil {
			l.fail(s.Name(), e, err)
		}
	}
}

func (l *Logger) fail(target string, e domain.AuditEntry, err error) {
	l.failed.Add(1)
	l.mu.Lock()
	l.lastErr = target + ": " + err.Error()
	l.mu.Unlock()
	l.logger.Error("failed to write audit event", "target", target, "event", e.EventType, "error", err)
}
