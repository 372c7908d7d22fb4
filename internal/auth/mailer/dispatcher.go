package mailer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultQueueSize = 256
	DefaultRate      = 5
	sendTimeout      = 30 * time.Second
)

// DispatcherConfig tunes the outbound queue. Zero values pick defaults.
type DispatcherConfig struct {
	QueueSize int

	// PerSecond caps deliveries to the provider; bursts of the same size
	// are allowed.
	PerSecond float64

	// BreakerTimeout is how long the breaker stays open before letting a
	// probe request through.
	BreakerTimeout time.Duration
}

// Health reports the dispatcher's counters since start.
type Health struct {
	Provider  string `json:"provider"`
	Queued    int    `json:"queued"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Breaker   string `json:"breaker"`
	LastError string `json:"lastError,omitempty"`
}

// Dispatcher queues messages and delivers them on a background worker,
// throttled and guarded by a circuit breaker.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	queue   chan Message
	pending atomic.Int64
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	lastErr string

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	doneCh    chan struct{}
}

func NewDispatcher(sender Sender, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = DefaultRate
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), max(1, int(cfg.PerSecond))),
		queue:   make(chan Message, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mailer-" + sender.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mail circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return d
}

// Enqueue queues m for delivery. It never blocks and reports false when the
// queue is full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(m Message) bool {
	if d.ctx.Err() != nil {
		d.dropped.Add(1)
		return false
	}

	d.pending.Add(1)
	select {
	case d.queue <- m:
		return true
	default:
		d.pending.Add(-1)
		d.dropped.Add(1)
		d.logger.Warn("mail queue full, message dropped", "subject", m.Subject)
		return false
	}
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
		d.logger.Info("mail dispatcher started", "provider", d.sender.Name())
	})
}

// Stop cancels in-flight deliveries and discards anything still queued.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.Start()
		d.cancel()
		<-d.doneCh
		d.logger.Info("mail dispatcher stopped", "discarded", len(d.queue))
	})
}

// Flush waits until the queue is empty or ctx ends.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for d.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (d *Dispatcher) Health() Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Health{
		Provider:  d.sender.Name(),
		Queued:    len(d.queue),
		Sent:      d.sent.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
		Breaker:   d.breaker.State().String(),
		LastError: d.lastErr,
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case <-d.ctx.Done():
			return
		case m := <-d.queue:
			d.deliver(m)
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	defer d.pending.Add(-1)

	if err := d.limiter.Wait(d.ctx); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, sendTimeout)
	defer cancel()

	_, err := d.breaker.Execute(func() (any, error) {
		return nil, d.sender.Send(ctx, m.To, m.Subject, m.HTML)
	})
	if err != nil {
		d.failed.Add(1)
		d.mu.Lock()
		d.lastErr = err.Error()
		d.mu.Unlock()

		level := slog.LevelError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			level = slog.LevelWarn
		}
		d.logger.Log(ctx, level, "failed to send email", "provider", d.sender.Name(), "subject", m.Subject, "error", err)
		return
	}
	d.sent.Add(1)
}
