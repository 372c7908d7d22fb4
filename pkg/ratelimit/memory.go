package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/clockx"
)

const sweepEvery = 5 * time.Minute

// Memory keeps fixed-window counters in process memory.
type Memory struct {
	mu        sync.Mutex
	clock     clockx.Clock
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemory(clock clockx.Clock) *Memory {
	clock = clockx.Or(clock)
	return &Memory{
		clock:     clock,
		windows:   make(map[string]*window),
		lastSweep: clock.Now(),
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, win time.Duration) (Result, error) {
	if err := validate(limit, win); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.sweep(now)

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		m.windows[key] = w
	}
	w.count++

	return Result{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: max(limit-w.count, 0),
		ResetAt:   w.resetAt,
	}, nil
}

// sweep drops expired windows so ephemeral keys do not accumulate.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepEvery {
		return
	}
	m.lastSweep = now
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}

// Len reports how many windows are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
