package session

import (
	"sync"
	"time"
)

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Scheduler supplies the clock and tickers the controller runs on.
type Scheduler interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemScheduler uses the wall clock.
type SystemScheduler struct{}

func (SystemScheduler) Now() time.Time { return time.Now() }

func (SystemScheduler) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// ManualScheduler is a virtual clock. Advance moves time forward and delivers
// every tick that falls due, in time order, blocking until each one is
// received or its ticker is stopped.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (m *ManualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualScheduler) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("session: non-positive ticker period")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{
		period:  d,
		next:    m.now.Add(d),
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward by d.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		at := t.next
		m.now = at
		t.next = at.Add(t.period)
		m.mu.Unlock()

		select {
		case t.c <- at:
		case <-t.stopped:
		}
	}
}

// Active reports how many tickers are still running.
func (m *ManualScheduler) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

// nextDue returns the live ticker with the earliest tick at or before target.
// Caller holds m.mu.
func (m *ManualScheduler) nextDue(target time.Time) *manualTicker {
	var best *manualTicker
	live := m.tickers[:0]
	for _, t := range m.tickers {
		if t.isStopped() {
			continue
		}
		live = append(live, t)
		if t.next.After(target) {
			continue
		}
		if best == nil || t.next.Before(best.next) {
			best = t
		}
	}
	m.tickers = live
	return best
}

type manualTicker struct {
	period  time.Duration
	next    time.Time
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() { t.once.Do(func() { close(t.stopped) }) }

func (t *manualTicker) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
