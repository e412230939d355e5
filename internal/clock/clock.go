// Package clock abstracts wall-clock time so the heartbeat and reclaim
// loops can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the fleet services use.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C until Stop is called. C has capacity 1; ticks
// are dropped while the consumer is busy, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Fake is a Clock whose time only moves when Advance is called.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	added   *sync.Cond
}

type fakeTicker struct {
	next     time.Time
	interval time.Duration
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.added = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker registers a ticker that fires as Advance crosses its deadlines.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{next: f.now.Add(d), interval: d, ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, ft)
	f.added.Broadcast()
	return &Ticker{
		C: ft.ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Advance moves time forward by d and fires every ticker whose deadline
// was crossed. A ticker crossed several times still delivers at most one
// buffered tick.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	live := f.tickers[:0]
	for _, ft := range f.tickers {
		if ft.stopped {
			continue
		}
		for !ft.next.After(f.now) {
			select {
			case ft.ch <- ft.next:
			default:
			}
			ft.next = ft.next.Add(ft.interval)
		}
		live = append(live, ft)
	}
	f.tickers = live
}

// BlockUntilTickers waits until at least n live tickers are registered, so
// a test can advance time only after the loop under test is listening.
func (f *Fake) BlockUntilTickers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.liveTickers() < n {
		f.added.Wait()
	}
}

func (f *Fake) liveTickers() int {
	n := 0
	for _, ft := range f.tickers {
		if !ft.stopped {
			n++
		}
	}
	return n
}
