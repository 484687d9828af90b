// Package hk provides a mechanism for registering cleanup/periodic
// functions invoked at specified intervals: routing-table flush, beacon
// re-announce, ack-batch flush, assembly-buffer sweep, stale-host reaping.
//
// Unlike a housekeeper that always runs its own background goroutine,
// this hk is dual-mode: the kernel core is single-threaded, but a caller
// MAY still wrap it in one dedicated goroutine.
// RunDue lets the single-threaded kernel Step drive every registered job
// inline with no goroutine at all; Run/Stop offer an always-on background
// loop for callers that want a multithreaded wrapper.
package hk

import (
	"sync"
	"time"

	"github.com/peismesh/kernel/clock"
	"github.com/peismesh/kernel/nlog"
)

// Func is one housekeeping job. It returns the delay until its next run;
// returning <= 0 reuses the interval it was registered with.
type Func func() time.Duration

type job struct {
	name     string
	interval time.Duration
	nextDue  int64 // clock.Mono()
	fn       Func
}

// Housekeeper owns a set of named periodic jobs.
type Housekeeper struct {
	mu      sync.Mutex
	jobs    map[string]*job
	started chan struct{}
	once    sync.Once
	stopCh  chan struct{}
}

// DefaultHK is the process-wide housekeeper, a single shared global instance.
var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{jobs: make(map[string]*job), started: make(chan struct{}), stopCh: make(chan struct{})}
}

// Reg registers fn to run every interval, first firing after interval has
// elapsed from registration time.
func (h *Housekeeper) Reg(name string, interval time.Duration, fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[name] = &job{name: name, interval: interval, nextDue: clock.Mono() + int64(interval), fn: fn}
}

// Unreg removes a previously registered job.
func (h *Housekeeper) Unreg(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.jobs, name)
}

// RunDue executes every job whose deadline has passed, given the caller's
// own notion of "now" once
// per iteration rather than each job calling time.Now() independently).
func (h *Housekeeper) RunDue(now int64) {
	h.mu.Lock()
	due := make([]*job, 0, len(h.jobs))
	for _, j := range h.jobs {
		if now >= j.nextDue {
			due = append(due, j)
		}
	}
	h.mu.Unlock()
	for _, j := range due {
		next := j.fn()
		if next <= 0 {
			next = j.interval
		}
		h.mu.Lock()
		if cur, ok := h.jobs[j.name]; ok {
			cur.nextDue = now + int64(next)
		}
		h.mu.Unlock()
	}
}

// Run drives RunDue from a dedicated background goroutine, for the
// multithreaded kernel wrapper. Blocks until Stop is called.
func (h *Housekeeper) Run() {
	h.once.Do(func() { close(h.started) })
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.RunDue(clock.Mono())
		case <-h.stopCh:
			nlog.Infof("hk: stopped")
			return
		}
	}
}

// Stop terminates a running Run loop.
func (h *Housekeeper) Stop() { close(h.stopCh) }

// WaitStarted blocks until Run has entered its loop at least once.
func (h *Housekeeper) WaitStarted() { <-h.started }

// TestInit resets DefaultHK for test isolation.
func TestInit() { DefaultHK = New() }

func WaitStarted() { DefaultHK.WaitStarted() }
