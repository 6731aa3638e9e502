package clock

import (
	"sync"
	"time"
)

// Scheduler requests that fn run once on the next display frame.
type Scheduler interface {
	RequestFrame(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

func (f SchedulerFunc) RequestFrame(fn func()) { f(fn) }

// DefaultFrameInterval approximates a 60 Hz display.
const DefaultFrameInterval = 16 * time.Millisecond

// TimerScheduler runs frames on a timer goroutine.
type TimerScheduler struct {
	Interval time.Duration
}

func (s TimerScheduler) RequestFrame(fn func()) {
	d := s.Interval
	if d <= 0 {
		d = DefaultFrameInterval
	}
	time.AfterFunc(d, fn)
}

// FrameQueue collects frame requests until the host drains them, typically
// once per UI update. A host that stops updating stops the ticks.
type FrameQueue struct {
	mu      sync.Mutex
	pending []func()
}

func (q *FrameQueue) RequestFrame(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// RunFrame runs the callbacks queued before the call. Callbacks queued while
// running wait for the next frame.
func (q *FrameQueue) RunFrame() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Pending reports how many callbacks are waiting.
func (q *FrameQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clock fires onTick once per frame while running.
type Clock struct {
	mu        sync.Mutex
	sched     Scheduler
	onTick    func()
	running   bool
	destroyed bool
	gen       uint64
}

func New(sched Scheduler, onTick func()) *Clock {
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Clock{sched: sched, onTick: onTick}
}

// Start moves the clock to running and fires one tick immediately. Starting a
// running clock does nothing.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running || c.destroyed {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.tick(gen)
}

func (c *Clock) tick(gen uint64) {
	if !c.current(gen) {
		return
	}
	if c.onTick != nil {
		c.onTick()
	}
	if !c.current(gen) {
		return
	}
	c.sched.RequestFrame(func() { c.tick(gen) })
}

func (c *Clock) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running && c.gen == gen
}

// Stop moves the clock to stopped. Pending frames become no-ops.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.running = false
	c.gen++
	c.mu.Unlock()
}

// Destroy stops the clock permanently.
func (c *Clock) Destroy() {
	c.mu.Lock()
	c.running = false
	c.destroyed = true
	c.gen++
	c.mu.Unlock()
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
