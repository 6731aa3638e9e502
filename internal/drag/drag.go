package drag

import (
	"math"
	"sync"
	"time"
)

type Kind int

const (
	PointerDown Kind = iota
	PointerMove
	PointerUp
	PointerCancel
	PointerLeave
	Click
	DblClick
)

// PointerEvent is a pointer event in host coordinates.
type PointerEvent struct {
	Kind    Kind
	X, Y    float64
	Button  int
	stopped bool
}

// StopPropagation keeps the event from reaching later listeners and the
// surface's own handling.
func (e *PointerEvent) StopPropagation() { e.stopped = true }

func (e *PointerEvent) Stopped() bool { return e.stopped }

type Rect struct {
	Left, Top, Width, Height float64
}

// Target is something pointer listeners can be attached to. Capture
// listeners see every event before the ordinary listeners do.
type Target interface {
	Bounds() Rect
	AddPointerListener(fn func(*PointerEvent)) (remove func())
	AddCaptureListener(fn func(*PointerEvent)) (remove func())
}

type listener struct {
	fn      func(*PointerEvent)
	removed bool
}

// Surface is a Target that hosts dispatch events into.
type Surface struct {
	mu        sync.Mutex
	bounds    func() Rect
	capture   []*listener
	listeners []*listener
}

func NewSurface(bounds func() Rect) *Surface {
	return &Surface{bounds: bounds}
}

func (s *Surface) Bounds() Rect {
	if s.bounds == nil {
		return Rect{}
	}
	return s.bounds()
}

func (s *Surface) AddPointerListener(fn func(*PointerEvent)) func() {
	return s.add(&s.listeners, fn)
}

func (s *Surface) AddCaptureListener(fn func(*PointerEvent)) func() {
	return s.add(&s.capture, fn)
}

func (s *Surface) add(list *[]*listener, fn func(*PointerEvent)) func() {
	l := &listener{fn: fn}
	s.mu.Lock()
	*list = append(*list, l)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		l.removed = true
		for i, cur := range *list {
			if cur == l {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers ev to the capture listeners and then the ordinary ones,
// each in registration order, until one stops it.
func (s *Surface) Dispatch(ev *PointerEvent) {
	s.mu.Lock()
	snapshot := make([]*listener, 0, len(s.capture)+len(s.listeners))
	snapshot = append(snapshot, s.capture...)
	snapshot = append(snapshot, s.listeners...)
	s.mu.Unlock()
	for _, l := range snapshot {
		s.mu.Lock()
		removed := l.removed
		s.mu.Unlock()
		if removed {
			continue
		}
		l.fn(ev)
		if ev.stopped {
			return
		}
	}
}

const (
	DefaultThreshold = 3
	// clickGuard is how long the trailing click stays suppressed after a drag.
	clickGuard = 10 * time.Millisecond
)

type config struct {
	threshold float64
	button    int
	after     func(time.Duration, func())
}

type Option func(*config)

func WithThreshold(px float64) Option {
	return func(c *config) { c.threshold = px }
}

func WithButton(button int) Option {
	return func(c *config) { c.button = button }
}

// WithAfter replaces the timer used to release the click guard.
func WithAfter(after func(time.Duration, func())) Option {
	return func(c *config) { c.after = after }
}

type controller struct {
	mu       sync.Mutex
	target   Target
	cfg      config
	onDrag   func(dx, dy, x, y float64)
	onStart  func(x, y float64)
	onEnd    func()
	active   bool
	dragging bool
	startX   float64
	startY   float64
	guards   []func()
}

// Attach recognizes drags on target. onStart fires once when movement first
// crosses the threshold; onDrag gets the delta since the previous call and the
// position relative to the target; onEnd fires only if a drag happened. The
// click that follows a drag is swallowed. onStart and onEnd may be nil.
func Attach(target Target, onDrag func(dx, dy, x, y float64), onStart func(x, y float64), onEnd func(), opts ...Option) (detach func()) {
	c := &controller{
		target:  target,
		cfg:     config{threshold: DefaultThreshold, after: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }},
		onDrag:  onDrag,
		onStart: onStart,
		onEnd:   onEnd,
	}
	for _, opt := range opts {
		opt(&c.cfg)
	}
	remove := target.AddPointerListener(c.handle)
	return func() {
		remove()
		c.mu.Lock()
		guards := c.guards
		c.guards = nil
		c.active = false
		c.mu.Unlock()
		for _, g := range guards {
			g()
		}
	}
}

func (c *controller) handle(ev *PointerEvent) {
	switch ev.Kind {
	case PointerDown:
		c.down(ev)
	case PointerMove:
		c.move(ev)
	case PointerUp, PointerCancel, PointerLeave:
		c.up()
	}
}

func (c *controller) down(ev *PointerEvent) {
	if ev.Button != c.cfg.button {
		return
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.dragging = false
	c.startX, c.startY = ev.X, ev.Y
	c.mu.Unlock()

	guard := c.target.AddCaptureListener(func(e *PointerEvent) {
		if e.Kind != Click {
			return
		}
		c.mu.Lock()
		dragging := c.dragging
		c.mu.Unlock()
		if dragging {
			e.StopPropagation()
		}
	})
	c.mu.Lock()
	c.guards = append(c.guards, guard)
	c.mu.Unlock()
}

func (c *controller) move(ev *PointerEvent) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	dx := ev.X - c.startX
	dy := ev.Y - c.startY
	if !c.dragging && math.Abs(dx) < c.cfg.threshold && math.Abs(dy) < c.cfg.threshold {
		c.mu.Unlock()
		return
	}
	starting := !c.dragging
	startX, startY := c.startX, c.startY
	c.dragging = true
	c.startX, c.startY = ev.X, ev.Y
	c.mu.Unlock()

	rect := c.target.Bounds()
	if starting && c.onStart != nil {
		c.onStart(startX-rect.Left, startY-rect.Top)
	}
	c.onDrag(dx, dy, ev.X-rect.Left, ev.Y-rect.Top)
}

func (c *controller) up() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	dragging := c.dragging
	guards := c.guards
	c.guards = nil
	c.mu.Unlock()

	if dragging && c.onEnd != nil {
		c.onEnd()
	}
	c.cfg.after(clickGuard, func() {
		for _, g := range guards {
			g()
		}
	})
}
