package render

import (
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/cbegin/cardwave-go/internal/decoder"
	"github.com/cbegin/cardwave-go/internal/drag"
	"github.com/cbegin/cardwave-go/internal/events"
)

type EventKind int

const (
	EventClick EventKind = iota + 1
	EventDblClick
	EventDrag
	EventDragStart
	EventDragEnd
	EventScroll
	EventRender
)

// Event carries renderer notifications. Click positions are fractions of the
// waveform size; scroll bounds are fractions of the scroll width.
type Event struct {
	Kind   EventKind
	RelX   float64
	RelY   float64
	StartX float64
	EndX   float64
}

const (
	tileDelay   = 10 * time.Millisecond
	resizeDelay = 100 * time.Millisecond
	dragMargin  = 30
	centerStep  = 10
)

type Options struct {
	// Height of one channel row in CSS pixels.
	Height        int
	WaveColor     Paint
	ProgressColor Paint
	CursorColor   color.NRGBA
	CursorWidth   float64
	// BarWidth and BarGap switch drawing to bars when either is set. A nil
	// BarGap means half the bar width.
	BarWidth  float64
	BarGap    *float64
	BarRadius float64
	// BarHeight scales amplitude; 0 means 1.
	BarHeight     float64
	BarAlign      string
	MinPxPerSec   float64
	FillParent    bool
	AutoScroll    bool
	AutoCenter    bool
	DragToSeek    bool
	Normalize     bool
	SplitChannels bool
	PixelRatio    float64
}

func (o Options) withDefaults() Options {
	if o.Height <= 0 {
		o.Height = 128
	}
	if o.PixelRatio <= 0 {
		o.PixelRatio = 1
	}
	return o
}

// Tile is one rendered slice of a channel row.
type Tile struct {
	// Left is the CSS offset from the waveform's left edge.
	Left int
	// Width and Height are device pixels.
	Width    int
	Height   int
	Start    int
	End      int
	Wave     *image.RGBA
	Progress *image.RGBA
}

// Layer is one channel row.
type Layer struct {
	Top    int
	Height int
	Tiles  []*Tile
}

// Geometry is a snapshot of the viewport state in CSS pixels.
type Geometry struct {
	ContainerWidth  int
	ContainerHeight int
	WrapperWidth    int
	ScrollWidth     int
	ScrollLeft      float64
	IsScrollable    bool
	Progress        float64
	Duration        float64
	Height          int
	PixelRatio      float64
}

// Renderer turns decoded audio into tiled waveform images and tracks the
// scroll and progress state of the view.
type Renderer struct {
	mu           sync.Mutex
	opts         Options
	sched        Scheduler
	audio        *decoder.Audio
	containerW   int
	containerH   int
	lastWidth    int
	wrapperWidth int
	isScrollable bool
	scrollLeft   float64
	progress     float64
	dragging     bool
	layers       []*Layer
	gen          uint64
	pending      []*debouncer
	resize       *debouncer
	surface      *drag.Surface
	detachDrag   func()
	destroyed    bool
	bus          events.Bus[EventKind, Event]
}

func New(opts Options, sched Scheduler) *Renderer {
	if sched == nil {
		sched = TimerScheduler{}
	}
	r := &Renderer{
		opts:  opts.withDefaults(),
		sched: sched,
	}
	r.resize = &debouncer{sched: sched, delay: resizeDelay}
	r.surface = drag.NewSurface(r.wrapperRect)
	r.applyDragOption()
	return r
}

func (r *Renderer) On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func() {
	return r.bus.On(kind, fn, opts...)
}

// Surface is the pointer target covering the waveform.
func (r *Renderer) Surface() *drag.Surface { return r.surface }

func (r *Renderer) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

// SetOptions replaces the options and re-renders.
func (r *Renderer) SetOptions(opts Options) {
	r.mu.Lock()
	r.opts = opts.withDefaults()
	r.mu.Unlock()
	r.applyDragOption()
	r.ReRender()
}

func (r *Renderer) applyDragOption() {
	r.mu.Lock()
	want := r.opts.DragToSeek && !r.destroyed
	have := r.detachDrag != nil
	r.mu.Unlock()
	switch {
	case want && !have:
		detach := drag.Attach(r.surface,
			func(_, _, x, _ float64) {
				rect := r.wrapperRect()
				rel := 0.0
				if rect.Width > 0 {
					rel = clampf(x/rect.Width, 0, 1)
				}
				r.bus.Emit(EventDrag, Event{Kind: EventDrag, RelX: rel})
			},
			func(x, _ float64) {
				r.mu.Lock()
				r.dragging = true
				r.mu.Unlock()
				r.bus.Emit(EventDragStart, Event{Kind: EventDragStart})
			},
			func() {
				r.mu.Lock()
				r.dragging = false
				r.mu.Unlock()
				r.bus.Emit(EventDragEnd, Event{Kind: EventDragEnd})
			},
		)
		r.mu.Lock()
		r.detachDrag = detach
		r.mu.Unlock()
	case !want && have:
		r.mu.Lock()
		detach := r.detachDrag
		r.detachDrag = nil
		r.mu.Unlock()
		detach()
	}
}

func (r *Renderer) wrapperRect() drag.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return drag.Rect{
		Left:   -r.scrollLeft,
		Width:  float64(r.wrapperWidth),
		Height: float64(r.totalHeightLocked()),
	}
}

func (r *Renderer) totalHeightLocked() int {
	rows := 1
	if r.opts.SplitChannels && r.audio != nil && r.audio.NumberOfChannels() > 1 {
		rows = r.audio.NumberOfChannels()
	}
	return rows * r.opts.Height
}

// scrollWidthLocked mirrors a scroll container: never narrower than the
// container itself.
func (r *Renderer) scrollWidthLocked() int {
	if r.wrapperWidth > r.containerW {
		return r.wrapperWidth
	}
	return r.containerW
}

func (r *Renderer) clampScrollLocked() {
	limit := float64(r.scrollWidthLocked() - r.containerW)
	r.scrollLeft = clampf(r.scrollLeft, 0, math.Max(0, limit))
}

func (r *Renderer) Geometry() Geometry {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := Geometry{
		ContainerWidth:  r.containerW,
		ContainerHeight: r.containerH,
		WrapperWidth:    r.wrapperWidth,
		ScrollWidth:     r.scrollWidthLocked(),
		ScrollLeft:      r.scrollLeft,
		IsScrollable:    r.isScrollable,
		Progress:        r.progress,
		Height:          r.totalHeightLocked(),
		PixelRatio:      r.opts.PixelRatio,
	}
	if r.audio != nil {
		g.Duration = r.audio.Duration()
	}
	return g
}

// Layers returns the rows rendered so far. Tiles are never modified once
// published.
func (r *Renderer) Layers() []Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Layer, len(r.layers))
	for i, l := range r.layers {
		out[i] = Layer{Top: l.Top, Height: l.Height, Tiles: append([]*Tile(nil), l.Tiles...)}
	}
	return out
}

// Resize records the container size. A width change schedules a debounced
// re-render.
func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containerW = width
	r.containerH = height
	if width == r.lastWidth || r.destroyed {
		return
	}
	r.lastWidth = width
	r.resize.call(r.ReRender)
}

// Render starts a new pass for audio, cancelling tile work of the previous
// pass.
func (r *Renderer) Render(audio *decoder.Audio) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.renderLocked(audio)
	r.mu.Unlock()
	r.bus.Emit(EventRender, Event{Kind: EventRender})
}

// ReRender redraws the current audio, keeping the cursor at the same place on
// screen when the scroll width changes.
func (r *Renderer) ReRender() {
	r.mu.Lock()
	if r.audio == nil || r.destroyed {
		r.mu.Unlock()
		return
	}
	oldScrollWidth := r.scrollWidthLocked()
	oldCursor := math.Round(r.progress * float64(r.wrapperWidth))
	r.renderLocked(r.audio)
	if r.isScrollable && oldScrollWidth != r.scrollWidthLocked() {
		newCursor := math.Round(r.progress * float64(r.wrapperWidth))
		r.scrollLeft += newCursor - oldCursor
		r.clampScrollLocked()
	}
	r.mu.Unlock()
	r.bus.Emit(EventRender, Event{Kind: EventRender})
}

// Zoom re-renders at a new horizontal scale.
func (r *Renderer) Zoom(minPxPerSec float64) {
	r.mu.Lock()
	r.opts.MinPxPerSec = minPxPerSec
	r.mu.Unlock()
	r.ReRender()
}

func (r *Renderer) cancelPendingLocked() {
	for _, d := range r.pending {
		d.cancel()
	}
	r.pending = nil
	r.gen++
}

func (r *Renderer) renderLocked(audio *decoder.Audio) {
	r.cancelPendingLocked()
	r.audio = audio
	r.layers = nil
	if audio == nil {
		r.wrapperWidth = 0
		r.isScrollable = false
		r.scrollLeft = 0
		return
	}
	lay := ComputeLayout(audio.Duration(), r.opts.MinPxPerSec, r.containerW, r.opts.FillParent)
	r.isScrollable = lay.IsScrollable
	r.wrapperWidth = lay.Width
	r.clampScrollLocked()

	width := float64(lay.Width) * r.opts.PixelRatio
	st := waveStyle{
		barWidth:   r.opts.BarWidth,
		barGap:     r.opts.BarGap,
		barRadius:  r.opts.BarRadius,
		barAlign:   r.opts.BarAlign,
		pixelRatio: r.opts.PixelRatio,
		vScale:     r.vScaleLocked(audio),
		paint:      r.opts.WaveColor,
	}
	if r.opts.SplitChannels && audio.NumberOfChannels() > 1 {
		for i := 0; i < audio.NumberOfChannels(); i++ {
			r.renderChannelLocked(i, [][]float32{audio.ChannelData(i)}, width, st)
		}
		return
	}
	r.renderChannelLocked(0, [][]float32{audio.ChannelData(0), audio.ChannelData(1)}, width, st)
}

func (r *Renderer) vScaleLocked(audio *decoder.Audio) float64 {
	scale := r.opts.BarHeight
	if scale == 0 {
		scale = 1
	}
	if r.opts.Normalize {
		peak := 0.0
		for _, v := range audio.ChannelData(0) {
			if a := math.Abs(float64(v)); a > peak {
				peak = a
			}
		}
		if peak > 0 {
			scale = 1 / peak
		}
	}
	return scale
}

// renderChannelLocked draws the viewport tile right away, then walks outward
// one tile at a time toward both ends on the scheduler.
func (r *Renderer) renderChannelLocked(row int, channels [][]float32, width float64, st waveStyle) {
	layer := &Layer{Top: row * r.opts.Height, Height: r.opts.Height}
	r.layers = append(r.layers, layer)

	n := len(channels[0])
	scrollWidth := r.scrollWidthLocked()
	if n == 0 || width <= 0 || scrollWidth <= 0 {
		return
	}
	gen := r.gen
	draw := func(from, to int) {
		from = max(0, from)
		to = min(to, n)
		if from >= to {
			return
		}
		if t := r.paintTile(channels, st, width, from, to, n); t != nil {
			layer.Tiles = append(layer.Tiles, t)
		}
	}

	vw := viewportWidth(r.containerW, r.opts.BarWidth, r.opts.BarGap)
	scale := float64(n) / float64(scrollWidth)
	start := int(math.Floor(math.Abs(r.scrollLeft) * scale))
	end := int(math.Floor(float64(start) + vw*scale))
	span := end - start
	if span <= 0 {
		draw(0, n)
		return
	}

	head := &debouncer{sched: r.sched, delay: tileDelay}
	tail := &debouncer{sched: r.sched, delay: tileDelay}
	r.pending = append(r.pending, head, tail)

	var renderHead, renderTail func(from, to int)
	renderHead = func(from, to int) {
		draw(from, to)
		if from > 0 {
			head.call(func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				if r.gen == gen {
					renderHead(from-span, from)
				}
			})
		}
	}
	renderTail = func(from, to int) {
		draw(from, to)
		if to < n {
			tail.call(func() {
				r.mu.Lock()
				defer r.mu.Unlock()
				if r.gen == gen {
					renderTail(to, to+span)
				}
			})
		}
	}
	renderHead(start, end)
	if end < n {
		renderTail(end, end+span)
	}
}

func (r *Renderer) paintTile(channels [][]float32, st waveStyle, width float64, start, end, n int) *Tile {
	pr := r.opts.PixelRatio
	w := int(math.Round(width * float64(end-start) / float64(n)))
	h := int(math.Round(float64(r.opts.Height) * pr))
	if w <= 0 || h <= 0 {
		return nil
	}
	sliced := make([][]float32, len(channels))
	for i, ch := range channels {
		if ch == nil {
			continue
		}
		sliced[i] = ch[min(start, len(ch)):min(end, len(ch))]
	}
	wave := image.NewRGBA(image.Rect(0, 0, w, h))
	paintWave(wave, sliced, st)
	return &Tile{
		Left:     int(math.Floor(float64(start) * width / pr / float64(n))),
		Width:    w,
		Height:   h,
		Start:    start,
		End:      end,
		Wave:     wave,
		Progress: progressTwin(wave, r.opts.ProgressColor),
	}
}

// RenderProgress moves the progress boundary and cursor. It does no drawing.
func (r *Renderer) RenderProgress(progress float64, playing bool) {
	if math.IsNaN(progress) {
		return
	}
	r.mu.Lock()
	r.progress = progress
	var ev *Event
	if r.isScrollable && r.opts.AutoScroll {
		ev = r.scrollIntoViewLocked(progress, playing)
	}
	r.mu.Unlock()
	if ev != nil {
		r.bus.Emit(EventScroll, *ev)
	}
}

func (r *Renderer) scrollIntoViewLocked(progress float64, playing bool) *Event {
	scrollWidth := float64(r.scrollWidthLocked())
	clientWidth := float64(r.containerW)
	scrollLeft := r.scrollLeft
	progressWidth := progress * scrollWidth
	startEdge := scrollLeft
	endEdge := scrollLeft + clientWidth
	middle := clientWidth / 2

	if r.dragging {
		if progressWidth+dragMargin > endEdge {
			r.scrollLeft += dragMargin
		} else if progressWidth-dragMargin < startEdge {
			r.scrollLeft -= dragMargin
		}
	} else {
		if progressWidth < startEdge || progressWidth > endEdge {
			offset := 0.0
			if r.opts.AutoCenter {
				offset = middle
			}
			r.scrollLeft = progressWidth - offset
		}
		center := progressWidth - scrollLeft - middle
		if playing && r.opts.AutoCenter && center > 0 {
			r.scrollLeft += math.Min(center, centerStep)
		}
	}
	r.clampScrollLocked()
	if r.scrollLeft == scrollLeft {
		return nil
	}
	return r.scrollEventLocked()
}

func (r *Renderer) scrollEventLocked() *Event {
	sw := float64(r.scrollWidthLocked())
	if sw <= 0 {
		return &Event{Kind: EventScroll}
	}
	return &Event{
		Kind:   EventScroll,
		StartX: r.scrollLeft / sw,
		EndX:   (r.scrollLeft + float64(r.containerW)) / sw,
	}
}

// SetScroll scrolls the view to px, as a user scroll would.
func (r *Renderer) SetScroll(px float64) {
	r.mu.Lock()
	r.scrollLeft = px
	r.clampScrollLocked()
	ev := r.scrollEventLocked()
	r.mu.Unlock()
	r.bus.Emit(EventScroll, *ev)
}

// HandlePointer routes host pointer input. Listeners on the surface see it
// first and may stop it; unstopped clicks become click events.
func (r *Renderer) HandlePointer(ev drag.PointerEvent) {
	e := ev
	r.surface.Dispatch(&e)
	if e.Stopped() {
		return
	}
	var kind EventKind
	switch e.Kind {
	case drag.Click:
		kind = EventClick
	case drag.DblClick:
		kind = EventDblClick
	default:
		return
	}
	relX, relY := r.clickPosition(e.X)
	r.bus.Emit(kind, Event{Kind: kind, RelX: relX, RelY: relY})
}

// clickPosition returns the click as fractions of the waveform box. The
// vertical fraction is derived from the horizontal offset, matching the
// long-standing behaviour callers depend on.
func (r *Renderer) clickPosition(clientX float64) (float64, float64) {
	rect := r.wrapperRect()
	x := clientX - rect.Left
	y := clientX - rect.Left
	var relX, relY float64
	if rect.Width > 0 {
		relX = x / rect.Width
	}
	if rect.Height > 0 {
		relY = y / rect.Height
	}
	return relX, relY
}

func (r *Renderer) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.cancelPendingLocked()
	r.resize.cancel()
	r.layers = nil
	r.audio = nil
	detach := r.detachDrag
	r.detachDrag = nil
	r.mu.Unlock()
	if detach != nil {
		detach()
	}
	r.bus.UnAll()
}
