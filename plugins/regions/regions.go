// Package regions adds selectable time ranges to a waveform. Regions can be
// created by dragging across the waveform, moved and resized by dragging,
// clicked to activate, and looped while active.
package regions

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/drag"
	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/render"
)

type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventUpdated
	EventClicked
	EventIn
	EventOut
	EventRemoved
)

var eventNames = map[EventKind]string{
	EventCreated: "region-created",
	EventUpdated: "region-updated",
	EventClicked: "region-clicked",
	EventIn:      "region-in",
	EventOut:     "region-out",
	EventRemoved: "region-removed",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Region *Region
}

// DefaultColor fills regions that do not name one.
const DefaultColor = "rgba(0, 0, 0, 0.1)"

// handleWidth is how close to a region edge, in pixels, a drag resizes
// instead of moving.
const handleWidth = 4

var ErrInvalidRange = errors.New("regions: end before start")

// Params describes a region. Zero Drag and Resize leave the region fixed.
type Params struct {
	ID      string
	Start   float64
	End     float64
	Color   string
	Drag    bool
	Resize  bool
	Content string
}

type Options struct {
	// Loop rewinds to the active region's start when playback crosses its end.
	Loop bool
	// LoopResume keeps playing after the rewind instead of pausing.
	LoopResume bool
	// PlayOnClick plays a region from its start when it is clicked.
	PlayOnClick bool
}

// Plugin manages the regions of one engine.
type Plugin struct {
	cardwave.BasePlugin
	opts Options

	mu        sync.Mutex
	regions   []*Region
	active    *Region
	inside    map[*Region]bool
	lastTick  float64
	selection *selection
	edit      *editState
	detach    func()
	bus       events.Bus[EventKind, Event]
}

type selection struct {
	color  string
	origin float64
	region *Region
}

type editMode int

const (
	editMove editMode = iota + 1
	editStart
	editEnd
)

type editState struct {
	region  *Region
	mode    editMode
	changed bool
}

func New(opts Options) *Plugin {
	return &Plugin{opts: opts, inside: make(map[*Region]bool)}
}

func (p *Plugin) Name() string { return "regions" }

// On subscribes to region events.
func (p *Plugin) On(kind EventKind, fn func(Event)) func() {
	return p.bus.On(kind, fn)
}

func (p *Plugin) emit(kind EventKind, r *Region) {
	p.bus.Emit(kind, Event{Kind: kind, Region: r})
}

func (p *Plugin) Init(e *cardwave.Engine) {
	p.BasePlugin.Init(e)
	surface := e.Surface()
	sched := e.Scheduler()
	detach := drag.Attach(surface, p.onDrag, p.onDragStart, p.onDragEnd,
		drag.WithAfter(func(d time.Duration, fn func()) { sched.After(d, fn) }))
	p.Track(
		detach,
		surface.AddPointerListener(p.onPointer),
		e.On(cardwave.EventTimeUpdate, func(ev cardwave.Event) { p.updateInside(ev.Time) }),
		e.On(cardwave.EventAudioProcess, func(ev cardwave.Event) { p.onTick(ev.Time) }),
		e.On(cardwave.EventSeeking, func(ev cardwave.Event) {
			p.mu.Lock()
			p.lastTick = ev.Time
			p.mu.Unlock()
		}),
		e.On(cardwave.EventInteraction, func(ev cardwave.Event) { p.onInteraction(ev.Time) }),
	)
}

// Destroy removes every region, then detaches from the engine.
func (p *Plugin) Destroy() {
	if p.Destroyed() {
		return
	}
	p.Clear()
	p.BasePlugin.Destroy()
	p.bus.UnAll()
}

// Add creates a region.
func (p *Plugin) Add(params Params) (*Region, error) {
	if params.End < params.Start {
		return nil, fmt.Errorf("%w: %v > %v", ErrInvalidRange, params.Start, params.End)
	}
	r, err := p.newRegion(params)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.regions = append(p.regions, r)
	p.mu.Unlock()
	p.emit(EventCreated, r)
	return r, nil
}

func (p *Plugin) newRegion(params Params) (*Region, error) {
	if params.Color == "" {
		params.Color = DefaultColor
	}
	c, err := render.ParseColor(params.Color)
	if err != nil {
		return nil, err
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	return &Region{
		plugin:  p,
		id:      params.ID,
		start:   math.Max(0, params.Start),
		end:     math.Max(0, params.End),
		color:   c,
		drag:    params.Drag,
		resize:  params.Resize,
		content: params.Content,
	}, nil
}

// Regions returns the regions in creation order.
func (p *Plugin) Regions() []*Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Region(nil), p.regions...)
}

// Active is the region that loops, or nil.
func (p *Plugin) Active() *Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Plugin) setActive(r *Region) {
	p.mu.Lock()
	p.active = r
	p.mu.Unlock()
}

// Remove deletes r. Removing a region twice does nothing.
func (p *Plugin) Remove(r *Region) {
	p.mu.Lock()
	idx := -1
	for i, cur := range p.regions {
		if cur == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	p.regions = append(p.regions[:idx:idx], p.regions[idx+1:]...)
	if p.active == r {
		p.active = nil
	}
	delete(p.inside, r)
	p.mu.Unlock()
	p.emit(EventRemoved, r)
}

// Clear removes every region.
func (p *Plugin) Clear() {
	for _, r := range p.Regions() {
		p.Remove(r)
	}
}

// EnableDragSelection lets a drag over empty waveform create a region of the
// given color. The returned function turns it off again.
func (p *Plugin) EnableDragSelection(colorName string) (func(), error) {
	if colorName == "" {
		colorName = DefaultColor
	}
	if _, err := render.ParseColor(colorName); err != nil {
		return nil, err
	}
	sel := &selection{color: colorName}
	p.mu.Lock()
	p.selection = sel
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		if p.selection == sel {
			p.selection = nil
		}
		p.mu.Unlock()
	}, nil
}

// timeAt converts a wrapper-relative x to seconds.
func (p *Plugin) timeAt(x float64) float64 {
	e := p.Engine()
	if e == nil {
		return 0
	}
	g := e.Geometry()
	if g.WrapperWidth <= 0 {
		return 0
	}
	d := e.Duration()
	return clamp(x/float64(g.WrapperWidth)*d, 0, math.Max(0, d))
}

// hit finds the topmost region under wrapper-relative x and which part of it
// was hit.
func (p *Plugin) hit(x float64) (*Region, editMode) {
	e := p.Engine()
	if e == nil {
		return nil, 0
	}
	g := e.Geometry()
	d := e.Duration()
	if g.WrapperWidth <= 0 || d <= 0 {
		return nil, 0
	}
	pxPerSec := float64(g.WrapperWidth) / d
	regions := p.Regions()
	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		start, end := r.Start()*pxPerSec, r.End()*pxPerSec
		if x < start-handleWidth || x > end+handleWidth {
			continue
		}
		switch {
		case math.Abs(x-start) <= handleWidth:
			return r, editStart
		case math.Abs(x-end) <= handleWidth:
			return r, editEnd
		}
		return r, editMove
	}
	return nil, 0
}

func (p *Plugin) onDragStart(x, _ float64) {
	if r, mode := p.hit(x); r != nil {
		r.mu.Lock()
		allowed := (mode == editMove && r.drag) || (mode != editMove && r.resize)
		r.mu.Unlock()
		if allowed {
			p.mu.Lock()
			p.edit = &editState{region: r, mode: mode}
			p.mu.Unlock()
		}
		return
	}
	p.mu.Lock()
	if p.selection != nil {
		p.selection.origin = p.timeAt(x)
		p.selection.region = nil
	}
	p.mu.Unlock()
}

func (p *Plugin) onDrag(dx, _, x, _ float64) {
	p.mu.Lock()
	edit := p.edit
	sel := p.selection
	p.mu.Unlock()
	if edit != nil {
		p.applyEdit(edit, dx, x)
		return
	}
	if sel == nil {
		return
	}
	t := p.timeAt(x)
	start, end := math.Min(sel.origin, t), math.Max(sel.origin, t)
	if sel.region == nil {
		r, err := p.newRegion(Params{Start: start, End: end, Color: sel.color, Drag: true, Resize: true})
		if err != nil {
			return
		}
		p.mu.Lock()
		sel.region = r
		p.regions = append(p.regions, r)
		p.mu.Unlock()
		return
	}
	sel.region.setRange(start, end)
}

func (p *Plugin) applyEdit(edit *editState, dx, x float64) {
	r := edit.region
	e := p.Engine()
	if e == nil {
		return
	}
	d := e.Duration()
	switch edit.mode {
	case editMove:
		dt := p.timeAt(math.Abs(dx))
		if dx < 0 {
			dt = -dt
		}
		start, end := r.Start(), r.End()
		length := end - start
		start = clamp(start+dt, 0, math.Max(0, d-length))
		r.setRange(start, start+length)
	case editStart:
		r.setRange(math.Min(p.timeAt(x), r.End()), r.End())
	case editEnd:
		r.setRange(r.Start(), math.Max(p.timeAt(x), r.Start()))
	}
	edit.changed = true
}

func (p *Plugin) onDragEnd() {
	p.mu.Lock()
	edit := p.edit
	p.edit = nil
	var created *Region
	if p.selection != nil {
		created = p.selection.region
		p.selection.region = nil
	}
	p.mu.Unlock()
	if edit != nil && edit.changed {
		p.emit(EventUpdated, edit.region)
	}
	if created != nil {
		p.setActive(created)
		p.emit(EventCreated, created)
	}
}

func (p *Plugin) onPointer(ev *drag.PointerEvent) {
	if ev.Kind != drag.Click {
		return
	}
	e := p.Engine()
	if e == nil {
		return
	}
	x := ev.X - e.Surface().Bounds().Left
	r, _ := p.hit(x)
	if r == nil {
		return
	}
	p.setActive(r)
	p.emit(EventClicked, r)
	if p.opts.PlayOnClick {
		ev.StopPropagation()
		if err := r.Play(); err != nil {
			return
		}
	}
}

// onInteraction drops the active region when the user seeks outside every
// region.
func (p *Plugin) onInteraction(t float64) {
	for _, r := range p.Regions() {
		if r.contains(t) {
			return
		}
	}
	p.setActive(nil)
}

func (p *Plugin) updateInside(t float64) {
	var entered, left []*Region
	p.mu.Lock()
	for _, r := range p.regions {
		in := r.contains(t) && r.Start() < r.End()
		switch {
		case in && !p.inside[r]:
			p.inside[r] = true
			entered = append(entered, r)
		case !in && p.inside[r]:
			delete(p.inside, r)
			left = append(left, r)
		}
	}
	p.mu.Unlock()
	for _, r := range left {
		p.emit(EventOut, r)
	}
	for _, r := range entered {
		p.emit(EventIn, r)
	}
}

// onTick loops the active region once playback crosses its end.
func (p *Plugin) onTick(t float64) {
	p.mu.Lock()
	last := p.lastTick
	p.lastTick = t
	active := p.active
	p.mu.Unlock()
	if !p.opts.Loop || active == nil {
		return
	}
	end := active.End()
	if last >= end || t < end {
		return
	}
	e := p.Engine()
	if e == nil {
		return
	}
	if !p.opts.LoopResume {
		e.Pause()
	}
	e.SetTime(active.Start())
}

// DrawOverlay shades every region inside the visible waveform.
func (p *Plugin) DrawOverlay(dst *image.RGBA, v cardwave.View) error {
	if v.Duration <= 0 || v.WrapperWidth <= 0 {
		return nil
	}
	pxPerSec := float64(v.WrapperWidth) / v.Duration
	for _, r := range p.Regions() {
		r.mu.Lock()
		start, end, c := r.start, r.end, r.color
		r.mu.Unlock()
		x0 := v.Bounds.Min.X + int(math.Round(start*pxPerSec-v.ScrollLeft))
		x1 := v.Bounds.Min.X + int(math.Round(end*pxPerSec-v.ScrollLeft))
		if x1-x0 < 2 {
			x1 = x0 + 2
		}
		area := image.Rect(x0, v.Bounds.Min.Y, x1, v.Bounds.Max.Y).Intersect(v.Bounds)
		if area.Empty() {
			continue
		}
		draw.Draw(dst, area, image.NewUniform(c), image.Point{}, draw.Over)
	}
	return nil
}

// Region is a time range on the waveform. Start never exceeds End; a region
// with Start == End marks a single point.
type Region struct {
	plugin *Plugin

	mu      sync.Mutex
	id      string
	start   float64
	end     float64
	color   color.NRGBA
	drag    bool
	resize  bool
	content string
}

func (r *Region) ID() string { return r.id }

func (r *Region) Start() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start
}

func (r *Region) End() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.end
}

func (r *Region) Color() color.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.color
}

func (r *Region) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

func (r *Region) contains(t float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t >= r.start && t <= r.end
}

func (r *Region) setRange(start, end float64) {
	r.mu.Lock()
	r.start, r.end = start, end
	r.mu.Unlock()
}

// SetOptions updates the region from params. The ID is kept; empty Color
// keeps the current color.
func (r *Region) SetOptions(params Params) error {
	if params.End < params.Start {
		return fmt.Errorf("%w: %v > %v", ErrInvalidRange, params.Start, params.End)
	}
	r.mu.Lock()
	c := r.color
	r.mu.Unlock()
	if params.Color != "" {
		var err error
		if c, err = render.ParseColor(params.Color); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.start = math.Max(0, params.Start)
	r.end = math.Max(0, params.End)
	r.color = c
	r.drag = params.Drag
	r.resize = params.Resize
	r.content = params.Content
	r.mu.Unlock()
	r.plugin.emit(EventUpdated, r)
	return nil
}

// Play makes r active and plays from its start.
func (r *Region) Play() error {
	e := r.plugin.Engine()
	if e == nil {
		return errors.New("regions: plugin not initialized")
	}
	r.plugin.setActive(r)
	e.SetTime(r.Start())
	return e.Play()
}

func (r *Region) Remove() { r.plugin.Remove(r) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
