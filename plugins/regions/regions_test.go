package regions

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/clock"
	"github.com/cbegin/cardwave-go/internal/mediatest"
)

type harness struct {
	engine  *cardwave.Engine
	backend *mediatest.Backend
	frames  *clock.FrameQueue
	plugin  *Plugin
	events  []Event
}

// newHarness loads ten seconds drawn 100 px wide, so one pixel is 0.1 s.
func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{backend: mediatest.NewBackend(), frames: &clock.FrameQueue{}}
	e, err := cardwave.New(cardwave.DefaultOptions(),
		cardwave.WithBackend(h.backend),
		cardwave.WithTileScheduler(&mediatest.Scheduler{}),
		cardwave.WithFrameScheduler(h.frames))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Destroy)
	e.Resize(100, 128)
	if err := e.Load(context.Background(), "", [][]float32{make([]float32, 100)}, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	h.engine = e
	h.plugin = New(opts)
	if err := e.RegisterPlugin(h.plugin); err != nil {
		t.Fatalf("RegisterPlugin: %v", err)
	}
	for k := range eventNames {
		h.plugin.On(k, func(ev Event) { h.events = append(h.events, ev) })
	}
	return h
}

func (h *harness) count(kind EventKind) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) pointer(ev cardwave.PointerEvent) {
	h.engine.HandlePointer(ev)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func (h *harness) drag(from, to float64) {
	h.pointer(cardwave.PointerEvent{Kind: cardwave.PointerDown, X: from})
	h.pointer(cardwave.PointerEvent{Kind: cardwave.PointerMove, X: to})
	h.pointer(cardwave.PointerEvent{Kind: cardwave.PointerUp, X: to})
}

func TestAddRemoveClear(t *testing.T) {
	h := newHarness(t, Options{})
	a, err := h.plugin.Add(Params{Start: 1, End: 2})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b, err := h.plugin.Add(Params{ID: "fixed", Start: 3, End: 3, Color: "blue"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID() == "" || b.ID() != "fixed" {
		t.Fatalf("ids = %q, %q", a.ID(), b.ID())
	}
	if _, err := h.plugin.Add(Params{Start: 5, End: 4}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v, want ErrInvalidRange", err)
	}
	if _, err := h.plugin.Add(Params{Start: 1, End: 2, Color: "nope"}); err == nil {
		t.Fatal("expected color error")
	}
	if got := len(h.plugin.Regions()); got != 2 || h.count(EventCreated) != 2 {
		t.Fatalf("regions = %d, created = %d", got, h.count(EventCreated))
	}

	a.Remove()
	a.Remove()
	if h.count(EventRemoved) != 1 || len(h.plugin.Regions()) != 1 {
		t.Fatalf("removed = %d", h.count(EventRemoved))
	}
	h.plugin.Clear()
	if len(h.plugin.Regions()) != 0 || h.count(EventRemoved) != 2 {
		t.Fatalf("after clear: %d regions, %d removed", len(h.plugin.Regions()), h.count(EventRemoved))
	}
}

func TestSetOptions(t *testing.T) {
	h := newHarness(t, Options{})
	r, _ := h.plugin.Add(Params{Start: 1, End: 2, Color: "red"})
	if err := r.SetOptions(Params{Start: 2, End: 5, Content: "verb"}); err != nil {
		t.Fatalf("SetOptions: %v", err)
	}
	if r.Start() != 2 || r.End() != 5 || r.Content() != "verb" {
		t.Fatalf("region = %v..%v %q", r.Start(), r.End(), r.Content())
	}
	if r.Color() != (color.NRGBA{255, 0, 0, 255}) {
		t.Fatalf("color changed to %v", r.Color())
	}
	if err := r.SetOptions(Params{Start: 3, End: 1}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v", err)
	}
	if h.count(EventUpdated) != 1 {
		t.Fatalf("updated = %d, want 1", h.count(EventUpdated))
	}
}

func TestDragSelectionOrdersBounds(t *testing.T) {
	h := newHarness(t, Options{})
	disable, err := h.plugin.EnableDragSelection("")
	if err != nil {
		t.Fatalf("EnableDragSelection: %v", err)
	}
	h.drag(60, 20)
	regions := h.plugin.Regions()
	if len(regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(regions))
	}
	r := regions[0]
	if !near(r.Start(), 2) || !near(r.End(), 6) {
		t.Fatalf("region = %v..%v, want 2..6", r.Start(), r.End())
	}
	if h.count(EventCreated) != 1 || h.plugin.Active() != r {
		t.Fatalf("created = %d, active = %v", h.count(EventCreated), h.plugin.Active())
	}

	disable()
	h.drag(80, 95)
	if len(h.plugin.Regions()) != 1 {
		t.Fatal("drag created a region after selection was disabled")
	}
}

func TestClickAfterDragSelectionIsSwallowed(t *testing.T) {
	h := newHarness(t, Options{PlayOnClick: true})
	if _, err := h.plugin.EnableDragSelection(""); err != nil {
		t.Fatalf("EnableDragSelection: %v", err)
	}
	h.drag(20, 60)
	h.pointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 60})
	if n := h.count(EventClicked); n != 0 {
		t.Fatalf("clicked = %d, want 0", n)
	}
	if h.backend.IsPlaying() {
		t.Fatal("trailing click started playback")
	}
}

func TestDragMovesRegion(t *testing.T) {
	h := newHarness(t, Options{})
	r, _ := h.plugin.Add(Params{Start: 2, End: 4, Drag: true})
	h.drag(30, 50)
	if !near(r.Start(), 4) || !near(r.End(), 6) {
		t.Fatalf("region = %v..%v, want 4..6", r.Start(), r.End())
	}
	if h.count(EventUpdated) != 1 {
		t.Fatalf("updated = %d, want 1", h.count(EventUpdated))
	}
}

func TestDragResizesEnd(t *testing.T) {
	h := newHarness(t, Options{})
	r, _ := h.plugin.Add(Params{Start: 2, End: 4, Resize: true})
	h.drag(40, 70)
	if r.Start() != 2 || !near(r.End(), 7) {
		t.Fatalf("region = %v..%v, want 2..7", r.Start(), r.End())
	}
}

func TestFixedRegionIgnoresDrag(t *testing.T) {
	h := newHarness(t, Options{})
	r, _ := h.plugin.Add(Params{Start: 2, End: 4})
	h.drag(30, 50)
	if r.Start() != 2 || r.End() != 4 || h.count(EventUpdated) != 0 {
		t.Fatalf("fixed region moved to %v..%v", r.Start(), r.End())
	}
}

func TestClickActivatesAndOutsideInteractionClears(t *testing.T) {
	h := newHarness(t, Options{})
	r, _ := h.plugin.Add(Params{Start: 2, End: 4})
	h.pointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 30})
	if h.count(EventClicked) != 1 || h.plugin.Active() != r {
		t.Fatalf("clicked = %d, active = %v", h.count(EventClicked), h.plugin.Active())
	}
	if !near(h.backend.CurrentTime(), 3) {
		t.Fatalf("time = %v, want 3", h.backend.CurrentTime())
	}
	h.pointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 80})
	if h.plugin.Active() != nil {
		t.Fatal("active region survived an outside click")
	}
}

func TestPlayOnClickStartsAtRegionStart(t *testing.T) {
	h := newHarness(t, Options{PlayOnClick: true})
	h.plugin.Add(Params{Start: 2, End: 4})
	h.pointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 35})
	if !h.engine.IsPlaying() || h.backend.CurrentTime() != 2 {
		t.Fatalf("playing = %v at %v, want playing at 2", h.engine.IsPlaying(), h.backend.CurrentTime())
	}
}

func TestLoopRewindsActiveRegion(t *testing.T) {
	h := newHarness(t, Options{Loop: true})
	r, _ := h.plugin.Add(Params{Start: 2, End: 4})
	if err := r.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	h.backend.SetCurrentTime(3.9)
	h.frames.RunFrame()
	if !h.engine.IsPlaying() {
		t.Fatal("paused before the region end")
	}
	h.backend.SetCurrentTime(4.05)
	h.frames.RunFrame()
	if h.engine.IsPlaying() || h.backend.CurrentTime() != 2 {
		t.Fatalf("playing = %v at %v, want paused at 2", h.engine.IsPlaying(), h.backend.CurrentTime())
	}
}

func TestLoopResumeKeepsPlaying(t *testing.T) {
	h := newHarness(t, Options{Loop: true, LoopResume: true})
	r, _ := h.plugin.Add(Params{Start: 2, End: 4})
	r.Play()
	h.backend.SetCurrentTime(4.2)
	h.frames.RunFrame()
	if !h.engine.IsPlaying() || h.backend.CurrentTime() != 2 {
		t.Fatalf("playing = %v at %v, want playing at 2", h.engine.IsPlaying(), h.backend.CurrentTime())
	}
}

func TestInactiveRegionNeverLoops(t *testing.T) {
	h := newHarness(t, Options{Loop: true})
	h.plugin.Add(Params{Start: 2, End: 4})
	h.engine.SetTime(3)
	h.engine.Play()
	h.backend.SetCurrentTime(4.5)
	h.frames.RunFrame()
	if !h.engine.IsPlaying() || h.backend.CurrentTime() != 4.5 {
		t.Fatalf("playing = %v at %v", h.engine.IsPlaying(), h.backend.CurrentTime())
	}
}

func TestInAndOutEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.plugin.Add(Params{Start: 2, End: 4})
	h.engine.SetTime(3)
	h.engine.SetTime(3.5)
	h.engine.SetTime(6)
	if h.count(EventIn) != 1 || h.count(EventOut) != 1 {
		t.Fatalf("in = %d, out = %d", h.count(EventIn), h.count(EventOut))
	}
}

func TestDrawOverlayShadesRegion(t *testing.T) {
	h := newHarness(t, Options{})
	h.plugin.Add(Params{Start: 2, End: 4, Color: "red"})
	dst := image.NewRGBA(image.Rect(0, 0, 100, 128))
	v := cardwave.View{Geometry: h.engine.Geometry(), Bounds: dst.Bounds()}
	if err := h.plugin.DrawOverlay(dst, v); err != nil {
		t.Fatalf("DrawOverlay: %v", err)
	}
	if got := dst.RGBAAt(30, 10); got != (color.RGBA{255, 0, 0, 255}) {
		t.Fatalf("inside = %v", got)
	}
	for _, x := range []int{10, 50} {
		if got := dst.RGBAAt(x, 10); got.A != 0 {
			t.Fatalf("pixel %d = %v, want transparent", x, got)
		}
	}
}

func TestDestroyRemovesRegions(t *testing.T) {
	h := newHarness(t, Options{})
	h.plugin.Add(Params{Start: 2, End: 4})
	h.plugin.Destroy()
	if len(h.plugin.Regions()) != 0 {
		t.Fatal("regions survived destroy")
	}
	if len(h.engine.ActivePlugins()) != 0 {
		t.Fatal("plugin still registered")
	}
	h.pointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 30})
	if h.count(EventClicked) != 0 {
		t.Fatal("destroyed plugin handled a click")
	}
}
