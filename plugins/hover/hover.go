// Package hover draws a vertical line and a time label under the pointer.
package hover

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/drag"
	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/render"
)

type Options struct {
	LineColor       string
	LineWidth       int
	LabelColor      string
	LabelBackground string
}

func DefaultOptions() Options {
	return Options{
		LineColor:       "#333",
		LineWidth:       1,
		LabelColor:      "#fff",
		LabelBackground: "#000",
	}
}

// Event reports the pointer position as a fraction of the waveform and in
// seconds.
type Event struct {
	RelX float64
	Time float64
}

type hoverKey struct{}

type Plugin struct {
	cardwave.BasePlugin

	line, text, background color.NRGBA
	lineWidth              int

	mu      sync.Mutex
	visible bool
	relX    float64
	bus     events.Bus[hoverKey, Event]
}

func New(opts Options) (*Plugin, error) {
	def := DefaultOptions()
	if opts.LineColor == "" {
		opts.LineColor = def.LineColor
	}
	if opts.LabelColor == "" {
		opts.LabelColor = def.LabelColor
	}
	if opts.LabelBackground == "" {
		opts.LabelBackground = def.LabelBackground
	}
	if opts.LineWidth <= 0 {
		opts.LineWidth = def.LineWidth
	}
	p := &Plugin{lineWidth: opts.LineWidth}
	var err error
	if p.line, err = render.ParseColor(opts.LineColor); err != nil {
		return nil, err
	}
	if p.text, err = render.ParseColor(opts.LabelColor); err != nil {
		return nil, err
	}
	if p.background, err = render.ParseColor(opts.LabelBackground); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) Name() string { return "hover" }

// On subscribes to pointer movement over the waveform.
func (p *Plugin) On(fn func(Event)) func() {
	return p.bus.On(hoverKey{}, fn)
}

func (p *Plugin) Init(e *cardwave.Engine) {
	p.BasePlugin.Init(e)
	surface := e.Surface()
	p.Track(surface.AddPointerListener(func(ev *drag.PointerEvent) {
		switch ev.Kind {
		case drag.PointerMove:
			p.move(surface.Bounds(), ev.X)
		case drag.PointerLeave, drag.PointerCancel:
			p.mu.Lock()
			p.visible = false
			p.mu.Unlock()
		}
	}))
}

func (p *Plugin) Destroy() {
	p.BasePlugin.Destroy()
	p.bus.UnAll()
}

func (p *Plugin) move(rect drag.Rect, x float64) {
	if rect.Width <= 0 {
		return
	}
	rel := math.Max(0, math.Min(1, (x-rect.Left)/rect.Width))
	p.mu.Lock()
	p.visible = true
	p.relX = rel
	p.mu.Unlock()
	var d float64
	if e := p.Engine(); e != nil {
		d = e.Duration()
	}
	p.bus.Emit(hoverKey{}, Event{RelX: rel, Time: rel * d})
}

// Position reports the last hover position and whether the line is shown.
func (p *Plugin) Position() (relX float64, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relX, p.visible
}

// FormatTime renders seconds as m:ss.mmm.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, ms/1000%60, ms%1000)
}

func (p *Plugin) DrawOverlay(dst *image.RGBA, v cardwave.View) error {
	rel, visible := p.Position()
	if !visible || v.WrapperWidth <= 0 {
		return nil
	}
	x := v.Bounds.Min.X + int(math.Round(rel*float64(v.WrapperWidth)-v.ScrollLeft))
	line := image.Rect(x, v.Bounds.Min.Y, x+p.lineWidth, v.Bounds.Max.Y).Intersect(v.Bounds)
	if line.Empty() {
		return nil
	}
	draw.Draw(dst, line, image.NewUniform(p.line), image.Point{}, draw.Over)

	face := basicfont.Face7x13
	label := FormatTime(rel * v.Duration)
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(p.text), Face: face}
	w := d.MeasureString(label).Ceil() + 4
	h := face.Height + 2
	left := line.Max.X
	if left+w > v.Bounds.Max.X {
		left = line.Min.X - w
	}
	box := image.Rect(left, v.Bounds.Min.Y, left+w, v.Bounds.Min.Y+h).Intersect(v.Bounds)
	draw.Draw(dst, box, image.NewUniform(p.background), image.Point{}, draw.Over)
	d.Dot = fixed.P(left+2, v.Bounds.Min.Y+face.Ascent+1)
	d.DrawString(label)
	return nil
}
