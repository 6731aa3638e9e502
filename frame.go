package cardwave

import (
	"image"

	"github.com/cbegin/cardwave-go/internal/drag"
)

// PointerEvent is host pointer input for HandlePointer.
type PointerEvent = drag.PointerEvent

const (
	PointerDown   = drag.PointerDown
	PointerMove   = drag.PointerMove
	PointerUp     = drag.PointerUp
	PointerCancel = drag.PointerCancel
	PointerLeave  = drag.PointerLeave
	Click         = drag.Click
	DblClick      = drag.DblClick
)

// HandlePointer feeds pointer input in frame coordinates, with the
// waveform's left edge at x = 0.
func (e *Engine) HandlePointer(ev PointerEvent) {
	e.renderer.HandlePointer(ev)
}

// FrameSize is the size DrawFrame fills: the waveform rows plus every band.
func (e *Engine) FrameSize() (width, height int) {
	g := e.renderer.Geometry()
	height = g.Height
	for _, p := range e.ActivePlugins() {
		if b, ok := p.(Band); ok && !e.PluginDisabled(p) {
			height += b.BandHeight()
		}
	}
	return g.ContainerWidth, height
}

// DrawFrame composes the visible waveform into dst at its origin, then the
// plugin overlays on top and plugin bands below it.
func (e *Engine) DrawFrame(dst *image.RGBA) {
	g := e.renderer.Geometry()
	b := dst.Bounds()
	wave := image.Rect(b.Min.X, b.Min.Y, b.Min.X+g.ContainerWidth, b.Min.Y+g.Height).Intersect(b)
	if !wave.Empty() {
		e.renderer.Compose(dst.SubImage(wave).(*image.RGBA))
	}

	plugins := e.ActivePlugins()
	view := View{Geometry: g, Bounds: wave}
	for _, p := range plugins {
		if o, ok := p.(Overlay); ok {
			e.drawPlugin(p, func() error { return o.DrawOverlay(dst, view) })
		}
	}
	y := b.Min.Y + g.Height
	for _, p := range plugins {
		band, ok := p.(Band)
		if !ok || e.PluginDisabled(p) {
			continue
		}
		h := band.BandHeight()
		area := image.Rect(b.Min.X, y, b.Min.X+g.ContainerWidth, y+h).Intersect(b)
		y += h
		if area.Empty() {
			continue
		}
		e.drawPlugin(p, func() error { return band.DrawBand(dst, View{Geometry: g, Bounds: area}) })
	}
}
