package render

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Compose draws the visible part of the waveform into dst at its origin: the
// progress twin left of the progress boundary, the plain wave right of it and
// the cursor on top.
func (r *Renderer) Compose(dst *image.RGBA) {
	g := r.Geometry()
	layers := r.Layers()
	opts := r.Options()

	origin := dst.Bounds().Min
	view := image.Rect(0, 0, g.ContainerWidth, g.Height).Add(origin).Intersect(dst.Bounds())
	boundary := origin.X + int(math.Round(g.Progress*float64(g.WrapperWidth)-g.ScrollLeft))

	for _, layer := range layers {
		for _, t := range layer.Tiles {
			cssW := int(math.Round(float64(t.Width) / g.PixelRatio))
			cssH := int(math.Round(float64(t.Height) / g.PixelRatio))
			x := origin.X + t.Left - int(math.Round(g.ScrollLeft))
			rect := image.Rect(x, origin.Y+layer.Top, x+cssW, origin.Y+layer.Top+cssH).Intersect(view)
			if rect.Empty() {
				continue
			}
			wave, progress := t.Wave, t.Progress
			if g.PixelRatio != 1 {
				wave = scaleTo(wave, cssW, cssH)
				progress = scaleTo(progress, cssW, cssH)
			}
			src := image.Pt(rect.Min.X-x, rect.Min.Y-(origin.Y+layer.Top))

			played := rect
			played.Max.X = min(played.Max.X, boundary)
			if !played.Empty() {
				draw.Draw(dst, played, progress, src, draw.Over)
			}
			rest := rect
			rest.Min.X = max(rest.Min.X, boundary)
			if !rest.Empty() {
				draw.Draw(dst, rest, wave, src.Add(image.Pt(rest.Min.X-rect.Min.X, 0)), draw.Over)
			}
		}
	}

	if opts.CursorWidth > 0 && g.WrapperWidth > 0 {
		cx := float64(boundary)
		if math.Round(g.Progress*100) == 100 {
			cx -= opts.CursorWidth
		}
		cursor := image.Rect(int(math.Round(cx)), view.Min.Y, int(math.Round(cx+opts.CursorWidth)), view.Max.Y).Intersect(view)
		if !cursor.Empty() {
			draw.Draw(dst, cursor, image.NewUniform(opts.CursorColor), image.Point{}, draw.Over)
		}
	}
}

func scaleTo(src *image.RGBA, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), src, src.Bounds(), draw.Src, nil)
	return out
}
