package render

import (
	"image"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// waveStyle is the subset of Options the tile painter reads, pre-scaled to
// device pixels.
type waveStyle struct {
	barWidth   float64
	barGap     *float64
	barRadius  float64
	barAlign   string
	pixelRatio float64
	vScale     float64
	paint      Paint
}

// paintWave draws channels into dst, bars when a bar width or gap is set and
// a filled envelope otherwise.
func paintWave(dst *image.RGBA, channels [][]float32, st waveStyle) {
	b := dst.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || len(channels) == 0 {
		return
	}
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	if st.barWidth != 0 || (st.barGap != nil && *st.barGap != 0) {
		barPath(z, channels, st, float64(b.Dx()), float64(b.Dy()))
	} else {
		linePath(z, channels, st, float64(b.Dx()), float64(b.Dy()))
	}
	z.Draw(dst, b, st.paint.Image(b.Dy()), image.Point{})
}

func barPath(z *vector.Rasterizer, channels [][]float32, st waveStyle, width, height float64) {
	top := channels[0]
	bottom := top
	if len(channels) > 1 && channels[1] != nil {
		bottom = channels[1]
	}
	half := height / 2
	pr := st.pixelRatio
	barWidth := 1.0
	if st.barWidth != 0 {
		barWidth = st.barWidth * pr
	}
	barGap := 0.0
	switch {
	case st.barGap != nil && *st.barGap != 0:
		barGap = *st.barGap * pr
	case st.barWidth != 0:
		barGap = barWidth / 2
	}
	length := len(top)
	if length == 0 {
		return
	}
	indexScale := width / (barWidth + barGap) / float64(length)

	prevX := 0
	maxTop, maxBottom := 0.0, 0.0
	for i := 0; i <= length; i++ {
		x := int(math.Round(float64(i) * indexScale))
		if x > prevX {
			topH := math.Round(maxTop * half * st.vScale)
			bottomH := math.Round(maxBottom * half * st.vScale)
			barH := topH + bottomH
			if barH == 0 {
				barH = 1
			}
			y := half - topH
			switch st.barAlign {
			case "top":
				y = 0
			case "bottom":
				y = height - barH
			}
			roundRect(z, float64(prevX)*(barWidth+barGap), y, barWidth, barH, st.barRadius)
			prevX = x
			maxTop, maxBottom = 0, 0
		}
		if i < length {
			if v := math.Abs(float64(top[i])); v > maxTop {
				maxTop = v
			}
		}
		if i < len(bottom) {
			if v := math.Abs(float64(bottom[i])); v > maxBottom {
				maxBottom = v
			}
		}
	}
}

func roundRect(z *vector.Rasterizer, x, y, w, h, r float64) {
	r = math.Min(r, math.Min(w/2, h/2))
	x0, y0, x1, y1 := float32(x), float32(y), float32(x+w), float32(y+h)
	if r <= 0 {
		z.MoveTo(x0, y0)
		z.LineTo(x1, y0)
		z.LineTo(x1, y1)
		z.LineTo(x0, y1)
		z.ClosePath()
		return
	}
	rr := float32(r)
	z.MoveTo(x0+rr, y0)
	z.LineTo(x1-rr, y0)
	z.QuadTo(x1, y0, x1, y0+rr)
	z.LineTo(x1, y1-rr)
	z.QuadTo(x1, y1, x1-rr, y1)
	z.LineTo(x0+rr, y1)
	z.QuadTo(x0, y1, x0, y1-rr)
	z.LineTo(x0, y0+rr)
	z.QuadTo(x0, y0, x0+rr, y0)
	z.ClosePath()
}

// linePath traces channel 0 above the midline and channel 1 (or channel 0
// again) below it.
func linePath(z *vector.Rasterizer, channels [][]float32, st waveStyle, width, height float64) {
	half := height / 2
	for index := 0; index < 2; index++ {
		ch := channels[0]
		if index < len(channels) && channels[index] != nil {
			ch = channels[index]
		}
		length := len(ch)
		if length == 0 {
			continue
		}
		hScale := width / float64(length)
		sign := 1.0
		if index == 0 {
			sign = -1
		}
		z.MoveTo(0, float32(half))
		prevX := 0
		peak := 0.0
		for i := 0; i <= length; i++ {
			x := int(math.Round(float64(i) * hScale))
			if x > prevX {
				h := math.Round(peak * half * st.vScale)
				if h == 0 {
					h = 1
				}
				z.LineTo(float32(prevX), float32(half+h*sign))
				prevX = x
				peak = 0
			}
			if i < length {
				if v := math.Abs(float64(ch[i])); v > peak {
					peak = v
				}
			}
		}
		z.LineTo(float32(prevX), float32(half))
		z.ClosePath()
	}
}

// progressTwin recolors the pixels drawn in wave with paint, leaving the rest
// transparent.
func progressTwin(wave *image.RGBA, paint Paint) *image.RGBA {
	b := wave.Bounds()
	out := image.NewRGBA(b)
	draw.DrawMask(out, b, paint.Image(b.Dy()), image.Point{}, wave, b.Min, draw.Src)
	return out
}
