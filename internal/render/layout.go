package render

import "math"

// MaxCanvasWidth bounds the device-pixel width of one tile.
const MaxCanvasWidth = 4000

// Layout is the horizontal geometry of one render pass, in CSS pixels.
type Layout struct {
	// ScrollWidth is the natural waveform width at the requested zoom.
	ScrollWidth int
	// IsScrollable reports whether the natural width overflows the container.
	IsScrollable bool
	// UseParentWidth is set when the waveform is stretched to the container.
	UseParentWidth bool
	// Width is the width the waveform is drawn at.
	Width int
}

// ComputeLayout applies the zoom and fill-parent rules.
func ComputeLayout(duration, minPxPerSec float64, containerWidth int, fillParent bool) Layout {
	l := Layout{}
	if duration > 0 && minPxPerSec > 0 {
		l.ScrollWidth = int(math.Ceil(duration * minPxPerSec))
	}
	l.IsScrollable = l.ScrollWidth > containerWidth
	l.UseParentWidth = fillParent && !l.IsScrollable
	if l.UseParentWidth {
		l.Width = containerWidth
	} else {
		l.Width = l.ScrollWidth
	}
	return l
}

// viewportWidth is the CSS width of the first tile. In bar mode it is rounded
// down to a whole number of bars so tiles join on bar boundaries.
func viewportWidth(containerWidth int, barWidth float64, barGap *float64) float64 {
	w := math.Min(MaxCanvasWidth, float64(containerWidth))
	gap := 0.0
	if barGap != nil {
		gap = *barGap
	}
	if barWidth != 0 || gap != 0 {
		bw := barWidth
		if bw == 0 {
			bw = 0.5
		}
		if gap == 0 {
			gap = bw / 2
		}
		total := bw + gap
		if math.Mod(w, total) != 0 {
			w = math.Floor(w/total) * total
		}
	}
	return w
}
