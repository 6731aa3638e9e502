package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Paint is a fill: one color, or several stops spread evenly from the top of
// a tile to its bottom.
type Paint []color.NRGBA

var namedColors = map[string]color.NRGBA{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"orange":      {255, 165, 0, 255},
	"purple":      {128, 0, 128, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor understands #rgb, #rgba, #rrggbb, #rrggbbaa, rgb(), rgba() and
// a handful of names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	if open := strings.IndexByte(s, '('); open > 0 && strings.HasSuffix(s, ")") {
		fn := s[:open]
		args := strings.Split(s[open+1:len(s)-1], ",")
		if (fn == "rgb" && len(args) == 3) || (fn == "rgba" && len(args) == 4) {
			var c color.NRGBA
			ch := []*uint8{&c.R, &c.G, &c.B}
			for i, p := range ch {
				v, err := strconv.ParseFloat(strings.TrimSpace(args[i]), 64)
				if err != nil {
					return color.NRGBA{}, fmt.Errorf("color %q: %w", s, err)
				}
				*p = uint8(math.Round(clampf(v, 0, 255)))
			}
			c.A = 255
			if len(args) == 4 {
				a, err := strconv.ParseFloat(strings.TrimSpace(args[3]), 64)
				if err != nil {
					return color.NRGBA{}, fmt.Errorf("color %q: %w", s, err)
				}
				c.A = uint8(math.Round(clampf(a, 0, 1) * 255))
			}
			return c, nil
		}
	}
	return color.NRGBA{}, fmt.Errorf("unrecognized color %q", s)
}

func parseHex(h string) (color.NRGBA, error) {
	switch len(h) {
	case 3, 4:
		var expanded strings.Builder
		for _, r := range h {
			expanded.WriteRune(r)
			expanded.WriteRune(r)
		}
		h = expanded.String()
	case 6, 8:
	default:
		return color.NRGBA{}, fmt.Errorf("unrecognized color #%s", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color #%s: %w", h, err)
	}
	if len(h) == 6 {
		return color.NRGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
	}
	return color.NRGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// ParsePaint parses one color or a list of gradient stops.
func ParsePaint(stops ...string) (Paint, error) {
	p := make(Paint, 0, len(stops))
	for _, s := range stops {
		c, err := ParseColor(s)
		if err != nil {
			return nil, err
		}
		p = append(p, c)
	}
	return p, nil
}

// MustPaint is ParsePaint for literals.
func MustPaint(stops ...string) Paint {
	p, err := ParsePaint(stops...)
	if err != nil {
		panic(err)
	}
	return p
}

// Image returns the paint as a fill source for a tile of the given height.
func (p Paint) Image(height int) image.Image {
	switch len(p) {
	case 0:
		return image.Transparent
	case 1:
		return image.NewUniform(p[0])
	}
	return &gradient{stops: p, height: float64(height)}
}

// First is the paint's first stop, used where a single color is needed.
func (p Paint) First() color.NRGBA {
	if len(p) == 0 {
		return color.NRGBA{}
	}
	return p[0]
}

// gradient is a vertical linear gradient over [0, height).
type gradient struct {
	stops  Paint
	height float64
}

func (g *gradient) ColorModel() color.Model { return color.NRGBAModel }

func (g *gradient) Bounds() image.Rectangle {
	return image.Rect(-1e9, -1e9, 1e9, 1e9)
}

func (g *gradient) At(x, y int) color.Color {
	if g.height <= 1 {
		return g.stops[0]
	}
	t := clampf(float64(y)/(g.height-1), 0, 1)
	pos := t * float64(len(g.stops)-1)
	i := int(pos)
	if i >= len(g.stops)-1 {
		return g.stops[len(g.stops)-1]
	}
	f := pos - float64(i)
	a, b := g.stops[i], g.stops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f)) }
	return color.NRGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), lerp(a.A, b.A)}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
