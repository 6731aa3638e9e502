package effects

import (
	"math"
	"testing"
)

const rate = 44100

func sine(freq float64, i int) float32 {
	return float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate))
}

// rms runs n frames of a sine through e and measures the last half.
func rms(e Effector, freq float64, n int) float64 {
	var sum float64
	for i := 0; i < n; i++ {
		l, _ := e.Process(sine(freq, i), sine(freq, i))
		if i >= n/2 {
			sum += float64(l) * float64(l)
		}
	}
	return math.Sqrt(sum / float64(n-n/2))
}

func TestEQUnityPassesSignal(t *testing.T) {
	eq := NewEQ5Band(rate)
	for i := 0; i < 100; i++ {
		l, r := eq.Process(float32(i%7)/10, -float32(i%5)/10)
		if want := float32(i%7) / 10; math.Abs(float64(l-want)) > 1e-5 {
			t.Fatalf("frame %d left = %v, want %v", i, l, want)
		}
		if want := -float32(i%5) / 10; math.Abs(float64(r-want)) > 1e-5 {
			t.Fatalf("frame %d right = %v, want %v", i, r, want)
		}
	}
}

func TestEQCutsBand(t *testing.T) {
	flat := rms(NewEQ5Band(rate), 60, 8820)
	eq := NewEQ5Band(rate)
	eq.SetGain(0, 0)
	cut := rms(eq, 60, 8820)
	if cut > flat/2 {
		t.Fatalf("60 Hz rms with low band cut = %v, flat %v", cut, flat)
	}
	high := NewEQ5Band(rate)
	high.SetGain(0, 0)
	if got := rms(high, 12000, 8820); got < flat/2 {
		t.Fatalf("12 kHz rms = %v, should pass a low band cut", got)
	}
}

func TestEQGains(t *testing.T) {
	eq := NewEQ5Band(rate)
	eq.SetGains([]float32{0.5, 1.5})
	eq.SetGain(4, -1)
	eq.SetGain(9, 3)
	if got := eq.Gains(); got != [5]float32{0.5, 1.5, 1, 1, 0} {
		t.Fatalf("gains = %v", got)
	}
	if eq.Gain(-1) != 1 {
		t.Fatalf("out of range gain = %v, want 1", eq.Gain(-1))
	}
}

func TestLevelerReducesLoud(t *testing.T) {
	c := NewLeveler(rate, LevelerOptions{ThresholdDB: -10, Ratio: 4, AttackMs: 1, ReleaseMs: 50})
	var out float32
	for i := 0; i < 1000; i++ {
		out, _ = c.Process(1, 1)
	}
	if out >= 1 || out < 0.3 {
		t.Fatalf("settled output = %v, want reduced", out)
	}
}

func TestLevelerLeavesQuiet(t *testing.T) {
	c := NewLeveler(rate, LevelerOptions{ThresholdDB: -10, Ratio: 4, AttackMs: 1, ReleaseMs: 50})
	for i := 0; i < 1000; i++ {
		if l, _ := c.Process(0.1, 0.1); l != 0.1 {
			t.Fatalf("quiet output = %v, want 0.1", l)
		}
	}
}

func TestLevelerLinksChannels(t *testing.T) {
	c := NewLeveler(rate, LevelerOptions{ThresholdDB: -20, Ratio: 4, AttackMs: 1, ReleaseMs: 50})
	var l, r float32
	for i := 0; i < 1000; i++ {
		l, r = c.Process(1, 0.5)
	}
	if math.Abs(float64(l/r)-2) > 1e-4 {
		t.Fatalf("left/right = %v, want 2", l/r)
	}
}

type scale float32

func (s scale) Process(l, r float32) (float32, float32) { return l * float32(s), r * float32(s) }
func (s scale) Reset() {}

type offset float32

func (o offset) Process(l, r float32) (float32, float32) { return l + float32(o), r + float32(o) }
func (o offset) Reset() {}

func TestChainOrder(t *testing.T) {
	c := NewChain(scale(2), nil, offset(1))
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if l, r := c.Process(1, 2); l != 3 || r != 5 {
		t.Fatalf("chain = %v, %v, want 3, 5", l, r)
	}
}

func TestPlaybackFilter(t *testing.T) {
	eq, f := NewPlaybackFilter(rate, []float32{1, 1, 0, 1, 1}, false)
	if f != Effector(eq) || eq.Gain(2) != 0 {
		t.Fatalf("filter without leveler = %T, mid gain %v", f, eq.Gain(2))
	}
	_, f = NewPlaybackFilter(rate, nil, true)
	if c, ok := f.(*Chain); !ok || c.Len() != 2 {
		t.Fatalf("filter with leveler = %#v", f)
	}
}
