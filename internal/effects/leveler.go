package effects

import "math"

// LevelerOptions configures a Leveler.
type LevelerOptions struct {
	ThresholdDB float32
	Ratio       float32
	AttackMs    float32
	ReleaseMs   float32
	MakeupDB    float32
}

// DefaultLevelerOptions suit spoken card audio: loud takes are pulled down
// and the whole signal is lifted a little.
func DefaultLevelerOptions() LevelerOptions {
	return LevelerOptions{ThresholdDB: -18, Ratio: 3, AttackMs: 5, ReleaseMs: 120, MakeupDB: 4}
}

// Leveler is a feed-forward compressor. Both channels share one envelope so
// the stereo image does not shift when only one side is loud.
type Leveler struct {
	threshold float32
	ratio     float32
	attack    float32
	release   float32
	makeup    float32
	env       float32
}

func NewLeveler(sampleRate int, o LevelerOptions) *Leveler {
	if o.Ratio < 1 {
		o.Ratio = 1
	}
	return &Leveler{
		threshold: dbToGain(o.ThresholdDB),
		ratio:     o.Ratio,
		attack:    coefficient(o.AttackMs, sampleRate),
		release:   coefficient(o.ReleaseMs, sampleRate),
		makeup:    dbToGain(o.MakeupDB),
	}
}

func (c *Leveler) Process(l, r float32) (float32, float32) {
	level := max(float32(math.Abs(float64(l))), float32(math.Abs(float64(r))))
	if level > c.env {
		c.env += c.attack * (level - c.env)
	} else {
		c.env += c.release * (level - c.env)
	}
	g := c.gain() * c.makeup
	return l * g, r * g
}

// gain is the reduction for the current envelope: above the threshold every
// ratio dB in become one dB out.
func (c *Leveler) gain() float32 {
	if c.env <= c.threshold {
		return 1
	}
	over := float64(c.env / c.threshold)
	return float32(math.Pow(over, 1/float64(c.ratio)-1))
}

func (c *Leveler) Reset() { c.env = 0 }

func dbToGain(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

// coefficient is the one-pole smoothing factor for a time constant of ms.
func coefficient(ms float32, sampleRate int) float32 {
	if ms <= 0 {
		return 1
	}
	return float32(1 - math.Exp(-1/(float64(ms)*float64(sampleRate)/1000)))
}
