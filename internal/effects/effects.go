// Package effects holds the filters the buffer backend can run on playback
// audio between the source and the gain stage. Filters run on the audio
// goroutine one stereo frame at a time.
package effects

// Effector filters one stereo frame. Reset clears any state carried between
// frames, for example after a seek.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain runs effects in order. Build it before playback starts; it is not
// safe to Add while audio is flowing.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	c := &Chain{}
	for _, e := range effects {
		c.Add(e)
	}
	return c
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

// Add appends e. Nil effects are skipped.
func (c *Chain) Add(e Effector) {
	if e != nil {
		c.effects = append(c.effects, e)
	}
}

func (c *Chain) Len() int { return len(c.effects) }

// NewPlaybackFilter builds the filter used for card audio: a five band
// equalizer set to gains, followed by a leveler when level is true. The
// equalizer is returned too so its gains can be changed while playing.
func NewPlaybackFilter(sampleRate int, gains []float32, level bool) (*EQ5Band, Effector) {
	eq := NewEQ5Band(sampleRate)
	eq.SetGains(gains)
	if !level {
		return eq, eq
	}
	return eq, NewChain(eq, NewLeveler(sampleRate, DefaultLevelerOptions()))
}
