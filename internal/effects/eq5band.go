package effects

import (
	"math"
	"sync/atomic"
)

// Crossovers are the band edges of EQ5Band in Hz.
var Crossovers = [4]float64{200, 800, 2500, 8000}

// EQ5Band splits audio into five bands with cascaded one-pole lowpass
// filters and mixes them back with a gain per band. Gains are bit-cast
// float32s so the UI goroutine can change them while audio is running.
type EQ5Band struct {
	gains  [5]atomic.Uint32
	alphas [4]float32
	lpL    [4]float32
	lpR    [4]float32
}

func NewEQ5Band(sampleRate int) *EQ5Band {
	eq := &EQ5Band{}
	dt := 1.0 / float64(sampleRate)
	for i, freq := range Crossovers {
		rc := 1.0 / (2.0 * math.Pi * freq)
		eq.alphas[i] = float32(dt / (rc + dt))
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float32bits(1))
	}
	return eq
}

// SetGain sets band 0..4. 1 is unity, 0 silences the band.
func (eq *EQ5Band) SetGain(band int, gain float32) {
	if band >= 0 && band < len(eq.gains) {
		eq.gains[band].Store(math.Float32bits(max(0, gain)))
	}
}

// SetGains sets the first len(gains) bands.
func (eq *EQ5Band) SetGains(gains []float32) {
	for i, g := range gains {
		eq.SetGain(i, g)
	}
}

func (eq *EQ5Band) Gain(band int) float32 {
	if band >= 0 && band < len(eq.gains) {
		return math.Float32frombits(eq.gains[band].Load())
	}
	return 1
}

func (eq *EQ5Band) Gains() [5]float32 {
	var out [5]float32
	for i := range out {
		out[i] = eq.Gain(i)
	}
	return out
}

func (eq *EQ5Band) Process(l, r float32) (float32, float32) {
	var outL, outR float32
	remL, remR := l, r
	for i := range eq.alphas {
		eq.lpL[i] += eq.alphas[i] * (remL - eq.lpL[i])
		eq.lpR[i] += eq.alphas[i] * (remR - eq.lpR[i])
		remL -= eq.lpL[i]
		remR -= eq.lpR[i]
		g := eq.Gain(i)
		outL += eq.lpL[i] * g
		outR += eq.lpR[i] * g
	}
	// What is left above the last crossover is the top band.
	g := eq.Gain(4)
	return outL + remL*g, outR + remR*g
}

func (eq *EQ5Band) Reset() {
	eq.lpL = [4]float32{}
	eq.lpR = [4]float32{}
}
