package decoder

import "math"

// Audio is decoded PCM split per channel. It is never modified after
// construction; the slices returned by ChannelData must be treated as
// read-only.
type Audio struct {
	duration   float64
	sampleRate float64
	channels   [][]float32
}

func (a *Audio) Duration() float64 { return a.duration }

func (a *Audio) SampleRate() float64 { return a.sampleRate }

func (a *Audio) NumberOfChannels() int { return len(a.channels) }

// Length is the number of frames in the first channel.
func (a *Audio) Length() int {
	if len(a.channels) == 0 {
		return 0
	}
	return len(a.channels[0])
}

// ChannelData returns channel i, or nil when i is out of range.
func (a *Audio) ChannelData(i int) []float32 {
	if i < 0 || i >= len(a.channels) {
		return nil
	}
	return a.channels[i]
}

// Wrap builds Audio from precomputed peaks or samples. The input is copied.
// When any sample falls outside [-1, 1] all channels are divided by the
// largest magnitude found in any channel so their relative levels survive.
func Wrap(channels [][]float32, duration float64) *Audio {
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = 0
	}
	peak := float32(0)
	copied := make([][]float32, len(channels))
	for i, ch := range channels {
		copied[i] = append([]float32(nil), ch...)
		for _, v := range ch {
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
	}
	if peak > 1 {
		for _, ch := range copied {
			for j := range ch {
				ch[j] /= peak
			}
		}
	}
	a := &Audio{duration: duration, channels: copied}
	if duration > 0 {
		a.sampleRate = float64(a.Length()) / duration
	}
	return a
}

// WrapMono promotes a flat sample sequence to a single channel.
func WrapMono(samples []float32, duration float64) *Audio {
	return Wrap([][]float32{samples}, duration)
}

func newDecoded(sampleRate int, channels [][]float32) *Audio {
	a := &Audio{sampleRate: float64(sampleRate), channels: channels}
	if sampleRate > 0 {
		a.duration = float64(a.Length()) / float64(sampleRate)
	}
	return a
}
