package cardwave

import "math"

// PeaksOptions controls ExportPeaks. Zero fields take the defaults: 2
// channels, 8000 peaks per channel, precision 10000.
type PeaksOptions struct {
	Channels  int
	MaxLength int
	// Precision is the rounding grid: values are rounded to 1/Precision.
	Precision float64
}

func (o PeaksOptions) withDefaults() PeaksOptions {
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.MaxLength <= 0 {
		o.MaxLength = 8000
	}
	if o.Precision <= 0 {
		o.Precision = 10000
	}
	return o
}

// ExportPeaks downsamples the decoded audio. The result can be passed back to
// Load as channel data to skip decoding.
func (e *Engine) ExportPeaks(opts PeaksOptions) ([][]float32, error) {
	audio := e.DecodedData()
	if audio == nil {
		return nil, &StateError{Op: "export peaks", Err: ErrNoAudio}
	}
	return Peaks(audio, opts), nil
}

// Peaks splits each channel into MaxLength windows spanning the whole channel
// and keeps the signed sample with the largest magnitude from each. Windows
// are fractional: window i covers samples [floor(i*size), ceil((i+1)*size)),
// so neighbouring windows may share a sample and a channel shorter than
// MaxLength repeats samples instead of padding.
func Peaks(audio *DecodedAudio, opts PeaksOptions) [][]float32 {
	opts = opts.withDefaults()
	channels := min(opts.Channels, audio.NumberOfChannels())
	peaks := make([][]float32, 0, channels)
	for c := 0; c < channels; c++ {
		ch := audio.ChannelData(c)
		size := float64(len(ch)) / float64(opts.MaxLength)
		data := make([]float32, opts.MaxLength)
		for i := range data {
			from := min(int(math.Floor(float64(i)*size)), len(ch))
			to := min(int(math.Ceil(float64(i+1)*size)), len(ch))
			var peak float32
			for _, v := range ch[from:to] {
				if abs32(v) > abs32(peak) {
					peak = v
				}
			}
			data[i] = float32(math.Round(float64(peak)*opts.Precision) / opts.Precision)
		}
		peaks = append(peaks, data)
	}
	return peaks
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
