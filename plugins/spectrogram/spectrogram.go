// Package spectrogram draws a false-color short-time spectrum of the decoded
// audio in a band below the waveform.
package spectrogram

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"runtime"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"

	cardwave "github.com/cbegin/cardwave-go"
)

type Options struct {
	// FFTSamples is the window length. It must be a power of two; 0 means 512.
	FFTSamples int
	// Overlap is the number of samples consecutive windows share; 0 means
	// half a window.
	Overlap int
	// Height of each channel's strip in pixels; 0 means 128.
	Height int
	// SplitChannels draws every channel instead of the first only.
	SplitChannels bool
	// GainDB and RangeDB map magnitudes to colors: -GainDB dB is full scale
	// and anything RangeDB below that is black.
	GainDB  float64
	RangeDB float64
}

func (o Options) withDefaults() Options {
	if o.FFTSamples == 0 {
		o.FFTSamples = 512
	}
	if o.Overlap <= 0 || o.Overlap >= o.FFTSamples {
		o.Overlap = o.FFTSamples / 2
	}
	if o.Height <= 0 {
		o.Height = 128
	}
	if o.GainDB == 0 {
		o.GainDB = 20
	}
	if o.RangeDB <= 0 {
		o.RangeDB = 80
	}
	return o
}

func (o Options) validate() error {
	n := o.FFTSamples
	if n < 2 || n&(n-1) != 0 {
		return fmt.Errorf("spectrogram: fft size %d is not a power of two", n)
	}
	return nil
}

// Spectrum is one channel's magnitudes, frame-major, scaled to [0, 1].
type Spectrum struct {
	Frames int
	Bins   int
	Values []float32
}

func (s Spectrum) At(frame, bin int) float32 {
	return s.Values[frame*s.Bins+bin]
}

// HannWindow returns the symmetric Hann window of length n.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// Compute runs the short-time transform over each channel concurrently.
func Compute(ctx context.Context, audio *cardwave.DecodedAudio, opts Options) ([]Spectrum, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	channels := 1
	if opts.SplitChannels {
		channels = audio.NumberOfChannels()
	}
	channels = min(channels, audio.NumberOfChannels())
	out := make([]Spectrum, channels)
	window := HannWindow(opts.FFTSamples)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for c := 0; c < channels; c++ {
		samples := audio.ChannelData(c)
		g.Go(func() error {
			s, err := transform(ctx, samples, window, opts)
			if err != nil {
				return err
			}
			out[c] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func transform(ctx context.Context, samples []float32, window []float64, opts Options) (Spectrum, error) {
	n := len(window)
	hop := n - opts.Overlap
	frames := 1
	if len(samples) > n {
		frames += (len(samples) - n + hop - 1) / hop
	}
	bins := n / 2
	s := Spectrum{Frames: frames, Bins: bins, Values: make([]float32, frames*bins)}

	fft := fourier.NewFFT(n)
	buf := make([]float64, n)
	var coeffs []complex128
	// Normalize so a full-scale sine peaks near 0 dB.
	norm := 2 / sum(window)
	for f := 0; f < frames; f++ {
		if f%64 == 0 {
			if err := ctx.Err(); err != nil {
				return Spectrum{}, err
			}
		}
		off := f * hop
		for i := range buf {
			v := 0.0
			if off+i < len(samples) {
				v = float64(samples[off+i])
			}
			buf[i] = v * window[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		row := s.Values[f*bins : (f+1)*bins]
		for b := range row {
			mag := math.Hypot(real(coeffs[b]), imag(coeffs[b])) * norm
			db := 20 * math.Log10(mag+1e-12)
			row[b] = float32(clamp((db+opts.GainDB+opts.RangeDB)/opts.RangeDB, 0, 1))
		}
	}
	return s, nil
}

func sum(v []float64) float64 {
	t := 0.0
	for _, x := range v {
		t += x
	}
	return t
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Color maps a scaled magnitude to the blue-green-orange ramp.
func Color(v float64) color.RGBA {
	v = clamp(v, 0, 1)
	if v == 0 {
		return color.RGBA{0, 0, 0, 255}
	}
	if v < 0.33 {
		t := v / 0.33
		return color.RGBA{uint8(30 + 20*t), uint8(80 + 120*t), uint8(200 + 55*t), 255}
	}
	if v < 0.66 {
		t := (v - 0.33) / 0.33
		return color.RGBA{uint8(50 + 140*t), uint8(200 + 30*t), uint8(255 - 100*t), 255}
	}
	t := (v - 0.66) / 0.34
	return color.RGBA{uint8(190 + 65*t), uint8(230 - 100*t), uint8(155 - 100*t), 255}
}

// Image renders s one pixel per frame and bin, low frequencies at the bottom.
func (s Spectrum) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Frames, s.Bins))
	for f := 0; f < s.Frames; f++ {
		for b := 0; b < s.Bins; b++ {
			img.SetRGBA(f, s.Bins-1-b, Color(float64(s.At(f, b))))
		}
	}
	return img
}

type Plugin struct {
	cardwave.BasePlugin
	opts Options

	mu     sync.Mutex
	sheets []*image.RGBA
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) (*Plugin, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Plugin{opts: opts}, nil
}

func (p *Plugin) Name() string { return "spectrogram" }

// Init computes the spectrum in the background after every decode. A new
// load or Destroy cancels a computation still running.
func (p *Plugin) Init(e *cardwave.Engine) {
	p.BasePlugin.Init(e)
	p.Track(
		e.On(cardwave.EventLoad, func(cardwave.Event) { p.reset() }),
		e.On(cardwave.EventDecode, func(cardwave.Event) { p.recompute(e) }),
		p.reset,
	)
	if e.DecodedData() != nil {
		p.recompute(e)
	}
}

// reset drops the current spectrum and stops any computation in flight.
func (p *Plugin) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.sheets = nil
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Plugin) recompute(e *cardwave.Engine) {
	audio := e.DecodedData()
	if audio == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		spectra, err := Compute(ctx, audio, p.opts)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("spectrogram: %v", err)
			}
			return
		}
		sheets := make([]*image.RGBA, len(spectra))
		for i, s := range spectra {
			sheets[i] = s.Image()
		}
		p.mu.Lock()
		if p.gen == gen {
			p.sheets = sheets
		}
		p.mu.Unlock()
	}()
}

// Wait blocks until the most recent computation has finished or ctx is done.
func (p *Plugin) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether a spectrum is available to draw.
func (p *Plugin) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sheets) > 0
}

// BandHeight is the height of every drawn channel strip.
func (p *Plugin) BandHeight() int {
	n := 1
	if e := p.Engine(); e != nil && p.opts.SplitChannels {
		if audio := e.DecodedData(); audio != nil && audio.NumberOfChannels() > 1 {
			n = audio.NumberOfChannels()
		}
	}
	return n * p.opts.Height
}

// DrawBand scales the part of the spectrum under the visible waveform into
// the band.
func (p *Plugin) DrawBand(dst *image.RGBA, v cardwave.View) error {
	p.mu.Lock()
	sheets := p.sheets
	p.mu.Unlock()
	if len(sheets) == 0 || v.WrapperWidth <= 0 {
		return nil
	}
	from := v.ScrollLeft / float64(v.WrapperWidth)
	to := math.Min(1, (v.ScrollLeft+float64(v.ContainerWidth))/float64(v.WrapperWidth))
	strip := v.Bounds.Dy() / len(sheets)
	for i, sheet := range sheets {
		sb := sheet.Bounds()
		src := image.Rect(
			int(math.Floor(from*float64(sb.Dx()))), 0,
			int(math.Ceil(to*float64(sb.Dx()))), sb.Dy(),
		)
		if src.Empty() {
			continue
		}
		area := image.Rect(v.Bounds.Min.X, v.Bounds.Min.Y+i*strip, v.Bounds.Max.X, v.Bounds.Min.Y+(i+1)*strip)
		draw.BiLinear.Scale(dst, area, sheet, src, draw.Src, nil)
	}
	return nil
}
