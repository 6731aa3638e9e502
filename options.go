package cardwave

import (
	"fmt"
	"net/http"

	"github.com/cbegin/cardwave-go/internal/clock"
	"github.com/cbegin/cardwave-go/internal/effects"
	"github.com/cbegin/cardwave-go/internal/media"
	"github.com/cbegin/cardwave-go/internal/metrics"
	"github.com/cbegin/cardwave-go/internal/render"
)

type BackendKind string

const (
	BackendMediaElement BackendKind = "MediaElement"
	BackendWebAudio     BackendKind = "WebAudio"
)

// DefaultOutputRate is the sample rate of the audio output the engine opens
// when none is supplied.
const DefaultOutputRate = 44100

// Options is the engine configuration. Colors are CSS color strings; more
// than one color makes a top-to-bottom gradient.
type Options struct {
	Height        int
	WaveColor     []string
	ProgressColor []string
	// CursorColor defaults to the first progress color.
	CursorColor string
	CursorWidth float64
	BarWidth    float64
	// BarGap nil means half of BarWidth.
	BarGap        *float64
	BarRadius     float64
	BarHeight     float64
	BarAlign      string
	MinPxPerSec   float64
	FillParent    bool
	AutoScroll    bool
	AutoCenter    bool
	Interact      bool
	DragToSeek    bool
	Normalize     bool
	SplitChannels bool
	PixelRatio    float64
	Backend       BackendKind
	// SampleRate is the rate audio is decoded at for drawing.
	SampleRate int
	// AudioRate is the initial playback rate.
	AudioRate   float64
	Autoplay    bool
	Plugins     []Plugin
	FetchHeader http.Header
}

func DefaultOptions() Options {
	return Options{
		Height:        128,
		WaveColor:     []string{"#999"},
		ProgressColor: []string{"#555"},
		CursorWidth:   1,
		FillParent:    true,
		AutoScroll:    true,
		AutoCenter:    true,
		Interact:      true,
		Backend:       BackendMediaElement,
		SampleRate:    8000,
	}
}

func (o Options) renderOptions() (render.Options, error) {
	wave, err := render.ParsePaint(o.WaveColor...)
	if err != nil {
		return render.Options{}, fmt.Errorf("wave color: %w", err)
	}
	progress, err := render.ParsePaint(o.ProgressColor...)
	if err != nil {
		return render.Options{}, fmt.Errorf("progress color: %w", err)
	}
	cursor := progress.First()
	if o.CursorColor != "" {
		if cursor, err = render.ParseColor(o.CursorColor); err != nil {
			return render.Options{}, fmt.Errorf("cursor color: %w", err)
		}
	}
	return render.Options{
		Height:        o.Height,
		WaveColor:     wave,
		ProgressColor: progress,
		CursorColor:   cursor,
		CursorWidth:   o.CursorWidth,
		BarWidth:      o.BarWidth,
		BarGap:        o.BarGap,
		BarRadius:     o.BarRadius,
		BarHeight:     o.BarHeight,
		BarAlign:      o.BarAlign,
		MinPxPerSec:   o.MinPxPerSec,
		FillParent:    o.FillParent,
		AutoScroll:    o.AutoScroll,
		AutoCenter:    o.AutoCenter,
		DragToSeek:    o.DragToSeek,
		Normalize:     o.Normalize,
		SplitChannels: o.SplitChannels,
		PixelRatio:    o.PixelRatio,
	}, nil
}

type Option func(*engineConfig)

type engineConfig struct {
	output  media.Output
	backend media.Backend
	element media.Element
	frames  clock.Scheduler
	tiles   render.Scheduler
	client  *http.Client
	metrics *metrics.Metrics
	blobs   *media.BlobStore
	filter  effects.Effector
}

// WithOutput sets where audio is played. Without it the engine opens the
// shared ebiten audio context at DefaultOutputRate.
func WithOutput(out media.Output) Option {
	return func(cfg *engineConfig) { cfg.output = out }
}

// WithBackend supplies a ready-made backend. The engine does not destroy it.
func WithBackend(b media.Backend) Option {
	return func(cfg *engineConfig) { cfg.backend = b }
}

// WithElement wraps an element the caller owns. Destroy pauses it but leaves
// it open.
func WithElement(el media.Element) Option {
	return func(cfg *engineConfig) { cfg.element = el }
}

// WithFrameScheduler paces the playback clock, for example with a
// clock.FrameQueue drained from the host's update loop.
func WithFrameScheduler(s clock.Scheduler) Option {
	return func(cfg *engineConfig) { cfg.frames = s }
}

// WithTileScheduler runs deferred render work and debounces.
func WithTileScheduler(s render.Scheduler) Option {
	return func(cfg *engineConfig) { cfg.tiles = s }
}

func WithHTTPClient(c *http.Client) Option {
	return func(cfg *engineConfig) { cfg.client = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *engineConfig) { cfg.metrics = m }
}

func WithBlobStore(s *media.BlobStore) Option {
	return func(cfg *engineConfig) { cfg.blobs = s }
}

// WithFilter inserts f into the WebAudio backend's graph, between the source
// and the gain stage. It has no effect on the media element backend.
func WithFilter(f effects.Effector) Option {
	return func(cfg *engineConfig) { cfg.filter = f }
}
