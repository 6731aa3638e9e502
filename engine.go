package cardwave

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/cbegin/cardwave-go/internal/clock"
	"github.com/cbegin/cardwave-go/internal/decoder"
	"github.com/cbegin/cardwave-go/internal/drag"
	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/fetcher"
	"github.com/cbegin/cardwave-go/internal/media"
	"github.com/cbegin/cardwave-go/internal/render"
)

// DecodedAudio is the per-load decoded sample data.
type DecodedAudio = decoder.Audio

// dragSeekDelay holds back the seek while paused so a drag does not reload
// the position on every move.
const dragSeekDelay = 200 * time.Millisecond

// Engine ties a playback backend, the waveform renderer, the playback clock
// and registered plugins together.
type Engine struct {
	mu          sync.Mutex
	opts        Options
	cfg         engineConfig
	sched       render.Scheduler
	backend     media.Backend
	ownsBackend bool
	external    bool
	renderer    *render.Renderer
	timer       *clock.Clock
	decoded     *decoder.Audio
	plugins     []Plugin
	disabled    map[Plugin]bool
	loadSeq     uint64
	cancelLoad  context.CancelFunc
	dragSeek    render.Token
	subs        []func()
	mediaSubs   []func()
	destroyed   bool
	bus         events.Bus[EventKind, Event]
}

func New(opts Options, options ...Option) (*Engine, error) {
	var cfg engineConfig
	for _, opt := range options {
		opt(&cfg)
	}
	ropts, err := opts.renderOptions()
	if err != nil {
		return nil, err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultOptions().SampleRate
	}
	if cfg.blobs == nil {
		cfg.blobs = media.DefaultBlobs
	}
	e := &Engine{
		opts:     opts,
		cfg:      cfg,
		sched:    cfg.tiles,
		disabled: make(map[Plugin]bool),
	}
	if e.sched == nil {
		e.sched = render.TimerScheduler{}
	}
	if err := e.initBackend(); err != nil {
		return nil, err
	}
	e.renderer = render.New(ropts, e.sched)
	e.timer = clock.New(cfg.frames, e.onTick)
	e.initMediaEvents()
	e.initRendererEvents()
	for _, p := range opts.Plugins {
		if err := e.RegisterPlugin(p); err != nil {
			log.Printf("cardwave: %v", err)
		}
	}
	return e, nil
}

func (e *Engine) initBackend() error {
	cfg := e.cfg
	switch {
	case cfg.backend != nil:
		e.backend = cfg.backend
		e.external = true
		return nil
	case cfg.element != nil:
		e.backend = media.NewElementBackend(cfg.element, media.ElementOptions{
			External:     true,
			Blobs:        cfg.blobs,
			Autoplay:     e.opts.Autoplay,
			PlaybackRate: e.opts.AudioRate,
		})
		e.ownsBackend = true
		e.external = true
		return nil
	}
	out := cfg.output
	if out == nil {
		ebOut, err := media.NewEbitenOutput(DefaultOutputRate)
		if err != nil {
			return err
		}
		out = ebOut
	}
	loader := media.NewLoader(cfg.blobs, e.fetchOptions())
	e.ownsBackend = true
	if e.opts.Backend == BackendWebAudio {
		b := media.NewBufferBackend(out, media.WithBufferLoader(loader), media.WithAutoplay(e.opts.Autoplay))
		if cfg.filter != nil {
			b.SetFilter(cfg.filter)
		}
		if e.opts.AudioRate > 0 {
			b.SetPlaybackRate(e.opts.AudioRate)
		}
		e.backend = b
		return nil
	}
	el := media.NewAudioElement(out, media.WithLoader(loader))
	e.backend = media.NewElementBackend(el, media.ElementOptions{
		Blobs:        cfg.blobs,
		Autoplay:     e.opts.Autoplay,
		PlaybackRate: e.opts.AudioRate,
	})
	return nil
}

func (e *Engine) fetchOptions() fetcher.RequestOptions {
	return fetcher.RequestOptions{Header: e.opts.FetchHeader, Client: e.cfg.client}
}

func (e *Engine) emit(ev Event) {
	e.bus.Emit(ev.Kind, ev)
}

// On subscribes fn to kind and returns the unsubscribe function.
func (e *Engine) On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func() {
	return e.bus.On(kind, fn, opts...)
}

func (e *Engine) Once(kind EventKind, fn func(Event)) func() {
	return e.bus.Once(kind, fn)
}

// UnAll removes every subscriber added through On and Once.
func (e *Engine) UnAll() {
	e.bus.UnAll()
}

func (e *Engine) onTick() {
	t := e.backend.CurrentTime()
	e.renderer.RenderProgress(e.ratio(t), true)
	e.emit(Event{Kind: EventTimeUpdate, Time: t})
	e.emit(Event{Kind: EventAudioProcess, Time: t})
}

// ratio is t as a fraction of the duration, NaN when the duration is unknown.
func (e *Engine) ratio(t float64) float64 {
	d := e.Duration()
	if d <= 0 {
		return math.NaN()
	}
	return t / d
}

func (e *Engine) initMediaEvents() {
	b := e.backend
	if b.IsPlaying() {
		e.emit(Event{Kind: EventPlay})
		e.timer.Start()
	}
	e.mediaSubs = append(e.mediaSubs,
		b.On(media.EventTimeUpdate, func(media.Event) {
			t := b.CurrentTime()
			e.renderer.RenderProgress(e.ratio(t), b.IsPlaying())
			e.emit(Event{Kind: EventTimeUpdate, Time: t})
		}),
		b.On(media.EventPlay, func(media.Event) {
			e.cfg.metrics.SetPlaying(true)
			e.emit(Event{Kind: EventPlay})
			e.timer.Start()
		}),
		b.On(media.EventPause, func(media.Event) {
			e.cfg.metrics.SetPlaying(false)
			e.emit(Event{Kind: EventPause})
			e.timer.Stop()
		}),
		b.On(media.EventEmptied, func(media.Event) {
			e.timer.Stop()
		}),
		b.On(media.EventEnded, func(media.Event) {
			e.emit(Event{Kind: EventFinish})
		}),
		b.On(media.EventSeeking, func(media.Event) {
			e.emit(Event{Kind: EventSeeking, Time: b.CurrentTime()})
		}),
	)
}

func (e *Engine) initRendererEvents() {
	r := e.renderer
	e.subs = append(e.subs,
		r.On(render.EventClick, func(ev render.Event) {
			if !e.interactive() {
				return
			}
			e.SeekTo(ev.RelX)
			e.emit(Event{Kind: EventInteraction, Time: ev.RelX * e.Duration()})
			e.emit(Event{Kind: EventClick, RelX: ev.RelX, RelY: ev.RelY})
		}),
		r.On(render.EventDblClick, func(ev render.Event) {
			e.emit(Event{Kind: EventDblClick, RelX: ev.RelX, RelY: ev.RelY})
		}),
		r.On(render.EventScroll, func(ev render.Event) {
			d := e.Duration()
			e.emit(Event{Kind: EventScroll, Start: ev.StartX * d, End: ev.EndX * d})
		}),
		r.On(render.EventRender, func(render.Event) {
			e.cfg.metrics.RecordRender()
			e.emit(Event{Kind: EventRedraw})
		}),
		r.On(render.EventDrag, func(ev render.Event) {
			if !e.interactive() {
				return
			}
			r.RenderProgress(ev.RelX, false)
			delay := dragSeekDelay
			if e.IsPlaying() {
				delay = 0
			}
			rel := ev.RelX
			e.mu.Lock()
			if e.dragSeek != nil {
				e.dragSeek.Cancel()
			}
			e.dragSeek = e.sched.After(delay, func() { e.SeekTo(rel) })
			e.mu.Unlock()
			e.emit(Event{Kind: EventInteraction, Time: rel * e.Duration()})
			e.emit(Event{Kind: EventDrag, RelX: rel})
		}),
	)
}

func (e *Engine) interactive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.Interact && !e.destroyed
}

// SetInteract turns click and drag seeking on or off.
func (e *Engine) SetInteract(enabled bool) {
	e.mu.Lock()
	e.opts.Interact = enabled
	e.mu.Unlock()
}

func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}

// SetOptions replaces the options and re-renders. Plugins and the backend
// choice are fixed at New and ignored here.
func (e *Engine) SetOptions(opts Options) error {
	ropts, err := opts.renderOptions()
	if err != nil {
		return err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultOptions().SampleRate
	}
	e.mu.Lock()
	opts.Backend = e.opts.Backend
	opts.Plugins = e.opts.Plugins
	e.opts = opts
	e.mu.Unlock()
	e.renderer.SetOptions(ropts)
	if opts.AudioRate > 0 {
		e.SetPlaybackRate(opts.AudioRate)
	}
	return nil
}

// Load fetches url, points the backend at it and decodes it for drawing.
// With channelData the fetch and decode are skipped and the given samples are
// drawn instead. A Load started while another is in flight cancels the
// earlier one, which then returns context.Canceled.
func (e *Engine) Load(ctx context.Context, url string, channelData [][]float32, duration float64) error {
	return e.loadAudio(ctx, url, nil, channelData, duration)
}

// LoadBlob is Load for audio already in memory.
func (e *Engine) LoadBlob(ctx context.Context, blob []byte, channelData [][]float32, duration float64) error {
	return e.loadAudio(ctx, "blob", blob, channelData, duration)
}

// Empty clears the waveform.
func (e *Engine) Empty() error {
	return e.Load(context.Background(), "", [][]float32{{0}}, 0.001)
}

func (e *Engine) loadAudio(parent context.Context, url string, blob []byte, channelData [][]float32, duration float64) (err error) {
	ctx, seq, done, err := e.beginLoad(parent)
	if err != nil {
		return err
	}
	defer done()
	start := time.Now()
	defer func() {
		e.cfg.metrics.RecordLoad(loadResult(err), time.Since(start))
	}()

	e.emit(Event{Kind: EventLoad, URL: url})
	if !e.external && e.backend.IsPlaying() {
		e.backend.Pause()
	}
	e.mu.Lock()
	e.decoded = nil
	e.mu.Unlock()

	if blob == nil && channelData == nil {
		onProgress := func(pct int) {
			e.emit(Event{Kind: EventLoading, Percent: pct})
		}
		if blob, err = fetcher.FetchBlob(ctx, url, onProgress, e.fetchOptions()); err != nil {
			return err
		}
	}
	if err := e.stale(ctx, seq); err != nil {
		return err
	}
	if err := e.backend.SetSource(ctx, media.Source{URL: url, Blob: blob}); err != nil {
		return err
	}

	audioDuration := duration
	if audioDuration == 0 {
		audioDuration = e.backend.Duration()
	}
	var decoded *decoder.Audio
	switch {
	case channelData != nil:
		decoded = decoder.Wrap(channelData, audioDuration)
	case blob != nil:
		t0 := time.Now()
		if decoded, err = decoder.Decode(ctx, blob, e.Options().SampleRate); err != nil {
			return err
		}
		e.cfg.metrics.RecordDecode(time.Since(t0))
	}
	if err := e.commit(ctx, seq, decoded); err != nil {
		return err
	}
	if decoded != nil {
		e.emit(Event{Kind: EventDecode, Time: e.Duration()})
		e.renderer.Render(decoded)
		e.emit(Event{Kind: EventRender})
	}
	e.emit(Event{Kind: EventReady, Time: e.Duration()})
	return nil
}

func (e *Engine) beginLoad(parent context.Context) (context.Context, uint64, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, 0, nil, &StateError{Op: "load", Err: ErrDestroyed}
	}
	if e.cancelLoad != nil {
		e.cancelLoad()
	}
	ctx, cancel := context.WithCancel(parent)
	e.loadSeq++
	seq := e.loadSeq
	e.cancelLoad = cancel
	return ctx, seq, func() {
		e.mu.Lock()
		if e.loadSeq == seq {
			e.cancelLoad = nil
		}
		e.mu.Unlock()
		cancel()
	}, nil
}

func (e *Engine) stale(ctx context.Context, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || e.loadSeq != seq {
		return context.Canceled
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, seq uint64, decoded *decoder.Audio) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || e.loadSeq != seq {
		return context.Canceled
	}
	e.decoded = decoded
	return nil
}

func loadResult(err error) string {
	var fetchErr *fetcher.FetchError
	var decodeErr *decoder.DecodeError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &fetchErr):
		return "fetch_error"
	case errors.As(err, &decodeErr):
		return "decode_error"
	}
	return "error"
}

// DecodedData returns the audio decoded by the last load, or nil.
func (e *Engine) DecodedData() *DecodedAudio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decoded
}

// Duration is the decoded duration once audio is decoded, the backend's
// before that.
func (e *Engine) Duration() float64 {
	if d := e.DecodedData(); d != nil {
		return d.Duration()
	}
	return e.backend.Duration()
}

func (e *Engine) CurrentTime() float64 { return e.backend.CurrentTime() }

func (e *Engine) IsPlaying() bool { return e.backend.IsPlaying() }

func (e *Engine) Play() error { return e.backend.Play() }

func (e *Engine) Pause() { e.backend.Pause() }

func (e *Engine) PlayPause() error {
	if e.IsPlaying() {
		e.Pause()
		return nil
	}
	return e.Play()
}

// Stop pauses and rewinds to the start.
func (e *Engine) Stop() {
	e.Pause()
	e.SetTime(0)
}

// SetTime seeks to t seconds and moves the cursor there.
func (e *Engine) SetTime(t float64) {
	e.backend.SetTime(t)
	e.renderer.RenderProgress(e.ratio(t), e.backend.IsPlaying())
	e.emit(Event{Kind: EventTimeUpdate, Time: t})
}

// SeekTo seeks to a fraction of the duration.
func (e *Engine) SeekTo(progress float64) {
	e.SetTime(e.Duration() * progress)
}

// Skip seeks by seconds relative to the current time.
func (e *Engine) Skip(seconds float64) {
	e.SetTime(e.CurrentTime() + seconds)
}

func (e *Engine) Volume() float64 { return e.backend.Volume() }

func (e *Engine) SetVolume(v float64) { e.backend.SetVolume(v) }

func (e *Engine) Muted() bool { return e.backend.Muted() }

func (e *Engine) SetMuted(muted bool) { e.backend.SetMuted(muted) }

func (e *Engine) PlaybackRate() float64 { return e.backend.PlaybackRate() }

func (e *Engine) SetPlaybackRate(rate float64) { e.backend.SetPlaybackRate(rate) }

// SetPlaybackRatePitch sets the rate and whether pitch should be preserved.
func (e *Engine) SetPlaybackRatePitch(rate float64, preservePitch bool) {
	e.backend.SetPreservesPitch(preservePitch)
	e.backend.SetPlaybackRate(rate)
}

// Zoom redraws at minPxPerSec.
func (e *Engine) Zoom(minPxPerSec float64) error {
	if e.DecodedData() == nil {
		return &StateError{Op: "zoom", Err: ErrNoAudio}
	}
	e.mu.Lock()
	e.opts.MinPxPerSec = minPxPerSec
	e.mu.Unlock()
	e.renderer.Zoom(minPxPerSec)
	e.emit(Event{Kind: EventZoom, MinPxPerSec: minPxPerSec})
	return nil
}

// ExportImage encodes the rendered tiles; see render.Renderer.ExportImage.
func (e *Engine) ExportImage(format string, quality float64) ([][]byte, error) {
	if e.DecodedData() == nil {
		return nil, &StateError{Op: "export image", Err: ErrNoAudio}
	}
	return e.renderer.ExportImage(format, quality)
}

// ExportDataURLs is ExportImage as data: URLs.
func (e *Engine) ExportDataURLs(format string, quality float64) ([]string, error) {
	if e.DecodedData() == nil {
		return nil, &StateError{Op: "export image", Err: ErrNoAudio}
	}
	return e.renderer.ExportDataURLs(format, quality)
}

// Resize tells the engine the size of its container in CSS pixels.
func (e *Engine) Resize(width, height int) { e.renderer.Resize(width, height) }

// Geometry reports the current view geometry.
func (e *Engine) Geometry() render.Geometry { return e.renderer.Geometry() }

// Scroll is the horizontal scroll offset in pixels.
func (e *Engine) Scroll() float64 { return e.renderer.Geometry().ScrollLeft }

func (e *Engine) SetScroll(px float64) { e.renderer.SetScroll(px) }

// Surface is the pointer target covering the waveform, for plugins that
// listen to pointer input.
func (e *Engine) Surface() *drag.Surface { return e.renderer.Surface() }

// Scheduler runs deferred work for the engine and its plugins.
func (e *Engine) Scheduler() render.Scheduler { return e.sched }

// Destroy tears everything down. Calling it again does nothing.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	cancel := e.cancelLoad
	e.cancelLoad = nil
	plugins := append([]Plugin(nil), e.plugins...)
	subs := e.subs
	e.subs = nil
	mediaSubs := e.mediaSubs
	e.mediaSubs = nil
	seek := e.dragSeek
	e.dragSeek = nil
	e.mu.Unlock()

	e.emit(Event{Kind: EventDestroy})
	if cancel != nil {
		cancel()
	}
	for _, p := range plugins {
		p.Destroy()
	}
	for _, unsub := range subs {
		unsub()
	}
	for _, unsub := range mediaSubs {
		unsub()
	}
	if seek != nil {
		seek.Cancel()
	}
	e.timer.Destroy()
	e.renderer.Destroy()
	if e.ownsBackend {
		e.backend.Destroy()
	} else {
		e.backend.Pause()
	}
	e.cfg.metrics.SetPlaying(false)
	e.bus.UnAll()
}
