package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbegin/cardwave-go/internal/decoder"
	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/fetcher"
)

// Loader returns the encoded bytes behind a source URL.
type Loader func(ctx context.Context, url string) ([]byte, error)

// NewLoader resolves blob: URLs from blobs and fetches everything else.
func NewLoader(blobs *BlobStore, opts fetcher.RequestOptions) Loader {
	if blobs == nil {
		blobs = DefaultBlobs
	}
	return func(ctx context.Context, url string) ([]byte, error) {
		if IsBlobURL(url) {
			data, ok := blobs.Resolve(url)
			if !ok {
				return nil, fmt.Errorf("media: unknown blob %s", url)
			}
			return data, nil
		}
		return fetcher.FetchBlob(ctx, url, nil, opts)
	}
}

// Element is a media element: it owns a source, a play position and the
// usual playback attributes, and reports changes as events.
type Element interface {
	Play() error
	Pause()
	Paused() bool
	Ended() bool
	CurrentTime() float64
	SetCurrentTime(seconds float64)
	Duration() float64
	Volume() float64
	SetVolume(v float64)
	Muted() bool
	SetMuted(muted bool)
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	SetPreservesPitch(preserve bool)
	Src() string
	SetSrc(ctx context.Context, src string) error
	Reset()
	On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func()
	Close() error
}

const defaultTimeUpdateInterval = 250 * time.Millisecond

type ElementOption func(*AudioElement)

func WithLoader(l Loader) ElementOption {
	return func(e *AudioElement) { e.load = l }
}

func WithTimeUpdateInterval(d time.Duration) ElementOption {
	return func(e *AudioElement) { e.tickEvery = d }
}

// AudioElement is the Element implementation backed by an Output voice. Pitch
// follows the playback rate.
type AudioElement struct {
	mu             sync.Mutex
	out            Output
	load           Loader
	voice          Voice
	audio          *decoder.Audio
	src            string
	cursor         float64
	paused         bool
	ended          bool
	drained        bool
	rate           float64
	preservesPitch bool
	volume         float64
	muted          bool
	tickEvery      time.Duration
	stopTicks      chan struct{}
	closed         bool
	bus            events.Bus[EventKind, Event]
}

func NewAudioElement(out Output, opts ...ElementOption) *AudioElement {
	e := &AudioElement{
		out:            out,
		paused:         true,
		rate:           1,
		preservesPitch: true,
		volume:         1,
		tickEvery:      defaultTimeUpdateInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.load == nil {
		e.load = NewLoader(DefaultBlobs, fetcher.RequestOptions{})
	}
	return e
}

func (e *AudioElement) On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func() {
	return e.bus.On(kind, fn, opts...)
}

func (e *AudioElement) emit(kinds ...EventKind) {
	t := e.CurrentTime()
	for _, k := range kinds {
		e.bus.Emit(k, Event{Kind: k, Time: t})
	}
}

// Process feeds the output voice.
func (e *AudioElement) Process(dst []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused || e.audio == nil || e.drained {
		clear(dst)
		return
	}
	left := e.audio.ChannelData(0)
	right := e.audio.ChannelData(1)
	if right == nil {
		right = left
	}
	gain := float32(e.volume)
	if e.muted {
		gain = 0
	}
	n := len(left)
	for i := 0; i+1 < len(dst); i += 2 {
		idx := int(e.cursor)
		if idx >= n {
			clear(dst[i:])
			if !e.drained {
				e.drained = true
				go e.finish()
			}
			return
		}
		frac := float32(e.cursor - float64(idx))
		l, r := left[idx], right[idx]
		if idx+1 < n {
			l += (left[idx+1] - l) * frac
			r += (right[idx+1] - r) * frac
		}
		dst[i] = l * gain
		dst[i+1] = r * gain
		e.cursor += e.rate
	}
}

func (e *AudioElement) finish() {
	e.mu.Lock()
	if !e.drained || e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	e.ended = true
	if e.audio != nil {
		e.cursor = float64(e.audio.Length())
	}
	e.stopTickerLocked()
	if e.voice != nil {
		e.voice.Pause()
	}
	e.mu.Unlock()
	e.emit(EventTimeUpdate, EventPause, EventEnded)
}

func (e *AudioElement) Play() error {
	e.mu.Lock()
	if e.audio == nil {
		e.mu.Unlock()
		return ErrNoSource
	}
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	if e.ended || int(e.cursor) >= e.audio.Length() {
		e.cursor = 0
	}
	if e.voice == nil {
		v, err := e.out.Open(e)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("media: open output: %w", err)
		}
		e.voice = v
	}
	e.paused = false
	e.ended = false
	e.drained = false
	e.voice.Play()
	e.startTickerLocked()
	e.mu.Unlock()
	e.emit(EventPlay)
	return nil
}

func (e *AudioElement) Pause() {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	e.stopTickerLocked()
	if e.voice != nil {
		e.voice.Pause()
	}
	e.mu.Unlock()
	e.emit(EventPause)
}

func (e *AudioElement) startTickerLocked() {
	if e.stopTicks != nil || e.tickEvery <= 0 {
		return
	}
	stop := make(chan struct{})
	e.stopTicks = stop
	go func() {
		t := time.NewTicker(e.tickEvery)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				e.emit(EventTimeUpdate)
			}
		}
	}()
}

func (e *AudioElement) stopTickerLocked() {
	if e.stopTicks != nil {
		close(e.stopTicks)
		e.stopTicks = nil
	}
}

func (e *AudioElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *AudioElement) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

func (e *AudioElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

func (e *AudioElement) currentTimeLocked() float64 {
	if e.audio == nil || e.audio.SampleRate() <= 0 {
		return 0
	}
	return e.cursor / e.audio.SampleRate()
}

func (e *AudioElement) SetCurrentTime(seconds float64) {
	e.mu.Lock()
	if e.audio == nil {
		e.mu.Unlock()
		return
	}
	seconds = clamp(seconds, 0, e.audio.Duration())
	e.cursor = seconds * e.audio.SampleRate()
	e.ended = false
	e.drained = false
	e.mu.Unlock()
	e.emit(EventSeeking, EventTimeUpdate)
}

func (e *AudioElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.audio == nil {
		return 0
	}
	return e.audio.Duration()
}

func (e *AudioElement) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *AudioElement) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = clamp(v, 0, 1)
	e.mu.Unlock()
	e.emit(EventVolumeChange)
}

func (e *AudioElement) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *AudioElement) SetMuted(muted bool) {
	e.mu.Lock()
	changed := e.muted != muted
	e.muted = muted
	e.mu.Unlock()
	if changed {
		e.emit(EventVolumeChange)
	}
}

func (e *AudioElement) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *AudioElement) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	e.mu.Lock()
	e.rate = rate
	e.mu.Unlock()
}

// SetPreservesPitch records the preference. Rate changes always shift pitch.
func (e *AudioElement) SetPreservesPitch(preserve bool) {
	e.mu.Lock()
	e.preservesPitch = preserve
	e.mu.Unlock()
}

func (e *AudioElement) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// SetSrc loads and decodes src. On failure the element keeps its previous
// source.
func (e *AudioElement) SetSrc(ctx context.Context, src string) error {
	if src == "" {
		e.Reset()
		return nil
	}
	data, err := e.load(ctx, src)
	if err != nil {
		return err
	}
	audio, err := decoder.Decode(ctx, data, e.out.SampleRate())
	if err != nil {
		return err
	}
	e.mu.Lock()
	wasPlaying := !e.paused
	e.paused = true
	e.stopTickerLocked()
	if e.voice != nil {
		e.voice.Pause()
	}
	e.audio = audio
	e.src = src
	e.cursor = 0
	e.ended = false
	e.drained = false
	e.mu.Unlock()
	if wasPlaying {
		e.emit(EventPause)
	}
	e.emit(EventEmptied, EventLoadedMetadata, EventCanPlay)
	return nil
}

// Reset drops the source, like clearing src and reloading.
func (e *AudioElement) Reset() {
	e.mu.Lock()
	wasPlaying := !e.paused
	e.paused = true
	e.stopTickerLocked()
	if e.voice != nil {
		e.voice.Pause()
	}
	hadSource := e.audio != nil
	e.audio = nil
	e.src = ""
	e.cursor = 0
	e.ended = false
	e.drained = false
	e.mu.Unlock()
	if wasPlaying {
		e.emit(EventPause)
	}
	if hadSource {
		e.emit(EventEmptied)
	}
}

func (e *AudioElement) Close() error {
	e.Reset()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.voice != nil {
		err := e.voice.Close()
		e.voice = nil
		return err
	}
	return nil
}
