// Package mediatest provides a scripted playback backend and a manual task
// scheduler for testing code built on an engine.
package mediatest

import (
	"context"
	"sync"
	"time"

	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/media"
	"github.com/cbegin/cardwave-go/internal/render"
)

// Backend is a media.Backend that plays nothing. Time only moves through
// SetTime and SetCurrentTime.
type Backend struct {
	mu        sync.Mutex
	t         float64
	duration  float64
	volume    float64
	rate      float64
	muted     bool
	preserve  bool
	playing   bool
	destroyed bool
	src       string
	sources   []media.Source
	// SourceErr is returned from SetSource when set.
	SourceErr error
	bus       events.Bus[media.EventKind, media.Event]
}

func NewBackend() *Backend {
	return &Backend{volume: 1, rate: 1, preserve: true}
}

func (b *Backend) emit(k media.EventKind) {
	b.bus.Emit(k, media.Event{Kind: k, Time: b.CurrentTime()})
}

func (b *Backend) Play() error {
	b.mu.Lock()
	b.playing = true
	b.mu.Unlock()
	b.emit(media.EventPlay)
	return nil
}

func (b *Backend) Pause() {
	b.mu.Lock()
	was := b.playing
	b.playing = false
	b.mu.Unlock()
	if was {
		b.emit(media.EventPause)
	}
}

func (b *Backend) SetTime(s float64) {
	b.mu.Lock()
	b.t = s
	b.mu.Unlock()
	b.emit(media.EventSeeking)
}

// SetCurrentTime moves the clock without emitting anything, as playback
// would between frames.
func (b *Backend) SetCurrentTime(s float64) {
	b.mu.Lock()
	b.t = s
	b.mu.Unlock()
}

// SetDuration sets the duration reported before any source is decoded.
func (b *Backend) SetDuration(d float64) {
	b.mu.Lock()
	b.duration = d
	b.mu.Unlock()
}

// Finish stops playback at the end and emits ended.
func (b *Backend) Finish() {
	b.mu.Lock()
	b.playing = false
	b.mu.Unlock()
	b.emit(media.EventPause)
	b.emit(media.EventEnded)
}

func (b *Backend) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.t
}

func (b *Backend) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

func (b *Backend) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

func (b *Backend) SetVolume(v float64) {
	b.mu.Lock()
	b.volume = v
	b.mu.Unlock()
	b.emit(media.EventVolumeChange)
}

func (b *Backend) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

func (b *Backend) SetMuted(m bool) {
	b.mu.Lock()
	b.muted = m
	b.mu.Unlock()
}

func (b *Backend) PlaybackRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

func (b *Backend) SetPlaybackRate(r float64) {
	b.mu.Lock()
	b.rate = r
	b.mu.Unlock()
}

func (b *Backend) SetPreservesPitch(p bool) {
	b.mu.Lock()
	b.preserve = p
	b.mu.Unlock()
}

func (b *Backend) PreservesPitch() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.preserve
}

func (b *Backend) SetSource(_ context.Context, src media.Source) error {
	b.mu.Lock()
	if b.SourceErr != nil {
		err := b.SourceErr
		b.mu.Unlock()
		return err
	}
	b.sources = append(b.sources, src)
	b.src = src.URL
	b.mu.Unlock()
	b.emit(media.EventLoadedMetadata)
	return nil
}

// Sources lists every source set so far.
func (b *Backend) Sources() []media.Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]media.Source(nil), b.sources...)
}

func (b *Backend) Src() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.src
}

func (b *Backend) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

func (b *Backend) On(kind media.EventKind, fn func(media.Event), opts ...events.SubscribeOption) func() {
	return b.bus.On(kind, fn, opts...)
}

func (b *Backend) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	b.playing = false
	b.mu.Unlock()
}

func (b *Backend) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

type token struct {
	mu   sync.Mutex
	fn   func()
	done bool
}

func (t *token) Cancel() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *token) take() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Scheduler queues deferred work until RunAll, ignoring delays.
type Scheduler struct {
	mu    sync.Mutex
	items []*token
}

func (s *Scheduler) After(_ time.Duration, fn func()) render.Token {
	t := &token{fn: fn}
	s.mu.Lock()
	s.items = append(s.items, t)
	s.mu.Unlock()
	return t
}

// RunAll runs queued work, including work queued while running, until the
// queue is empty.
func (s *Scheduler) RunAll() {
	for {
		s.mu.Lock()
		batch := s.items
		s.items = nil
		s.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, t := range batch {
			if t.take() {
				t.fn()
			}
		}
	}
}

// Pending counts queued work that has not been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	items := append([]*token(nil), s.items...)
	s.mu.Unlock()
	n := 0
	for _, t := range items {
		t.mu.Lock()
		if !t.done {
			n++
		}
		t.mu.Unlock()
	}
	return n
}
