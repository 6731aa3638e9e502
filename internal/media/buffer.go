package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cbegin/cardwave-go/internal/decoder"
	"github.com/cbegin/cardwave-go/internal/effects"
	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/fetcher"
)

// sourceNode is a one-shot reader over the buffer, recreated on every play.
type sourceNode struct {
	pos     float64
	step    float64
	drained bool
}

type BufferOption func(*BufferBackend)

func WithBufferLoader(l Loader) BufferOption {
	return func(b *BufferBackend) { b.load = l }
}

// WithClock replaces the wall clock and the end-of-buffer timer.
func WithClock(now func() time.Time, after func(time.Duration, func())) BufferOption {
	return func(b *BufferBackend) {
		if now != nil {
			b.now = now
		}
		if after != nil {
			b.after = after
		}
	}
}

func WithAutoplay(enabled bool) BufferOption {
	return func(b *BufferBackend) { b.autoplay = enabled }
}

// BufferBackend plays a fully decoded buffer. Its clock is the wall clock
// anchored at the last play, scaled by the playback rate.
type BufferBackend struct {
	mu             sync.Mutex
	out            Output
	dest           Voice
	load           Loader
	now            func() time.Time
	after          func(time.Duration, func())
	audio          *decoder.Audio
	src            string
	node           *sourceNode
	volume         float64
	connected      bool
	filter         effects.Effector
	played         float64
	anchor         time.Time
	paused         bool
	rate           float64
	preservesPitch bool
	autoplay       bool
	destroyed      bool
	bus            events.Bus[EventKind, Event]
}

func NewBufferBackend(out Output, opts ...BufferOption) *BufferBackend {
	b := &BufferBackend{
		out:       out,
		now:       time.Now,
		after:     func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		volume:    1,
		connected: true,
		paused:    true,
		rate:      1,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.load == nil {
		b.load = NewLoader(DefaultBlobs, fetcher.RequestOptions{})
	}
	return b
}

func (b *BufferBackend) On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func() {
	return b.bus.On(kind, fn, opts...)
}

func (b *BufferBackend) emit(kinds ...EventKind) {
	t := b.CurrentTime()
	for _, k := range kinds {
		b.bus.Emit(k, Event{Kind: k, Time: t})
	}
}

// SetFilter inserts f between the source and the gain stage. Pass nil to
// remove it.
func (b *BufferBackend) SetFilter(f effects.Effector) {
	b.mu.Lock()
	b.filter = f
	b.mu.Unlock()
}

// Decoded returns the buffer being played.
func (b *BufferBackend) Decoded() *decoder.Audio {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audio
}

// Process feeds the destination voice.
func (b *BufferBackend) Process(dst []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	node := b.node
	if node == nil || b.audio == nil || node.drained {
		clear(dst)
		return
	}
	left := b.audio.ChannelData(0)
	right := b.audio.ChannelData(1)
	if right == nil {
		right = left
	}
	n := len(left)
	gain := float32(b.volume)
	if !b.connected {
		gain = 0
	}
	for i := 0; i+1 < len(dst); i += 2 {
		idx := int(node.pos)
		if idx >= n {
			clear(dst[i:])
			node.drained = true
			remaining := b.durationLocked() - b.currentTimeLocked()
			if remaining < 0 {
				remaining = 0
			}
			b.after(time.Duration(remaining/b.rate*float64(time.Second)), func() { b.nodeEnded(node) })
			return
		}
		frac := float32(node.pos - float64(idx))
		l, r := left[idx], right[idx]
		if idx+1 < n {
			l += (left[idx+1] - l) * frac
			r += (right[idx+1] - r) * frac
		}
		if b.filter != nil {
			l, r = b.filter.Process(l, r)
		}
		dst[i] = l * gain
		dst[i+1] = r * gain
		node.pos += node.step
	}
}

func (b *BufferBackend) nodeEnded(node *sourceNode) {
	b.mu.Lock()
	if b.node != node || b.paused {
		b.mu.Unlock()
		return
	}
	b.pauseLocked()
	b.played = b.durationLocked()
	b.mu.Unlock()
	b.emit(EventPause, EventEnded)
}

func (b *BufferBackend) Play() error {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return fmt.Errorf("media: backend destroyed")
	}
	if b.audio == nil {
		b.mu.Unlock()
		return ErrNoSource
	}
	if !b.paused {
		b.mu.Unlock()
		return nil
	}
	if err := b.playLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()
	b.emit(EventPlay)
	return nil
}

func (b *BufferBackend) playLocked() error {
	if b.dest == nil {
		v, err := b.out.Open(b)
		if err != nil {
			return fmt.Errorf("media: open output: %w", err)
		}
		v.Play()
		b.dest = v
	}
	if b.played >= b.durationLocked() {
		b.played = 0
	}
	b.paused = false
	b.node = &sourceNode{pos: b.played * b.audio.SampleRate(), step: b.rate}
	b.anchor = b.now()
	if b.filter != nil {
		b.filter.Reset()
	}
	return nil
}

func (b *BufferBackend) Pause() {
	b.mu.Lock()
	if b.paused {
		b.mu.Unlock()
		return
	}
	b.pauseLocked()
	b.mu.Unlock()
	b.emit(EventPause)
}

func (b *BufferBackend) pauseLocked() {
	b.played += b.now().Sub(b.anchor).Seconds() * b.rate
	if d := b.durationLocked(); b.played > d {
		b.played = d
	}
	b.paused = true
	b.node = nil
}

func (b *BufferBackend) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTimeLocked()
}

func (b *BufferBackend) currentTimeLocked() float64 {
	if b.paused {
		return b.played
	}
	return b.played + b.now().Sub(b.anchor).Seconds()*b.rate
}

// SetTime seeks. While playing the current node is replaced so playback
// continues from the new position; seeking to the end finishes playback.
func (b *BufferBackend) SetTime(seconds float64) {
	b.mu.Lock()
	if b.audio == nil {
		b.mu.Unlock()
		return
	}
	d := b.durationLocked()
	seconds = clamp(seconds, 0, d)
	wasPlaying := !b.paused
	if wasPlaying {
		b.pauseLocked()
	}
	b.played = seconds
	finished := false
	if wasPlaying {
		if seconds >= d {
			finished = true
		} else if err := b.playLocked(); err != nil {
			finished = true
		}
	}
	b.mu.Unlock()
	b.emit(EventSeeking, EventTimeUpdate)
	if finished {
		b.emit(EventPause, EventEnded)
	}
}

func (b *BufferBackend) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durationLocked()
}

func (b *BufferBackend) durationLocked() float64 {
	if b.audio == nil {
		return 0
	}
	return b.audio.Duration()
}

func (b *BufferBackend) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volume
}

func (b *BufferBackend) SetVolume(v float64) {
	b.mu.Lock()
	b.volume = v
	b.mu.Unlock()
	b.emit(EventVolumeChange)
}

func (b *BufferBackend) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.connected
}

// SetMuted disconnects or reconnects the gain stage. Volume is untouched.
func (b *BufferBackend) SetMuted(muted bool) {
	b.mu.Lock()
	if b.connected == !muted {
		b.mu.Unlock()
		return
	}
	b.connected = !muted
	b.mu.Unlock()
	b.emit(EventVolumeChange)
}

func (b *BufferBackend) PlaybackRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

func (b *BufferBackend) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		now := b.now()
		b.played += now.Sub(b.anchor).Seconds() * b.rate
		b.anchor = now
	}
	b.rate = rate
	if b.node != nil {
		b.node.step = rate
	}
}

func (b *BufferBackend) SetPreservesPitch(preserve bool) {
	b.mu.Lock()
	b.preservesPitch = preserve
	b.mu.Unlock()
}

func (b *BufferBackend) Src() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.src
}

func (b *BufferBackend) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.paused
}

// SetSource decodes src into a new buffer. A failure leaves the current
// buffer and position untouched.
func (b *BufferBackend) SetSource(ctx context.Context, src Source) error {
	if src.URL == "" && src.Blob == nil {
		b.empty()
		return nil
	}
	if src.Blob == nil && src.URL == b.Src() {
		return nil
	}
	data := src.Blob
	if data == nil {
		var err error
		if data, err = b.load(ctx, src.URL); err != nil {
			return err
		}
	}
	audio, err := decoder.Decode(ctx, data, b.out.SampleRate())
	if err != nil {
		return err
	}
	b.mu.Lock()
	wasPlaying := !b.paused
	b.paused = true
	b.node = nil
	b.audio = audio
	b.src = src.URL
	b.played = 0
	autoplay := b.autoplay
	b.mu.Unlock()
	if wasPlaying {
		b.emit(EventPause)
	}
	b.emit(EventLoadedMetadata, EventCanPlay)
	if autoplay {
		return b.Play()
	}
	return nil
}

func (b *BufferBackend) empty() {
	b.mu.Lock()
	wasPlaying := !b.paused
	b.paused = true
	b.node = nil
	b.audio = nil
	b.src = ""
	b.played = 0
	b.mu.Unlock()
	if wasPlaying {
		b.emit(EventPause)
	}
	b.emit(EventEmptied)
}

func (b *BufferBackend) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.paused = true
	b.node = nil
	dest := b.dest
	b.dest = nil
	b.mu.Unlock()
	if dest != nil {
		dest.Close()
	}
	b.bus.UnAll()
}
