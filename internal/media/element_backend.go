package media

import (
	"context"
	"sync"

	"github.com/cbegin/cardwave-go/internal/events"
)

type ElementOptions struct {
	// External marks an element the caller owns; Destroy only pauses it.
	External     bool
	Blobs        *BlobStore
	Autoplay     bool
	PlaybackRate float64
}

// ElementBackend drives an Element.
type ElementBackend struct {
	el       Element
	external bool
	blobs    *BlobStore
	autoplay bool

	mu      sync.Mutex
	blobURL string
	unsubs  []func()
}

func NewElementBackend(el Element, opts ElementOptions) *ElementBackend {
	b := &ElementBackend{
		el:       el,
		external: opts.External,
		blobs:    opts.Blobs,
		autoplay: opts.Autoplay,
	}
	if b.blobs == nil {
		b.blobs = DefaultBlobs
	}
	if rate := opts.PlaybackRate; rate > 0 && rate != 1 {
		b.unsubs = append(b.unsubs, el.On(EventCanPlay, func(Event) {
			el.SetPlaybackRate(rate)
		}, events.Once()))
	}
	if b.autoplay {
		b.unsubs = append(b.unsubs, el.On(EventCanPlay, func(Event) {
			_ = el.Play()
		}))
	}
	return b
}

func (b *ElementBackend) Element() Element { return b.el }

func (b *ElementBackend) Play() error { return b.el.Play() }

func (b *ElementBackend) Pause() { b.el.Pause() }

func (b *ElementBackend) SetTime(seconds float64) { b.el.SetCurrentTime(seconds) }

func (b *ElementBackend) CurrentTime() float64 { return b.el.CurrentTime() }

func (b *ElementBackend) Duration() float64 { return b.el.Duration() }

func (b *ElementBackend) Volume() float64 { return b.el.Volume() }

func (b *ElementBackend) SetVolume(v float64) { b.el.SetVolume(v) }

func (b *ElementBackend) Muted() bool { return b.el.Muted() }

func (b *ElementBackend) SetMuted(muted bool) { b.el.SetMuted(muted) }

func (b *ElementBackend) PlaybackRate() float64 { return b.el.PlaybackRate() }

func (b *ElementBackend) SetPlaybackRate(rate float64) { b.el.SetPlaybackRate(rate) }

func (b *ElementBackend) SetPreservesPitch(preserve bool) { b.el.SetPreservesPitch(preserve) }

func (b *ElementBackend) Src() string { return b.el.Src() }

func (b *ElementBackend) IsPlaying() bool { return !b.el.Paused() && !b.el.Ended() }

func (b *ElementBackend) On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func() {
	return b.el.On(kind, fn, opts...)
}

// SetSource points the element at src. An unchanged URL is a no-op. A blob
// gets a fresh blob: URL and the previous one is revoked first.
func (b *ElementBackend) SetSource(ctx context.Context, src Source) error {
	if src.URL != "" && b.el.Src() == src.URL {
		return nil
	}
	b.revokeBlob()
	next := src.URL
	if src.Blob != nil {
		next = b.blobs.Create(src.Blob)
		b.mu.Lock()
		b.blobURL = next
		b.mu.Unlock()
	}
	return b.el.SetSrc(ctx, next)
}

func (b *ElementBackend) revokeBlob() {
	b.mu.Lock()
	url := b.blobURL
	b.blobURL = ""
	b.mu.Unlock()
	if url != "" {
		b.blobs.Revoke(url)
	}
}

// Destroy pauses playback. Owned elements are also released.
func (b *ElementBackend) Destroy() {
	b.el.Pause()
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	if b.external {
		return
	}
	b.revokeBlob()
	b.el.Close()
}
