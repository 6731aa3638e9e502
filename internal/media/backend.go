package media

import (
	"context"
	"errors"

	"github.com/cbegin/cardwave-go/internal/events"
)

type EventKind int

const (
	EventPlay EventKind = iota + 1
	EventPause
	EventTimeUpdate
	EventEnded
	EventSeeking
	EventVolumeChange
	EventLoadedMetadata
	EventCanPlay
	EventEmptied
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	case EventSeeking:
		return "seeking"
	case EventVolumeChange:
		return "volumechange"
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventCanPlay:
		return "canplay"
	case EventEmptied:
		return "emptied"
	}
	return "unknown"
}

// Event is delivered to backend subscribers. Time is the current time in
// seconds when the event fired.
type Event struct {
	Kind EventKind
	Time float64
}

var ErrNoSource = errors.New("media: no source loaded")

// Source names what a backend should play. Blob takes precedence over URL
// as the data; URL still identifies the source.
type Source struct {
	URL  string
	Blob []byte
}

// Backend is the playback contract the engine drives. Implementations must be
// safe for concurrent use and must not hold locks while emitting events.
type Backend interface {
	Play() error
	Pause()
	SetTime(seconds float64)
	CurrentTime() float64
	Duration() float64
	Volume() float64
	SetVolume(v float64)
	Muted() bool
	SetMuted(muted bool)
	PlaybackRate() float64
	SetPlaybackRate(rate float64)
	SetPreservesPitch(preserve bool)
	SetSource(ctx context.Context, src Source) error
	Src() string
	IsPlaying() bool
	On(kind EventKind, fn func(Event), opts ...events.SubscribeOption) func()
	Destroy()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
