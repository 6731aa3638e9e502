package cardwave

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cbegin/cardwave-go/internal/clock"
	"github.com/cbegin/cardwave-go/internal/decoder"
	"github.com/cbegin/cardwave-go/internal/fetcher"
	"github.com/cbegin/cardwave-go/internal/media"
	"github.com/cbegin/cardwave-go/internal/mediatest"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) watch(e *Engine, kinds ...EventKind) {
	for _, k := range kinds {
		e.On(k, func(ev Event) {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		})
	}
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) last(k EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == k {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func (l *eventLog) count(k EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func sameKinds(got, want []EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// toneWAV is one second of 8 kHz mono at a constant level.
func toneWAV(level float32) []byte {
	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = level
	}
	return EncodeWAV(decoder.WrapMono(samples, 1))
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *mediatest.Backend, *mediatest.Scheduler) {
	t.Helper()
	b := mediatest.NewBackend()
	s := &mediatest.Scheduler{}
	e, err := New(opts, WithBackend(b), WithTileScheduler(s), WithFrameScheduler(&clock.FrameQueue{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Destroy)
	return e, b, s
}

func TestNewRejectsBadColor(t *testing.T) {
	opts := DefaultOptions()
	opts.WaveColor = []string{"nope"}
	if _, err := New(opts, WithBackend(mediatest.NewBackend())); err == nil {
		t.Fatal("expected color error")
	}
}

func TestLoadBlobEventOrder(t *testing.T) {
	e, b, _ := newTestEngine(t, DefaultOptions())
	var log eventLog
	log.watch(e, EventLoad, EventLoading, EventDecode, EventRender, EventRedraw, EventReady)

	if err := e.LoadBlob(context.Background(), toneWAV(0.5), nil, 0); err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	want := []EventKind{EventLoad, EventDecode, EventRedraw, EventRender, EventReady}
	if got := log.kinds(); !sameKinds(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	ready, _ := log.last(EventReady)
	if ready.Time != 1 {
		t.Fatalf("ready duration = %v, want 1", ready.Time)
	}
	if len(b.Sources()) != 1 || b.Sources()[0].URL != "blob" || b.Sources()[0].Blob == nil {
		t.Fatalf("backend sources = %+v", b.Sources())
	}
	if d := e.DecodedData(); d == nil || d.NumberOfChannels() != 1 || d.Length() != 8000 {
		t.Fatalf("decoded = %+v", d)
	}
}

func TestLoadFetchesWithProgress(t *testing.T) {
	wav := toneWAV(0.25)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Card") != "42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write(wav)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.FetchHeader = http.Header{"X-Card": []string{"42"}}
	e, b, _ := newTestEngine(t, opts)
	progress := make(chan int, 64)
	e.On(EventLoading, func(ev Event) {
		select {
		case progress <- ev.Percent:
		default:
		}
	})
	if err := e.Load(context.Background(), srv.URL+"/a.wav", nil, 0); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b.Src() != srv.URL+"/a.wav" {
		t.Fatalf("backend src = %q", b.Src())
	}
	select {
	case p := <-progress:
		if p < 0 || p > 100 {
			t.Fatalf("progress = %d", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no loading event")
	}
}

func TestLoadFetchError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	e, _, _ := newTestEngine(t, DefaultOptions())
	err := e.Load(context.Background(), srv.URL+"/missing.mp3", nil, 0)
	var fe *fetcher.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 FetchError", err)
	}
	if e.DecodedData() != nil {
		t.Fatal("decoded data after failed load")
	}
}

func TestDecodeErrorThenRecover(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	var de *decoder.DecodeError
	if err := e.LoadBlob(context.Background(), []byte("not audio at all"), nil, 0); !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if err := e.LoadBlob(context.Background(), toneWAV(0.5), nil, 0); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if e.DecodedData() == nil {
		t.Fatal("no decoded data after recovery")
	}
}

func TestLoadWithChannelDataSkipsFetchAndNormalizes(t *testing.T) {
	e, b, _ := newTestEngine(t, DefaultOptions())
	if err := e.Load(context.Background(), "http://127.0.0.1:1/never-fetched", [][]float32{{0.5, -2, 1}}, 1); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := e.DecodedData().ChannelData(0)
	want := []float32{0.25, -1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channel = %v, want %v", got, want)
		}
	}
	if b.Sources()[0].Blob != nil {
		t.Fatal("backend got a blob for pre-decoded load")
	}
	if e.Duration() != 1 {
		t.Fatalf("duration = %v, want 1", e.Duration())
	}
}

func TestOverlappingLoadCancelsPrevious(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t, DefaultOptions())
	first := make(chan error, 1)
	go func() {
		first <- e.Load(context.Background(), srv.URL+"/slow.wav", nil, 0)
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first load never reached the server")
	}
	if err := e.Load(context.Background(), "", [][]float32{{0.1, 0.2}}, 2); err != nil {
		t.Fatalf("second load: %v", err)
	}
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("first load err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first load did not return")
	}
	if d := e.DecodedData(); d == nil || d.Duration() != 2 {
		t.Fatalf("decoded = %+v, want the second load", d)
	}
}

func TestStateErrorsBeforeDecode(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	var se *StateError
	if err := e.Zoom(100); !errors.As(err, &se) || !errors.Is(err, ErrNoAudio) {
		t.Fatalf("Zoom err = %v", err)
	}
	if _, err := e.ExportPeaks(PeaksOptions{}); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("ExportPeaks err = %v", err)
	}
	if _, err := e.ExportImage("png", 1); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("ExportImage err = %v", err)
	}
}

func TestZoomEmitsAndRerenders(t *testing.T) {
	e, _, s := newTestEngine(t, DefaultOptions())
	e.Resize(100, 128)
	if err := e.Load(context.Background(), "", [][]float32{make([]float32, 1000)}, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var log eventLog
	log.watch(e, EventZoom, EventRedraw)
	if err := e.Zoom(50); err != nil {
		t.Fatalf("Zoom: %v", err)
	}
	s.RunAll()
	if ev, ok := log.last(EventZoom); !ok || ev.MinPxPerSec != 50 {
		t.Fatalf("zoom event = %+v", ev)
	}
	if g := e.Geometry(); g.WrapperWidth != 500 || !g.IsScrollable {
		t.Fatalf("geometry = %+v, want 500px scrollable", g)
	}
	if log.count(EventRedraw) == 0 {
		t.Fatal("no redraw after zoom")
	}
}

func TestClickSeeksWhenInteractive(t *testing.T) {
	e, b, _ := newTestEngine(t, DefaultOptions())
	e.Resize(100, 128)
	if err := e.Load(context.Background(), "", [][]float32{make([]float32, 100)}, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var log eventLog
	log.watch(e, EventInteraction, EventClick, EventTimeUpdate, EventSeeking)
	e.HandlePointer(PointerEvent{Kind: Click, X: 25})
	if b.CurrentTime() != 2.5 {
		t.Fatalf("time = %v, want 2.5", b.CurrentTime())
	}
	if ev, _ := log.last(EventInteraction); ev.Time != 2.5 {
		t.Fatalf("interaction time = %v, want 2.5", ev.Time)
	}
	if ev, _ := log.last(EventClick); ev.RelX != 0.25 {
		t.Fatalf("click relX = %v, want 0.25", ev.RelX)
	}
	if log.count(EventSeeking) != 1 {
		t.Fatalf("seeking events = %d, want 1", log.count(EventSeeking))
	}
	if g := e.Geometry(); g.Progress != 0.25 {
		t.Fatalf("progress = %v, want 0.25", g.Progress)
	}

	e.SetInteract(false)
	e.HandlePointer(PointerEvent{Kind: Click, X: 75})
	if b.CurrentTime() != 2.5 {
		t.Fatalf("non-interactive click moved time to %v", b.CurrentTime())
	}
}

func TestDragToSeekIsDebouncedWhilePaused(t *testing.T) {
	opts := DefaultOptions()
	opts.DragToSeek = true
	e, b, s := newTestEngine(t, opts)
	e.Resize(100, 128)
	if err := e.Load(context.Background(), "", [][]float32{make([]float32, 100)}, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var log eventLog
	log.watch(e, EventDrag)
	e.HandlePointer(PointerEvent{Kind: PointerDown, X: 10})
	e.HandlePointer(PointerEvent{Kind: PointerMove, X: 50})
	e.HandlePointer(PointerEvent{Kind: PointerUp, X: 50})
	if ev, ok := log.last(EventDrag); !ok || ev.RelX != 0.5 {
		t.Fatalf("drag event = %+v", ev)
	}
	if b.CurrentTime() != 0 {
		t.Fatalf("seeked before the debounce: %v", b.CurrentTime())
	}
	s.RunAll()
	if b.CurrentTime() != 5 {
		t.Fatalf("time = %v, want 5", b.CurrentTime())
	}
}

func TestClockDrivesProgressWhilePlaying(t *testing.T) {
	b := mediatest.NewBackend()
	frames := &clock.FrameQueue{}
	e, err := New(DefaultOptions(), WithBackend(b), WithTileScheduler(&mediatest.Scheduler{}), WithFrameScheduler(frames))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Destroy()
	e.Resize(100, 128)
	if err := e.Load(context.Background(), "", [][]float32{make([]float32, 100)}, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var log eventLog
	log.watch(e, EventPlay, EventPause, EventAudioProcess)

	if err := e.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if log.count(EventPlay) != 1 || log.count(EventAudioProcess) != 1 {
		t.Fatalf("after play: %v", log.kinds())
	}
	b.SetCurrentTime(4)
	frames.RunFrame()
	if log.count(EventAudioProcess) != 2 {
		t.Fatalf("audioprocess = %d, want 2", log.count(EventAudioProcess))
	}
	if g := e.Geometry(); g.Progress != 0.4 {
		t.Fatalf("progress = %v, want 0.4", g.Progress)
	}

	e.Pause()
	frames.RunFrame()
	frames.RunFrame()
	if log.count(EventAudioProcess) != 2 || log.count(EventPause) != 1 {
		t.Fatalf("ticks after pause: %v", log.kinds())
	}
}

func TestTransportHelpers(t *testing.T) {
	e, b, _ := newTestEngine(t, DefaultOptions())
	if err := e.Load(context.Background(), "", [][]float32{make([]float32, 100)}, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	e.SeekTo(0.5)
	e.Skip(2)
	if b.CurrentTime() != 7 {
		t.Fatalf("time = %v, want 7", b.CurrentTime())
	}
	if err := e.PlayPause(); err != nil || !e.IsPlaying() {
		t.Fatalf("PlayPause did not start playback: %v", err)
	}
	e.Stop()
	if e.IsPlaying() || b.CurrentTime() != 0 {
		t.Fatalf("after Stop playing=%v time=%v", e.IsPlaying(), b.CurrentTime())
	}
	e.SetPlaybackRatePitch(1.5, false)
	if e.PlaybackRate() != 1.5 || b.PreservesPitch() {
		t.Fatalf("rate = %v preserve = %v", e.PlaybackRate(), b.PreservesPitch())
	}
	e.SetVolume(0.3)
	e.SetMuted(true)
	if e.Volume() != 0.3 || !e.Muted() {
		t.Fatalf("volume = %v muted = %v", e.Volume(), e.Muted())
	}
}

func TestEmptyClearsWaveform(t *testing.T) {
	e, _, _ := newTestEngine(t, DefaultOptions())
	if err := e.LoadBlob(context.Background(), toneWAV(0.5), nil, 0); err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if err := e.Empty(); err != nil {
		t.Fatalf("Empty: %v", err)
	}
	d := e.DecodedData()
	if d == nil || d.Duration() != 0.001 || d.Length() != 1 {
		t.Fatalf("decoded after empty = %+v", d)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	b := mediatest.NewBackend()
	e, err := New(DefaultOptions(), WithBackend(b), WithTileScheduler(&mediatest.Scheduler{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	destroyed := 0
	e.On(EventDestroy, func(Event) { destroyed++ })
	b.Play()
	e.Destroy()
	e.Destroy()
	if destroyed != 1 {
		t.Fatalf("destroy events = %d, want 1", destroyed)
	}
	if b.IsPlaying() {
		t.Fatal("external backend still playing")
	}
	if b.Destroyed() {
		t.Fatal("external backend was destroyed")
	}
	if err := e.Load(context.Background(), "", [][]float32{{0}}, 1); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Load after destroy = %v, want ErrDestroyed", err)
	}
}

type silentVoice struct {
	mu      sync.Mutex
	playing bool
}

func (v *silentVoice) Play()           { v.mu.Lock(); v.playing = true; v.mu.Unlock() }
func (v *silentVoice) Pause()          { v.mu.Lock(); v.playing = false; v.mu.Unlock() }
func (v *silentVoice) IsPlaying() bool { v.mu.Lock(); defer v.mu.Unlock(); return v.playing }
func (v *silentVoice) Close() error    { return nil }

type silentOutput struct{}

func (silentOutput) SampleRate() int { return 8000 }

func (silentOutput) Open(media.SampleSource) (media.Voice, error) { return &silentVoice{}, nil }

func TestWebAudioBackend(t *testing.T) {
	opts := DefaultOptions()
	opts.Backend = BackendWebAudio
	e, err := New(opts, WithOutput(silentOutput{}), WithTileScheduler(&mediatest.Scheduler{}), WithFrameScheduler(&clock.FrameQueue{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Destroy()
	if err := e.LoadBlob(context.Background(), toneWAV(0.5), nil, 0); err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if d := e.Duration(); d != 1 {
		t.Fatalf("duration = %v, want 1", d)
	}
	plays := 0
	e.On(EventPlay, func(Event) { plays++ })
	if err := e.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !e.IsPlaying() || plays != 1 {
		t.Fatalf("playing = %v plays = %d", e.IsPlaying(), plays)
	}
}
