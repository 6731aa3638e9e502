package companion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/ankiconnect"
	"github.com/cbegin/cardwave-go/internal/config"
	"github.com/cbegin/cardwave-go/internal/decoder"
	"github.com/cbegin/cardwave-go/internal/mediatest"
	"github.com/cbegin/cardwave-go/internal/peakcache"
)

// anki is a fake flashcard server with one current card and a media folder.
type anki struct {
	mu     sync.Mutex
	card   *ankiconnect.Card
	media  map[string][]byte
	calls  map[string]int
	failOn string
}

func (a *anki) setCard(id int64, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	card := &ankiconnect.Card{CardID: id, DeckName: "Listening", Fields: map[string]ankiconnect.Field{}}
	order := 0
	for _, name := range []string{"Front", "Back", "Audio"} {
		if v, ok := fields[name]; ok {
			card.Fields[name] = ankiconnect.Field{Value: v, Order: order}
			order++
		}
	}
	a.card = card
}

func (a *anki) addMedia(name string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.media[name] = data
}

func (a *anki) fail(action string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failOn = action
}

func (a *anki) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[action]
}

func (a *anki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string            `json:"action"`
		Params map[string]string `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[req.Action]++
	reply := map[string]any{"error": nil, "result": nil}
	switch {
	case req.Action == a.failOn:
		reply["error"] = "collection is not available"
	case req.Action == "guiCurrentCard":
		reply["result"] = a.card
	case req.Action == "retrieveMediaFile":
		if data, ok := a.media[req.Params["filename"]]; ok {
			reply["result"] = base64.StdEncoding.EncodeToString(data)
		} else {
			reply["result"] = false
		}
	}
	json.NewEncoder(w).Encode(reply)
}

func toneWAV(level float32, seconds int) []byte {
	samples := make([]float32, 8000*seconds)
	for i := range samples {
		samples[i] = level
	}
	return cardwave.EncodeWAV(decoder.WrapMono(samples, float64(seconds)))
}

type harness struct {
	srv     *anki
	engine  *cardwave.Engine
	backend *mediatest.Backend
	comp    *Companion
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	a := &anki{
		media: map[string][]byte{"hello.wav": toneWAV(0.5, 1)},
		calls: map[string]int{},
	}
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)

	b := mediatest.NewBackend()
	e, err := cardwave.New(cardwave.DefaultOptions(),
		cardwave.WithBackend(b),
		cardwave.WithTileScheduler(&mediatest.Scheduler{}))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(e.Destroy)
	c, err := New(ankiconnect.NewClient(srv.URL), e, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return &harness{srv: a, engine: e, backend: b, comp: c}
}

func (h *harness) poll(t *testing.T) State {
	t.Helper()
	if err := h.comp.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	return h.comp.State()
}

func TestPollLoadsAudioFromCard(t *testing.T) {
	h := newHarness(t)
	h.srv.setCard(42, map[string]string{"Front": "hello", "Audio": "[sound:hello.wav]"})
	s := h.poll(t)
	if s.Status != StatusLoaded {
		t.Fatalf("status = %q, want %q", s.Status, StatusLoaded)
	}
	if s.CardID != 42 || s.Field != "Audio" || s.Filename != "hello.wav" {
		t.Fatalf("state = %+v", s)
	}
	if len(s.Fields) != 2 || s.Fields[0].Name != "Front" || s.Fields[1].Value != "[sound:hello.wav]" {
		t.Fatalf("fields = %+v", s.Fields)
	}
	d := h.engine.DecodedData()
	if d == nil || d.Duration() != 1 {
		t.Fatalf("decoded = %v", d)
	}
	if src := h.backend.Sources(); len(src) != 1 || src[0].URL != "blob" {
		t.Fatalf("sources = %+v", src)
	}
}

func TestPollIgnoresSameCard(t *testing.T) {
	h := newHarness(t)
	h.srv.setCard(42, map[string]string{"Audio": "[sound:hello.wav]"})
	h.poll(t)
	h.poll(t)
	h.poll(t)
	if n := h.srv.count("guiCurrentCard"); n != 3 {
		t.Fatalf("card requests = %d, want 3", n)
	}
	if n := h.srv.count("retrieveMediaFile"); n != 1 {
		t.Fatalf("media requests = %d, want 1", n)
	}
}

func TestPollWithoutCard(t *testing.T) {
	h := newHarness(t)
	if s := h.poll(t); s.CardID != 0 || s.Status != "" {
		t.Fatalf("state = %+v", s)
	}
}

func TestStatuses(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   string
	}{
		{"missing file", map[string]string{"Audio": "[sound:gone.mp3]"}, StatusFileNotFound},
		{"no match", map[string]string{"Front": "plain text"}, StatusNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.srv.setCard(7, tt.fields)
			if s := h.poll(t); s.Status != tt.want {
				t.Fatalf("status = %q, want %q", s.Status, tt.want)
			}
		})
	}
}

func TestServerErrorStatus(t *testing.T) {
	h := newHarness(t)
	h.srv.setCard(7, map[string]string{"Audio": "[sound:hello.wav]"})
	h.srv.fail("retrieveMediaFile")
	s := h.poll(t)
	if !strings.HasPrefix(s.Status, "Error: ") || !strings.Contains(s.Status, "collection is not available") {
		t.Fatalf("status = %q", s.Status)
	}
}

func TestPollReportsCardError(t *testing.T) {
	h := newHarness(t)
	h.srv.fail("guiCurrentCard")
	var ae *ankiconnect.APIError
	if err := h.comp.Poll(context.Background()); !errors.As(err, &ae) {
		t.Fatalf("err = %v, want APIError", err)
	}
}

func TestFieldSelectionSurvivesCardChange(t *testing.T) {
	h := newHarness(t)
	h.srv.addMedia("bye.wav", toneWAV(0.25, 2))
	h.srv.setCard(1, map[string]string{"Front": "[sound:hello.wav]", "Back": "[sound:bye.wav]"})
	if s := h.poll(t); s.Field != "Front" || s.Filename != "hello.wav" {
		t.Fatalf("first card = %+v", s)
	}
	h.comp.SetField(context.Background(), "Back")
	if s := h.comp.State(); s.Filename != "bye.wav" || s.Status != StatusLoaded {
		t.Fatalf("after SetField = %+v", s)
	}
	if d := h.engine.Duration(); d != 2 {
		t.Fatalf("duration = %v, want 2", d)
	}
	h.srv.setCard(2, map[string]string{"Front": "x", "Back": "[sound:hello.wav]"})
	if s := h.poll(t); s.Field != "Back" || s.Filename != "hello.wav" {
		t.Fatalf("second card = %+v", s)
	}
}

func TestMissingFieldStatus(t *testing.T) {
	h := newHarness(t)
	h.srv.setCard(1, map[string]string{"Audio": "[sound:hello.wav]"})
	h.poll(t)
	h.comp.SetField(context.Background(), "Nope")
	if s := h.comp.State(); s.Status != StatusBadField {
		t.Fatalf("status = %q, want %q", s.Status, StatusBadField)
	}
	if h.engine.Duration() == 1 {
		t.Fatal("waveform of the previous file left in place")
	}
}

func TestCycleField(t *testing.T) {
	h := newHarness(t)
	h.srv.setCard(1, map[string]string{"Front": "a", "Back": "b", "Audio": "[sound:hello.wav]"})
	h.poll(t)
	want := []string{"Front", "Back", "Audio"}
	for _, w := range want {
		h.comp.CycleField(context.Background())
		if got := h.comp.State().Field; got != w {
			t.Fatalf("field = %q, want %q", got, w)
		}
	}
}

func TestSetPattern(t *testing.T) {
	h := newHarness(t)
	h.srv.setCard(1, map[string]string{"Audio": "[sound:hello.wav] [sound:other.wav]"})
	h.poll(t)
	if err := h.comp.SetPattern(context.Background(), `(`); err == nil {
		t.Fatal("expected error for bad pattern")
	}
	if s := h.comp.State(); s.Status != StatusBadField || s.Pattern != config.DefaultPattern {
		t.Fatalf("state after bad pattern = %+v", s)
	}
	if err := h.comp.SetPattern(context.Background(), `sound:(other\.wav)`); err != nil {
		t.Fatalf("SetPattern: %v", err)
	}
	if s := h.comp.State(); s.Filename != "other.wav" || s.Status != StatusFileNotFound {
		t.Fatalf("state = %+v", s)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    string
		ok      bool
	}{
		{config.DefaultPattern, "[sound:a.mp3]", "a.mp3", true},
		{`sound:([^\]]+)`, "[sound:b.ogg]", "b.ogg", true},
		{`sound:([^\]]*)`, "[sound:]", "", false},
		{config.DefaultPattern, "text", "", false},
	}
	for _, tt := range tests {
		got, ok := Extract(regexp.MustCompile(tt.pattern), tt.value)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("Extract(%q, %q) = %q, %v, want %q, %v", tt.pattern, tt.value, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPeakCache(t *testing.T) {
	cache, err := peakcache.Open(filepath.Join(t.TempDir(), "peaks"))
	if err != nil {
		t.Fatalf("peakcache: %v", err)
	}
	t.Cleanup(cache.Close)
	h := newHarness(t, WithPeakCache(cache))
	data := toneWAV(0.5, 1)
	key := fmt.Sprintf("hello.wav:%d", len(data))

	h.srv.setCard(1, map[string]string{"Audio": "[sound:hello.wav]"})
	h.poll(t)
	entry, ok, err := cache.Get(key)
	if err != nil || !ok {
		t.Fatalf("cache after first load = %v, %v", ok, err)
	}
	if entry.Duration != 1 {
		t.Fatalf("cached duration = %v, want 1", entry.Duration)
	}

	// Swap in distinctive peaks to see the next load draw from the cache.
	if err := cache.Put(key, 1, [][]float32{{0.5, -0.5, 0.25}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	h.srv.setCard(2, map[string]string{"Audio": "[sound:hello.wav]"})
	if s := h.poll(t); s.Status != StatusLoaded {
		t.Fatalf("status = %q", s.Status)
	}
	if n := h.engine.DecodedData().Length(); n != 3 {
		t.Fatalf("decoded length = %d, want the 3 cached peaks", n)
	}
}

func TestInteractionTogglesPlayback(t *testing.T) {
	h := newHarness(t)
	h.engine.Resize(100, 128)
	h.srv.setCard(1, map[string]string{"Audio": "[sound:hello.wav]"})
	h.poll(t)
	h.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 50})
	if !h.backend.IsPlaying() {
		t.Fatal("click did not start playback")
	}
	h.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 50})
	if h.backend.IsPlaying() {
		t.Fatal("second click did not pause")
	}
	h.comp.Close()
	h.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.Click, X: 50})
	if h.backend.IsPlaying() {
		t.Fatal("closed companion still toggles playback")
	}
}

func TestPrefsAreRestoredAndSaved(t *testing.T) {
	store, err := config.OpenPrefs(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("OpenPrefs: %v", err)
	}
	store.Update(func(p *config.Prefs) {
		p.Field = "Back"
		p.Rate = 1.5
		p.Volume = 0.5
	})
	h := newHarness(t, WithPrefs(store))
	if h.backend.PlaybackRate() != 1.5 || h.backend.Volume() != 0.5 {
		t.Fatalf("rate %v volume %v not restored", h.backend.PlaybackRate(), h.backend.Volume())
	}
	h.srv.setCard(1, map[string]string{"Front": "[sound:hello.wav]", "Back": "[sound:hello.wav]"})
	if s := h.poll(t); s.Field != "Back" {
		t.Fatalf("field = %q, want restored Back", s.Field)
	}
	if r := h.comp.AdjustRate(-2); r != 0.1 {
		t.Fatalf("rate = %v, want clamp to 0.1", r)
	}
	if !h.comp.ToggleMute() {
		t.Fatal("ToggleMute did not mute")
	}
	h.comp.CycleField(context.Background())
	got := store.Get()
	if got.Rate != 0.1 || !got.Muted || got.Field != "Front" {
		t.Fatalf("saved prefs = %+v", got)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	h := newHarness(t, WithInterval(5*time.Millisecond))
	h.srv.setCard(9, map[string]string{"Audio": "[sound:hello.wav]"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.comp.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for h.srv.count("guiCurrentCard") < 3 {
		select {
		case <-deadline:
			t.Fatal("Run did not keep polling")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if s := h.comp.State(); s.CardID != 9 || s.Status != StatusLoaded {
		t.Fatalf("state = %+v", s)
	}
}
