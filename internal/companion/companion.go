// Package companion follows the card on review in the flashcard application
// and loads the audio named in one of its fields into a waveform engine.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/ankiconnect"
	"github.com/cbegin/cardwave-go/internal/config"
	"github.com/cbegin/cardwave-go/internal/peakcache"
)

const (
	DefaultInterval = 200 * time.Millisecond

	minRate = 0.1
	maxRate = 4
)

// Status lines shown to the user.
const (
	StatusNoMatch      = "No matching audio file found"
	StatusBadField     = "Field not found or invalid regex pattern"
	StatusLoaded       = "Audio file loaded"
	StatusFileNotFound = "Audio file not found"
)

// peaksOptions is the resolution peaks are cached at.
var peaksOptions = cardwave.PeaksOptions{Channels: 2, MaxLength: 8000, Precision: 10000}

// FieldValue is one field of the current card, in note order.
type FieldValue struct {
	Name  string
	Value string
}

// State is a snapshot for display.
type State struct {
	CardID   int64
	DeckName string
	Fields   []FieldValue
	Field    string
	Pattern  string
	Filename string
	Status   string
}

type Companion struct {
	client   *ankiconnect.Client
	engine   *cardwave.Engine
	cache    *peakcache.Cache
	prefs    *config.PrefStore
	interval time.Duration
	unsub    func()
	closed   sync.Once

	mu       sync.Mutex
	card     *ankiconnect.Card
	fields   []string
	field    string
	pattern  *regexp.Regexp
	filename string
	status   string
	cancel   context.CancelFunc
}

type Option func(*Companion)

func WithPeakCache(c *peakcache.Cache) Option {
	return func(cp *Companion) { cp.cache = c }
}

// WithPrefs restores the field, pattern, rate and volume from s and saves
// every later change back to it.
func WithPrefs(s *config.PrefStore) Option {
	return func(cp *Companion) { cp.prefs = s }
}

func WithInterval(d time.Duration) Option {
	return func(cp *Companion) { cp.interval = d }
}

// New attaches a companion to engine. Interacting with the waveform toggles
// playback.
func New(client *ankiconnect.Client, engine *cardwave.Engine, opts ...Option) (*Companion, error) {
	c := &Companion{
		client:   client,
		engine:   engine,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	prefs := config.DefaultPrefs()
	if c.prefs != nil {
		prefs = c.prefs.Get()
	}
	re, err := regexp.Compile(prefs.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", prefs.Pattern, err)
	}
	c.pattern = re
	c.field = prefs.Field
	if prefs.Rate > 0 {
		engine.SetPlaybackRate(prefs.Rate)
	}
	engine.SetVolume(prefs.Volume)
	engine.SetMuted(prefs.Muted)

	c.unsub = engine.On(cardwave.EventInteraction, func(cardwave.Event) {
		if err := engine.PlayPause(); err != nil {
			log.Printf("companion: play: %v", err)
		}
	})
	return c, nil
}

// Run polls for the current card until ctx is done.
func (c *Companion) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Printf("companion: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll asks for the current card once. Nothing happens unless the card
// changed since the last poll.
func (c *Companion) Poll(ctx context.Context) error {
	card, err := c.client.CurrentCard(ctx)
	if err != nil {
		return err
	}
	if card == nil {
		return nil
	}
	c.mu.Lock()
	if c.card != nil && c.card.CardID == card.CardID {
		c.mu.Unlock()
		return nil
	}
	c.card = card
	c.populateFields()
	c.mu.Unlock()

	c.setStatus(fmt.Sprintf("Card with ID %d fetched", card.CardID))
	c.reload(ctx)
	return nil
}

// populateFields keeps the selected field when the new card has it.
// Otherwise it picks the first field the pattern matches, or the first field.
func (c *Companion) populateFields() {
	c.fields = c.card.FieldNames()
	for _, name := range c.fields {
		if name == c.field {
			return
		}
	}
	if len(c.fields) == 0 {
		return
	}
	c.field = c.fields[0]
	for _, name := range c.fields {
		if c.pattern.MatchString(c.card.Fields[name].Value) {
			c.field = name
			return
		}
	}
}

// SetField selects the field audio is read from and loads it again.
func (c *Companion) SetField(ctx context.Context, name string) {
	c.mu.Lock()
	c.field = name
	c.mu.Unlock()
	c.savePrefs(func(p *config.Prefs) { p.Field = name })
	c.reload(ctx)
}

// CycleField moves to the next field of the current card.
func (c *Companion) CycleField(ctx context.Context) {
	c.mu.Lock()
	if len(c.fields) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.fields[0]
	for i, name := range c.fields {
		if name == c.field {
			next = c.fields[(i+1)%len(c.fields)]
			break
		}
	}
	c.mu.Unlock()
	c.SetField(ctx, next)
}

// SetPattern replaces the file name pattern and loads again. The pattern
// is kept unchanged when expr does not compile.
func (c *Companion) SetPattern(ctx context.Context, expr string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		c.setStatus(StatusBadField)
		return fmt.Errorf("pattern %q: %w", expr, err)
	}
	c.mu.Lock()
	c.pattern = re
	c.mu.Unlock()
	c.savePrefs(func(p *config.Prefs) { p.Pattern = expr })
	c.reload(ctx)
	return nil
}

// AdjustRate changes the playback rate by delta within [0.1, 4].
func (c *Companion) AdjustRate(delta float64) float64 {
	rate := c.engine.PlaybackRate() + delta
	rate = max(minRate, min(maxRate, rate))
	c.engine.SetPlaybackRate(rate)
	c.savePrefs(func(p *config.Prefs) { p.Rate = rate })
	return rate
}

func (c *Companion) ToggleMute() bool {
	muted := !c.engine.Muted()
	c.engine.SetMuted(muted)
	c.savePrefs(func(p *config.Prefs) { p.Muted = muted })
	return muted
}

func (c *Companion) SetVolume(v float64) {
	v = max(0, min(1, v))
	c.engine.SetVolume(v)
	c.savePrefs(func(p *config.Prefs) { p.Volume = v })
}

func (c *Companion) savePrefs(fn func(*config.Prefs)) {
	if c.prefs == nil {
		return
	}
	if err := c.prefs.Update(fn); err != nil {
		log.Printf("companion: %v", err)
	}
}

func (c *Companion) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Field:    c.field,
		Pattern:  c.pattern.String(),
		Filename: c.filename,
		Status:   c.status,
	}
	if c.card != nil {
		s.CardID = c.card.CardID
		s.DeckName = c.card.DeckName
		for _, name := range c.fields {
			s.Fields = append(s.Fields, FieldValue{Name: name, Value: c.card.Fields[name].Value})
		}
	}
	return s
}

func (c *Companion) setStatus(s string) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		log.Printf("companion: %s", s)
	}
}

// Extract returns the file name pattern finds in value: the first capture
// group when the pattern has one, otherwise the whole match.
func Extract(pattern *regexp.Regexp, value string) (string, bool) {
	m := pattern.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], m[1] != ""
	}
	return m[0], m[0] != ""
}

// reload loads the audio of the selected field of the current card. A reload
// started while another is running cancels it.
func (c *Companion) reload(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	card, field, pattern := c.card, c.field, c.pattern
	c.filename = ""
	c.mu.Unlock()
	if card == nil {
		return
	}

	f, ok := card.Fields[field]
	if !ok {
		c.clear(StatusBadField)
		return
	}
	name, ok := Extract(pattern, f.Value)
	if !ok {
		c.clear(StatusNoMatch)
		return
	}
	c.mu.Lock()
	c.filename = name
	c.mu.Unlock()

	data, err := c.client.RetrieveMediaFile(ctx, name)
	switch {
	case errors.Is(err, ankiconnect.ErrNotFound):
		c.clear(StatusFileNotFound)
		return
	case err != nil:
		if ctx.Err() == nil {
			c.clear("Error: " + err.Error())
		}
		return
	}
	c.setStatus(fmt.Sprintf("Audio fetched from card with ID %d", card.CardID))

	if err := c.load(ctx, name, data); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.setStatus("Error: " + err.Error())
		}
		return
	}
	c.setStatus(StatusLoaded)
}

// load hands data to the engine, drawing from cached peaks when the same file
// was decoded before.
func (c *Companion) load(ctx context.Context, name string, data []byte) error {
	key := fmt.Sprintf("%s:%d", name, len(data))
	if c.cache != nil {
		entry, ok, err := c.cache.Get(key)
		if err != nil {
			log.Printf("companion: %v", err)
		}
		if ok {
			return c.engine.LoadBlob(ctx, data, entry.Peaks, entry.Duration)
		}
	}
	if err := c.engine.LoadBlob(ctx, data, nil, 0); err != nil {
		return err
	}
	if c.cache == nil {
		return nil
	}
	peaks, err := c.engine.ExportPeaks(peaksOptions)
	if err != nil {
		return nil
	}
	if err := c.cache.Put(key, c.engine.Duration(), peaks); err != nil {
		log.Printf("companion: %v", err)
	}
	return nil
}

// clear shows status and empties the waveform so the last card's audio is
// not left on screen.
func (c *Companion) clear(status string) {
	c.setStatus(status)
	if c.engine.IsPlaying() {
		c.engine.Pause()
	}
	if err := c.engine.Empty(); err != nil {
		log.Printf("companion: %v", err)
	}
}

// Close stops toggling playback on interaction. It does not destroy the
// engine.
func (c *Companion) Close() {
	c.closed.Do(func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		c.unsub()
	})
}
