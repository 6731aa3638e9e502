package cardwave

import (
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/cbegin/cardwave-go/internal/events"
	"github.com/cbegin/cardwave-go/internal/render"
)

// Plugin extends an engine. Init wires the plugin's subscriptions and Destroy
// removes them. A plugin announces its own teardown through OnDestroy
// subscribers; the engine drops it from ActivePlugins when that happens.
type Plugin interface {
	Init(e *Engine)
	Destroy()
	OnDestroy(fn func()) (unsubscribe func())
}

// View describes where a plugin draws inside a frame.
type View struct {
	render.Geometry
	// Bounds is the frame area handed to the plugin.
	Bounds image.Rectangle
}

// Overlay is implemented by plugins that draw over the waveform.
type Overlay interface {
	DrawOverlay(dst *image.RGBA, v View) error
}

// Band is implemented by plugins that draw a strip below the waveform.
type Band interface {
	BandHeight() int
	DrawBand(dst *image.RGBA, v View) error
}

type pluginSignal int

const signalDestroy pluginSignal = 1

// BasePlugin carries the bookkeeping every plugin needs. Embed it, call its
// Init from the plugin's Init and register subscriptions with Track.
type BasePlugin struct {
	mu        sync.Mutex
	engine    *Engine
	subs      []func()
	destroyed bool
	bus       events.Bus[pluginSignal, struct{}]
}

func (p *BasePlugin) Init(e *Engine) {
	p.mu.Lock()
	p.engine = e
	p.destroyed = false
	p.mu.Unlock()
}

func (p *BasePlugin) Engine() *Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine
}

// Track records unsubscribe functions to run on Destroy.
func (p *BasePlugin) Track(unsubs ...func()) {
	p.mu.Lock()
	p.subs = append(p.subs, unsubs...)
	p.mu.Unlock()
}

func (p *BasePlugin) OnDestroy(fn func()) func() {
	return p.bus.On(signalDestroy, func(struct{}) { fn() }, events.Once())
}

func (p *BasePlugin) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Destroy runs the tracked unsubscribes and notifies OnDestroy subscribers.
func (p *BasePlugin) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	p.bus.Emit(signalDestroy, struct{}{})
}

// RegisterPlugin initializes p and adds it to the active plugins. A panic in
// Init is returned as a *PluginError and p is not added.
func (e *Engine) RegisterPlugin(p Plugin) (err error) {
	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed {
		return &StateError{Op: "register plugin", Err: ErrDestroyed}
	}
	if err := guard(func() error { p.Init(e); return nil }); err != nil {
		return &PluginError{Plugin: pluginName(p), Err: err}
	}
	e.mu.Lock()
	e.plugins = append(e.plugins, p)
	e.mu.Unlock()
	unsub := p.OnDestroy(func() { e.removePlugin(p) })
	e.mu.Lock()
	e.subs = append(e.subs, unsub)
	e.mu.Unlock()
	return nil
}

func (e *Engine) removePlugin(p Plugin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.plugins {
		if cur == p {
			e.plugins = append(e.plugins[:i:i], e.plugins[i+1:]...)
			break
		}
	}
	delete(e.disabled, p)
}

// ActivePlugins returns the registered plugins that have not been destroyed.
func (e *Engine) ActivePlugins() []Plugin {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Plugin(nil), e.plugins...)
}

func pluginName(p Plugin) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// drawPlugin runs one plugin draw call. A failure disables the plugin's
// drawing for the rest of the engine's life.
func (e *Engine) drawPlugin(p Plugin, draw func() error) {
	e.mu.Lock()
	off := e.disabled[p]
	e.mu.Unlock()
	if off {
		return
	}
	err := guard(draw)
	if err == nil {
		return
	}
	name := pluginName(p)
	e.mu.Lock()
	e.disabled[p] = true
	e.mu.Unlock()
	e.cfg.metrics.RecordPluginError(name)
	log.Printf("cardwave: %v", &PluginError{Plugin: name, Err: err})
}

// PluginDisabled reports whether p's drawing was switched off after a failure.
func (e *Engine) PluginDisabled(p Plugin) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled[p]
}
