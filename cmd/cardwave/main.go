package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/ankiconnect"
	"github.com/cbegin/cardwave-go/internal/clock"
	"github.com/cbegin/cardwave-go/internal/companion"
	"github.com/cbegin/cardwave-go/internal/config"
	"github.com/cbegin/cardwave-go/internal/effects"
	"github.com/cbegin/cardwave-go/internal/metrics"
	"github.com/cbegin/cardwave-go/internal/peakcache"
	"github.com/cbegin/cardwave-go/plugins/hover"
	"github.com/cbegin/cardwave-go/plugins/regions"
	"github.com/cbegin/cardwave-go/plugins/spectrogram"
)

const (
	minWindowW = 640
	minWindowH = 320

	textScale = 1
	charW     = 7 * textScale
	lineH     = 14 * textScale

	pad          = 8
	fieldsH      = 5*lineH + pad
	controlsH    = 72
	statusH      = lineH + 10
	seekStep     = 2.0
	rateStep     = 0.1
	zoomFactor   = 1.25
	wheelPx      = 40
	clickSlop    = 3
	dblClickTick = 20
)

var (
	bgColor       = color.RGBA{192, 192, 192, 255}
	panelColor    = color.RGBA{192, 192, 192, 255}
	borderColor   = color.RGBA{128, 128, 128, 255}
	bevelLight    = color.RGBA{255, 255, 255, 255}
	bevelDarker   = color.RGBA{64, 64, 64, 255}
	sunkenBgColor = color.RGBA{24, 24, 32, 255}
	selectedColor = color.RGBA{0, 0, 128, 255}
	sliderFill    = color.RGBA{0, 0, 128, 255}

	eqBandLabels = [5]string{"Lo", "LoM", "Mid", "HiM", "Hi"}
)

type game struct {
	cfg     config.Config
	engine  *cardwave.Engine
	comp    *companion.Companion
	regions *regions.Plugin
	frames  *clock.FrameQueue
	eq      *effects.EQ5Band
	ctx     context.Context

	frame    *image.RGBA
	frameImg *ebiten.Image

	eqGains    [5]float64
	draggingEQ int
	dragVolume bool

	pressed       bool
	pressX        int
	pressY        int
	moved         bool
	lastClickTick int
	frameTick     int
	inWave        bool

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

type uiLayout struct {
	fields, wave, eq, volume, status image.Rectangle
}

func (g *game) layoutRects() uiLayout {
	w, h := g.viewW, g.viewH
	inner := w - 2*pad
	fields := image.Rect(pad, pad, pad+inner, pad+fieldsH)
	status := image.Rect(pad, h-pad-statusH, pad+inner, h-pad)
	controls := image.Rect(pad, status.Min.Y-pad-controlsH, pad+inner, status.Min.Y-pad)
	wave := image.Rect(pad, fields.Max.Y+pad, pad+inner, controls.Min.Y-pad)
	eqW := min(inner/2, 300)
	return uiLayout{
		fields: fields,
		wave:   wave,
		eq:     image.Rect(controls.Min.X, controls.Min.Y, controls.Min.X+eqW, controls.Max.Y),
		volume: image.Rect(controls.Min.X+eqW+pad, controls.Min.Y+controlsH/2-12, controls.Max.X, controls.Min.Y+controlsH/2+12),
		status: status,
	}
}

func (g *game) Update() error {
	g.frameTick++
	g.frames.RunFrame()
	l := g.layoutRects()
	g.resizeWave(l.wave)
	g.handleKeys()
	g.handleMouse(l)
	return nil
}

// resizeWave gives the engine the rows left over once its bands are placed.
func (g *game) resizeWave(rect image.Rectangle) {
	_, frameH := g.engine.FrameSize()
	bands := frameH - g.engine.Geometry().Height
	waveH := max(16, rect.Dy()-bands)
	gm := g.engine.Geometry()
	if gm.ContainerWidth != rect.Dx() || gm.Height != waveH {
		g.engine.Resize(rect.Dx(), waveH)
	}
}

func (g *game) handleKeys() {
	ctx := g.ctx
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		if err := g.engine.PlayPause(); err != nil {
			log.Printf("play: %v", err)
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft):
		g.engine.Skip(-seekStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowRight):
		g.engine.Skip(seekStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		g.comp.AdjustRate(rateStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		g.comp.AdjustRate(-rateStep)
	case inpututil.IsKeyJustPressed(ebiten.KeyBracketLeft):
		g.zoom(1 / zoomFactor)
	case inpututil.IsKeyJustPressed(ebiten.KeyBracketRight):
		g.zoom(zoomFactor)
	case inpututil.IsKeyJustPressed(ebiten.KeyTab):
		go g.comp.CycleField(ctx)
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		g.regions.Clear()
	case inpututil.IsKeyJustPressed(ebiten.KeyM):
		g.comp.ToggleMute()
	}
}

func (g *game) zoom(factor float64) {
	gm := g.engine.Geometry()
	if gm.Duration <= 0 {
		return
	}
	pxPerSec := math.Max(g.cfg.Waveform.MinPxPerSec, float64(gm.WrapperWidth)/gm.Duration) * factor
	if err := g.engine.Zoom(pxPerSec); err != nil && !errors.Is(err, cardwave.ErrNoAudio) {
		log.Printf("zoom: %v", err)
	}
}

func (g *game) handleMouse(l uiLayout) {
	mx, my := ebiten.CursorPosition()
	x, y := float64(mx-l.wave.Min.X), float64(my-l.wave.Min.Y)
	over := pointInRect(mx, my, l.wave)

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		switch {
		case over:
			g.pressed, g.moved = true, false
			g.pressX, g.pressY = mx, my
			g.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.PointerDown, X: x, Y: y})
		case pointInRect(mx, my, l.eq):
			g.draggingEQ = g.eqBandFromMouse(mx, l.eq)
			g.dragEQ(my, l.eq)
		case pointInRect(mx, my, l.volume):
			g.dragVolume = true
			g.updateVolumeFromMouse(mx, l.volume)
		}
	}

	if over || g.pressed {
		g.inWave = true
		if abs(mx-g.pressX) > clickSlop || abs(my-g.pressY) > clickSlop {
			g.moved = true
		}
		g.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.PointerMove, X: x, Y: y})
	} else if g.inWave {
		g.inWave = false
		g.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.PointerLeave, X: x, Y: y})
	}

	if inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft) {
		if g.pressed {
			g.pressed = false
			g.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.PointerUp, X: x, Y: y})
			if !g.moved && over {
				g.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.Click, X: x, Y: y})
				if g.frameTick-g.lastClickTick <= dblClickTick {
					g.engine.HandlePointer(cardwave.PointerEvent{Kind: cardwave.DblClick, X: x, Y: y})
				}
				g.lastClickTick = g.frameTick
			}
		}
		g.draggingEQ = -1
		g.dragVolume = false
	}
	if g.draggingEQ >= 0 {
		g.dragEQ(my, l.eq)
	}
	if g.dragVolume {
		g.updateVolumeFromMouse(mx, l.volume)
	}

	if over {
		wx, wy := ebiten.Wheel()
		if d := wx + wy; d != 0 {
			g.engine.SetScroll(g.engine.Scroll() - d*wheelPx)
		}
	}
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)
	l := g.layoutRects()

	g.drawSunkenPanel(screen, l.fields)
	g.drawSunkenPanel(screen, l.wave)
	g.drawPanel(screen, l.eq)
	g.drawSunkenPanel(screen, l.status)

	g.drawFields(screen, l.fields)
	g.drawWave(screen, l.wave)
	g.drawEQ(screen, l.eq)
	g.drawVolumeSlider(screen, l.volume)
	g.drawStatus(screen, l.status)
}

func (g *game) drawFields(screen *ebiten.Image, rect image.Rectangle) {
	s := g.comp.State()
	maxChars := (rect.Dx() - 2*pad) / charW
	x, y := rect.Min.X+pad, rect.Min.Y+pad/2
	header := "Waiting for a card..."
	if s.CardID != 0 {
		header = fmt.Sprintf("Card %d  %s", s.CardID, s.DeckName)
	}
	g.drawText(screen, shortenEnd(header, maxChars), x, y)
	for i, f := range s.Fields {
		if i >= 4 {
			break
		}
		ly := y + (i+1)*lineH
		if f.Name == s.Field {
			ebitenutil.DrawRect(screen, float64(rect.Min.X+2), float64(ly), float64(rect.Dx()-4), lineH, selectedColor)
		}
		line := f.Name + ": " + strings.Join(strings.Fields(f.Value), " ")
		g.drawText(screen, shortenEnd(line, maxChars), x, ly)
	}
}

func (g *game) drawWave(screen *ebiten.Image, rect image.Rectangle) {
	w, h := g.engine.FrameSize()
	if w <= 0 || h <= 0 {
		return
	}
	if g.frame == nil || g.frame.Rect.Dx() != w || g.frame.Rect.Dy() != h {
		g.frame = image.NewRGBA(image.Rect(0, 0, w, h))
		g.frameImg = ebiten.NewImage(w, h)
	} else {
		clear(g.frame.Pix)
	}
	g.engine.DrawFrame(g.frame)
	g.frameImg.WritePixels(g.frame.Pix)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(rect.Min.X), float64(rect.Min.Y))
	screen.DrawImage(g.frameImg, op)
}

func (g *game) drawStatus(screen *ebiten.Image, rect image.Rectangle) {
	s := g.comp.State()
	msg := s.Status
	if s.Filename != "" {
		msg = s.Filename + "  " + msg
	}
	right := fmt.Sprintf("%s / %s  x%.1f", hover.FormatTime(g.engine.CurrentTime()), hover.FormatTime(g.engine.Duration()), g.engine.PlaybackRate())
	if g.engine.Muted() {
		right += "  muted"
	}
	maxChars := (rect.Dx()-2*pad)/charW - len(right) - 2
	g.drawText(screen, shortenEnd(msg, max(0, maxChars)), rect.Min.X+pad, rect.Min.Y+5)
	g.drawText(screen, right, rect.Max.X-pad-len(right)*charW, rect.Min.Y+5)
}

func (g *game) drawVolumeSlider(screen *ebiten.Image, rect image.Rectangle) {
	label := fmt.Sprintf("Vol %3d%%", int(math.Round(g.engine.Volume()*100)))
	g.drawText(screen, label, rect.Min.X, rect.Min.Y+(rect.Dy()-lineH)/2)
	track := sliderTrack(rect)
	ebitenutil.DrawRect(screen, float64(track.Min.X), float64(track.Min.Y), float64(track.Dx()), float64(track.Dy()), sunkenBgColor)
	fill := int(float64(track.Dx()) * clamp(g.engine.Volume(), 0, 1))
	ebitenutil.DrawRect(screen, float64(track.Min.X), float64(track.Min.Y), float64(fill), float64(track.Dy()), sliderFill)
	drawSunkenBorder(screen, track)
}

func sliderTrack(rect image.Rectangle) image.Rectangle {
	left := rect.Min.X + 10*charW
	return image.Rect(left, rect.Min.Y+4, max(left+1, rect.Max.X), rect.Max.Y-4)
}

func (g *game) updateVolumeFromMouse(mx int, rect image.Rectangle) {
	track := sliderTrack(rect)
	g.comp.SetVolume(clamp(float64(mx-track.Min.X)/float64(track.Dx()), 0, 1))
}

func (g *game) drawEQ(screen *ebiten.Image, rect image.Rectangle) {
	innerX := rect.Min.X + pad
	innerY := rect.Min.Y + 4
	innerH := rect.Dy() - 4 - pad - lineH
	bandW := (rect.Dx() - pad*2) / len(eqBandLabels)
	if bandW < 10 || innerH <= 0 {
		return
	}
	for i, label := range eqBandLabels {
		bx := innerX + i*bandW
		bw := bandW - 4
		ebitenutil.DrawRect(screen, float64(bx+bw/2-2), float64(innerY), 4, float64(innerH), bevelDarker)
		centerY := innerY + innerH/2
		ebitenutil.DrawRect(screen, float64(bx), float64(centerY), float64(bw), 1, borderColor)
		frac := clamp(g.eqGains[i]/2.0, 0, 1)
		knobY := innerY + innerH - int(frac*float64(innerH)) - 4
		knob := image.Rect(bx+2, knobY, bx+bw-2, knobY+8)
		ebitenutil.DrawRect(screen, float64(knob.Min.X), float64(knob.Min.Y), float64(knob.Dx()), float64(knob.Dy()), panelColor)
		drawBorder(screen, knob)
		g.drawText(screen, label, bx+(bw-len(label)*charW)/2, innerY+innerH+2)
	}
}

func (g *game) eqBandFromMouse(mx int, rect image.Rectangle) int {
	bandW := (rect.Dx() - pad*2) / len(eqBandLabels)
	if bandW <= 0 {
		return -1
	}
	idx := (mx - rect.Min.X - pad) / bandW
	if idx < 0 || idx >= len(eqBandLabels) {
		return -1
	}
	return idx
}

func (g *game) dragEQ(my int, rect image.Rectangle) {
	band := g.draggingEQ
	if band < 0 {
		return
	}
	innerY := rect.Min.Y + 4
	innerH := rect.Dy() - 4 - pad - lineH
	if innerH <= 0 {
		return
	}
	gain := (1 - clamp(float64(my-innerY)/float64(innerH), 0, 1)) * 2
	g.eqGains[band] = gain
	g.eq.SetGain(band, float32(gain))
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, minWindowW)
	g.viewH = max(outsideH, minWindowH)
	return g.viewW, g.viewH
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), panelColor)
	drawBorder(screen, rect)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), sunkenBgColor)
	drawSunkenBorder(screen, rect)
}

// drawBorder draws a raised bevel.
func drawBorder(screen *ebiten.Image, rect image.Rectangle) {
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelLight)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelLight)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+h-2, w-3, 1, borderColor)
	ebitenutil.DrawRect(screen, x+w-2, y+1, 1, h-3, borderColor)
}

func drawSunkenBorder(screen *ebiten.Image, rect image.Rectangle) {
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, borderColor)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, borderColor)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelLight)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelLight)
	ebitenutil.DrawRect(screen, x+1, y+1, w-3, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+2, 1, h-4, bevelDarker)
}

func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	if msg == "" {
		return
	}
	img := g.textCache[msg]
	if img == nil {
		img = ebiten.NewImage(max(1, len([]rune(msg))*7), 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		if len(g.textCache) > 3000 {
			g.textCache = make(map[string]*ebiten.Image, 1024)
		}
		g.textCache[msg] = img
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(textScale, textScale)
	op.GeoM.Translate(float64(x), float64(y))
	screen.DrawImage(img, op)
}

func shortenEnd(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(r[:max(0, maxChars)])
	}
	return string(r[:maxChars-3]) + "..."
}

func clamp(v, minV, maxV float64) float64 {
	return math.Max(minV, math.Min(maxV, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func pointInRect(x, y int, rect image.Rectangle) bool {
	return x >= rect.Min.X && x < rect.Max.X && y >= rect.Min.Y && y < rect.Max.Y
}

func main() {
	cfg, err := config.Load("cardwave", os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	prefs, err := config.OpenPrefs(cfg.PrefsPath)
	if err != nil {
		log.Fatal(err)
	}
	cache, err := peakcache.Open(cfg.CacheDir, peakcache.WithMetrics(m))
	if err != nil {
		log.Fatal(err)
	}
	defer cache.Close()

	eq, filter := effects.NewPlaybackFilter(cardwave.DefaultOutputRate, cfg.EQ, cfg.Level)
	var gains [5]float64
	for i, g := range eq.Gains() {
		gains[i] = float64(g)
	}

	frames := &clock.FrameQueue{}
	engine, err := cardwave.New(cfg.EngineOptions(),
		cardwave.WithFrameScheduler(frames),
		cardwave.WithMetrics(m),
		cardwave.WithFilter(filter))
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Destroy()

	rp := regions.New(regions.Options{Loop: true})
	hp, err := hover.New(hover.Options{})
	if err != nil {
		log.Fatal(err)
	}
	plugins := []cardwave.Plugin{rp, hp}
	if cfg.Waveform.Spectrogram {
		sp, err := spectrogram.New(spectrogram.Options{Height: 96})
		if err != nil {
			log.Fatal(err)
		}
		plugins = append(plugins, sp)
	}
	for _, p := range plugins {
		if err := engine.RegisterPlugin(p); err != nil {
			log.Fatal(err)
		}
	}
	if _, err := rp.EnableDragSelection(""); err != nil {
		log.Fatal(err)
	}

	client := ankiconnect.NewClient(cfg.AnkiURL, ankiconnect.WithMetrics(m))
	comp, err := companion.New(client, engine,
		companion.WithPeakCache(cache),
		companion.WithPrefs(prefs),
		companion.WithInterval(cfg.PollInterval))
	if err != nil {
		log.Fatal(err)
	}
	defer comp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return comp.Run(ctx) })
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		grp.Go(func() error {
			log.Printf("metrics on http://%s/metrics", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	g := &game{
		cfg:        cfg,
		engine:     engine,
		comp:       comp,
		regions:    rp,
		frames:     frames,
		eq:         eq,
		ctx:        ctx,
		eqGains:    gains,
		draggingEQ: -1,
		textCache:  make(map[string]*ebiten.Image, 1024),
		viewW:      cfg.Window.Width,
		viewH:      cfg.Window.Height,
	}
	ebiten.SetWindowSize(cfg.Window.Width, cfg.Window.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("cardwave")
	runErr := ebiten.RunGame(g)
	cancel()
	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
