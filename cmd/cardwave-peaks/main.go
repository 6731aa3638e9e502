package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/plugins/hover"
)

type peaksFile struct {
	Source     string      `json:"source"`
	Duration   float64     `json:"duration"`
	SampleRate float64     `json:"sampleRate"`
	Channels   int         `json:"channels"`
	Data       [][]float32 `json:"data"`
}

func main() {
	var (
		output     = pflag.StringP("output", "o", "-", "peaks JSON output file, - for stdout")
		maxLength  = pflag.IntP("max-length", "n", 8000, "peaks per channel")
		channels   = pflag.IntP("channels", "c", 2, "channels to export")
		precision  = pflag.Float64("precision", 10000, "round peaks to 1/precision")
		sampleRate = pflag.Int("sample-rate", 8000, "decode rate")
		imageDir   = pflag.String("images", "", "write waveform tiles into this directory")
		format     = pflag.String("format", "png", "tile format: png, jpeg, bmp or tiff")
		quality    = pflag.Float64("quality", 0.92, "jpeg quality, 0..1")
		width      = pflag.IntP("width", "w", 1000, "waveform width in pixels")
		height     = pflag.Int("height", 128, "waveform height in pixels")
		pxPerSec   = pflag.Float64("min-px-per-sec", 0, "minimum zoom")
		barWidth   = pflag.Float64("bar-width", 0, "bar width, 0 draws a line")
		normalize  = pflag.Bool("normalize", false, "stretch peaks to full height")
		wavPath    = pflag.String("wav", "", "write the decoded audio as 16-bit WAV")
		play       = pflag.BoolP("play", "p", false, "play the file to the end")
		backend    = pflag.String("backend", string(cardwave.BackendWebAudio), "playback backend: MediaElement or WebAudio")
		headers    = pflag.StringArrayP("header", "H", nil, "extra request header, \"Name: value\"")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file or URL>\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}
	src := pflag.Arg(0)

	opts := cardwave.DefaultOptions()
	opts.SampleRate = *sampleRate
	opts.Height = *height
	opts.MinPxPerSec = *pxPerSec
	opts.BarWidth = *barWidth
	opts.Normalize = *normalize
	opts.Backend = cardwave.BackendKind(*backend)
	hdr, err := parseHeaders(*headers)
	if err != nil {
		log.Fatal(err)
	}
	opts.FetchHeader = hdr

	e, err := cardwave.New(opts)
	if err != nil {
		log.Fatal(err)
	}
	defer e.Destroy()
	e.Resize(*width, *height)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := load(ctx, e, src); err != nil {
		log.Fatal(err)
	}

	peaks, err := e.ExportPeaks(cardwave.PeaksOptions{Channels: *channels, MaxLength: *maxLength, Precision: *precision})
	if err != nil {
		log.Fatal(err)
	}
	decoded := e.DecodedData()
	if err := writePeaks(*output, peaksFile{
		Source:     src,
		Duration:   e.Duration(),
		SampleRate: decoded.SampleRate(),
		Channels:   len(peaks),
		Data:       peaks,
	}); err != nil {
		log.Fatal(err)
	}

	if *imageDir != "" {
		if err := writeTiles(e, *imageDir, *format, *quality); err != nil {
			log.Fatal(err)
		}
	}
	if *wavPath != "" {
		if err := os.WriteFile(*wavPath, cardwave.EncodeWAV(decoded), 0o644); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", *wavPath)
	}
	if *play {
		if err := playToEnd(ctx, e); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	}
}

// load reads src from disk when it names a file and fetches it otherwise.
func load(ctx context.Context, e *cardwave.Engine, src string) error {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return e.Load(ctx, src, nil, 0)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return e.LoadBlob(ctx, data, nil, 0)
}

func parseHeaders(lines []string) (http.Header, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	h := http.Header{}
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Name: value\")", line)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

func writePeaks(path string, pf peaksFile) error {
	out := os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	return enc.Encode(pf)
}

func writeTiles(e *cardwave.Engine, dir, format string, quality float64) error {
	tiles, err := e.ExportImage(format, quality)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	ext := strings.TrimPrefix(strings.ToLower(format), "image/")
	for i, data := range tiles {
		name := filepath.Join(dir, fmt.Sprintf("tile-%03d.%s", i, ext))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}
	}
	log.Printf("wrote %d tiles to %s", len(tiles), dir)
	return nil
}

func playToEnd(ctx context.Context, e *cardwave.Engine) error {
	done := make(chan struct{})
	unsub := e.Once(cardwave.EventFinish, func(cardwave.Event) { close(done) })
	defer unsub()
	if err := e.Play(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "playing %s\n", hover.FormatTime(e.Duration()))
	select {
	case <-done:
		fmt.Fprintln(os.Stderr, "playback completed")
		return nil
	case <-ctx.Done():
		e.Pause()
		return ctx.Err()
	}
}
