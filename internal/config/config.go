// Package config loads cardwave's runtime settings. Values come from the
// built-in defaults, then an optional YAML file, then CARDWAVE_* environment
// variables, then command-line flags, each layer overriding the one before.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	cardwave "github.com/cbegin/cardwave-go"
	"github.com/cbegin/cardwave-go/internal/ankiconnect"
)

// DefaultPattern matches the first audio file name in a field, such as the
// hello.mp3 in "[sound:hello.mp3]".
const DefaultPattern = `(?i)[^:"'\[\]]+?\.(?:3gp|aa|aac|aax|act|aiff|alac|amr|ape|au|awb|dss|dvf|flac|gsm|iklax|ivs|m4a|m4b|m4p|mmf|movpkg|mp3|mpc|msv|nmf|ogg|opus|ra|raw|rf64|sln|tta|voc|vox|wav|wma|wv|webm|8svx|cda)`

type Config struct {
	AnkiURL      string        `yaml:"anki_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	CacheDir     string        `yaml:"cache_dir"`
	PrefsPath    string        `yaml:"prefs_path"`
	Window       Window        `yaml:"window"`
	Waveform     Waveform      `yaml:"waveform"`
	// EQ holds the five equalizer band gains, 1 being unity.
	EQ []float32 `yaml:"eq"`
	// Level evens out loud and quiet recordings during playback.
	Level bool `yaml:"level"`
}

type Window struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Waveform struct {
	Backend       string   `yaml:"backend"`
	Height        int      `yaml:"height"`
	MinPxPerSec   float64  `yaml:"min_px_per_sec"`
	SampleRate    int      `yaml:"sample_rate"`
	BarWidth      float64  `yaml:"bar_width"`
	WaveColor     []string `yaml:"wave_color"`
	ProgressColor []string `yaml:"progress_color"`
	CursorColor   string   `yaml:"cursor_color"`
	Normalize     bool     `yaml:"normalize"`
	DragToSeek    bool     `yaml:"drag_to_seek"`
	Spectrogram   bool     `yaml:"spectrogram"`
}

func Default() Config {
	return Config{
		AnkiURL:      ankiconnect.DefaultURL,
		PollInterval: 200 * time.Millisecond,
		CacheDir:     defaultDir(os.UserCacheDir, "peaks"),
		PrefsPath:    defaultDir(os.UserConfigDir, "prefs.yaml"),
		Window:       Window{Width: 960, Height: 360},
		Waveform: Waveform{
			Backend:       string(cardwave.BackendWebAudio),
			Height:        128,
			MinPxPerSec:   200,
			SampleRate:    11025,
			WaveColor:     []string{"rgba(200, 200, 200, 0.5)"},
			ProgressColor: []string{"rgba(100, 100, 100, 0.5)"},
			DragToSeek:    true,
			Spectrogram:   true,
		},
		EQ: []float32{1, 1, 1, 1, 1},
	}
}

func defaultDir(base func() (string, error), name string) string {
	if dir, err := base(); err == nil {
		return filepath.Join(dir, "cardwave", name)
	}
	return filepath.Join(".cardwave", name)
}

// LoadFile reads a YAML file over c. Keys missing from the file keep their
// current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides c with any CARDWAVE_* variables that are set and parse.
func (c *Config) ApplyEnv() {
	c.AnkiURL = envStr("CARDWAVE_ANKI_URL", c.AnkiURL)
	c.PollInterval = envDuration("CARDWAVE_POLL_INTERVAL", c.PollInterval)
	c.MetricsAddr = envStr("CARDWAVE_METRICS_ADDR", c.MetricsAddr)
	c.CacheDir = envStr("CARDWAVE_CACHE_DIR", c.CacheDir)
	c.PrefsPath = envStr("CARDWAVE_PREFS", c.PrefsPath)
	c.Waveform.Backend = envStr("CARDWAVE_BACKEND", c.Waveform.Backend)
	c.Waveform.Height = envInt("CARDWAVE_HEIGHT", c.Waveform.Height)
	c.Waveform.MinPxPerSec = envFloat("CARDWAVE_MIN_PX_PER_SEC", c.Waveform.MinPxPerSec)
	c.Waveform.SampleRate = envInt("CARDWAVE_SAMPLE_RATE", c.Waveform.SampleRate)
	c.Level = envBool("CARDWAVE_LEVEL", c.Level)
	if v := os.Getenv("CARDWAVE_WAVE_COLOR"); v != "" {
		c.Waveform.WaveColor = splitColors(v)
	}
	if v := os.Getenv("CARDWAVE_PROGRESS_COLOR"); v != "" {
		c.Waveform.ProgressColor = splitColors(v)
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	case c.Waveform.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %d", c.Waveform.SampleRate)
	case c.Waveform.Height <= 0:
		return fmt.Errorf("height must be positive, got %d", c.Waveform.Height)
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return fmt.Errorf("window size %dx%d is invalid", c.Window.Width, c.Window.Height)
	case len(c.EQ) != 0 && len(c.EQ) != 5:
		return fmt.Errorf("eq needs 5 band gains, got %d", len(c.EQ))
	}
	switch cardwave.BackendKind(c.Waveform.Backend) {
	case cardwave.BackendMediaElement, cardwave.BackendWebAudio:
	default:
		return fmt.Errorf("unknown backend %q", c.Waveform.Backend)
	}
	return nil
}

// EngineOptions turns the waveform settings into engine options.
func (c *Config) EngineOptions() cardwave.Options {
	o := cardwave.DefaultOptions()
	w := c.Waveform
	o.Backend = cardwave.BackendKind(w.Backend)
	o.Height = w.Height
	o.MinPxPerSec = w.MinPxPerSec
	o.SampleRate = w.SampleRate
	o.BarWidth = w.BarWidth
	if len(w.WaveColor) > 0 {
		o.WaveColor = w.WaveColor
	}
	if len(w.ProgressColor) > 0 {
		o.ProgressColor = w.ProgressColor
	}
	o.CursorColor = w.CursorColor
	o.Normalize = w.Normalize
	o.DragToSeek = w.DragToSeek
	return o
}

// Load parses args, reads the config file they name (or CARDWAVE_CONFIG),
// applies the environment and finally the flags that were given.
func Load(name string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	path := fs.StringP("config", "c", os.Getenv("CARDWAVE_CONFIG"), "YAML config file")
	flagged := Default()
	apply := bindFlags(fs, &flagged)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv()
	fs.Visit(func(f *pflag.Flag) {
		if set, ok := apply[f.Name]; ok {
			set(&cfg, &flagged)
		}
	})
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type copier func(dst, src *Config)

func bindFlags(fs *pflag.FlagSet, c *Config) map[string]copier {
	fs.StringVar(&c.AnkiURL, "anki-url", c.AnkiURL, "flashcard server URL")
	fs.DurationVar(&c.PollInterval, "poll", c.PollInterval, "current card poll interval")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve /metrics on this address")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "peak cache directory")
	fs.StringVar(&c.PrefsPath, "prefs", c.PrefsPath, "preferences file")
	fs.StringVar(&c.Waveform.Backend, "backend", c.Waveform.Backend, "playback backend: MediaElement or WebAudio")
	fs.IntVar(&c.Waveform.Height, "height", c.Waveform.Height, "waveform height in pixels")
	fs.Float64Var(&c.Waveform.MinPxPerSec, "min-px-per-sec", c.Waveform.MinPxPerSec, "minimum zoom")
	fs.IntVar(&c.Waveform.SampleRate, "sample-rate", c.Waveform.SampleRate, "decode rate for drawing")
	fs.Float64Var(&c.Waveform.BarWidth, "bar-width", c.Waveform.BarWidth, "bar width, 0 draws a line")
	fs.BoolVar(&c.Waveform.Normalize, "normalize", c.Waveform.Normalize, "stretch peaks to full height")
	fs.BoolVar(&c.Waveform.Spectrogram, "spectrogram", c.Waveform.Spectrogram, "draw a spectrogram band")
	fs.BoolVar(&c.Level, "level", c.Level, "even out playback loudness")
	fs.IntVar(&c.Window.Width, "width", c.Window.Width, "window width")
	fs.IntVar(&c.Window.Height, "window-height", c.Window.Height, "window height")
	return map[string]copier{
		"anki-url":       func(d, s *Config) { d.AnkiURL = s.AnkiURL },
		"poll":           func(d, s *Config) { d.PollInterval = s.PollInterval },
		"metrics-addr":   func(d, s *Config) { d.MetricsAddr = s.MetricsAddr },
		"cache-dir":      func(d, s *Config) { d.CacheDir = s.CacheDir },
		"prefs":          func(d, s *Config) { d.PrefsPath = s.PrefsPath },
		"backend":        func(d, s *Config) { d.Waveform.Backend = s.Waveform.Backend },
		"height":         func(d, s *Config) { d.Waveform.Height = s.Waveform.Height },
		"min-px-per-sec": func(d, s *Config) { d.Waveform.MinPxPerSec = s.Waveform.MinPxPerSec },
		"sample-rate":    func(d, s *Config) { d.Waveform.SampleRate = s.Waveform.SampleRate },
		"bar-width":      func(d, s *Config) { d.Waveform.BarWidth = s.Waveform.BarWidth },
		"normalize":      func(d, s *Config) { d.Waveform.Normalize = s.Waveform.Normalize },
		"spectrogram":    func(d, s *Config) { d.Waveform.Spectrogram = s.Waveform.Spectrogram },
		"level":          func(d, s *Config) { d.Level = s.Level },
		"width":          func(d, s *Config) { d.Window.Width = s.Window.Width },
		"window-height":  func(d, s *Config) { d.Window.Height = s.Window.Height },
	}
}

func splitColors(v string) []string {
	var out []string
	for _, c := range strings.Split(v, ";") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
