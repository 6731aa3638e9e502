// Package peakcache stores exported waveform peaks on disk so a file seen
// before can be drawn without decoding it again.
package peakcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/cbegin/cardwave-go/internal/metrics"
)

const suffix = ".peaks.zst"

// Entry is one cached waveform.
type Entry struct {
	Key      string      `json:"key"`
	Duration float64     `json:"duration"`
	Peaks    [][]float32 `json:"peaks"`
	Saved    time.Time   `json:"saved"`
}

// Cache is a directory of zstd-compressed JSON entries. It is safe for
// concurrent use.
type Cache struct {
	dir     string
	metrics *metrics.Metrics

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Open creates dir if needed and returns a cache rooted there.
func Open(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("peakcache: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("peakcache: zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("peakcache: zstd reader: %w", err)
	}
	c := &Cache{dir: dir, enc: enc, dec: dec}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x%s", xxhash.Sum64String(key), suffix))
}

// Get returns the entry for key. A missing entry is (nil, false, nil).
func (c *Cache) Get(key string) (*Entry, bool, error) {
	raw, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		c.metrics.RecordPeakCache("miss")
		return nil, false, nil
	}
	if err != nil {
		c.metrics.RecordPeakCache("error")
		return nil, false, fmt.Errorf("peakcache: %w", err)
	}
	c.mu.Lock()
	data, err := c.dec.DecodeAll(raw, nil)
	c.mu.Unlock()
	if err != nil {
		c.metrics.RecordPeakCache("error")
		return nil, false, fmt.Errorf("peakcache: decompress %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.metrics.RecordPeakCache("error")
		return nil, false, fmt.Errorf("peakcache: decode %s: %w", key, err)
	}
	// Two keys can share a hash; the stored key settles it.
	if e.Key != key {
		c.metrics.RecordPeakCache("miss")
		return nil, false, nil
	}
	c.metrics.RecordPeakCache("hit")
	return &e, true, nil
}

// Put stores peaks for key, replacing any earlier entry.
func (c *Cache) Put(key string, duration float64, peaks [][]float32) error {
	data, err := json.Marshal(Entry{Key: key, Duration: duration, Peaks: peaks, Saved: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("peakcache: encode %s: %w", key, err)
	}
	c.mu.Lock()
	compressed := c.enc.EncodeAll(data, nil)
	c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, "put-*")
	if err != nil {
		return fmt.Errorf("peakcache: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("peakcache: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("peakcache: write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("peakcache: %w", err)
	}
	return nil
}

// Remove deletes the entry for key if there is one.
func (c *Cache) Remove(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("peakcache: %w", err)
	}
	return nil
}

func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc.Close()
	c.dec.Close()
}
