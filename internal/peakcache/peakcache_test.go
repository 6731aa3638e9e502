package peakcache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func open(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "peaks"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPutGet(t *testing.T) {
	c := open(t)
	peaks := [][]float32{{0.1, -0.5, 0.25}, {0, 1, -1}}
	if err := c.Put("clips/hello.mp3", 1.5, peaks); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, ok, err := c.Get("clips/hello.mp3")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if e.Duration != 1.5 || len(e.Peaks) != 2 || e.Peaks[0][1] != -0.5 || e.Peaks[1][2] != -1 {
		t.Fatalf("entry = %+v", e)
	}
	if e.Saved.IsZero() {
		t.Fatal("saved time not set")
	}
}

func TestMiss(t *testing.T) {
	c := open(t)
	e, ok, err := c.Get("never.mp3")
	if e != nil || ok || err != nil {
		t.Fatalf("Get = %v, %v, %v", e, ok, err)
	}
}

func TestFilesAreCompressed(t *testing.T) {
	c := open(t)
	if err := c.Put("a.wav", 1, [][]float32{make([]float32, 1000)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := os.ReadFile(c.path("a.wav"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Fatalf("file does not start with the zstd magic: % x", raw[:4])
	}
}

func TestCorruptEntry(t *testing.T) {
	c := open(t)
	if err := os.WriteFile(c.path("bad.mp3"), []byte("not zstd"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, err := c.Get("bad.mp3"); err == nil || ok {
		t.Fatalf("Get = %v, %v, want error", ok, err)
	}
}

func TestPutReplacesAndRemove(t *testing.T) {
	c := open(t)
	c.Put("x.ogg", 1, [][]float32{{0.1}})
	c.Put("x.ogg", 2, [][]float32{{0.2}})
	e, _, _ := c.Get("x.ogg")
	if e.Duration != 2 {
		t.Fatalf("duration = %v, want 2", e.Duration)
	}
	if err := c.Remove("x.ogg"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Remove("x.ogg"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, ok, _ := c.Get("x.ogg"); ok {
		t.Fatal("entry survived Remove")
	}
	entries, _ := os.ReadDir(c.dir)
	if len(entries) != 0 {
		t.Fatalf("leftover files: %v", entries)
	}
}
