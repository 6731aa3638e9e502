package fetcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestFetchBlobReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	data, err := FetchBlob(context.Background(), srv.URL, func(p int) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		if p == 100 {
			close(done)
		}
	}, RequestOptions{})
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("len(data) = %d, want %d", len(data), len(payload))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for 100%")
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("progress went backwards: %v", got)
		}
	}
}

func TestFetchBlobStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := FetchBlob(context.Background(), srv.URL+"/missing.mp3", nil, RequestOptions{})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FetchError", err)
	}
	if fe.StatusCode != 404 || fe.Status != "Not Found" {
		t.Fatalf("status = %d %q, want 404 \"Not Found\"", fe.StatusCode, fe.Status)
	}
	want := "failed to fetch " + srv.URL + "/missing.mp3: 404 (Not Found)"
	if fe.Error() != want {
		t.Fatalf("Error() = %q, want %q", fe.Error(), want)
	}
}

func TestFetchBlobProgressPanicIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "3")
		w.Write([]byte("abc"))
	}))
	defer srv.Close()

	data, err := FetchBlob(context.Background(), srv.URL, func(int) { panic("boom") }, RequestOptions{})
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("data = %q, want abc", data)
	}
}

func TestFetchBlobUnknownLengthSkipsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		w.Write([]byte("chunked"))
	}))
	defer srv.Close()

	calls := make(chan int, 8)
	data, err := FetchBlob(context.Background(), srv.URL, func(p int) { calls <- p }, RequestOptions{})
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if string(data) != "chunked" {
		t.Fatalf("data = %q", data)
	}
	select {
	case p := <-calls:
		t.Fatalf("unexpected progress %d", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFetchBlobSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("X-Token", "secret")
	if _, err := FetchBlob(context.Background(), srv.URL, nil, RequestOptions{Header: h}); err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
}

func TestFetchBlobFileURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := FetchBlob(context.Background(), "file://"+path, nil, RequestOptions{})
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if string(data) != "RIFF" {
		t.Fatalf("data = %q, want RIFF", data)
	}
}
