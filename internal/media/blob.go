package media

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const blobScheme = "blob:"

// BlobStore hands out blob: URLs for in-memory media.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// DefaultBlobs is shared by elements and backends that are not given a store.
var DefaultBlobs = &BlobStore{}

func (s *BlobStore) Create(data []byte) string {
	url := blobScheme + "cardwave/" + uuid.NewString()
	s.mu.Lock()
	if s.blobs == nil {
		s.blobs = make(map[string][]byte)
	}
	s.blobs[url] = data
	s.mu.Unlock()
	return url
}

func (s *BlobStore) Resolve(url string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[url]
	return data, ok
}

func (s *BlobStore) Revoke(url string) {
	s.mu.Lock()
	delete(s.blobs, url)
	s.mu.Unlock()
}

func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func IsBlobURL(url string) bool {
	return strings.HasPrefix(url, blobScheme)
}
