package handle

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const scheme = "blob:"

var ErrNotFound = errors.New("handle not found")

// Handle is a presentable URL referencing bytes held by a Registry
type Handle struct {
	URL  string `json:"url"`
	MIME string `json:"mime"`
	Size int    `json:"size"`
}

// Valid reports whether h was issued (the zero Handle is not)
func (h Handle) Valid() bool {
	return strings.HasPrefix(h.URL, scheme)
}

// Registry issues and releases presentable URLs for byte blobs
type Registry interface {
	Acquire(data []byte, mime string) (Handle, error)
	Release(h Handle)
}

type entry struct {
	data []byte
	mime string
}

// Store is an in-memory Registry issuing blob:<uuid> URLs
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Acquire registers data and returns a URL for it; data is referenced, not copied
func (s *Store) Acquire(data []byte, mime string) (Handle, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return Handle{}, err
	}
	h := Handle{URL: scheme + id.String(), MIME: mime, Size: len(data)}
	s.mu.Lock()
	s.entries[h.URL] = entry{data: data, mime: mime}
	s.mu.Unlock()
	return h, nil
}

// Release forgets the URL; releasing twice or releasing the zero Handle is a no-op
func (s *Store) Release(h Handle) {
	s.mu.Lock()
	delete(s.entries, h.URL)
	s.mu.Unlock()
}

// Resolve returns the bytes and MIME type behind url
func (s *Store) Resolve(url string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[url]
	if !ok {
		return nil, "", ErrNotFound
	}
	return e.data, e.mime, nil
}

// Len is the number of live handles
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
