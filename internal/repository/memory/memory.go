// Package memory is a process-local repository.BlobStore. Nothing survives a
// restart; it backs tests and STORAGE=memory.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/repository"
)

var _ repository.BlobStore = (*Store)(nil)

type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, apperror.NotFound("blob", key)
	}
	return slices.Clone(data), nil
}

func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = slices.Clone(data)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Close is a no-op so the store can sit behind the same io.Closer as the
// persistent ones.
func (s *Store) Close() error {
	return nil
}
