// Package storage keeps large upload attachments outside the job record.
package storage

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/vendorhub/storefront/internal/domain/shared"
)

// AttachmentStore holds attachment bytes spilled out of upload jobs.
// Get returns shared.ErrNotFound for unknown keys.
type AttachmentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// NewObjectKey returns a unique key for an attachment file name
func NewObjectKey(filename string) string {
	base := path.Base(filename)
	if base == "." || base == "/" {
		base = "attachment"
	}
	return uuid.NewString() + "/" + base
}

// MemoryAttachmentStore keeps attachments in process memory. Content does
// not survive a restart.
type MemoryAttachmentStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryAttachmentStore creates an empty store
func NewMemoryAttachmentStore() *MemoryAttachmentStore {
	return &MemoryAttachmentStore{objects: make(map[string][]byte)}
}

func (s *MemoryAttachmentStore) Put(_ context.Context, key string, data []byte, _ string) error {
	if key == "" {
		return fmt.Errorf("%w: storage key is required", shared.ErrInvalidInput)
	}
	s.mu.Lock()
	s.objects[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryAttachmentStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", key, shared.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryAttachmentStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored objects
func (s *MemoryAttachmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ AttachmentStore = (*MemoryAttachmentStore)(nil)
