package content

import (
	"context"
	"sync"
)

// MemSource is an in-memory Source, for tests and local development.
type MemSource struct {
	lk   sync.RWMutex
	data map[string]*ContentRef
}

var _ Source = (*MemSource)(nil)

func NewMemSource() *MemSource {
	return &MemSource{
		data: make(map[string]*ContentRef),
	}
}

func (s *MemSource) Get(ctx context.Context, t ContentType, id string) (*ContentRef, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()

	ref, ok := s.data[Key(t, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return ref, nil
}

func (s *MemSource) Put(ref *ContentRef) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[ref.Key()] = ref
}

// Delete simulates the author removing their content.
func (s *MemSource) Delete(t ContentType, id string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data, Key(t, id))
}
