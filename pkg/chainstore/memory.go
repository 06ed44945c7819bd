package chainstore

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/ratio1/r1fs-drive-go/pkg/model"
)

// MemoryStore is an in-process Store. Hooks let tests interleave or fail
// individual operations.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	writes int

	// BeforeHGet, when set, runs before every HGet and may return an error
	// that the call then reports.
	BeforeHGet func(ctx context.Context, hkey, key string) error
	// BeforeHSet, when set, runs before every HSet.
	BeforeHSet func(ctx context.Context, hkey, key, value string) error
	// BeforeHGetAll, when set, runs before every HGetAll.
	BeforeHGetAll func(ctx context.Context, hkey string) error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]map[string]string)}
}

func (s *MemoryStore) HGet(ctx context.Context, hkey, key string) (string, bool, error) {
	if hkey == "" {
		return "", false, ErrEmptyHKey
	}
	if s.BeforeHGet != nil {
		if err := s.BeforeHGet(ctx, hkey, key); err != nil {
			return "", false, err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[hkey][key]
	return v, ok, nil
}

func (s *MemoryStore) HSet(ctx context.Context, hkey, key, value string) error {
	if hkey == "" {
		return ErrEmptyHKey
	}
	if s.BeforeHSet != nil {
		if err := s.BeforeHSet(ctx, hkey, key, value); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[hkey] == nil {
		s.hashes[hkey] = make(map[string]string)
	}
	s.hashes[hkey][key] = value
	s.writes++
	return nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, hkey string) (map[string]string, error) {
	if hkey == "" {
		return nil, ErrEmptyHKey
	}
	if s.BeforeHGetAll != nil {
		if err := s.BeforeHGetAll(ctx, hkey); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[hkey]))
	maps.Copy(out, s.hashes[hkey])
	return out, nil
}

// Status reports the number of hashes and writes served.
func (s *MemoryStore) Status(context.Context) (model.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(map[string]any{
		model.FieldResult: map[string]any{
			"backend": "memory",
			"hashes":  len(s.hashes),
			"writes":  s.writes,
		},
	})
	if err != nil {
		return nil, err
	}
	return model.Envelope(raw), nil
}

// Writes returns the number of successful HSet calls.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Value returns the stored value without running hooks.
func (s *MemoryStore) Value(hkey, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[hkey][key]
	return v, ok
}
