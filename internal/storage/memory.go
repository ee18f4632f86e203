package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"neurodecode/internal/model"
)

// MemoryStore keeps encoded archives so reads observe exactly what a
// persistent backend would return.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	results     map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	if s.results == nil {
		s.results = make(map[string][]byte)
	}
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result model.AggregateResult) error {
	payload, err := EncodeResult(result)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.results[result.Key()] = payload
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, key string) (model.AggregateResult, bool, error) {
	s.mu.RLock()
	payload, ok := s.results[key]
	s.mu.RUnlock()
	if !ok {
		return model.AggregateResult{}, false, nil
	}
	result, err := DecodeResult(payload)
	if err != nil {
		return model.AggregateResult{}, false, errors.Wrapf(err, "decode result %s", key)
	}
	return result, true, nil
}

func (s *MemoryStore) ListResults(_ context.Context) ([]ResultInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ResultInfo, 0, len(s.results))
	for key, payload := range s.results {
		result, err := DecodeResult(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "decode result %s", key)
		}
		out = append(out, infoFor(result, len(payload)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
