package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps checkpoint history in process memory. It is the
// reference backend for tests and single-process runs; snapshots are cloned
// through the codec on the way in and out so callers never alias stored
// state.
type MemoryStore struct {
	codec Codec

	mu      sync.RWMutex
	threads map[string]map[string]*Checkpoint // thread id -> sort key -> snapshot
}

// NewMemoryStore builds an empty in-memory store. A nil codec selects the
// default.
func NewMemoryStore(codec Codec) *MemoryStore {
	if codec == nil {
		codec = DefaultCodec()
	}
	return &MemoryStore{
		codec:   codec,
		threads: make(map[string]map[string]*Checkpoint),
	}
}

func (s *MemoryStore) Put(ctx context.Context, threadID, namespace string, cp *Checkpoint) (string, error) {
	if err := validatePut(threadID, namespace, cp); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}

	clone, err := s.clone(cp)
	if err != nil {
		return "", fmt.Errorf("%w: encode checkpoint: %v", ErrWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.threads[threadID]
	if !ok {
		byKey = make(map[string]*Checkpoint)
		s.threads[threadID] = byKey
	}
	byKey[SortKey(namespace, cp.ID)] = clone
	return cp.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}

	s.mu.RLock()
	cp, ok := s.threads[threadID][SortKey(namespace, checkpointID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: thread=%s checkpoint=%s", ErrNotFound, threadID, checkpointID)
	}
	return s.cloneOut(cp)
}

func (s *MemoryStore) GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	lower, upper := namespaceBounds(namespace)

	s.mu.RLock()
	var latest *Checkpoint
	latestKey := ""
	for key, cp := range s.threads[threadID] {
		if key < lower || key >= upper {
			continue
		}
		if latest == nil || key > latestKey {
			latest, latestKey = cp, key
		}
	}
	s.mu.RUnlock()

	if latest == nil {
		return nil, fmt.Errorf("%w: thread=%s namespace=%s", ErrNotFound, threadID, namespace)
	}
	return s.cloneOut(latest)
}

func (s *MemoryStore) List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]*Checkpoint, error) {
	if err := validateKey(threadID, namespace); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	lower, upper := namespaceBounds(namespace)

	s.mu.RLock()
	matched := make([]*Checkpoint, 0, len(s.threads[threadID]))
	for key, cp := range s.threads[threadID] {
		if key < lower || key >= upper {
			continue
		}
		if opts.Before != "" && cp.ID >= opts.Before {
			continue
		}
		if !matchesFilter(cp.Metadata, opts.Filter) {
			continue
		}
		matched = append(matched, cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*Checkpoint, 0, len(matched))
	for _, cp := range matched {
		clone, err := s.cloneOut(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemoryStore) clone(cp *Checkpoint) (*Checkpoint, error) {
	raw, err := s.codec.Encode(cp)
	if err != nil {
		return nil, err
	}
	out := new(Checkpoint)
	if err := s.codec.Decode(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MemoryStore) cloneOut(cp *Checkpoint) (*Checkpoint, error) {
	clone, err := s.clone(cp)
	if err != nil {
		return nil, fmt.Errorf("%w: decode checkpoint: %v", ErrRead, err)
	}
	return clone, nil
}
