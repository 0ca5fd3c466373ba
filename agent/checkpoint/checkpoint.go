// Package checkpoint persists the supervisor's state snapshots as an
// append-only log per (thread, namespace), with interchangeable backends.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// nsSeparator joins namespace and checkpoint id into the sort key. Every key
// of a namespace shares the "<namespace>#" prefix, so one namespace's history
// is range-scannable within a thread without a secondary index.
const nsSeparator = "#"

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrWrite    = errors.New("checkpoint write failed")
	ErrRead     = errors.New("checkpoint read failed")
	ErrInvalid  = errors.New("invalid checkpoint key")
)

// Checkpoint is one immutable snapshot of orchestration state, created once
// after a node executes and never mutated.
type Checkpoint struct {
	ID        string
	ParentID  string
	State     []byte
	Versions  map[string]int64
	Seen      map[string]int64
	Metadata  map[string]string
	CreatedAt time.Time
}

// NewID returns a time-ordered checkpoint id. UUIDv7 strings sort in creation
// order, keeping lexicographic scans aligned with history.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ListOptions narrows and bounds a List call.
type ListOptions struct {
	// Filter keeps only checkpoints whose metadata contains every given pair.
	Filter map[string]string
	// Before excludes checkpoints with id >= Before.
	Before string
	// Limit caps the number of returned checkpoints; 0 means unbounded.
	Limit int
}

// Store is the durable append-only checkpoint log. Implementations must
// tolerate concurrent Puts to different (thread, namespace) keys; concurrent
// Puts to the same checkpoint id resolve as last-writer-wins.
type Store interface {
	// Put stores one checkpoint and returns its id. Re-writing an existing id
	// is an idempotent overwrite, never an error.
	Put(ctx context.Context, threadID, namespace string, cp *Checkpoint) (string, error)
	// Get is a point lookup by exact id.
	Get(ctx context.Context, threadID, namespace, checkpointID string) (*Checkpoint, error)
	// GetLatest returns the checkpoint with the greatest id for the pair.
	GetLatest(ctx context.Context, threadID, namespace string) (*Checkpoint, error)
	// List returns checkpoints in descending id order, newest first.
	List(ctx context.Context, threadID, namespace string, opts ListOptions) ([]*Checkpoint, error)
}

// SortKey builds the composite range key for a checkpoint within a thread.
func SortKey(namespace, checkpointID string) string {
	return namespace + nsSeparator + checkpointID
}

// namespaceBounds returns the half-open sort-key interval covering one
// namespace. "$" is the byte after the separator, so every "<ns>#<id>" key
// falls inside [lower, upper).
func namespaceBounds(namespace string) (lower, upper string) {
	return namespace + nsSeparator, namespace + "$"
}

func validateKey(threadID, namespace string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("%w: thread id is empty", ErrInvalid)
	}
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("%w: namespace is empty", ErrInvalid)
	}
	if strings.Contains(namespace, nsSeparator) {
		return fmt.Errorf("%w: namespace contains %q", ErrInvalid, nsSeparator)
	}
	return nil
}

func validatePut(threadID, namespace string, cp *Checkpoint) error {
	if err := validateKey(threadID, namespace); err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("%w: nil checkpoint", ErrInvalid)
	}
	if strings.TrimSpace(cp.ID) == "" {
		return fmt.Errorf("%w: checkpoint id is empty", ErrInvalid)
	}
	return nil
}

// matchesFilter reports whether metadata contains every filter pair.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func marshalVersionMap(c Codec, m map[string]int64) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return c.Encode(m)
}

func unmarshalVersionMap(c Codec, raw []byte) (map[string]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]int64
	if err := c.Decode(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
