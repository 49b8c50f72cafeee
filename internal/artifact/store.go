// Package artifact stores the files jobs produce, keyed by producing job,
// for the lifetime of a run.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Artifact is a named blob produced by a job.
type Artifact struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Blob      []byte    `json:"-"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store holds a run's artifacts. Each (job, name) key is written by exactly
// one producer and a Put is atomic.
type Store interface {
	Put(ctx context.Context, jobID, name string, blob []byte) (Artifact, error)
	Get(ctx context.Context, jobID, name string) (Artifact, error)
	List(ctx context.Context, jobID string) ([]string, error)
	Jobs(ctx context.Context) ([]string, error)
}

// Digest returns the sha256 content digest of blob.
func Digest(blob []byte) string {
	sum := sha256.Sum256(blob)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ValidName reports whether name is a clean, relative, slash-separated path
// that stays inside the artifact root.
func ValidName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return errors.Newf(errors.ErrCodeConfigInvalid, "invalid artifact name %q", name)
	}
	clean := path.Clean(name)
	if clean != name || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return errors.Newf(errors.ErrCodeConfigInvalid, "invalid artifact name %q", name)
	}
	return nil
}

// MemoryStore is an in-process Store scoped to one run.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]map[string]Artifact
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]map[string]Artifact),
		now:  time.Now,
	}
}

// Put implements Store. The blob is copied.
func (s *MemoryStore) Put(ctx context.Context, jobID, name string, blob []byte) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if err := ValidName(name); err != nil {
		return Artifact{}, err
	}

	a := Artifact{
		JobID:     jobID,
		Name:      name,
		Blob:      append([]byte(nil), blob...),
		Digest:    Digest(blob),
		Size:      int64(len(blob)),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.jobs[jobID]
	if !ok {
		byName = make(map[string]Artifact)
		s.jobs[jobID] = byName
	}
	byName[name] = a
	return a, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, jobID, name string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.jobs[jobID][name]
	if !ok {
		return Artifact{}, errors.NewArtifactNotFoundError(jobID, name)
	}
	a.Blob = append([]byte(nil), a.Blob...)
	return a, nil
}

// List implements Store. Names are sorted.
func (s *MemoryStore) List(ctx context.Context, jobID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.jobs[jobID]))
	for name := range s.jobs[jobID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Jobs implements Store. Job IDs are sorted.
func (s *MemoryStore) Jobs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
