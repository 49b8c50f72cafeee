package image

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

const manifestVersion = "1"

// CacheManifest is the on-disk form of a Cache.
type CacheManifest struct {
	Version   string          `json:"version"`
	Images    map[string]*Ref `json:"images"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Cache maps BuildSpec hashes to built images. Its lifetime is owned by the
// caller and it is injected into a Resolver; there is no process-wide cache.
//
// A Cache with an empty Dir is memory-only.
type Cache struct {
	Dir string

	mu     sync.Mutex
	images map[string]*Ref
	now    func() time.Time
}

// CacheStats summarises cache contents.
type CacheStats struct {
	Images int       `json:"images"`
	Oldest time.Time `json:"oldest,omitzero"`
	Newest time.Time `json:"newest,omitzero"`
	Dir    string    `json:"dir,omitempty"`
}

// NewCache creates an image cache persisted under dir.
func NewCache(dir string) *Cache {
	return &Cache{
		Dir:    dir,
		images: make(map[string]*Ref),
		now:    time.Now,
	}
}

func (c *Cache) manifestPath() string {
	return filepath.Join(c.Dir, "manifest.json")
}

// Load reads the cache manifest from disk. A missing manifest is not an error.
func (c *Cache) Load() error {
	if c.Dir == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			c.images = make(map[string]*Ref)
			return nil
		}
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest CacheManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		// Unknown layout: start over rather than trust foreign entries.
		c.images = make(map[string]*Ref)
		return nil
	}
	if manifest.Images == nil {
		manifest.Images = make(map[string]*Ref)
	}
	c.images = manifest.Images
	return nil
}

// Save atomically writes the cache manifest to disk.
func (c *Cache) Save() error {
	if c.Dir == "" {
		return nil
	}

	c.mu.Lock()
	manifest := CacheManifest{
		Version:   manifestVersion,
		Images:    c.images,
		UpdatedAt: c.now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := renameio.WriteFile(c.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Lookup returns the cached image for a spec hash and marks it used.
func (c *Cache) Lookup(specHash string) (Ref, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref, ok := c.images[specHash]
	if !ok {
		return Ref{}, false
	}
	ref.LastUsed = c.now().UTC()
	return *ref, true
}

// Store records a built image under its spec hash.
func (c *Cache) Store(ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	if ref.BuiltAt.IsZero() {
		ref.BuiltAt = now
	}
	ref.LastUsed = now
	c.images[ref.SpecHash] = &ref
}

// Restore puts back an entry returned by Prune with its timestamps intact,
// e.g. when its image could not be deleted.
func (c *Cache) Restore(ref Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images[ref.SpecHash] = &ref
}

// Invalidate drops the entry for a spec hash, e.g. after the engine lost
// the image.
func (c *Cache) Invalidate(specHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, specHash)
}

// Prune removes entries unused for longer than maxAge and returns them so
// the caller can delete the images from the engine.
func (c *Cache) Prune(maxAge time.Duration) []Ref {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var pruned []Ref
	for hash, ref := range c.images {
		if now.Sub(ref.LastUsed) > maxAge {
			pruned = append(pruned, *ref)
			delete(c.images, hash)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].Name < pruned[j].Name })
	return pruned
}

// Entries returns all cached refs sorted by name.
func (c *Cache) Entries() []Ref {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Ref, 0, len(c.images))
	for _, ref := range c.images {
		out = append(out, *ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Images: len(c.images), Dir: c.Dir}
	for _, ref := range c.images {
		if stats.Oldest.IsZero() || ref.BuiltAt.Before(stats.Oldest) {
			stats.Oldest = ref.BuiltAt
		}
		if ref.BuiltAt.After(stats.Newest) {
			stats.Newest = ref.BuiltAt
		}
	}
	return stats
}
