// Package image resolves declarative build specifications into locally
// available, content-addressed container images.
package image

import (
	"time"
)

// BuildSpec describes how to construct an image. It is immutable once
// created; its identity is Hash(spec).
type BuildSpec struct {
	Base       string   `json:"base" yaml:"base"`
	Install    []string `json:"install,omitempty" yaml:"install,omitempty"`
	Entrypoint []string `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty"`

	// Context is the build context directory. Only ContextDigest takes part
	// in the identity, so moving a checkout does not invalidate the cache.
	Context       string `json:"-" yaml:"context,omitempty"`
	ContextDigest string `json:"context_digest,omitempty" yaml:"-"`
}

// Ref identifies a built image.
type Ref struct {
	Name     string    `json:"name"`
	ID       string    `json:"id,omitempty"`
	SpecHash string    `json:"spec_hash"`
	BuiltAt  time.Time `json:"built_at"`
	LastUsed time.Time `json:"last_used"`
}

// String returns the reference usable with `docker run`.
func (r Ref) String() string {
	return r.Name
}
