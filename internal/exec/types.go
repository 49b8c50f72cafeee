// Package exec runs job commands inside isolated, resource-limited
// containers and guarantees their teardown.
package exec

import (
	"context"
	"time"
)

// Label keys attached to every container started by a runner.
const (
	LabelManaged = "cibox.managed"
	LabelRun     = "cibox.run"
	LabelJob     = "cibox.job"
)

// DefaultNetwork is used when a spec does not name a network.
const DefaultNetwork = "none"

// Mount binds a host path into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Limits bounds a container's resources.
type Limits struct {
	CPU     string // docker --cpus, e.g. "1.5"
	Memory  string // docker --memory, e.g. "512m"
	PIDs    int
	Network string
}

// Spec describes one container execution.
type Spec struct {
	RunID   string
	JobID   string
	Image   string
	Command []string
	Env     map[string]string
	Mounts  []Mount
	Limits  Limits
	Timeout time.Duration
	Labels  map[string]string
	Workdir string
}

// Result is the outcome of a container execution. A non-zero exit code is a
// normal result, not an error.
type Result struct {
	Container string
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	StartedAt time.Time
	Duration  time.Duration
	TimedOut  bool
	Cancelled bool
}

// Runner executes a spec to completion. It returns an error only when the
// container could not be run at all or the context was cancelled; the
// container is gone by the time Run returns on every path.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}
