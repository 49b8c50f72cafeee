// Package job holds the pipeline's unit of work, its runtime states and the
// result a finished job leaves behind.
package job

import (
	"time"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// OnFailure controls how a failed job affects its dependents.
type OnFailure string

const (
	// FailFast skips every not-yet-started dependent and fails the run.
	FailFast OnFailure = "fail-fast"
	// Continue records the failure but lets dependents run.
	Continue OnFailure = "continue"
)

// Expectation is the caller-supplied outcome a job is expected to reach.
type Expectation string

const (
	ExpectSuccess Expectation = "success"
	ExpectFailure Expectation = "failure"
)

// Limits bounds the resources of a job's container.
type Limits struct {
	CPU     string `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory  string `json:"memory,omitempty" yaml:"memory,omitempty"`
	PIDs    int    `json:"pids,omitempty" yaml:"pids,omitempty"`
	Network string `json:"network,omitempty" yaml:"network,omitempty"`
}

// Job is a unit of work: a command run inside a resolved image once its
// dependencies are terminal. Jobs are immutable for the duration of a run.
type Job struct {
	ID        string
	Image     string // key into the graph's image table
	Command   []string
	DependsOn []string
	OnFailure OnFailure
	Timeout   time.Duration
	Env       map[string]string
	Limits    Limits
	Artifacts []string // declared outputs, relative to /artifacts
	Group     string   // comparison key
	Expect    Expectation
}

// ArtifactInfo describes an artifact produced by a job without its content.
type ArtifactInfo struct {
	Name   string `json:"name" yaml:"name"`
	Digest string `json:"digest" yaml:"digest"`
	Size   int64  `json:"size" yaml:"size"`
}

// Result is the terminal record of a job.
type Result struct {
	JobID      string
	Group      string
	OnFailure  OnFailure
	Expect     Expectation
	State      State
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	ImageRef   string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Artifacts  []ArtifactInfo
	Err        error
}

// NewResult seeds a result with the job's identity and policy fields.
func NewResult(j Job, state State) Result {
	return Result{
		JobID:     j.ID,
		Group:     j.Group,
		OnFailure: j.OnFailure,
		Expect:    j.Expect,
		State:     state,
	}
}

// Blocking reports whether this result prevents dependents from running.
// A job that failed before it had an image always blocks, whatever its
// policy: it never ran, so nothing downstream can rely on it.
func (r Result) Blocking() bool {
	switch r.State {
	case Skipped:
		return true
	case Failed, TimedOut:
		return r.OnFailure != Continue || r.ImageRef == "" || errors.IsCategory(r.Err, "BUILD")
	default:
		return false
	}
}

// MetExpectation reports whether the outcome matches the job's Expect.
// Skipped jobs never meet an expectation.
func (r Result) MetExpectation() bool {
	switch r.Expect {
	case ExpectFailure:
		return r.State == Failed || r.State == TimedOut
	default:
		return r.State == Succeeded
	}
}
