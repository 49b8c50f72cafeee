package exec

import (
	"context"
	"sync"
	"time"
)

// RecordingRunner records every spec it is given and delegates the outcome
// to Handler. With a nil Handler every run exits 0 without output.
type RecordingRunner struct {
	Handler func(ctx context.Context, spec Spec) (*Result, error)

	mu    sync.Mutex
	specs []Spec
}

// Run implements Runner.
func (r *RecordingRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	r.mu.Lock()
	r.specs = append(r.specs, spec)
	r.mu.Unlock()

	if r.Handler == nil {
		return &Result{StartedAt: time.Now()}, nil
	}
	return r.Handler(ctx, spec)
}

// Specs returns the specs run so far, in call order.
func (r *RecordingRunner) Specs() []Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Spec(nil), r.specs...)
}

// Calls returns how many times Run was invoked.
func (r *RecordingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}
