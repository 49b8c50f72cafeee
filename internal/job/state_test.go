package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

func TestStates_Transition(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{name: "happy path", path: []State{Pending, Ready, Running, Succeeded}},
		{name: "failure", path: []State{Pending, Ready, Running, Failed}},
		{name: "timeout", path: []State{Pending, Ready, Running, TimedOut}},
		{name: "skip from pending", path: []State{Pending, Skipped}},
		{name: "skip from ready", path: []State{Pending, Ready, Skipped}},
		{name: "running cannot skip", path: []State{Pending, Ready, Running, Skipped}, wantErr: true},
		{name: "pending cannot run directly", path: []State{Pending, Running}, wantErr: true},
		{name: "terminal is final", path: []State{Pending, Ready, Running, Succeeded, Failed}, wantErr: true},
		{name: "skipped is final", path: []State{Pending, Skipped, Ready}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := States{"a": Pending}
			var err error
			for i := 1; i < len(tt.path) && err == nil; i++ {
				err = states.Transition("a", tt.path[i-1], tt.path[i])
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], states["a"])
			}
		})
	}
}

func TestStates_TransitionGuards(t *testing.T) {
	states := States{"a": Ready}

	err := states.Transition("a", Pending, Skipped)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected pending, got ready")
	assert.Equal(t, Ready, states["a"], "state must not change on a rejected transition")

	err = states.Transition("missing", Pending, Ready)
	assert.ErrorContains(t, err, "unknown job")
}

func TestStates_AllTerminal(t *testing.T) {
	states := NewStates([]Job{{ID: "a"}, {ID: "b"}})
	assert.False(t, states.AllTerminal())

	states["a"] = Succeeded
	states["b"] = Skipped
	assert.True(t, states.AllTerminal())
}

func TestResult_Blocking(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{"succeeded", Result{State: Succeeded, OnFailure: FailFast}, false},
		{"fail-fast failure", Result{State: Failed, OnFailure: FailFast}, true},
		{"fail-fast timeout", Result{State: TimedOut, OnFailure: FailFast}, true},
		{"continue failure", Result{State: Failed, OnFailure: Continue, ImageRef: "img"}, false},
		{"continue timeout", Result{State: TimedOut, OnFailure: Continue, ImageRef: "img"}, false},
		{"skipped", Result{State: Skipped, OnFailure: Continue}, true},
		{"default policy is fail-fast", Result{State: Failed, ImageRef: "img"}, true},
		{"build failure blocks despite continue", Result{State: Failed, OnFailure: Continue, Err: errors.NewBuildError("t", 1, "")}, true},
		{"docker unavailable before image blocks despite continue", Result{State: Failed, OnFailure: Continue, Err: errors.NewExecDockerNotAvailableError(nil)}, true},
		{"cancelled resolution blocks despite continue", Result{State: Failed, OnFailure: Continue, Err: context.Canceled}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Blocking())
		})
	}
}

func TestResult_MetExpectation(t *testing.T) {
	assert.True(t, Result{State: Succeeded}.MetExpectation())
	assert.False(t, Result{State: Failed}.MetExpectation())
	assert.True(t, Result{State: Failed, Expect: ExpectFailure}.MetExpectation())
	assert.True(t, Result{State: TimedOut, Expect: ExpectFailure}.MetExpectation())
	assert.False(t, Result{State: Succeeded, Expect: ExpectFailure}.MetExpectation())
	assert.False(t, Result{State: Skipped, Expect: ExpectFailure}.MetExpectation())
}

func TestNewResult(t *testing.T) {
	j := Job{ID: "scrape", Group: "scrape", OnFailure: Continue, Expect: ExpectFailure}
	r := NewResult(j, Skipped)
	assert.Equal(t, "scrape", r.JobID)
	assert.Equal(t, "scrape", r.Group)
	assert.Equal(t, Continue, r.OnFailure)
	assert.Equal(t, ExpectFailure, r.Expect)
	assert.Equal(t, Skipped, r.State)
}
