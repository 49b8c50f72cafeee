package exitcode

import (
	"context"
	"fmt"
	"testing"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"Success", Success, 0},
		{"RunFailed", RunFailed, 1},
		{"ConfigError", ConfigError, 2},
		{"BuildError", BuildError, 3},
		{"DockerUnavailable", DockerUnavailable, 4},
		{"IOError", IOError, 5},
		{"Interrupted", Interrupted, 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("Exit code %s = %d, want %d", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "nil error returns success",
			err:      nil,
			expected: Success,
		},
		{
			name:     "cycle is a config error",
			err:      errors.NewCycleError([]string{"a", "b", "a"}),
			expected: ConfigError,
		},
		{
			name:     "wrapped config error",
			err:      fmt.Errorf("load pipeline: %w", errors.NewMissingDependencyError("b", "a")),
			expected: ConfigError,
		},
		{
			name:     "build error",
			err:      errors.NewBuildError("cibox.local/build:abc", 1, ""),
			expected: BuildError,
		},
		{
			name:     "docker not available",
			err:      errors.NewExecDockerNotAvailableError(fmt.Errorf("exec: docker: not found")),
			expected: DockerUnavailable,
		},
		{
			name:     "file not found",
			err:      errors.NewFileNotFoundError("pipeline.yaml"),
			expected: IOError,
		},
		{
			name:     "context cancelled",
			err:      fmt.Errorf("run: %w", context.Canceled),
			expected: Interrupted,
		},
		{
			name:     "cancelled job",
			err:      errors.New(errors.ErrCodeExecCancelled, "cancelled"),
			expected: Interrupted,
		},
		{
			name:     "uncoded error",
			err:      fmt.Errorf("something broke"),
			expected: RunFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetermineExitCode(tt.err); got != tt.expected {
				t.Errorf("DetermineExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestGetExitCodeDescription(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "Success"},
		{RunFailed, "Run failed"},
		{ConfigError, "Configuration error"},
		{BuildError, "Image build error"},
		{DockerUnavailable, "Docker not available"},
		{IOError, "File I/O error"},
		{Interrupted, "Interrupted"},
		{99, "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := GetExitCodeDescription(tt.code); got != tt.expected {
				t.Errorf("GetExitCodeDescription(%d) = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}
