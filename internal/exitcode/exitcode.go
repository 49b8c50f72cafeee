package exitcode

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates the run met every expectation
	Success = 0

	// RunFailed indicates the run finished with status failure
	RunFailed = 1

	// ConfigError indicates an invalid pipeline or runner configuration
	ConfigError = 2

	// BuildError indicates an image build failure outside of any job
	BuildError = 3

	// DockerUnavailable indicates the container engine could not be reached
	DockerUnavailable = 4

	// IOError indicates a file could not be read or written
	IOError = 5

	// Interrupted indicates the run was cancelled by a signal
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to an exit code by its coded category.
// Uncoded errors are general failures.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	if stderrors.Is(err, context.Canceled) || errors.HasCode(err, errors.ErrCodeExecCancelled) {
		return Interrupted
	}
	if errors.HasCode(err, errors.ErrCodeExecDockerNotAvailable) {
		return DockerUnavailable
	}

	switch errors.CodeOf(err).Category() {
	case "CONFIG":
		return ConfigError
	case "BUILD":
		return BuildError
	case "IO":
		return IOError
	default:
		return RunFailed
	}
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case RunFailed:
		return "Run failed"
	case ConfigError:
		return "Configuration error"
	case BuildError:
		return "Image build error"
	case DockerUnavailable:
		return "Docker not available"
	case IOError:
		return "File I/O error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
