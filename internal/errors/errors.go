package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Pipeline configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigCycle          ErrorCode = "CONFIG-001"
	ErrCodeConfigMissingDep     ErrorCode = "CONFIG-002"
	ErrCodeConfigInvalid        ErrorCode = "CONFIG-003"
	ErrCodeConfigDuplicateJob   ErrorCode = "CONFIG-004"
	ErrCodeConfigUnknownImage   ErrorCode = "CONFIG-005"
	ErrCodeConfigRunnerSettings ErrorCode = "CONFIG-006"

	// Image build errors (BUILD-001 to BUILD-099)
	ErrCodeBuildFailed      ErrorCode = "BUILD-001"
	ErrCodeBuildInvalidSpec ErrorCode = "BUILD-002"
	ErrCodeBuildPushFailed  ErrorCode = "BUILD-003"

	// Execution errors (EXEC-001 to EXEC-099)
	ErrCodeExecDockerNotAvailable ErrorCode = "EXEC-001"
	ErrCodeExecNonZeroExit        ErrorCode = "EXEC-002"
	ErrCodeExecTimeout            ErrorCode = "EXEC-003"
	ErrCodeExecCancelled          ErrorCode = "EXEC-004"
	ErrCodeExecMountCollision     ErrorCode = "EXEC-005"
	ErrCodeExecDependencyBlocked  ErrorCode = "EXEC-006"

	// Artifact errors (ARTIFACT-001 to ARTIFACT-099)
	ErrCodeArtifactNotFound     ErrorCode = "ARTIFACT-001"
	ErrCodeArtifactExportFailed ErrorCode = "ARTIFACT-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
)

// Category returns the family prefix of the code, e.g. "BUILD".
func (c ErrorCode) Category() string {
	s := string(c)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// Error represents an enhanced error with code, suggestions, and documentation
type Error struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *Error) WithDocs(url string) *Error {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the outermost coded error in the chain,
// or the empty code if there is none.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HasCode reports whether any coded error in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var coded *Error
		if !stderrors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Cause
	}
	return false
}

// IsCategory reports whether the outermost coded error belongs to category.
func IsCategory(err error, category string) bool {
	code := CodeOf(err)
	return code != "" && code.Category() == category
}

// Common error constructors for frequently used errors

// NewCycleError creates a cyclic pipeline graph error
func NewCycleError(path []string) *Error {
	return New(ErrCodeConfigCycle, fmt.Sprintf("circular dependency detected: %s", strings.Join(path, " -> "))).
		WithSuggestion("Remove one of the needs entries forming the cycle")
}

// NewMissingDependencyError creates an unknown needs reference error
func NewMissingDependencyError(jobID, dep string) *Error {
	return New(ErrCodeConfigMissingDep, fmt.Sprintf("job %q needs %q which is not defined in the pipeline", jobID, dep)).
		WithSuggestion("Check the spelling of the needs entry").
		WithSuggestion("Run 'cibox validate' to list all configuration problems")
}

// NewBuildError creates an image build failure error
func NewBuildError(tag string, exitCode int, stderrTail string) *Error {
	msg := fmt.Sprintf("image build for %s exited with code %d", tag, exitCode)
	if stderrTail != "" {
		msg += ": " + stderrTail
	}
	return New(ErrCodeBuildFailed, msg).
		WithSuggestion("Inspect the install steps of the image definition").
		WithSuggestion("Build failures are not retried; fix the definition and re-run")
}

// NewExecDockerNotAvailableError creates a Docker not available error
func NewExecDockerNotAvailableError(cause error) *Error {
	return Wrap(ErrCodeExecDockerNotAvailable, "Docker is not available", cause).
		WithSuggestion("Install Docker Engine or point --docker-bin at a compatible CLI").
		WithSuggestion("Make sure the Docker daemon is running").
		WithDocs("https://docs.docker.com/get-docker/")
}

// NewTimeoutError creates a job timeout error
func NewTimeoutError(jobID, timeout string) *Error {
	return New(ErrCodeExecTimeout, fmt.Sprintf("job %q exceeded its timeout of %s and was torn down", jobID, timeout))
}

// NewArtifactNotFoundError creates an artifact lookup miss error
func NewArtifactNotFoundError(jobID, name string) *Error {
	return New(ErrCodeArtifactNotFound, fmt.Sprintf("artifact %q of job %q not found", name, jobID))
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *Error {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}
