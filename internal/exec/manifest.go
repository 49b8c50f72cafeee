package exec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Record is the audit log entry of one container execution.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"run_id"`
	JobID     string            `json:"job_id"`
	Container string            `json:"container"`
	Image     string            `json:"image"`
	Command   []string          `json:"command"`
	Env       map[string]string `json:"env,omitempty"`
	ExitCode  int               `json:"exit_code"`
	TimedOut  bool              `json:"timed_out,omitempty"`
	Duration  string            `json:"duration"`
	Inputs    map[string]string `json:"inputs"`
	Outputs   map[string]string `json:"outputs"`
}

// NewRecord creates an audit record for a finished execution.
func NewRecord(spec Spec, result *Result) *Record {
	rec := &Record{
		Timestamp: time.Now().UTC(),
		RunID:     spec.RunID,
		JobID:     spec.JobID,
		Image:     spec.Image,
		Command:   spec.Command,
		Env:       spec.Env,
		Inputs:    make(map[string]string),
		Outputs:   make(map[string]string),
	}
	if result != nil {
		rec.Container = result.Container
		rec.ExitCode = result.ExitCode
		rec.TimedOut = result.TimedOut
		rec.Duration = result.Duration.String()
	}
	return rec
}

// AddInput records the digest of an input artifact.
func (r *Record) AddInput(name, digest string) {
	r.Inputs[name] = digest
}

// AddOutput records the digest of an output artifact.
func (r *Record) AddOutput(name, digest string) {
	r.Outputs[name] = digest
}

// SaveRecord atomically writes a record to <dir>/<run>/<job>.json.
func SaveRecord(rec *Record, dir string) (string, error) {
	runDir := filepath.Join(dir, rec.RunID)
	if err := os.MkdirAll(runDir, 0o750); err != nil {
		return "", fmt.Errorf("create audit directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	path := filepath.Join(runDir, rec.JobID+".json")
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	return path, nil
}
