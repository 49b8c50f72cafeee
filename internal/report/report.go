// Package report turns job results into a run report that compares jobs
// grouped by a caller-chosen key.
package report

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/job"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// JobSummary is the reported view of one job result.
type JobSummary struct {
	JobID          string             `json:"job_id" yaml:"job_id"`
	Group          string             `json:"group,omitempty" yaml:"group,omitempty"`
	State          job.State          `json:"state" yaml:"state"`
	ExitCode       int                `json:"exit_code" yaml:"exit_code"`
	OnFailure      job.OnFailure      `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
	Expect         job.Expectation    `json:"expect,omitempty" yaml:"expect,omitempty"`
	MetExpectation bool               `json:"met_expectation" yaml:"met_expectation"`
	Image          string             `json:"image,omitempty" yaml:"image,omitempty"`
	StartedAt      time.Time          `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	FinishedAt     time.Time          `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
	DurationMS     int64              `json:"duration_ms" yaml:"duration_ms"`
	Artifacts      []job.ArtifactInfo `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Stdout         string             `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr         string             `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	Error          string             `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode      string             `json:"error_code,omitempty" yaml:"error_code,omitempty"`
}

// Counts tallies jobs by terminal state.
type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	TimedOut  int `json:"timed_out" yaml:"timed_out"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

func (c *Counts) add(s job.State) {
	c.Total++
	switch s {
	case job.Succeeded:
		c.Succeeded++
	case job.Failed:
		c.Failed++
	case job.TimedOut:
		c.TimedOut++
	case job.Skipped:
		c.Skipped++
	}
}

// RunReport is the comparison report of a run.
type RunReport struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Pipeline   string         `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Status     Status         `json:"status" yaml:"status"`
	StartedAt  time.Time      `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
	DurationMS int64          `json:"duration_ms" yaml:"duration_ms"`
	Counts     Counts         `json:"counts" yaml:"counts"`
	Jobs       []JobSummary   `json:"jobs" yaml:"jobs"`
	Groups     []GroupSummary `json:"groups,omitempty" yaml:"groups,omitempty"`
	// Failures lists continue-on-error jobs that failed without failing
	// the run.
	Failures []string `json:"failures,omitempty" yaml:"failures,omitempty"`
	// Unexpected lists jobs whose outcome failed the run.
	Unexpected []string `json:"unexpected,omitempty" yaml:"unexpected,omitempty"`
}

// KeyFunc maps a result to its comparison group.
type KeyFunc func(job.Result) string

// ByGroup groups by the job's Group, falling back to its ID.
func ByGroup(r job.Result) string {
	if r.Group != "" {
		return r.Group
	}
	return r.JobID
}

// ByJobID groups results of the same job across runs. IDs of the form
// <run>/<job> are keyed by <job>.
func ByJobID(r job.Result) string {
	if i := strings.LastIndexByte(r.JobID, '/'); i >= 0 {
		return r.JobID[i+1:]
	}
	return r.JobID
}

// Compare builds a report from results. It is pure: the same results in
// the same order always yield the same report.
func Compare(results []job.Result, key KeyFunc) *RunReport {
	if key == nil {
		key = ByGroup
	}

	rep := &RunReport{
		Status: StatusSuccess,
		Jobs:   make([]JobSummary, 0, len(results)),
	}
	for _, r := range results {
		rep.Jobs = append(rep.Jobs, Summarize(r))
		rep.Counts.add(r.State)

		switch {
		case r.State == job.Skipped:
			rep.Status = StatusFailure
		case r.MetExpectation():
			if r.OnFailure == job.Continue && (r.State == job.Failed || r.State == job.TimedOut) {
				rep.Failures = append(rep.Failures, r.JobID)
			}
		case r.OnFailure == job.Continue && (r.State == job.Failed || r.State == job.TimedOut):
			rep.Failures = append(rep.Failures, r.JobID)
		default:
			rep.Status = StatusFailure
			rep.Unexpected = append(rep.Unexpected, r.JobID)
		}
	}

	rep.Groups = groupSummaries(results, key)
	return rep
}

// Summarize converts a result into its reported form.
func Summarize(r job.Result) JobSummary {
	s := JobSummary{
		JobID:          r.JobID,
		Group:          r.Group,
		State:          r.State,
		ExitCode:       r.ExitCode,
		OnFailure:      r.OnFailure,
		Expect:         r.Expect,
		MetExpectation: r.MetExpectation(),
		Image:          r.ImageRef,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		DurationMS:     r.Duration.Milliseconds(),
		Artifacts:      r.Artifacts,
		Stdout:         string(r.Stdout),
		Stderr:         string(r.Stderr),
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
		s.ErrorCode = string(errors.CodeOf(r.Err))
	}
	return s
}

// Result converts a summary back into a result. Err keeps only the message.
func (s JobSummary) Result() job.Result {
	r := job.Result{
		JobID:      s.JobID,
		Group:      s.Group,
		OnFailure:  s.OnFailure,
		Expect:     s.Expect,
		State:      s.State,
		ExitCode:   s.ExitCode,
		Stdout:     []byte(s.Stdout),
		Stderr:     []byte(s.Stderr),
		ImageRef:   s.Image,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Duration:   time.Duration(s.DurationMS) * time.Millisecond,
		Artifacts:  s.Artifacts,
	}
	if s.Error != "" {
		r.Err = errors.New(errors.ErrorCode(s.ErrorCode), s.Error)
	}
	return r
}

// Merge flattens saved reports into one result set for cross-run
// comparison. Job IDs become <run>/<job>.
func Merge(reports ...*RunReport) []job.Result {
	var out []job.Result
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		for _, s := range rep.Jobs {
			r := s.Result()
			if rep.RunID != "" {
				r.JobID = rep.RunID + "/" + s.JobID
			}
			out = append(out, r)
		}
	}
	return out
}
