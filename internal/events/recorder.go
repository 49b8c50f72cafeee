package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/felixgeelhaar/cibox/internal/job"
)

// Recorder writes events to an io.Writer and implements the orchestrator's
// observer hooks.
type Recorder struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	runID  string
	now    func() time.Time
	err    error
}

// NewRecorder writes events for runID to w.
func NewRecorder(w io.Writer, runID string) *Recorder {
	return &Recorder{enc: json.NewEncoder(w), runID: runID, now: time.Now}
}

// Create opens path for appending and returns a recorder writing to it.
func Create(path, runID string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	r := NewRecorder(f, runID)
	r.closer = f
	return r, nil
}

// JobStarted records a job_started event.
func (r *Recorder) JobStarted(j job.Job) {
	r.write(newEvent(TypeJobStarted, r.runID, j.ID, r.now()))
}

// JobFinished records a job_finished event, or job_skipped for jobs that
// never ran.
func (r *Recorder) JobFinished(res job.Result) {
	t := TypeJobFinished
	if res.State == job.Skipped {
		t = TypeJobSkipped
	}
	ev := newEvent(t, r.runID, res.JobID, r.now())
	ev.State = string(res.State)
	ev.Image = res.ImageRef
	ev.DurationMS = res.Duration.Milliseconds()
	if res.State != job.Skipped {
		code := res.ExitCode
		ev.ExitCode = &code
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	r.write(ev)
}

func (r *Recorder) write(ev *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = r.enc.Encode(ev)
}

// Close closes the underlying file, if any, and returns the first write
// error.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer != nil {
		if err := r.closer.Close(); err != nil && r.err == nil {
			r.err = err
		}
		r.closer = nil
	}
	return r.err
}
