// Package orchestrator runs a compiled pipeline graph: it schedules jobs in
// dependency order onto a bounded worker pool, propagates failures and
// collects a run report.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/exec"
	"github.com/felixgeelhaar/cibox/internal/image"
	"github.com/felixgeelhaar/cibox/internal/job"
	"github.com/felixgeelhaar/cibox/internal/log"
	"github.com/felixgeelhaar/cibox/internal/metrics"
	"github.com/felixgeelhaar/cibox/internal/pipeline"
	"github.com/felixgeelhaar/cibox/internal/report"
	"github.com/felixgeelhaar/cibox/internal/telemetry"
)

// ImageResolver resolves build specs to runnable images.
type ImageResolver interface {
	Resolve(ctx context.Context, spec image.BuildSpec) (image.Ref, error)
}

// Reaper removes containers left behind by earlier runs.
type Reaper interface {
	Reap(ctx context.Context, opts exec.ReapOptions) (int, error)
}

// Observer is notified of job progress. Calls come from a single
// goroutine.
type Observer interface {
	JobStarted(j job.Job)
	JobFinished(r job.Result)
}

// Orchestrator runs pipeline graphs. Resolver and Runner are required.
type Orchestrator struct {
	Resolver ImageResolver
	Runner   exec.Runner

	// Store receives job artifacts. Nil means a fresh in-memory store per
	// run, discarded afterwards.
	Store artifact.Store
	// Workspace is the root under which per-run job directories are
	// created and removed. Empty means the OS temp dir.
	Workspace string
	// Parallelism bounds concurrently running jobs. Values below 1 mean 1.
	Parallelism int

	Policy   *exec.Policy
	Logger   *log.Logger
	Metrics  *metrics.Metrics
	Observer Observer
	GroupKey report.KeyFunc
	// AuditDir, when set, receives one execution record per container run.
	AuditDir string
	// RunID overrides the generated run identifier.
	RunID string
}

// Run executes g and returns its report. A configuration problem is
// returned before any job runs, with a nil report. When ctx is cancelled,
// jobs not yet started are skipped, running containers are torn down, and
// Run returns the report with status cancelled together with ctx's error.
func (o *Orchestrator) Run(ctx context.Context, g *pipeline.Graph) (*report.RunReport, error) {
	if g == nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "nil pipeline graph")
	}
	if o.Resolver == nil || o.Runner == nil {
		return nil, errors.New(errors.ErrCodeConfigRunnerSettings, "orchestrator needs a resolver and a runner")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	for key, spec := range g.Images {
		if err := o.Policy.CheckBase(spec.Base); err != nil {
			return nil, errors.Wrap(errors.CodeOf(err), fmt.Sprintf("image %q", key), err)
		}
	}

	r := o.newRun(g)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWriteFailed, "create run workspace", err)
	}
	defer func() {
		if err := os.RemoveAll(r.dir); err != nil {
			r.logger.Warn("failed to remove run workspace", "dir", r.dir, "error", err)
		}
	}()

	ctx, span := telemetry.StartRunSpan(ctx, r.id, g.Name, len(g.Jobs))
	defer span.End()

	o.reap(ctx, r.logger)

	r.logger.Info("run started", "jobs", len(g.Jobs), "parallelism", r.parallelism)
	r.coordinate(ctx)

	rep := r.report(ctx)
	o.Metrics.RecordRun(string(rep.Status), time.Duration(rep.DurationMS)*time.Millisecond)
	r.logger.Info("run finished",
		"status", rep.Status,
		"succeeded", rep.Counts.Succeeded,
		"failed", rep.Counts.Failed,
		"timed_out", rep.Counts.TimedOut,
		"skipped", rep.Counts.Skipped,
		"duration_ms", rep.DurationMS,
	)

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return rep, err
	}
	if rep.Status == report.StatusSuccess {
		telemetry.RecordSuccess(span)
	}
	return rep, nil
}

func (o *Orchestrator) reap(ctx context.Context, logger *log.Logger) {
	reaper, ok := o.Runner.(Reaper)
	if !ok {
		return
	}
	n, err := reaper.Reap(ctx, exec.ReapOptions{})
	if err != nil {
		logger.WithError(err).Warn("failed to reap stale containers")
		return
	}
	o.Metrics.RecordReaped(n)
}

// run is the state of one Run call.
type run struct {
	o           *Orchestrator
	id          string
	graph       *pipeline.Graph
	dir         string
	store       artifact.Store
	parallelism int
	logger      *log.Logger
	started     time.Time

	jobs    map[string]job.Job
	states  job.States
	results map[string]job.Result
}

func (o *Orchestrator) newRun(g *pipeline.Graph) *run {
	id := o.RunID
	if id == "" {
		id = uuid.NewString()
	}
	root := o.Workspace
	if root == "" {
		root = filepath.Join(os.TempDir(), "cibox")
	}
	store := o.Store
	if store == nil {
		store = artifact.NewMemoryStore()
	}
	p := o.Parallelism
	if p < 1 {
		p = 1
	}
	logger := o.Logger
	if logger == nil {
		logger = log.Nop()
	}

	jobs := make(map[string]job.Job, len(g.Jobs))
	for _, j := range g.Jobs {
		jobs[j.ID] = j
	}

	return &run{
		o:           o,
		id:          id,
		graph:       g,
		dir:         filepath.Join(root, id),
		store:       store,
		parallelism: p,
		logger:      logger.WithRun(id, g.Name),
		started:     time.Now(),
		jobs:        jobs,
		states:      job.NewStates(g.Jobs),
		results:     make(map[string]job.Result, len(g.Jobs)),
	}
}

// coordinate is the single goroutine that owns job states. Workers only
// execute; every transition happens here.
func (r *run) coordinate(ctx context.Context) {
	work := make(chan task)
	done := make(chan job.Result, r.parallelism)

	var wg sync.WaitGroup
	for i := 0; i < r.parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				done <- r.execute(ctx, t)
			}
		}()
	}
	defer func() {
		close(work)
		wg.Wait()
	}()

	var ready []job.Job
	inFlight := 0
	cancelled := ctx.Done()
	stopped := false

	for {
		if !stopped && ctx.Err() != nil {
			stopped = true
			ready = nil
			r.skipRemaining(errors.Wrap(errors.ErrCodeExecCancelled, "run cancelled before job started", ctx.Err()))
		}

		ready = append(ready, r.promote()...)

		for inFlight < r.parallelism && len(ready) > 0 {
			j := ready[0]
			ready = ready[1:]
			r.transition(j.ID, job.Ready, job.Running)
			if obs := r.o.Observer; obs != nil {
				obs.JobStarted(j)
			}
			work <- r.dispatch(j)
			inFlight++
		}

		if inFlight == 0 {
			if !r.states.AllTerminal() {
				// Unreachable for a validated graph; never leave jobs pending.
				r.skipRemaining(errors.New(errors.ErrCodeConfigInvalid, "job could not be scheduled"))
			}
			return
		}

		select {
		case res := <-done:
			inFlight--
			r.finish(res)
		case <-cancelled:
			cancelled = nil
		}
	}
}

// promote moves pending jobs whose dependencies are all terminal to Ready,
// or to Skipped when a dependency blocks them. Skips cascade within one
// call. Jobs are visited in declaration order.
func (r *run) promote() []job.Job {
	var ready []job.Job
	for changed := true; changed; {
		changed = false
		for _, j := range r.graph.Jobs {
			if r.states[j.ID] != job.Pending {
				continue
			}
			blocker, waiting := r.dependencyStatus(j)
			if waiting {
				continue
			}
			if blocker != "" {
				r.skip(j.ID, job.Pending, errors.Newf(errors.ErrCodeExecDependencyBlocked,
					"skipped because dependency %q did not succeed", blocker))
				changed = true
				continue
			}
			r.transition(j.ID, job.Pending, job.Ready)
			ready = append(ready, j)
		}
	}
	return ready
}

// dependencyStatus returns the first blocking dependency of j, or
// waiting=true if some dependency is not terminal yet.
func (r *run) dependencyStatus(j job.Job) (blocker string, waiting bool) {
	for _, dep := range j.DependsOn {
		if !r.states[dep].IsTerminal() {
			return "", true
		}
	}
	for _, dep := range j.DependsOn {
		if res := r.results[dep]; res.Blocking() {
			return dep, false
		}
	}
	return "", false
}

// task is a dispatched job plus the dependencies that succeeded. Only
// those must have produced their declared artifacts.
type task struct {
	job       job.Job
	succeeded map[string]bool
}

func (r *run) dispatch(j job.Job) task {
	t := task{job: j, succeeded: make(map[string]bool, len(j.DependsOn))}
	for _, dep := range j.DependsOn {
		t.succeeded[dep] = r.results[dep].State == job.Succeeded
	}
	return t
}

func (r *run) transition(id string, from, to job.State) {
	if err := r.states.Transition(id, from, to); err != nil {
		// The coordinator is the only writer; an illegal transition is a bug.
		panic(err)
	}
}

func (r *run) skip(id string, from job.State, reason error) {
	r.transition(id, from, job.Skipped)
	res := job.NewResult(r.jobs[id], job.Skipped)
	res.Err = reason
	r.record(res)
	r.logger.WithJob(id).Info("job skipped", "reason", reason.Error())
}

func (r *run) skipRemaining(reason error) {
	for _, j := range r.graph.Jobs {
		switch st := r.states[j.ID]; st {
		case job.Pending, job.Ready:
			r.skip(j.ID, st, reason)
		}
	}
}

func (r *run) finish(res job.Result) {
	r.transition(res.JobID, job.Running, res.State)
	r.record(res)
}

func (r *run) record(res job.Result) {
	r.results[res.JobID] = res
	r.o.Metrics.RecordJob(string(res.State), res.Duration)
	if obs := r.o.Observer; obs != nil {
		obs.JobFinished(res)
	}
}

func (r *run) report(ctx context.Context) *report.RunReport {
	ordered := make([]job.Result, 0, len(r.graph.Jobs))
	for _, j := range r.graph.Jobs {
		ordered = append(ordered, r.results[j.ID])
	}

	rep := report.Compare(ordered, r.o.GroupKey)
	rep.RunID = r.id
	rep.Pipeline = r.graph.Name
	rep.StartedAt = r.started.UTC()
	rep.FinishedAt = time.Now().UTC()
	rep.DurationMS = rep.FinishedAt.Sub(rep.StartedAt).Milliseconds()
	if ctx.Err() != nil {
		rep.Status = report.StatusCancelled
	}
	return rep
}
