package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/exec"
	"github.com/felixgeelhaar/cibox/internal/job"
	"github.com/felixgeelhaar/cibox/internal/telemetry"
)

// Paths inside every job container.
const (
	ArtifactsPath = "/artifacts"
	InputsPath    = "/inputs"
)

// execute runs one job to a terminal state on a worker goroutine. It never
// touches the run's state maps.
func (r *run) execute(ctx context.Context, t task) job.Result {
	j := t.job
	logger := r.logger.WithJob(j.ID)
	ctx, span := telemetry.StartJobSpan(ctx, j.ID, j.Image)
	defer span.End()

	stop := r.o.Metrics.JobStarted()
	defer stop()

	res := job.NewResult(j, job.Failed)
	res.StartedAt = time.Now()
	finish := func(state job.State, err error) job.Result {
		res.State = state
		res.Err = err
		res.FinishedAt = time.Now()
		res.Duration = res.FinishedAt.Sub(res.StartedAt)

		args := []any{"state", state, "exit_code", res.ExitCode, "duration", res.Duration.Round(time.Millisecond)}
		if err != nil {
			telemetry.RecordError(span, err)
			logger.WithError(err).Warn("job finished", args...)
		} else {
			telemetry.RecordSuccess(span)
			logger.Info("job finished", args...)
		}
		return res
	}

	logger.Info("job started", "image", j.Image)

	ref, err := r.o.Resolver.Resolve(ctx, r.graph.Images[j.Image])
	if err != nil {
		return finish(job.Failed, err)
	}
	res.ImageRef = ref.Name

	jobDir := filepath.Join(r.dir, j.ID)
	outDir := filepath.Join(jobDir, "artifacts")
	if err := os.MkdirAll(outDir, 0o777); err != nil {
		return finish(job.Failed, errors.Wrap(errors.ErrCodeFileWriteFailed, "create artifact directory", err))
	}
	// Containers may run as any user.
	_ = os.Chmod(outDir, 0o777)

	mounts := []exec.Mount{{Source: outDir, Target: ArtifactsPath}}
	inputs, inputMounts, err := r.stageInputs(ctx, t, filepath.Join(jobDir, "inputs"))
	if err != nil {
		return finish(job.Failed, err)
	}
	mounts = append(mounts, inputMounts...)

	spec := exec.Spec{
		RunID:   r.id,
		JobID:   j.ID,
		Image:   ref.Name,
		Command: j.Command,
		Env:     jobEnv(r.id, j),
		Mounts:  mounts,
		Limits:  exec.Limits(j.Limits),
		Timeout: j.Timeout,
	}

	out, runErr := r.o.Runner.Run(ctx, spec)
	if out != nil {
		res.ExitCode = out.ExitCode
		res.Stdout = out.Stdout
		res.Stderr = out.Stderr
	}
	defer r.audit(spec, out, inputs, &res)

	switch {
	case runErr != nil:
		return finish(job.Failed, runErr)
	case out == nil:
		return finish(job.Failed, errors.Newf(errors.ErrCodeExecDockerNotAvailable, "runner returned no result for job %q", j.ID))
	case out.TimedOut:
		return finish(job.TimedOut, errors.NewTimeoutError(j.ID, j.Timeout.String()))
	}

	harvested, err := artifact.Harvest(ctx, r.store, j.ID, outDir)
	if err != nil {
		return finish(job.Failed, err)
	}
	for _, a := range harvested {
		res.Artifacts = append(res.Artifacts, job.ArtifactInfo{Name: a.Name, Digest: a.Digest, Size: a.Size})
		r.o.Metrics.RecordArtifact(a.Size)
	}

	if out.ExitCode != 0 {
		return finish(job.Failed, errors.Newf(errors.ErrCodeExecNonZeroExit, "job %q exited with code %d", j.ID, out.ExitCode))
	}
	if err := requireArtifacts(j.ID, j.Artifacts, harvested); err != nil {
		return finish(job.Failed, err)
	}
	return finish(job.Succeeded, nil)
}

// stageInputs copies every dependency's artifacts into dir/<dep> and
// returns read-only mounts for them. A declared artifact missing from a
// succeeded dependency is fatal for the consumer. A tolerated failure
// contributes whatever it left behind.
func (r *run) stageInputs(ctx context.Context, t task, dir string) ([]artifact.Artifact, []exec.Mount, error) {
	var (
		inputs []artifact.Artifact
		mounts []exec.Mount
	)
	for _, dep := range t.job.DependsOn {
		depDir := filepath.Join(dir, dep)
		staged, err := artifact.Stage(ctx, r.store, dep, depDir)
		if err != nil {
			return nil, nil, fmt.Errorf("stage inputs from %q: %w", dep, err)
		}
		if t.succeeded[dep] {
			if err := requireArtifacts(dep, r.jobs[dep].Artifacts, staged); err != nil {
				return nil, nil, fmt.Errorf("stage inputs from %q: %w", dep, err)
			}
		}
		inputs = append(inputs, staged...)
		mounts = append(mounts, exec.Mount{Source: depDir, Target: InputsPath + "/" + dep, ReadOnly: true})
	}
	return inputs, mounts, nil
}

func requireArtifacts(jobID string, declared []string, have []artifact.Artifact) error {
	present := make(map[string]bool, len(have))
	for _, a := range have {
		present[a.Name] = true
	}
	for _, name := range declared {
		if !present[name] {
			return errors.NewArtifactNotFoundError(jobID, name).
				WithSuggestion(fmt.Sprintf("Write %s under %s inside the container", name, ArtifactsPath))
		}
	}
	return nil
}

func jobEnv(runID string, j job.Job) map[string]string {
	env := make(map[string]string, len(j.Env)+4)
	for k, v := range j.Env {
		env[k] = v
	}
	env["CIBOX_RUN_ID"] = runID
	env["CIBOX_JOB_ID"] = j.ID
	env["CIBOX_ARTIFACTS"] = ArtifactsPath
	env["CIBOX_INPUTS"] = InputsPath
	return env
}

// audit writes the execution record when an audit directory is configured.
func (r *run) audit(spec exec.Spec, out *exec.Result, inputs []artifact.Artifact, res *job.Result) {
	if r.o.AuditDir == "" {
		return
	}
	rec := exec.NewRecord(spec, out)
	for _, a := range inputs {
		rec.AddInput(a.JobID+"/"+a.Name, a.Digest)
	}
	for _, a := range res.Artifacts {
		rec.AddOutput(a.Name, a.Digest)
	}
	if _, err := exec.SaveRecord(rec, r.o.AuditDir); err != nil {
		r.logger.WithJob(spec.JobID).WithError(err).Warn("failed to write audit record")
	}
}
