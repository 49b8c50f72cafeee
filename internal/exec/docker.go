package exec

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/log"
)

// teardownTimeout bounds the forced removal of a container after its run.
const teardownTimeout = 30 * time.Second

// DockerRunner runs specs with the docker CLI.
type DockerRunner struct {
	DockerBin string
	Policy    *Policy
	Logger    *log.Logger

	mu     sync.Mutex
	mounts map[string]string // read-write host source -> container name
}

// NewDockerRunner creates a runner using dockerBin, defaulting to "docker".
func NewDockerRunner(dockerBin string) *DockerRunner {
	if strings.TrimSpace(dockerBin) == "" {
		dockerBin = "docker"
	}
	return &DockerRunner{
		DockerBin: dockerBin,
		Logger:    log.Nop(),
		mounts:    make(map[string]string),
	}
}

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Image == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "container spec has no image")
	}
	if err := r.Policy.CheckNetwork(spec.Limits.Network); err != nil {
		return nil, err
	}

	name := "cibox-" + uuid.NewString()
	release, err := r.claimMounts(name, spec.Mounts)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	// Killing the CLI does not stop the container, so removal is forced on
	// every exit path with a context that outlives the run's.
	defer r.remove(name)

	var stdout, stderr bytes.Buffer
	cmd := osexec.CommandContext(runCtx, r.DockerBin, buildRunArgs(name, spec)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	r.logger().Debug("starting container", "container", name, "image", spec.Image, "job_id", spec.JobID)
	start := time.Now()
	runErr := cmd.Run()

	result := &Result{
		Container: name,
		StartedAt: start,
		Duration:  time.Since(start),
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
	}

	switch {
	case ctx.Err() != nil:
		result.Cancelled = true
		result.ExitCode = -1
		return result, errors.Wrap(errors.ErrCodeExecCancelled, fmt.Sprintf("container %s cancelled", name), ctx.Err())
	case stderrors.Is(runCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if runErr != nil {
		var exitErr *osexec.ExitError
		if !stderrors.As(runErr, &exitErr) {
			return nil, errors.NewExecDockerNotAvailableError(runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func (r *DockerRunner) logger() *log.Logger {
	if r.Logger == nil {
		return log.Nop()
	}
	return r.Logger
}

// claimMounts reserves the spec's read-write sources for container name.
func (r *DockerRunner) claimMounts(name string, mounts []Mount) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mounts == nil {
		r.mounts = make(map[string]string)
	}

	var claimed []string
	for _, m := range mounts {
		if m.ReadOnly {
			continue
		}
		src := filepath.Clean(m.Source)
		if owner, busy := r.mounts[src]; busy {
			for _, c := range claimed {
				delete(r.mounts, c)
			}
			return nil, errors.Newf(errors.ErrCodeExecMountCollision,
				"host path %s is already mounted read-write by %s", src, owner)
		}
		r.mounts[src] = name
		claimed = append(claimed, src)
	}

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range claimed {
			delete(r.mounts, c)
		}
	}, nil
}

// remove force-removes a container. A container already gone is fine.
func (r *DockerRunner) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	out, err := osexec.CommandContext(ctx, r.DockerBin, "rm", "-f", name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		r.logger().Warn("failed to remove container", "container", name, "error", strings.TrimSpace(string(out)))
	}
}

// buildRunArgs constructs the docker run arguments with security constraints
func buildRunArgs(name string, spec Spec) []string {
	args := []string{
		"run",
		"--rm",
		"--name", name,
		"--label", LabelManaged + "=true",
	}
	if spec.RunID != "" {
		args = append(args, "--label", LabelRun+"="+spec.RunID)
	}
	if spec.JobID != "" {
		args = append(args, "--label", LabelJob+"="+spec.JobID)
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}

	network := spec.Limits.Network
	if network == "" {
		network = DefaultNetwork
	}
	args = append(args, "--network", network)

	// Resource limits
	if spec.Limits.CPU != "" {
		args = append(args, "--cpus", spec.Limits.CPU)
	}
	if spec.Limits.Memory != "" {
		args = append(args, "--memory", spec.Limits.Memory)
	}
	if spec.Limits.PIDs > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(spec.Limits.PIDs))
	}

	args = append(args,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	)

	for _, m := range spec.Mounts {
		v := m.Source + ":" + m.Target
		if m.ReadOnly {
			v += ":ro"
		}
		args = append(args, "-v", v)
	}

	if spec.Workdir != "" {
		args = append(args, "-w", spec.Workdir)
	}

	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}

	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Available checks that the docker CLI can reach a daemon.
func (r *DockerRunner) Available(ctx context.Context) error {
	cmd := osexec.CommandContext(ctx, r.DockerBin, "version", "--format", "{{.Server.Version}}")
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.NewExecDockerNotAvailableError(fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

// ReapOptions selects which leftover containers Reap removes.
type ReapOptions struct {
	// RunID restricts reaping to one run.
	RunID string
	// All also removes running containers. Without it only exited,
	// created or dead containers are removed so concurrent runs on the
	// same host are left alone.
	All bool
}

// Reap removes containers labelled as managed by cibox and returns how
// many were removed.
func (r *DockerRunner) Reap(ctx context.Context, opts ReapOptions) (int, error) {
	args := []string{"ps", "-aq", "--filter", "label=" + LabelManaged + "=true"}
	if opts.RunID != "" {
		args = append(args, "--filter", "label="+LabelRun+"="+opts.RunID)
	}
	if !opts.All {
		args = append(args, "--filter", "status=exited", "--filter", "status=created", "--filter", "status=dead")
	}

	out, err := osexec.CommandContext(ctx, r.DockerBin, args...).Output()
	if err != nil {
		return 0, errors.NewExecDockerNotAvailableError(err)
	}
	ids := strings.Fields(string(out))
	if len(ids) == 0 {
		return 0, nil
	}

	rm := append([]string{"rm", "-f"}, ids...)
	if out, err := osexec.CommandContext(ctx, r.DockerBin, rm...).CombinedOutput(); err != nil {
		return 0, fmt.Errorf("remove stale containers: %w: %s", err, strings.TrimSpace(string(out)))
	}
	r.logger().Info("reaped stale containers", "count", len(ids))
	return len(ids), nil
}
