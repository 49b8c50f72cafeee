package exec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

func TestBuildRunArgs(t *testing.T) {
	base := []string{
		"run", "--rm", "--name", "c1",
		"--label", "cibox.managed=true",
	}
	hardening := []string{"--cap-drop", "ALL", "--security-opt", "no-new-privileges"}

	join := func(parts ...[]string) []string {
		var out []string
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		name string
		spec Spec
		want []string
	}{
		{
			name: "minimal spec defaults to no network",
			spec: Spec{Image: "alpine:latest", Command: []string{"echo", "hello"}},
			want: join(base, []string{"--network", "none"}, hardening, []string{"alpine:latest", "echo", "hello"}),
		},
		{
			name: "run and job labels",
			spec: Spec{RunID: "r1", JobID: "scrape", Image: "img", Labels: map[string]string{"b": "2", "a": "1"}},
			want: join(base,
				[]string{"--label", "cibox.run=r1", "--label", "cibox.job=scrape", "--label", "a=1", "--label", "b=2"},
				[]string{"--network", "none"}, hardening, []string{"img"}),
		},
		{
			name: "resource limits",
			spec: Spec{Image: "img", Limits: Limits{CPU: "2", Memory: "1g", PIDs: 128, Network: "bridge"}},
			want: join(base,
				[]string{"--network", "bridge", "--cpus", "2", "--memory", "1g", "--pids-limit", "128"},
				hardening, []string{"img"}),
		},
		{
			name: "mounts workdir and sorted env",
			spec: Spec{
				Image:   "img",
				Mounts:  []Mount{{Source: "/ws/a", Target: "/artifacts"}, {Source: "/ws/in", Target: "/inputs/test", ReadOnly: true}},
				Workdir: "/workspace",
				Env:     map[string]string{"Z": "1", "A": "2"},
				Command: []string{"python", "scraper.py"},
			},
			want: join(base, []string{"--network", "none"}, hardening,
				[]string{"-v", "/ws/a:/artifacts", "-v", "/ws/in:/inputs/test:ro", "-w", "/workspace", "-e", "A=2", "-e", "Z=1"},
				[]string{"img", "python", "scraper.py"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildRunArgs("c1", tt.spec))
		})
	}
}

func TestDockerRunner_MountCollision(t *testing.T) {
	r := NewDockerRunner("")

	release, err := r.claimMounts("c1", []Mount{{Source: "/ws/job/artifacts", Target: "/artifacts"}})
	require.NoError(t, err)

	_, err = r.claimMounts("c2", []Mount{{Source: "/ws/job/./artifacts", Target: "/artifacts"}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExecMountCollision, errors.CodeOf(err))

	// Read-only mounts of the same path do not collide.
	releaseRO, err := r.claimMounts("c3", []Mount{{Source: "/ws/job/artifacts", Target: "/inputs/x", ReadOnly: true}})
	require.NoError(t, err)
	releaseRO()

	release()
	release2, err := r.claimMounts("c2", []Mount{{Source: "/ws/job/artifacts", Target: "/artifacts"}})
	require.NoError(t, err)
	release2()
}

func TestDockerRunner_FailedClaimReleasesPartial(t *testing.T) {
	r := NewDockerRunner("")
	release, err := r.claimMounts("c1", []Mount{{Source: "/b", Target: "/b"}})
	require.NoError(t, err)
	defer release()

	_, err = r.claimMounts("c2", []Mount{{Source: "/a", Target: "/a"}, {Source: "/b", Target: "/b"}})
	require.Error(t, err)

	releaseA, err := r.claimMounts("c3", []Mount{{Source: "/a", Target: "/a"}})
	require.NoError(t, err)
	releaseA()
}

func TestDockerRunner_RejectsEmptyImage(t *testing.T) {
	_, err := NewDockerRunner("").Run(context.Background(), Spec{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
}

// fakeDocker writes a shell script standing in for the docker CLI. Every
// invocation appends its arguments to calls.log next to the script.
func fakeDocker(t *testing.T, runBody string) (bin, callLog string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	dir := t.TempDir()
	bin = filepath.Join(dir, "docker")
	callLog = filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\n" +
		`echo "$@" >> "` + callLog + `"` + "\n" +
		`if [ "$1" != "run" ]; then exit 0; fi` + "\n" +
		runBody
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, callLog
}

func TestDockerRunner_Run(t *testing.T) {
	bin, calls := fakeDocker(t, `echo "out line 1"
echo "err line" >&2
echo "out line 2"
exit 3
`)
	r := NewDockerRunner(bin)

	res, err := r.Run(context.Background(), Spec{RunID: "r1", JobID: "scrape", Image: "img", Command: []string{"true"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out line 1\nout line 2\n", string(res.Stdout))
	assert.Equal(t, "err line\n", string(res.Stderr))
	assert.False(t, res.TimedOut)
	assert.Contains(t, res.Container, "cibox-")

	log, err := os.ReadFile(calls)
	require.NoError(t, err)
	assert.Contains(t, string(log), "rm -f "+res.Container, "container is removed after the run")
}

func TestDockerRunner_Timeout(t *testing.T) {
	bin, calls := fakeDocker(t, "exec sleep 10\n")
	r := NewDockerRunner(bin)

	start := time.Now()
	res, err := r.Run(context.Background(), Spec{Image: "img", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 8*time.Second)

	log, err := os.ReadFile(calls)
	require.NoError(t, err)
	assert.Contains(t, string(log), "rm -f "+res.Container)
}

func TestDockerRunner_Cancelled(t *testing.T) {
	bin, _ := fakeDocker(t, "exec sleep 10\n")
	r := NewDockerRunner(bin)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := r.Run(ctx, Spec{Image: "img"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExecCancelled, errors.CodeOf(err))
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
}

func TestDockerRunner_DockerMissing(t *testing.T) {
	r := NewDockerRunner(filepath.Join(t.TempDir(), "no-docker"))
	_, err := r.Run(context.Background(), Spec{Image: "img"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeExecDockerNotAvailable, errors.CodeOf(err))

	err = r.Available(context.Background())
	assert.Equal(t, errors.ErrCodeExecDockerNotAvailable, errors.CodeOf(err))
}

func TestDockerRunner_Reap(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "docker")
	callLog := filepath.Join(dir, "calls.log")
	script := "#!/bin/sh\n" +
		`echo "$@" >> "` + callLog + `"` + "\n" +
		`if [ "$1" = "ps" ]; then printf "aaa\nbbb\n"; fi` + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	n, err := NewDockerRunner(bin).Reap(context.Background(), ReapOptions{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	log, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Contains(t, string(log), "label=cibox.run=r1")
	assert.Contains(t, string(log), "status=exited")
	assert.Contains(t, string(log), "rm -f aaa bbb")
}

func TestRecordingRunner(t *testing.T) {
	r := &RecordingRunner{}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Run(context.Background(), Spec{Image: "img"})
			assert.NoError(t, err)
			assert.Equal(t, 0, res.ExitCode)
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, r.Calls())

	r = &RecordingRunner{Handler: func(ctx context.Context, spec Spec) (*Result, error) {
		return &Result{ExitCode: 7}, nil
	}}
	res, err := r.Run(context.Background(), Spec{JobID: "j"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "j", r.Specs()[0].JobID)
}

func BenchmarkBuildRunArgs(b *testing.B) {
	spec := Spec{
		RunID:   "run",
		JobID:   "job",
		Image:   "node:18",
		Command: []string{"npm", "test"},
		Env: map[string]string{
			"NODE_ENV": "test",
			"CI":       "true",
		},
		Mounts: []Mount{{Source: "/ws", Target: "/artifacts"}},
		Limits: Limits{CPU: "1", Memory: "512m", PIDs: 256},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if args := buildRunArgs("c", spec); len(args) < 10 {
			b.Fatalf("expected at least 10 args, got %d", len(args))
		}
	}
}
