package image

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

func TestRenderDockerfile(t *testing.T) {
	tests := []struct {
		name    string
		spec    BuildSpec
		want    string
		wantErr bool
	}{
		{
			name: "base only",
			spec: BuildSpec{Base: "alpine:3.19"},
			want: "FROM alpine:3.19\nWORKDIR /workspace\n",
		},
		{
			name: "full",
			spec: BuildSpec{
				Base:       "python:3.11-slim",
				Install:    []string{"pip install selenium==4.15.2", "apt-get update"},
				Entrypoint: []string{"python", "-u"},
				Context:    ".",
			},
			want: "FROM python:3.11-slim\n" +
				"WORKDIR /workspace\n" +
				"COPY . /workspace\n" +
				"RUN pip install selenium==4.15.2\n" +
				"RUN apt-get update\n" +
				`ENTRYPOINT ["python","-u"]` + "\n",
		},
		{
			name:    "missing base",
			spec:    BuildSpec{},
			wantErr: true,
		},
		{
			name:    "multi-line step",
			spec:    BuildSpec{Base: "alpine", Install: []string{"echo a\necho b"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderDockerfile(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeBuildInvalidSpec, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDockerBuilder_BuildArgs(t *testing.T) {
	b := NewDockerBuilder("")
	b.Pull = true
	args := b.buildArgs("/tmp/Dockerfile", "cibox.local/build:abc", "abcdef", "/src")

	assert.Equal(t, []string{
		"build",
		"--file", "/tmp/Dockerfile",
		"--tag", "cibox.local/build:abc",
		"--label", "cibox.managed=true",
		"--label", "cibox.spec-hash=abcdef",
		"--pull",
		"/src",
	}, args)
	assert.Equal(t, "docker", b.DockerBin)
}

// fakeDocker writes a shell script standing in for the docker CLI.
func fakeDocker(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "docker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestDockerBuilder_Build(t *testing.T) {
	bin := fakeDocker(t, `case "$1" in
build) echo "Step 1/2" ; exit 0 ;;
image) echo "sha256:feedface" ;;
esac
`)
	id, err := NewDockerBuilder(bin).Build(context.Background(), BuildSpec{Base: "alpine"}, "cibox.local/build:x")
	require.NoError(t, err)
	assert.Equal(t, "sha256:feedface", id)
}

func TestDockerBuilder_BuildFailure(t *testing.T) {
	bin := fakeDocker(t, `echo "E: Unable to locate package nope" >&2
exit 100
`)
	_, err := NewDockerBuilder(bin).Build(context.Background(), BuildSpec{Base: "alpine"}, "cibox.local/build:x")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeBuildFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "code 100")
	assert.Contains(t, err.Error(), "Unable to locate package")
}

func TestDockerBuilder_Remove(t *testing.T) {
	bin := fakeDocker(t, `case "$4" in
cibox.local/build:gone) echo "Error response from daemon: No such image: $4" >&2 ; exit 1 ;;
cibox.local/build:busy) echo "conflict: image is being used" >&2 ; exit 1 ;;
esac
`)
	b := NewDockerBuilder(bin)
	ctx := context.Background()

	assert.NoError(t, b.Remove(ctx, Ref{Name: "cibox.local/build:ok"}))
	assert.NoError(t, b.Remove(ctx, Ref{Name: "cibox.local/build:gone"}))
	assert.ErrorContains(t, b.Remove(ctx, Ref{Name: "cibox.local/build:busy"}), "being used")
}

func TestDockerBuilder_Exists(t *testing.T) {
	bin := fakeDocker(t, `case "$5" in
cibox.local/build:gone) echo "Error: No such image: $5" >&2 ; exit 1 ;;
cibox.local/build:odd) echo "permission denied" >&2 ; exit 1 ;;
*) echo "sha256:feedface" ;;
esac
`)
	b := NewDockerBuilder(bin)
	ctx := context.Background()

	ok, err := b.Exists(ctx, Ref{Name: "cibox.local/build:here"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Exists(ctx, Ref{Name: "cibox.local/build:gone"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.Exists(ctx, Ref{Name: "cibox.local/build:odd"})
	assert.ErrorContains(t, err, "permission denied")

	_, err = NewDockerBuilder(filepath.Join(t.TempDir(), "missing")).Exists(ctx, Ref{Name: "x"})
	assert.Equal(t, errors.ErrCodeExecDockerNotAvailable, errors.CodeOf(err))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", tail("a\n", 5))
}
