package image

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Builder produces a local image tagged tag from a build spec and returns
// the engine's image ID. Exists reports whether a previously built image is
// still present in the engine.
type Builder interface {
	Build(ctx context.Context, spec BuildSpec, tag string) (string, error)
	Exists(ctx context.Context, ref Ref) (bool, error)
}

// DockerBuilder builds images with the docker CLI.
type DockerBuilder struct {
	DockerBin string
	// Pull always attempts to pull a newer base image.
	Pull bool
}

// NewDockerBuilder creates a builder using dockerBin, defaulting to "docker".
func NewDockerBuilder(dockerBin string) *DockerBuilder {
	if strings.TrimSpace(dockerBin) == "" {
		dockerBin = "docker"
	}
	return &DockerBuilder{DockerBin: dockerBin}
}

// Build implements Builder.
func (b *DockerBuilder) Build(ctx context.Context, spec BuildSpec, tag string) (string, error) {
	tmp, err := os.MkdirTemp("", "cibox-build-*")
	if err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	dockerfile := filepath.Join(tmp, "Dockerfile")
	content, err := RenderDockerfile(spec)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dockerfile, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write Dockerfile: %w", err)
	}

	contextDir := spec.Context
	if contextDir == "" {
		contextDir = tmp
	}

	hash, err := Hash(spec)
	if err != nil {
		return "", err
	}

	cmd := osexec.CommandContext(ctx, b.DockerBin, b.buildArgs(dockerfile, tag, hash, contextDir)...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *osexec.ExitError
		if stderrors.As(err, &exitErr) {
			return "", errors.NewBuildError(tag, exitErr.ExitCode(), tail(stderr.String(), 20))
		}
		return "", errors.NewExecDockerNotAvailableError(err)
	}

	return b.imageID(ctx, tag)
}

func (b *DockerBuilder) buildArgs(dockerfile, tag, hash, contextDir string) []string {
	args := []string{
		"build",
		"--file", dockerfile,
		"--tag", tag,
		"--label", "cibox.managed=true",
		"--label", "cibox.spec-hash=" + hash,
	}
	if b.Pull {
		args = append(args, "--pull")
	}
	return append(args, contextDir)
}

func (b *DockerBuilder) imageID(ctx context.Context, tag string) (string, error) {
	cmd := osexec.CommandContext(ctx, b.DockerBin, "image", "inspect", "--format", "{{.Id}}", tag)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker image inspect %s: %w: %s", tag, err, strings.TrimSpace(string(out)))
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("docker image inspect %s: empty image id", tag)
	}
	return fields[0], nil
}

// Exists implements Builder with docker image inspect.
func (b *DockerBuilder) Exists(ctx context.Context, ref Ref) (bool, error) {
	out, err := osexec.CommandContext(ctx, b.DockerBin, "image", "inspect", "--format", "{{.Id}}", ref.Name).CombinedOutput()
	if err == nil {
		return true, nil
	}
	var exitErr *osexec.ExitError
	if !stderrors.As(err, &exitErr) {
		return false, errors.NewExecDockerNotAvailableError(err)
	}
	if strings.Contains(string(out), "No such image") || strings.Contains(string(out), "No such object") {
		return false, nil
	}
	return false, fmt.Errorf("docker image inspect %s: %w: %s", ref.Name, err, strings.TrimSpace(string(out)))
}

// Remove deletes a built image. An image that no longer exists is not an
// error.
func (b *DockerBuilder) Remove(ctx context.Context, ref Ref) error {
	out, err := osexec.CommandContext(ctx, b.DockerBin, "image", "rm", "--force", ref.Name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such image") {
		return fmt.Errorf("docker image rm %s: %w: %s", ref.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RenderDockerfile renders the Dockerfile for a build spec: the base image,
// the context copied to /workspace, one RUN per install step and an
// exec-form ENTRYPOINT.
func RenderDockerfile(spec BuildSpec) (string, error) {
	if strings.TrimSpace(spec.Base) == "" {
		return "", errors.New(errors.ErrCodeBuildInvalidSpec, "build spec has no base image")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", spec.Base)
	b.WriteString("WORKDIR /workspace\n")
	if spec.Context != "" {
		b.WriteString("COPY . /workspace\n")
	}
	for _, step := range spec.Install {
		if strings.ContainsAny(step, "\n") {
			return "", errors.Newf(errors.ErrCodeBuildInvalidSpec, "install step contains a newline: %q", step)
		}
		fmt.Fprintf(&b, "RUN %s\n", step)
	}
	if len(spec.Entrypoint) > 0 {
		ep, err := json.Marshal(spec.Entrypoint)
		if err != nil {
			return "", fmt.Errorf("encode entrypoint: %w", err)
		}
		fmt.Fprintf(&b, "ENTRYPOINT %s\n", ep)
	}
	return b.String(), nil
}

// tail returns at most n trailing lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
