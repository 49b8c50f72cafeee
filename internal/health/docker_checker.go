package health

import (
	"context"
	"os/exec"
	"strings"
)

// DockerChecker checks if Docker daemon is running and accessible.
type DockerChecker struct {
	Bin string
}

// NewDockerChecker creates a checker for the docker CLI at bin.
func NewDockerChecker(bin string) *DockerChecker {
	if bin == "" {
		bin = "docker"
	}
	return &DockerChecker{Bin: bin}
}

// Name returns the name of this health check.
func (c *DockerChecker) Name() string {
	return "docker-daemon"
}

// Check runs `docker info` to verify daemon connectivity.
func (c *DockerChecker) Check(ctx context.Context) *Result {
	dockerPath, err := exec.LookPath(c.Bin)
	if err != nil {
		return Unhealthy("docker command not found").
			WithDetail("error", err.Error()).
			WithDetail("suggestion", "Install Docker Engine or set docker.bin in .cibox/config.yaml")
	}

	output, err := exec.CommandContext(ctx, dockerPath, "info", "--format", "{{.ServerVersion}}").CombinedOutput()
	if err != nil {
		errMsg := strings.TrimSpace(string(output))
		if strings.Contains(errMsg, "Cannot connect to the Docker daemon") {
			return Unhealthy("Docker daemon is not running").
				WithDetail("error", errMsg).
				WithDetail("suggestion", "Start the Docker daemon")
		}
		return Unhealthy("Failed to connect to Docker daemon").
			WithDetail("error", err.Error()).
			WithDetail("output", errMsg)
	}

	version := strings.TrimSpace(string(output))
	if version == "" {
		return Degraded("Docker daemon responding but version unknown").
			WithDetail("docker_path", dockerPath)
	}

	return Healthy("Docker daemon is running").
		WithDetail("docker_path", dockerPath).
		WithDetail("server_version", version)
}
