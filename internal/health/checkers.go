package health

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// DirChecker verifies a state directory can be created and written.
type DirChecker struct {
	name string
	Path string
}

// NewDirChecker creates a checker named name for path.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, Path: path}
}

// Name returns the name of this health check.
func (c *DirChecker) Name() string {
	return c.name
}

// Check creates the directory if needed and writes a probe file into it.
func (c *DirChecker) Check(ctx context.Context) *Result {
	if c.Path == "" {
		return Healthy("not configured")
	}
	if err := os.MkdirAll(c.Path, 0o755); err != nil {
		return Unhealthy("directory cannot be created").
			WithDetail("path", c.Path).
			WithDetail("error", err.Error())
	}
	f, err := os.CreateTemp(c.Path, ".cibox-probe-*")
	if err != nil {
		return Unhealthy("directory is not writable").
			WithDetail("path", c.Path).
			WithDetail("error", err.Error())
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	res := Healthy("directory is writable").WithDetail("path", c.Path)
	if usage, err := disk.UsageWithContext(ctx, c.Path); err == nil {
		res.WithDetail("free", formatBytes(usage.Free))
		if usage.UsedPercent > 95 {
			res.Status = StatusDegraded
			res.Message = fmt.Sprintf("filesystem is %.0f%% full", usage.UsedPercent)
		}
	}
	return res
}

// HostChecker reports host capacity against the configured parallelism.
type HostChecker struct {
	Parallelism int
}

// Name returns the name of this health check.
func (c *HostChecker) Name() string {
	return "host-resources"
}

// Check compares logical CPUs with Parallelism and reports memory.
func (c *HostChecker) Check(ctx context.Context) *Result {
	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Degraded("cannot determine CPU count").WithDetail("error", err.Error())
	}
	res := Healthy(fmt.Sprintf("%d logical CPUs", cpus)).
		WithDetail("cpus", cpus).
		WithDetail("parallelism", c.Parallelism)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		res.WithDetail("memory_available", formatBytes(vm.Available))
	}
	if c.Parallelism > 2*cpus {
		res.Status = StatusDegraded
		res.Message = fmt.Sprintf("parallelism %d exceeds twice the %d logical CPUs", c.Parallelism, cpus)
	}
	return res
}

// FuncChecker adapts a probe function to Checker.
type FuncChecker struct {
	CheckName string
	Probe     func(ctx context.Context) error
	// OK is the message reported when Probe succeeds.
	OK string
}

// Name returns the name of this health check.
func (c *FuncChecker) Name() string {
	return c.CheckName
}

// Check runs Probe; an error makes the check unhealthy.
func (c *FuncChecker) Check(ctx context.Context) *Result {
	if err := c.Probe(ctx); err != nil {
		return Unhealthy(err.Error())
	}
	msg := c.OK
	if msg == "" {
		msg = "ok"
	}
	return Healthy(msg)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
