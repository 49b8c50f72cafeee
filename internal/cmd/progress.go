package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/felixgeelhaar/cibox/internal/job"
	"github.com/felixgeelhaar/cibox/internal/orchestrator"
)

// multiObserver fans orchestrator callbacks out in order.
type multiObserver []orchestrator.Observer

func (m multiObserver) JobStarted(j job.Job) {
	for _, o := range m {
		o.JobStarted(j)
	}
}

func (m multiObserver) JobFinished(r job.Result) {
	for _, o := range m {
		o.JobFinished(r)
	}
}

// progressObserver drives a progress bar from orchestrator callbacks.
type progressObserver struct {
	bar     *progressbar.ProgressBar
	running int
	failed  int
}

func newProgressObserver(total int, w io.Writer) *progressObserver {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)
	return &progressObserver{bar: bar}
}

func (p *progressObserver) JobStarted(j job.Job) {
	p.running++
	p.describe()
}

func (p *progressObserver) JobFinished(r job.Result) {
	// Skipped jobs never started.
	if r.State != job.Skipped {
		p.running--
	}
	if r.State != job.Succeeded {
		p.failed++
	}
	p.describe()
	_ = p.bar.Add(1)
}

func (p *progressObserver) describe() {
	p.bar.Describe(progressLabel(p.running, p.failed))
}

func progressLabel(running, failed int) string {
	if failed == 0 {
		return fmt.Sprintf("%d running", running)
	}
	return fmt.Sprintf("%d running, %d not succeeded", running, failed)
}
