package report

import (
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/felixgeelhaar/cibox/internal/job"
)

// DurationStats summarises job durations in milliseconds.
type DurationStats struct {
	MinMS  int64 `json:"min_ms" yaml:"min_ms"`
	MaxMS  int64 `json:"max_ms" yaml:"max_ms"`
	MeanMS int64 `json:"mean_ms" yaml:"mean_ms"`
	P50MS  int64 `json:"p50_ms" yaml:"p50_ms"`
}

// MemberDiff describes how a group member differs from the group's first
// member. Empty diff strings mean no difference.
type MemberDiff struct {
	JobID           string `json:"job_id" yaml:"job_id"`
	Against         string `json:"against" yaml:"against"`
	OutcomeDiffers  bool   `json:"outcome_differs" yaml:"outcome_differs"`
	ExitCodeDiffers bool   `json:"exit_code_differs" yaml:"exit_code_differs"`
	Stdout          string `json:"stdout_diff,omitempty" yaml:"stdout_diff,omitempty"`
	Artifacts       string `json:"artifact_diff,omitempty" yaml:"artifact_diff,omitempty"`
}

// Identical reports whether nothing differs.
func (d MemberDiff) Identical() bool {
	return !d.OutcomeDiffers && !d.ExitCodeDiffers && d.Stdout == "" && d.Artifacts == ""
}

// GroupSummary compares the results that share a key.
type GroupSummary struct {
	Key         string        `json:"key" yaml:"key"`
	Jobs        []string      `json:"jobs" yaml:"jobs"`
	Counts      Counts        `json:"counts" yaml:"counts"`
	SuccessRate float64       `json:"success_rate" yaml:"success_rate"`
	Durations   DurationStats `json:"durations" yaml:"durations"`
	Diffs       []MemberDiff  `json:"diffs,omitempty" yaml:"diffs,omitempty"`
}

// groupSummaries groups results by key in order of first appearance.
func groupSummaries(results []job.Result, key KeyFunc) []GroupSummary {
	var order []string
	members := make(map[string][]job.Result)
	for _, r := range results {
		k := key(r)
		if _, seen := members[k]; !seen {
			order = append(order, k)
		}
		members[k] = append(members[k], r)
	}

	out := make([]GroupSummary, 0, len(order))
	for _, k := range order {
		out = append(out, summarizeGroup(k, members[k]))
	}
	return out
}

func summarizeGroup(key string, rs []job.Result) GroupSummary {
	g := GroupSummary{Key: key}
	var durations []int64
	for _, r := range rs {
		g.Jobs = append(g.Jobs, r.JobID)
		g.Counts.add(r.State)
		if r.State != job.Skipped {
			durations = append(durations, r.Duration.Milliseconds())
		}
	}
	if g.Counts.Total > 0 {
		g.SuccessRate = float64(g.Counts.Succeeded) / float64(g.Counts.Total)
	}
	g.Durations = durationStats(durations)

	for _, r := range rs[1:] {
		g.Diffs = append(g.Diffs, diff(rs[0], r))
	}
	return g
}

func durationStats(ms []int64) DurationStats {
	if len(ms) == 0 {
		return DurationStats{}
	}
	sorted := append([]int64(nil), ms...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	return DurationStats{
		MinMS:  sorted[0],
		MaxMS:  sorted[len(sorted)-1],
		MeanMS: sum / int64(len(sorted)),
		P50MS:  sorted[(len(sorted)-1)/2],
	}
}

func diff(base, other job.Result) MemberDiff {
	return MemberDiff{
		JobID:           other.JobID,
		Against:         base.JobID,
		OutcomeDiffers:  base.State != other.State,
		ExitCodeDiffers: base.ExitCode != other.ExitCode,
		Stdout:          cmp.Diff(lines(base.Stdout), lines(other.Stdout)),
		Artifacts:       cmp.Diff(digests(base.Artifacts), digests(other.Artifacts)),
	}
}

func lines(b []byte) []string {
	s := strings.TrimRight(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func digests(as []job.ArtifactInfo) map[string]string {
	if len(as) == 0 {
		return nil
	}
	out := make(map[string]string, len(as))
	for _, a := range as {
		out[a.Name] = a.Digest
	}
	return out
}
