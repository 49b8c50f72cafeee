package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/job"
)

func result(id string, state job.State, mods ...func(*job.Result)) job.Result {
	r := job.Result{
		JobID:     id,
		State:     state,
		OnFailure: job.FailFast,
		Expect:    job.ExpectSuccess,
		Duration:  100 * time.Millisecond,
	}
	if state == job.Failed {
		r.ExitCode = 1
	}
	for _, m := range mods {
		m(&r)
	}
	return r
}

func continueOnError(r *job.Result) { r.OnFailure = job.Continue }
func expectFailure(r *job.Result)   { r.Expect = job.ExpectFailure }
func group(g string) func(*job.Result) {
	return func(r *job.Result) { r.Group = g }
}

func TestCompare_Status(t *testing.T) {
	tests := []struct {
		name       string
		results    []job.Result
		want       Status
		failures   []string
		unexpected []string
	}{
		{
			name:    "all succeeded",
			results: []job.Result{result("a", job.Succeeded), result("b", job.Succeeded)},
			want:    StatusSuccess,
		},
		{
			name:       "fail-fast failure",
			results:    []job.Result{result("a", job.Failed)},
			want:       StatusFailure,
			unexpected: []string{"a"},
		},
		{
			name:       "fail-fast timeout",
			results:    []job.Result{result("a", job.TimedOut)},
			want:       StatusFailure,
			unexpected: []string{"a"},
		},
		{
			name:     "continue-on-error failure is tolerated",
			results:  []job.Result{result("a", job.Succeeded), result("b", job.Failed, continueOnError)},
			want:     StatusSuccess,
			failures: []string{"b"},
		},
		{
			name:     "expected failure",
			results:  []job.Result{result("b", job.Failed, continueOnError, expectFailure)},
			want:     StatusSuccess,
			failures: []string{"b"},
		},
		{
			name:       "expected failure that succeeded",
			results:    []job.Result{result("b", job.Succeeded, continueOnError, expectFailure)},
			want:       StatusFailure,
			unexpected: []string{"b"},
		},
		{
			name:    "skipped job fails the run",
			results: []job.Result{result("a", job.Failed, expectFailure), result("b", job.Skipped)},
			want:    StatusFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Compare(tt.results, nil)
			assert.Equal(t, tt.want, rep.Status)
			assert.Equal(t, tt.failures, rep.Failures)
			assert.Equal(t, tt.unexpected, rep.Unexpected)
			assert.Equal(t, len(tt.results), rep.Counts.Total)
		})
	}
}

func TestCompare_Pure(t *testing.T) {
	results := []job.Result{
		result("scrape-pinned", job.Succeeded, group("scrape")),
		result("scrape-latest", job.Failed, group("scrape"), continueOnError),
	}
	a := Compare(results, ByGroup)
	b := Compare(results, ByGroup)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Compare is not deterministic (-first +second):\n%s", diff)
	}
}

func TestCompare_Groups(t *testing.T) {
	results := []job.Result{
		result("test", job.Succeeded),
		result("scrape-pinned", job.Succeeded, group("scrape"), func(r *job.Result) {
			r.Stdout = []byte("Example Domain\n")
			r.Duration = 2 * time.Second
			r.Artifacts = []job.ArtifactInfo{{Name: "results.json", Digest: "sha256:aa", Size: 10}}
		}),
		result("scrape-latest", job.Failed, group("scrape"), continueOnError, func(r *job.Result) {
			r.Stdout = []byte("Traceback\n")
			r.Duration = 4 * time.Second
		}),
	}

	rep := Compare(results, ByGroup)
	require.Len(t, rep.Groups, 2)
	assert.Equal(t, "test", rep.Groups[0].Key)

	scrape := rep.Groups[1]
	assert.Equal(t, "scrape", scrape.Key)
	assert.Equal(t, []string{"scrape-pinned", "scrape-latest"}, scrape.Jobs)
	assert.InDelta(t, 0.5, scrape.SuccessRate, 1e-9)
	assert.Equal(t, DurationStats{MinMS: 2000, MaxMS: 4000, MeanMS: 3000, P50MS: 2000}, scrape.Durations)

	require.Len(t, scrape.Diffs, 1)
	d := scrape.Diffs[0]
	assert.Equal(t, "scrape-latest", d.JobID)
	assert.Equal(t, "scrape-pinned", d.Against)
	assert.True(t, d.OutcomeDiffers)
	assert.True(t, d.ExitCodeDiffers)
	assert.Contains(t, d.Stdout, "Example Domain")
	assert.Contains(t, d.Artifacts, "results.json")
	assert.False(t, d.Identical())
}

func TestCompare_IdenticalMembers(t *testing.T) {
	same := func(r *job.Result) { r.Stdout = []byte("ok\n") }
	rep := Compare([]job.Result{
		result("a", job.Succeeded, group("g"), same),
		result("b", job.Succeeded, group("g"), same),
	}, ByGroup)
	require.Len(t, rep.Groups[0].Diffs, 1)
	assert.True(t, rep.Groups[0].Diffs[0].Identical())
}

func TestDurationStats(t *testing.T) {
	assert.Equal(t, DurationStats{}, durationStats(nil))
	assert.Equal(t, DurationStats{MinMS: 1, MaxMS: 9, MeanMS: 4, P50MS: 3}, durationStats([]int64{9, 1, 3}))
}

func TestSummarize_Error(t *testing.T) {
	r := result("a", job.Failed, func(r *job.Result) {
		r.Err = errors.NewTimeoutError("a", "1s")
	})
	s := Summarize(r)
	assert.Equal(t, "EXEC-003", s.ErrorCode)
	assert.Contains(t, s.Error, "exceeded its timeout")

	back := s.Result()
	assert.Equal(t, errors.ErrCodeExecTimeout, errors.CodeOf(back.Err))
}

func TestJobSummary_SkippedOmitsTimes(t *testing.T) {
	data, err := json.Marshal(Summarize(result("b", job.Skipped)))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "started_at")
	assert.NotContains(t, string(data), "finished_at")

	ran := result("a", job.Succeeded, func(r *job.Result) {
		r.StartedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		r.FinishedAt = r.StartedAt.Add(time.Second)
	})
	data, err = json.Marshal(Summarize(ran))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"started_at":"2024-05-01T12:00:00Z"`)
}

func TestMergeAndByJobID(t *testing.T) {
	run1 := Compare([]job.Result{result("scrape", job.Succeeded)}, nil)
	run1.RunID = "run-1"
	run2 := Compare([]job.Result{result("scrape", job.Failed)}, nil)
	run2.RunID = "run-2"

	merged := Merge(run1, nil, run2)
	require.Len(t, merged, 2)
	assert.Equal(t, "run-1/scrape", merged[0].JobID)
	assert.Equal(t, "run-2/scrape", merged[1].JobID)

	rep := Compare(merged, ByJobID)
	require.Len(t, rep.Groups, 1)
	assert.Equal(t, "scrape", rep.Groups[0].Key)
	assert.True(t, rep.Groups[0].Diffs[0].OutcomeDiffers)
}

func TestSaveLoad(t *testing.T) {
	rep := Compare([]job.Result{result("a", job.Succeeded, func(r *job.Result) {
		r.Artifacts = []job.ArtifactInfo{{Name: "out.txt", Digest: "sha256:x", Size: 1}}
	})}, nil)
	rep.RunID = "run-1"
	rep.StartedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, name := range []string{"report.json", "report.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", name)
			require.NoError(t, Save(rep, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, rep.RunID, loaded.RunID)
			assert.True(t, rep.StartedAt.Equal(loaded.StartedAt))
			assert.Equal(t, rep.Jobs[0].Artifacts, loaded.Jobs[0].Artifacts)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.CodeOf(err))
}

func TestFormatters(t *testing.T) {
	rep := Compare([]job.Result{
		result("scrape-pinned", job.Succeeded, group("scrape")),
		result("scrape-latest", job.Failed, group("scrape"), continueOnError, expectFailure),
	}, nil)
	rep.RunID = "run-1"

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := NewFormatter("json", &FormatterOptions{Writer: &buf})
		require.NoError(t, err)
		require.NoError(t, f.Format(rep))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "success", decoded["status"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := NewFormatter("yaml", &FormatterOptions{Writer: &buf})
		require.NoError(t, err)
		require.NoError(t, f.Format(rep))
		assert.Contains(t, buf.String(), "run_id: run-1")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := NewFormatter("text", &FormatterOptions{Writer: &buf, NoColor: true, Verbose: true})
		require.NoError(t, err)
		require.NoError(t, f.Format(rep))

		out := buf.String()
		assert.Contains(t, out, "scrape-latest")
		assert.Contains(t, out, "tolerated failures: scrape-latest")
		assert.Contains(t, out, "run run-1 success")
		assert.Contains(t, out, "scrape-latest vs scrape-pinned")
	})

	t.Run("text rejects unknown types", func(t *testing.T) {
		f, err := NewFormatter("", &FormatterOptions{Writer: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.Error(t, f.Format(42))
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := NewFormatter("xml", nil)
		assert.Error(t, err)
	})
}
