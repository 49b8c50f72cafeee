package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/image"
	"github.com/felixgeelhaar/cibox/internal/job"
)

func graphOf(jobs ...job.Job) *Graph {
	g := &Graph{Name: "t", Images: map[string]image.BuildSpec{"img": {Base: "alpine"}}}
	for _, j := range jobs {
		if j.Image == "" {
			j.Image = "img"
		}
		g.Jobs = append(g.Jobs, j)
	}
	return g
}

func TestGraph_Validate(t *testing.T) {
	tests := []struct {
		name  string
		graph *Graph
		code  errors.ErrorCode
	}{
		{
			name:  "valid diamond",
			graph: graphOf(job.Job{ID: "a"}, job.Job{ID: "b", DependsOn: []string{"a"}}, job.Job{ID: "c", DependsOn: []string{"a"}}, job.Job{ID: "d", DependsOn: []string{"b", "c"}}),
		},
		{
			name:  "self cycle",
			graph: graphOf(job.Job{ID: "a", DependsOn: []string{"a"}}),
			code:  errors.ErrCodeConfigCycle,
		},
		{
			name:  "two node cycle",
			graph: graphOf(job.Job{ID: "a", DependsOn: []string{"b"}}, job.Job{ID: "b", DependsOn: []string{"a"}}),
			code:  errors.ErrCodeConfigCycle,
		},
		{
			name:  "missing dependency",
			graph: graphOf(job.Job{ID: "a", DependsOn: []string{"x"}}),
			code:  errors.ErrCodeConfigMissingDep,
		},
		{
			name:  "duplicate",
			graph: graphOf(job.Job{ID: "a"}, job.Job{ID: "a"}),
			code:  errors.ErrCodeConfigDuplicateJob,
		},
		{
			name:  "unknown image",
			graph: graphOf(job.Job{ID: "a", Image: "nope"}),
			code:  errors.ErrCodeConfigUnknownImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestGraph_CyclePathExcludesPrefix(t *testing.T) {
	g := graphOf(
		job.Job{ID: "root", DependsOn: []string{"a"}},
		job.Job{ID: "a", DependsOn: []string{"b"}},
		job.Job{ID: "b", DependsOn: []string{"a"}},
	)
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.NotContains(t, err.Error(), "root ->")
}

func TestGraph_Levels(t *testing.T) {
	g := graphOf(
		job.Job{ID: "test"},
		job.Job{ID: "scrape-pinned", DependsOn: []string{"test"}},
		job.Job{ID: "scrape-latest", DependsOn: []string{"test"}},
		job.Job{ID: "compare", DependsOn: []string{"scrape-pinned", "scrape-latest"}},
	)
	levels, err := g.Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"test"},
		{"scrape-latest", "scrape-pinned"},
		{"compare"},
	}, levels)
}

func TestGraph_Dependents(t *testing.T) {
	g := graphOf(job.Job{ID: "a"}, job.Job{ID: "b", DependsOn: []string{"a"}}, job.Job{ID: "c", DependsOn: []string{"a"}})
	assert.Equal(t, []string{"b", "c"}, g.Dependents()["a"])
	assert.Empty(t, g.Dependents()["b"])
}
