package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/image"
	"github.com/felixgeelhaar/cibox/internal/job"
)

// Graph is a compiled pipeline: its jobs and the build spec of every image
// key they reference.
type Graph struct {
	Name   string
	Jobs   []job.Job
	Images map[string]image.BuildSpec
}

// Job returns the job with the given ID.
func (g *Graph) Job(id string) (job.Job, bool) {
	for _, j := range g.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return job.Job{}, false
}

// Validate checks the graph before anything runs: unique IDs, known
// dependencies, known image keys and the absence of cycles.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Jobs))
	for i, j := range g.Jobs {
		if j.ID == "" {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job at index %d has no id", i)
		}
		if ids[j.ID] {
			return errors.Newf(errors.ErrCodeConfigDuplicateJob, "duplicate job ID %q at index %d", j.ID, i)
		}
		ids[j.ID] = true
	}

	for _, j := range g.Jobs {
		for _, dep := range j.DependsOn {
			if !ids[dep] {
				return errors.NewMissingDependencyError(j.ID, dep)
			}
		}
		if _, ok := g.Images[j.Image]; !ok {
			return errors.Newf(errors.ErrCodeConfigUnknownImage, "job %q uses unknown image %q", j.ID, j.Image)
		}
	}

	return checkCycles(len(g.Jobs), func(i int) (string, []string) {
		return g.Jobs[i].ID, g.Jobs[i].DependsOn
	})
}

// Dependents maps each job ID to the IDs of the jobs that need it, in
// declaration order.
func (g *Graph) Dependents() map[string][]string {
	out := make(map[string][]string, len(g.Jobs))
	for _, j := range g.Jobs {
		for _, dep := range j.DependsOn {
			out[dep] = append(out[dep], j.ID)
		}
	}
	return out
}

// Levels groups job IDs into topological layers: every job's dependencies
// sit in earlier layers. IDs within a layer are sorted.
func (g *Graph) Levels() ([][]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(g.Jobs))
	for _, j := range g.Jobs {
		indegree[j.ID] = len(j.DependsOn)
	}
	dependents := g.Dependents()

	var levels [][]string
	var current []string
	for _, j := range g.Jobs {
		if indegree[j.ID] == 0 {
			current = append(current, j.ID)
		}
	}
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		var next []string
		for _, id := range current {
			for _, d := range dependents[id] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		current = next
	}
	return levels, nil
}

// checkCycles runs a depth-first search over n nodes and reports the first
// cycle found as a path such as "a -> b -> a".
func checkCycles(n int, node func(i int) (string, []string)) error {
	graph := make(map[string][]string, n)
	order := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, deps := node(i)
		graph[id] = deps
		order = append(order, id)
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, dep := range graph[id] {
			if !visited[dep] {
				if err := visit(dep, path); err != nil {
					return err
				}
			} else if recStack[dep] {
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return errors.NewCycleError(cycle)
			}
		}

		recStack[id] = false
		return nil
	}

	for _, id := range order {
		if !visited[id] {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compile turns a validated definition into a Graph. Relative image
// contexts are resolved against baseDir and digested.
func Compile(def *Definition, baseDir string) (*Graph, error) {
	g := &Graph{
		Name:   def.Name,
		Jobs:   make([]job.Job, 0, len(def.Jobs)),
		Images: make(map[string]image.BuildSpec),
	}

	for _, jd := range def.Jobs {
		if _, done := g.Images[jd.Image]; !done {
			spec, err := buildSpec(def, jd.Image, baseDir)
			if err != nil {
				return nil, err
			}
			g.Images[jd.Image] = spec
		}

		j, err := compileJob(jd)
		if err != nil {
			return nil, err
		}
		g.Jobs = append(g.Jobs, j)
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGraph loads a definition file and compiles it relative to the file's
// directory.
func LoadGraph(path string) (*Graph, error) {
	def, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Compile(def, filepath.Dir(path))
}

func buildSpec(def *Definition, key, baseDir string) (image.BuildSpec, error) {
	decl, ok := def.Images[key]
	if !ok {
		// An undeclared key is a plain image reference used as-is.
		if err := image.ValidateBase(key); err != nil {
			return image.BuildSpec{}, errors.Wrap(errors.ErrCodeConfigUnknownImage, fmt.Sprintf("image %q", key), err)
		}
		return image.BuildSpec{Base: key}, nil
	}

	spec := image.BuildSpec{
		Base:       decl.Base,
		Install:    decl.Install,
		Entrypoint: decl.Entrypoint,
	}
	if decl.Context != "" {
		dir := decl.Context
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return image.BuildSpec{}, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("image %q context", key), err)
		}
		digest, err := image.HashContext(abs)
		if err != nil {
			return image.BuildSpec{}, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("image %q context", key), err)
		}
		spec.Context = abs
		spec.ContextDigest = digest
	}
	return spec, nil
}

func compileJob(jd JobDef) (job.Job, error) {
	j := job.Job{
		ID:        jd.ID,
		Image:     jd.Image,
		Command:   jd.Command,
		DependsOn: jd.Needs,
		OnFailure: job.FailFast,
		Env:       jd.Env,
		Limits: job.Limits{
			CPU:     jd.Resources.CPU,
			Memory:  jd.Resources.Memory,
			PIDs:    jd.Resources.PIDs,
			Network: jd.Resources.Network,
		},
		Artifacts: jd.Artifacts,
		Group:     jd.Group,
		Expect:    job.ExpectSuccess,
	}
	if jd.ContinueOnError {
		j.OnFailure = job.Continue
	}
	if jd.Expect == string(job.ExpectFailure) {
		j.Expect = job.ExpectFailure
	}
	if jd.Timeout != "" {
		d, err := time.ParseDuration(jd.Timeout)
		if err != nil {
			return job.Job{}, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("job %q timeout", jd.ID), err)
		}
		j.Timeout = d
	}
	return j, nil
}
