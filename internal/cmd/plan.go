package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/felixgeelhaar/cibox/internal/image"
	"github.com/felixgeelhaar/cibox/internal/pipeline"
)

// imageTags maps every image key of g to the tag its build would get.
func imageTags(g *pipeline.Graph) (map[string]string, error) {
	tags := make(map[string]string, len(g.Images))
	for key, spec := range g.Images {
		hash, err := image.Hash(spec)
		if err != nil {
			return nil, err
		}
		tag, err := image.Tag(hash)
		if err != nil {
			return nil, err
		}
		tags[key] = tag
	}
	return tags, nil
}

// printPlan writes the execution plan of g: jobs by dependency level with
// the image each would run in. Jobs within a level may run in parallel.
func printPlan(w io.Writer, g *pipeline.Graph) error {
	levels, err := g.Levels()
	if err != nil {
		return err
	}
	tags, err := imageTags(g)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("plan: %s", g.Name))
	t.AppendHeader(table.Row{"Level", "Job", "Image", "Tag", "Needs", "On failure"})
	for i, level := range levels {
		for _, id := range level {
			j, _ := g.Job(id)
			t.AppendRow(table.Row{i, j.ID, j.Image, tags[j.Image], strings.Join(j.DependsOn, ", "), j.OnFailure})
		}
		if i < len(levels)-1 {
			t.AppendSeparator()
		}
	}
	t.Render()

	fmt.Fprintf(w, "%d jobs in %d levels, %d images\n", len(g.Jobs), len(levels), len(g.Images))
	return nil
}
