// Package pipeline parses pipeline definitions and compiles them into the
// validated job graph the orchestrator runs.
package pipeline

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/image"
)

//go:embed schema/pipeline.schema.json
var schemaJSON []byte

// Definition is the YAML form of a pipeline.
type Definition struct {
	Name     string              `yaml:"name,omitempty" json:"name,omitempty"`
	Defaults JobDefaults         `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Images   map[string]ImageDef `yaml:"images,omitempty" json:"images,omitempty"`
	Jobs     []JobDef            `yaml:"jobs" json:"jobs"`
}

// ImageDef declares how to build a named image.
type ImageDef struct {
	Base       string   `yaml:"base" json:"base"`
	Install    []string `yaml:"install,omitempty" json:"install,omitempty"`
	Entrypoint []string `yaml:"entrypoint,omitempty" json:"entrypoint,omitempty"`
	Context    string   `yaml:"context,omitempty" json:"context,omitempty"`
}

// Resources bounds a job's container.
type Resources struct {
	CPU     string `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	Memory  string `yaml:"memory,omitempty" json:"memory,omitempty"`
	PIDs    int    `yaml:"pids,omitempty" json:"pids,omitempty"`
	Network string `yaml:"network,omitempty" json:"network,omitempty"`
}

// JobDefaults are merged into every job; fields set on the job win.
type JobDefaults struct {
	Image     string            `yaml:"image,omitempty" json:"image,omitempty"`
	Timeout   string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Resources Resources         `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// JobDef is the YAML form of a job.
type JobDef struct {
	ID              string            `yaml:"id" json:"id"`
	Image           string            `yaml:"image,omitempty" json:"image,omitempty"`
	Command         []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Needs           []string          `yaml:"needs,omitempty" json:"needs,omitempty"`
	ContinueOnError bool              `yaml:"continue-on-error,omitempty" json:"continue-on-error,omitempty"`
	Expect          string            `yaml:"expect,omitempty" json:"expect,omitempty"`
	Group           string            `yaml:"group,omitempty" json:"group,omitempty"`
	Artifacts       []string          `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Env             map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Resources       Resources         `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// Load reads and parses a pipeline definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "read pipeline file", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a YAML pipeline definition, checks it against the pipeline
// schema, merges job defaults and validates the result.
func Parse(data []byte) (*Definition, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "decode pipeline definition", err)
	}
	if err := def.applyDefaults(); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "decode pipeline definition", err)
	}
	if doc == nil {
		return errors.New(errors.ErrCodeConfigInvalid, "pipeline definition is empty")
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "pipeline definition is not JSON-compatible", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(docJSON),
	)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "schema validation", err)
	}
	if result.Valid() {
		return nil
	}

	e := errors.New(errors.ErrCodeConfigInvalid, "pipeline definition does not match the schema")
	for _, desc := range result.Errors() {
		e.WithSuggestion(desc.String())
	}
	return e
}

func (d *Definition) applyDefaults() error {
	for i := range d.Jobs {
		defaults := JobDef{
			Image:     d.Defaults.Image,
			Timeout:   d.Defaults.Timeout,
			Env:       copyEnv(d.Defaults.Env),
			Resources: d.Defaults.Resources,
		}
		if err := mergo.Merge(&d.Jobs[i], defaults); err != nil {
			return errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("apply defaults to job %q", d.Jobs[i].ID), err)
		}
	}
	return nil
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Validate checks the definition's job graph. It reports the first problem
// found: a job without an image, a duplicate ID, an unknown dependency, an
// unusable image key, a bad artifact name or timeout, or a cycle.
func (d *Definition) Validate() error {
	if len(d.Jobs) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "pipeline must have at least one job")
	}

	ids := make(map[string]bool, len(d.Jobs))
	for i, j := range d.Jobs {
		if strings.TrimSpace(j.ID) == "" {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job at index %d has no id", i)
		}
		if ids[j.ID] {
			return errors.Newf(errors.ErrCodeConfigDuplicateJob, "duplicate job ID %q at index %d", j.ID, i)
		}
		ids[j.ID] = true
	}

	for _, j := range d.Jobs {
		for _, dep := range j.Needs {
			if !ids[dep] {
				return errors.NewMissingDependencyError(j.ID, dep)
			}
		}
		if err := d.validateImage(j); err != nil {
			return err
		}
		for _, name := range j.Artifacts {
			if err := artifact.ValidName(name); err != nil {
				return errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("job %q", j.ID), err)
			}
		}
		if j.Timeout != "" {
			if dur, err := time.ParseDuration(j.Timeout); err != nil || dur <= 0 {
				return errors.Newf(errors.ErrCodeConfigInvalid, "job %q has invalid timeout %q", j.ID, j.Timeout)
			}
		}
		switch j.Expect {
		case "", "success", "failure":
		default:
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q has invalid expect %q", j.ID, j.Expect)
		}
	}

	return checkCycles(len(d.Jobs), func(i int) (string, []string) {
		return d.Jobs[i].ID, d.Jobs[i].Needs
	})
}

// validateImage accepts a declared image key or a plain image reference.
func (d *Definition) validateImage(j JobDef) error {
	if j.Image == "" {
		return errors.Newf(errors.ErrCodeConfigInvalid, "job %q has no image", j.ID).
			WithSuggestion("Set image on the job or defaults.image")
	}
	if def, ok := d.Images[j.Image]; ok {
		if err := image.ValidateBase(def.Base); err != nil {
			return errors.Wrap(errors.ErrCodeConfigUnknownImage, fmt.Sprintf("image %q", j.Image), err)
		}
		return nil
	}
	if err := image.ValidateBase(j.Image); err != nil {
		return errors.Wrap(errors.ErrCodeConfigUnknownImage,
			fmt.Sprintf("job %q uses image %q which is neither declared nor a valid reference", j.ID, j.Image), err)
	}
	return nil
}
