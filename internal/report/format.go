package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cibox/internal/job"
)

// Formatter defines the interface for output formatters.
type Formatter interface {
	// Format writes the given data to the output writer
	Format(data any) error
}

// FormatterOptions contains configuration for formatters
type FormatterOptions struct {
	// Writer is where output is written (defaults to os.Stdout)
	Writer io.Writer
	// NoColor disables colored output for text formatters
	NoColor bool
	// Compact enables compact output (no indentation for JSON/YAML)
	Compact bool
	// Verbose includes per-job stdout diffs in text output
	Verbose bool
}

// NewFormatter creates a formatter based on the format string
func NewFormatter(format string, opts *FormatterOptions) (Formatter, error) {
	if opts == nil {
		opts = &FormatterOptions{Writer: os.Stdout}
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	switch format {
	case "json":
		return &JSONFormatter{opts: opts}, nil
	case "yaml":
		return &YAMLFormatter{opts: opts}, nil
	case "text", "":
		return &TextFormatter{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: text, json, yaml)", format)
	}
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	opts *FormatterOptions
}

// Format writes data as JSON
func (f *JSONFormatter) Format(data any) error {
	encoder := json.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// YAMLFormatter formats output as YAML
type YAMLFormatter struct {
	opts *FormatterOptions
}

// Format writes data as YAML
func (f *YAMLFormatter) Format(data any) error {
	encoder := yaml.NewEncoder(f.opts.Writer)
	if !f.opts.Compact {
		encoder.SetIndent(2)
	}
	defer encoder.Close()
	return encoder.Encode(data)
}

// TextFormatter renders reports as tables and anything else via String.
type TextFormatter struct {
	opts *FormatterOptions
}

// Format writes data as formatted text
func (f *TextFormatter) Format(data any) error {
	switch v := data.(type) {
	case *RunReport:
		return f.renderReport(v)
	case string:
		_, err := fmt.Fprintln(f.opts.Writer, v)
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(f.opts.Writer, v.String())
		return err
	default:
		return fmt.Errorf("text formatter requires a report, a string or a fmt.Stringer, got %T", data)
	}
}

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleFail = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (f *TextFormatter) paint(style lipgloss.Style, s string) string {
	if f.opts.NoColor {
		return s
	}
	return style.Render(s)
}

func (f *TextFormatter) state(s job.State, met bool) string {
	switch {
	case s == job.Succeeded && met:
		return f.paint(styleOK, string(s))
	case s == job.Skipped:
		return f.paint(styleDim, string(s))
	case met:
		// an expected failure
		return f.paint(styleWarn, string(s))
	default:
		return f.paint(styleFail, string(s))
	}
}

func (f *TextFormatter) renderReport(rep *RunReport) error {
	w := f.opts.Writer

	jobs := table.NewWriter()
	jobs.SetOutputMirror(w)
	jobs.AppendHeader(table.Row{"Job", "Group", "State", "Exit", "Duration", "Expect", "Artifacts"})
	for _, j := range rep.Jobs {
		jobs.AppendRow(table.Row{
			j.JobID,
			j.Group,
			f.state(j.State, j.MetExpectation),
			j.ExitCode,
			fmtMS(j.DurationMS),
			j.Expect,
			len(j.Artifacts),
		})
	}
	jobs.SetStyle(table.StyleRounded)
	jobs.Render()

	if len(rep.Groups) > 0 {
		groups := table.NewWriter()
		groups.SetOutputMirror(w)
		groups.AppendHeader(table.Row{"Group", "Jobs", "Success", "Min", "P50", "Mean", "Max", "Differs"})
		for _, g := range rep.Groups {
			differs := 0
			for _, d := range g.Diffs {
				if !d.Identical() {
					differs++
				}
			}
			groups.AppendRow(table.Row{
				g.Key,
				len(g.Jobs),
				fmt.Sprintf("%.0f%%", g.SuccessRate*100),
				fmtMS(g.Durations.MinMS),
				fmtMS(g.Durations.P50MS),
				fmtMS(g.Durations.MeanMS),
				fmtMS(g.Durations.MaxMS),
				differs,
			})
		}
		groups.SetStyle(table.StyleRounded)
		groups.Render()
	}

	if f.opts.Verbose {
		for _, g := range rep.Groups {
			for _, d := range g.Diffs {
				if d.Identical() {
					continue
				}
				fmt.Fprintf(w, "\n%s vs %s:\n", d.JobID, d.Against)
				if d.Stdout != "" {
					fmt.Fprintf(w, "  stdout (-%s +%s):\n%s", d.Against, d.JobID, indent(d.Stdout))
				}
				if d.Artifacts != "" {
					fmt.Fprintf(w, "  artifacts (-%s +%s):\n%s", d.Against, d.JobID, indent(d.Artifacts))
				}
			}
		}
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintf(w, "%s %s\n", f.paint(styleWarn, "tolerated failures:"), strings.Join(rep.Failures, ", "))
	}
	if len(rep.Unexpected) > 0 {
		fmt.Fprintf(w, "%s %s\n", f.paint(styleFail, "unexpected outcomes:"), strings.Join(rep.Unexpected, ", "))
	}

	status := string(rep.Status)
	switch rep.Status {
	case StatusSuccess:
		status = f.paint(styleOK, status)
	default:
		status = f.paint(styleFail, status)
	}
	_, err := fmt.Fprintf(w, "run %s %s: %d jobs, %d succeeded, %d failed, %d timed out, %d skipped in %s\n",
		rep.RunID, status, rep.Counts.Total, rep.Counts.Succeeded, rep.Counts.Failed,
		rep.Counts.TimedOut, rep.Counts.Skipped, fmtMS(rep.DurationMS))
	return err
}

func fmtMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func indent(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Compile-time verification that formatters implement Formatter
var _ Formatter = (*JSONFormatter)(nil)
var _ Formatter = (*YAMLFormatter)(nil)
var _ Formatter = (*TextFormatter)(nil)
