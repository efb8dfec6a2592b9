package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Failures []string      `json:"failures,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the outcome of a run.
type Report struct {
	Checks   []CheckResult `json:"checks"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration_ns"`
}

// PassedCount returns how many checks passed.
func (r *Report) PassedCount() int {
	n := 0
	for _, c := range r.Checks {
		if c.Passed {
			n++
		}
	}
	return n
}

// Check returns the result of the named check.
func (r *Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Reporter renders reports.
type Reporter struct {
	writer io.Writer
	format string // "console" or "json"

	passStyle   lipgloss.Style
	failStyle   lipgloss.Style
	detailStyle lipgloss.Style
	dimStyle    lipgloss.Style
}

// NewReporter creates a reporter writing to w. Styling is dropped when w is
// not a color terminal.
func NewReporter(w io.Writer, format string) *Reporter {
	re := lipgloss.NewRenderer(w)
	return &Reporter{
		writer:      w,
		format:      format,
		passStyle:   re.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		failStyle:   re.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		detailStyle: re.NewStyle().PaddingLeft(2),
		dimStyle:    re.NewStyle().Faint(true),
	}
}

// Report writes the report.
func (r *Reporter) Report(report *Report) error {
	if r.format == "json" {
		return r.reportJSON(report)
	}
	return r.reportConsole(report)
}

func (r *Reporter) reportJSON(report *Report) error {
	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func (r *Reporter) reportConsole(report *Report) error {
	var sb strings.Builder

	for _, c := range report.Checks {
		if c.Passed {
			fmt.Fprintf(&sb, "%s: %s\n\n", c.Name, r.passStyle.Render("PASSED"))
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", c.Name, r.failStyle.Render("FAILED"))
		for i, failure := range c.Failures {
			sb.WriteString(r.detailStyle.Render(fmt.Sprintf("%d. %s", i+1, failure)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	status := r.passStyle.Render("ALL CHECKS PASSED")
	if !report.Passed {
		status = r.failStyle.Render("SOME CHECKS FAILED")
	}
	fmt.Fprintf(&sb, "%s %s\n", status,
		r.dimStyle.Render(fmt.Sprintf("(%d/%d passed in %v)", report.PassedCount(), len(report.Checks), report.Duration.Round(time.Millisecond))))

	_, err := io.WriteString(r.writer, sb.String())
	return err
}
