package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"sigs.k8s.io/yaml"

	"github.com/chazu/kapply/pkg/graph"
)

// Output formats accepted by NewPrinter
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatName  = "name"
)

// Printer writes a report
type Printer interface {
	Print(w io.Writer, r *Report) error
}

// NewPrinter returns the printer for format. An empty format is a table.
func NewPrinter(format string) (Printer, error) {
	switch format {
	case "", FormatTable:
		return TablePrinter{}, nil
	case FormatJSON:
		return JSONPrinter{}, nil
	case FormatYAML:
		return YAMLPrinter{}, nil
	case FormatName:
		return NamePrinter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want table, json, yaml or name)", format)
	}
}

// JSONPrinter prints indented JSON
type JSONPrinter struct{}

func (JSONPrinter) Print(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// YAMLPrinter prints YAML
type YAMLPrinter struct{}

func (YAMLPrinter) Print(w io.Writer, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// NamePrinter prints one "kind/name outcome" line per resource, like
// kubectl apply
type NamePrinter struct{}

func (NamePrinter) Print(w io.Writer, r *Report) error {
	suffix := ""
	if r.DryRun != "" {
		suffix = fmt.Sprintf(" (%s dry run)", r.DryRun)
	}
	for _, e := range append(append([]Entry{}, r.Entries...), r.Pruned...) {
		if _, err := fmt.Fprintf(w, "%s/%s %s%s\n", strings.ToLower(e.Kind), e.Name, result(e), suffix); err != nil {
			return err
		}
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("70"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("196"))
	warnStyle   = cellStyle.Foreground(lipgloss.Color("214"))
)

// Column of the result in the table
const resultColumn = 3

// TablePrinter prints a bordered table followed by a summary line
type TablePrinter struct{}

func (TablePrinter) Print(w io.Writer, r *Report) error {
	entries := append(append([]Entry{}, r.Entries...), r.Pruned...)

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		ns := e.Namespace
		if ns == "" {
			ns = "-"
		}
		rows = append(rows, []string{e.Kind, ns, e.Name, result(e), round(e.Duration.Duration).String(), e.Error})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KIND", "NAMESPACE", "NAME", "RESULT", "DURATION", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col != resultColumn || row < 0 || row >= len(entries) {
				return cellStyle
			}
			switch e := entries[row]; {
			case e.Failed():
				return failStyle
			case e.Outcome == graph.OutcomeUnchanged || e.Outcome == graph.OutcomeAbsent:
				return cellStyle
			case e.Outcome == graph.OutcomePruned || e.Outcome == graph.OutcomeDeleted:
				return warnStyle
			default:
				return okStyle
			}
		})

	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, summaryLine(r))
	return err
}

// result is the word shown for an entry
func result(e Entry) string {
	switch {
	case e.State == graph.NodeStateSkipped:
		return "skipped"
	case e.Failed():
		return "failed"
	case e.Outcome != "":
		return string(e.Outcome)
	default:
		return strings.ToLower(string(e.State))
	}
}

func summaryLine(r *Report) string {
	s := r.Summary
	parts := []string{fmt.Sprintf("%d resources", s.Total)}
	for _, c := range []struct {
		n    int
		word string
	}{
		{s.Created, "created"},
		{s.Configured, "configured"},
		{s.Unchanged, "unchanged"},
		{s.Deleted, "deleted"},
		{s.Absent, "absent"},
		{s.Pruned, "pruned"},
		{s.Failed, "failed"},
		{s.Skipped, "skipped"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.word))
		}
	}
	line := strings.Join(parts, ", ")
	if r.DryRun != "" {
		line += fmt.Sprintf(" (%s dry run)", r.DryRun)
	}
	return line
}
