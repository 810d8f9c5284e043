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
	"github.com/chazu/kapply/pkg/order"
)

// PlanEntry is one resource of a plan
type PlanEntry struct {
	Wave      int      `json:"wave"`
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Namespace string   `json:"namespace,omitempty"`
	Name      string   `json:"name"`
	Mode      string   `json:"mode"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// Plan is the apply order the plan command prints
type Plan struct {
	GraphHash string      `json:"graphHash,omitempty"`
	Waves     int         `json:"waves"`
	Entries   []PlanEntry `json:"entries"`
}

// FromPlan lists the nodes of dag wave by wave
func FromPlan(g *graph.Graph, dag *graph.DAG) *Plan {
	p := &Plan{}
	if g != nil {
		p.GraphHash = g.Metadata.Hash
	}
	if dag == nil {
		return p
	}

	waves := order.Waves(dag)
	p.Waves = len(waves)
	for i, wave := range waves {
		for _, id := range wave {
			node, ok := dag.GetNode(id)
			if !ok {
				continue
			}
			e := entryFor(id, node)
			p.Entries = append(p.Entries, PlanEntry{
				Wave:      i,
				ID:        id,
				Kind:      e.Kind,
				Namespace: e.Namespace,
				Name:      e.Name,
				Mode:      string(node.ApplyPolicy.Mode),
				DependsOn: node.DependsOn,
				Source:    e.Source,
			})
		}
	}
	return p
}

// Print writes the plan in format: table, json, yaml or name
func (p *Plan) Print(w io.Writer, format string) error {
	switch format {
	case "", FormatTable:
		return p.printTable(w)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatYAML:
		data, err := yaml.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal plan: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatName:
		for _, e := range p.Entries {
			if _, err := fmt.Fprintf(w, "%d %s/%s\n", e.Wave, strings.ToLower(e.Kind), e.Name); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json, yaml or name)", format)
	}
}

func (p *Plan) printTable(w io.Writer) error {
	rows := make([][]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		ns := e.Namespace
		if ns == "" {
			ns = "-"
		}
		rows = append(rows, []string{fmt.Sprint(e.Wave), e.Kind, ns, e.Name, e.Mode, fmt.Sprint(len(e.DependsOn))})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WAVE", "KIND", "NAMESPACE", "NAME", "MODE", "DEPS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d resources in %d waves\n", len(p.Entries), p.Waves)
	return err
}
