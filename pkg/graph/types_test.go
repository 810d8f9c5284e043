package graph

import (
	"strings"
	"testing"
)

func TestGraphValidation(t *testing.T) {
	tests := []struct {
		name    string
		graph   *Graph
		wantErr string
	}{
		{
			name:  "valid graph",
			graph: newTestGraph(configMapNode("a", 0), configMapNode("b", 0, "a")),
		},
		{
			name:    "missing name",
			graph:   &Graph{Metadata: GraphMetadata{Version: "v1"}},
			wantErr: "metadata.name",
		},
		{
			name:    "missing version",
			graph:   &Graph{Metadata: GraphMetadata{Name: "x"}},
			wantErr: "metadata.version",
		},
		{
			name:    "duplicate ids",
			graph:   newTestGraph(configMapNode("a", 0), configMapNode("a", 0)),
			wantErr: "duplicate node ID",
		},
		{
			name:    "dangling dependency",
			graph:   newTestGraph(configMapNode("a", 0, "missing")),
			wantErr: "dependency missing does not exist",
		},
		{
			name:    "self dependency",
			graph:   newTestGraph(configMapNode("a", 0, "a")),
			wantErr: "depends on itself",
		},
		{
			name: "invalid mode",
			graph: func() *Graph {
				n := configMapNode("a", 0)
				n.ApplyPolicy.Mode = "Replace"
				return newTestGraph(n)
			}(),
			wantErr: "invalid apply mode",
		},
		{
			name: "phase predicate without phases",
			graph: func() *Graph {
				n := configMapNode("a", 0)
				n.ReadyWhen = []ReadinessPredicate{{Type: PredicateTypePhaseMatch}}
				return newTestGraph(n)
			}(),
			wantErr: "phases are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.graph.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaultsPolicy(t *testing.T) {
	n := configMapNode("a", 0)
	n.ApplyPolicy = ApplyPolicy{}
	g := newTestGraph(n)

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	got := g.Nodes[0].ApplyPolicy
	if got.Mode != ApplyModeApply || got.ConflictPolicy != ConflictPolicyError || got.FieldManager != DefaultFieldManager {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestParseApplyMode(t *testing.T) {
	for in, want := range map[string]ApplyMode{
		"":       ApplyModeApply,
		"apply":  ApplyModeApply,
		"create": ApplyModeCreate,
		"Adopt":  ApplyModeAdopt,
	} {
		got, err := ParseApplyMode(in)
		if err != nil || got != want {
			t.Errorf("ParseApplyMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseApplyMode("replace"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestComputeHash(t *testing.T) {
	g1 := newTestGraph(configMapNode("a", 0))
	g2 := newTestGraph(configMapNode("a", 0))
	g2.Metadata.Name = "renamed"
	g2.Metadata.Sources = []string{"other.yaml"}

	if g1.ComputeHash() == "" {
		t.Fatal("expected non-empty hash")
	}
	if g1.ComputeHash() != g2.ComputeHash() {
		t.Error("metadata must not affect the hash")
	}

	g3 := newTestGraph(configMapNode("b", 0))
	if g1.ComputeHash() == g3.ComputeHash() {
		t.Error("different nodes must hash differently")
	}

	g1.SetHash()
	if g1.HasChanged(g1.Metadata.Hash) {
		t.Error("graph should not report change against its own hash")
	}
	if !g1.HasChanged("") {
		t.Error("empty previous hash should count as changed")
	}
}
