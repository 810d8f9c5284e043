package graph

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	dgraph "github.com/dominikbraun/graph"
)

func TestBuildDAG(t *testing.T) {
	tests := []struct {
		name      string
		graph     *Graph
		wantOrder []string
		wantErr   bool
	}{
		{
			name:      "linear dependency",
			graph:     newTestGraph(configMapNode("b", 0, "a"), configMapNode("a", 0)),
			wantOrder: []string{"a", "b"},
		},
		{
			name: "diamond dependency",
			graph: newTestGraph(
				configMapNode("d", 0, "b", "c"),
				configMapNode("c", 0, "a"),
				configMapNode("b", 0, "a"),
				configMapNode("a", 0),
			),
			wantOrder: []string{"a", "b", "c", "d"},
		},
		{
			name: "rank breaks ties before id",
			graph: newTestGraph(
				configMapNode("a-workload", 3),
				configMapNode("z-namespace", 0),
				configMapNode("m-config", 2),
			),
			wantOrder: []string{"z-namespace", "m-config", "a-workload"},
		},
		{
			name:    "cycle",
			graph:   newTestGraph(configMapNode("a", 0, "b"), configMapNode("b", 0, "a")),
			wantErr: true,
		},
		{
			name:    "nil graph",
			graph:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag, err := BuildDAG(tt.graph)
			if tt.wantErr {
				if err == nil {
					t.Fatal("BuildDAG() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildDAG() error = %v", err)
			}
			if got := dag.GetOrder(); !reflect.DeepEqual(got, tt.wantOrder) {
				t.Errorf("GetOrder() = %v, want %v", got, tt.wantOrder)
			}
		})
	}
}

func TestBuildDAGCycleIsEdgeError(t *testing.T) {
	_, err := BuildDAG(newTestGraph(
		configMapNode("a", 0, "c"),
		configMapNode("b", 0, "a"),
		configMapNode("c", 0, "b"),
	))

	var edgeErr *EdgeError
	if !errors.As(err, &edgeErr) {
		t.Fatalf("expected *EdgeError, got %T: %v", err, err)
	}
	if !errors.Is(err, dgraph.ErrEdgeCreatesCycle) {
		t.Errorf("expected ErrEdgeCreatesCycle, got %v", err)
	}
}

func TestBuildDAGDuplicateDependency(t *testing.T) {
	dag, err := BuildDAG(newTestGraph(configMapNode("a", 0), configMapNode("b", 0, "a", "a")))
	if err != nil {
		t.Fatalf("duplicate dependsOn entries should be tolerated: %v", err)
	}
	if dag.Size() != 2 {
		t.Errorf("Size() = %d, want 2", dag.Size())
	}
}

func TestBuildDAGDeterministic(t *testing.T) {
	var first []string
	for i := 0; i < 20; i++ {
		dag, err := BuildDAG(createWideGraph(30))
		if err != nil {
			t.Fatal(err)
		}
		if first == nil {
			first = dag.GetOrder()
			continue
		}
		if !reflect.DeepEqual(first, dag.GetOrder()) {
			t.Fatalf("order changed between builds:\n%v\n%v", first, dag.GetOrder())
		}
	}
}

func TestDAGOperations(t *testing.T) {
	dag, err := BuildDAG(newTestGraph(
		configMapNode("a", 0),
		configMapNode("b", 0, "a"),
		configMapNode("c", 0, "a"),
		configMapNode("d", 0, "b", "c"),
	))
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := dag.GetNode("a"); !ok {
		t.Error("GetNode(a) not found")
	}
	if _, ok := dag.GetNode("zzz"); ok {
		t.Error("GetNode(zzz) should not exist")
	}

	deps, _ := dag.GetDependents("a")
	if !reflect.DeepEqual(deps, []string{"b", "c"}) {
		t.Errorf("GetDependents(a) = %v", deps)
	}
	if _, err := dag.GetDependents("zzz"); err == nil {
		t.Error("GetDependents(zzz) expected error")
	}

	if got := dag.Reverse(); !reflect.DeepEqual(got, []string{"d", "c", "b", "a"}) {
		t.Errorf("Reverse() = %v", got)
	}
}

func createWideGraph(n int) *Graph {
	nodes := []Node{configMapNode("root", 0)}
	for i := 0; i < n; i++ {
		nodes = append(nodes, configMapNode(fmt.Sprintf("node-%02d", i), i%4, "root"))
	}
	return newTestGraph(nodes...)
}

func BenchmarkBuildDAG_WideGraph_100Nodes(b *testing.B) {
	g := createWideGraph(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BuildDAG(g)
	}
}
