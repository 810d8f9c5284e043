package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// DAG represents an executable directed acyclic graph built from a Graph artifact
type DAG struct {
	// graph is the underlying graph structure from dominikbraun/graph
	graph graph.Graph[string, string]

	// nodeMap provides quick lookup of nodes by ID
	nodeMap map[string]*Node

	// order contains the topologically sorted node IDs
	order []string
}

// EdgeError reports a dependency edge that could not be added to the DAG.
// Err wraps the underlying graph error, e.g. graph.ErrEdgeCreatesCycle.
type EdgeError struct {
	From string
	To   string
	Err  error
}

func (e *EdgeError) Error() string {
	return fmt.Sprintf("failed to add edge %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *EdgeError) Unwrap() error { return e.Err }

// BuildDAG converts a Graph artifact into an executable DAG.
// The topological order is stable: among nodes whose dependencies are
// satisfied, lower Rank comes first, then lexical ID.
func BuildDAG(g *Graph) (*DAG, error) {
	if g == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	dg := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	nodeMap := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		nodeMap[node.ID] = node
		if err := dg.AddVertex(node.ID); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", node.ID, err)
		}
	}

	// AddEdge(source, target) means source -> target: a dependency points at
	// the node waiting on it. Edges are added in node order so the first
	// cycle reported is deterministic.
	for i := range g.Nodes {
		node := &g.Nodes[i]
		for _, depID := range node.DependsOn {
			if err := dg.AddEdge(depID, node.ID); err != nil {
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				return nil, &EdgeError{From: depID, To: node.ID, Err: err}
			}
		}
	}

	less := func(a, b string) bool {
		na, nb := nodeMap[a], nodeMap[b]
		if na.Rank != nb.Rank {
			return na.Rank < nb.Rank
		}
		return a < b
	}

	order, err := graph.StableTopologicalSort(dg, less)
	if err != nil {
		return nil, fmt.Errorf("failed to compute topological sort (possible cycle): %w", err)
	}

	return &DAG{
		graph:   dg,
		nodeMap: nodeMap,
		order:   order,
	}, nil
}

// GetNode retrieves a node by ID
func (d *DAG) GetNode(id string) (*Node, bool) {
	node, found := d.nodeMap[id]
	return node, found
}

// GetOrder returns the topologically sorted node IDs
// Nodes earlier in the list have no dependencies on nodes later in the list
func (d *DAG) GetOrder() []string {
	return d.order
}

// GetDependencies returns the IDs of nodes that the given node depends on
func (d *DAG) GetDependencies(id string) ([]string, error) {
	node, found := d.nodeMap[id]
	if !found {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return node.DependsOn, nil
}

// GetDependents returns the IDs of nodes that depend on the given node, sorted
func (d *DAG) GetDependents(id string) ([]string, error) {
	if _, found := d.nodeMap[id]; !found {
		return nil, fmt.Errorf("node %s not found", id)
	}

	var dependents []string
	for nodeID, node := range d.nodeMap {
		for _, depID := range node.DependsOn {
			if depID == id {
				dependents = append(dependents, nodeID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Size returns the number of nodes in the DAG
func (d *DAG) Size() int {
	return len(d.nodeMap)
}
