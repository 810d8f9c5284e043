package graph

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func configMapNode(id string, rank int, deps ...string) Node {
	return Node{
		ID: id,
		Object: unstructured.Unstructured{
			Object: map[string]interface{}{
				"apiVersion": "v1",
				"kind":       "ConfigMap",
				"metadata": map[string]interface{}{
					"name":      id,
					"namespace": "default",
				},
			},
		},
		ApplyPolicy: ApplyPolicy{Mode: ApplyModeApply},
		DependsOn:   deps,
		Rank:        rank,
	}
}

func newTestGraph(nodes ...Node) *Graph {
	return &Graph{
		Metadata: GraphMetadata{Name: "test", Version: "v1"},
		Nodes:    nodes,
	}
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}
