package order

import "github.com/chazu/kapply/pkg/graph"

// Waves groups the DAG's topological order into sets that the executor may
// apply concurrently: a node's wave is one past the latest wave of its
// dependencies. Within a wave nodes keep their topological order.
func Waves(dag *graph.DAG) [][]string {
	level := make(map[string]int, dag.Size())
	var waves [][]string

	for _, id := range dag.GetOrder() {
		l := 0
		deps, _ := dag.GetDependencies(id)
		for _, dep := range deps {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		for len(waves) <= l {
			waves = append(waves, nil)
		}
		waves[l] = append(waves[l], id)
	}
	return waves
}
