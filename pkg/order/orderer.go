package order

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	dgraph "github.com/dominikbraun/graph"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/readiness"
)

const (
	// DependsOnAnnotation lists extra dependencies as comma separated
	// "Kind/name" or "Kind/namespace/name" entries.
	DependsOnAnnotation = "kapply.io/depends-on"

	// ApplyModeAnnotation overrides the apply mode of a single object.
	ApplyModeAnnotation = "kapply.io/apply-mode"

	// GraphVersion is the format version written into graph metadata.
	GraphVersion = "v1"
)

// CycleError reports an explicit dependency that closes a cycle.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s cannot depend on %s", e.To, e.From)
}

// Options configure an Orderer.
type Options struct {
	// Name is written to the graph metadata
	Name string

	// StrictKindOrder makes every object wait for the nearest lower
	// populated kind rank
	StrictKindOrder bool

	// Policy is the apply policy of every node unless overridden by
	// ApplyModeAnnotation
	Policy graph.ApplyPolicy

	// Wait attaches the per-kind default readiness predicates
	Wait bool

	// WaitTimeout is set as the predicate timeout when Wait is true
	WaitTimeout time.Duration
}

// DefaultOptions returns options with StrictKindOrder enabled.
func DefaultOptions() Options {
	return Options{
		Name:            "kapply",
		StrictKindOrder: true,
		Policy: graph.ApplyPolicy{
			Mode:           graph.ApplyModeApply,
			ConflictPolicy: graph.ConflictPolicyError,
			FieldManager:   graph.DefaultFieldManager,
		},
	}
}

// Orderer builds apply graphs from descriptors.
type Orderer struct {
	opts Options
}

// New creates an Orderer.
func New(opts Options) *Orderer {
	if opts.Name == "" {
		opts.Name = "kapply"
	}
	return &Orderer{opts: opts}
}

type edgeSet map[string]map[string]bool

func (e edgeSet) add(from, to string) {
	if from == to {
		return
	}
	if e[to] == nil {
		e[to] = map[string]bool{}
	}
	e[to][from] = true
}

// Order builds the graph for descs. Namespaces must already be resolved
// (see manifest.ApplyNamespaces). Node order follows descs.
func (o *Orderer) Order(descs []manifest.Descriptor) (*graph.Graph, error) {
	byID := make(map[string]manifest.Descriptor, len(descs))
	for _, d := range descs {
		byID[d.ID()] = d
	}
	crds := crdIndex(descs)

	edges := edgeSet{}
	for _, d := range descs {
		id := d.ID()
		rank := RankOf(d.Kind())

		if ns := d.Namespace(); ns != "" {
			nsID := manifest.ObjectRef{Kind: manifest.KindNamespace, Name: ns}.ID()
			if _, ok := byID[nsID]; ok {
				edges.add(nsID, id)
			}
		}

		for _, ref := range References(d) {
			target, ok := byID[ref.ID()]
			if !ok {
				continue
			}
			if o.opts.StrictKindOrder && RankOf(target.Kind()) > rank {
				continue
			}
			edges.add(target.ID(), id)
		}

		if crdID, ok := crds[groupKind(d.Group(), d.Kind())]; ok {
			edges.add(crdID, id)
		}

		explicit, err := parseDependsOn(d)
		if err != nil {
			return nil, err
		}
		for _, ref := range explicit {
			if target, ok := resolve(byID, ref); ok {
				edges.add(target, id)
			}
		}
	}

	if o.opts.StrictKindOrder {
		addRankBarrier(descs, edges)
	}

	g := &graph.Graph{
		Metadata: graph.GraphMetadata{
			Name:    o.opts.Name,
			Version: GraphVersion,
			Sources: sources(descs),
		},
		Nodes: make([]graph.Node, 0, len(descs)),
	}

	for _, d := range descs {
		policy, err := o.policyFor(d)
		if err != nil {
			return nil, err
		}
		node := graph.Node{
			ID:          d.ID(),
			Object:      *d.Object.DeepCopy(),
			ApplyPolicy: policy,
			DependsOn:   sortedKeys(edges[d.ID()]),
			Rank:        RankOf(d.Kind()),
			Source:      d.Source,
		}
		if o.opts.Wait {
			node.ReadyWhen = readiness.DefaultPredicates(string(d.Kind()))
			for i := range node.ReadyWhen {
				node.ReadyWhen[i].Timeout = int(o.opts.WaitTimeout.Seconds())
			}
		}
		g.Nodes = append(g.Nodes, node)
	}

	g.SetHash()
	return g, nil
}

// Plan orders descs and builds the executable DAG. A cycle is reported as
// a *CycleError before anything is applied.
func (o *Orderer) Plan(descs []manifest.Descriptor) (*graph.Graph, *graph.DAG, error) {
	g, err := o.Order(descs)
	if err != nil {
		return nil, nil, err
	}

	dag, err := graph.BuildDAG(g)
	if err != nil {
		var edgeErr *graph.EdgeError
		if errors.As(err, &edgeErr) && errors.Is(err, dgraph.ErrEdgeCreatesCycle) {
			return nil, nil, &CycleError{From: edgeErr.From, To: edgeErr.To}
		}
		return nil, nil, err
	}
	return g, dag, nil
}

func (o *Orderer) policyFor(d manifest.Descriptor) (graph.ApplyPolicy, error) {
	policy := o.opts.Policy
	if v, ok := d.Annotations()[ApplyModeAnnotation]; ok {
		mode, err := graph.ParseApplyMode(v)
		if err != nil {
			return policy, fmt.Errorf("%s: %s: %w", d.Source, ApplyModeAnnotation, err)
		}
		policy.Mode = mode
	}
	return policy, nil
}

// addRankBarrier makes every node depend on all nodes of the nearest lower
// rank that has any nodes.
func addRankBarrier(descs []manifest.Descriptor, edges edgeSet) {
	byRank := make(map[int][]string)
	for _, d := range descs {
		r := RankOf(d.Kind())
		byRank[r] = append(byRank[r], d.ID())
	}

	var previous []string
	for r := 0; r <= MaxRank; r++ {
		ids := byRank[r]
		if len(ids) == 0 {
			continue
		}
		for _, id := range ids {
			for _, dep := range previous {
				edges.add(dep, id)
			}
		}
		previous = ids
	}
}

type gk struct {
	group string
	kind  manifest.Kind
}

func groupKind(group string, kind manifest.Kind) gk { return gk{group: group, kind: kind} }

// crdIndex maps the group/kind each CRD in the set defines to the CRD's ID.
func crdIndex(descs []manifest.Descriptor) map[gk]string {
	index := make(map[gk]string)
	for _, d := range descs {
		if d.Kind() != manifest.KindCustomResourceDefinition {
			continue
		}
		group, _, _ := unstructured.NestedString(d.Object.Object, "spec", "group")
		kind, _, _ := unstructured.NestedString(d.Object.Object, "spec", "names", "kind")
		if group != "" && kind != "" {
			index[groupKind(group, manifest.Kind(kind))] = d.ID()
		}
	}
	return index
}

// parseDependsOn reads DependsOnAnnotation. "Kind/name" refers to an object
// in d's namespace, or a cluster-scoped object of that name.
func parseDependsOn(d manifest.Descriptor) ([]manifest.ObjectRef, error) {
	value := strings.TrimSpace(d.Annotations()[DependsOnAnnotation])
	if value == "" {
		return nil, nil
	}

	var refs []manifest.ObjectRef
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "/")
		switch len(parts) {
		case 2:
			refs = append(refs, manifest.ObjectRef{Kind: manifest.Kind(parts[0]), Namespace: d.Namespace(), Name: parts[1]})
		case 3:
			refs = append(refs, manifest.ObjectRef{Kind: manifest.Kind(parts[0]), Namespace: parts[1], Name: parts[2]})
		default:
			return nil, fmt.Errorf("%s: invalid %s entry %q (want Kind/name or Kind/namespace/name)", d.Source, DependsOnAnnotation, entry)
		}
	}
	return refs, nil
}

func resolve(byID map[string]manifest.Descriptor, ref manifest.ObjectRef) (string, bool) {
	if _, ok := byID[ref.ID()]; ok {
		return ref.ID(), true
	}
	ref.Namespace = ""
	if _, ok := byID[ref.ID()]; ok {
		return ref.ID(), true
	}
	return "", false
}

func sources(descs []manifest.Descriptor) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range descs {
		src := d.Source
		if i := strings.IndexByte(src, '#'); i >= 0 {
			src = src[:i]
		}
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
