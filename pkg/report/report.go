package report

import (
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
)

// Prune results that leave the object in place
const (
	OutcomeOrphaned  graph.Outcome = "orphaned"
	OutcomeProtected graph.Outcome = "protected"
)

// Entry is the result for one resource
type Entry struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Namespace string          `json:"namespace,omitempty"`
	Name      string          `json:"name"`
	Outcome   graph.Outcome   `json:"outcome,omitempty"`
	State     graph.NodeState `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retries   int             `json:"retries,omitempty"`
	Duration  metav1.Duration `json:"duration"`
	Source    string          `json:"source,omitempty"`
}

// Failed reports whether the entry counts against the exit code
func (e Entry) Failed() bool {
	return e.Error != "" || e.State == graph.NodeStateError || e.State == graph.NodeStateSkipped
}

// Summary counts entries by result
type Summary struct {
	Total      int `json:"total"`
	Created    int `json:"created,omitempty"`
	Configured int `json:"configured,omitempty"`
	Unchanged  int `json:"unchanged,omitempty"`
	Deleted    int `json:"deleted,omitempty"`
	Absent     int `json:"absent,omitempty"`
	Pruned     int `json:"pruned,omitempty"`
	Failed     int `json:"failed,omitempty"`
	Skipped    int `json:"skipped,omitempty"`
}

// Report is the result of one run
type Report struct {
	GraphHash string  `json:"graphHash,omitempty"`
	DryRun    string  `json:"dryRun,omitempty"`
	Entries   []Entry `json:"entries"`
	Pruned    []Entry `json:"pruned,omitempty"`
	Summary   Summary `json:"summary"`
}

// FromExecution builds a report from executor state, in apply order
func FromExecution(dag *graph.DAG, state *graph.ExecutionState) *Report {
	r := &Report{}
	if dag == nil || state == nil {
		return r
	}

	for _, id := range dag.GetOrder() {
		node, ok := dag.GetNode(id)
		if !ok {
			continue
		}
		entry := entryFor(id, node)
		if status, err := state.GetStatus(id); err == nil {
			entry.State = status.State
			entry.Outcome = status.Outcome
			entry.Error = status.Error
			entry.Retries = status.RetryCount
			entry.Duration = metav1.Duration{Duration: status.Duration()}
		}
		r.Entries = append(r.Entries, entry)
	}
	r.summarize()
	return r
}

// FromDeletions builds a report for the delete command
func FromDeletions(dag *graph.DAG, deletions []apply.Deletion) *Report {
	r := &Report{}
	for _, d := range deletions {
		var entry Entry
		if node, ok := dag.GetNode(d.ID); ok {
			entry = entryFor(d.ID, node)
		} else {
			entry = Entry{ID: d.ID}
		}
		entry.Outcome = d.Outcome
		entry.Duration = metav1.Duration{Duration: d.Duration}
		if d.Err != nil {
			entry.Error = d.Err.Error()
		}
		r.Entries = append(r.Entries, entry)
	}
	r.summarize()
	return r
}

// AddPrune records the result of a prune pass
func (r *Report) AddPrune(result *apply.PruneResult) {
	if result == nil {
		return
	}
	add := func(res apply.PrunedResource, outcome graph.Outcome, err error) {
		entry := Entry{
			ID:        res.ID,
			Kind:      res.GVK.Kind,
			Namespace: res.Namespace,
			Name:      res.Name,
			Outcome:   outcome,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		r.Pruned = append(r.Pruned, entry)
	}
	for _, res := range result.Pruned {
		add(res, graph.OutcomePruned, nil)
	}
	for _, res := range result.Orphaned {
		add(res, OutcomeOrphaned, nil)
	}
	for _, res := range result.Protected {
		add(res, OutcomeProtected, nil)
	}
	for _, e := range result.Errors {
		add(e.Resource, "", e.Error)
	}
	r.summarize()
}

// Failed reports whether any resource failed or was skipped
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if e.Failed() {
			return true
		}
	}
	for _, e := range r.Pruned {
		if e.Error != "" {
			return true
		}
	}
	return false
}

// Err returns an error describing the failures, or nil
func (r *Report) Err() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("%d of %d resources failed, %d skipped", r.Summary.Failed, r.Summary.Total, r.Summary.Skipped)
}

func (r *Report) summarize() {
	s := Summary{Total: len(r.Entries)}
	for _, e := range r.Entries {
		switch {
		case e.State == graph.NodeStateSkipped:
			s.Skipped++
		case e.Failed():
			s.Failed++
		default:
			count(&s, e.Outcome)
		}
	}
	for _, e := range r.Pruned {
		if e.Error != "" {
			s.Failed++
		} else if e.Outcome == graph.OutcomePruned {
			s.Pruned++
		}
	}
	r.Summary = s
}

func count(s *Summary, o graph.Outcome) {
	switch o {
	case graph.OutcomeCreated:
		s.Created++
	case graph.OutcomeConfigured:
		s.Configured++
	case graph.OutcomeUnchanged:
		s.Unchanged++
	case graph.OutcomeDeleted:
		s.Deleted++
	case graph.OutcomeAbsent:
		s.Absent++
	}
}

func entryFor(id string, node *graph.Node) Entry {
	return Entry{
		ID:        id,
		Kind:      node.Object.GetKind(),
		Namespace: node.Object.GetNamespace(),
		Name:      node.Object.GetName(),
		Source:    node.Source,
	}
}

// round keeps printed durations readable
func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(100 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(time.Millisecond)
	default:
		return d
	}
}
