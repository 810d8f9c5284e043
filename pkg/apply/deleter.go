package apply

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/graph"
)

// DeleteOptions configures Deleter.Delete
type DeleteOptions struct {
	DryRun            DryRunMode
	PropagationPolicy *metav1.DeletionPropagation
}

// Deletion is what happened to one node during a delete run
type Deletion struct {
	ID       string
	Object   *unstructured.Unstructured
	Outcome  graph.Outcome
	Err      error
	Duration time.Duration
}

// Deleter removes a resource set from the cluster
type Deleter struct {
	client client.Client
}

// NewDeleter creates a new deleter
func NewDeleter(c client.Client) *Deleter {
	return &Deleter{client: c}
}

// Delete removes every node of dag, dependents before their dependencies.
// Objects that are already gone are reported as absent. A failure does not
// stop the remaining deletions.
func (d *Deleter) Delete(ctx context.Context, dag *graph.DAG, opts DeleteOptions) ([]Deletion, error) {
	if dag == nil {
		return nil, fmt.Errorf("DAG cannot be nil")
	}
	logger := log.FromContext(ctx)

	reversed := dag.Reverse()
	results := make([]Deletion, 0, len(reversed))
	for _, id := range reversed {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		node, ok := dag.GetNode(id)
		if !ok {
			continue
		}

		start := time.Now()
		obj := node.Object.DeepCopy()
		outcome, err := d.deleteOne(ctx, obj, opts)
		results = append(results, Deletion{
			ID:       id,
			Object:   obj,
			Outcome:  outcome,
			Err:      err,
			Duration: time.Since(start),
		})
		if err != nil {
			logger.Error(err, "Failed to delete resource", "id", id)
			continue
		}
		logger.V(1).Info("Deleted resource", "id", id, "outcome", outcome)
	}
	return results, nil
}

func (d *Deleter) deleteOne(ctx context.Context, obj *unstructured.Unstructured, opts DeleteOptions) (graph.Outcome, error) {
	live := &unstructured.Unstructured{}
	live.SetGroupVersionKind(obj.GroupVersionKind())
	if err := d.client.Get(ctx, client.ObjectKeyFromObject(obj), live); err != nil {
		if errors.IsNotFound(err) {
			return graph.OutcomeAbsent, nil
		}
		return "", fmt.Errorf("failed to get resource %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}
	if opts.DryRun == DryRunClient {
		return graph.OutcomeDeleted, nil
	}
	if err := deleteObject(ctx, d.client, live, opts.PropagationPolicy, opts.DryRun == DryRunServer); err != nil {
		return "", err
	}
	return graph.OutcomeDeleted, nil
}
