package readiness

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/chazu/kapply/pkg/graph"
)

// Checker evaluates readiness predicates for Kubernetes resources
type Checker struct {
	client client.Client
}

// NewChecker creates a new readiness checker
func NewChecker(c client.Client) *Checker {
	return &Checker{
		client: c,
	}
}

// Check re-fetches obj and evaluates all predicates against the live copy.
// An object that is not found yet is reported as not ready.
func (c *Checker) Check(ctx context.Context, obj *unstructured.Unstructured, predicates []graph.ReadinessPredicate) (bool, error) {
	if obj == nil {
		return false, fmt.Errorf("object cannot be nil")
	}

	if len(predicates) == 0 {
		return true, nil
	}

	latest := &unstructured.Unstructured{}
	latest.SetGroupVersionKind(obj.GroupVersionKind())
	if err := c.client.Get(ctx, client.ObjectKeyFromObject(obj), latest); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get resource: %w", err)
	}

	for _, pred := range predicates {
		evaluator, err := NewEvaluator(pred)
		if err != nil {
			return false, fmt.Errorf("failed to create evaluator: %w", err)
		}

		ready, err := evaluator.Evaluate(ctx, c.client, latest)
		if err != nil {
			return false, fmt.Errorf("predicate %s: %w", pred.Type, err)
		}
		if !ready {
			return false, nil
		}
	}

	return true, nil
}
