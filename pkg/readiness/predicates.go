package readiness

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/chazu/kapply/pkg/graph"
)

// Evaluator is the interface for evaluating readiness predicates
type Evaluator interface {
	// Evaluate checks if the predicate is satisfied for the given object
	Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error)
}

// ConditionMatchPredicate checks if a specific condition has the expected status
type ConditionMatchPredicate struct {
	ConditionType   string
	ConditionStatus string
}

// Evaluate checks if the condition matches
func (p *ConditionMatchPredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	status, found, err := conditionStatus(obj, p.ConditionType)
	if err != nil || !found {
		return false, err
	}
	return status == p.ConditionStatus, nil
}

func conditionStatus(obj *unstructured.Unstructured, conditionType string) (string, bool, error) {
	conditions, found, err := unstructured.NestedFieldNoCopy(obj.Object, "status", "conditions")
	if err != nil {
		return "", false, fmt.Errorf("failed to get conditions: %w", err)
	}
	list, ok := conditions.([]interface{})
	if !found || !ok {
		return "", false, nil
	}

	for _, cond := range list {
		condMap, ok := cond.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _, _ := unstructured.NestedString(condMap, "type"); t == conditionType {
			s, _, _ := unstructured.NestedString(condMap, "status")
			return s, true, nil
		}
	}
	return "", false, nil
}

// DeploymentAvailablePredicate checks a Deployment has rolled out its
// current generation and reports Available
type DeploymentAvailablePredicate struct{}

func (p *DeploymentAvailablePredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	var deployment appsv1.Deployment
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &deployment); err != nil {
		return false, fmt.Errorf("failed to convert to Deployment: %w", err)
	}

	if deployment.Status.ObservedGeneration < deployment.Generation {
		return false, nil
	}
	if deployment.Status.UpdatedReplicas < replicas(deployment.Spec.Replicas) {
		return false, nil
	}
	for _, cond := range deployment.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable && cond.Status == corev1.ConditionTrue {
			return true, nil
		}
	}
	return false, nil
}

// StatefulSetReadyPredicate checks every replica of the current
// generation is ready and updated
type StatefulSetReadyPredicate struct{}

func (p *StatefulSetReadyPredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	var sts appsv1.StatefulSet
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &sts); err != nil {
		return false, fmt.Errorf("failed to convert to StatefulSet: %w", err)
	}

	want := replicas(sts.Spec.Replicas)
	return sts.Status.ObservedGeneration >= sts.Generation &&
		sts.Status.ReadyReplicas >= want &&
		sts.Status.UpdatedReplicas >= want, nil
}

// DaemonSetReadyPredicate checks every scheduled pod is updated and ready
type DaemonSetReadyPredicate struct{}

func (p *DaemonSetReadyPredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	var ds appsv1.DaemonSet
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ds); err != nil {
		return false, fmt.Errorf("failed to convert to DaemonSet: %w", err)
	}

	s := ds.Status
	return s.ObservedGeneration >= ds.Generation &&
		s.UpdatedNumberScheduled >= s.DesiredNumberScheduled &&
		s.NumberReady >= s.DesiredNumberScheduled, nil
}

// JobCompletePredicate waits for the Complete condition. A Failed job is an
// error so that the wait ends early.
type JobCompletePredicate struct{}

func (p *JobCompletePredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	var job batchv1.Job
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &job); err != nil {
		return false, fmt.Errorf("failed to convert to Job: %w", err)
	}

	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return true, nil
		case batchv1.JobFailed:
			return false, fmt.Errorf("job failed: %s", cond.Message)
		}
	}
	return false, nil
}

// PhaseMatchPredicate checks status.phase is one of Phases
type PhaseMatchPredicate struct {
	Phases []string
}

func (p *PhaseMatchPredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	phase, _, err := unstructured.NestedString(obj.Object, "status", "phase")
	if err != nil {
		return false, fmt.Errorf("failed to get phase: %w", err)
	}
	for _, want := range p.Phases {
		if phase == want {
			return true, nil
		}
	}
	return false, nil
}

// ExistsPredicate checks if the resource exists
type ExistsPredicate struct{}

// Evaluate checks if the resource exists
func (p *ExistsPredicate) Evaluate(ctx context.Context, c client.Client, obj *unstructured.Unstructured) (bool, error) {
	live := &unstructured.Unstructured{}
	live.SetGroupVersionKind(obj.GroupVersionKind())
	if err := c.Get(ctx, client.ObjectKeyFromObject(obj), live); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get resource: %w", err)
	}
	return true, nil
}

func replicas(r *int32) int32 {
	if r == nil {
		return 1
	}
	return *r
}

// NewEvaluator creates an Evaluator for a predicate
func NewEvaluator(pred graph.ReadinessPredicate) (Evaluator, error) {
	switch pred.Type {
	case graph.PredicateTypeConditionMatch:
		if pred.ConditionType == "" {
			return nil, fmt.Errorf("conditionType is required for ConditionMatch predicate")
		}
		if pred.ConditionStatus == "" {
			return nil, fmt.Errorf("conditionStatus is required for ConditionMatch predicate")
		}
		return &ConditionMatchPredicate{
			ConditionType:   pred.ConditionType,
			ConditionStatus: pred.ConditionStatus,
		}, nil

	case graph.PredicateTypeDeploymentAvailable:
		return &DeploymentAvailablePredicate{}, nil

	case graph.PredicateTypeStatefulSetReady:
		return &StatefulSetReadyPredicate{}, nil

	case graph.PredicateTypeDaemonSetReady:
		return &DaemonSetReadyPredicate{}, nil

	case graph.PredicateTypeJobComplete:
		return &JobCompletePredicate{}, nil

	case graph.PredicateTypePhaseMatch:
		if len(pred.Phases) == 0 {
			return nil, fmt.Errorf("phases are required for PhaseMatch predicate")
		}
		return &PhaseMatchPredicate{Phases: pred.Phases}, nil

	case graph.PredicateTypeExists:
		return &ExistsPredicate{}, nil

	default:
		return nil, fmt.Errorf("unknown predicate type: %s", pred.Type)
	}
}
