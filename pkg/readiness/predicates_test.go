package readiness

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/chazu/kapply/pkg/graph"
)

func withGeneration(obj *unstructured.Unstructured, gen int64, spec map[string]interface{}) *unstructured.Unstructured {
	obj.SetGeneration(gen)
	if spec != nil {
		obj.Object["spec"] = spec
	}
	return obj
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name    string
		pred    graph.ReadinessPredicate
		obj     *unstructured.Unstructured
		want    bool
		wantErr bool
	}{
		{
			name: "condition match",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeConditionMatch, ConditionType: "Ready", ConditionStatus: "True"},
			obj: newUnstructured("example.com/v1", "Widget", "w", map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"type": "Synced", "status": "False"},
					map[string]interface{}{"type": "Ready", "status": "True"},
				},
			}),
			want: true,
		},
		{
			name: "condition status mismatch",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeConditionMatch, ConditionType: "Ready", ConditionStatus: "True"},
			obj: newUnstructured("example.com/v1", "Widget", "w", map[string]interface{}{
				"conditions": []interface{}{map[string]interface{}{"type": "Ready", "status": "False"}},
			}),
			want: false,
		},
		{
			name: "condition missing",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeConditionMatch, ConditionType: "Ready", ConditionStatus: "True"},
			obj:  newUnstructured("example.com/v1", "Widget", "w", nil),
			want: false,
		},
		{
			name: "deployment available",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeDeploymentAvailable},
			obj: withGeneration(newUnstructured("apps/v1", "Deployment", "web", map[string]interface{}{
				"observedGeneration": int64(2),
				"updatedReplicas":    int64(2),
				"conditions": []interface{}{
					map[string]interface{}{"type": "Available", "status": "True"},
				},
			}), 2, map[string]interface{}{"replicas": int64(2)}),
			want: true,
		},
		{
			name: "deployment stale generation",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeDeploymentAvailable},
			obj: withGeneration(newUnstructured("apps/v1", "Deployment", "web", map[string]interface{}{
				"observedGeneration": int64(1),
				"updatedReplicas":    int64(1),
				"conditions": []interface{}{
					map[string]interface{}{"type": "Available", "status": "True"},
				},
			}), 2, nil),
			want: false,
		},
		{
			name: "statefulset ready",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeStatefulSetReady},
			obj: withGeneration(newUnstructured("apps/v1", "StatefulSet", "db", map[string]interface{}{
				"observedGeneration": int64(1),
				"readyReplicas":      int64(3),
				"updatedReplicas":    int64(3),
			}), 1, map[string]interface{}{"replicas": int64(3)}),
			want: true,
		},
		{
			name: "statefulset still rolling",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeStatefulSetReady},
			obj: withGeneration(newUnstructured("apps/v1", "StatefulSet", "db", map[string]interface{}{
				"observedGeneration": int64(1),
				"readyReplicas":      int64(2),
				"updatedReplicas":    int64(3),
			}), 1, map[string]interface{}{"replicas": int64(3)}),
			want: false,
		},
		{
			name: "daemonset ready",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeDaemonSetReady},
			obj: newUnstructured("apps/v1", "DaemonSet", "agent", map[string]interface{}{
				"desiredNumberScheduled": int64(4),
				"updatedNumberScheduled": int64(4),
				"numberReady":            int64(4),
			}),
			want: true,
		},
		{
			name: "job complete",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeJobComplete},
			obj: newUnstructured("batch/v1", "Job", "migrate", map[string]interface{}{
				"conditions": []interface{}{map[string]interface{}{"type": "Complete", "status": "True"}},
			}),
			want: true,
		},
		{
			name: "job failed",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypeJobComplete},
			obj: newUnstructured("batch/v1", "Job", "migrate", map[string]interface{}{
				"conditions": []interface{}{map[string]interface{}{"type": "Failed", "status": "True", "message": "backoff limit"}},
			}),
			wantErr: true,
		},
		{
			name: "phase match",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypePhaseMatch, Phases: []string{"Available", "Bound"}},
			obj:  newUnstructured("v1", "PersistentVolume", "pv", map[string]interface{}{"phase": "Bound"}),
			want: true,
		},
		{
			name: "phase pending",
			pred: graph.ReadinessPredicate{Type: graph.PredicateTypePhaseMatch, Phases: []string{"Bound"}},
			obj:  newUnstructured("v1", "PersistentVolumeClaim", "pvc", map[string]interface{}{"phase": "Pending"}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator, err := NewEvaluator(tt.pred)
			if err != nil {
				t.Fatalf("NewEvaluator() error = %v", err)
			}
			got, err := evaluator.Evaluate(context.Background(), nil, tt.obj)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvaluatorValidation(t *testing.T) {
	for _, pred := range []graph.ReadinessPredicate{
		{Type: graph.PredicateTypeConditionMatch, ConditionStatus: "True"},
		{Type: graph.PredicateTypeConditionMatch, ConditionType: "Ready"},
		{Type: graph.PredicateTypePhaseMatch},
		{Type: "Eventually"},
	} {
		if _, err := NewEvaluator(pred); err == nil {
			t.Errorf("NewEvaluator(%+v) expected error", pred)
		}
	}
}

func TestDefaultPredicates(t *testing.T) {
	tests := map[string]graph.PredicateType{
		"Deployment":               graph.PredicateTypeDeploymentAvailable,
		"StatefulSet":              graph.PredicateTypeStatefulSetReady,
		"DaemonSet":                graph.PredicateTypeDaemonSetReady,
		"Job":                      graph.PredicateTypeJobComplete,
		"PersistentVolumeClaim":    graph.PredicateTypePhaseMatch,
		"Namespace":                graph.PredicateTypePhaseMatch,
		"CustomResourceDefinition": graph.PredicateTypeConditionMatch,
		"ConfigMap":                graph.PredicateTypeExists,
	}
	for kind, want := range tests {
		preds := DefaultPredicates(kind)
		if len(preds) != 1 || preds[0].Type != want {
			t.Errorf("DefaultPredicates(%s) = %+v, want %s", kind, preds, want)
			continue
		}
		if err := preds[0].Validate(); err != nil {
			t.Errorf("DefaultPredicates(%s) invalid: %v", kind, err)
		}
	}
}
