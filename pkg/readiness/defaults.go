package readiness

import (
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"

	"github.com/chazu/kapply/pkg/graph"
)

// DefaultPredicates returns the predicates --wait uses for a kind. Kinds
// without a meaningful status only need to exist.
func DefaultPredicates(kind string) []graph.ReadinessPredicate {
	switch kind {
	case "Deployment":
		return []graph.ReadinessPredicate{{Type: graph.PredicateTypeDeploymentAvailable}}
	case "StatefulSet":
		return []graph.ReadinessPredicate{{Type: graph.PredicateTypeStatefulSetReady}}
	case "DaemonSet":
		return []graph.ReadinessPredicate{{Type: graph.PredicateTypeDaemonSetReady}}
	case "Job":
		return []graph.ReadinessPredicate{{Type: graph.PredicateTypeJobComplete}}
	case "PersistentVolumeClaim":
		return phase(string(corev1.ClaimBound))
	case "PersistentVolume":
		return phase(string(corev1.VolumeAvailable), string(corev1.VolumeBound))
	case "Namespace":
		return phase(string(corev1.NamespaceActive))
	case "CustomResourceDefinition":
		return []graph.ReadinessPredicate{{
			Type:            graph.PredicateTypeConditionMatch,
			ConditionType:   string(apiextensionsv1.Established),
			ConditionStatus: string(apiextensionsv1.ConditionTrue),
		}}
	default:
		return []graph.ReadinessPredicate{{Type: graph.PredicateTypeExists}}
	}
}

func phase(phases ...string) []graph.ReadinessPredicate {
	return []graph.ReadinessPredicate{{Type: graph.PredicateTypePhaseMatch, Phases: phases}}
}
