package order

import "github.com/chazu/kapply/pkg/manifest"

// MaxRank is the rank of kinds nothing is expected to depend on.
const MaxRank = 4

// RankOf returns an int denoting the position of the given kind in the
// partial ordering of Kubernetes resources, according to which kinds
// depend on which.
func RankOf(kind manifest.Kind) int {
	switch kind {
	// Namespaces depend on nothing
	case manifest.KindNamespace:
		return 0
	// Either cluster-scoped or free of dependencies on other kinds
	case manifest.KindCustomResourceDefinition, manifest.KindServiceAccount, manifest.KindClusterRole,
		manifest.KindRole, manifest.KindPersistentVolume, manifest.KindService,
		manifest.KindStorageClass, manifest.KindPriorityClass:
		return 1
	// These depend on something above, but not each other
	case manifest.KindResourceQuota, manifest.KindLimitRange, manifest.KindSecret, manifest.KindConfigMap,
		manifest.KindRoleBinding, manifest.KindClusterRoleBinding, manifest.KindPersistentVolumeClaim,
		manifest.KindIngress:
		return 2
	// Workloads
	case manifest.KindDaemonSet, manifest.KindDeployment, manifest.KindReplicationController,
		manifest.KindReplicaSet, manifest.KindJob, manifest.KindCronJob, manifest.KindStatefulSet:
		return 3
	// Anything not mentioned isn't depended upon, so it can come last
	default:
		return MaxRank
	}
}
