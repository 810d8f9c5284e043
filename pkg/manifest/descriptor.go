package manifest

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ClusterScope is the namespace component of the ID of cluster-scoped objects.
const ClusterScope = "<cluster>"

// Kind is the API kind of a resource.
type Kind string

const (
	KindNamespace                Kind = "Namespace"
	KindConfigMap                Kind = "ConfigMap"
	KindSecret                   Kind = "Secret"
	KindService                  Kind = "Service"
	KindServiceAccount           Kind = "ServiceAccount"
	KindStatefulSet              Kind = "StatefulSet"
	KindDeployment               Kind = "Deployment"
	KindReplicaSet               Kind = "ReplicaSet"
	KindReplicationController    Kind = "ReplicationController"
	KindDaemonSet                Kind = "DaemonSet"
	KindJob                      Kind = "Job"
	KindCronJob                  Kind = "CronJob"
	KindPod                      Kind = "Pod"
	KindPersistentVolume         Kind = "PersistentVolume"
	KindPersistentVolumeClaim    Kind = "PersistentVolumeClaim"
	KindIngress                  Kind = "Ingress"
	KindResourceQuota            Kind = "ResourceQuota"
	KindLimitRange               Kind = "LimitRange"
	KindRole                     Kind = "Role"
	KindClusterRole              Kind = "ClusterRole"
	KindRoleBinding              Kind = "RoleBinding"
	KindClusterRoleBinding       Kind = "ClusterRoleBinding"
	KindStorageClass             Kind = "StorageClass"
	KindPriorityClass            Kind = "PriorityClass"
	KindCustomResourceDefinition Kind = "CustomResourceDefinition"
)

// ObjectRef names an object without its content.
type ObjectRef struct {
	Group     string
	Kind      Kind
	Namespace string
	Name      string
}

// ID renders the ref in the same form as Descriptor.ID.
func (r ObjectRef) ID() string {
	ns := r.Namespace
	if ns == "" {
		ns = ClusterScope
	}
	return fmt.Sprintf("%s:%s/%s", ns, r.Kind, r.Name)
}

func (r ObjectRef) String() string {
	return r.ID()
}

// Descriptor is one resource read from a manifest. Kind, name and namespace
// are read through to Object so that namespace defaulting cannot leave the
// two out of sync.
type Descriptor struct {
	Object *unstructured.Unstructured

	// Source is where the document came from, as "<file>#<index>"
	Source string
}

// NewDescriptor validates the identifying fields of obj and wraps it.
func NewDescriptor(obj *unstructured.Unstructured, source string) (Descriptor, error) {
	switch {
	case obj.GetAPIVersion() == "":
		return Descriptor{}, fmt.Errorf("missing apiVersion")
	case obj.GetKind() == "":
		return Descriptor{}, fmt.Errorf("missing kind")
	case obj.GetName() == "" && obj.GetGenerateName() != "":
		return Descriptor{}, fmt.Errorf("%s uses generateName; a stable metadata.name is required", obj.GetKind())
	case obj.GetName() == "":
		return Descriptor{}, fmt.Errorf("%s is missing metadata.name", obj.GetKind())
	}
	if _, err := schema.ParseGroupVersion(obj.GetAPIVersion()); err != nil {
		return Descriptor{}, fmt.Errorf("invalid apiVersion %q: %w", obj.GetAPIVersion(), err)
	}
	return Descriptor{Object: obj, Source: source}, nil
}

func (d Descriptor) Kind() Kind { return Kind(d.Object.GetKind()) }
func (d Descriptor) Name() string { return d.Object.GetName() }
func (d Descriptor) Namespace() string { return d.Object.GetNamespace() }
func (d Descriptor) APIVersion() string { return d.Object.GetAPIVersion() }
func (d Descriptor) Group() string { return d.Object.GroupVersionKind().Group }
func (d Descriptor) Annotations() map[string]string {
	return d.Object.GetAnnotations()
}

// GroupVersionKind of the object.
func (d Descriptor) GroupVersionKind() schema.GroupVersionKind {
	return d.Object.GroupVersionKind()
}

// SetNamespace sets or, when ns is empty, clears the namespace.
func (d Descriptor) SetNamespace(ns string) {
	d.Object.SetNamespace(ns)
}

// Fields returns the top-level fields other than apiVersion, kind and metadata.
func (d Descriptor) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(d.Object.Object))
	for k, v := range d.Object.Object {
		switch k {
		case "apiVersion", "kind", "metadata":
			continue
		}
		out[k] = v
	}
	return out
}

// ID is "<namespace>:<kind>/<name>", with ClusterScope for objects without a namespace.
func (d Descriptor) ID() string {
	return d.Ref().ID()
}

// Ref returns the ObjectRef naming this descriptor.
func (d Descriptor) Ref() ObjectRef {
	return ObjectRef{
		Group:     d.Group(),
		Kind:      d.Kind(),
		Namespace: d.Namespace(),
		Name:      d.Name(),
	}
}
