package manifest

import (
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
)

// DefaultNamespace is presumed for namespaced objects when no namespace is
// configured, as kubectl does.
const DefaultNamespace = "default"

// ResourceScopes maps kinds defined by CustomResourceDefinitions in the
// same manifest set to their scope. Those kinds are not yet known to the
// API server on a first apply.
type ResourceScopes map[schema.GroupVersionKind]apiextensionsv1.ResourceScope

// Namespacer yields the namespace a descriptor would be applied to.
type Namespacer interface {
	// EffectiveNamespace returns the namespace for d, or "" when d is
	// cluster-scoped.
	EffectiveNamespace(d Descriptor, known ResourceScopes) (string, error)
}

// ScopesFromCRDs collects the scopes of every CRD in descs.
func ScopesFromCRDs(descs []Descriptor) (ResourceScopes, error) {
	scopes := ResourceScopes{}
	for _, d := range descs {
		if d.Kind() != KindCustomResourceDefinition || d.Group() != apiextensionsv1.GroupName {
			continue
		}
		var crd apiextensionsv1.CustomResourceDefinition
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(d.Object.Object, &crd); err != nil {
			return nil, fmt.Errorf("%s: reading CustomResourceDefinition: %w", d.Source, err)
		}
		for _, v := range crd.Spec.Versions {
			gvk := schema.GroupVersionKind{Group: crd.Spec.Group, Version: v.Name, Kind: crd.Spec.Names.Kind}
			scopes[gvk] = crd.Spec.Scope
		}
	}
	return scopes, nil
}

// ApplyNamespaces sets the effective namespace on every descriptor and
// then rejects IDs that collide once defaults are filled in.
func ApplyNamespaces(descs []Descriptor, n Namespacer) error {
	known, err := ScopesFromCRDs(descs)
	if err != nil {
		return err
	}
	for _, d := range descs {
		ns, err := n.EffectiveNamespace(d, known)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Source, err)
		}
		d.SetNamespace(ns)
	}
	return CheckDuplicates(descs)
}

type namespaceViaDiscovery struct {
	fallbackNamespace string
	disco             discovery.DiscoveryInterface
}

// NewNamespacer creates a discovery-backed Namespacer. Lookups go straight
// to d, so pass a cached client to avoid repeated discovery calls. fallback
// is the namespace for namespaced objects that carry none.
func NewNamespacer(d discovery.DiscoveryInterface, fallback string) Namespacer {
	if fallback == "" {
		fallback = DefaultNamespace
	}
	return &namespaceViaDiscovery{
		fallbackNamespace: fallback,
		disco:             d,
	}
}

func (n *namespaceViaDiscovery) EffectiveNamespace(d Descriptor, known ResourceScopes) (string, error) {
	namespaced, err := n.lookupNamespaced(d.GroupVersionKind(), known)
	if err != nil {
		return "", err
	}
	return effective(d, namespaced, n.fallbackNamespace), nil
}

func (n *namespaceViaDiscovery) lookupNamespaced(gvk schema.GroupVersionKind, known ResourceScopes) (bool, error) {
	namespaced, clusterErr := n.lookupNamespacedInCluster(gvk)
	if clusterErr == nil {
		return namespaced, nil
	}
	scope, found := known[gvk]
	if !found {
		return false, clusterErr
	}
	return scope == apiextensionsv1.NamespaceScoped, nil
}

func (n *namespaceViaDiscovery) lookupNamespacedInCluster(gvk schema.GroupVersionKind) (bool, error) {
	groupVersion := gvk.GroupVersion().String()
	resourceList, err := n.disco.ServerResourcesForGroupVersion(groupVersion)
	if err != nil {
		return false, fmt.Errorf("error looking up API resources for %s.%s: %w", gvk.Kind, groupVersion, err)
	}
	for _, resource := range resourceList.APIResources {
		if resource.Kind == gvk.Kind {
			return resource.Namespaced, nil
		}
	}
	return false, fmt.Errorf("resource not found for API %s, kind %s", groupVersion, gvk.Kind)
}

// clusterScopedKinds are the built-in kinds served without a namespace.
var clusterScopedKinds = func() map[schema.GroupKind]bool {
	set := make(map[schema.GroupKind]bool)
	for _, gk := range []schema.GroupKind{
		{Kind: "Namespace"},
		{Kind: "Node"},
		{Kind: "PersistentVolume"},
		{Group: "rbac.authorization.k8s.io", Kind: "ClusterRole"},
		{Group: "rbac.authorization.k8s.io", Kind: "ClusterRoleBinding"},
		{Group: "storage.k8s.io", Kind: "StorageClass"},
		{Group: "storage.k8s.io", Kind: "CSIDriver"},
		{Group: "storage.k8s.io", Kind: "VolumeAttachment"},
		{Group: "scheduling.k8s.io", Kind: "PriorityClass"},
		{Group: "apiextensions.k8s.io", Kind: "CustomResourceDefinition"},
		{Group: "apiregistration.k8s.io", Kind: "APIService"},
		{Group: "admissionregistration.k8s.io", Kind: "MutatingWebhookConfiguration"},
		{Group: "admissionregistration.k8s.io", Kind: "ValidatingWebhookConfiguration"},
		{Group: "networking.k8s.io", Kind: "IngressClass"},
		{Group: "node.k8s.io", Kind: "RuntimeClass"},
		{Group: "certificates.k8s.io", Kind: "CertificateSigningRequest"},
	} {
		set[gk] = true
	}
	return set
}()

// StaticNamespacer resolves scope from a built-in table of cluster-scoped
// kinds, for use without a cluster. Kinds it does not know are namespaced
// unless a CRD in the set says otherwise.
type StaticNamespacer struct {
	Fallback string
}

func (s StaticNamespacer) EffectiveNamespace(d Descriptor, known ResourceScopes) (string, error) {
	fallback := s.Fallback
	if fallback == "" {
		fallback = DefaultNamespace
	}

	gvk := d.GroupVersionKind()
	if scope, ok := known[gvk]; ok {
		return effective(d, scope == apiextensionsv1.NamespaceScoped, fallback), nil
	}
	return effective(d, !clusterScopedKinds[gvk.GroupKind()], fallback), nil
}

func effective(d Descriptor, namespaced bool, fallback string) string {
	switch {
	case !namespaced:
		return ""
	case d.Namespace() == "":
		return fallback
	}
	return d.Namespace()
}
