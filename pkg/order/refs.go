package order

import (
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/chazu/kapply/pkg/manifest"
)

// podSpecPaths locates the pod spec inside each workload kind.
var podSpecPaths = map[manifest.Kind][]string{
	manifest.KindPod:                   {"spec"},
	manifest.KindDeployment:            {"spec", "template", "spec"},
	manifest.KindReplicaSet:            {"spec", "template", "spec"},
	manifest.KindReplicationController: {"spec", "template", "spec"},
	manifest.KindStatefulSet:           {"spec", "template", "spec"},
	manifest.KindDaemonSet:             {"spec", "template", "spec"},
	manifest.KindJob:                   {"spec", "template", "spec"},
	manifest.KindCronJob:               {"spec", "jobTemplate", "spec", "template", "spec"},
}

// References returns the objects d names by reference. Objects are not
// checked for existence, and a spec that does not convert to its typed form
// contributes no references; the API server reports those errors on apply.
func References(d manifest.Descriptor) []manifest.ObjectRef {
	ns := d.Namespace()
	var refs []manifest.ObjectRef

	if path, ok := podSpecPaths[d.Kind()]; ok {
		var spec corev1.PodSpec
		if convertNested(d.Object, &spec, path...) {
			refs = append(refs, podSpecRefs(ns, &spec)...)
		}
	}

	switch d.Kind() {
	case manifest.KindStatefulSet:
		if name, _, _ := unstructured.NestedString(d.Object.Object, "spec", "serviceName"); name != "" {
			refs = append(refs, namespaced(manifest.KindService, ns, name))
		}
		templates, _, _ := unstructured.NestedFieldNoCopy(d.Object.Object, "spec", "volumeClaimTemplates")
		list, _ := templates.([]interface{})
		for _, t := range list {
			m, ok := t.(map[string]interface{})
			if !ok {
				continue
			}
			if sc, _, _ := unstructured.NestedString(m, "spec", "storageClassName"); sc != "" {
				refs = append(refs, storageClass(sc))
			}
		}

	case manifest.KindPersistentVolumeClaim:
		var spec corev1.PersistentVolumeClaimSpec
		if convertNested(d.Object, &spec, "spec") {
			if spec.VolumeName != "" {
				refs = append(refs, cluster("", manifest.KindPersistentVolume, spec.VolumeName))
			}
			if spec.StorageClassName != nil && *spec.StorageClassName != "" {
				refs = append(refs, storageClass(*spec.StorageClassName))
			}
		}

	case manifest.KindPersistentVolume:
		if sc, _, _ := unstructured.NestedString(d.Object.Object, "spec", "storageClassName"); sc != "" {
			refs = append(refs, storageClass(sc))
		}

	case manifest.KindIngress:
		var spec networkingv1.IngressSpec
		if convertNested(d.Object, &spec, "spec") {
			refs = append(refs, ingressRefs(ns, &spec)...)
		}

	case manifest.KindRoleBinding, manifest.KindClusterRoleBinding:
		var binding rbacv1.RoleBinding
		if runtime.DefaultUnstructuredConverter.FromUnstructured(d.Object.Object, &binding) == nil {
			refs = append(refs, bindingRefs(ns, binding.Subjects, binding.RoleRef)...)
		}
	}

	return refs
}

func podSpecRefs(ns string, spec *corev1.PodSpec) []manifest.ObjectRef {
	var refs []manifest.ObjectRef
	configMap := func(name string) {
		if name != "" {
			refs = append(refs, namespaced(manifest.KindConfigMap, ns, name))
		}
	}
	secret := func(name string) {
		if name != "" {
			refs = append(refs, namespaced(manifest.KindSecret, ns, name))
		}
	}

	for _, v := range spec.Volumes {
		switch {
		case v.ConfigMap != nil:
			configMap(v.ConfigMap.Name)
		case v.Secret != nil:
			secret(v.Secret.SecretName)
		case v.PersistentVolumeClaim != nil:
			refs = append(refs, namespaced(manifest.KindPersistentVolumeClaim, ns, v.PersistentVolumeClaim.ClaimName))
		case v.Projected != nil:
			for _, src := range v.Projected.Sources {
				if src.ConfigMap != nil {
					configMap(src.ConfigMap.Name)
				}
				if src.Secret != nil {
					secret(src.Secret.Name)
				}
			}
		}
	}

	containers := append(append([]corev1.Container{}, spec.InitContainers...), spec.Containers...)
	for _, c := range containers {
		for _, from := range c.EnvFrom {
			if from.ConfigMapRef != nil {
				configMap(from.ConfigMapRef.Name)
			}
			if from.SecretRef != nil {
				secret(from.SecretRef.Name)
			}
		}
		for _, env := range c.Env {
			if env.ValueFrom == nil {
				continue
			}
			if env.ValueFrom.ConfigMapKeyRef != nil {
				configMap(env.ValueFrom.ConfigMapKeyRef.Name)
			}
			if env.ValueFrom.SecretKeyRef != nil {
				secret(env.ValueFrom.SecretKeyRef.Name)
			}
		}
	}

	for _, ips := range spec.ImagePullSecrets {
		secret(ips.Name)
	}

	sa := spec.ServiceAccountName
	if sa == "" {
		sa = spec.DeprecatedServiceAccount
	}
	if sa != "" {
		refs = append(refs, namespaced(manifest.KindServiceAccount, ns, sa))
	}

	if spec.PriorityClassName != "" {
		refs = append(refs, cluster("scheduling.k8s.io", manifest.KindPriorityClass, spec.PriorityClassName))
	}

	return refs
}

func ingressRefs(ns string, spec *networkingv1.IngressSpec) []manifest.ObjectRef {
	var refs []manifest.ObjectRef
	backend := func(b *networkingv1.IngressBackend) {
		if b != nil && b.Service != nil && b.Service.Name != "" {
			refs = append(refs, namespaced(manifest.KindService, ns, b.Service.Name))
		}
	}

	backend(spec.DefaultBackend)
	for _, rule := range spec.Rules {
		if rule.HTTP == nil {
			continue
		}
		for i := range rule.HTTP.Paths {
			backend(&rule.HTTP.Paths[i].Backend)
		}
	}
	for _, tls := range spec.TLS {
		if tls.SecretName != "" {
			refs = append(refs, namespaced(manifest.KindSecret, ns, tls.SecretName))
		}
	}
	return refs
}

func bindingRefs(ns string, subjects []rbacv1.Subject, roleRef rbacv1.RoleRef) []manifest.ObjectRef {
	var refs []manifest.ObjectRef
	for _, s := range subjects {
		if s.Kind != rbacv1.ServiceAccountKind {
			continue
		}
		subjectNS := s.Namespace
		if subjectNS == "" {
			subjectNS = ns
		}
		refs = append(refs, namespaced(manifest.KindServiceAccount, subjectNS, s.Name))
	}

	switch manifest.Kind(roleRef.Kind) {
	case manifest.KindRole:
		refs = append(refs, manifest.ObjectRef{Group: rbacv1.GroupName, Kind: manifest.KindRole, Namespace: ns, Name: roleRef.Name})
	case manifest.KindClusterRole:
		refs = append(refs, cluster(rbacv1.GroupName, manifest.KindClusterRole, roleRef.Name))
	}
	return refs
}

func convertNested(obj *unstructured.Unstructured, into interface{}, path ...string) bool {
	v, found, err := unstructured.NestedFieldNoCopy(obj.Object, path...)
	if err != nil || !found {
		return false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	return runtime.DefaultUnstructuredConverter.FromUnstructured(m, into) == nil
}

func namespaced(kind manifest.Kind, ns, name string) manifest.ObjectRef {
	return manifest.ObjectRef{Kind: kind, Namespace: ns, Name: name}
}

func cluster(group string, kind manifest.Kind, name string) manifest.ObjectRef {
	return manifest.ObjectRef{Group: group, Kind: kind, Name: name}
}

func storageClass(name string) manifest.ObjectRef {
	return cluster("storage.k8s.io", manifest.KindStorageClass, name)
}
