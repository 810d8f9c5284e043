package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/chazu/kapply/pkg/manifest"
)

// ConfigMapFetcher reads manifests stored in the data keys of a ConfigMap
type ConfigMapFetcher struct {
	client    client.Client
	namespace string
}

// NewConfigMapFetcher creates a ConfigMap fetcher. namespace is used for
// references that do not name one.
func NewConfigMapFetcher(c client.Client, namespace string) *ConfigMapFetcher {
	return &ConfigMapFetcher{
		client:    c,
		namespace: namespace,
	}
}

// Type returns the fetcher type
func (f *ConfigMapFetcher) Type() string {
	return "configmap"
}

// Fetch retrieves the manifests in a ConfigMap.
// ref format: name or namespace/name
func (f *ConfigMapFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	if f.client == nil {
		return nil, fmt.Errorf("configmap sources need a cluster connection")
	}

	namespace, name, err := parseConfigMapRef(ref, f.namespace)
	if err != nil {
		return nil, fmt.Errorf("invalid ConfigMap reference: %w", err)
	}

	cm := &corev1.ConfigMap{}
	if err := f.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, cm); err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap %s/%s: %w", namespace, name, err)
	}

	source := fmt.Sprintf("configmap://%s/%s", namespace, name)
	files, err := filesFromConfigMap(cm, source)
	if err != nil {
		return nil, fmt.Errorf("ConfigMap %s/%s: %w", namespace, name, err)
	}

	return &FetchResult{
		Files:  files,
		Digest: contentDigest(files),
		Source: source,
	}, nil
}

// parseConfigMapRef parses name or namespace/name
func parseConfigMapRef(ref, defaultNamespace string) (namespace, name string, err error) {
	parts := strings.Split(strings.Trim(ref, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		namespace, name = defaultNamespace, parts[0]
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		namespace, name = parts[0], parts[1]
	default:
		return "", "", fmt.Errorf("want name or namespace/name, got %q", ref)
	}
	if namespace == "" {
		namespace = manifest.DefaultNamespace
	}
	return namespace, name, nil
}

// filesFromConfigMap returns one file per data key with a manifest
// extension. A ConfigMap without such keys contributes all of its keys.
func filesFromConfigMap(cm *corev1.ConfigMap, source string) ([]manifest.File, error) {
	if len(cm.Data) == 0 {
		return nil, fmt.Errorf("ConfigMap has no data")
	}

	var keys []string
	for key := range cm.Data {
		if manifest.IsManifestFile(key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		for key := range cm.Data {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	files := make([]manifest.File, 0, len(keys))
	for _, key := range keys {
		files = append(files, manifest.File{
			Path: source + "/" + key,
			Data: []byte(cm.Data[key]),
		})
	}
	return files, nil
}
