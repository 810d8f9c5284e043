package cli

import (
	"fmt"
	"os"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/source"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(apiextensionsv1.AddToScheme(scheme))
}

// cluster is a connection built from the kubeconfig
type cluster struct {
	client    client.Client
	discovery discovery.DiscoveryInterface
	namespace string
}

func (opts *rootOpts) clientConfig() clientcmd.ClientConfig {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: opts.Context}
	if opts.Namespace != "" {
		overrides.Context.Namespace = opts.Namespace
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
}

func (opts *rootOpts) connect() (*cluster, error) {
	cc := opts.clientConfig()

	cfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	cfg.UserAgent = "kapply/" + versionString()

	ns, _, err := cc.Namespace()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve namespace: %w", err)
	}

	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	dc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	return &cluster{
		client:    c,
		discovery: memory.NewMemCacheClient(dc),
		namespace: ns,
	}, nil
}

// offlineNamespace is the fallback namespace when no cluster is used
func (opts *rootOpts) offlineNamespace() string {
	if opts.Namespace != "" {
		return opts.Namespace
	}
	return manifest.DefaultNamespace
}

// sourceFlags are shared by every command that reads manifests
type sourceFlags struct {
	Files     []string
	Recursive bool
	CacheDir  string
}

func (f *sourceFlags) registry(c client.Client, namespace string) *source.Registry {
	return source.NewRegistry(source.Options{
		Client:    c,
		Namespace: namespace,
		CacheDir:  f.CacheDir,
		Recursive: f.Recursive,
		GitAuth:   source.GitAuthFromEnv(os.Getenv),
	})
}

func (f *sourceFlags) validate() error {
	if len(f.Files) == 0 {
		return newUsageError("-f, --filename is required")
	}
	return nil
}
