package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/chazu/kapply/pkg/apply"
	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/inventory"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/order"
	"github.com/chazu/kapply/pkg/source"
)

const (
	namespaceDoc = `apiVersion: v1
kind: Namespace
metadata:
  name: shop
`
	settingsDoc = `apiVersion: v1
kind: ConfigMap
metadata:
  name: settings
  namespace: shop
data:
  mode: live
`
	accountDoc = `apiVersion: v1
kind: ServiceAccount
metadata:
  name: worker
  namespace: shop
`
)

var _ = Describe("Pipeline", func() {
	var (
		ctx context.Context
		c   client.Client
		p   *Pipeline
		dir string
	)

	writeManifest := func(name string, docs ...string) string {
		path := filepath.Join(dir, name)
		var data []byte
		for i, doc := range docs {
			if i > 0 {
				data = append(data, []byte("---\n")...)
			}
			data = append(data, []byte(doc)...)
		}
		Expect(os.WriteFile(path, data, 0o644)).To(Succeed())
		return path
	}

	options := func(sources ...string) Options {
		opts := DefaultOptions()
		opts.Sources = sources
		opts.Executor.RetryBackoffBase = 0
		opts.Executor.MaxRetries = 0
		return opts
	}

	configMapExists := func(name string) bool {
		err := c.Get(ctx, types.NamespacedName{Namespace: "shop", Name: name}, &corev1.ConfigMap{})
		if apierrors.IsNotFound(err) {
			return false
		}
		Expect(err).NotTo(HaveOccurred())
		return true
	}

	BeforeEach(func() {
		ctx = context.Background()
		c = fake.NewClientBuilder().Build()
		dir = GinkgoT().TempDir()
		p = New(c, source.NewRegistry(source.Options{CacheDir: GinkgoT().TempDir()}), manifest.StaticNamespacer{Fallback: "default"})
	})

	Context("Run", func() {
		It("applies every resource in kind order", func() {
			path := writeManifest("app.yaml", accountDoc, settingsDoc, namespaceDoc)

			r, err := p.Run(ctx, options(path))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Failed()).To(BeFalse())
			Expect(r.Summary.Total).To(Equal(3))
			Expect(r.Summary.Created).To(Equal(3))
			Expect(r.GraphHash).NotTo(BeEmpty())
			Expect(r.Entries[0].Kind).To(Equal("Namespace"))

			Expect(configMapExists("settings")).To(BeTrue())
			Expect(c.Get(ctx, types.NamespacedName{Name: "shop"}, &corev1.Namespace{})).To(Succeed())
		})

		It("writes nothing in a client dry run", func() {
			path := writeManifest("app.yaml", namespaceDoc, settingsDoc)

			opts := options(path)
			opts.DryRun = apply.DryRunClient
			r, err := p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.DryRun).To(Equal("client"))
			Expect(r.Summary.Created).To(Equal(2))
			Expect(configMapExists("settings")).To(BeFalse())
		})

		It("fails on a malformed manifest before applying anything", func() {
			path := writeManifest("bad.yaml", "apiVersion: v1\nkind: ConfigMap\nmetadata: [\n")

			r, err := p.Run(ctx, options(path))
			Expect(err).To(HaveOccurred())
			Expect(r).To(BeNil())
		})

		It("reports explicit dependency cycles", func() {
			path := writeManifest("cycle.yaml", `apiVersion: v1
kind: ConfigMap
metadata:
  name: a
  namespace: shop
  annotations:
    kapply.io/depends-on: ConfigMap/b
`, `apiVersion: v1
kind: ConfigMap
metadata:
  name: b
  namespace: shop
  annotations:
    kapply.io/depends-on: ConfigMap/a
`)

			_, err := p.Run(ctx, options(path))
			var cycle *order.CycleError
			Expect(errors.As(err, &cycle)).To(BeTrue())
			Expect(configMapExists("a")).To(BeFalse())
		})

		It("rejects prune without an inventory", func() {
			opts := options(writeManifest("app.yaml", namespaceDoc))
			opts.Prune = true
			_, err := p.Run(ctx, opts)
			Expect(err).To(MatchError(ContainSubstring("requires an inventory")))
		})
	})

	Context("with an inventory", func() {
		It("records applied resources and prunes removed ones", func() {
			first := writeManifest("first.yaml", namespaceDoc, settingsDoc, accountDoc)

			opts := options(first)
			opts.Inventory = "shop"
			opts.InventoryNamespace = "default"
			opts.Prune = true

			r, err := p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Pruned).To(BeEmpty())

			tracker, hash, err := inventory.NewStore(c, "default", "shop").Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tracker.Size()).To(Equal(3))
			Expect(hash).To(Equal(r.GraphHash))

			settings := &corev1.ConfigMap{}
			Expect(c.Get(ctx, types.NamespacedName{Namespace: "shop", Name: "settings"}, settings)).To(Succeed())
			Expect(settings.Annotations).To(HaveKeyWithValue(apply.InventoryAnnotation, "shop"))

			opts.Sources = []string{writeManifest("second.yaml", namespaceDoc, accountDoc)}
			r, err = p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Failed()).To(BeFalse())
			Expect(r.Pruned).To(HaveLen(1))
			Expect(r.Pruned[0].Name).To(Equal("settings"))
			Expect(r.Pruned[0].Outcome).To(Equal(graph.OutcomePruned))
			Expect(r.Summary.Pruned).To(Equal(1))
			Expect(configMapExists("settings")).To(BeFalse())

			tracker, _, err = inventory.NewStore(c, "default", "shop").Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tracker.Size()).To(Equal(2))
		})

		It("keeps resources protected from pruning", func() {
			protected := `apiVersion: v1
kind: ConfigMap
metadata:
  name: keep
  namespace: shop
  annotations:
    kapply.io/prune: disabled
`
			opts := options(writeManifest("first.yaml", namespaceDoc, protected))
			opts.Inventory = "shop"
			opts.Prune = true
			_, err := p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())

			opts.Sources = []string{writeManifest("second.yaml", namespaceDoc)}
			r, err := p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Pruned).To(HaveLen(1))
			Expect(r.Pruned[0].Outcome).To(BeEquivalentTo("protected"))
			Expect(configMapExists("keep")).To(BeTrue())
		})

		It("does not touch the inventory in a dry run", func() {
			opts := options(writeManifest("app.yaml", namespaceDoc))
			opts.Inventory = "shop"
			opts.DryRun = apply.DryRunServer
			_, err := p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())

			err = c.Get(ctx, types.NamespacedName{Namespace: "default", Name: "shop"}, &corev1.ConfigMap{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("Plan", func() {
		It("orders resources without a cluster", func() {
			offline := New(nil, source.NewRegistry(source.Options{}), manifest.StaticNamespacer{Fallback: "default"})
			path := writeManifest("app.yaml", settingsDoc, namespaceDoc)

			g, dag, err := offline.Plan(ctx, options(path))
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes).To(HaveLen(2))
			Expect(dag.Size()).To(Equal(2))

			waves := order.Waves(dag)
			Expect(waves).To(HaveLen(2))
			node, ok := dag.GetNode(waves[0][0])
			Expect(ok).To(BeTrue())
			Expect(node.Object.GetKind()).To(Equal("Namespace"))
		})

		It("defaults the namespace of namespaced objects", func() {
			path := writeManifest("app.yaml", "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: loose\n")

			g, _, err := p.Plan(ctx, options(path))
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Nodes[0].Object.GetNamespace()).To(Equal("default"))
		})
	})

	Context("Delete", func() {
		It("deletes applied resources and reports missing ones as absent", func() {
			path := writeManifest("app.yaml", namespaceDoc, settingsDoc)
			_, err := p.Run(ctx, options(writeManifest("ns.yaml", namespaceDoc)))
			Expect(err).NotTo(HaveOccurred())

			r, err := p.Delete(ctx, options(path))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Entries).To(HaveLen(2))
			Expect(r.Entries[0].Kind).To(Equal("ConfigMap"))
			Expect(r.Entries[0].Outcome).To(Equal(graph.OutcomeAbsent))
			Expect(r.Entries[1].Outcome).To(Equal(graph.OutcomeDeleted))
			Expect(r.Summary.Deleted).To(Equal(1))
			Expect(r.Summary.Absent).To(Equal(1))

			err = c.Get(ctx, types.NamespacedName{Name: "shop"}, &corev1.Namespace{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("removes deleted resources from the inventory", func() {
			path := writeManifest("app.yaml", namespaceDoc, settingsDoc)
			opts := options(path)
			opts.Inventory = "shop"
			_, err := p.Run(ctx, opts)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Delete(ctx, opts)
			Expect(err).NotTo(HaveOccurred())

			tracker, _, err := inventory.NewStore(c, "default", "shop").Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tracker.Size()).To(BeZero())
		})
	})
})
