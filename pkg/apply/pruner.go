package apply

import (
	"context"
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/inventory"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/metrics"
	"github.com/chazu/kapply/pkg/order"
)

// DeletionPolicy defines how orphaned resources should be handled
type DeletionPolicy string

const (
	// DeletionPolicyDelete deletes orphaned resources
	DeletionPolicyDelete DeletionPolicy = "Delete"

	// DeletionPolicyOrphan removes resources from the inventory without deleting them
	DeletionPolicyOrphan DeletionPolicy = "Orphan"

	// PruneAnnotation set to PruneDisabled protects a resource from pruning
	PruneAnnotation = "kapply.io/prune"

	// PruneDisabled is the PruneAnnotation value that protects a resource
	PruneDisabled = "disabled"
)

// PruneOptions configures pruning behavior
type PruneOptions struct {
	// DeletionPolicy determines how to handle orphaned resources
	DeletionPolicy DeletionPolicy

	// DryRun selects whether deletions reach the API server
	DryRun DryRunMode

	// PropagationPolicy for deletion (Orphan, Background, Foreground)
	PropagationPolicy *metav1.DeletionPropagation

	// Inventory, when set, restricts pruning to objects whose
	// InventoryAnnotation names it (or that carry none)
	Inventory string
}

// DefaultPruneOptions returns default pruning options
func DefaultPruneOptions() PruneOptions {
	background := metav1.DeletePropagationBackground
	return PruneOptions{
		DeletionPolicy:    DeletionPolicyDelete,
		DryRun:            DryRunNone,
		PropagationPolicy: &background,
	}
}

// PruneResult contains the result of a prune operation
type PruneResult struct {
	// Pruned contains resources that were deleted
	Pruned []PrunedResource

	// Protected contains resources that were kept despite being orphaned
	Protected []PrunedResource

	// Orphaned contains resources that were removed from the inventory only
	Orphaned []PrunedResource

	// Errors contains any errors that occurred during pruning
	Errors []PruneError
}

// PrunedResource describes a resource considered for pruning
type PrunedResource struct {
	ID        string
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
}

// PruneError describes an error that occurred during pruning
type PruneError struct {
	Resource PrunedResource
	Error    error
}

// Pruner handles deletion of orphaned resources
type Pruner struct {
	client client.Client
}

// NewPruner creates a new pruner
func NewPruner(c client.Client) *Pruner {
	return &Pruner{
		client: c,
	}
}

// Prune removes resources recorded in tracker that are not in current.
// Dependents go first: items are visited in reverse kind rank. Only Applied
// and Adopted items are deleted; an item that never applied is forgotten,
// the live object is not kapply's.
func (p *Pruner) Prune(ctx context.Context, tracker *inventory.Tracker, current map[string]bool, opts PruneOptions) (*PruneResult, error) {
	logger := log.FromContext(ctx)
	result := &PruneResult{}

	orphaned := tracker.FindOrphaned(current)
	if len(orphaned) == 0 {
		logger.V(1).Info("No orphaned resources to prune")
		return result, nil
	}

	sort.SliceStable(orphaned, func(i, j int) bool {
		ri := order.RankOf(manifest.Kind(orphaned[i].GVK.Kind))
		rj := order.RankOf(manifest.Kind(orphaned[j].GVK.Kind))
		if ri != rj {
			return ri > rj
		}
		return orphaned[i].ID < orphaned[j].ID
	})

	logger.Info("Found orphaned resources", "count", len(orphaned))

	for _, item := range orphaned {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res := PrunedResource{
			ID:        item.ID,
			GVK:       item.GVK,
			Namespace: item.Namespace,
			Name:      item.Name,
		}
		gvk := item.GVK.String()

		if tracked, _ := tracker.Get(item.ID); tracked.Status == inventory.ItemStatusFailed {
			logger.V(1).Info("Forgetting resource that was never applied", "id", item.ID)
			if opts.DryRun == DryRunNone {
				tracker.Remove(item.ID)
			}
			continue
		}

		obj := &unstructured.Unstructured{}
		obj.SetGroupVersionKind(item.GVK)

		err := p.client.Get(ctx, client.ObjectKey{Namespace: item.Namespace, Name: item.Name}, obj)
		if errors.IsNotFound(err) {
			logger.V(1).Info("Resource already deleted", "id", item.ID)
			tracker.Remove(item.ID)
			continue
		}
		if err != nil {
			metrics.RecordPrune("failure", gvk)
			result.Errors = append(result.Errors, PruneError{
				Resource: res,
				Error:    fmt.Errorf("failed to get resource: %w", err),
			})
			continue
		}

		if reason := p.protection(obj, opts); reason != "" {
			logger.Info("Resource is protected from pruning", "id", item.ID, "reason", reason)
			metrics.RecordPrune("protected", gvk)
			result.Protected = append(result.Protected, res)
			continue
		}

		switch opts.DeletionPolicy {
		case DeletionPolicyOrphan:
			logger.Info("Orphaning resource", "id", item.ID, "gvk", gvk)
			metrics.RecordPrune("orphaned", gvk)
			if opts.DryRun == DryRunNone {
				tracker.Remove(item.ID)
			}
			result.Orphaned = append(result.Orphaned, res)

		default:
			if err := p.deleteResource(ctx, obj, opts); err != nil {
				metrics.RecordPrune("failure", gvk)
				result.Errors = append(result.Errors, PruneError{Resource: res, Error: err})
				continue
			}
			logger.Info("Pruned resource", "id", item.ID, "gvk", gvk, "dryRun", opts.DryRun)
			metrics.RecordPrune("pruned", gvk)
			if opts.DryRun == DryRunNone {
				tracker.RecordPruned(item.ID)
			}
			result.Pruned = append(result.Pruned, res)
		}
	}

	return result, nil
}

// protection returns why obj must not be pruned, or "" if it may be
func (p *Pruner) protection(obj *unstructured.Unstructured, opts PruneOptions) string {
	annotations := obj.GetAnnotations()
	if annotations[PruneAnnotation] == PruneDisabled {
		return PruneAnnotation + "=" + PruneDisabled
	}
	if owner, ok := annotations[InventoryAnnotation]; ok && opts.Inventory != "" && owner != opts.Inventory {
		return "owned by inventory " + owner
	}
	return ""
}

// deleteResource deletes a resource from the cluster
func (p *Pruner) deleteResource(ctx context.Context, obj *unstructured.Unstructured, opts PruneOptions) error {
	if opts.DryRun == DryRunClient {
		return nil
	}
	return deleteObject(ctx, p.client, obj, opts.PropagationPolicy, opts.DryRun == DryRunServer)
}

func deleteObject(ctx context.Context, c client.Client, obj *unstructured.Unstructured, propagation *metav1.DeletionPropagation, dryRun bool) error {
	deleteOpts := []client.DeleteOption{}
	if propagation != nil {
		deleteOpts = append(deleteOpts, client.PropagationPolicy(*propagation))
	}
	if dryRun {
		deleteOpts = append(deleteOpts, client.DryRunAll)
	}

	if err := c.Delete(ctx, obj, deleteOpts...); err != nil {
		if errors.IsNotFound(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

// CleanupOrphaned removes all orphaned and pruned items from the tracker
// without deleting them from the cluster
func (p *Pruner) CleanupOrphaned(tracker *inventory.Tracker) int {
	items := tracker.GetAll()
	removed := 0

	for _, item := range items {
		if item.Status == inventory.ItemStatusOrphaned || item.Status == inventory.ItemStatusPruned {
			tracker.Remove(item.ID)
			removed++
		}
	}

	return removed
}
