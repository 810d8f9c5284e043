package apply

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/kapply/pkg/graph"
	"github.com/chazu/kapply/pkg/inventory"
	"github.com/chazu/kapply/pkg/manifest"
	"github.com/chazu/kapply/pkg/metrics"
)

// InventoryAnnotation names the inventory an applied object belongs to.
const InventoryAnnotation = "kapply.io/inventory"

// DryRunMode selects how much of an apply reaches the API server
type DryRunMode string

const (
	// DryRunNone performs real writes
	DryRunNone DryRunMode = "none"

	// DryRunClient performs no writes; outcomes come from a Get
	DryRunClient DryRunMode = "client"

	// DryRunServer submits every request with dryRun=All
	DryRunServer DryRunMode = "server"
)

// ParseDryRunMode parses the --dry-run flag value. An empty value is none.
func ParseDryRunMode(s string) (DryRunMode, error) {
	switch DryRunMode(s) {
	case "", DryRunNone:
		return DryRunNone, nil
	case DryRunClient, DryRunServer:
		return DryRunMode(s), nil
	default:
		return "", fmt.Errorf("invalid dry-run mode %q (want none, client or server)", s)
	}
}

// Applier applies Kubernetes resources with various strategies
type Applier struct {
	client    client.Client
	dryRun    DryRunMode
	inventory string
	tracker   *inventory.Tracker
}

// NewApplier creates a new resource applier
func NewApplier(c client.Client) *Applier {
	return &Applier{
		client: c,
		dryRun: DryRunNone,
	}
}

// WithDryRun returns a copy of the applier using the given dry-run mode
func (a *Applier) WithDryRun(mode DryRunMode) *Applier {
	cp := *a
	cp.dryRun = mode
	return &cp
}

// WithInventory returns a copy of the applier that stamps every object with
// InventoryAnnotation set to name.
func (a *Applier) WithInventory(name string) *Applier {
	cp := *a
	cp.inventory = name
	return &cp
}

// WithTracker returns a copy of the applier that consults tracker. A client
// dry run then reports unchanged for objects matching their last apply.
func (a *Applier) WithTracker(tracker *inventory.Tracker) *Applier {
	cp := *a
	cp.tracker = tracker
	return &cp
}

// matchesInventory reports whether obj is what the tracker recorded when
// it was last applied
func (a *Applier) matchesInventory(obj *unstructured.Unstructured) bool {
	if a.tracker == nil {
		return false
	}
	id := manifest.ObjectRef{
		Kind:      manifest.Kind(obj.GetKind()),
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}.ID()
	item, ok := a.tracker.Get(id)
	if !ok || (item.Status != inventory.ItemStatusApplied && item.Status != inventory.ItemStatusAdopted) {
		return false
	}
	return !a.tracker.HasDrift(id, obj)
}

// gvkString returns a string representation of an object's GVK
func gvkString(obj *unstructured.Unstructured) string {
	gvk := obj.GroupVersionKind()
	if gvk.Group == "" {
		return fmt.Sprintf("%s/%s", gvk.Version, gvk.Kind)
	}
	return fmt.Sprintf("%s/%s/%s", gvk.Group, gvk.Version, gvk.Kind)
}

// Apply applies a resource according to its ApplyPolicy and reports what
// happened to it. obj itself is never modified.
func (a *Applier) Apply(ctx context.Context, obj *unstructured.Unstructured, policy graph.ApplyPolicy) (graph.Outcome, error) {
	if obj == nil {
		return "", fmt.Errorf("object cannot be nil")
	}

	if err := policy.Validate(); err != nil {
		return "", fmt.Errorf("invalid apply policy: %w", err)
	}

	gvk := gvkString(obj)
	logger := log.FromContext(ctx).WithValues(
		"gvk", gvk,
		"namespace", obj.GetNamespace(),
		"name", obj.GetName(),
		"mode", string(policy.Mode),
	)

	startTime := time.Now()
	desired := a.prepare(obj)

	existing, err := a.get(ctx, desired)
	var outcome graph.Outcome
	switch {
	case err != nil:
	case existing != nil && a.dryRun == DryRunClient && a.matchesInventory(obj):
		outcome = graph.OutcomeUnchanged
	default:
		switch policy.Mode {
		case graph.ApplyModeApply:
			outcome, err = a.applySSA(ctx, desired, existing, policy, policy.ConflictPolicy == graph.ConflictPolicyForce, logger)
		case graph.ApplyModeCreate:
			outcome, err = a.applyCreate(ctx, desired, existing, logger)
		case graph.ApplyModeAdopt:
			outcome, err = a.applyAdopt(ctx, desired, existing, policy, logger)
		default:
			err = fmt.Errorf("unknown apply mode: %s", policy.Mode)
		}
	}

	duration := time.Since(startTime).Seconds()
	if err != nil {
		metrics.RecordApply("failure", string(policy.Mode), gvk, duration)
		logger.Error(err, "Failed to apply resource")
		return "", err
	}

	metrics.RecordApply("success", string(policy.Mode), gvk, duration)
	metrics.IncrementManagedResources(gvk, obj.GetNamespace())
	logger.V(1).Info("Applied resource", "outcome", outcome, "duration_ms", duration*1000)
	return outcome, nil
}

// prepare returns the object that is actually submitted
func (a *Applier) prepare(obj *unstructured.Unstructured) *unstructured.Unstructured {
	desired := obj.DeepCopy()
	desired.SetResourceVersion("")
	desired.SetManagedFields(nil)
	if a.inventory != "" {
		annotations := desired.GetAnnotations()
		if annotations == nil {
			annotations = map[string]string{}
		}
		annotations[InventoryAnnotation] = a.inventory
		desired.SetAnnotations(annotations)
	}
	return desired
}

// get returns the live object, or nil if it does not exist
func (a *Applier) get(ctx context.Context, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(obj.GroupVersionKind())
	if err := a.client.Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get resource %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}
	return existing, nil
}

// applySSA applies a resource using Server-Side Apply
func (a *Applier) applySSA(ctx context.Context, obj, existing *unstructured.Unstructured, policy graph.ApplyPolicy, force bool, logger logr.Logger) (graph.Outcome, error) {
	if a.dryRun == DryRunClient {
		if existing == nil {
			return graph.OutcomeCreated, nil
		}
		return graph.OutcomeConfigured, nil
	}

	patchOpts := []client.PatchOption{
		client.FieldOwner(policy.FieldManager),
	}
	if force {
		patchOpts = append(patchOpts, client.ForceOwnership)
		logger.V(2).Info("Using force ownership for SSA")
	}
	if a.dryRun == DryRunServer {
		patchOpts = append(patchOpts, client.DryRunAll)
	}

	logger.V(2).Info("Applying resource via SSA", "fieldManager", policy.FieldManager)

	if err := a.client.Patch(ctx, obj, client.Apply, patchOpts...); err != nil {
		if errors.IsConflict(err) {
			return "", &ConflictError{
				Resource:     fmt.Sprintf("%s/%s", obj.GetNamespace(), obj.GetName()),
				FieldManager: policy.FieldManager,
				Err:          err,
			}
		}
		return "", fmt.Errorf("failed to apply resource %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}

	return a.outcome(existing, obj), nil
}

// outcome compares the live object before an apply with the server's
// response. A moved resourceVersion means a write. Without one on both
// sides, as in a dry run, the content decides.
func (a *Applier) outcome(before, after *unstructured.Unstructured) graph.Outcome {
	if before == nil {
		return graph.OutcomeCreated
	}
	rvBefore, rvAfter := before.GetResourceVersion(), after.GetResourceVersion()
	switch {
	case rvBefore != "" && rvAfter != "" && rvBefore != rvAfter:
		return graph.OutcomeConfigured
	case !equality.Semantic.DeepEqual(withoutServerFields(before), withoutServerFields(after)):
		return graph.OutcomeConfigured
	default:
		return graph.OutcomeUnchanged
	}
}

func withoutServerFields(obj *unstructured.Unstructured) map[string]interface{} {
	cp := obj.DeepCopy()
	unstructured.RemoveNestedField(cp.Object, "metadata", "managedFields")
	unstructured.RemoveNestedField(cp.Object, "metadata", "resourceVersion")
	return cp.Object
}

// applyCreate creates a resource only if it doesn't exist
func (a *Applier) applyCreate(ctx context.Context, obj, existing *unstructured.Unstructured, logger logr.Logger) (graph.Outcome, error) {
	if existing != nil {
		logger.V(1).Info("Resource already exists, skipping creation")
		return graph.OutcomeUnchanged, nil
	}
	if a.dryRun == DryRunClient {
		return graph.OutcomeCreated, nil
	}

	createOpts := []client.CreateOption{}
	if a.dryRun == DryRunServer {
		createOpts = append(createOpts, client.DryRunAll)
	}

	logger.V(2).Info("Creating resource")

	if err := a.client.Create(ctx, obj, createOpts...); err != nil {
		if errors.IsAlreadyExists(err) {
			// Lost a race with another writer; create mode leaves it alone
			return graph.OutcomeUnchanged, nil
		}
		return "", fmt.Errorf("failed to create resource %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
	}

	return graph.OutcomeCreated, nil
}

// applyAdopt takes ownership of every field of an existing resource, or
// creates it when absent
func (a *Applier) applyAdopt(ctx context.Context, obj, existing *unstructured.Unstructured, policy graph.ApplyPolicy, logger logr.Logger) (graph.Outcome, error) {
	if existing == nil {
		logger.V(1).Info("Resource not found, creating instead of adopting")
		return a.applyCreate(ctx, obj, nil, logger)
	}

	logger.V(1).Info("Adopting existing resource", "existingUID", existing.GetUID())
	return a.applySSA(ctx, obj, existing, policy, true, logger)
}

// ConflictError represents a field manager conflict
type ConflictError struct {
	Resource     string
	FieldManager string
	Err          error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("field manager conflict for %s (field manager: %s): %v", e.Resource, e.FieldManager, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
