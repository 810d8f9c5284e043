package inventory

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// InventoryItem represents a tracked resource
type InventoryItem struct {
	// ID is the node ID of the resource ("namespace:Kind/name")
	ID string `json:"id"`

	// GVK is the GroupVersionKind of the resource
	GVK schema.GroupVersionKind `json:"gvk"`

	// Namespace of the resource (empty for cluster-scoped)
	Namespace string `json:"namespace,omitempty"`

	// Name of the resource
	Name string `json:"name"`

	// Hash is the digest of the submitted manifest
	Hash string `json:"hash"`

	// Status tracks the current state of the resource
	Status ItemStatus `json:"status"`
}

// ItemStatus represents the status of an inventory item
type ItemStatus string

const (
	// ItemStatusApplied means the resource was successfully applied
	ItemStatusApplied ItemStatus = "Applied"

	// ItemStatusAdopted means an existing resource was taken over
	ItemStatusAdopted ItemStatus = "Adopted"

	// ItemStatusOrphaned means the resource is no longer in the manifest set
	ItemStatusOrphaned ItemStatus = "Orphaned"

	// ItemStatusPruned means the resource was deleted
	ItemStatusPruned ItemStatus = "Pruned"

	// ItemStatusFailed means the resource failed to apply
	ItemStatusFailed ItemStatus = "Failed"
)

// Inventory is the serialized form of a Tracker
type Inventory struct {
	Items map[string]InventoryItem `json:"items"`
}

// Tracker is a concurrency-safe inventory of applied resources
type Tracker struct {
	mu         sync.RWMutex
	items      map[string]InventoryItem
	generation int64
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{items: make(map[string]InventoryItem)}
}

// NewTrackerFromInventory creates a tracker from an existing inventory
func NewTrackerFromInventory(inv *Inventory) *Tracker {
	t := NewTracker()
	if inv != nil {
		for id, item := range inv.Items {
			t.items[id] = item
		}
	}
	return t
}

func (t *Tracker) record(id string, obj *unstructured.Unstructured, status ItemStatus) InventoryItem {
	item := InventoryItem{
		ID:        id,
		GVK:       obj.GroupVersionKind(),
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
		Hash:      ComputeHash(obj),
		Status:    status,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[id] = item
	t.generation++
	return item
}

// RecordApplied records that a resource was successfully applied
func (t *Tracker) RecordApplied(id string, obj *unstructured.Unstructured) InventoryItem {
	return t.record(id, obj, ItemStatusApplied)
}

// RecordAdopted records that a resource was adopted
func (t *Tracker) RecordAdopted(id string, obj *unstructured.Unstructured) InventoryItem {
	return t.record(id, obj, ItemStatusAdopted)
}

// RecordFailed records that a resource failed to apply. An item that was
// applied by an earlier run keeps its entry so it stays prunable.
func (t *Tracker) RecordFailed(id string, obj *unstructured.Unstructured) InventoryItem {
	t.mu.RLock()
	prev, ok := t.items[id]
	t.mu.RUnlock()
	if ok && (prev.Status == ItemStatusApplied || prev.Status == ItemStatusAdopted) {
		return prev
	}
	return t.record(id, obj, ItemStatusFailed)
}

// RecordPruned records that a resource was pruned
func (t *Tracker) RecordPruned(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if item, ok := t.items[id]; ok {
		item.Status = ItemStatusPruned
		t.items[id] = item
		t.generation++
	}
}

// Remove removes an item from the inventory
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.items, id)
	t.generation++
}

// Get returns an inventory item by ID
func (t *Tracker) Get(id string) (InventoryItem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	item, ok := t.items[id]
	return item, ok
}

// GetAll returns every item sorted by ID
func (t *Tracker) GetAll() []InventoryItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make([]InventoryItem, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// GetInventory returns a copy of the inventory
func (t *Tracker) GetInventory() *Inventory {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make(map[string]InventoryItem, len(t.items))
	for k, v := range t.items {
		items[k] = v
	}
	return &Inventory{Items: items}
}

// FindOrphaned returns the items, sorted by ID, whose IDs are not in
// current. Pruned items are never reported again.
func (t *Tracker) FindOrphaned(current map[string]bool) []InventoryItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var orphaned []InventoryItem
	for id, item := range t.items {
		if item.Status == ItemStatusPruned || current[id] {
			continue
		}
		item.Status = ItemStatusOrphaned
		orphaned = append(orphaned, item)
	}

	sort.Slice(orphaned, func(i, j int) bool { return orphaned[i].ID < orphaned[j].ID })
	return orphaned
}

// HasDrift reports whether obj differs from what was last recorded for id
func (t *Tracker) HasDrift(id string, obj *unstructured.Unstructured) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	item, ok := t.items[id]
	return ok && item.Hash != ComputeHash(obj)
}

// Size returns the number of items in the inventory
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Generation increases with every change to the tracker
func (t *Tracker) Generation() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// ComputeHash returns the sha256 digest of obj without server-populated
// metadata and status.
func ComputeHash(obj *unstructured.Unstructured) string {
	if obj == nil {
		return ""
	}

	cp := obj.DeepCopy()
	for _, field := range []string{"resourceVersion", "generation", "uid", "creationTimestamp", "managedFields"} {
		unstructured.RemoveNestedField(cp.Object, "metadata", field)
	}
	unstructured.RemoveNestedField(cp.Object, "status")

	data, err := json.Marshal(cp.Object)
	if err != nil {
		return ""
	}
	return digest.FromBytes(data).String()
}

// Serialize serializes the inventory to JSON
func (t *Tracker) Serialize() ([]byte, error) {
	return json.Marshal(t.GetInventory())
}

// Deserialize replaces the tracker's content with the JSON inventory in data
func (t *Tracker) Deserialize(data []byte) error {
	var inv Inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return fmt.Errorf("failed to deserialize inventory: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]InventoryItem, len(inv.Items))
	for id, item := range inv.Items {
		t.items[id] = item
	}
	t.generation++
	return nil
}
