package inventory

import (
	"strings"
	"sync"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var deploymentGVK = schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}

func createTestObject(name, namespace string, gvk schema.GroupVersionKind) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{
		Object: make(map[string]interface{}),
	}
	obj.SetGroupVersionKind(gvk)
	obj.SetName(name)
	obj.SetNamespace(namespace)
	return obj
}

func TestTracker_Record(t *testing.T) {
	tracker := NewTracker()
	obj := createTestObject("my-deployment", "default", deploymentGVK)

	item := tracker.RecordApplied("default:Deployment/my-deployment", obj)
	if item.Status != ItemStatusApplied {
		t.Errorf("Expected status Applied, got %v", item.Status)
	}
	if item.GVK != deploymentGVK || item.Name != "my-deployment" || item.Namespace != "default" {
		t.Errorf("unexpected item %+v", item)
	}
	if !strings.HasPrefix(item.Hash, "sha256:") {
		t.Errorf("expected sha256 digest, got %q", item.Hash)
	}

	if got := tracker.RecordAdopted("default:Service/web", createTestObject("web", "default", schema.GroupVersionKind{Version: "v1", Kind: "Service"})); got.Status != ItemStatusAdopted {
		t.Errorf("Expected status Adopted, got %v", got.Status)
	}
	if got := tracker.RecordFailed("default:Deployment/broken", createTestObject("broken", "default", deploymentGVK)); got.Status != ItemStatusFailed {
		t.Errorf("Expected status Failed, got %v", got.Status)
	}
	if tracker.Size() != 3 {
		t.Errorf("Expected size 3, got %d", tracker.Size())
	}
}

func TestTracker_RecordFailedKeepsApplied(t *testing.T) {
	tracker := NewTracker()
	obj := createTestObject("web", "default", deploymentGVK)
	tracker.RecordApplied("web", obj)

	if item := tracker.RecordFailed("web", obj); item.Status != ItemStatusApplied {
		t.Errorf("a failed re-apply must keep the Applied entry, got %s", item.Status)
	}
}

func TestTracker_Remove(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordApplied("node-1", createTestObject("my-deployment", "default", deploymentGVK))
	gen := tracker.Generation()

	tracker.Remove("node-1")

	if _, ok := tracker.Get("node-1"); ok {
		t.Error("Item should be removed")
	}
	if tracker.Generation() <= gen {
		t.Error("Generation should increase after removal")
	}
}

func TestTracker_GetAllSorted(t *testing.T) {
	tracker := NewTracker()
	for _, name := range []string{"c", "a", "b"} {
		tracker.RecordApplied(name, createTestObject(name, "default", deploymentGVK))
	}

	items := tracker.GetAll()
	if len(items) != 3 || items[0].ID != "a" || items[1].ID != "b" || items[2].ID != "c" {
		t.Errorf("expected items sorted by ID, got %+v", items)
	}
}

func TestTracker_FindOrphaned(t *testing.T) {
	tracker := NewTracker()
	for _, name := range []string{"keep", "drop", "gone"} {
		tracker.RecordApplied(name, createTestObject(name, "default", deploymentGVK))
	}
	tracker.RecordPruned("gone")

	orphaned := tracker.FindOrphaned(map[string]bool{"keep": true})
	if len(orphaned) != 1 || orphaned[0].ID != "drop" {
		t.Fatalf("expected only drop to be orphaned, got %+v", orphaned)
	}
	if orphaned[0].Status != ItemStatusOrphaned {
		t.Errorf("expected Orphaned status on result, got %s", orphaned[0].Status)
	}

	// FindOrphaned reports, it does not change the tracker
	if item, _ := tracker.Get("drop"); item.Status != ItemStatusApplied {
		t.Errorf("tracker item changed to %s", item.Status)
	}
}

func TestTracker_HasDrift(t *testing.T) {
	tracker := NewTracker()
	obj := createTestObject("web", "default", deploymentGVK)
	obj.Object["spec"] = map[string]interface{}{"replicas": int64(1)}
	tracker.RecordApplied("web", obj)

	if tracker.HasDrift("web", obj) {
		t.Error("unchanged object reported as drifted")
	}

	changed := obj.DeepCopy()
	changed.Object["spec"] = map[string]interface{}{"replicas": int64(2)}
	if !tracker.HasDrift("web", changed) {
		t.Error("changed object not reported as drifted")
	}
	if tracker.HasDrift("unknown", changed) {
		t.Error("untracked object reported as drifted")
	}
}

func TestTracker_Serialization(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordApplied("default:Deployment/web", createTestObject("web", "default", deploymentGVK))
	tracker.RecordPruned("default:Deployment/web")

	data, err := tracker.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	restored := NewTracker()
	if err := restored.Deserialize(data); err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	item, ok := restored.Get("default:Deployment/web")
	if !ok || item.Status != ItemStatusPruned || item.GVK != deploymentGVK {
		t.Errorf("round trip lost data: %+v", item)
	}

	if err := restored.Deserialize([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a'+i%26)) + string(rune('a'+i/26))
			tracker.RecordApplied(name, createTestObject(name, "default", deploymentGVK))
			_ = tracker.GetAll()
		}(i)
	}
	wg.Wait()

	if tracker.Size() != 50 {
		t.Errorf("expected 50 items, got %d", tracker.Size())
	}
}

func TestComputeHash(t *testing.T) {
	obj1 := createTestObject("deploy-1", "default", deploymentGVK)
	obj1.Object["spec"] = map[string]interface{}{"replicas": int64(3)}
	obj1.SetResourceVersion("123")
	obj1.SetUID("uid-1")

	obj2 := createTestObject("deploy-1", "default", deploymentGVK)
	obj2.Object["spec"] = map[string]interface{}{"replicas": int64(3)}
	obj2.SetResourceVersion("456")
	obj2.SetUID("uid-2")
	obj2.Object["status"] = map[string]interface{}{"readyReplicas": int64(3)}

	obj3 := createTestObject("deploy-1", "default", deploymentGVK)
	obj3.Object["spec"] = map[string]interface{}{"replicas": int64(5)}

	if ComputeHash(obj1) != ComputeHash(obj2) {
		t.Error("Hash should ignore server-populated metadata and status")
	}
	if ComputeHash(obj1) == ComputeHash(obj3) {
		t.Error("Different content should produce different hash")
	}
	if ComputeHash(nil) != "" {
		t.Error("Expected empty hash for nil object")
	}
}

func TestNewTrackerFromInventory(t *testing.T) {
	inv := &Inventory{
		Items: map[string]InventoryItem{
			"node-1": {ID: "node-1", Name: "deploy-1", Namespace: "default", Status: ItemStatusApplied},
		},
	}

	tracker := NewTrackerFromInventory(inv)
	if item, ok := tracker.Get("node-1"); !ok || item.Name != "deploy-1" {
		t.Errorf("expected node-1, got %+v", item)
	}

	// The tracker owns its copy
	delete(inv.Items, "node-1")
	if tracker.Size() != 1 {
		t.Error("tracker shares its map with the inventory")
	}

	if NewTrackerFromInventory(nil).Size() != 0 {
		t.Error("Expected 0 items for nil inventory")
	}
}
