package inventory

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	// DataKey holds the serialized inventory in the ConfigMap
	DataKey = "inventory"

	// GraphHashAnnotation records the hash of the graph last applied
	GraphHashAnnotation = "kapply.io/graph-hash"

	// ManagedByLabel marks inventory ConfigMaps
	ManagedByLabel = "app.kubernetes.io/managed-by"
)

// Store persists a Tracker in a ConfigMap
type Store struct {
	client    client.Client
	namespace string
	name      string
}

// NewStore returns a store for the ConfigMap namespace/name
func NewStore(c client.Client, namespace, name string) *Store {
	return &Store{client: c, namespace: namespace, name: name}
}

// Name returns the inventory name
func (s *Store) Name() string { return s.name }

// Load returns the stored tracker and graph hash. A missing ConfigMap is an
// empty inventory.
func (s *Store) Load(ctx context.Context) (*Tracker, string, error) {
	cm := &corev1.ConfigMap{}
	err := s.client.Get(ctx, client.ObjectKey{Namespace: s.namespace, Name: s.name}, cm)
	if apierrors.IsNotFound(err) {
		log.FromContext(ctx).V(1).Info("No inventory found", "namespace", s.namespace, "name", s.name)
		return NewTracker(), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get inventory %s/%s: %w", s.namespace, s.name, err)
	}

	tracker := NewTracker()
	if data, ok := cm.Data[DataKey]; ok && data != "" {
		if err := tracker.Deserialize([]byte(data)); err != nil {
			return nil, "", fmt.Errorf("inventory %s/%s: %w", s.namespace, s.name, err)
		}
	}
	return tracker, cm.Annotations[GraphHashAnnotation], nil
}

// Save writes tracker to the ConfigMap, creating it if needed
func (s *Store) Save(ctx context.Context, tracker *Tracker, graphHash string) error {
	data, err := tracker.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize inventory: %w", err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Namespace: s.namespace, Name: s.name},
	}
	err = s.client.Get(ctx, client.ObjectKeyFromObject(cm), cm)
	switch {
	case apierrors.IsNotFound(err):
		s.fill(cm, data, graphHash)
		if err := s.client.Create(ctx, cm); err != nil {
			return fmt.Errorf("failed to create inventory %s/%s: %w", s.namespace, s.name, err)
		}
	case err != nil:
		return fmt.Errorf("failed to get inventory %s/%s: %w", s.namespace, s.name, err)
	default:
		s.fill(cm, data, graphHash)
		if err := s.client.Update(ctx, cm); err != nil {
			return fmt.Errorf("failed to update inventory %s/%s: %w", s.namespace, s.name, err)
		}
	}

	log.FromContext(ctx).V(1).Info("Saved inventory", "namespace", s.namespace, "name", s.name, "items", tracker.Size())
	return nil
}

func (s *Store) fill(cm *corev1.ConfigMap, data []byte, graphHash string) {
	if cm.Labels == nil {
		cm.Labels = map[string]string{}
	}
	cm.Labels[ManagedByLabel] = "kapply"
	if cm.Annotations == nil {
		cm.Annotations = map[string]string{}
	}
	cm.Annotations[GraphHashAnnotation] = graphHash
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[DataKey] = string(data)
}
