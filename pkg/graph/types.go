package graph

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// DefaultFieldManager is the field manager used when a policy names none.
const DefaultFieldManager = "kapply"

// Graph is the ordered set of resources produced from one apply invocation
type Graph struct {
	// Metadata contains information about the graph
	Metadata GraphMetadata `json:"metadata"`

	// Nodes contains all the resources to be applied
	Nodes []Node `json:"nodes"`
}

// GraphMetadata contains metadata about the graph
type GraphMetadata struct {
	// Name is a human-readable name for the graph, usually the inventory name
	Name string `json:"name"`

	// Version is the version of the graph format
	Version string `json:"version"`

	// Sources lists the manifest sources the graph was built from
	Sources []string `json:"sources,omitempty"`

	// Hash is a hash of the nodes for change detection
	Hash string `json:"hash,omitempty"`
}

// Node represents a single resource in the graph
type Node struct {
	// ID is a unique identifier for this node within the graph
	ID string `json:"id"`

	// Object is the Kubernetes resource to apply
	Object unstructured.Unstructured `json:"object"`

	// ApplyPolicy defines how this resource should be applied
	ApplyPolicy ApplyPolicy `json:"applyPolicy"`

	// DependsOn lists the IDs of nodes that must be ready before this node
	DependsOn []string `json:"dependsOn,omitempty"`

	// ReadyWhen defines the conditions for this resource to be considered ready
	ReadyWhen []ReadinessPredicate `json:"readyWhen,omitempty"`

	// Rank is the kind rank; lower ranks sort first among independent nodes
	Rank int `json:"rank"`

	// Source is where the manifest document came from
	Source string `json:"source,omitempty"`
}

// ApplyPolicy defines how a resource should be applied
type ApplyPolicy struct {
	// Mode determines the apply behavior
	// - "Apply": Use Server-Side Apply (default)
	// - "Create": Only create if it doesn't exist
	// - "Adopt": Take ownership of an existing resource
	Mode ApplyMode `json:"mode,omitempty"`

	// ConflictPolicy determines how to handle field manager conflicts
	// - "Error": Fail on conflicts (default)
	// - "Force": Force ownership of conflicting fields
	ConflictPolicy ConflictPolicy `json:"conflictPolicy,omitempty"`

	// FieldManager is the name to use for field management
	// Defaults to "kapply"
	FieldManager string `json:"fieldManager,omitempty"`
}

// ApplyMode defines the apply behavior
type ApplyMode string

const (
	// ApplyModeApply uses Server-Side Apply
	ApplyModeApply ApplyMode = "Apply"

	// ApplyModeCreate only creates if the resource doesn't exist
	ApplyModeCreate ApplyMode = "Create"

	// ApplyModeAdopt adopts an existing resource
	ApplyModeAdopt ApplyMode = "Adopt"
)

// ParseApplyMode maps a case-insensitive flag value to an ApplyMode.
func ParseApplyMode(s string) (ApplyMode, error) {
	switch s {
	case "", "apply", "Apply":
		return ApplyModeApply, nil
	case "create", "Create":
		return ApplyModeCreate, nil
	case "adopt", "Adopt":
		return ApplyModeAdopt, nil
	}
	return "", fmt.Errorf("invalid apply mode %q (want apply, create or adopt)", s)
}

// ConflictPolicy defines how to handle field manager conflicts
type ConflictPolicy string

const (
	// ConflictPolicyError fails on conflicts
	ConflictPolicyError ConflictPolicy = "Error"

	// ConflictPolicyForce forces ownership of conflicting fields
	ConflictPolicyForce ConflictPolicy = "Force"
)

// Outcome is what an apply did to a resource
type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeConfigured Outcome = "configured"
	OutcomeUnchanged  Outcome = "unchanged"

	// Outcomes of the delete and prune paths
	OutcomeDeleted Outcome = "deleted"
	OutcomeAbsent  Outcome = "absent"
	OutcomePruned  Outcome = "pruned"
)

// ReadinessPredicate defines a condition that must be met for a resource to be ready
type ReadinessPredicate struct {
	// Type is the type of predicate
	Type PredicateType `json:"type"`

	// ConditionType is the condition type to check (for ConditionMatch predicates)
	ConditionType string `json:"conditionType,omitempty"`

	// ConditionStatus is the expected status (for ConditionMatch predicates)
	ConditionStatus string `json:"conditionStatus,omitempty"`

	// Phases are the accepted values of status.phase (for PhaseMatch predicates)
	Phases []string `json:"phases,omitempty"`

	// Timeout is the maximum time to wait for this predicate (in seconds)
	Timeout int `json:"timeout,omitempty"`
}

// PredicateType defines the type of readiness predicate
type PredicateType string

const (
	// PredicateTypeConditionMatch checks for a specific condition
	PredicateTypeConditionMatch PredicateType = "ConditionMatch"

	// PredicateTypeDeploymentAvailable checks if a Deployment is available
	PredicateTypeDeploymentAvailable PredicateType = "DeploymentAvailable"

	// PredicateTypeStatefulSetReady checks all StatefulSet replicas are ready and updated
	PredicateTypeStatefulSetReady PredicateType = "StatefulSetReady"

	// PredicateTypeDaemonSetReady checks all scheduled DaemonSet pods are ready
	PredicateTypeDaemonSetReady PredicateType = "DaemonSetReady"

	// PredicateTypeJobComplete checks a Job reports the Complete condition
	PredicateTypeJobComplete PredicateType = "JobComplete"

	// PredicateTypePhaseMatch checks status.phase against an accepted set
	PredicateTypePhaseMatch PredicateType = "PhaseMatch"

	// PredicateTypeExists checks if the resource exists
	PredicateTypeExists PredicateType = "Exists"
)

// ComputeHash computes a hash of the graph nodes for drift detection.
// Metadata is excluded so renaming sources does not change the hash.
func (g *Graph) ComputeHash() string {
	data, err := json.Marshal(g.Nodes)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", xxhash.Sum64(data))
}

// SetHash computes and sets the Hash field
func (g *Graph) SetHash() {
	g.Metadata.Hash = g.ComputeHash()
}

// HasChanged returns true if the graph has changed since the last hash
func (g *Graph) HasChanged(previousHash string) bool {
	if previousHash == "" {
		return true
	}
	return g.ComputeHash() != previousHash
}
