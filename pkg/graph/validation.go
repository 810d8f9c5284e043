package graph

import (
	"fmt"
)

// Validate checks a graph before a DAG is built from it. Policy defaults
// are filled in on the nodes as a side effect.
func (g *Graph) Validate() error {
	switch {
	case g.Metadata.Name == "":
		return fmt.Errorf("graph metadata.name is required")
	case g.Metadata.Version == "":
		return fmt.Errorf("graph metadata.version is required")
	}

	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node ID is required")
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node ID: %s", n.ID)
		}
		ids[n.ID] = true
	}

	for i := range g.Nodes {
		if err := g.Nodes[i].Validate(ids); err != nil {
			return fmt.Errorf("node %s: %w", g.Nodes[i].ID, err)
		}
	}
	return nil
}

// Validate checks a single node against the set of known node IDs
func (n *Node) Validate(known map[string]bool) error {
	if n.ID == "" {
		return fmt.Errorf("node ID is required")
	}
	for field, value := range map[string]string{
		"apiVersion": n.Object.GetAPIVersion(),
		"kind":       n.Object.GetKind(),
		"name":       n.Object.GetName(),
	} {
		if value == "" {
			return fmt.Errorf("object %s is required", field)
		}
	}

	if err := n.ApplyPolicy.Validate(); err != nil {
		return fmt.Errorf("applyPolicy: %w", err)
	}

	for _, dep := range n.DependsOn {
		switch {
		case dep == n.ID:
			return fmt.Errorf("node depends on itself")
		case !known[dep]:
			return fmt.Errorf("dependency %s does not exist", dep)
		}
	}

	for i := range n.ReadyWhen {
		if err := n.ReadyWhen[i].Validate(); err != nil {
			return fmt.Errorf("readyWhen[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate fills in the policy defaults and rejects unknown values
func (ap *ApplyPolicy) Validate() error {
	if ap.Mode == "" {
		ap.Mode = ApplyModeApply
	}
	if ap.ConflictPolicy == "" {
		ap.ConflictPolicy = ConflictPolicyError
	}
	if ap.FieldManager == "" {
		ap.FieldManager = DefaultFieldManager
	}

	if ap.Mode != ApplyModeApply && ap.Mode != ApplyModeCreate && ap.Mode != ApplyModeAdopt {
		return fmt.Errorf("invalid apply mode: %s", ap.Mode)
	}
	if ap.ConflictPolicy != ConflictPolicyError && ap.ConflictPolicy != ConflictPolicyForce {
		return fmt.Errorf("invalid conflict policy: %s", ap.ConflictPolicy)
	}
	return nil
}

// predicateTypes maps every known predicate type to a check of its
// type-specific fields
var predicateTypes = map[PredicateType]func(*ReadinessPredicate) error{
	PredicateTypeConditionMatch: func(rp *ReadinessPredicate) error {
		if rp.ConditionType == "" || rp.ConditionStatus == "" {
			return fmt.Errorf("conditionType and conditionStatus are required for ConditionMatch predicate")
		}
		return nil
	},
	PredicateTypePhaseMatch: func(rp *ReadinessPredicate) error {
		if len(rp.Phases) == 0 {
			return fmt.Errorf("phases are required for PhaseMatch predicate")
		}
		return nil
	},
	PredicateTypeDeploymentAvailable: nil,
	PredicateTypeStatefulSetReady:    nil,
	PredicateTypeDaemonSetReady:      nil,
	PredicateTypeJobComplete:         nil,
	PredicateTypeExists:              nil,
}

// Validate checks the predicate type and its required fields
func (rp *ReadinessPredicate) Validate() error {
	check, ok := predicateTypes[rp.Type]
	if !ok {
		return fmt.Errorf("invalid predicate type: %s", rp.Type)
	}
	if check != nil {
		if err := check(rp); err != nil {
			return err
		}
	}
	if rp.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}
