package graph

import (
	"fmt"
	"sync"
	"time"
)

// NodeState represents the execution state of a node in the DAG
type NodeState string

const (
	// NodeStatePending indicates the node is waiting for dependencies
	NodeStatePending NodeState = "Pending"

	// NodeStateApplying indicates the node is being applied
	NodeStateApplying NodeState = "Applying"

	// NodeStateWaitingReady indicates the node has been applied and is waiting for readiness
	NodeStateWaitingReady NodeState = "WaitingReady"

	// NodeStateReady indicates the node is ready (all predicates satisfied)
	NodeStateReady NodeState = "Ready"

	// NodeStateError indicates the node encountered an error
	NodeStateError NodeState = "Error"

	// NodeStateSkipped indicates the node was never attempted because a
	// dependency failed or execution stopped early
	NodeStateSkipped NodeState = "Skipped"
)

// NodeStatus contains the execution status of a single node
type NodeStatus struct {
	// State is the current state of the node
	State NodeState

	// Outcome is what the last successful apply did
	Outcome Outcome

	// Error contains the error message if State is NodeStateError or NodeStateSkipped
	Error string

	// StartTime is when the node started applying
	StartTime *time.Time

	// EndTime is when the node reached Ready, Error or Skipped
	EndTime *time.Time

	// RetryCount is the number of times this node has been retried
	RetryCount int

	// LastRetryTime is the time of the last retry attempt
	LastRetryTime *time.Time

	// Permanent is set when the last error cannot be fixed by retrying
	Permanent bool
}

// Duration is the wall time between the first apply attempt and the end state.
func (s *NodeStatus) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// ExecutionState tracks the execution state of all nodes in a DAG
type ExecutionState struct {
	mu sync.RWMutex

	// nodeStates maps node ID to its current status
	nodeStates map[string]*NodeStatus

	// startTime is when execution started
	startTime time.Time

	// endTime is when execution completed (or failed)
	endTime *time.Time
}

// NewExecutionState creates a new execution state tracker
func NewExecutionState(nodeIDs []string) *ExecutionState {
	states := make(map[string]*NodeStatus, len(nodeIDs))
	for _, id := range nodeIDs {
		states[id] = &NodeStatus{
			State: NodeStatePending,
		}
	}

	return &ExecutionState{
		nodeStates: states,
		startTime:  time.Now(),
	}
}

// GetState returns the current state of a node
func (es *ExecutionState) GetState(nodeID string) (NodeState, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return "", fmt.Errorf("node %s not found", nodeID)
	}
	return status.State, nil
}

// GetStatus returns a copy of the full status of a node
func (es *ExecutionState) GetStatus(nodeID string) (*NodeStatus, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return nil, fmt.Errorf("node %s not found", nodeID)
	}

	statusCopy := *status
	return &statusCopy, nil
}

// SetState updates the state of a node with validation
func (es *ExecutionState) SetState(nodeID string, newState NodeState) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}

	if err := validateStateTransition(status.State, newState); err != nil {
		return fmt.Errorf("invalid state transition for node %s: %w", nodeID, err)
	}

	status.State = newState

	now := time.Now()
	switch newState {
	case NodeStateApplying:
		if status.StartTime == nil {
			status.StartTime = &now
		}
	case NodeStatePending:
		status.Error = ""
	case NodeStateReady, NodeStateSkipped:
		status.EndTime = &now
	}

	return nil
}

// SetOutcome records what the apply did for a node
func (es *ExecutionState) SetOutcome(nodeID string, outcome Outcome) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}
	status.Outcome = outcome
	return nil
}

// SetError sets a node to error state with an error message
func (es *ExecutionState) SetError(nodeID string, err error) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}

	now := time.Now()
	status.State = NodeStateError
	status.Error = err.Error()
	status.EndTime = &now

	return nil
}

// Skip moves a pending node to Skipped with the given reason
func (es *ExecutionState) Skip(nodeID, reason string) error {
	if err := es.SetState(nodeID, NodeStateSkipped); err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	es.nodeStates[nodeID].Error = reason
	return nil
}

// SetPermanentError sets a node to error state and rules out further retries
func (es *ExecutionState) SetPermanentError(nodeID string, cause error) error {
	if err := es.SetError(nodeID, cause); err != nil {
		return err
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	es.nodeStates[nodeID].Permanent = true
	return nil
}

// IncrementRetry increments the retry count for a node
func (es *ExecutionState) IncrementRetry(nodeID string) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, found := es.nodeStates[nodeID]
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}

	status.RetryCount++
	now := time.Now()
	status.LastRetryTime = &now

	return nil
}

// GetNodesInState returns all node IDs in a given state
func (es *ExecutionState) GetNodesInState(state NodeState) []string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var nodes []string
	for id, status := range es.nodeStates {
		if status.State == state {
			nodes = append(nodes, id)
		}
	}
	return nodes
}

// GetAllStates returns a copy of all node states
func (es *ExecutionState) GetAllStates() map[string]NodeState {
	es.mu.RLock()
	defer es.mu.RUnlock()

	states := make(map[string]NodeState, len(es.nodeStates))
	for id, status := range es.nodeStates {
		states[id] = status.State
	}
	return states
}

// IsComplete returns true if no node is Pending, Applying or WaitingReady
func (es *ExecutionState) IsComplete() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.nodeStates {
		switch status.State {
		case NodeStateReady, NodeStateError, NodeStateSkipped:
		default:
			return false
		}
	}
	return true
}

// HasErrors returns true if any node is in error state
func (es *ExecutionState) HasErrors() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.nodeStates {
		if status.State == NodeStateError {
			return true
		}
	}
	return false
}

// GetSummary returns a summary of execution state
func (es *ExecutionState) GetSummary() ExecutionSummary {
	es.mu.RLock()
	defer es.mu.RUnlock()

	summary := ExecutionSummary{
		Total:     len(es.nodeStates),
		StartTime: es.startTime,
		EndTime:   es.endTime,
	}

	for _, status := range es.nodeStates {
		switch status.State {
		case NodeStatePending:
			summary.Pending++
		case NodeStateApplying:
			summary.Applying++
		case NodeStateWaitingReady:
			summary.WaitingReady++
		case NodeStateReady:
			summary.Ready++
		case NodeStateError:
			summary.Error++
		case NodeStateSkipped:
			summary.Skipped++
		}
	}

	return summary
}

// MarkComplete marks the execution as complete
func (es *ExecutionState) MarkComplete() {
	es.mu.Lock()
	defer es.mu.Unlock()

	now := time.Now()
	es.endTime = &now
}

// ExecutionSummary provides a summary of execution state
type ExecutionSummary struct {
	Total        int
	Pending      int
	Applying     int
	WaitingReady int
	Ready        int
	Error        int
	Skipped      int
	StartTime    time.Time
	EndTime      *time.Time
}

var validTransitions = map[NodeState][]NodeState{
	NodeStatePending: {
		NodeStateApplying,
		NodeStateError,
		NodeStateSkipped,
	},
	NodeStateApplying: {
		NodeStateWaitingReady,
		NodeStateReady, // no readiness predicates
		NodeStateError,
	},
	NodeStateWaitingReady: {
		NodeStateReady,
		NodeStateError,
	},
	NodeStateReady:   {},
	NodeStateSkipped: {},
	NodeStateError: {
		NodeStatePending, // retry
	},
}

// validateStateTransition checks if a state transition is valid
func validateStateTransition(from, to NodeState) error {
	allowed, found := validTransitions[from]
	if !found {
		return fmt.Errorf("unknown state: %s", from)
	}

	for _, allowedState := range allowed {
		if allowedState == to {
			return nil
		}
	}

	return fmt.Errorf("cannot transition from %s to %s", from, to)
}
