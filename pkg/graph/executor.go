package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Applier is the interface for applying Kubernetes resources
type Applier interface {
	// Apply applies a resource according to its ApplyPolicy and reports what changed
	Apply(ctx context.Context, obj *unstructured.Unstructured, policy ApplyPolicy) (Outcome, error)
}

// ReadinessChecker is the interface for checking resource readiness
type ReadinessChecker interface {
	// Check evaluates readiness predicates for a resource
	Check(ctx context.Context, obj *unstructured.Unstructured, predicates []ReadinessPredicate) (bool, error)
}

// ExecutorConfig contains configuration for the DAG executor
type ExecutorConfig struct {
	// MaxConcurrency is the maximum number of nodes to apply concurrently
	// Default: 10
	MaxConcurrency int

	// RetryBackoffBase is the base duration for exponential backoff
	// Default: 1 second
	RetryBackoffBase time.Duration

	// RetryBackoffMax is the maximum backoff duration
	// Default: 5 minutes
	RetryBackoffMax time.Duration

	// MaxRetries is the maximum number of retries per node
	// Default: 3
	MaxRetries int

	// ContinueOnError keeps scheduling independent nodes after a node has
	// exhausted its retries. When false the remaining nodes are skipped.
	// Default: true
	ContinueOnError bool

	// ReadyTimeout bounds the readiness wait of a node; a longer predicate
	// timeout takes precedence
	// Default: 5 minutes
	ReadyTimeout time.Duration

	// PollInterval is the first readiness poll delay, grown by 1.5x up to 30s
	// Default: 1 second
	PollInterval time.Duration
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:   10,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  5 * time.Minute,
		MaxRetries:       3,
		ContinueOnError:  true,
		ReadyTimeout:     5 * time.Minute,
		PollInterval:     1 * time.Second,
	}
}

// Executor executes a DAG with dependency-aware parallel execution
type Executor struct {
	config           ExecutorConfig
	applier          Applier
	readinessChecker ReadinessChecker
}

// NewExecutor creates a new DAG executor. readinessChecker may be nil when
// no node carries readiness predicates.
func NewExecutor(applier Applier, readinessChecker ReadinessChecker, config ExecutorConfig) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = 5 * time.Minute
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	return &Executor{
		config:           config,
		applier:          applier,
		readinessChecker: readinessChecker,
	}
}

// Execute applies the DAG in waves. Each wave holds every node whose
// dependencies are Ready; waves run with bounded concurrency. Nodes that
// can never run end in Skipped. The returned state is complete except when
// ctx is cancelled, in which case ctx.Err() is returned alongside it.
func (e *Executor) Execute(ctx context.Context, dag *DAG) (*ExecutionState, error) {
	if dag == nil {
		return nil, fmt.Errorf("DAG cannot be nil")
	}

	logger := log.FromContext(ctx)
	state := NewExecutionState(dag.GetOrder())
	defer state.MarkComplete()

	for wave := 0; ; wave++ {
		if err := ctx.Err(); err != nil {
			e.skipPending(dag, state, "execution cancelled")
			return state, err
		}

		e.skipBlocked(dag, state)

		readyNodes := e.findReadyNodes(dag, state)
		if len(readyNodes) == 0 {
			break
		}

		logger.V(1).Info("executing wave", "wave", wave, "nodes", len(readyNodes))
		e.executeNodes(ctx, dag, state, readyNodes)

		if !e.config.ContinueOnError && e.hasExhaustedErrors(dag, state) {
			e.skipPending(dag, state, "stopped after earlier failure")
			break
		}
	}

	return state, nil
}

// findReadyNodes identifies nodes that are ready to execute
// A node is ready if:
// - It's in Pending state, or in Error state with retries left
// - All its dependencies are in Ready state
func (e *Executor) findReadyNodes(dag *DAG, state *ExecutionState) []string {
	var ready []string

	for _, nodeID := range dag.GetOrder() {
		status, _ := state.GetStatus(nodeID)

		switch status.State {
		case NodeStatePending:
		case NodeStateError:
			if e.exhausted(status) {
				continue
			}
		default:
			continue
		}

		deps, _ := dag.GetDependencies(nodeID)
		allDepsReady := true
		for _, depID := range deps {
			depState, _ := state.GetState(depID)
			if depState != NodeStateReady {
				allDepsReady = false
				break
			}
		}

		if allDepsReady {
			ready = append(ready, nodeID)
		}
	}

	return ready
}

// skipBlocked skips the pending dependents of every node that is Skipped or
// has failed for good. Walking in topological order carries the skip through
// transitive dependents in one pass.
func (e *Executor) skipBlocked(dag *DAG, state *ExecutionState) {
	for _, nodeID := range dag.GetOrder() {
		if !e.isDead(state, nodeID) {
			continue
		}
		dependents, _ := dag.GetDependents(nodeID)
		for _, depID := range dependents {
			if s, _ := state.GetState(depID); s == NodeStatePending {
				_ = state.Skip(depID, fmt.Sprintf("dependency %s did not become ready", nodeID))
			}
		}
	}
}

func (e *Executor) skipPending(dag *DAG, state *ExecutionState, reason string) {
	for _, nodeID := range dag.GetOrder() {
		if s, _ := state.GetState(nodeID); s == NodeStatePending {
			_ = state.Skip(nodeID, reason)
		}
	}
}

func (e *Executor) isDead(state *ExecutionState, nodeID string) bool {
	status, err := state.GetStatus(nodeID)
	if err != nil {
		return false
	}
	switch status.State {
	case NodeStateSkipped:
		return true
	case NodeStateError:
		return e.exhausted(status)
	}
	return false
}

// exhausted reports whether a failed node gets no further attempts
func (e *Executor) exhausted(status *NodeStatus) bool {
	return status.Permanent || status.RetryCount >= e.config.MaxRetries
}

func (e *Executor) hasExhaustedErrors(dag *DAG, state *ExecutionState) bool {
	for _, nodeID := range dag.GetOrder() {
		if s, _ := state.GetState(nodeID); s == NodeStateError && e.isDead(state, nodeID) {
			return true
		}
	}
	return false
}

// executeNodes executes a batch of nodes in parallel using conc.
// Failures are recorded in state; independent nodes keep running.
func (e *Executor) executeNodes(ctx context.Context, dag *DAG, state *ExecutionState, nodeIDs []string) {
	p := pool.New().WithMaxGoroutines(e.config.MaxConcurrency).WithErrors()

	for _, nodeID := range nodeIDs {
		p.Go(func() error {
			return e.executeNode(ctx, dag, state, nodeID)
		})
	}

	_ = p.Wait()
}

// executeNode executes a single node: apply, wait for readiness
func (e *Executor) executeNode(ctx context.Context, dag *DAG, state *ExecutionState, nodeID string) error {
	node, found := dag.GetNode(nodeID)
	if !found {
		return fmt.Errorf("node %s not found", nodeID)
	}
	logger := log.FromContext(ctx).WithValues(
		"node", nodeID,
		"gvk", node.Object.GroupVersionKind().String(),
	)

	status, _ := state.GetStatus(nodeID)
	if status.State == NodeStateError {
		delay := e.calculateBackoff(status.RetryCount)
		logger.V(1).Info("retrying node", "attempt", status.RetryCount+1, "backoff", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		_ = state.IncrementRetry(nodeID)
		if err := state.SetState(nodeID, NodeStatePending); err != nil {
			return err
		}
	}

	if err := state.SetState(nodeID, NodeStateApplying); err != nil {
		_ = state.SetError(nodeID, err)
		return err
	}

	outcome, err := e.applier.Apply(ctx, &node.Object, node.ApplyPolicy)
	if err != nil {
		if !retryable(err) {
			dependents, _ := dag.GetDependents(nodeID)
			logger.V(1).Info("apply rejected, not retrying", "error", err.Error(), "dependents", dependents)
			_ = state.SetPermanentError(nodeID, fmt.Errorf("failed to apply: %w", err))
			return err
		}
		logger.V(1).Info("apply failed", "error", err.Error())
		_ = state.SetError(nodeID, fmt.Errorf("failed to apply: %w", err))
		return err
	}
	_ = state.SetOutcome(nodeID, outcome)
	logger.V(1).Info("applied", "outcome", outcome)

	if len(node.ReadyWhen) == 0 || e.readinessChecker == nil {
		if err := state.SetState(nodeID, NodeStateReady); err != nil {
			_ = state.SetError(nodeID, err)
			return err
		}
		return nil
	}

	if err := state.SetState(nodeID, NodeStateWaitingReady); err != nil {
		_ = state.SetError(nodeID, err)
		return err
	}

	if err := e.waitForReadiness(ctx, node); err != nil {
		_ = state.SetError(nodeID, fmt.Errorf("readiness check failed: %w", err))
		return err
	}

	if err := state.SetState(nodeID, NodeStateReady); err != nil {
		_ = state.SetError(nodeID, err)
		return err
	}

	return nil
}

// waitForReadiness polls the resource until all readiness predicates are satisfied
func (e *Executor) waitForReadiness(ctx context.Context, node *Node) error {
	// The longest predicate timeout wins over the configured default
	timeout := e.config.ReadyTimeout
	for _, pred := range node.ReadyWhen {
		if pred.Timeout > 0 {
			predTimeout := time.Duration(pred.Timeout) * time.Second
			if predTimeout > timeout {
				timeout = predTimeout
			}
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := e.config.PollInterval
	maxBackoff := 30 * time.Second

	for {
		ready, err := e.readinessChecker.Check(timeoutCtx, &node.Object, node.ReadyWhen)
		if err != nil {
			return fmt.Errorf("readiness check error: %w", err)
		}

		if ready {
			return nil
		}

		select {
		case <-timeoutCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("readiness timeout after %v", timeout)
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// calculateBackoff calculates the backoff duration for a retry attempt
func (e *Executor) calculateBackoff(retryCount int) time.Duration {
	backoff := time.Duration(float64(e.config.RetryBackoffBase) * math.Pow(2, float64(retryCount)))

	if backoff > e.config.RetryBackoffMax {
		backoff = e.config.RetryBackoffMax
	}

	return backoff
}
