// Package agentgraph is the workflow orchestration engine behind the agent
// workflows: a typed state threaded through nodes, conditional routing,
// uniform failure capture, and checkpoint-based resumption keyed by thread ID.
package agentgraph

import (
	"errors"
	"fmt"
)

// Graph construction errors.
var (
	ErrNoEntryPoint  = errors.New("entry point not set")
	ErrEntryNotFound = errors.New("entry point node not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoPathToEnd   = errors.New("no path to END from entry")
)

// Execution errors.
var (
	ErrMaxIterations        = errors.New("exceeded maximum iterations")
	ErrNilContext           = errors.New("context cannot be nil")
	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
)

// Checkpoint and resume errors.
var (
	ErrThreadIDRequired          = errors.New("thread ID required for checkpointing")
	ErrDeserializeState          = errors.New("failed to deserialize state")
	ErrNoCheckpoints             = errors.New("no checkpoints found for thread")
	ErrInvalidResumeNode         = errors.New("invalid resume node")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// CheckpointError wraps a failed checkpoint operation.
type CheckpointError struct {
	NodeID string
	// Op is one of "serialize", "save", "load".
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an error with the node that produced it.
type NodeError struct {
	NodeID string
	// Op is the failed operation ("execute", "lookup", "routing").
	Op  string
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised inside a node, with its stack.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports a run stopped by context cancellation.
// State holds the state at that point; type-assert it to the graph's state type.
type CancellationError struct {
	NodeID       string
	State        any
	Cause        error
	WasExecuting bool
}

func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError reports an invalid router decision.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// MaxIterationsError reports a run that hit the iteration cap.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// lastNodeOf extracts the node a run error is attributed to.
func lastNodeOf(err error) string {
	var (
		nodeErr   *NodeError
		maxErr    *MaxIterationsError
		cancelErr *CancellationError
		routerErr *RouterError
		cpErr     *CheckpointError
		panicErr  *PanicError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}
