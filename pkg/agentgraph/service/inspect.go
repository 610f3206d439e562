package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// ThreadView is the persisted view of a thread, read from its latest
// checkpoint.
type ThreadView struct {
	ThreadID     string             `json:"thread_id"`
	WorkflowType state.WorkflowType `json:"workflow_type"`
	AgentID      string             `json:"agent_id,omitempty"`

	Sequence    int64     `json:"sequence_no"`
	Checkpoints int       `json:"checkpoints"`
	LastNode    string    `json:"last_node"`
	NextNode    string    `json:"next_node,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Completed is true once the run reached its end.
	Completed bool            `json:"completed"`
	Output    json.RawMessage `json:"output,omitempty"`
	Failure   *state.Failure  `json:"error,omitempty"`
	Usage     state.Usage     `json:"usage"`

	// State is the full serialized workflow state.
	State json.RawMessage `json:"state,omitempty"`
}

// Inspect returns the latest persisted state of a thread. It returns an
// error wrapping checkpoint.ErrNotFound for an unknown thread.
func (s *Service) Inspect(ctx context.Context, threadID string) (ThreadView, error) {
	if s.store == nil {
		return ThreadView{}, ErrCheckpointingDisabled
	}
	return InspectThread(ctx, s.store, threadID)
}

// InspectThread reads a thread's view directly from a store.
func InspectThread(ctx context.Context, store checkpoint.Store, threadID string) (ThreadView, error) {
	if threadID == "" {
		return ThreadView{}, errors.New("thread id is required")
	}
	cp, err := store.Latest(ctx, threadID)
	if err != nil {
		return ThreadView{}, fmt.Errorf("inspect %s: %w", threadID, err)
	}
	env, err := checkpoint.UnmarshalEnvelope(cp.Blob)
	if err != nil {
		return ThreadView{}, fmt.Errorf("inspect %s: decode checkpoint %d: %w", threadID, cp.Sequence, err)
	}
	var base state.Base
	if err := json.Unmarshal(env.State, &base); err != nil {
		return ThreadView{}, fmt.Errorf("inspect %s: decode state: %w", threadID, err)
	}
	infos, err := store.List(ctx, threadID)
	if err != nil {
		return ThreadView{}, fmt.Errorf("inspect %s: %w", threadID, err)
	}

	return ThreadView{
		ThreadID:     threadID,
		WorkflowType: base.WorkflowType,
		AgentID:      base.Metadata.AgentID,
		Sequence:     cp.Sequence,
		Checkpoints:  len(infos),
		LastNode:     env.NodeID,
		NextNode:     env.NextNode,
		UpdatedAt:    cp.CreatedAt,
		Completed:    env.NextNode == agentgraph.END,
		Output:       base.Output,
		Failure:      base.Failure,
		Usage:        base.Metadata.Usage,
		State:        env.State,
	}, nil
}
