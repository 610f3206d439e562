package agentgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// Invoke runs the graph for a thread, resuming it when the store already
// holds checkpoints for that thread.
//
// Without WithCheckpointing it behaves like Run. With a store:
//   - no checkpoints: a fresh run from the entry point;
//   - an unfinished thread: continues at the recorded next node without
//     re-executing completed nodes; input is ignored;
//   - a finished thread: if the stored state implements Continuable, the
//     next turn starts from the entry point with ContinueWith(input);
//     otherwise the stored final state is returned as is.
//
// If the store cannot be read the run proceeds from the entry point with
// checkpointing disabled, unless WithStrictResume is set.
func (cg *CompiledGraph[S]) Invoke(ctx Context, input S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return input, ErrNilContext
	}

	cfg := newRunConfig(opts)
	if cfg.store == nil {
		return cg.run(ctx, input, cg.entryPoint, &cfg, "", 0)
	}
	if cfg.threadID == "" {
		return input, ErrThreadIDRequired
	}

	latest, err := cfg.store.Latest(ctx, cfg.threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return cg.run(ctx, input, cg.entryPoint, &cfg, "", 0)
	case err != nil:
		cfg.metrics.RecordCheckpointFailure(ctx, "load")
		if cfg.strictResume {
			return input, &CheckpointError{Op: "load", Err: err}
		}
		observability.LogCheckpointError(ctx.Logger(), "", "load", err)
		cfg.store = nil
		return cg.run(ctx, input, cg.entryPoint, &cfg, "", 0)
	}

	env, stored, err := decodeCheckpoint[S](latest)
	if err != nil {
		return input, err
	}
	cfg.sequence = latest.Sequence

	if env.NextNode == END {
		cont, ok := any(stored).(Continuable[S])
		if !ok {
			ctx.Logger().Info("thread already completed",
				"thread_id", cfg.threadID,
				"sequence_no", latest.Sequence,
			)
			return stored, nil
		}
		return cg.run(ctx, cont.ContinueWith(input), cg.entryPoint, &cfg, "", 1)
	}

	return cg.resumeAt(ctx, env, stored, &cfg)
}

// Resume continues a thread from its latest checkpoint.
// It fails with ErrNoCheckpoints when the thread has none. A completed
// thread returns its final state.
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, threadID string, opts ...RunOption) (S, error) {
	var zero S
	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := newRunConfig(opts)
	cfg.store = store
	cfg.threadID = threadID

	latest, err := store.Latest(ctx, threadID)
	if err != nil {
		return zero, loadError(err)
	}
	env, state, err := decodeCheckpoint[S](latest)
	if err != nil {
		return zero, err
	}
	cfg.sequence = latest.Sequence

	if env.NextNode == END {
		return state, nil
	}
	return cg.resumeAt(ctx, env, state, &cfg)
}

// ResumeFrom re-runs a thread from the checkpoint with the given sequence,
// continuing at that checkpoint's next node. Later checkpoints are kept;
// new ones are appended after the latest.
func (cg *CompiledGraph[S]) ResumeFrom(ctx Context, store checkpoint.Store, threadID string, sequence int64, opts ...RunOption) (S, error) {
	var zero S
	if ctx == nil {
		return zero, ErrNilContext
	}

	cfg := newRunConfig(opts)
	cfg.store = store
	cfg.threadID = threadID

	cp, err := store.Get(ctx, threadID, sequence)
	if err != nil {
		return zero, loadError(err)
	}
	latest, err := store.Latest(ctx, threadID)
	if err != nil {
		return zero, loadError(err)
	}

	env, state, err := decodeCheckpoint[S](cp)
	if err != nil {
		return zero, err
	}
	cfg.sequence = latest.Sequence

	if env.NextNode == END {
		return state, nil
	}
	return cg.resumeAt(ctx, env, state, &cfg)
}

func (cg *CompiledGraph[S]) resumeAt(ctx Context, env *checkpoint.Envelope, state S, cfg *runConfig) (S, error) {
	if !cg.HasNode(env.NextNode) {
		return state, fmt.Errorf("%w: %s", ErrInvalidResumeNode, env.NextNode)
	}

	cfg.metrics.RecordResume(ctx, cg.name)
	ctx.Logger().Info("resuming thread",
		"thread_id", cfg.threadID,
		"after_node", env.NodeID,
		"next_node", env.NextNode,
		"sequence_no", env.Sequence,
	)

	return cg.run(ctx, state, env.NextNode, cfg, env.NodeID, env.Attempt+1)
}

func loadError(err error) error {
	if errors.Is(err, checkpoint.ErrNotFound) {
		return ErrNoCheckpoints
	}
	return &CheckpointError{Op: "load", Err: err}
}

func decodeCheckpoint[S any](cp checkpoint.Checkpoint) (*checkpoint.Envelope, S, error) {
	var state S

	env, err := checkpoint.UnmarshalEnvelope(cp.Blob)
	if err != nil {
		return nil, state, fmt.Errorf("%w: envelope: %v", ErrDeserializeState, err)
	}
	if env.Version != checkpoint.Version {
		return nil, state, fmt.Errorf("%w: got %d, want %d",
			ErrCheckpointVersionMismatch, env.Version, checkpoint.Version)
	}
	if err := json.Unmarshal(env.State, &state); err != nil {
		return nil, state, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return env, state, nil
}
