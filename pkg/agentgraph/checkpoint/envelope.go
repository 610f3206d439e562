package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current envelope format version.
// Increment on breaking changes to Envelope.
const Version = 1

// Envelope is what the engine stores in Checkpoint.Blob: the serialized
// state plus everything needed to continue the run.
type Envelope struct {
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	State    json.RawMessage `json:"state"`
	NextNode string          `json:"next_node"`

	Attempt    int    `json:"attempt"`
	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// NewEnvelope creates an envelope for a node that just completed.
// state must already be JSON.
func NewEnvelope(threadID, nodeID string, sequence int64, state []byte, nextNode string) *Envelope {
	return &Envelope{
		Version:   Version,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Attempt:   1,
	}
}

// WithAttempt sets the attempt number.
func (e *Envelope) WithAttempt(attempt int) *Envelope {
	e.Attempt = attempt
	return e
}

// WithPrevNode records the node that ran before this one.
func (e *Envelope) WithPrevNode(prev string) *Envelope {
	e.PrevNodeID = prev
	return e
}

// Marshal serializes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Record wraps the envelope into a storable Checkpoint.
func (e *Envelope) Record() (Checkpoint, error) {
	blob, err := e.Marshal()
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{
		ThreadID:  e.ThreadID,
		Sequence:  e.Sequence,
		Blob:      blob,
		CreatedAt: e.Timestamp,
	}, nil
}

// UnmarshalEnvelope decodes a checkpoint blob.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
