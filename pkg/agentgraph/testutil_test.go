package agentgraph

import (
	"context"
	"errors"
)

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int `json:"value"`
}

// Trail records the nodes that ran and absorbs node failures.
type Trail struct {
	Visited  []string `json:"visited"`
	Count    int      `json:"count"`
	Failed   string   `json:"failed,omitempty"`
	FailMsg  string   `json:"fail_msg,omitempty"`
	Turns    int      `json:"turns"`
	Finished bool     `json:"finished"`
}

func (t Trail) WithNodeFailure(nodeID string, err error) Trail {
	t.Failed = nodeID
	t.FailMsg = err.Error()
	return t
}

// Session is a Trail that continues across invocations.
type Session struct {
	Trail
	Input string `json:"input"`
}

func (s Session) ContinueWith(next Session) Session {
	s.Input = next.Input
	s.Turns++
	return s
}

func increment(ctx Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

func visit(name string) NodeFunc[Trail] {
	return func(ctx Context, s Trail) (Trail, error) {
		s.Visited = append(s.Visited, name)
		s.Count++
		return s, nil
	}
}

func failing(err error) NodeFunc[Trail] {
	return func(ctx Context, s Trail) (Trail, error) {
		s.Visited = append(s.Visited, "partial")
		return s, err
	}
}

var errBoom = errors.New("boom")

func testCtx() Context {
	return NewContext(context.Background())
}

// linear builds a -> b -> c -> END over Trail.
func linear() *Graph[Trail] {
	return NewGraph[Trail]().
		AddNode("a", visit("a")).
		AddNode("b", visit("b")).
		AddNode("c", visit("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a")
}
