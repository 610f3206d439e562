package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type costPayload struct {
	Node   string
	Tokens int
}

// collector gathers delivered events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Handle(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNew(t *testing.T) {
	evt := New("cost.recorded", "explorer", costPayload{Node: "triage", Tokens: 12})

	assert.NotEmpty(t, evt.ID())
	assert.Equal(t, evt.ID(), evt.CorrelationID())
	assert.Equal(t, "cost.recorded", evt.Type())
	assert.Equal(t, "explorer", evt.Source())
	assert.Equal(t, 12, evt.TypedData().Tokens)

	withCorr := New("cost.recorded", "explorer", 1, WithCorrelationID("corr-1"))
	assert.Equal(t, "corr-1", withCorr.CorrelationID())
}

func TestBus_DeliversByType(t *testing.T) {
	bus := NewBus(BusConfig{})

	costs, all := &collector{}, &collector{}
	_, err := bus.Subscribe(costs, "cost.recorded")
	require.NoError(t, err)
	_, err = bus.Subscribe(all)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, New("cost.recorded", "s", 1)))
	require.NoError(t, bus.Publish(ctx, New("workflow.completed", "s", 2)))
	require.NoError(t, bus.Close())

	assert.Equal(t, 1, costs.len())
	assert.Equal(t, 2, all.len())
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(BusConfig{})
	c := &collector{}
	_, err := bus.Subscribe(c)
	require.NoError(t, err)

	for i := range 20 {
		require.NoError(t, bus.Publish(context.Background(), New("n", "s", i)))
	}
	require.NoError(t, bus.Close())

	require.Len(t, c.events, 20)
	for i, evt := range c.events {
		assert.Equal(t, i, evt.Data())
	}
}

func TestBus_TypedHandler(t *testing.T) {
	bus := NewBus(BusConfig{})
	var got []costPayload
	var mu sync.Mutex
	_, err := bus.Subscribe(Typed(func(_ context.Context, p costPayload, meta Metadata) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, New("cost.recorded", "s", costPayload{Node: "screen", Tokens: 3})))
	require.NoError(t, bus.Publish(ctx, New("other", "s", "not a cost")))
	require.NoError(t, bus.Close())

	assert.Equal(t, []costPayload{{Node: "screen", Tokens: 3}}, got)
}

func TestBus_HandlerErrorsReported(t *testing.T) {
	errCh := make(chan error, 1)
	bus := NewBus(BusConfig{OnError: func(_ Event, _ string, err error) { errCh <- err }})
	boom := errors.New("boom")
	_, err := bus.Subscribe(HandlerFunc(func(context.Context, Event) error { return boom }))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), New("x", "s", 0)))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("handler error not reported")
	}
	require.NoError(t, bus.Close())
}

func TestBus_NonBlockingDrops(t *testing.T) {
	release := make(chan struct{})
	var dropped sync.WaitGroup
	dropped.Add(1)
	var once sync.Once

	bus := NewBus(BusConfig{
		BufferSize:  1,
		NonBlocking: true,
		OnDrop:      func(Event, string) { once.Do(dropped.Done) },
	})
	_, err := bus.Subscribe(HandlerFunc(func(context.Context, Event) error {
		<-release
		return nil
	}))
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, bus.Publish(context.Background(), New("x", "s", i)))
	}
	dropped.Wait()
	close(release)
	require.NoError(t, bus.Close())
}

func TestBus_ClosedAndLimits(t *testing.T) {
	bus := NewBus(BusConfig{MaxSubscribers: 1})
	_, err := bus.Subscribe(&collector{})
	require.NoError(t, err)
	_, err = bus.Subscribe(&collector{})
	assert.ErrorIs(t, err, ErrTooManySubscribers)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err = bus.Publish(context.Background(), New("x", "s", 0))
	assert.ErrorIs(t, err, ErrBusClosed)
	_, err = bus.Subscribe(&collector{})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestSubscription_Unsubscribe(t *testing.T) {
	bus := NewBus(BusConfig{})
	c := &collector{}
	sub, err := bus.Subscribe(c)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), New("x", "s", 0)))
	require.NoError(t, bus.Close())

	assert.Zero(t, c.len())
}
