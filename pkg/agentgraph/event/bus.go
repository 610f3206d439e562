package event

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the queue length per subscription. Default: 256.
	BufferSize int

	// MaxSubscribers limits subscriptions. Zero means unlimited.
	MaxSubscribers int

	// NonBlocking drops events for subscribers whose queue is full instead
	// of waiting.
	NonBlocking bool

	// OnDrop is called for every dropped delivery.
	OnDrop func(evt Event, subscriberID string)

	// OnError is called when a handler fails. Default: log at Warn.
	OnError func(evt Event, subscriberID string, err error)
}

// LocalBus delivers events to subscribers on one goroutine per
// subscription, preserving publish order per subscriber.
type LocalBus struct {
	cfg BusConfig

	mu     sync.RWMutex
	subs   map[string]*Subscription
	nextID atomic.Int64
	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewBus creates a bus.
func NewBus(cfg BusConfig) *LocalBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.OnError == nil {
		cfg.OnError = func(evt Event, id string, err error) {
			slog.Warn("event handler failed",
				"event_type", evt.Type(),
				"event_id", evt.ID(),
				"subscriber", id,
				"error", err,
			)
		}
	}
	return &LocalBus{
		cfg:  cfg,
		subs: make(map[string]*Subscription),
		done: make(chan struct{}),
	}
}

// Subscription is an active subscriber.
type Subscription struct {
	id      string
	types   map[string]bool
	handler Handler
	queue   chan Event
	stop    chan struct{}
	once    sync.Once
	bus     *LocalBus
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

func (s *Subscription) matches(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Unsubscribe stops delivery. Queued events are discarded.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.once.Do(func() { close(s.stop) })
}

// Subscribe registers handler for the given event types; no types means all.
func (b *LocalBus) Subscribe(handler Handler, types ...string) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.MaxSubscribers > 0 && len(b.subs) >= b.cfg.MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	sub := &Subscription{
		id:      "sub-" + strconv.FormatInt(b.nextID.Add(1), 10),
		types:   make(map[string]bool, len(types)),
		handler: handler,
		queue:   make(chan Event, b.cfg.BufferSize),
		stop:    make(chan struct{}),
		bus:     b,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.deliver(sub)

	return sub, nil
}

// Publish enqueues evt for every matching subscriber.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &Error{EventID: evt.ID(), EventType: evt.Type(), Err: ErrBusClosed}
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(evt.Type()) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if b.cfg.NonBlocking {
			select {
			case s.queue <- evt:
			default:
				if b.cfg.OnDrop != nil {
					b.cfg.OnDrop(evt, s.id)
				}
			}
			continue
		}

		select {
		case s.queue <- evt:
		case <-s.stop:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return &Error{EventID: evt.ID(), EventType: evt.Type(), Err: ErrBusClosed}
		}
	}
	return nil
}

// Close stops accepting events, delivers what is already queued and waits
// for the subscriber goroutines to exit.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.done)
	b.wg.Wait()
	return nil
}

func (b *LocalBus) deliver(s *Subscription) {
	defer b.wg.Done()

	handle := func(evt Event) {
		if err := s.handler.Handle(context.Background(), evt); err != nil {
			b.cfg.OnError(evt, s.id, err)
		}
	}

	for {
		select {
		case evt := <-s.queue:
			handle(evt)
		case <-s.stop:
			return
		case <-b.done:
			for {
				select {
				case evt := <-s.queue:
					handle(evt)
				default:
					return
				}
			}
		}
	}
}
