package pubsub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// EventType is the type of event subscribers are listening for
type EventType int

// SubscriptionOptions configures the behavior of a subscription
type SubscriptionOptions struct {
	// If true, the broker blocks until the subscriber's channel accepts the event. This guarantees delivery but one
	// slow subscriber then stalls the whole bus, so it should generally be false.
	IsBlocking bool
}

const publishBufferSize = 100

// SubscriberID identifies a single subscription and is required to unsubscribe
type SubscriberID uint64

var nextSubscriberID uint64

// Event is a published event with a typed payload. Event[string] and Event[int] are distinct types.
type Event[T any] struct {
	Type    EventType
	Payload T
}

func NewEvent[T any](eventType EventType, payload T) *Event[T] {
	return &Event[T]{
		Type:    eventType,
		Payload: payload,
	}
}

// subscriber is the type-erased form of a typed subscription. The closures capture the typed channel, so channels of
// different Event[T] types can live in one registry and the type assertion happens once per delivery, inside
// sendFunc, instead of in every caller.
type subscriber struct {
	// sendFunc delivers the payload and reports false when it was dropped
	sendFunc  func(eventType EventType, payload any) bool
	closeFunc func()

	Options    SubscriptionOptions
	NumDropped atomic.Uint64
}

type published struct {
	eventType EventType
	payload   any
}

// PubSubClient is a thread-safe in-process event bus. A single run() goroutine fans each published event out to the
// subscribers of its type.
type PubSubClient struct {
	mu sync.RWMutex
	// Used to wait for the run() goroutine to finish
	wg sync.WaitGroup

	registry map[EventType]map[SubscriberID]*subscriber

	// Buffered so that Publish returns without waiting for the fan-out of the previous event. The buffer is drained
	// on shutdown. It is never closed, done signals the shutdown instead.
	publishChan chan published
	done        chan struct{}
	stopOnce    sync.Once

	shuttingDown atomic.Bool

	logger *zap.SugaredLogger
}

// NewPubSub starts a new bus. A nil logger disables logging.
func NewPubSub(logger *zap.SugaredLogger) *PubSubClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &PubSubClient{
		registry:    make(map[EventType]map[SubscriberID]*subscriber),
		publishChan: make(chan published, publishBufferSize),
		done:        make(chan struct{}),
		logger:      logger.Named("pubsub"),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Subscribe registers ch for events of eventType. The caller owns the buffer size of ch. The channel is closed on
// Unsubscribe.
//
// Go methods cannot declare type parameters, so Subscribe and Publish are generic free functions taking the client,
// the same way slices.Sort takes its slice.
func Subscribe[T any](p *PubSubClient, eventType EventType, ch chan *Event[T], opts SubscriptionOptions) SubscriberID {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := SubscriberID(atomic.AddUint64(&nextSubscriberID, 1))

	sub := &subscriber{
		Options: opts,
		sendFunc: func(evType EventType, payload any) bool {
			typedPayload, ok := payload.(T)
			if !ok {
				p.logger.Warnw("payload type mismatch", "event", evType, "expected", *new(T), "got", payload)
				return false
			}

			event := &Event[T]{Type: evType, Payload: typedPayload}
			if opts.IsBlocking {
				ch <- event
				return true
			}
			select {
			case ch <- event:
				return true
			default:
				// Drop rather than stall the bus
				return false
			}
		},
		closeFunc: func() {
			close(ch)
		},
	}

	if _, ok := p.registry[eventType]; !ok {
		p.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	p.registry[eventType][id] = sub
	return id
}

// Unsubscribe removes a subscriber and closes its channel
func (p *PubSubClient) Unsubscribe(eventType EventType, id SubscriberID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subscribers, ok := p.registry[eventType]
	if !ok {
		return
	}
	sub, ok := subscribers[id]
	if !ok {
		return
	}

	delete(subscribers, id)
	sub.closeFunc()
	if len(subscribers) == 0 {
		delete(p.registry, eventType)
	}
	p.logger.Debugw("unsubscribed", "subscriber", id, "event", eventType)
}

// Dropped returns how many events a non-blocking subscriber missed because its channel was full
func (p *PubSubClient) Dropped(eventType EventType, id SubscriberID) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if sub, ok := p.registry[eventType][id]; ok {
		return sub.NumDropped.Load()
	}
	return 0
}

// Publish queues an event for delivery. It blocks while the buffer is full, without holding the registry lock, so
// run() can keep draining. Events published after shutdown started are dropped.
func Publish[T any](p *PubSubClient, event *Event[T]) {
	if p.shuttingDown.Load() {
		p.logger.Debugw("dropping event published during shutdown", "event", event.Type)
		return
	}

	select {
	case p.publishChan <- published{eventType: event.Type, payload: event.Payload}:
	case <-p.done:
		p.logger.Debugw("dropping event published during shutdown", "event", event.Type)
	}
}

// ForceShutdown stops accepting events and returns immediately. Buffered events may still be delivered.
func (p *PubSubClient) ForceShutdown() {
	p.stop()
}

// GracefulShutdown stops accepting events and blocks until every buffered event has been delivered
func (p *PubSubClient) GracefulShutdown() {
	p.stop()
	p.wg.Wait()
	p.logger.Debug("bus drained and stopped")
}

func (p *PubSubClient) stop() {
	p.stopOnce.Do(func() {
		p.shuttingDown.Store(true)
		close(p.done)
	})
}

func (p *PubSubClient) run() {
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.publishChan:
			p.deliver(msg)
		case <-p.done:
			// Deliver what was queued before the shutdown
			for {
				select {
				case msg := <-p.publishChan:
					p.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *PubSubClient) deliver(msg published) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, sub := range p.registry[msg.eventType] {
		if sent := sub.sendFunc(msg.eventType, msg.payload); !sent && !sub.Options.IsBlocking {
			dropped := sub.NumDropped.Add(1)
			p.logger.Warnw("dropped event for slow subscriber",
				"event", msg.eventType, "subscriber", id, "dropped_total", dropped)
		}
	}
}
