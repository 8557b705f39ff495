// Package broker implements the real-time fan-out channel: every emitted event
// is delivered to every currently connected subscriber, best effort, with no
// queuing for disconnected clients. The channel is global, events are not
// scoped to room membership.
package broker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// sendBuffer is the per-subscriber queue size; a subscriber that falls this far
// behind is dropped instead of blocking the hub.
const sendBuffer = 256

// Event is the wire envelope for everything going through the hub.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

// Subscriber is one receiver of the event stream. Its channel is closed when
// the subscriber is removed or the hub shuts down.
type Subscriber struct {
	send chan []byte
}

// C returns the channel delivering marshaled events to this subscriber.
func (s *Subscriber) C() <-chan []byte {
	return s.send
}

// Hub coordinates subscriber registration and event broadcast. All state is
// owned by the Run loop; Subscribe, Unsubscribe and Emit are safe to call from
// any goroutine and become no-ops once Run has returned.
type Hub struct {
	logger      *zap.SugaredLogger
	subscribers map[*Subscriber]bool
	broadcast   chan []byte
	register    chan *Subscriber
	unregister  chan *Subscriber
	done        chan struct{}
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan []byte),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
	}
}

// Run drives the hub until ctx is canceled, then closes every subscriber
// channel and returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case sub := <-h.register:
			h.subscribers[sub] = true
			h.logger.Debugf("Subscriber registered, %d connected", len(h.subscribers))
		case sub := <-h.unregister:
			h.drop(sub)
		case payload := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.send <- payload:
				default:
					// subscriber is not keeping up
					h.drop(sub)
				}
			}
		case <-ctx.Done():
			for sub := range h.subscribers {
				h.drop(sub)
			}
			return
		}
	}
}

func (h *Hub) drop(sub *Subscriber) {
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
	h.logger.Debugf("Subscriber removed, %d connected", len(h.subscribers))
}

// Subscribe attaches a new subscriber to the event stream. After shutdown the
// returned subscriber's channel is already closed.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.send)
	}

	return sub
}

// Unsubscribe detaches sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Emit marshals the event and queues it for delivery to all current
// subscribers. A payload that cannot be marshaled is logged and dropped.
func (h *Hub) Emit(event string, payload interface{}) {
	b, err := json.Marshal(Event{Name: event, Data: payload})
	if err != nil {
		h.logger.Errorf("marshaling %q event: %v", event, err)
		return
	}

	select {
	case h.broadcast <- b:
	case <-h.done:
	}
}
