package eventhub

import (
	"context"
	"errors"
	"sync"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"go.uber.org/zap"
)

// Subscriber is an in-process consumer of drained domain events.
type Subscriber struct {
	ID     string
	Events chan entity.DomainEvent
	kinds  map[entity.EventKind]bool
}

func (s *Subscriber) wants(kind entity.EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// Sink forwards events out of the process, e.g. to redis pub/sub.
type Sink interface {
	Publish(ctx context.Context, event entity.DomainEvent) error
}

// Hub fans drained domain events out to subscribers and sinks. Delivery to
// subscribers never blocks: a full buffer drops the event for that subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	sinks       []Sink
	log         *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		log:         log.Named("eventhub"),
	}
}

// Subscribe registers a subscriber for the given kinds (all kinds when none are given).
func (h *Hub) Subscribe(id string, buffer int, kinds ...entity.EventKind) *Subscriber {
	s := &Subscriber{
		ID:     id,
		Events: make(chan entity.DomainEvent, buffer),
		kinds:  make(map[entity.EventKind]bool, len(kinds)),
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.subscribers[id]; ok {
		close(old.Events)
	}
	h.subscribers[id] = s
	h.log.Info("subscriber registered", zap.String("id", id), zap.Int("total", len(h.subscribers)))
	return s
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subscribers[id]; ok {
		close(s.Events)
		delete(h.subscribers, id)
		h.log.Info("subscriber unregistered", zap.String("id", id), zap.Int("total", len(h.subscribers)))
	}
}

func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Dispatch delivers events in order. Sink failures are logged and returned
// joined; they never stop delivery of the remaining events. Sinks are called
// after the lock is released so a slow broker does not block Subscribe.
func (h *Hub) Dispatch(ctx context.Context, events []entity.DomainEvent) error {
	h.mu.RLock()
	for _, e := range events {
		for _, s := range h.subscribers {
			if !s.wants(e.Kind) {
				continue
			}
			select {
			case s.Events <- e:
			default:
				h.log.Warn("subscriber buffer full, dropping event",
					zap.String("subscriber", s.ID),
					zap.String("kind", string(e.Kind)),
					zap.String("aggregate_id", e.AggregateID))
			}
		}
	}
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()

	var errs []error
	for _, e := range events {
		for _, sink := range sinks {
			if err := sink.Publish(ctx, e); err != nil {
				h.log.Error("publish event", zap.String("kind", string(e.Kind)), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close unregisters every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subscribers {
		close(s.Events)
		delete(h.subscribers, id)
	}
}
