package feed

import (
	"context"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
)

// Event kinds.
const (
	KindScan    = "scan"
	KindChat    = "chat"
	KindRevoked = "revoked"
)

// busTopic is the single EventBus topic every event travels on; the hub
// routes by Event.Topic itself.
const busTopic = "feed"

// Event notifies subscribers that an owner's collection changed.
type Event struct {
	Topic  string    `json:"topic"`
	Kind   string    `json:"kind"`
	Owner  string    `json:"owner"`
	At     time.Time `json:"at"`
	Origin string    `json:"origin,omitempty"`
}

// ScanTopic is the topic of an owner's scan history.
func ScanTopic(owner string) string { return "scans:" + owner }

// ChatTopic is the topic of an owner's chat transcript.
func ChatTopic(owner string) string { return "chats:" + owner }

// SessionTopic carries the end of a signed-in session.
func SessionTopic(sessionID string) string { return "sessions:" + sessionID }

// Forwarder ships locally published events to other instances.
type Forwarder interface {
	Forward(ctx context.Context, ev Event) error
}

// Hub fans events out to subscribers of a topic.
type Hub struct {
	bus evbus.Bus
	log zerolog.Logger

	mu        sync.RWMutex
	subs      map[string]map[*Subscription]struct{}
	forwarder Forwarder
}

// NewHub creates a hub with no relay attached.
func NewHub() *Hub {
	h := &Hub{
		bus:  evbus.New(),
		log:  logging.For("feed"),
		subs: make(map[string]map[*Subscription]struct{}),
	}
	// registered once; EventBus cannot tell closures apart on unsubscribe
	if err := h.bus.Subscribe(busTopic, h.dispatch); err != nil {
		panic(err)
	}
	return h
}

// Attach sets the forwarder used by Publish.
func (h *Hub) Attach(f Forwarder) {
	h.mu.Lock()
	h.forwarder = f
	h.mu.Unlock()
}

// Publish delivers ev locally and forwards it when a relay is attached.
// Forwarding failures are logged, never returned to the writer.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.Deliver(ev)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f == nil {
		return
	}
	if err := f.Forward(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("topic", ev.Topic).Msg("failed to forward feed event")
	}
}

// Deliver dispatches ev to local subscribers only.
func (h *Hub) Deliver(ev Event) {
	h.bus.Publish(busTopic, ev)
}

// Subscribe registers interest in topic until ctx ends or Cancel is called.
func (h *Hub) Subscribe(ctx context.Context, topic string) *Subscription {
	ch := make(chan Event, 1)
	sub := &Subscription{C: ch, ch: ch, hub: h, topic: topic}

	h.mu.Lock()
	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	context.AfterFunc(ctx, sub.Cancel)
	return sub
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) dispatch(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.Topic] {
		sub.notify(ev)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.topic]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.topic)
	}
}

// Subscription receives change events. C holds at most one pending event;
// a newer event replaces an undrained one. C is closed after Cancel.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	hub   *Hub
	topic string
	once  sync.Once
}

// Cancel ends the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

func (s *Subscription) notify(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}
