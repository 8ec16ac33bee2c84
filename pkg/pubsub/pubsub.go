// Package pubsub is the in-process topic fabric for lobby, room, and game
// events. Delivery is fan-out to per-subscriber buffered channels: messages
// published to one topic reach every subscriber in publish order, a full
// subscriber queue drops the message (consumers reconcile through state
// fetches), and cross-topic ordering is not guaranteed.
package pubsub

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/decred/slog"
)

// Topic names.
const lobbyTopic = "lobby:updates"

// LobbyTopic returns the public room-list topic.
func LobbyTopic() string { return lobbyTopic }

// RoomTopic returns the seating/status topic for one room.
func RoomTopic(code string) string { return fmt.Sprintf("room:%s", code) }

// GameTopic returns the state-update topic for one room's game.
func GameTopic(code string) string { return fmt.Sprintf("game:%s", code) }

// DefaultBuffer is the per-subscriber queue depth when none is configured.
const DefaultBuffer = 64

// Message is one published event.
type Message struct {
	Topic   string
	Payload interface{}
}

// Subscription is one subscriber's handle on a topic. Receive from C;
// Cancel detaches and closes C.
type Subscription struct {
	id    uint64
	topic string
	ch    chan Message
	bus   *Bus
	once  sync.Once
}

// C returns the receive channel. It is closed by Cancel.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string {
	return s.topic
}

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once and safe against concurrent publishes.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

type topicState struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
	// insertion order, so fan-out is deterministic
	order []uint64
}

// Bus routes messages between topics and subscribers.
type Bus struct {
	log    slog.Logger
	buffer int

	mu     sync.RWMutex
	topics map[string]*topicState

	nextID uint64
}

// NewBus creates a bus with the given per-subscriber buffer depth.
func NewBus(log slog.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		log:    log,
		buffer: buffer,
		topics: make(map[string]*topicState),
	}
}

// Subscribe attaches a new subscriber to a topic. Topics are created on
// first use; any actor may subscribe to any topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		id:    atomic.AddUint64(&b.nextID, 1),
		topic: topic,
		ch:    make(chan Message, b.buffer),
		bus:   b,
	}

	// Insert while still holding the bus lock so an empty-topic reap cannot
	// slip between the lookup and the insert.
	b.mu.Lock()
	ts, ok := b.topics[topic]
	if !ok {
		ts = &topicState{subs: make(map[uint64]*Subscription)}
		b.topics[topic] = ts
	}
	ts.mu.Lock()
	ts.subs[sub.id] = sub
	ts.order = append(ts.order, sub.id)
	ts.mu.Unlock()
	b.mu.Unlock()

	return sub
}

// Publish delivers a payload to every current subscriber of the topic.
// The topic lock is held across the fan-out, so all subscribers observe
// publishes to one topic in the same order. A subscriber whose queue is
// full misses the message.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	ts, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return
	}

	msg := Message{Topic: topic, Payload: payload}

	ts.mu.Lock()
	for _, id := range ts.order {
		sub, ok := ts.subs[id]
		if !ok {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.log.Warnf("Subscriber %d on %s is full, dropping %T", id, topic, payload)
		}
	}
	ts.mu.Unlock()
}

// Subscribers returns the number of current subscribers on a topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	ts, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs)
}

// Topics returns the number of live topics.
func (b *Bus) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	ts, ok := b.topics[sub.topic]
	b.mu.Unlock()
	if !ok {
		close(sub.ch)
		return
	}

	ts.mu.Lock()
	delete(ts.subs, sub.id)
	for i, id := range ts.order {
		if id == sub.id {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			break
		}
	}
	empty := len(ts.subs) == 0
	// Close under the topic lock so a concurrent Publish cannot send on a
	// closed channel.
	close(sub.ch)
	ts.mu.Unlock()

	if empty {
		b.mu.Lock()
		if cur, ok := b.topics[sub.topic]; ok {
			cur.mu.Lock()
			if len(cur.subs) == 0 {
				delete(b.topics, sub.topic)
			}
			cur.mu.Unlock()
		}
		b.mu.Unlock()
	}
}
