// Package realtime holds the in-process publish/subscribe boundary that pushes
// delivery payloads to live sessions. Publishing never blocks; a session that
// cannot keep up drops payloads and reconciles through the durable stores.
package realtime

import (
	"context"
	"sync"
	"time"
)

// TopicKind namespaces the per-user delivery queues.
type TopicKind string

const (
	// TopicKindInbox carries new messages and send confirmations.
	TopicKindInbox TopicKind = "inbox"
	// TopicKindReceipts carries read receipts back to message senders.
	TopicKindReceipts TopicKind = "receipts"
	// TopicKindPresence carries online/offline status changes; it is a
	// broadcast topic with no owning user.
	TopicKindPresence TopicKind = "presence"
)

const (
	// EventMessageCreated announces a newly persisted message.
	EventMessageCreated = "message-created"
	// EventReadReceipt announces a bulk read-mark by the receiver.
	EventReadReceipt = "read-receipt"
	// EventPresenceChanged announces an online/offline transition.
	EventPresenceChanged = "presence-changed"
)

// Topic addresses a delivery queue. Presence uses the broadcast topic with an
// empty user id; every other kind is owned by exactly one user.
type Topic struct {
	Kind   TopicKind
	UserID string
}

// InboxTopic returns the message-inbox topic for a user.
func InboxTopic(userID string) Topic {
	return Topic{Kind: TopicKindInbox, UserID: userID}
}

// ReceiptTopic returns the read-receipt topic for a user.
func ReceiptTopic(userID string) Topic {
	return Topic{Kind: TopicKindReceipts, UserID: userID}
}

// PresenceTopic returns the shared presence broadcast topic.
func PresenceTopic() Topic {
	return Topic{Kind: TopicKindPresence}
}

// Envelope is the unit of delivery. EntityID always carries the durable entity
// id so receivers can detect duplicate pushes.
type Envelope struct {
	Topic     Topic
	Event     string
	EntityID  string
	Body      any
	Timestamp time.Time
}

// Dispatcher fans envelopes out to the subscribers of each topic.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Envelope
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[Topic]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers one stream across the given topics. The stream is
// unregistered when ctx is cancelled or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, topics ...Topic) (<-chan Envelope, func()) {
	valid := make([]Topic, 0, len(topics))
	for _, topic := range topics {
		if topic.Kind == "" {
			continue
		}
		if topic.Kind != TopicKindPresence && topic.UserID == "" {
			continue
		}
		valid = append(valid, topic)
	}
	if len(valid) == 0 {
		ch := make(chan Envelope)
		close(ch)
		return ch, func() {}
	}

	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Envelope, d.bufferSize),
	}
	d.register(valid, sub)
	cleanup := func() {
		d.unregister(valid, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the envelope to every current subscriber of its topic.
// Streams that are full are skipped rather than blocked on.
func (d *Dispatcher) Publish(envelope Envelope) {
	if envelope.Topic.Kind == "" || envelope.Event == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[envelope.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- envelope:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(topics []Topic, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, topic := range topics {
		if _, ok := d.subscribers[topic]; !ok {
			d.subscribers[topic] = make(map[int64]*subscriber)
		}
		d.subscribers[topic][sub.id] = sub
	}
}

func (d *Dispatcher) unregister(topics []Topic, subscriberID int64) {
	d.mu.Lock()
	for _, topic := range topics {
		subscribers := d.subscribers[topic]
		if subscribers == nil {
			continue
		}
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
