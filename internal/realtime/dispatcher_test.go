package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, InboxTopic("user-1"))
	defer cleanup()

	dispatcher.Publish(Envelope{
		Topic:     InboxTopic("user-1"),
		Event:     EventMessageCreated,
		EntityID:  "msg-1",
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.Event != EventMessageCreated {
			t.Fatalf("expected event %s, got %s", EventMessageCreated, received.Event)
		}
		if received.EntityID != "msg-1" {
			t.Fatalf("expected entity id msg-1, got %s", received.EntityID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected envelope within deadline")
	}
}

func TestDispatcherIsolatesTopicsByUser(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userStream, cleanup := dispatcher.Subscribe(ctx, InboxTopic("user-2"))
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, InboxTopic("user-3"))
	defer otherCleanup()

	dispatcher.Publish(Envelope{
		Topic:    InboxTopic("user-3"),
		Event:    EventMessageCreated,
		EntityID: "msg-2",
	})

	select {
	case <-userStream:
		t.Fatal("did not expect envelope for unrelated user")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case envelope := <-otherStream:
		if envelope.Topic.UserID != "user-3" {
			t.Fatalf("expected user-3 topic, got %s", envelope.Topic.UserID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected envelope for subscribed user")
	}
}

func TestDispatcherBroadcastsPresenceToAllSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, firstCleanup := dispatcher.Subscribe(ctx, PresenceTopic())
	defer firstCleanup()
	second, secondCleanup := dispatcher.Subscribe(ctx, PresenceTopic())
	defer secondCleanup()

	dispatcher.Publish(Envelope{
		Topic:    PresenceTopic(),
		Event:    EventPresenceChanged,
		EntityID: "user-9",
	})

	for _, stream := range []<-chan Envelope{first, second} {
		select {
		case envelope := <-stream:
			if envelope.EntityID != "user-9" {
				t.Fatalf("expected presence change for user-9, got %s", envelope.EntityID)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected presence broadcast on every stream")
		}
	}
}

func TestSubscribeWithoutValidTopicsReturnsClosedStream(t *testing.T) {
	dispatcher := NewDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), Topic{Kind: TopicKindInbox})
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatal("expected closed stream for invalid subscription")
	}
}

func TestCancelledContextUnregistersSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, InboxTopic("user-4"))
	defer cleanup()
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers)
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected subscriber map to drain after context cancellation")
}
