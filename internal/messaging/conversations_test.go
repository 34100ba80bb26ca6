package messaging

import (
	"context"
	"testing"
	"time"
)

func TestConversationListTwoTierOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// bob talks to alice and carol, and is connected to dave and erin who
	// have never exchanged a message.
	h.graph.connect("bob", "carol")
	h.graph.connect("bob", "alice")
	h.graph.connect("bob", "erin")
	h.graph.connect("bob", "dave")

	if _, err := h.service.SendMessage(ctx, "carol", "bob", "early"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.clock.Advance(time.Hour)
	if _, err := h.service.SendMessage(ctx, "alice", "bob", "late"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summaries, err := h.service.ConversationList(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 4 {
		t.Fatalf("expected 4 summaries, got %d", len(summaries))
	}

	order := []string{
		summaries[0].Peer.ID,
		summaries[1].Peer.ID,
		summaries[2].Peer.ID,
		summaries[3].Peer.ID,
	}
	// alice (latest message) before carol, then the message-less peers
	// alphabetically regardless of name casing.
	expected := []string{"alice", "carol", "dave", "erin"}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("unexpected order %v, expected %v", order, expected)
		}
	}

	if summaries[0].LastMessage == nil || summaries[0].LastMessage.Content != "late" {
		t.Fatalf("expected latest message content, got %+v", summaries[0].LastMessage)
	}
	if summaries[0].LastMessageAt == nil {
		t.Fatal("expected last message timestamp for active conversation")
	}
	if summaries[2].LastMessage != nil || summaries[3].LastMessage != nil {
		t.Fatal("expected no message data for message-less peers")
	}
}

func TestConversationListCarriesUnreadAndPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.graph.connect("bob", "alice")
	h.presence.online["alice"] = true

	if _, err := h.service.SendMessage(ctx, "alice", "bob", "ping"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.service.SendMessage(ctx, "alice", "bob", "pong"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summaries, err := h.service.ConversationList(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].UnreadCount != 2 {
		t.Fatalf("expected 2 unread from alice, got %d", summaries[0].UnreadCount)
	}
	if !summaries[0].IsOnline {
		t.Fatal("expected alice to be reported online")
	}

	if _, err := h.service.MarkAsRead(ctx, "bob", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summaries, err = h.service.ConversationList(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summaries[0].UnreadCount != 0 {
		t.Fatalf("expected unread count reset after mark-read, got %d", summaries[0].UnreadCount)
	}
}

func TestConversationListSkipsDanglingDirectoryEdges(t *testing.T) {
	h := newHarness(t)
	h.graph.connect("bob", "alice")
	h.graph.peers["bob"] = append(h.graph.peers["bob"], "ghost")

	summaries, err := h.service.ConversationList(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Peer.ID != "alice" {
		t.Fatalf("expected ghost edge to be skipped, got %+v", summaries)
	}
}

func TestConversationListEmptyForUnconnectedUser(t *testing.T) {
	h := newHarness(t)

	summaries, err := h.service.ConversationList(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(summaries))
	}
}
