// Package presence tracks which users currently hold at least one live
// real-time session.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/proconnect/backend/internal/realtime"
)

// Status labels the two presence states carried by broadcasts.
type Status string

const (
	// StatusOnline is broadcast when a user's first session opens.
	StatusOnline Status = "ONLINE"
	// StatusOffline is broadcast when a user's last session closes.
	StatusOffline Status = "OFFLINE"
)

// StatusChange is the broadcast payload for a presence transition.
type StatusChange struct {
	UserID string `json:"user_id"`
	Status Status `json:"status"`
}

// Publisher pushes presence transitions to live sessions.
type Publisher interface {
	Publish(envelope realtime.Envelope)
}

// TrackerConfig describes the collaborators of the tracker.
type TrackerConfig struct {
	Publisher Publisher
	Clock     func() time.Time
}

// Tracker reference-counts live sessions per user. A user with several open
// sessions stays online until the last one closes; ONLINE is broadcast only on
// the 0->1 transition and OFFLINE only on 1->0.
type Tracker struct {
	entries   sync.Map
	publisher Publisher
	clock     func() time.Time
}

// sessionEntry guards the per-user session count. dead marks an entry that was
// removed from the registry while a concurrent Connect held a stale pointer.
type sessionEntry struct {
	mu       sync.Mutex
	sessions int
	dead     bool
}

// NewTracker constructs an empty tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		publisher: cfg.Publisher,
		clock:     clock,
	}
}

// Connect records one live session for the user. Idempotent across sessions:
// only a genuine 0->1 transition broadcasts ONLINE.
func (t *Tracker) Connect(userID string) {
	if userID == "" {
		return
	}
	for {
		value, _ := t.entries.LoadOrStore(userID, &sessionEntry{})
		entry := value.(*sessionEntry)
		entry.mu.Lock()
		if entry.dead {
			entry.mu.Unlock()
			continue
		}
		entry.sessions++
		first := entry.sessions == 1
		entry.mu.Unlock()
		if first {
			t.broadcast(userID, StatusOnline)
		}
		return
	}
}

// Disconnect records one closed session for the user. Disconnecting an unknown
// or already-offline user is a no-op; only the 1->0 transition broadcasts
// OFFLINE.
func (t *Tracker) Disconnect(userID string) {
	value, ok := t.entries.Load(userID)
	if !ok {
		return
	}
	entry := value.(*sessionEntry)
	entry.mu.Lock()
	if entry.dead || entry.sessions == 0 {
		entry.mu.Unlock()
		return
	}
	entry.sessions--
	last := entry.sessions == 0
	if last {
		entry.dead = true
		t.entries.Delete(userID)
	}
	entry.mu.Unlock()
	if last {
		t.broadcast(userID, StatusOffline)
	}
}

// IsOnline reports whether the user has at least one live session.
func (t *Tracker) IsOnline(userID string) bool {
	value, ok := t.entries.Load(userID)
	if !ok {
		return false
	}
	entry := value.(*sessionEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.sessions > 0
}

// Snapshot returns a point-in-time copy of the online user ids, sorted for
// deterministic iteration. Later transitions never mutate the returned slice.
func (t *Tracker) Snapshot() []string {
	online := make([]string, 0)
	t.entries.Range(func(key, value any) bool {
		entry := value.(*sessionEntry)
		entry.mu.Lock()
		live := entry.sessions > 0
		entry.mu.Unlock()
		if live {
			online = append(online, key.(string))
		}
		return true
	})
	sort.Strings(online)
	return online
}

func (t *Tracker) broadcast(userID string, status Status) {
	if t.publisher == nil {
		return
	}
	t.publisher.Publish(realtime.Envelope{
		Topic:     realtime.PresenceTopic(),
		Event:     realtime.EventPresenceChanged,
		EntityID:  userID,
		Body:      StatusChange{UserID: userID, Status: status},
		Timestamp: t.clock().UTC(),
	})
}
