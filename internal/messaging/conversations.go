package messaging

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/proconnect/backend/internal/faults"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// PeerInfo carries the display fields of a conversation partner.
type PeerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Profession string `json:"profession"`
	AvatarURL  string `json:"avatar_url"`
}

// ConversationSummary is the derived per-peer entry of the conversation list.
// It is recomputed on every query and never persisted.
type ConversationSummary struct {
	Peer          PeerInfo   `json:"peer"`
	LastMessage   *Message   `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`
	IsOnline      bool       `json:"is_online"`
}

// ConversationList merges the user's accepted connections with the latest
// message per peer, the unread count from each peer, and live presence.
// Peers with message history sort first by last send time descending; peers
// without history follow, ordered by display name case-insensitively.
func (s *Service) ConversationList(ctx context.Context, userID string) ([]ConversationSummary, error) {
	peerIDs, err := s.graph.AcceptedPeerIDs(ctx, userID)
	if err != nil {
		s.logError(opConversationList, "peer_lookup_failed", err, zap.String("user_id", userID))
		return nil, faults.Internal(opConversationList, "peer_lookup_failed", err)
	}

	summaries := make([]ConversationSummary, 0, len(peerIDs))
	for _, peerID := range lo.Uniq(peerIDs) {
		peer, err := s.directory.UserByID(ctx, peerID)
		if err != nil {
			if faults.IsKind(err, faults.KindNotFound) {
				// Dangling graph edge; skip the peer rather than fail the list.
				s.logger.Warn("conversation peer missing from directory",
					zap.String("operation", opConversationList),
					zap.String("peer_id", peerID))
				continue
			}
			s.logError(opConversationList, "directory_lookup_failed", err, zap.String("peer_id", peerID))
			return nil, faults.Internal(opConversationList, "directory_lookup_failed", err)
		}

		lastMessage, err := s.lastMessageBetween(ctx, userID, peerID)
		if err != nil {
			s.logError(opConversationList, "last_message_failed", err, zap.String("peer_id", peerID))
			return nil, faults.Internal(opConversationList, "last_message_failed", err)
		}

		unread, err := s.UnreadCountFrom(ctx, userID, peerID)
		if err != nil {
			return nil, err
		}

		summary := ConversationSummary{
			Peer: PeerInfo{
				ID:         peer.ID,
				Name:       peer.Name,
				Email:      peer.Email,
				Profession: peer.Profession,
				AvatarURL:  peer.AvatarURL,
			},
			LastMessage: lastMessage,
			UnreadCount: unread,
		}
		if lastMessage != nil {
			sentAt := lastMessage.SentAt
			summary.LastMessageAt = &sentAt
		}
		if s.presence != nil {
			summary.IsOnline = s.presence.IsOnline(peerID)
		}
		summaries = append(summaries, summary)
	}

	sortSummaries(summaries)
	return summaries, nil
}

// sortSummaries applies the two-tier ordering: active conversations first by
// recency, then message-less connections alphabetically.
func sortSummaries(summaries []ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		left, right := summaries[i], summaries[j]
		switch {
		case left.LastMessage != nil && right.LastMessage == nil:
			return true
		case left.LastMessage == nil && right.LastMessage != nil:
			return false
		case left.LastMessage != nil && right.LastMessage != nil:
			if !left.LastMessage.SentAt.Equal(right.LastMessage.SentAt) {
				return left.LastMessage.SentAt.After(right.LastMessage.SentAt)
			}
			return left.LastMessage.ID > right.LastMessage.ID
		default:
			return strings.ToLower(left.Peer.Name) < strings.ToLower(right.Peer.Name)
		}
	})
}
