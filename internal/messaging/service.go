// Package messaging persists direct messages between connected users and
// hands delivery payloads to the real-time dispatcher. Every write commits
// before any push is attempted; push failure never rolls the write back.
package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/proconnect/backend/internal/faults"
	"github.com/proconnect/backend/internal/ids"
	"github.com/proconnect/backend/internal/realtime"
	"github.com/proconnect/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "messaging.service.new"
	opSendMessage      = "messaging.send_message"
	opGetConversation  = "messaging.get_conversation"
	opMarkAsRead       = "messaging.mark_as_read"
	opUnreadCount      = "messaging.unread_count"
	opUnreadCountFrom  = "messaging.unread_count_from"
	opConversationList = "messaging.conversation_list"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingGraph      = errors.New("connection graph is required")
	errMissingDirectory  = errors.New("user directory is required")
	errMissingIDProvider = errors.New("id provider is required")
	errEmptyContent      = errors.New("message content must not be empty")
	errMissingUser       = errors.New("user is unknown to the directory")
	errNotConnected      = errors.New("users are not connected")
	noOpLogger           = zap.NewNop()
)

// ConnectionGraph answers the messaging gate and supplies accepted peers for
// conversation aggregation.
type ConnectionGraph interface {
	AreConnected(ctx context.Context, userID, peerID string) (bool, error)
	AcceptedPeerIDs(ctx context.Context, userID string) ([]string, error)
}

// Directory resolves user ids and display fields.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	UserByID(ctx context.Context, userID string) (users.User, error)
}

// Publisher pushes delivery payloads to live sessions.
type Publisher interface {
	Publish(envelope realtime.Envelope)
}

// PresenceReader answers live-presence queries for conversation summaries.
type PresenceReader interface {
	IsOnline(userID string) bool
}

// ServiceConfig describes the dependencies of the messaging engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Graph      ConnectionGraph
	Directory  Directory
	Publisher  Publisher
	Presence   PresenceReader
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements the messaging engine and conversation aggregation.
type Service struct {
	db         *gorm.DB
	graph      ConnectionGraph
	directory  Directory
	publisher  Publisher
	presence   PresenceReader
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the messaging engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Graph == nil {
		return nil, faults.Internal(opServiceNew, "missing_graph", errMissingGraph)
	}
	if cfg.Directory == nil {
		return nil, faults.Internal(opServiceNew, "missing_directory", errMissingDirectory)
	}
	if cfg.IDProvider == nil {
		return nil, faults.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		graph:      cfg.Graph,
		directory:  cfg.Directory,
		publisher:  cfg.Publisher,
		presence:   cfg.Presence,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// SendMessage persists a message from sender to receiver and pushes it to the
// receiver's inbox topic, with a confirmation echo to the sender's topic. The
// pair must hold an accepted connection.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, faults.Validation(opSendMessage, "empty_content", errEmptyContent)
	}
	if senderID == "" || receiverID == "" {
		return Message{}, faults.Validation(opSendMessage, "missing_user_id", nil)
	}

	for _, userID := range []string{senderID, receiverID} {
		known, err := s.directory.Exists(ctx, userID)
		if err != nil {
			s.logError(opSendMessage, "directory_lookup_failed", err, zap.String("user_id", userID))
			return Message{}, faults.Internal(opSendMessage, "directory_lookup_failed", err)
		}
		if !known {
			return Message{}, faults.NotFound(opSendMessage, "user_missing", errMissingUser)
		}
	}

	connected, err := s.graph.AreConnected(ctx, senderID, receiverID)
	if err != nil {
		s.logError(opSendMessage, "gate_check_failed", err)
		return Message{}, faults.Internal(opSendMessage, "gate_check_failed", err)
	}
	if !connected {
		return Message{}, faults.Unauthorized(opSendMessage, "not_connected", errNotConnected)
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSendMessage, "id_generation_failed", err)
		return Message{}, faults.Internal(opSendMessage, "id_generation_failed", err)
	}

	message := Message{
		ID:         messageID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     s.clock().UTC(),
		IsRead:     false,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opSendMessage, "insert_failed", err)
		return Message{}, faults.Internal(opSendMessage, "insert_failed", err)
	}

	// The write is durable at this point. Delivery is best effort: the payload
	// carries the message id so a duplicate push is detectable, and a dropped
	// push is recovered through the conversation query.
	s.publish(realtime.Envelope{
		Topic:     realtime.InboxTopic(receiverID),
		Event:     realtime.EventMessageCreated,
		EntityID:  message.ID,
		Body:      message,
		Timestamp: message.SentAt,
	})
	s.publish(realtime.Envelope{
		Topic:     realtime.InboxTopic(senderID),
		Event:     realtime.EventMessageCreated,
		EntityID:  message.ID,
		Body:      message,
		Timestamp: message.SentAt,
	})

	return message, nil
}

// GetConversation returns the full message history between the pair ordered by
// send time ascending with stable id tie-break. Requires an accepted
// connection between the pair.
func (s *Service) GetConversation(ctx context.Context, userID, peerID string) ([]Message, error) {
	connected, err := s.graph.AreConnected(ctx, userID, peerID)
	if err != nil {
		s.logError(opGetConversation, "gate_check_failed", err)
		return nil, faults.Internal(opGetConversation, "gate_check_failed", err)
	}
	if !connected {
		return nil, faults.Unauthorized(opGetConversation, "not_connected", errNotConnected)
	}

	var messages []Message
	err = s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, peerID, peerID, userID).
		Order("sent_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		s.logError(opGetConversation, "query_failed", err)
		return nil, faults.Internal(opGetConversation, "query_failed", err)
	}
	return messages, nil
}

// MarkAsRead bulk-flips every unread message from sender to receiver and
// returns the number of rows changed. Idempotent: a repeat call changes no
// rows and emits no receipt. On a genuine flip a read receipt is pushed to the
// sender's receipt topic.
func (s *Service) MarkAsRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", receiverID, senderID, false).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkAsRead, "update_failed", result.Error)
		return 0, faults.Internal(opMarkAsRead, "update_failed", result.Error)
	}

	if result.RowsAffected > 0 {
		readAt := s.clock().UTC()
		s.publish(realtime.Envelope{
			Topic:    realtime.ReceiptTopic(senderID),
			Event:    realtime.EventReadReceipt,
			EntityID: receiverID,
			Body: ReadReceipt{
				ReceiverID: receiverID,
				SenderID:   senderID,
				Count:      result.RowsAffected,
				ReadAt:     readAt,
			},
			Timestamp: readAt,
		})
	}
	return result.RowsAffected, nil
}

// UnreadCount returns the number of unread messages addressed to the user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("user_id", userID))
		return 0, faults.Internal(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// UnreadCountFrom returns the number of unread messages from one sender.
func (s *Service) UnreadCountFrom(ctx context.Context, receiverID, senderID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", receiverID, senderID, false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCountFrom, "query_failed", err)
		return 0, faults.Internal(opUnreadCountFrom, "query_failed", err)
	}
	return count, nil
}

func (s *Service) lastMessageBetween(ctx context.Context, userID, peerID string) (*Message, error) {
	var message Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, peerID, peerID, userID).
		Order("sent_at DESC, id DESC").
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (s *Service) publish(envelope realtime.Envelope) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(envelope)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("messaging service error", attrs...)
}
