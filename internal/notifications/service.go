// Package notifications turns graph and content events into durable per-user
// notification records.
package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/proconnect/backend/internal/connections"
	"github.com/proconnect/backend/internal/faults"
	"github.com/proconnect/backend/internal/ids"
	"github.com/proconnect/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "notifications.service.new"
	opCreate      = "notifications.create"
	opList        = "notifications.list"
	opMarkRead    = "notifications.mark_read"
	opMarkAllRead = "notifications.mark_all_read"
	opDelete      = "notifications.delete"
	opUnreadCount = "notifications.unread_count"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingDirectory  = errors.New("user directory is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUser       = errors.New("user is unknown to the directory")
	errNotificationGone  = errors.New("notification not found")
	errUnknownType       = errors.New("unknown notification type")
	noOpLogger           = zap.NewNop()
)

// Directory resolves user ids and display fields.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	UserByID(ctx context.Context, userID string) (users.User, error)
}

// ServiceConfig describes the dependencies of the notification fan-out.
type ServiceConfig struct {
	Database   *gorm.DB
	Directory  Directory
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service persists and serves notification records. It implements the
// connections event sink so lifecycle transitions fan out here.
type Service struct {
	db         *gorm.DB
	directory  Directory
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the fan-out.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.Internal(opServiceNew, "missing_database", errMissingDatabase)
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
		directory:  cfg.Directory,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create persists a notification for the target user. Self-directed events
// (target == actor) are dropped silently and return nil.
func (s *Service) Create(ctx context.Context, notificationType Type, targetUserID, actorUserID, relatedEntityID string) (*Notification, error) {
	if defaultMessage(notificationType) == "" {
		return nil, faults.Validation(opCreate, "unknown_type", errUnknownType)
	}
	if targetUserID == actorUserID {
		return nil, nil
	}

	for _, userID := range []string{targetUserID, actorUserID} {
		known, err := s.directory.Exists(ctx, userID)
		if err != nil {
			s.logError(opCreate, "directory_lookup_failed", err, zap.String("user_id", userID))
			return nil, faults.Internal(opCreate, "directory_lookup_failed", err)
		}
		if !known {
			return nil, faults.NotFound(opCreate, "user_missing", errMissingUser)
		}
	}

	notificationID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return nil, faults.Internal(opCreate, "id_generation_failed", err)
	}

	notification := Notification{
		ID:              notificationID,
		Type:            notificationType,
		Message:         defaultMessage(notificationType),
		IsRead:          false,
		CreatedAt:       s.clock().UTC(),
		RelatedEntityID: relatedEntityID,
		TargetUserID:    targetUserID,
		ActorUserID:     actorUserID,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.logError(opCreate, "insert_failed", err)
		return nil, faults.Internal(opCreate, "insert_failed", err)
	}
	return &notification, nil
}

// ConnectionRequested fans a new pending request out to the receiver.
func (s *Service) ConnectionRequested(ctx context.Context, event connections.Event) error {
	_, err := s.Create(ctx, TypeConnectionRequest, event.TargetUserID, event.ActorUserID, event.ConnectionID)
	return err
}

// ConnectionAccepted fans an acceptance out to the original requester.
func (s *Service) ConnectionAccepted(ctx context.Context, event connections.Event) error {
	_, err := s.Create(ctx, TypeConnectionAccepted, event.TargetUserID, event.ActorUserID, event.ConnectionID)
	return err
}

// List returns the user's notifications newest-first, each with the actor's
// display fields resolved from the directory.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	var notifications []Notification
	err := s.db.WithContext(ctx).
		Where("target_user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&notifications).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, faults.Internal(opList, "query_failed", err)
	}

	views := make([]View, 0, len(notifications))
	for _, notification := range notifications {
		view := View{Notification: notification}
		actor, err := s.directory.UserByID(ctx, notification.ActorUserID)
		if err == nil {
			view.Actor = ActorInfo{ID: actor.ID, Name: actor.Name, AvatarURL: actor.AvatarURL}
		} else if !faults.IsKind(err, faults.KindNotFound) {
			s.logError(opList, "actor_lookup_failed", err, zap.String("actor_id", notification.ActorUserID))
			return nil, faults.Internal(opList, "actor_lookup_failed", err)
		}
		views = append(views, view)
	}
	return views, nil
}

// MarkRead flips one notification to read.
func (s *Service) MarkRead(ctx context.Context, notificationID string) (Notification, error) {
	notification, err := s.notificationByID(ctx, opMarkRead, notificationID)
	if err != nil {
		return Notification{}, err
	}
	if notification.IsRead {
		return notification, nil
	}
	err = s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ?", notificationID).
		Update("is_read", true).Error
	if err != nil {
		s.logError(opMarkRead, "update_failed", err, zap.String("notification_id", notificationID))
		return Notification{}, faults.Internal(opMarkRead, "update_failed", err)
	}
	notification.IsRead = true
	return notification, nil
}

// MarkAllRead flips every unread notification of the user, returning the
// number of rows changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("target_user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkAllRead, "update_failed", result.Error, zap.String("user_id", userID))
		return 0, faults.Internal(opMarkAllRead, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes one notification record.
func (s *Service) Delete(ctx context.Context, notificationID string) error {
	if _, err := s.notificationByID(ctx, opDelete, notificationID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Notification{}, "id = ?", notificationID).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("notification_id", notificationID))
		return faults.Internal(opDelete, "delete_failed", err)
	}
	return nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("target_user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("user_id", userID))
		return 0, faults.Internal(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

func (s *Service) notificationByID(ctx context.Context, operation, notificationID string) (Notification, error) {
	var notification Notification
	err := s.db.WithContext(ctx).Where("id = ?", notificationID).Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, faults.NotFound(operation, "notification_missing", errNotificationGone)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("notification_id", notificationID))
		return Notification{}, faults.Internal(operation, "lookup_failed", err)
	}
	return notification, nil
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
	s.logger.Error("notifications service error", attrs...)
}
