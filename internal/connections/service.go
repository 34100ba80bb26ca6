// Package connections owns the pending/accepted state machine between users.
// It is the sole authority for whether direct messaging is permitted.
package connections

import (
	"context"
	"errors"
	"time"

	"github.com/proconnect/backend/internal/faults"
	"github.com/proconnect/backend/internal/ids"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew          = "connections.service.new"
	opSendRequest         = "connections.send_request"
	opAcceptRequest       = "connections.accept_request"
	opDeclineRequest      = "connections.decline_request"
	opListPendingIncoming = "connections.list_pending_incoming"
	opListPendingOutgoing = "connections.list_pending_outgoing"
	opListAccepted        = "connections.list_accepted"
	opCountAccepted       = "connections.count_accepted"
	opCountPending        = "connections.count_pending_incoming"
	opAreConnected        = "connections.are_connected"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingDirectory  = errors.New("user directory is required")
	errMissingIDProvider = errors.New("id provider is required")
	errSelfRequest       = errors.New("requester and receiver must differ")
	errMissingUser       = errors.New("user is unknown to the directory")
	errPairExists        = errors.New("a connection already exists between the pair")
	errNotPending        = errors.New("connection is not pending")
	errConnectionMissing = errors.New("connection not found")
	noOpLogger           = zap.NewNop()
)

// Directory is the user-directory collaborator consulted before creating
// graph edges.
type Directory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Event describes a lifecycle transition handed to the notification sink.
type Event struct {
	ConnectionID string
	TargetUserID string
	ActorUserID  string
}

// EventSink receives lifecycle events after the owning record is persisted.
// Sink failures are logged by the service and never surfaced to callers.
type EventSink interface {
	ConnectionRequested(ctx context.Context, event Event) error
	ConnectionAccepted(ctx context.Context, event Event) error
}

// ServiceConfig describes the dependencies of the lifecycle manager.
type ServiceConfig struct {
	Database   *gorm.DB
	Directory  Directory
	Events     EventSink
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service implements the connection lifecycle state machine.
type Service struct {
	db         *gorm.DB
	directory  Directory
	events     EventSink
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the lifecycle manager.
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
		events:     cfg.Events,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// SendRequest creates a pending connection from requester to receiver. It
// fails when either user is unknown, when the requester targets themselves, or
// when any record already exists between the pair in either direction.
func (s *Service) SendRequest(ctx context.Context, requesterID, receiverID string) (Connection, error) {
	if requesterID == "" || receiverID == "" {
		return Connection{}, faults.Validation(opSendRequest, "missing_user_id", nil)
	}
	if requesterID == receiverID {
		return Connection{}, faults.Validation(opSendRequest, "self_request", errSelfRequest)
	}

	for _, userID := range []string{requesterID, receiverID} {
		known, err := s.directory.Exists(ctx, userID)
		if err != nil {
			s.logError(opSendRequest, "directory_lookup_failed", err, zap.String("user_id", userID))
			return Connection{}, faults.Internal(opSendRequest, "directory_lookup_failed", err)
		}
		if !known {
			return Connection{}, faults.NotFound(opSendRequest, "user_missing", errMissingUser)
		}
	}

	var existing int64
	err := s.db.WithContext(ctx).Model(&Connection{}).
		Where("(requester_id = ? AND receiver_id = ?) OR (requester_id = ? AND receiver_id = ?)",
			requesterID, receiverID, receiverID, requesterID).
		Count(&existing).Error
	if err != nil {
		s.logError(opSendRequest, "pair_lookup_failed", err)
		return Connection{}, faults.Internal(opSendRequest, "pair_lookup_failed", err)
	}
	if existing > 0 {
		return Connection{}, faults.Conflict(opSendRequest, "request_already_exists", errPairExists)
	}

	connectionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSendRequest, "id_generation_failed", err)
		return Connection{}, faults.Internal(opSendRequest, "id_generation_failed", err)
	}

	connection := Connection{
		ID:          connectionID,
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Status:      StatusPending,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&connection).Error; err != nil {
		s.logError(opSendRequest, "insert_failed", err)
		return Connection{}, faults.Internal(opSendRequest, "insert_failed", err)
	}

	s.emitRequested(ctx, Event{
		ConnectionID: connection.ID,
		TargetUserID: receiverID,
		ActorUserID:  requesterID,
	})

	return connection, nil
}

// AcceptRequest transitions a pending connection to accepted.
func (s *Service) AcceptRequest(ctx context.Context, connectionID string) (Connection, error) {
	connection, err := s.connectionByID(ctx, opAcceptRequest, connectionID)
	if err != nil {
		return Connection{}, err
	}
	if connection.Status != StatusPending {
		return Connection{}, faults.Conflict(opAcceptRequest, "not_pending", errNotPending)
	}

	err = s.db.WithContext(ctx).Model(&Connection{}).
		Where("id = ?", connection.ID).
		Update("status", StatusAccepted).Error
	if err != nil {
		s.logError(opAcceptRequest, "update_failed", err, zap.String("connection_id", connectionID))
		return Connection{}, faults.Internal(opAcceptRequest, "update_failed", err)
	}
	connection.Status = StatusAccepted

	s.emitAccepted(ctx, Event{
		ConnectionID: connection.ID,
		TargetUserID: connection.RequesterID,
		ActorUserID:  connection.ReceiverID,
	})

	return connection, nil
}

// DeclineRequest deletes a pending connection, returning the pair to the
// implicit none state. Declining a non-pending connection is a conflict so an
// established connection cannot be severed through the request flow.
func (s *Service) DeclineRequest(ctx context.Context, connectionID string) error {
	connection, err := s.connectionByID(ctx, opDeclineRequest, connectionID)
	if err != nil {
		return err
	}
	if connection.Status != StatusPending {
		return faults.Conflict(opDeclineRequest, "not_pending", errNotPending)
	}

	if err := s.db.WithContext(ctx).Delete(&Connection{}, "id = ?", connection.ID).Error; err != nil {
		s.logError(opDeclineRequest, "delete_failed", err, zap.String("connection_id", connectionID))
		return faults.Internal(opDeclineRequest, "delete_failed", err)
	}
	return nil
}

// ListPendingIncoming returns pending requests addressed to the user.
func (s *Service) ListPendingIncoming(ctx context.Context, userID string) ([]Connection, error) {
	var connections []Connection
	err := s.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ?", userID, StatusPending).
		Order("created_at ASC").
		Find(&connections).Error
	if err != nil {
		s.logError(opListPendingIncoming, "query_failed", err, zap.String("user_id", userID))
		return nil, faults.Internal(opListPendingIncoming, "query_failed", err)
	}
	return connections, nil
}

// ListPendingOutgoing returns pending requests the user has sent.
func (s *Service) ListPendingOutgoing(ctx context.Context, userID string) ([]Connection, error) {
	var connections []Connection
	err := s.db.WithContext(ctx).
		Where("requester_id = ? AND status = ?", userID, StatusPending).
		Order("created_at ASC").
		Find(&connections).Error
	if err != nil {
		s.logError(opListPendingOutgoing, "query_failed", err, zap.String("user_id", userID))
		return nil, faults.Internal(opListPendingOutgoing, "query_failed", err)
	}
	return connections, nil
}

// ListAccepted returns the user's established connections in either direction.
func (s *Service) ListAccepted(ctx context.Context, userID string) ([]Connection, error) {
	var connections []Connection
	err := s.db.WithContext(ctx).
		Where("(requester_id = ? OR receiver_id = ?) AND status = ?", userID, userID, StatusAccepted).
		Order("created_at ASC").
		Find(&connections).Error
	if err != nil {
		s.logError(opListAccepted, "query_failed", err, zap.String("user_id", userID))
		return nil, faults.Internal(opListAccepted, "query_failed", err)
	}
	return connections, nil
}

// AcceptedPeerIDs returns the ids of every user the given user is connected to.
func (s *Service) AcceptedPeerIDs(ctx context.Context, userID string) ([]string, error) {
	connections, err := s.ListAccepted(ctx, userID)
	if err != nil {
		return nil, err
	}
	return lo.Map(connections, func(connection Connection, _ int) string {
		return connection.PeerOf(userID)
	}), nil
}

// CountAccepted returns the number of established connections for the user.
func (s *Service) CountAccepted(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Connection{}).
		Where("(requester_id = ? OR receiver_id = ?) AND status = ?", userID, userID, StatusAccepted).
		Count(&count).Error
	if err != nil {
		s.logError(opCountAccepted, "query_failed", err, zap.String("user_id", userID))
		return 0, faults.Internal(opCountAccepted, "query_failed", err)
	}
	return count, nil
}

// CountPendingIncoming returns the number of requests awaiting the user.
func (s *Service) CountPendingIncoming(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Connection{}).
		Where("receiver_id = ? AND status = ?", userID, StatusPending).
		Count(&count).Error
	if err != nil {
		s.logError(opCountPending, "query_failed", err, zap.String("user_id", userID))
		return 0, faults.Internal(opCountPending, "query_failed", err)
	}
	return count, nil
}

// AreConnected reports whether an accepted connection exists between the pair
// in either direction.
func (s *Service) AreConnected(ctx context.Context, userID, peerID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Connection{}).
		Where("((requester_id = ? AND receiver_id = ?) OR (requester_id = ? AND receiver_id = ?)) AND status = ?",
			userID, peerID, peerID, userID, StatusAccepted).
		Count(&count).Error
	if err != nil {
		s.logError(opAreConnected, "query_failed", err)
		return false, faults.Internal(opAreConnected, "query_failed", err)
	}
	return count > 0, nil
}

func (s *Service) connectionByID(ctx context.Context, operation, connectionID string) (Connection, error) {
	var connection Connection
	err := s.db.WithContext(ctx).Where("id = ?", connectionID).Take(&connection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Connection{}, faults.NotFound(operation, "connection_missing", errConnectionMissing)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("connection_id", connectionID))
		return Connection{}, faults.Internal(operation, "lookup_failed", err)
	}
	return connection, nil
}

func (s *Service) emitRequested(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.ConnectionRequested(ctx, event); err != nil {
		s.logger.Warn("connection request event delivery failed",
			zap.String("operation", opSendRequest),
			zap.String("connection_id", event.ConnectionID),
			zap.Error(err))
	}
}

func (s *Service) emitAccepted(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if err := s.events.ConnectionAccepted(ctx, event); err != nil {
		s.logger.Warn("connection accepted event delivery failed",
			zap.String("operation", opAcceptRequest),
			zap.String("connection_id", event.ConnectionID),
			zap.Error(err))
	}
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
	s.logger.Error("connections service error", attrs...)
}
