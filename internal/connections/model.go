package connections

import "time"

// Status enumerates the lifecycle states of a connection record. Absence of a
// record is the implicit none state; declining deletes the record rather than
// persisting a rejected status.
type Status string

const (
	// StatusPending marks a request awaiting the receiver's decision.
	StatusPending Status = "pending"
	// StatusAccepted marks an established connection.
	StatusAccepted Status = "accepted"
)

// Connection is the social-graph edge between two users. At most one record
// exists per unordered user pair regardless of direction.
type Connection struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	RequesterID string    `gorm:"column:requester_id;size:190;not null;index:idx_connections_requester"`
	ReceiverID  string    `gorm:"column:receiver_id;size:190;not null;index:idx_connections_receiver"`
	Status      Status    `gorm:"column:status;size:32;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing connection records.
func (Connection) TableName() string {
	return "connections"
}

// PeerOf returns the other endpoint of the connection for the given user.
func (c Connection) PeerOf(userID string) string {
	if c.RequesterID == userID {
		return c.ReceiverID
	}
	return c.RequesterID
}
