package notifications

import "time"

// Type enumerates the notification kinds produced by graph and content events.
type Type string

const (
	// TypeLike is raised when someone likes the target's post.
	TypeLike Type = "LIKE"
	// TypeComment is raised when someone comments on the target's post.
	TypeComment Type = "COMMENT"
	// TypeConnectionRequest is raised when someone sends a connection request.
	TypeConnectionRequest Type = "CONNECTION_REQUEST"
	// TypeConnectionAccepted is raised when a sent request is accepted.
	TypeConnectionAccepted Type = "CONNECTION_ACCEPTED"
)

// defaultMessage returns the human-readable message for a notification type.
func defaultMessage(notificationType Type) string {
	switch notificationType {
	case TypeLike:
		return "liked your post"
	case TypeComment:
		return "commented on your post"
	case TypeConnectionRequest:
		return "sent you a connection request"
	case TypeConnectionAccepted:
		return "accepted your connection request"
	default:
		return ""
	}
}

// Notification is a durable per-user record of a graph or content event.
// Never created when the target and actor are the same user.
type Notification struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Type            Type      `gorm:"column:type;size:64;not null" json:"type"`
	Message         string    `gorm:"column:message;size:512;not null" json:"message"`
	IsRead          bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"created_at"`
	RelatedEntityID string    `gorm:"column:related_entity_id;size:190" json:"related_entity_id,omitempty"`
	TargetUserID    string    `gorm:"column:target_user_id;size:190;not null;index:idx_notifications_target" json:"target_user_id"`
	ActorUserID     string    `gorm:"column:actor_user_id;size:190;not null" json:"actor_user_id"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// ActorInfo carries the display fields of the user who triggered an event.
type ActorInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// View pairs a notification with its actor's display fields.
type View struct {
	Notification
	Actor ActorInfo `json:"actor"`
}
