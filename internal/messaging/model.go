package messaging

import "time"

// Message is a durable direct message between two connected users. Content and
// timestamp are immutable after creation; IsRead flips false to true exactly
// once through the bulk read-mark and never back.
type Message struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	SenderID   string    `gorm:"column:sender_id;size:190;not null;index:idx_messages_sender" json:"sender_id"`
	ReceiverID string    `gorm:"column:receiver_id;size:190;not null;index:idx_messages_receiver" json:"receiver_id"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	SentAt     time.Time `gorm:"column:sent_at;not null" json:"sent_at"`
	IsRead     bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`
}

// TableName exposes the table backing messages.
func (Message) TableName() string {
	return "messages"
}

// ReadReceipt is the delivery payload emitted to a sender after the receiver
// bulk-marks their messages as read.
type ReadReceipt struct {
	ReceiverID string    `json:"receiver_id"`
	SenderID   string    `json:"sender_id"`
	Count      int64     `json:"count"`
	ReadAt     time.Time `json:"read_at"`
}
