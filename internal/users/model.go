package users

import "time"

// User is the directory entry for a member. The communication core references
// users by id and reads display fields; account management lives elsewhere.
type User struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name       string    `gorm:"column:name;size:320;not null"`
	Email      string    `gorm:"column:email;size:320;index"`
	Profession string    `gorm:"column:profession;size:320"`
	AvatarURL  string    `gorm:"column:avatar_url;size:512"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing directory users.
func (User) TableName() string {
	return "users"
}
