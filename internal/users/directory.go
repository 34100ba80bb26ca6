package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/proconnect/backend/internal/faults"
	"gorm.io/gorm"
)

const (
	opUserByID = "users.user_by_id"
	opExists   = "users.exists"
)

// ErrUserMissing indicates the directory has no record for the id.
var ErrUserMissing = errors.New("users: user not found")

// DirectoryConfig describes the dependencies for directory lookups.
type DirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Directory resolves user ids to directory entries.
type Directory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDirectory constructs the read-side user directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Directory{db: cfg.Database, now: clock}, nil
}

// UserByID returns the directory entry for the id.
func (d *Directory) UserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := d.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, faults.NotFound(opUserByID, "user_missing", ErrUserMissing)
	}
	if err != nil {
		return User{}, faults.Internal(opUserByID, "query_failed", err)
	}
	return user, nil
}

// Exists reports whether the directory has an entry for the id.
func (d *Directory) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Count(&count).Error
	if err != nil {
		return false, faults.Internal(opExists, "query_failed", err)
	}
	return count > 0, nil
}
