package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	Image        string
	PasswordHash string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type AccountModel struct {
	Provider          string    `gorm:"primaryKey"`
	ProviderAccountID string    `gorm:"primaryKey"`
	UserID            string    `gorm:"not null;index"`
	CreatedAt         time.Time `gorm:"not null"`
}

type ForumModel struct {
	ID          string `gorm:"primaryKey"`
	OwnerID     string `gorm:"not null;index"`
	Title       string `gorm:"not null"`
	Description string `gorm:"not null"`
	// Tags is a JSON array; element order and duplicates are preserved.
	Tags      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type CommentModel struct {
	ID        string    `gorm:"primaryKey"`
	ForumID   string    `gorm:"not null;index"`
	AuthorID  string    `gorm:"not null;index"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
