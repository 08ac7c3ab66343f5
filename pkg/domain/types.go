package domain

import "time"

// User is a forum member. PasswordHash is empty for OAuth-only accounts.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Image        string    `json:"image,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Account links an external OAuth identity to a local user.
type Account struct {
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	UserID            string    `json:"userId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// UserRef is the public author projection embedded in forum and comment reads.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Ref returns the public projection of a user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Image: u.Image}
}

// Forum is a discussion thread. Tags keep their original order, duplicates
// included. CommentCount is derived at read time and never stored.
type Forum struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"userId"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Tags         []string  `json:"tags"`
	Author       UserRef   `json:"user"`
	CommentCount int       `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Comment belongs to a forum. AuthorID is immutable after creation.
type Comment struct {
	ID        string    `json:"id"`
	ForumID   string    `json:"forumId"`
	AuthorID  string    `json:"userId"`
	Content   string    `json:"content"`
	Author    UserRef   `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// ForumThread is a forum together with its comments, newest first.
type ForumThread struct {
	Forum
	Comments []Comment `json:"comments"`
}
