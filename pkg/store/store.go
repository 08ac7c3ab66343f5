package store

import "communityforum/pkg/domain"

// Store defines persistence operations for users, accounts, forums, and
// comments. All operations are atomic per entity row; callers do not get
// cross-row isolation beyond what DeleteForum provides.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// oauth accounts
	LinkAccount(domain.Account) error
	GetUserByAccount(provider, providerAccountID string) (domain.User, bool, error)

	// forums
	CreateForum(domain.Forum) error
	GetForum(id string) (domain.Forum, bool, error)
	ListForums() ([]domain.Forum, error)
	UpdateForum(id, title, description string, tags []string) error
	DeleteForum(id string) error

	// comments
	CreateComment(domain.Comment) error
	GetComment(id string) (domain.Comment, bool, error)
	ListCommentsByForum(forumID string) ([]domain.Comment, error)
	DeleteComment(id string) error
}

// SessionStore issues and resolves session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
