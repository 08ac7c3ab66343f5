package app

import (
	"fmt"
	"strings"
	"time"

	"communityforum/internal/util"
	"communityforum/pkg/domain"
	"communityforum/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
}

// App implements the forum operations over the injected store. Every
// mutating operation runs the same sequence: resource lookup, ownership
// check, commit.
type App struct {
	store store.Store
}

// New constructs the application with database storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{store: dataStore}, nil
}

// UserExists reports whether the given user id maps to a stored user.
func (a *App) UserExists(id string) (bool, error) {
	_, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return false, fmt.Errorf("fetch user: %w", err)
	}
	return ok, nil
}

// ListForums returns all forums newest first, each with its author and
// comment count.
func (a *App) ListForums() ([]domain.Forum, error) {
	forums, err := a.store.ListForums()
	if err != nil {
		return nil, fmt.Errorf("list forums: %w", err)
	}
	return forums, nil
}

// GetForumThread returns a forum with its comments newest first.
func (a *App) GetForumThread(id string) (domain.ForumThread, error) {
	forum, ok, err := a.store.GetForum(id)
	if err != nil {
		return domain.ForumThread{}, fmt.Errorf("fetch forum: %w", err)
	}
	if !ok {
		return domain.ForumThread{}, ErrForumNotFound
	}
	comments, err := a.store.ListCommentsByForum(id)
	if err != nil {
		return domain.ForumThread{}, fmt.Errorf("list comments: %w", err)
	}
	return domain.ForumThread{Forum: forum, Comments: comments}, nil
}

// CreateForum validates the input and stores a new forum owned by ownerID.
func (a *App) CreateForum(ownerID, title, description string, tags []string) (domain.Forum, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return domain.Forum{}, ErrTitleDescriptionRequired
	}
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC()
	forum := domain.Forum{
		ID:          util.NewID(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateForum(forum); err != nil {
		return domain.Forum{}, fmt.Errorf("create forum: %w", err)
	}
	created, ok, err := a.store.GetForum(forum.ID)
	if err != nil || !ok {
		return domain.Forum{}, fmt.Errorf("reload forum: %w", err)
	}
	return created, nil
}

// UpdateForum replaces title, description and tags after the ownership
// check passes.
func (a *App) UpdateForum(userID, forumID, title, description string, tags []string) (domain.Forum, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if title == "" || description == "" {
		return domain.Forum{}, ErrTitleDescriptionRequired
	}
	forum, ok, err := a.store.GetForum(forumID)
	if err != nil {
		return domain.Forum{}, fmt.Errorf("fetch forum: %w", err)
	}
	if !ok {
		return domain.Forum{}, ErrForumNotFound
	}
	if forum.OwnerID != userID {
		return domain.Forum{}, ErrNotOwner
	}
	if tags == nil {
		tags = []string{}
	}
	if err := a.store.UpdateForum(forumID, title, description, tags); err != nil {
		return domain.Forum{}, fmt.Errorf("update forum: %w", err)
	}
	updated, ok, err := a.store.GetForum(forumID)
	if err != nil || !ok {
		return domain.Forum{}, fmt.Errorf("reload forum: %w", err)
	}
	return updated, nil
}

// DeleteForum removes a forum and its comments after the ownership check
// passes.
func (a *App) DeleteForum(userID, forumID string) error {
	forum, ok, err := a.store.GetForum(forumID)
	if err != nil {
		return fmt.Errorf("fetch forum: %w", err)
	}
	if !ok {
		return ErrForumNotFound
	}
	if forum.OwnerID != userID {
		return ErrNotOwner
	}
	if err := a.store.DeleteForum(forumID); err != nil {
		return fmt.Errorf("delete forum: %w", err)
	}
	return nil
}

// CreateComment stores a new comment on an existing forum.
func (a *App) CreateComment(authorID, forumID, content string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, ErrContentRequired
	}
	if _, ok, err := a.store.GetForum(forumID); err != nil {
		return domain.Comment{}, fmt.Errorf("fetch forum: %w", err)
	} else if !ok {
		return domain.Comment{}, ErrForumNotFound
	}
	comment := domain.Comment{
		ID:        util.NewID(),
		ForumID:   forumID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateComment(comment); err != nil {
		return domain.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	created, ok, err := a.store.GetComment(comment.ID)
	if err != nil || !ok {
		return domain.Comment{}, fmt.Errorf("reload comment: %w", err)
	}
	return created, nil
}

// DeleteComment removes a comment after checking the requester wrote it.
func (a *App) DeleteComment(userID, commentID string) error {
	comment, ok, err := a.store.GetComment(commentID)
	if err != nil {
		return fmt.Errorf("fetch comment: %w", err)
	}
	if !ok {
		return ErrCommentNotFound
	}
	if comment.AuthorID != userID {
		return ErrNotOwner
	}
	if err := a.store.DeleteComment(commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}
