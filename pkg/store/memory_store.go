package store

import (
	"sort"
	"sync"
	"time"

	"communityforum/pkg/domain"
)

type accountKey struct {
	provider string
	account  string
}

// MemoryStore keeps all entities in-process. It mirrors GormStore semantics
// closely enough for handler and app tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	email    map[string]string // email -> user ID
	accounts map[accountKey]string
	forums   map[string]domain.Forum
	comments map[string]domain.Comment
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		accounts: make(map[accountKey]string),
		forums:   make(map[string]domain.Forum),
		comments: make(map[string]domain.Comment),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// LinkAccount binds a provider identity to a user.
func (m *MemoryStore) LinkAccount(a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountKey{provider: a.Provider, account: a.ProviderAccountID}
	if _, ok := m.accounts[key]; !ok {
		m.accounts[key] = a.UserID
	}
	return nil
}

// GetUserByAccount resolves a user through a linked provider identity.
func (m *MemoryStore) GetUserByAccount(provider, providerAccountID string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.accounts[accountKey{provider: provider, account: providerAccountID}]
	if !ok {
		return domain.User{}, false, nil
	}
	u, exists := m.users[id]
	return u, exists, nil
}

// CreateForum stores a new forum.
func (m *MemoryStore) CreateForum(f domain.Forum) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.Tags == nil {
		f.Tags = []string{}
	}
	f.Author = domain.UserRef{}
	f.CommentCount = 0
	m.forums[f.ID] = f
	return nil
}

// GetForum retrieves a forum with author and derived comment count.
func (m *MemoryStore) GetForum(id string) (domain.Forum, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.forums[id]
	if !ok {
		return domain.Forum{}, false, nil
	}
	return m.decorateForum(f), true, nil
}

// ListForums returns all forums newest first.
func (m *MemoryStore) ListForums() ([]domain.Forum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Forum, 0, len(m.forums))
	for _, f := range m.forums {
		res = append(res, m.decorateForum(f))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// UpdateForum replaces title, description, and tags.
func (m *MemoryStore) UpdateForum(id, title, description string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forums[id]
	if !ok {
		return nil
	}
	if tags == nil {
		tags = []string{}
	}
	f.Title = title
	f.Description = description
	f.Tags = tags
	f.UpdatedAt = time.Now().UTC()
	m.forums[id] = f
	return nil
}

// DeleteForum removes a forum and its comments.
func (m *MemoryStore) DeleteForum(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.forums, id)
	for cid, c := range m.comments {
		if c.ForumID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

// CreateComment stores a new comment.
func (m *MemoryStore) CreateComment(c domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Author = domain.UserRef{}
	m.comments[c.ID] = c
	return nil
}

// GetComment retrieves a comment by ID.
func (m *MemoryStore) GetComment(id string) (domain.Comment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return domain.Comment{}, false, nil
	}
	c.Author = m.userRef(c.AuthorID)
	return c, true, nil
}

// ListCommentsByForum returns a forum's comments newest first.
func (m *MemoryStore) ListCommentsByForum(forumID string) ([]domain.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Comment, 0)
	for _, c := range m.comments {
		if c.ForumID != forumID {
			continue
		}
		c.Author = m.userRef(c.AuthorID)
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteComment removes a comment.
func (m *MemoryStore) DeleteComment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comments, id)
	return nil
}

func (m *MemoryStore) decorateForum(f domain.Forum) domain.Forum {
	count := 0
	for _, c := range m.comments {
		if c.ForumID == f.ID {
			count++
		}
	}
	f.CommentCount = count
	f.Author = m.userRef(f.OwnerID)
	tags := make([]string, len(f.Tags))
	copy(tags, f.Tags)
	f.Tags = tags
	return f
}

func (m *MemoryStore) userRef(id string) domain.UserRef {
	if u, ok := m.users[id]; ok {
		return u.Ref()
	}
	return domain.UserRef{ID: id}
}
