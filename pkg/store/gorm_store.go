package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"communityforum/pkg/domain"
)

const migrateLockID int64 = 48291731

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AccountModel{}, &ForumModel{}, &CommentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'comment_models'
					AND constraint_name = 'comment_models_forum_id_fkey'
				) THEN
					ALTER TABLE comment_models
					ADD CONSTRAINT comment_models_forum_id_fkey
					FOREIGN KEY (forum_id) REFERENCES forum_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure comment foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "image", "password_hash", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// LinkAccount binds an external provider identity to a user.
func (s *GormStore) LinkAccount(a domain.Account) error {
	model := AccountModel{
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		UserID:            a.UserID,
		CreatedAt:         a.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// GetUserByAccount resolves a user through a linked provider identity.
func (s *GormStore) GetUserByAccount(provider, providerAccountID string) (domain.User, bool, error) {
	var account AccountModel
	err := s.db.First(&account, "provider = ? AND provider_account_id = ?", provider, providerAccountID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return s.GetUserByID(account.UserID)
}

// CreateForum stores a new forum.
func (s *GormStore) CreateForum(f domain.Forum) error {
	model, err := forumToModel(f)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetForum retrieves a forum with its author. CommentCount is computed here.
func (s *GormStore) GetForum(id string) (domain.Forum, bool, error) {
	var model ForumModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Forum{}, false, nil
		}
		return domain.Forum{}, false, err
	}
	forum, err := forumFromModel(model)
	if err != nil {
		return domain.Forum{}, false, err
	}
	var count int64
	if err := s.db.Model(&CommentModel{}).Where("forum_id = ?", id).Count(&count).Error; err != nil {
		return domain.Forum{}, false, err
	}
	forum.CommentCount = int(count)
	if err := s.attachAuthors(forumAuthorTargets([]*domain.Forum{&forum})); err != nil {
		return domain.Forum{}, false, err
	}
	return forum, true, nil
}

// ListForums returns all forums newest first, each with author and a derived
// comment count.
func (s *GormStore) ListForums() ([]domain.Forum, error) {
	var models []ForumModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	forums := make([]domain.Forum, 0, len(models))
	for _, m := range models {
		f, err := forumFromModel(m)
		if err != nil {
			return nil, err
		}
		forums = append(forums, f)
	}

	counts, err := s.commentCounts()
	if err != nil {
		return nil, err
	}
	targets := make(map[string][]*domain.UserRef)
	for i := range forums {
		forums[i].CommentCount = counts[forums[i].ID]
		targets[forums[i].OwnerID] = append(targets[forums[i].OwnerID], &forums[i].Author)
	}
	if err := s.attachAuthors(targets); err != nil {
		return nil, err
	}
	return forums, nil
}

// UpdateForum replaces title, description, and tags of an existing forum.
func (s *GormStore) UpdateForum(id, title, description string, tags []string) error {
	rawTags, err := marshalTags(tags)
	if err != nil {
		return err
	}
	return s.db.Model(&ForumModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":       title,
			"description": description,
			"tags":        rawTags,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// DeleteForum removes a forum and its comments in one transaction.
func (s *GormStore) DeleteForum(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&CommentModel{}, "forum_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ForumModel{}, "id = ?", id).Error
	})
}

// CreateComment stores a new comment.
func (s *GormStore) CreateComment(c domain.Comment) error {
	model := commentToModel(c)
	return s.db.Create(&model).Error
}

// GetComment retrieves a comment by ID.
func (s *GormStore) GetComment(id string) (domain.Comment, bool, error) {
	var model CommentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Comment{}, false, nil
		}
		return domain.Comment{}, false, err
	}
	comment := commentFromModel(model)
	if err := s.attachAuthors(commentAuthorTargets([]*domain.Comment{&comment})); err != nil {
		return domain.Comment{}, false, err
	}
	return comment, true, nil
}

// ListCommentsByForum returns a forum's comments newest first, with authors.
func (s *GormStore) ListCommentsByForum(forumID string) ([]domain.Comment, error) {
	var models []CommentModel
	if err := s.db.Where("forum_id = ?", forumID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	comments := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		comments = append(comments, commentFromModel(m))
	}
	targets := make(map[string][]*domain.UserRef)
	for i := range comments {
		targets[comments[i].AuthorID] = append(targets[comments[i].AuthorID], &comments[i].Author)
	}
	if err := s.attachAuthors(targets); err != nil {
		return nil, err
	}
	return comments, nil
}

// DeleteComment removes a comment.
func (s *GormStore) DeleteComment(id string) error {
	return s.db.Delete(&CommentModel{}, "id = ?", id).Error
}

func (s *GormStore) commentCounts() (map[string]int, error) {
	type row struct {
		ForumID string
		N       int
	}
	var rows []row
	if err := s.db.Model(&CommentModel{}).
		Select("forum_id, COUNT(*) AS n").
		Group("forum_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ForumID] = r.N
	}
	return counts, nil
}

// attachAuthors fills the given UserRef targets, keyed by user ID, in one
// batch query.
func (s *GormStore) attachAuthors(targets map[string][]*domain.UserRef) error {
	if len(targets) == 0 {
		return nil
	}
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	var models []UserModel
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return err
	}
	for _, m := range models {
		for _, ref := range targets[m.ID] {
			*ref = userFromModel(m).Ref()
		}
	}
	return nil
}

func forumAuthorTargets(forums []*domain.Forum) map[string][]*domain.UserRef {
	targets := make(map[string][]*domain.UserRef, len(forums))
	for _, f := range forums {
		targets[f.OwnerID] = append(targets[f.OwnerID], &f.Author)
	}
	return targets
}

func commentAuthorTargets(comments []*domain.Comment) map[string][]*domain.UserRef {
	targets := make(map[string][]*domain.UserRef, len(comments))
	for _, c := range comments {
		targets[c.AuthorID] = append(targets[c.AuthorID], &c.Author)
	}
	return targets
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Image:        u.Image,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		Image:        m.Image,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func forumToModel(f domain.Forum) (ForumModel, error) {
	rawTags, err := marshalTags(f.Tags)
	if err != nil {
		return ForumModel{}, err
	}
	return ForumModel{
		ID:          f.ID,
		OwnerID:     f.OwnerID,
		Title:       f.Title,
		Description: f.Description,
		Tags:        rawTags,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}, nil
}

func forumFromModel(m ForumModel) (domain.Forum, error) {
	tags, err := unmarshalTags(m.Tags)
	if err != nil {
		return domain.Forum{}, fmt.Errorf("decode tags for forum %s: %w", m.ID, err)
	}
	return domain.Forum{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Title:       m.Title,
		Description: m.Description,
		Tags:        tags,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func commentToModel(c domain.Comment) CommentModel {
	return CommentModel{
		ID:        c.ID,
		ForumID:   c.ForumID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		CreatedAt: c.CreatedAt,
	}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{
		ID:        m.ID,
		ForumID:   m.ForumID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func marshalTags(tags []string) (datatypes.JSON, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func unmarshalTags(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}
