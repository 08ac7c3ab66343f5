package app

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"communityforum/pkg/domain"
	"communityforum/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	a, err := New(Config{Store: mem})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a, mem
}

func seedUser(t *testing.T, mem *store.MemoryStore, id, name string) {
	t.Helper()
	if err := mem.SaveUser(domain.User{ID: id, Name: name, Email: id + "@example.com"}); err != nil {
		t.Fatalf("SaveUser() error: %v", err)
	}
}

func TestCreateForumValidation(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")

	if _, err := a.CreateForum("u1", "", "desc", nil); !errors.Is(err, ErrTitleDescriptionRequired) {
		t.Fatalf("missing title: %v", err)
	}
	if _, err := a.CreateForum("u1", "title", "  ", nil); !errors.Is(err, ErrTitleDescriptionRequired) {
		t.Fatalf("blank description: %v", err)
	}

	forum, err := a.CreateForum("u1", "title", "desc", nil)
	if err != nil {
		t.Fatalf("CreateForum() error: %v", err)
	}
	if forum.OwnerID != "u1" || forum.Author.Name != "Ana" {
		t.Fatalf("created forum incomplete: %+v", forum)
	}
	if forum.Tags == nil || len(forum.Tags) != 0 {
		t.Fatalf("nil tags should normalize to empty slice: %#v", forum.Tags)
	}
}

func TestForumTagsRoundTrip(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")

	tags := []string{"a", "b", "a"}
	forum, err := a.CreateForum("u1", "title", "desc", tags)
	if err != nil {
		t.Fatalf("CreateForum() error: %v", err)
	}

	thread, err := a.GetForumThread(forum.ID)
	if err != nil {
		t.Fatalf("GetForumThread() error: %v", err)
	}
	// Order and duplicates preserved, a sequence rather than a set.
	if !reflect.DeepEqual(thread.Tags, tags) {
		t.Fatalf("tags = %#v, want %#v", thread.Tags, tags)
	}
}

func TestUpdateForumOwnership(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")
	seedUser(t, mem, "u2", "Ben")

	forum, err := a.CreateForum("u1", "title", "desc", nil)
	if err != nil {
		t.Fatalf("CreateForum() error: %v", err)
	}

	if _, err := a.UpdateForum("u2", forum.ID, "new", "new", nil); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner update: %v", err)
	}
	if _, err := a.UpdateForum("u1", "missing", "new", "new", nil); !errors.Is(err, ErrForumNotFound) {
		t.Fatalf("missing forum update: %v", err)
	}

	updated, err := a.UpdateForum("u1", forum.ID, "new title", "new desc", []string{"x"})
	if err != nil {
		t.Fatalf("UpdateForum() error: %v", err)
	}
	if updated.Title != "new title" || updated.Description != "new desc" || len(updated.Tags) != 1 {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestDeleteForumOwnership(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")
	seedUser(t, mem, "u2", "Ben")

	forum, err := a.CreateForum("u1", "title", "desc", nil)
	if err != nil {
		t.Fatalf("CreateForum() error: %v", err)
	}
	if _, err := a.CreateComment("u2", forum.ID, "a comment"); err != nil {
		t.Fatalf("CreateComment() error: %v", err)
	}

	if err := a.DeleteForum("u2", forum.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner delete: %v", err)
	}
	if err := a.DeleteForum("u1", "missing"); !errors.Is(err, ErrForumNotFound) {
		t.Fatalf("missing forum delete: %v", err)
	}

	if err := a.DeleteForum("u1", forum.ID); err != nil {
		t.Fatalf("DeleteForum() error: %v", err)
	}
	if _, err := a.GetForumThread(forum.ID); !errors.Is(err, ErrForumNotFound) {
		t.Fatalf("forum should be gone: %v", err)
	}
}

func TestCommentLifecycle(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")
	seedUser(t, mem, "u2", "Ben")

	forum, err := a.CreateForum("u1", "title", "desc", nil)
	if err != nil {
		t.Fatalf("CreateForum() error: %v", err)
	}

	if _, err := a.CreateComment("u2", forum.ID, "  "); !errors.Is(err, ErrContentRequired) {
		t.Fatalf("blank content: %v", err)
	}
	if _, err := a.CreateComment("u2", "missing", "hi"); !errors.Is(err, ErrForumNotFound) {
		t.Fatalf("comment on missing forum: %v", err)
	}

	comment, err := a.CreateComment("u2", forum.ID, "hi there")
	if err != nil {
		t.Fatalf("CreateComment() error: %v", err)
	}
	if comment.Author.Name != "Ben" {
		t.Fatalf("comment author not attached: %+v", comment)
	}

	if err := a.DeleteComment("u1", comment.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-author delete: %v", err)
	}
	if err := a.DeleteComment("u2", "missing"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("missing comment delete: %v", err)
	}
	if err := a.DeleteComment("u2", comment.ID); err != nil {
		t.Fatalf("DeleteComment() error: %v", err)
	}

	thread, err := a.GetForumThread(forum.ID)
	if err != nil {
		t.Fatalf("GetForumThread() error: %v", err)
	}
	if len(thread.Comments) != 0 || thread.CommentCount != 0 {
		t.Fatalf("comment should be gone: %+v", thread)
	}
}

func TestListForumsNewestFirst(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")

	var ids []string
	for i := 0; i < 3; i++ {
		forum, err := a.CreateForum("u1", "t", "d", nil)
		if err != nil {
			t.Fatalf("CreateForum() error: %v", err)
		}
		ids = append(ids, forum.ID)
		time.Sleep(2 * time.Millisecond)
	}

	forums, err := a.ListForums()
	if err != nil {
		t.Fatalf("ListForums() error: %v", err)
	}
	if len(forums) != 3 {
		t.Fatalf("len(forums) = %d, want 3", len(forums))
	}
	if forums[0].ID != ids[2] || forums[2].ID != ids[0] {
		t.Fatalf("forums not newest first")
	}
}

func TestGetForumThreadIsIdempotent(t *testing.T) {
	a, mem := newTestApp(t)
	seedUser(t, mem, "u1", "Ana")

	forum, err := a.CreateForum("u1", "t", "d", []string{"x", "y"})
	if err != nil {
		t.Fatalf("CreateForum() error: %v", err)
	}
	if _, err := a.CreateComment("u1", forum.ID, "hello"); err != nil {
		t.Fatalf("CreateComment() error: %v", err)
	}

	first, err := a.GetForumThread(forum.ID)
	if err != nil {
		t.Fatalf("GetForumThread() error: %v", err)
	}
	second, err := a.GetForumThread(forum.ID)
	if err != nil {
		t.Fatalf("GetForumThread() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two reads with no writes differ:\n%+v\n%+v", first, second)
	}
}
