package post

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"blogapi/internal/config"
	"blogapi/internal/database"
	"blogapi/internal/model"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "post.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seedPosts 创建 n 篇文章，第 i 篇的创建时间为 baseTime + i 分钟。
func seedPosts(t *testing.T, s *Store, n int) []model.Post {
	t.Helper()
	posts := make([]model.Post, 0, n)
	for i := 0; i < n; i++ {
		p := model.Post{
			UserID:      1,
			UserName:    "alice",
			Title:       fmt.Sprintf("Post %02d", i),
			Description: fmt.Sprintf("description %02d", i),
			Tags:        []string{"general"},
			CreatedAt:   baseTime.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreatePost(context.Background(), &p); err != nil {
			t.Fatalf("create post %d: %v", i, err)
		}
		posts = append(posts, p)
	}
	return posts
}

func TestListPosts_Pagination(t *testing.T) {
	s := NewStore(newTestDB(t))
	seedPosts(t, s, 12)
	ctx := context.Background()

	first, err := s.ListPosts(ctx, ListQuery{Page: 1, PerPage: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 5 || first.TotalCount != 12 || first.TotalPages != 3 {
		t.Fatalf("unexpected first page: items=%d total=%d pages=%d", len(first.Items), first.TotalCount, first.TotalPages)
	}
	if first.Items[0].Title != "Post 11" {
		t.Fatalf("expected newest first, got %q", first.Items[0].Title)
	}
	if first.LastPage() {
		t.Fatalf("page 1 is not the last page")
	}

	third, err := s.ListPosts(ctx, ListQuery{Page: 3, PerPage: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(third.Items) != 2 || !third.LastPage() {
		t.Fatalf("unexpected third page: items=%d last=%v", len(third.Items), third.LastPage())
	}
	if third.Items[1].Title != "Post 00" {
		t.Fatalf("expected oldest last, got %q", third.Items[1].Title)
	}

	beyond, err := s.ListPosts(ctx, ListQuery{Page: 9, PerPage: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(beyond.Items) != 0 {
		t.Fatalf("expected empty page, got %d", len(beyond.Items))
	}
}

func TestListPosts_Defaults(t *testing.T) {
	s := NewStore(newTestDB(t))
	seedPosts(t, s, 7)

	page, err := s.ListPosts(context.Background(), ListQuery{Page: 0, PerPage: -3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.CurrentPage != 1 || page.PerPage != 5 || len(page.Items) != 5 {
		t.Fatalf("expected defaults 1/5, got %d/%d items=%d", page.CurrentPage, page.PerPage, len(page.Items))
	}

	capped, err := s.ListPosts(context.Background(), ListQuery{PerPage: 10000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if capped.PerPage != MaxPerPage {
		t.Fatalf("expected perPage capped at %d, got %d", MaxPerPage, capped.PerPage)
	}
}

func TestListPosts_StableOrderForEqualTimestamps(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p := model.Post{UserID: 1, Title: fmt.Sprintf("same-%d", i), CreatedAt: baseTime}
		if err := s.CreatePost(ctx, &p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	page, err := s.ListPosts(ctx, ListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Items[0].Title != "same-2" || page.Items[2].Title != "same-0" {
		t.Fatalf("expected id DESC tie-break, got %q..%q", page.Items[0].Title, page.Items[2].Title)
	}
}

func TestListPosts_SearchAndTags(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()
	fixtures := []model.Post{
		{UserID: 1, Title: "Learning Go", Description: "goroutines and channels", Tags: []string{"Golang", "Backend"}},
		{UserID: 1, Title: "CSS tricks", Description: "flexbox 100% height", Tags: []string{"frontend"}},
		{UserID: 2, Title: "Databases", Description: "indexes in GO services", Tags: []string{"sql"}},
	}
	for i := range fixtures {
		fixtures[i].CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
		if err := s.CreatePost(ctx, &fixtures[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	cases := []struct {
		name  string
		query ListQuery
		want  []string
	}{
		{"title case-insensitive", ListQuery{Search: "LEARNING"}, []string{"Learning Go"}},
		{"title or description", ListQuery{Search: "go"}, []string{"Databases", "Learning Go"}},
		{"percent is literal", ListQuery{Search: "100%"}, []string{"CSS tricks"}},
		{"underscore is literal", ListQuery{Search: "_"}, nil},
		{"tag any match", ListQuery{Tags: "sql, frontend"}, []string{"Databases", "CSS tricks"}},
		{"tag case-insensitive", ListQuery{Tags: "golang"}, []string{"Learning Go"}},
		{"search and tags", ListQuery{Search: "go", Tags: "sql"}, []string{"Databases"}},
		{"empty tag terms ignored", ListQuery{Tags: " , "}, []string{"Databases", "CSS tricks", "Learning Go"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := s.ListPosts(ctx, tc.query)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(page.Items) != len(tc.want) || page.TotalCount != int64(len(tc.want)) {
				t.Fatalf("expected %v, got %d items (total %d)", tc.want, len(page.Items), page.TotalCount)
			}
			for i, title := range tc.want {
				if page.Items[i].Title != title {
					t.Fatalf("item %d: expected %q, got %q", i, title, page.Items[i].Title)
				}
			}
		})
	}
}

func TestListPosts_TagsWithPunctuation(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)
	ctx := context.Background()
	fixtures := []model.Post{
		{UserID: 1, Title: "Lab notes", Tags: []string{"R&D", "<go>"}},
		{UserID: 1, Title: "Plain", Tags: []string{"general"}},
	}
	for i := range fixtures {
		fixtures[i].CreatedAt = baseTime.Add(time.Duration(i) * time.Minute)
		if err := s.CreatePost(ctx, &fixtures[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	var raw string
	if err := db.Raw("SELECT tags FROM posts WHERE id = ?", fixtures[0].ID).Scan(&raw).Error; err != nil {
		t.Fatalf("raw tags: %v", err)
	}
	if raw != `["R&D","<go>"]` {
		t.Fatalf("expected unescaped tags column, got %s", raw)
	}
	got, err := s.GetPost(ctx, fixtures[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "R&D" || got.Tags[1] != "<go>" {
		t.Fatalf("tags round trip: %v", got.Tags)
	}

	cases := []struct {
		tags string
		want []string
	}{
		{"r&d", []string{"Lab notes"}},
		{"R&D", []string{"Lab notes"}},
		{"<go>", []string{"Lab notes"}},
		{"[", nil},
		{"]", nil},
		{`"`, nil},
		{`"general"`, nil},
		{"gen", []string{"Plain"}},
	}
	for _, tc := range cases {
		t.Run(tc.tags, func(t *testing.T) {
			page, err := s.ListPosts(ctx, ListQuery{Tags: tc.tags})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if page.TotalCount != int64(len(tc.want)) || len(page.Items) != len(tc.want) {
				t.Fatalf("tags %q: expected %v, got total %d", tc.tags, tc.want, page.TotalCount)
			}
			for i, title := range tc.want {
				if page.Items[i].Title != title {
					t.Fatalf("item %d: expected %q, got %q", i, title, page.Items[i].Title)
				}
			}
		})
	}
}

func TestListPosts_NonASCIISearch(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()
	p := &model.Post{UserID: 1, Title: "Über Café", Description: "Grüße", Tags: []string{"Straße"}, CreatedAt: baseTime}
	if err := s.CreatePost(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	// SQLite 只折叠 ASCII 大小写，非 ASCII 字母需与原文大小写一致。
	for _, q := range []ListQuery{
		{Search: "Über"},
		{Search: "ÜBER CAFé"},
		{Search: "café"},
		{Search: "grüße"},
		{Tags: "straße"},
		{Tags: "STRAßE"},
	} {
		page, err := s.ListPosts(ctx, q)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.TotalCount != 1 {
			t.Fatalf("query %+v: expected 1 match, got %d", q, page.TotalCount)
		}
	}
}

func TestFoldVariants(t *testing.T) {
	if got := foldVariants("GoLang"); len(got) != 1 || got[0] != "golang" {
		t.Fatalf("ascii term: %v", got)
	}
	got := foldVariants("ÜBER")
	if len(got) != 2 || got[0] != "über" || got[1] != "Über" {
		t.Fatalf("non-ascii term: %v", got)
	}
}

func TestSetView_Upsert(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)
	posts := seedPosts(t, s, 1)
	ctx := context.Background()
	id := posts[0].ID

	if _, err := s.SetView(ctx, id, 10); err != nil {
		t.Fatalf("set view: %v", err)
	}
	view, err := s.SetView(ctx, id, 3)
	if err != nil {
		t.Fatalf("set view: %v", err)
	}
	if view.TotalPageView != 3 || view.PostID != id {
		t.Fatalf("unexpected view %+v", view)
	}

	var count int64
	if err := db.Model(&model.PostView{}).Where("post_id = ?", id).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one view record, got %d", count)
	}

	got, err := s.GetPostWithViews(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalPageView != 3 {
		t.Fatalf("expected 3 views, got %d", got.TotalPageView)
	}
}

func TestSetView_Errors(t *testing.T) {
	s := NewStore(newTestDB(t))
	posts := seedPosts(t, s, 1)
	ctx := context.Background()

	if _, err := s.SetView(ctx, posts[0].ID, -1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := s.SetView(ctx, posts[0].ID+99, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTopPosts(t *testing.T) {
	s := NewStore(newTestDB(t))
	posts := seedPosts(t, s, 7)
	ctx := context.Background()

	views := map[int]int64{2: 50, 4: 90, 5: 50}
	for idx, v := range views {
		if _, err := s.SetView(ctx, posts[idx].ID, v); err != nil {
			t.Fatalf("set view: %v", err)
		}
	}

	top, err := s.TopPosts(ctx, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 5 {
		t.Fatalf("expected 5 posts, got %d", len(top))
	}
	wantTitles := []string{"Post 04", "Post 05", "Post 02", "Post 06", "Post 03"}
	wantViews := []int64{90, 50, 50, 0, 0}
	for i := range wantTitles {
		if top[i].Title != wantTitles[i] || top[i].TotalPageView != wantViews[i] {
			t.Fatalf("rank %d: expected %s/%d, got %s/%d", i, wantTitles[i], wantViews[i], top[i].Title, top[i].TotalPageView)
		}
	}
}

func TestGetPostWithViews_NoRecord(t *testing.T) {
	s := NewStore(newTestDB(t))
	posts := seedPosts(t, s, 1)

	got, err := s.GetPostWithViews(context.Background(), posts[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalPageView != 0 {
		t.Fatalf("expected 0 views, got %d", got.TotalPageView)
	}
	if _, err := s.GetPostWithViews(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAndDeletePost(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)
	posts := seedPosts(t, s, 2)
	ctx := context.Background()
	id := posts[0].ID

	title := "  Renamed  "
	tags := []string{" a ", "", "b"}
	updated, err := s.UpdatePost(ctx, id, Patch{Title: &title, Tags: &tags})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Renamed" || len(updated.Tags) != 2 || updated.Description != "description 00" {
		t.Fatalf("unexpected update result %+v", updated)
	}

	empty := " "
	if _, err := s.UpdatePost(ctx, id, Patch{Title: &empty}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if _, err := s.SetView(ctx, id, 4); err != nil {
		t.Fatalf("set view: %v", err)
	}
	if err := s.CreateComment(ctx, &model.Comment{PostID: id, Comment: "nice", Name: "bob"}); err != nil {
		t.Fatalf("comment: %v", err)
	}

	if err := s.DeletePost(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeletePost(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	var views, comments int64
	db.Model(&model.PostView{}).Where("post_id = ?", id).Count(&views)
	db.Model(&model.Comment{}).Where("post_id = ?", id).Count(&comments)
	if views != 0 || comments != 0 {
		t.Fatalf("expected cascade delete, got views=%d comments=%d", views, comments)
	}
}

func TestListByUser(t *testing.T) {
	s := NewStore(newTestDB(t))
	seedPosts(t, s, 3)
	other := model.Post{UserID: 2, Title: "someone else"}
	if err := s.CreatePost(context.Background(), &other); err != nil {
		t.Fatalf("create: %v", err)
	}

	posts, err := s.ListByUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 3 || posts[0].Title != "Post 02" {
		t.Fatalf("unexpected posts %+v", posts)
	}
}

func TestComments(t *testing.T) {
	s := NewStore(newTestDB(t))
	posts := seedPosts(t, s, 2)
	ctx := context.Background()

	for i, p := range []uint{posts[0].ID, posts[1].ID, posts[0].ID} {
		c := model.Comment{PostID: p, Comment: fmt.Sprintf("comment %d", i), Name: "bob", Email: "bob@example.com"}
		if err := s.CreateComment(ctx, &c); err != nil {
			t.Fatalf("create comment: %v", err)
		}
		if c.ID == 0 {
			t.Fatalf("expected generated comment id")
		}
	}

	all, err := s.ListComments(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v (%d)", err, len(all))
	}
	byPost, err := s.ListCommentsByPost(ctx, posts[0].ID)
	if err != nil || len(byPost) != 2 {
		t.Fatalf("list by post: %v (%d)", err, len(byPost))
	}

	if err := s.CreateComment(ctx, &model.Comment{PostID: 999, Comment: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.CreateComment(ctx, &model.Comment{PostID: posts[0].ID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreatePost_Validation(t *testing.T) {
	s := NewStore(newTestDB(t))
	if err := s.CreatePost(context.Background(), &model.Post{UserID: 1, Title: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := s.CreatePost(context.Background(), &model.Post{Title: "orphan"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike("50%_off!"); got != "50!%!_off!!" {
		t.Fatalf("unexpected escape %q", got)
	}
}
