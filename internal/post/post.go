package post

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"blogapi/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("post not found")
	ErrInvalidInput = errors.New("invalid input")
)

// 分页默认值与上限。
const (
	DefaultPage    = 1
	DefaultPerPage = 5
	MaxPerPage     = 100
	DefaultTop     = 5
)

// ListQuery 是文章列表的查询条件。Page/PerPage < 1 时使用默认值。
type ListQuery struct {
	Page    int
	PerPage int
	Search  string // 标题或描述子串，不区分大小写
	Tags    string // 逗号分隔，命中任一即可
}

// PostWithViews 是附带浏览量的文章。
type PostWithViews struct {
	model.Post
	TotalPageView int64 `json:"totalPageView"`
}

// Page 是分页结果。
type Page struct {
	Items       []PostWithViews
	TotalCount  int64
	TotalPages  int
	CurrentPage int
	PerPage     int
}

// LastPage 判断当前页是否为最后一页（没有结果时也视为最后一页）。
func (p Page) LastPage() bool {
	return p.CurrentPage >= p.TotalPages
}

// Patch 是文章的部分更新，nil 字段保持不变。
type Patch struct {
	Title       *string
	Description *string
	Tags        *[]string
	Thumbs      *string
}

// Store 负责文章、浏览量与评论的持久化。
type Store struct {
	db *gorm.DB
}

// NewStore 创建文章存储。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListPosts 按条件分页查询文章，按创建时间倒序（同一时间按 ID 倒序）。
func (s *Store) ListPosts(ctx context.Context, q ListQuery) (Page, error) {
	page, perPage := normalizePaging(q.Page, q.PerPage)

	base := s.db.WithContext(ctx).Model(&model.Post{})
	base = applySearch(base, q.Search)
	base = applyTags(base, q.Tags)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page{}, fmt.Errorf("count posts: %w", err)
	}

	var posts []model.Post
	err := base.Session(&gorm.Session{}).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&posts).Error
	if err != nil {
		return Page{}, fmt.Errorf("list posts: %w", err)
	}

	items, err := s.withViews(ctx, posts)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:       items,
		TotalCount:  total,
		TotalPages:  int((total + int64(perPage) - 1) / int64(perPage)),
		CurrentPage: page,
		PerPage:     perPage,
	}, nil
}

// TopPosts 返回浏览量最高的文章，没有浏览记录的文章按 0 计算。
func (s *Store) TopPosts(ctx context.Context, limit int) ([]PostWithViews, error) {
	if limit <= 0 {
		limit = DefaultTop
	}

	type ranked struct {
		ID    uint
		Views int64
	}
	var rows []ranked
	err := s.db.WithContext(ctx).
		Table("posts").
		Select("posts.id AS id, COALESCE(SUM(post_views.total_page_view), 0) AS views").
		Joins("LEFT JOIN post_views ON post_views.post_id = posts.id").
		Group("posts.id, posts.created_at").
		Order("views DESC").Order("posts.created_at DESC").Order("posts.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("rank posts: %w", err)
	}
	if len(rows) == 0 {
		return []PostWithViews{}, nil
	}

	ids := make([]uint, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	var posts []model.Post
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("load top posts: %w", err)
	}
	byID := make(map[uint]model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	out := make([]PostWithViews, 0, len(rows))
	for _, r := range rows {
		p, ok := byID[r.ID]
		if !ok {
			continue
		}
		out = append(out, PostWithViews{Post: p, TotalPageView: r.Views})
	}
	return out, nil
}

// GetPost 按 ID 查询文章。
func (s *Store) GetPost(ctx context.Context, id uint) (*model.Post, error) {
	var p model.Post
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &p, nil
}

// GetPostWithViews 查询文章及其浏览量。
func (s *Store) GetPostWithViews(ctx context.Context, id uint) (*PostWithViews, error) {
	p, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.withViews(ctx, []model.Post{*p})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ListByUser 返回用户的全部文章，最新的在前。
func (s *Store) ListByUser(ctx context.Context, userID uint) ([]model.Post, error) {
	var posts []model.Post
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("list user posts: %w", err)
	}
	return posts, nil
}

// CreatePost 保存新文章。
func (s *Store) CreatePost(ctx context.Context, p *model.Post) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if p.UserID == 0 {
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	p.Tags = NormalizeTags(p.Tags)
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// UpdatePost 应用部分更新并返回更新后的文章。
func (s *Store) UpdatePost(ctx context.Context, id uint, patch Patch) (*model.Post, error) {
	p, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		p.Title = title
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Tags != nil {
		p.Tags = NormalizeTags(*patch.Tags)
	}
	if patch.Thumbs != nil {
		p.Thumbs = *patch.Thumbs
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return p, nil
}

// DeletePost 删除文章及其浏览量与评论。
func (s *Store) DeletePost(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.Post{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete post: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("post_id = ?", id).Delete(&model.PostView{}).Error; err != nil {
			return fmt.Errorf("delete post views: %w", err)
		}
		if err := tx.Where("post_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		return nil
	})
}

// SetView 写入文章的浏览量，已存在时覆盖（最后一次写入生效）。
func (s *Store) SetView(ctx context.Context, postID uint, total int64) (*model.PostView, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: totalPageView must not be negative", ErrInvalidInput)
	}
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	view := model.PostView{PostID: postID, TotalPageView: total}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_page_view", "updated_at"}),
	}).Create(&view).Error
	if err != nil {
		return nil, fmt.Errorf("upsert post view: %w", err)
	}

	var stored model.PostView
	if err := db.Where("post_id = ?", postID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load post view: %w", err)
	}
	return &stored, nil
}

// CreateComment 保存评论，文章不存在时返回 ErrNotFound。
func (s *Store) CreateComment(ctx context.Context, c *model.Comment) error {
	c.Comment = strings.TrimSpace(c.Comment)
	if c.PostID == 0 {
		return fmt.Errorf("%w: postId is required", ErrInvalidInput)
	}
	if c.Comment == "" {
		return fmt.Errorf("%w: comment is required", ErrInvalidInput)
	}
	if _, err := s.GetPost(ctx, c.PostID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// ListComments 返回全部评论，按创建顺序排列。
func (s *Store) ListComments(ctx context.Context) ([]model.Comment, error) {
	var comments []model.Comment
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// ListCommentsByPost 返回某篇文章的评论。
func (s *Store) ListCommentsByPost(ctx context.Context, postID uint) ([]model.Comment, error) {
	var comments []model.Comment
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").Order("id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// SaveImage 记录一次图片上传。
func (s *Store) SaveImage(ctx context.Context, img *model.Image) error {
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

// NormalizeTags 去除空白与空标签。
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// withViews 批量查询浏览量并附加到文章上。
func (s *Store) withViews(ctx context.Context, posts []model.Post) ([]PostWithViews, error) {
	out := make([]PostWithViews, len(posts))
	if len(posts) == 0 {
		return out, nil
	}
	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	type viewSum struct {
		PostID uint
		Total  int64
	}
	var sums []viewSum
	err := s.db.WithContext(ctx).
		Model(&model.PostView{}).
		Select("post_id, SUM(total_page_view) AS total").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("load post views: %w", err)
	}
	views := make(map[uint]int64, len(sums))
	for _, v := range sums {
		views[v.PostID] = v.Total
	}
	for i, p := range posts {
		out[i] = PostWithViews{Post: p, TotalPageView: views[p.ID]}
	}
	return out, nil
}

func normalizePaging(page, perPage int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func applySearch(db *gorm.DB, search string) *gorm.DB {
	search = strings.TrimSpace(search)
	if search == "" {
		return db
	}
	var conds []string
	var args []interface{}
	for _, folded := range foldVariants(search) {
		pattern := "%" + escapeLike(folded) + "%"
		conds = append(conds, "LOWER(title) LIKE ? ESCAPE '!'", "LOWER(description) LIKE ? ESCAPE '!'")
		args = append(args, pattern, pattern)
	}
	return db.Where("("+strings.Join(conds, " OR ")+")", args...)
}

// applyTags 按标签过滤，命中任一关键词即可。
//
// tags 列保存的是 JSON 数组，关键词按 JSON 字符串转义后必须落在一对引号之间，
// 因此 "[" 或 "," 这类关键词不会命中数组本身的语法字符。
func applyTags(db *gorm.DB, tags string) *gorm.DB {
	var conds []string
	var args []interface{}
	for _, term := range NormalizeTags(strings.Split(tags, ",")) {
		for _, folded := range foldVariants(term) {
			enc, err := model.EncodeTagsJSON(folded)
			if err != nil {
				continue
			}
			enc = strings.TrimSuffix(strings.TrimPrefix(enc, `"`), `"`)
			conds = append(conds, "LOWER(tags) LIKE ? ESCAPE '!'")
			args = append(args, `%"%`+escapeLike(enc)+`%"%`)
		}
	}
	if len(conds) == 0 {
		return db
	}
	return db.Where("("+strings.Join(conds, " OR ")+")", args...)
}

// foldVariants 返回关键词的小写形式。
//
// SQLite 的 LOWER 只转换 ASCII 字母，所以除完整小写外再给出只转换 ASCII 的版本，
// 非 ASCII 字符大小写与原文一致时在 SQLite 上也能命中。
func foldVariants(term string) []string {
	full := strings.ToLower(term)
	ascii := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, term)
	if ascii == full {
		return []string{full}
	}
	return []string{full, ascii}
}

// escapeLike 转义 LIKE 通配符，转义字符为 '!'（MySQL 与 SQLite 通用）。
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
