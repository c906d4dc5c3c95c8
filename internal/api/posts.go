package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"blogapi/internal/api/apierr"
	"blogapi/internal/api/middleware"
	"blogapi/internal/model"
	"blogapi/internal/pkg/metrics"
	"blogapi/internal/post"

	"github.com/gin-gonic/gin"
)

type pageInfo struct {
	TotalPosts  int64 `json:"totalPosts"`
	TotalPages  int   `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	LastPage    bool  `json:"lastPage"`
}

type listPostsResponse struct {
	Posts    []post.PostWithViews `json:"posts"`
	PageInfo pageInfo             `json:"pageInfo"`
}

// createPostRequest 同时支持 JSON 与 multipart 表单。
type createPostRequest struct {
	Title       string   `json:"title" form:"title"`
	Description string   `json:"description" form:"description"`
	Tags        []string `json:"tags" form:"tags"`
	Thumbs      string   `json:"thumbs" form:"thumbs"`
}

type updatePostRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	Thumbs      *string   `json:"thumbs"`
}

type setViewRequest struct {
	PostID        uint   `json:"postId"`
	TotalPageView *int64 `json:"totalPageView"`
}

// saveCommentRequest 中的 id 是旧客户端使用的 postId 别名。
type saveCommentRequest struct {
	PostID  uint   `json:"postId"`
	ID      uint   `json:"id"`
	Comment string `json:"comment"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

// handleListPosts 分页查询文章，支持关键字与标签过滤。
func (s *Server) handleListPosts(c *gin.Context) {
	page, err := s.posts.ListPosts(c.Request.Context(), post.ListQuery{
		Page:    parseQueryInt(c, "page", post.DefaultPage),
		PerPage: parseQueryInt(c, "perPage", post.DefaultPerPage),
		Search:  c.Query("search"),
		Tags:    c.Query("tags"),
	})
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []post.PostWithViews{}
	}
	c.JSON(http.StatusOK, listPostsResponse{
		Posts: items,
		PageInfo: pageInfo{
			TotalPosts:  page.TotalCount,
			TotalPages:  page.TotalPages,
			CurrentPage: page.CurrentPage,
			LastPage:    page.LastPage(),
		},
	})
}

func (s *Server) handleGetPost(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	p, err := s.posts.GetPostWithViews(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleUserPosts 返回某个作者的全部文章，没有文章时返回 404。
func (s *Server) handleUserPosts(c *gin.Context) {
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	posts, err := s.posts.ListByUser(c.Request.Context(), userID)
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	if len(posts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no posts found for this user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleTopPosts(c *gin.Context) {
	top, err := s.posts.TopPosts(c.Request.Context(), post.DefaultTop)
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	if top == nil {
		top = []post.PostWithViews{}
	}
	c.JSON(http.StatusOK, gin.H{"topPosts": top})
}

// handleCreatePost 创建文章，作者信息取自当前会话，请求体中的 userId 会被忽略。
//
// multipart 请求可以附带 image 文件，保存后作为默认封面。
func (s *Server) handleCreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBind(&req); err != nil {
		apierr.Respond(c, s.logger, apierr.BadRequest(err))
		return
	}

	ctx := c.Request.Context()
	owner, err := s.accounts.GetUser(ctx, middleware.UserID(c))
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}

	p := &model.Post{
		UserID:      owner.ID,
		UserName:    owner.Name,
		Title:       req.Title,
		Description: req.Description,
		Tags:        splitTags(req.Tags),
		Thumbs:      strings.TrimSpace(req.Thumbs),
	}

	if fh, err := c.FormFile("image"); err == nil {
		url, err := s.saveUpload(c, fh)
		if err != nil {
			apierr.Respond(c, s.logger, err)
			return
		}
		if p.Thumbs == "" {
			p.Thumbs = url
		}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		apierr.Respond(c, s.logger, apierr.BadRequest(err))
		return
	}

	if err := s.posts.CreatePost(ctx, p); err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	metrics.PostsCreatedTotal.Inc()
	s.logger.Info("post created", slog.Any("post_id", p.ID), slog.Any("user_id", p.UserID))
	c.JSON(http.StatusOK, p)
}

// saveUpload 保存上传图片并记录 Image，返回对外访问地址。
func (s *Server) saveUpload(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	if s.storage == nil {
		return "", apierr.BadRequest(errors.New("uploads are disabled"))
	}
	driver := s.storage.Driver()
	if fh.Size > maxUploadBytes {
		metrics.UploadsTotal.WithLabelValues(driver, "rejected").Inc()
		return "", apierr.BadRequest(fmt.Errorf("image larger than %d bytes", maxUploadBytes))
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		metrics.UploadsTotal.WithLabelValues(driver, "rejected").Inc()
		return "", apierr.BadRequest(errors.New("image must be an image file"))
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	obj, err := s.storage.Save(c.Request.Context(), fh.Filename, f, fh.Size, contentType)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues(driver, "error").Inc()
		return "", err
	}
	metrics.UploadsTotal.WithLabelValues(driver, "ok").Inc()

	if err := s.posts.SaveImage(c.Request.Context(), &model.Image{Filename: fh.Filename, Path: obj.URL}); err != nil {
		return "", err
	}
	return obj.URL, nil
}

// handleUpdatePost 部分更新文章，只有作者或管理员可以修改。
func (s *Server) handleUpdatePost(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, s.logger, apierr.BadRequest(err))
		return
	}
	if err := s.authorize(c, id); err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}

	patch := post.Patch{
		Title:       req.Title,
		Description: req.Description,
		Thumbs:      req.Thumbs,
	}
	if req.Tags != nil {
		tags := splitTags(*req.Tags)
		patch.Tags = &tags
	}
	updated, err := s.posts.UpdatePost(c.Request.Context(), id, patch)
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeletePost(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	if err := s.authorize(c, id); err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	if err := s.posts.DeletePost(c.Request.Context(), id); err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	s.logger.Info("post deleted", slog.Any("post_id", id), slog.Any("user_id", middleware.UserID(c)))
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// authorize 检查当前用户是否为文章作者或管理员。
func (s *Server) authorize(c *gin.Context, postID uint) error {
	p, err := s.posts.GetPost(c.Request.Context(), postID)
	if err != nil {
		return err
	}
	if middleware.Role(c) == model.RoleAdmin || p.UserID == middleware.UserID(c) {
		return nil
	}
	return apierr.ErrForbidden
}

// handleSetPostView 写入文章浏览量（覆盖写）。
func (s *Server) handleSetPostView(c *gin.Context) {
	var req setViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, s.logger, apierr.BadRequest(err))
		return
	}
	if req.PostID == 0 || req.TotalPageView == nil {
		apierr.Respond(c, s.logger, apierr.BadRequest(errors.New("postId and totalPageView are required")))
		return
	}
	view, err := s.posts.SetView(c.Request.Context(), req.PostID, *req.TotalPageView)
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	metrics.PostViewsSetTotal.Inc()
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListComments(c *gin.Context) {
	comments, err := s.posts.ListComments(c.Request.Context())
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

// handlePostComments 返回某篇文章的评论，路径中的 id 是文章 ID。
func (s *Server) handlePostComments(c *gin.Context) {
	postID, err := parseIDParam(c, "id")
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	comments, err := s.posts.ListCommentsByPost(c.Request.Context(), postID)
	if err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

func (s *Server) handleSaveComment(c *gin.Context) {
	var req saveCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, s.logger, apierr.BadRequest(err))
		return
	}
	postID := req.PostID
	if postID == 0 {
		postID = req.ID
	}
	comment := &model.Comment{
		PostID:  postID,
		Comment: req.Comment,
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
	}
	if err := s.posts.CreateComment(c.Request.Context(), comment); err != nil {
		apierr.Respond(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}

// splitTags 兼容 "a,b" 形式的单个表单值。
func splitTags(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}
