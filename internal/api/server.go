package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blogapi/internal/account"
	"blogapi/internal/api/apierr"
	"blogapi/internal/api/auth"
	"blogapi/internal/api/middleware"
	"blogapi/internal/config"
	"blogapi/internal/database"
	"blogapi/internal/model"
	"blogapi/internal/pkg/mailqueue"
	"blogapi/internal/pkg/notify"
	"blogapi/internal/pkg/queue"
	"blogapi/internal/pkg/ratelimit"
	"blogapi/internal/pkg/revoke"
	"blogapi/internal/pkg/storage"
	"blogapi/internal/pkg/token"
	"blogapi/internal/post"
	"blogapi/internal/seed"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	mailQueueCapacity = 256
	mailJobTimeout    = 30 * time.Second
	maxUploadBytes    = 10 << 20
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、各领域存储以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	rdb      *redis.Client
	router   *gin.Engine
	auth     *auth.Handler
	accounts auth.AccountStore
	posts    PostStore
	tokens   auth.TokenService
	storage  storage.Storage
	limiter  *ratelimit.Limiter
	mailPool *queue.Pool
}

// PostStore 是文章相关 handler 依赖的存储。
type PostStore interface {
	ListPosts(ctx context.Context, q post.ListQuery) (post.Page, error)
	TopPosts(ctx context.Context, limit int) ([]post.PostWithViews, error)
	GetPost(ctx context.Context, id uint) (*model.Post, error)
	GetPostWithViews(ctx context.Context, id uint) (*post.PostWithViews, error)
	ListByUser(ctx context.Context, userID uint) ([]model.Post, error)
	CreatePost(ctx context.Context, p *model.Post) error
	UpdatePost(ctx context.Context, id uint, patch post.Patch) (*model.Post, error)
	DeletePost(ctx context.Context, id uint) error
	SetView(ctx context.Context, postID uint, total int64) (*model.PostView, error)
	CreateComment(ctx context.Context, c *model.Comment) error
	ListComments(ctx context.Context) ([]model.Comment, error)
	ListCommentsByPost(ctx context.Context, postID uint) ([]model.Comment, error)
	SaveImage(ctx context.Context, img *model.Image) error
}

// Deps 是 Server 的外部依赖，测试中可以替换。
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Accounts auth.AccountStore
	Posts    PostStore
	Tokens   auth.TokenService
	Mailer   notify.Dispatcher
	Storage  storage.Storage
	Limiter  *ratelimit.Limiter
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库并执行自动迁移
// 2. 连接 Redis（吊销列表、限流、邮件队列）
// 3. 创建 token 服务、凭据与文章存储、上传存储
// 4. 选择邮件投递方式并注册路由
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	tokens, err := token.NewService(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL,
		token.WithRevoker(revoke.NewList(rdb)))
	if err != nil {
		return nil, err
	}
	accounts, err := account.NewStore(db,
		account.WithBcryptCost(cfg.Security.BcryptCost),
		account.WithResetTTL(cfg.Security.ResetTokenTTL))
	if err != nil {
		return nil, err
	}
	posts := post.NewStore(db)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	// 邮件投递：开启队列时交给独立 mailer 进程，否则在进程内 worker 池发送
	var mailer notify.Dispatcher
	var pool *queue.Pool
	if cfg.App.EnableMailQueue {
		mailer = mailqueue.NewProducer(rdb, logger, cfg.App.MailStream)
	} else {
		pool = queue.NewPool(logger, cfg.App.MailWorker, mailQueueCapacity, mailJobTimeout)
		pool.Start(ctx)
		sender := notify.NewEmailSender(&cfg.Email, logger)
		warnMailUnconfigured(sender, logger)
		mailer = notify.NewPoolDispatcher(pool, sender, logger)
	}

	limiter := ratelimit.NewLimiter(rdb, logger, "", cfg.App.RateLimit, cfg.App.RateBurst)

	s := New(cfg, logger, Deps{
		DB:       db,
		Redis:    rdb,
		Accounts: accounts,
		Posts:    posts,
		Tokens:   tokens,
		Mailer:   mailer,
		Storage:  store,
		Limiter:  limiter,
	})
	s.mailPool = pool

	if cfg.App.SeedDemo {
		if _, err := seed.Demo(ctx, accounts, posts, logger, seed.Options{}); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	return s, nil
}

// warnMailUnconfigured 在 SMTP 未配置时于启动阶段告警一次，
// 此时重置密码邮件只记录日志，不会真正发出。
func warnMailUnconfigured(sender *notify.EmailSender, logger *slog.Logger) bool {
	if sender.Configured() {
		return false
	}
	logger.Warn("smtp not configured, password reset mails will be logged and dropped")
	return true
}

// New 用给定依赖组装 Server 并注册路由。
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = maxUploadBytes
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       deps.DB,
		rdb:      deps.Redis,
		router:   r,
		accounts: deps.Accounts,
		posts:    deps.Posts,
		tokens:   deps.Tokens,
		storage:  deps.Storage,
		limiter:  deps.Limiter,
		auth: auth.NewHandler(deps.Accounts, deps.Tokens, deps.Mailer,
			cfg.Email.ResetURL, cfg.Security.AdminInviteCode, logger),
	}
	s.registerRoutes()
	return s
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 停止邮件 worker 并关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.mailPool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.mailPool.Stop(ctx); err != nil {
			firstErr = err
		}
		cancel()
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	if local, ok := s.storage.(*storage.Local); ok {
		s.router.Static(local.PublicPath(), local.Dir())
	}

	limit := func(bucket string) gin.HandlerFunc {
		if s.limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return s.limiter.Middleware(bucket)
	}

	s.router.POST("/signup", limit("signup"), s.auth.Signup)
	s.router.POST("/login", limit("login"), s.auth.Login)
	s.router.POST("/logout", s.auth.Logout)
	s.router.POST("/forgot-password", limit("forgot"), s.auth.ForgotPassword)
	s.router.POST("/reset-password/:token", limit("reset"), s.auth.ResetPassword)

	s.router.GET("/posts", s.handleListPosts)
	s.router.GET("/posts/:id", s.handleGetPost)
	s.router.GET("/user-posts/:userId", s.handleUserPosts)
	s.router.GET("/toppost", s.handleTopPosts)
	s.router.PUT("/setPostView", s.handleSetPostView)
	s.router.GET("/getcomments", s.handleListComments)
	s.router.GET("/getcomment/:id", s.handlePostComments)
	s.router.POST("/savecomments", s.handleSaveComment)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.tokens, s.logger))
	authed.GET("/user-details", s.auth.UserDetails)
	authed.POST("/savepost", s.handleCreatePost)
	authed.PUT("/updatepost/:id", s.handleUpdatePost)
	authed.DELETE("/deletepost/:id", s.handleDeletePost)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "database"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseQueryInt 从 URL 查询参数中解析整数。
//
// 参数缺失或无法解析时返回默认值 def。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}

// parseIDParam 解析路径中的正整数 ID，失败时返回 400 错误。
func parseIDParam(c *gin.Context, key string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(key), 10, 64)
	if err != nil || id == 0 {
		return 0, apierr.BadRequest(fmt.Errorf("invalid %s", key))
	}
	return uint(id), nil
}
