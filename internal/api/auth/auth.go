package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"blogapi/internal/account"
	"blogapi/internal/api/apierr"
	"blogapi/internal/api/middleware"
	"blogapi/internal/model"
	"blogapi/internal/pkg/metrics"
	"blogapi/internal/pkg/notify"
	"blogapi/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

// AccountStore 是 Handler 依赖的凭据存储。
type AccountStore interface {
	CreateUser(ctx context.Context, in account.NewUser) (*model.User, error)
	Authenticate(ctx context.Context, identifier, password string) (*model.User, error)
	GetUser(ctx context.Context, id uint) (*model.User, error)
	BeginPasswordReset(ctx context.Context, email string) (string, *model.User, error)
	CompletePasswordReset(ctx context.Context, token, newPassword string) error
	ResetTTL() time.Duration
}

// TokenService 签发、校验与吊销会话 token。
type TokenService interface {
	Issue(userID uint, role string) (string, time.Time, error)
	Verify(ctx context.Context, tokenStr string) (token.Claims, error)
	Revoke(ctx context.Context, c token.Claims) error
}

// Handler 提供注册、登录、注销与密码找回接口。
type Handler struct {
	accounts   AccountStore
	tokens     TokenService
	mailer     notify.Dispatcher
	resetURL   string
	inviteCode string
	logger     *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(accounts AccountStore, tokens TokenService, mailer notify.Dispatcher, resetURL, inviteCode string, logger *slog.Logger) *Handler {
	return &Handler{
		accounts:   accounts,
		tokens:     tokens,
		mailer:     mailer,
		resetURL:   resetURL,
		inviteCode: strings.TrimSpace(inviteCode),
		logger:     logger,
	}
}

type signupRequest struct {
	Name       string `json:"name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	InviteCode string `json:"inviteCode"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Signup 创建用户并直接签发 token。
//
// 只有邀请码匹配时才接受请求中的 role，否则一律为 user。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, h.logger, apierr.BadRequest(err))
		return
	}

	role := model.RoleUser
	if req.Role != "" && h.inviteMatches(req.InviteCode) {
		role = req.Role
	}

	user, err := h.accounts.CreateUser(c.Request.Context(), account.NewUser{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		metrics.AuthEventsTotal.WithLabelValues("signup", "failure").Inc()
		apierr.Respond(c, h.logger, err)
		return
	}

	tok, exp, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}

	metrics.AuthEventsTotal.WithLabelValues("signup", "success").Inc()
	if h.logger != nil {
		h.logger.Info("user registered", slog.Any("user_id", user.ID), slog.String("role", user.Role))
	}
	c.JSON(http.StatusCreated, sessionResponse{User: user, Token: tok, ExpiresAt: exp})
}

// Login 校验凭据并返回 token，identifier 可以是邮箱或用户名。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, h.logger, apierr.BadRequest(err))
		return
	}
	identifier := firstNonEmpty(req.Identifier, req.Email, req.Username)
	if identifier == "" {
		apierr.Respond(c, h.logger, apierr.BadRequest(errors.New("email or username is required")))
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), identifier, req.Password)
	if err != nil {
		metrics.AuthEventsTotal.WithLabelValues("login", "failure").Inc()
		apierr.Respond(c, h.logger, err)
		return
	}

	tok, exp, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}

	metrics.AuthEventsTotal.WithLabelValues("login", "success").Inc()
	if h.logger != nil {
		h.logger.Info("user logged in", slog.Any("user_id", user.ID), slog.String("role", user.Role))
	}
	c.JSON(http.StatusOK, sessionResponse{User: user, Token: tok, ExpiresAt: exp})
}

// Logout 吊销请求携带的 token；没有或无效的 token 直接返回成功。
func (h *Handler) Logout(c *gin.Context) {
	tokenStr, ok := middleware.BearerToken(c)
	if ok {
		claims, err := h.tokens.Verify(c.Request.Context(), tokenStr)
		switch {
		case err == nil:
			if err := h.tokens.Revoke(c.Request.Context(), claims); err != nil {
				apierr.Respond(c, h.logger, err)
				return
			}
			metrics.TokensRevokedTotal.Inc()
			metrics.AuthEventsTotal.WithLabelValues("logout", "success").Inc()
		case errors.Is(err, token.ErrInvalidToken):
		default:
			apierr.Respond(c, h.logger, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// UserDetails 返回当前会话用户的资料。
func (h *Handler) UserDetails(c *gin.Context) {
	user, err := h.accounts.GetUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		apierr.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":   user.ID,
		"name":     user.Name,
		"username": user.Username,
		"email":    user.Email,
		"role":     user.Role,
	})
}

// ForgotPassword 生成重置 token 并投递重置邮件。
//
// 只等待入队，不等待 SMTP 发送结果；入队失败返回 500。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, h.logger, apierr.BadRequest(err))
		return
	}

	resetToken, user, err := h.accounts.BeginPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		metrics.AuthEventsTotal.WithLabelValues("forgot_password", "failure").Inc()
		apierr.Respond(c, h.logger, err)
		return
	}

	if h.mailer != nil {
		mail := notify.PasswordResetMail(user.Email, h.resetURL, resetToken, h.accounts.ResetTTL())
		if err := h.mailer.Dispatch(c.Request.Context(), mail); err != nil {
			metrics.AuthEventsTotal.WithLabelValues("forgot_password", "failure").Inc()
			apierr.Respond(c, h.logger, fmt.Errorf("dispatch reset mail: %w", err))
			return
		}
	} else if h.logger != nil {
		h.logger.Warn("mail dispatcher not configured, reset mail dropped", slog.Any("user_id", user.ID))
	}

	metrics.AuthEventsTotal.WithLabelValues("forgot_password", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"message": "password reset email sent"})
}

// ResetPassword 使用邮件中的 token 设置新密码。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, h.logger, apierr.BadRequest(err))
		return
	}

	if err := h.accounts.CompletePasswordReset(c.Request.Context(), c.Param("token"), req.NewPassword); err != nil {
		metrics.AuthEventsTotal.WithLabelValues("reset_password", "failure").Inc()
		apierr.Respond(c, h.logger, err)
		return
	}

	metrics.AuthEventsTotal.WithLabelValues("reset_password", "success").Inc()
	c.JSON(http.StatusOK, gin.H{"message": "password has been reset"})
}

func (h *Handler) inviteMatches(code string) bool {
	code = strings.TrimSpace(code)
	if h.inviteCode == "" || code == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(h.inviteCode)) == 1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
