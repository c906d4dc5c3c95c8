// Package apierr 将领域错误统一映射为 HTTP 状态码与 JSON 响应。
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"blogapi/internal/account"
	"blogapi/internal/pkg/token"
	"blogapi/internal/post"

	"github.com/gin-gonic/gin"
)

var (
	// ErrForbidden 表示已认证用户无权操作目标资源。
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest 表示请求参数绑定或校验失败。
	ErrBadRequest = errors.New("bad request")
)

// BadRequest 包装 err，Respond 会以 400 返回其错误信息。
func BadRequest(err error) error {
	if err == nil {
		return ErrBadRequest
	}
	return &badRequest{err: err}
}

type badRequest struct{ err error }

func (b *badRequest) Error() string { return b.err.Error() }

func (b *badRequest) Unwrap() []error { return []error{ErrBadRequest, b.err} }

// Status 返回 err 对应的 HTTP 状态码和面向客户端的错误信息。
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, account.ErrInvalidInput),
		errors.Is(err, post.ErrInvalidInput),
		errors.Is(err, account.ErrEmailTaken),
		errors.Is(err, account.ErrUsernameTaken),
		errors.Is(err, account.ErrInvalidResetToken):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, account.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, token.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, post.ErrNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Respond 写出错误响应；500 时记录真实错误，不暴露给客户端。
func Respond(c *gin.Context, logger *slog.Logger, err error) {
	status, msg := Status(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
