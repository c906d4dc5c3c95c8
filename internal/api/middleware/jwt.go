package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"blogapi/internal/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 写入 gin 上下文的键。
const (
	KeyUserID         = "userID"
	KeyRole           = "role"
	KeyTokenID        = "tokenID"
	KeyTokenExpiresAt = "tokenExpiresAt"
)

// TokenVerifier 校验 bearer token。
type TokenVerifier interface {
	Verify(ctx context.Context, tokenStr string) (token.Claims, error)
}

// AuthMiddleware 校验 Bearer token 并将会话信息写入上下文。
//
// 中间件不查询用户记录，需要时由 handler 按 UserID 自行加载。
func AuthMiddleware(verifier TokenVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := verifier.Verify(c.Request.Context(), tokenStr)
		if err != nil {
			if errors.Is(err, token.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			if logger != nil {
				logger.Error("verify token failed", slog.String("error", err.Error()))
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		SetSession(c, claims)
		c.Next()
	}
}

// BearerToken 从 "Authorization: Bearer <token>" 请求头中取出 token。
func BearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(c.GetHeader("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// SetSession 将校验通过的 claims 写入上下文。
func SetSession(c *gin.Context, claims token.Claims) {
	c.Set(KeyUserID, claims.UserID)
	c.Set(KeyRole, claims.Role)
	c.Set(KeyTokenID, claims.TokenID)
	c.Set(KeyTokenExpiresAt, claims.ExpiresAt)
}

// UserID 返回当前登录用户 ID，未登录时为 0。
func UserID(c *gin.Context) uint {
	v, ok := c.Get(KeyUserID)
	if !ok {
		return 0
	}
	id, _ := v.(uint)
	return id
}

// Role 返回当前登录用户角色，未登录时为空字符串。
func Role(c *gin.Context) string {
	return c.GetString(KeyRole)
}

// Session 还原 AuthMiddleware 写入的 claims。
func Session(c *gin.Context) (token.Claims, bool) {
	id := UserID(c)
	if id == 0 {
		return token.Claims{}, false
	}
	exp, _ := c.Get(KeyTokenExpiresAt)
	expiresAt, _ := exp.(time.Time)
	return token.Claims{
		UserID:    id,
		Role:      Role(c),
		TokenID:   c.GetString(KeyTokenID),
		ExpiresAt: expiresAt,
	}, true
}
