package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken 表示 token 无法通过校验（签名、过期、签发者、吊销等）。
var ErrInvalidToken = errors.New("invalid token")

// Revoker 保存已吊销的 token id。
type Revoker interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// Claims 是校验通过后的会话信息。
type Claims struct {
	UserID    uint
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Service 签发并校验 HS256 会话 token。启动后只读，可并发使用。
type Service struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoker Revoker
	now     func() time.Time
}

// Option 配置 Service。
type Option func(*Service)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRevoker 设置吊销列表。未设置时 Revoke 为空操作。
func WithRevoker(r Revoker) Option {
	return func(s *Service) {
		s.revoker = r
	}
}

// NewService 创建 token 服务。
func NewService(secret, issuer string, ttl time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token: empty secret")
	}
	if ttl <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	s := &Service{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL 返回会话有效期。
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue 为用户签发 token，返回 token 与过期时间。
func (s *Service) Issue(userID uint, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt.Truncate(time.Second), nil
}

// Verify 校验 token 并返回其中的会话信息。
//
// 任何格式或签名问题都返回 ErrInvalidToken；吊销列表查询失败时返回包装后的原始错误。
func (s *Service) Verify(ctx context.Context, tokenStr string) (Claims, error) {
	claims := &sessionClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return Claims{}, ErrInvalidToken
	}
	if claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrInvalidToken
		}
	}

	return Claims{
		UserID:    uint(uid),
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke 吊销 token，直到其原本的过期时间。
func (s *Service) Revoke(ctx context.Context, c Claims) error {
	if s.revoker == nil {
		return nil
	}
	remaining := c.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	return s.revoker.Revoke(ctx, c.TokenID, remaining)
}
