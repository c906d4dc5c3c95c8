package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"blogapi/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already exists")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

const (
	minPasswordLen = 6
	maxPasswordLen = 72 // bcrypt 只使用前 72 字节
)

// NewUser 是创建用户所需的字段。
type NewUser struct {
	Name     string
	Username string
	Email    string
	Password string
	Role     string
}

// Store 负责用户凭据的持久化与校验。
type Store struct {
	db         *gorm.DB
	bcryptCost int
	resetTTL   time.Duration
	now        func() time.Time
	dummyHash  []byte
}

// Option 配置 Store。
type Option func(*Store)

// WithBcryptCost 设置 bcrypt cost。
func WithBcryptCost(cost int) Option {
	return func(s *Store) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

// WithResetTTL 设置重置 token 有效期。
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore 创建凭据存储。
func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:         db,
		bcryptCost: bcrypt.DefaultCost,
		resetTTL:   time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	// 用户不存在时也做一次同 cost 的比较，避免通过耗时判断用户是否存在
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// ResetTTL 返回重置 token 有效期。
func (s *Store) ResetTTL() time.Duration {
	return s.resetTTL
}

// CreateUser 创建用户。邮箱与用户名冲突分别返回 ErrEmailTaken / ErrUsernameTaken。
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if in.Role == "" {
		in.Role = model.RoleUser
	}

	if err := validateNewUser(in); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if taken, err := s.exists(db, "email = ?", in.Email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}
	if taken, err := s.exists(db, "username = ?", in.Username); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Name:         in.Name,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
	}
	if err := db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发注册绕过了预检查，由唯一索引兜底
			if taken, cerr := s.exists(db, "email = ?", in.Email); cerr == nil && taken {
				return nil, ErrEmailTaken
			}
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate 按邮箱或用户名校验密码。用户不存在与密码错误返回相同错误。
func (s *Store) Authenticate(ctx context.Context, identifier, password string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	db := s.db.WithContext(ctx)
	var user model.User
	err := db.Where("email = ?", normalizeEmail(identifier)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("username = ?", identifier).First(&user).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// GetUser 按 ID 查询用户。
func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// BeginPasswordReset 为邮箱对应的用户生成一次性重置 token。
//
// 数据库只保存 token 的 sha256，明文只返回给调用方用于发信。
func (s *Store) BeginPasswordReset(ctx context.Context, email string) (string, *model.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(raw)
	hash := hashToken(token)
	expiresAt := s.now().Add(s.resetTTL)

	db := s.db.WithContext(ctx)
	res := db.Model(&model.User{}).
		Where("email = ?", email).
		Updates(map[string]interface{}{
			"reset_token_hash":       hash,
			"reset_token_expires_at": expiresAt,
		})
	if res.Error != nil {
		return "", nil, fmt.Errorf("store reset token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", nil, ErrNotFound
	}

	var user model.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return "", nil, fmt.Errorf("query user: %w", err)
	}
	return token, &user, nil
}

// CompletePasswordReset 用 token 重置密码，token 随之失效。
//
// 校验与更新在同一条 UPDATE 中完成，同一 token 并发使用只会成功一次。
func (s *Store) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("reset_token_hash = ? AND reset_token_expires_at > ?", hashToken(token), s.now()).
		Updates(map[string]interface{}{
			"password_hash":          string(hash),
			"reset_token_hash":       nil,
			"reset_token_expires_at": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("reset password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidResetToken
	}
	return nil
}

func (s *Store) exists(db *gorm.DB, query string, arg interface{}) (bool, error) {
	var count int64
	if err := db.Model(&model.User{}).Where(query, arg).Count(&count).Error; err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return count > 0, nil
}

func validateNewUser(in NewUser) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if strings.ContainsAny(in.Username, " \t\r\n@") {
		return fmt.Errorf("%w: username must not contain spaces or @", ErrInvalidInput)
	}
	if in.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}
	if in.Role != model.RoleUser && in.Role != model.RoleAdmin {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	return validatePassword(in.Password)
}

func validatePassword(pw string) error {
	if len(pw) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if len(pw) > maxPasswordLen {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLen)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
