package model

import "time"

// 用户角色。
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 表示系统用户。
//
// PasswordHash 与 ResetTokenHash 只在服务端使用，不会序列化到响应中。
type User struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Name                string     `gorm:"type:varchar(191);not null" json:"name"`
	Username            string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"username"` // 用户名（唯一）
	Email               string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`    // 邮箱（唯一，小写）
	PasswordHash        string     `gorm:"not null" json:"-"`                                      // bcrypt 哈希
	Role                string     `gorm:"type:varchar(16);default:user" json:"role"`              // 角色: user / admin
	ResetTokenHash      *string    `gorm:"type:varchar(64);index" json:"-"`                        // 重置 token 的 sha256
	ResetTokenExpiresAt *time.Time `json:"-"`                                                      // 重置 token 过期时间
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}
