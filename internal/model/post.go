package model

import "time"

// Post 表示一篇博客文章。
//
// Tags 以 JSON 文本存储，标签过滤直接作用于序列化后的列。
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"userId"`      // 作者 ID（来自会话）
	UserName    string    `gorm:"type:varchar(191)" json:"userName"` // 作者显示名称
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Tags        []string  `gorm:"serializer:tagjson;type:text" json:"tags"`
	Thumbs      string    `gorm:"type:varchar(512)" json:"thumbs"` // 封面图地址
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PostView 是文章浏览量聚合记录，每篇文章至多一条。
type PostView struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PostID        uint      `gorm:"uniqueIndex;not null" json:"postId"`
	TotalPageView int64     `gorm:"not null;default:0" json:"totalPageView"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Comment 表示文章评论。
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"index;not null" json:"postId"`
	Comment   string    `gorm:"type:text;not null" json:"comment"`
	Name      string    `gorm:"type:varchar(191)" json:"name"`
	Email     string    `gorm:"type:varchar(191)" json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Image 记录一次文章图片上传。
type Image struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Filename  string    `gorm:"type:varchar(255);not null" json:"filename"`
	Path      string    `gorm:"type:varchar(512);not null" json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}
