package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"blogapi/internal/config"

	"github.com/google/uuid"
)

// Object 是已保存的上传文件。
type Object struct {
	Key string // 存储中的对象名
	URL string // 对外访问地址
}

// Storage 保存上传文件。
type Storage interface {
	Save(ctx context.Context, originalName string, r io.Reader, size int64, contentType string) (Object, error)
	Driver() string
}

// New 按配置创建存储驱动。
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir, cfg.PublicPath)
	case "minio":
		return NewMinio(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// objectKey 生成 "年/月/uuid.ext" 形式的对象名，不使用客户端提供的文件名。
func objectKey(originalName string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.NewString(), ext)
}
