package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Local 把文件写入本地目录，由 HTTP 服务以静态文件方式提供。
type Local struct {
	dir        string
	publicPath string
}

// NewLocal 创建本地存储并确保目录存在。
func NewLocal(dir, publicPath string) (*Local, error) {
	if dir == "" {
		dir = "uploads"
	}
	if publicPath == "" {
		publicPath = "/uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{dir: dir, publicPath: "/" + strings.Trim(publicPath, "/")}, nil
}

// Dir 返回存储目录。
func (l *Local) Dir() string { return l.dir }

// PublicPath 返回对外访问前缀。
func (l *Local) PublicPath() string { return l.publicPath }

func (l *Local) Driver() string { return "local" }

// Save 写入文件。size >= 0 时超出部分视为错误。
func (l *Local) Save(ctx context.Context, originalName string, r io.Reader, size int64, _ string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	key := objectKey(originalName, time.Now())
	full := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Object{}, fmt.Errorf("create upload dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("create upload file: %w", err)
	}
	src := r
	if size >= 0 {
		src = io.LimitReader(r, size+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n > size {
		err = fmt.Errorf("upload larger than declared size %d", size)
	}
	if err != nil {
		_ = os.Remove(full)
		return Object{}, fmt.Errorf("write upload: %w", err)
	}
	return Object{Key: key, URL: path.Join(l.publicPath, key)}, nil
}
