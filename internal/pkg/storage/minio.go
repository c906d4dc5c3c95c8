package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"blogapi/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio 把文件写入 S3 兼容的对象存储。
type Minio struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinio 创建 MinIO 客户端并确保 bucket 存在。
func NewMinio(ctx context.Context, cfg config.StorageConfig) (*Minio, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	if endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required for minio")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	m := &Minio{client: client, bucket: cfg.Bucket}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	m.baseURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, cfg.Bucket)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

func (m *Minio) Driver() string { return "minio" }

// Save 上传对象。size < 0 时由客户端分片上传。
func (m *Minio) Save(ctx context.Context, originalName string, r io.Reader, size int64, contentType string) (Object, error) {
	key := objectKey(originalName, time.Now())
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}
	return Object{Key: key, URL: m.baseURL + "/" + key}, nil
}
