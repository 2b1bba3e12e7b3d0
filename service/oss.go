package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"PromptToVideo-server/service/gateway"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ArtifactStore persists generated media and resolves references back to bytes.
type ArtifactStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) (*gateway.Image, error)
}

// InlineStore keeps artifacts inside the checkpoint as data URIs.
type InlineStore struct{}

func (InlineStore) Put(_ context.Context, _ string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty artifact")
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (InlineStore) Get(_ context.Context, ref string) (*gateway.Image, error) {
	return decodeDataURI(ref)
}

func decodeDataURI(ref string) (*gateway.Image, error) {
	if !strings.HasPrefix(ref, "data:") {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	mime, isB64 := strings.CutSuffix(meta, ";base64")
	if !isB64 {
		return nil, fmt.Errorf("data URI is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URI: %w", err)
	}
	return &gateway.Image{MimeType: mime, Data: data}, nil
}

// MinioConfig mirrors the minio section of the config file.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore 将生成的素材上传到 MinIO，并返回预签名 URL
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioStore 初始化连接，并确保 Bucket 存在
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("MinIO 初始化失败: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查 Bucket 失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 Bucket 失败: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger.With(zap.String("component", "minio_store"))}, nil
}

func (s *MinioStore) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = contentTypeFor(objectName)
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传到 MinIO 失败: %w", err)
	}

	// 预签名 URL（72小时有效期）
	presignedURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 72*time.Hour, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("生成签名 URL 失败: %w", err)
	}
	s.logger.Debug("artifact uploaded", zap.String("object", objectName))
	return presignedURL.String(), nil
}

// Get reads an artifact back by the object name embedded in its presigned URL.
// Data URIs (e.g. user-supplied reference images) are decoded directly.
func (s *MinioStore) Get(ctx context.Context, ref string) (*gateway.Image, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse artifact url: %w", err)
	}
	objectName := strings.TrimPrefix(u.Path, "/"+s.bucket+"/")
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象失败: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象失败: %w", err)
	}
	return &gateway.Image{MimeType: contentTypeFor(objectName), Data: data}, nil
}

// 根据文件扩展名确定 ContentType
func contentTypeFor(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "image/png", "":
		return ".png"
	}
	return ".bin"
}

// refCache memoises reference loads for one invocation; the same portrait is
// typically referenced by many frames.
type refCache struct {
	store ArtifactStore
	mu    sync.Mutex
	items map[string]*gateway.Image
}

func newRefCache(store ArtifactStore) *refCache {
	return &refCache{store: store, items: make(map[string]*gateway.Image)}
}

// remember seeds the cache with bytes we just generated so they are never re-fetched.
func (c *refCache) remember(ref string, img *gateway.Image) {
	c.mu.Lock()
	c.items[ref] = img
	c.mu.Unlock()
}

func (c *refCache) load(ctx context.Context, ref string) (*gateway.Image, error) {
	c.mu.Lock()
	img, ok := c.items[ref]
	c.mu.Unlock()
	if ok {
		return img, nil
	}
	img, err := c.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.remember(ref, img)
	return img, nil
}
