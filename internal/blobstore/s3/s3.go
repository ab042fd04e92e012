package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const separator = "__"

// Config 包含 S3/MinIO 存储所需的配置。
type Config struct {
	Endpoint  string // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool // 是否使用 HTTPS
	PathStyle bool // 是否使用路径风格（MinIO 需要 true）
}

// Store 实现 blobstore.Store，使用 S3 兼容存储。
// 断点续传会话映射到 S3 multipart upload。
type Store struct {
	core   *minio.Core
	bucket string
	region string
}

// New 创建新的 S3 存储实例。
func New(ctx context.Context, cfg Config) (*Store, error) {
	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	// 检查 bucket 是否存在，不存在则创建
	exists, err := core.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := core.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{
		core:   core,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Upload 写入一个新对象并返回其稳定 ID。
func (s *Store) Upload(ctx context.Context, location, name string, r io.Reader, size int64) (string, error) {
	id := uuid.NewString()
	key := objectKey(location, id, name)

	_, err := s.core.Client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return id, nil
}

// Download 把对象取到本地路径。
func (s *Store) Download(ctx context.Context, id, localPath string) error {
	key, err := s.findKey(ctx, id)
	if err != nil {
		return err
	}
	if err := s.core.Client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	return nil
}

// Fetch 整体读取一个小对象。
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	key, err := s.findKey(ctx, id)
	if err != nil {
		return nil, err
	}

	obj, err := s.core.Client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Move 通过 copy+delete 把对象挪到新位置，ID 保持不变。
func (s *Store) Move(ctx context.Context, id, location string) error {
	key, err := s.findKey(ctx, id)
	if err != nil {
		return err
	}

	targetKey := path.Join(location, path.Base(key))
	if targetKey == key {
		return nil
	}

	_, err = s.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: targetKey},
		minio.CopySrcOptions{Bucket: s.bucket, Object: key},
	)
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}

	if err := s.core.Client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove source object: %w", err)
	}
	return nil
}

// List 列出一个位置下的全部对象（不含子位置）。
func (s *Store) List(ctx context.Context, location string) ([]blobstore.ObjectInfo, error) {
	prefix := strings.TrimSuffix(location, "/") + "/"

	var result []blobstore.ObjectInfo
	for obj := range s.core.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		id, name, ok := strings.Cut(path.Base(obj.Key), separator)
		if !ok {
			continue
		}
		result = append(result, blobstore.ObjectInfo{
			ID:        id,
			Name:      name,
			Size:      obj.Size,
			CreatedAt: obj.LastModified,
		})
	}
	return result, nil
}

// ListDirs 列出一个位置下的直接子位置名（公共前缀）。
func (s *Store) ListDirs(ctx context.Context, location string) ([]string, error) {
	prefix := strings.TrimSuffix(location, "/") + "/"

	var names []string
	for obj := range s.core.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		names = append(names, path.Base(strings.TrimSuffix(obj.Key, "/")))
	}
	return names, nil
}

// Delete 删除对象。
func (s *Store) Delete(ctx context.Context, id string) error {
	key, err := s.findKey(ctx, id)
	if err != nil {
		return err
	}
	return s.core.Client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// findKey 按稳定 ID 定位当前对象键。对象只会出现在少量已知位置，
// 归档库的规模下全桶扫描可以接受。
func (s *Store) findKey(ctx context.Context, id string) (string, error) {
	prefix := id + separator
	for obj := range s.core.Client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return "", fmt.Errorf("list objects: %w", obj.Err)
		}
		if strings.HasPrefix(path.Base(obj.Key), prefix) {
			return obj.Key, nil
		}
	}
	return "", blobstore.ErrNotFound
}

func objectKey(location, id, name string) string {
	return path.Join(location, id+separator+path.Base(name))
}

type sessionHandle struct {
	ID       string                `json:"id"`
	UploadID string                `json:"upload_id"`
	Key      string                `json:"key"`
	Meta     blobstore.SessionMeta `json:"meta"`
}

// Session 把续传会话映射到一个 multipart upload，
// 每个分块按固定大小对应一个 part。
type Session struct {
	store  *Store
	handle sessionHandle
}

// ResumableSession 开启新的续传会话。
func (s *Store) ResumableSession(ctx context.Context, meta blobstore.SessionMeta) (blobstore.Session, error) {
	if meta.PartSize <= 0 {
		return nil, fmt.Errorf("part size must be positive")
	}

	id := uuid.NewString()
	key := objectKey(meta.Location, id, meta.Name)

	contentType := meta.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadID, err := s.core.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("new multipart upload: %w", err)
	}

	return &Session{
		store:  s,
		handle: sessionHandle{ID: id, UploadID: uploadID, Key: key, Meta: meta},
	}, nil
}

// OpenSession 从持久化句柄恢复会话。
func (s *Store) OpenSession(ctx context.Context, handle json.RawMessage) (blobstore.Session, error) {
	var h sessionHandle
	if err := json.Unmarshal(handle, &h); err != nil {
		return nil, fmt.Errorf("decode session handle: %w", err)
	}
	return &Session{store: s, handle: h}, nil
}

// Handle 返回可持久化的句柄。
func (sess *Session) Handle() json.RawMessage {
	raw, _ := json.Marshal(sess.handle)
	return raw
}

// PutRange 上传以 start 开始的一段字节；start 必须对齐分块大小。
func (sess *Session) PutRange(ctx context.Context, start int64, payload []byte) error {
	if start%sess.handle.Meta.PartSize != 0 {
		return fmt.Errorf("range start %d not aligned to part size %d", start, sess.handle.Meta.PartSize)
	}

	partNumber := int(start/sess.handle.Meta.PartSize) + 1
	_, err := sess.store.core.PutObjectPart(
		ctx,
		sess.store.bucket,
		sess.handle.Key,
		sess.handle.UploadID,
		partNumber,
		bytes.NewReader(payload),
		int64(len(payload)),
		minio.PutObjectPartOptions{},
	)
	if err != nil {
		return fmt.Errorf("put part %d: %w", partNumber, err)
	}
	return nil
}

// ReceivedBytes 向远端询问已提交的连续字节数。
func (sess *Session) ReceivedBytes(ctx context.Context) (int64, error) {
	sizes, err := sess.partSizes(ctx)
	if err != nil {
		return 0, err
	}

	// 只统计从 1 号 part 起连续提交的部分
	var received int64
	for n := 1; ; n++ {
		size, ok := sizes[n]
		if !ok {
			break
		}
		received += size
	}
	return received, nil
}

// Complete 收尾 multipart upload 并返回对象 ID。
func (sess *Session) Complete(ctx context.Context) (string, error) {
	result, err := sess.listParts(ctx)
	if err != nil {
		return "", err
	}

	parts := make([]minio.CompletePart, 0, len(result))
	for _, p := range result {
		parts = append(parts, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	_, err = sess.store.core.CompleteMultipartUpload(
		ctx,
		sess.store.bucket,
		sess.handle.Key,
		sess.handle.UploadID,
		parts,
		minio.PutObjectOptions{},
	)
	if err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	return sess.handle.ID, nil
}

// Abort 中止 multipart upload 并丢弃已上传分块。
func (sess *Session) Abort(ctx context.Context) error {
	return sess.store.core.AbortMultipartUpload(ctx, sess.store.bucket, sess.handle.Key, sess.handle.UploadID)
}

func (sess *Session) partSizes(ctx context.Context) (map[int]int64, error) {
	parts, err := sess.listParts(ctx)
	if err != nil {
		return nil, err
	}
	sizes := make(map[int]int64, len(parts))
	for _, p := range parts {
		sizes[p.PartNumber] = p.Size
	}
	return sizes, nil
}

func (sess *Session) listParts(ctx context.Context) ([]minio.ObjectPart, error) {
	var parts []minio.ObjectPart
	marker := 0
	for {
		result, err := sess.store.core.ListObjectParts(
			ctx,
			sess.store.bucket,
			sess.handle.Key,
			sess.handle.UploadID,
			marker,
			1000,
		)
		if err != nil {
			return nil, fmt.Errorf("list parts: %w", err)
		}
		parts = append(parts, result.ObjectParts...)
		if !result.IsTruncated {
			return parts, nil
		}
		marker = result.NextPartNumberMarker
	}
}
