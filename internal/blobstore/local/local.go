package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"

	"github.com/google/uuid"
)

const (
	spoolDir  = ".uploads"
	separator = "__"
)

// Store 把对象保存在本地文件系统，布局为 <base>/<location>/<id>__<name>。
// 开发与测试环境使用。
type Store struct {
	BaseDir string
}

func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, spoolDir), 0o755); err != nil {
		return nil, fmt.Errorf("ensure spool dir: %w", err)
	}
	return &Store{BaseDir: baseDir}, nil
}

// Upload 原子写入一个新对象并返回其稳定 ID。
func (s *Store) Upload(ctx context.Context, location, name string, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	targetPath := s.objectPath(location, id, name)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := targetPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("sync object: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", fmt.Errorf("rename object: %w", err)
	}

	return id, nil
}

// Download 把对象拷贝到本地路径。
func (s *Store) Download(ctx context.Context, id, localPath string) error {
	path, err := s.findByID(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open object: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy object: %w", err)
	}
	return nil
}

// Fetch 整体读取一个小对象。
func (s *Store) Fetch(ctx context.Context, id string) ([]byte, error) {
	path, err := s.findByID(id)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Move 把对象挪到新位置，ID 保持不变。
func (s *Store) Move(ctx context.Context, id, location string) error {
	path, err := s.findByID(id)
	if err != nil {
		return err
	}

	targetPath := filepath.Join(s.BaseDir, filepath.FromSlash(location), filepath.Base(path))
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.Rename(path, targetPath); err != nil {
		return fmt.Errorf("move object: %w", err)
	}
	return nil
}

// List 列出一个位置下的全部对象。
func (s *Store) List(ctx context.Context, location string) ([]blobstore.ObjectInfo, error) {
	dir := filepath.Join(s.BaseDir, filepath.FromSlash(location))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read location %s: %w", location, err)
	}

	var result []blobstore.ObjectInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		id, name, ok := strings.Cut(entry.Name(), separator)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		result = append(result, blobstore.ObjectInfo{
			ID:        id,
			Name:      name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	return result, nil
}

// ListDirs 列出一个位置下的直接子位置名，按文件名排序。
func (s *Store) ListDirs(ctx context.Context, location string) ([]string, error) {
	dir := filepath.Join(s.BaseDir, filepath.FromSlash(location))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read location %s: %w", location, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == spoolDir {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Delete 删除对象。
func (s *Store) Delete(ctx context.Context, id string) error {
	path, err := s.findByID(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// findByID 在全部位置下寻找 <id>__ 前缀的对象文件。
func (s *Store) findByID(id string) (string, error) {
	var found string
	err := filepath.WalkDir(s.BaseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == spoolDir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), id+separator) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", blobstore.ErrNotFound
	}
	return found, nil
}

func (s *Store) objectPath(location, id, name string) string {
	return filepath.Join(s.BaseDir, filepath.FromSlash(location), id+separator+filepath.Base(name))
}

type sessionHandle struct {
	ID   string                `json:"id"`
	Meta blobstore.SessionMeta `json:"meta"`
}

// Session 用一个 spool 文件累积上传字节。
type Session struct {
	store  *Store
	handle sessionHandle
}

// ResumableSession 开启新的续传会话。
func (s *Store) ResumableSession(ctx context.Context, meta blobstore.SessionMeta) (blobstore.Session, error) {
	h := sessionHandle{ID: uuid.NewString(), Meta: meta}
	sess := &Session{store: s, handle: h}

	// 预创建空 spool，使零字节探测也有权威答案
	file, err := os.OpenFile(sess.spoolPath(), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	file.Close()

	return sess, nil
}

// OpenSession 从持久化句柄恢复会话。
func (s *Store) OpenSession(ctx context.Context, handle json.RawMessage) (blobstore.Session, error) {
	var h sessionHandle
	if err := json.Unmarshal(handle, &h); err != nil {
		return nil, fmt.Errorf("decode session handle: %w", err)
	}
	return &Session{store: s, handle: h}, nil
}

func (sess *Session) spoolPath() string {
	return filepath.Join(sess.store.BaseDir, spoolDir, sess.handle.ID+".spool")
}

// Handle 返回可持久化的句柄。
func (sess *Session) Handle() json.RawMessage {
	raw, _ := json.Marshal(sess.handle)
	return raw
}

// PutRange 在 start 处写入一段字节；超出已有末尾的空洞写入被拒绝。
func (sess *Session) PutRange(ctx context.Context, start int64, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.OpenFile(sess.spoolPath(), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat spool: %w", err)
	}
	if start > info.Size() {
		return fmt.Errorf("range start %d beyond received bytes %d", start, info.Size())
	}

	if _, err := file.WriteAt(payload, start); err != nil {
		return fmt.Errorf("write spool: %w", err)
	}
	return file.Sync()
}

// ReceivedBytes 返回 spool 的当前长度。
func (sess *Session) ReceivedBytes(ctx context.Context) (int64, error) {
	info, err := os.Stat(sess.spoolPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("stat spool: %w", err)
	}
	return info.Size(), nil
}

// Complete 校验长度并把 spool 落位成正式对象。
func (sess *Session) Complete(ctx context.Context) (string, error) {
	info, err := os.Stat(sess.spoolPath())
	if err != nil {
		return "", fmt.Errorf("stat spool: %w", err)
	}
	if info.Size() != sess.handle.Meta.TotalBytes {
		return "", fmt.Errorf("spool size %d does not match declared size %d", info.Size(), sess.handle.Meta.TotalBytes)
	}

	targetPath := sess.store.objectPath(sess.handle.Meta.Location, sess.handle.ID, sess.handle.Meta.Name)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.Rename(sess.spoolPath(), targetPath); err != nil {
		return "", fmt.Errorf("finalize spool: %w", err)
	}
	return sess.handle.ID, nil
}

// Abort 丢弃会话累积的数据。
func (sess *Session) Abort(ctx context.Context) error {
	err := os.Remove(sess.spoolPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
