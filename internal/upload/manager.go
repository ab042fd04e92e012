package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/blobstore"
	"github.com/darnellt0/family-archive-vault/internal/repository"
	"github.com/darnellt0/family-archive-vault/internal/token"

	"github.com/google/uuid"
)

var (
	// ErrInvalidToken 表示贡献者令牌未知。
	ErrInvalidToken = errors.New("upload: invalid contributor token")
	// ErrFileTooLarge 表示声明大小超出配置上限。
	ErrFileTooLarge = errors.New("upload: file exceeds size limit")
	// ErrSessionNotFound 表示会话不存在或已完成。
	ErrSessionNotFound = errors.New("upload: session not found")
	// ErrInvalidRange 表示字节范围本身不合法。
	ErrInvalidRange = errors.New("upload: invalid byte range")
)

// ChunkResult 是一次 PutChunk 的判定结果，三种形态互斥：
// Completed（上传收尾，OriginFileID 有效）、Resumed（位移不符，
// NextOffset 是远端权威位移）、普通接受（NextOffset 前进）。
type ChunkResult struct {
	Completed    bool
	Resumed      bool
	NextOffset   int64
	OriginFileID string
}

// Manager 负责断点续传会话的全生命周期。
// 每个会话的状态在每次位移变化后都落库，进程重启后仍能回答续传查询。
type Manager struct {
	tokens       *token.Registry
	sessions     repository.SessionRepository
	store        blobstore.Store
	maxSizeBytes int64
	chunkSize    int64
	logger       *log.Logger

	// 会话级互斥，防止同一会话的并发 PUT 交错推进位移
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(tokens *token.Registry, sessions repository.SessionRepository, store blobstore.Store, maxSizeBytes, chunkSize int64, logger *log.Logger) *Manager {
	return &Manager{
		tokens:       tokens,
		sessions:     sessions,
		store:        store,
		maxSizeBytes: maxSizeBytes,
		chunkSize:    chunkSize,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

// InitUpload 校验令牌和大小，开启远端续传会话并持久化会话记录。
// 返回会话 ID 和建议分块大小。
func (m *Manager) InitUpload(ctx context.Context, contributorToken, filename, mimeType string, sizeBytes int64) (string, int64, error) {
	displayName, ok := m.tokens.DisplayName(contributorToken)
	if !ok {
		return "", 0, ErrInvalidToken
	}
	if sizeBytes <= 0 {
		return "", 0, fmt.Errorf("upload: declared size must be positive")
	}
	if sizeBytes > m.maxSizeBytes {
		return "", 0, ErrFileTooLarge
	}

	remote, err := m.store.ResumableSession(ctx, blobstore.SessionMeta{
		Name:       filename,
		MimeType:   mimeType,
		TotalBytes: sizeBytes,
		Location:   path.Join(blobstore.LocationInbox, displayName),
		PartSize:   m.chunkSize,
	})
	if err != nil {
		return "", 0, fmt.Errorf("open remote session: %w", err)
	}

	now := time.Now().UTC()
	record := &repository.UploadSessionRecord{
		ID:               uuid.NewString(),
		ContributorToken: contributorToken,
		OriginalName:     filename,
		MimeType:         mimeType,
		TotalBytes:       sizeBytes,
		CommittedOffset:  0,
		RemoteSession:    remote.Handle(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.sessions.Create(ctx, record); err != nil {
		// 会话记录写不进去就不留半开的远端会话
		_ = remote.Abort(ctx)
		return "", 0, fmt.Errorf("persist session: %w", err)
	}

	m.logger.Printf("开启上传会话 %s（%s，%d 字节）", record.ID, filename, sizeBytes)
	return record.ID, m.chunkSize, nil
}

// PutChunk 接收 [start, end] 的一段字节。start 必须等于已提交位移；
// 不符时向远端做零长度范围探测，返回权威位移让客户端从断点续传。
// 远端瞬时错误原样上抛，由客户端重试。
func (m *Manager) PutChunk(ctx context.Context, sessionID string, start, end int64, payload []byte) (ChunkResult, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ChunkResult{}, ErrSessionNotFound
		}
		return ChunkResult{}, fmt.Errorf("load session: %w", err)
	}

	if len(payload) == 0 || end != start+int64(len(payload))-1 || start < 0 {
		return ChunkResult{}, ErrInvalidRange
	}
	if start+int64(len(payload)) > record.TotalBytes {
		return ChunkResult{}, ErrInvalidRange
	}

	remote, err := m.store.OpenSession(ctx, record.RemoteSession)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("open remote session: %w", err)
	}

	if start != record.CommittedOffset {
		// 客户端视图已过期，向远端要权威位移
		received, err := remote.ReceivedBytes(ctx)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("probe received bytes: %w", err)
		}
		if received != record.CommittedOffset {
			if err := m.sessions.UpdateOffset(ctx, sessionID, received); err != nil {
				return ChunkResult{}, fmt.Errorf("reconcile offset: %w", err)
			}
		}
		m.logger.Printf("会话 %s 位移不符（客户端 %d，远端 %d），指示续传", sessionID, start, received)
		return ChunkResult{Resumed: true, NextOffset: received}, nil
	}

	if err := remote.PutRange(ctx, start, payload); err != nil {
		// 瞬时失败交给客户端重试，位移不前进
		return ChunkResult{}, fmt.Errorf("put range: %w", err)
	}

	nextOffset := start + int64(len(payload))
	if err := m.sessions.UpdateOffset(ctx, sessionID, nextOffset); err != nil {
		return ChunkResult{}, fmt.Errorf("persist offset: %w", err)
	}

	if nextOffset < record.TotalBytes {
		return ChunkResult{NextOffset: nextOffset}, nil
	}

	originFileID, err := remote.Complete(ctx)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("complete remote session: %w", err)
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return ChunkResult{}, fmt.Errorf("clear session: %w", err)
	}
	m.forgetLock(sessionID)

	m.logger.Printf("上传会话 %s 完成，来源文件 %s", sessionID, originFileID)
	return ChunkResult{Completed: true, NextOffset: nextOffset, OriginFileID: originFileID}, nil
}

// ReapExpired 回收闲置超过 TTL 的会话：中止远端会话并删除记录。
// 没有任何组件自动调用它，但随时调用都是安全的。
func (m *Manager) ReapExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	idle, err := m.sessions.ListIdleSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}

	reaped := 0
	for _, record := range idle {
		if remote, err := m.store.OpenSession(ctx, record.RemoteSession); err == nil {
			if err := remote.Abort(ctx); err != nil {
				m.logger.Printf("中止远端会话 %s 失败: %v", record.ID, err)
			}
		}
		if err := m.sessions.Delete(ctx, record.ID); err != nil {
			return reaped, fmt.Errorf("delete session %s: %w", record.ID, err)
		}
		m.forgetLock(record.ID)
		reaped++
	}

	if reaped > 0 {
		m.logger.Printf("回收了 %d 个过期上传会话", reaped)
	}
	return reaped, nil
}

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

func (m *Manager) forgetLock(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, sessionID)
}
