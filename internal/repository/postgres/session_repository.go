package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// NewSessionRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// SessionRepository 实现 repository.SessionRepository。
type SessionRepository struct {
	db *sql.DB
}

const sessionColumns = `id, contributor_token, original_name, mime_type, total_bytes, committed_offset, remote_session, created_at, updated_at`

// Create 插入新的上传会话。
func (r *SessionRepository) Create(ctx context.Context, record *repository.UploadSessionRecord) error {
	if record == nil {
		return fmt.Errorf("session record is nil")
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		record.ContributorToken,
		record.OriginalName,
		record.MimeType,
		record.TotalBytes,
		record.CommittedOffset,
		[]byte(record.RemoteSession),
		record.CreatedAt,
		record.UpdatedAt,
	)
	return err
}

// Get 按会话 ID 查询。
func (r *SessionRepository) Get(ctx context.Context, id string) (*repository.UploadSessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1`, id)

	var rec repository.UploadSessionRecord
	var remote []byte
	if err := row.Scan(
		&rec.ID,
		&rec.ContributorToken,
		&rec.OriginalName,
		&rec.MimeType,
		&rec.TotalBytes,
		&rec.CommittedOffset,
		&remote,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	rec.RemoteSession = remote
	return &rec, nil
}

// UpdateOffset 推进已提交字节位移，数据库约束保证位移不越界。
func (r *SessionRepository) UpdateOffset(ctx context.Context, id string, offset int64) error {
	res, err := r.db.ExecContext(
		ctx,
		`UPDATE upload_sessions SET committed_offset = $1, updated_at = $2 WHERE id = $3`,
		offset, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete 删除会话记录（完成或回收时调用）。
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = $1`, id)
	return err
}

// ListIdleSince 返回闲置超过 TTL 的会话。
func (r *SessionRepository) ListIdleSince(ctx context.Context, cutoff time.Time) ([]repository.UploadSessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.UploadSessionRecord
	for rows.Next() {
		var rec repository.UploadSessionRecord
		var remote []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.ContributorToken,
			&rec.OriginalName,
			&rec.MimeType,
			&rec.TotalBytes,
			&rec.CommittedOffset,
			&remote,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.RemoteSession = remote
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
