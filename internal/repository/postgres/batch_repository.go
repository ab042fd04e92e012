package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// NewBatchRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// BatchRepository 实现 repository.BatchRepository。
type BatchRepository struct {
	db *sql.DB
}

const batchColumns = `batch_id, contributor_token, decade, event_name, notes, total_files, total_bytes, created_at, finalized_at`

// Create 登记一个新批次。
func (r *BatchRepository) Create(ctx context.Context, record *repository.BatchRecord) error {
	if record == nil {
		return fmt.Errorf("batch record is nil")
	}

	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO batches (batch_id, contributor_token, created_at) VALUES ($1, $2, $3)`,
		record.BatchID, record.ContributorToken, record.CreatedAt,
	)
	return err
}

// Get 按批次 ID 查询。
func (r *BatchRepository) Get(ctx context.Context, batchID string) (*repository.BatchRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE batch_id = $1`, batchID)
	rec, err := scanBatchRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Finalize 在单个事务里写入文件清单并盖上 finalized_at。
func (r *BatchRepository) Finalize(ctx context.Context, record *repository.BatchRecord, files []repository.BatchFile) error {
	if record == nil {
		return fmt.Errorf("batch record is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}

	if err := insertBatchFiles(ctx, tx, record.BatchID, files); err != nil {
		tx.Rollback()
		return err
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE batches SET decade = $1, event_name = $2, notes = $3, total_files = $4, total_bytes = $5, finalized_at = $6
		WHERE batch_id = $7 AND finalized_at IS NULL`,
		nullStringPtr(record.Decade),
		nullStringPtr(record.EventName),
		nullStringPtr(record.Notes),
		record.TotalFiles,
		record.TotalBytes,
		nullTimePtr(record.FinalizedAt),
		record.BatchID,
	)
	if err != nil {
		tx.Rollback()
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if rows == 0 {
		tx.Rollback()
		return repository.ErrNotFound
	}

	return tx.Commit()
}

// UpsertReconciled 回灌对象存储里的清单，已有记录保持不变。
func (r *BatchRepository) UpsertReconciled(ctx context.Context, record *repository.BatchRecord, files []repository.BatchFile) error {
	if record == nil {
		return fmt.Errorf("batch record is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (batch_id) DO NOTHING`,
		record.BatchID,
		record.ContributorToken,
		nullStringPtr(record.Decade),
		nullStringPtr(record.EventName),
		nullStringPtr(record.Notes),
		record.TotalFiles,
		record.TotalBytes,
		record.CreatedAt,
		nullTimePtr(record.FinalizedAt),
	)
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := insertBatchFiles(ctx, tx, record.BatchID, files); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// FileContext 按来源文件 ID 查询归属上下文，查不到视为无清单文件。
func (r *BatchRepository) FileContext(ctx context.Context, originFileID string) (*repository.FileContext, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT b.batch_id, b.contributor_token, b.decade, b.event_name, b.notes
		FROM batch_files f JOIN batches b ON b.batch_id = f.batch_id
		WHERE f.origin_file_id = $1
		ORDER BY b.created_at LIMIT 1`,
		originFileID,
	)

	var (
		fc     repository.FileContext
		decade sql.NullString
		event  sql.NullString
		notes  sql.NullString
	)
	if err := row.Scan(&fc.BatchID, &fc.ContributorToken, &decade, &event, &notes); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	fc.Decade = stringPtr(decade)
	fc.EventName = stringPtr(event)
	fc.Notes = stringPtr(notes)
	return &fc, nil
}

func insertBatchFiles(ctx context.Context, tx *sql.Tx, batchID string, files []repository.BatchFile) error {
	for _, f := range files {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO batch_files (batch_id, origin_file_id, original_name, size_bytes)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (batch_id, origin_file_id) DO NOTHING`,
			batchID, f.OriginFileID, f.OriginalName, f.SizeBytes,
		)
		if err != nil {
			return fmt.Errorf("insert batch file %s: %w", f.OriginFileID, err)
		}
	}
	return nil
}

func scanBatchRecord(rs rowScanner) (*repository.BatchRecord, error) {
	var (
		rec         repository.BatchRecord
		decade      sql.NullString
		event       sql.NullString
		notes       sql.NullString
		finalizedAt sql.NullTime
	)

	if err := rs.Scan(
		&rec.BatchID,
		&rec.ContributorToken,
		&decade,
		&event,
		&notes,
		&rec.TotalFiles,
		&rec.TotalBytes,
		&rec.CreatedAt,
		&finalizedAt,
	); err != nil {
		return nil, err
	}

	rec.Decade = stringPtr(decade)
	rec.EventName = stringPtr(event)
	rec.Notes = stringPtr(notes)
	if finalizedAt.Valid {
		t := finalizedAt.Time
		rec.FinalizedAt = &t
	}
	return &rec, nil
}
