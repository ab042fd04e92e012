package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// NewAssetRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// AssetRepository 实现 repository.AssetRepository。
type AssetRepository struct {
	db *sql.DB
}

var assetColumns = []string{
	"asset_id",
	"origin_file_id",
	"contributor_token",
	"batch_id",
	"original_filename",
	"mime_type",
	"size_bytes",
	"sha256",
	"phash",
	"status",
	"duplicate_of",
	"decade_estimate",
	"decade_confidence",
	"gps_latitude",
	"gps_longitude",
	"caption",
	"embedding_ref",
	"transcript_ref",
	"faces_count",
	"error_list",
	"attempts",
	"created_at",
	"processed_at",
}

// InsertIfAbsent 依赖 origin_file_id 的唯一约束做条件插入。
func (r *AssetRepository) InsertIfAbsent(ctx context.Context, record *repository.AssetRecord) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("asset record is nil")
	}

	errorList, err := encodeErrors(record.Errors)
	if err != nil {
		return false, err
	}

	placeholders := make([]string, len(assetColumns))
	for i := range assetColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO assets (%s)
	VALUES (%s)
	ON CONFLICT (origin_file_id) DO NOTHING`,
		strings.Join(assetColumns, ","),
		strings.Join(placeholders, ","),
	)

	res, err := r.db.ExecContext(
		ctx,
		query,
		record.AssetID,
		record.OriginFileID,
		nullString(record.ContributorToken),
		nullString(record.BatchID),
		record.OriginalFilename,
		record.MimeType,
		record.SizeBytes,
		nullString(record.SHA256),
		nullStringPtr(record.PHash),
		record.Status,
		nullStringPtr(record.DuplicateOf),
		nullStringPtr(record.DecadeEstimate),
		record.DecadeConfidence,
		nullFloatPtr(record.GPSLatitude),
		nullFloatPtr(record.GPSLongitude),
		nullStringPtr(record.Caption),
		nullStringPtr(record.EmbeddingRef),
		nullStringPtr(record.TranscriptRef),
		record.FacesCount,
		errorList,
		record.Attempts,
		record.CreatedAt,
		nullTimePtr(record.ProcessedAt),
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Update 以 asset_id 为键覆盖流水线可变字段。
func (r *AssetRepository) Update(ctx context.Context, record *repository.AssetRecord) error {
	if record == nil {
		return fmt.Errorf("asset record is nil")
	}

	errorList, err := encodeErrors(record.Errors)
	if err != nil {
		return err
	}

	query := `UPDATE assets SET
		contributor_token = $1,
		batch_id = $2,
		sha256 = $3,
		phash = $4,
		status = $5,
		duplicate_of = $6,
		decade_estimate = $7,
		decade_confidence = $8,
		gps_latitude = $9,
		gps_longitude = $10,
		caption = $11,
		embedding_ref = $12,
		transcript_ref = $13,
		faces_count = $14,
		error_list = $15,
		attempts = $16,
		processed_at = $17
	WHERE asset_id = $18`

	res, err := r.db.ExecContext(
		ctx,
		query,
		nullString(record.ContributorToken),
		nullString(record.BatchID),
		nullString(record.SHA256),
		nullStringPtr(record.PHash),
		record.Status,
		nullStringPtr(record.DuplicateOf),
		nullStringPtr(record.DecadeEstimate),
		record.DecadeConfidence,
		nullFloatPtr(record.GPSLatitude),
		nullFloatPtr(record.GPSLongitude),
		nullStringPtr(record.Caption),
		nullStringPtr(record.EmbeddingRef),
		nullStringPtr(record.TranscriptRef),
		record.FacesCount,
		errorList,
		record.Attempts,
		nullTimePtr(record.ProcessedAt),
		record.AssetID,
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

// GetByOriginFileID 按来源文件 ID 查询资产。
func (r *AssetRepository) GetByOriginFileID(ctx context.Context, originFileID string) (*repository.AssetRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM assets WHERE origin_file_id = $1`, strings.Join(assetColumns, ","))
	return r.getOne(ctx, query, originFileID)
}

// FindBySHA256 返回最早创建的同哈希资产，用于精确去重。
// 排除 excludeAssetID，重试中的资产不会命中自己的档案。
func (r *AssetRepository) FindBySHA256(ctx context.Context, sha256, excludeAssetID string) (*repository.AssetRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM assets WHERE sha256 = $1 AND asset_id::text <> $2 ORDER BY created_at, asset_id LIMIT 1`, strings.Join(assetColumns, ","))
	return r.getOne(ctx, query, sha256, excludeAssetID)
}

func (r *AssetRepository) getOne(ctx context.Context, query string, args ...any) (*repository.AssetRecord, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	rec, err := scanAssetRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListPHashes 的排序保证固定库状态下扫描顺序是确定的。
func (r *AssetRepository) ListPHashes(ctx context.Context, excludeAssetID string) ([]repository.PHashEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT asset_id, phash FROM assets WHERE phash IS NOT NULL AND asset_id::text <> $1 ORDER BY created_at, asset_id`, excludeAssetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.PHashEntry
	for rows.Next() {
		var entry repository.PHashEntry
		if err := rows.Scan(&entry.AssetID, &entry.PHash); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountByStatus 统计指定状态的资产数量。
func (r *AssetRepository) CountByStatus(ctx context.Context, status repository.AssetStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// InsertDuplicateLink 写入一条不可变的重复关联。
func (r *AssetRepository) InsertDuplicateLink(ctx context.Context, assetID, duplicateOf, method string) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO duplicate_links (asset_id, duplicate_of, method, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (asset_id, duplicate_of) DO NOTHING`,
		assetID, duplicateOf, method, time.Now().UTC(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssetRecord(rs rowScanner) (*repository.AssetRecord, error) {
	var (
		rec              repository.AssetRecord
		contributorToken sql.NullString
		batchID          sql.NullString
		sha              sql.NullString
		phash            sql.NullString
		duplicateOf      sql.NullString
		decade           sql.NullString
		gpsLatitude      sql.NullFloat64
		gpsLongitude     sql.NullFloat64
		caption          sql.NullString
		embeddingRef     sql.NullString
		transcriptRef    sql.NullString
		errorList        []byte
		processedAt      sql.NullTime
	)

	if err := rs.Scan(
		&rec.AssetID,
		&rec.OriginFileID,
		&contributorToken,
		&batchID,
		&rec.OriginalFilename,
		&rec.MimeType,
		&rec.SizeBytes,
		&sha,
		&phash,
		&rec.Status,
		&duplicateOf,
		&decade,
		&rec.DecadeConfidence,
		&gpsLatitude,
		&gpsLongitude,
		&caption,
		&embeddingRef,
		&transcriptRef,
		&rec.FacesCount,
		&errorList,
		&rec.Attempts,
		&rec.CreatedAt,
		&processedAt,
	); err != nil {
		return nil, err
	}

	rec.ContributorToken = contributorToken.String
	rec.BatchID = batchID.String
	rec.SHA256 = sha.String
	rec.PHash = stringPtr(phash)
	rec.DuplicateOf = stringPtr(duplicateOf)
	rec.DecadeEstimate = stringPtr(decade)
	if gpsLatitude.Valid {
		rec.GPSLatitude = &gpsLatitude.Float64
	}
	if gpsLongitude.Valid {
		rec.GPSLongitude = &gpsLongitude.Float64
	}
	rec.Caption = stringPtr(caption)
	rec.EmbeddingRef = stringPtr(embeddingRef)
	rec.TranscriptRef = stringPtr(transcriptRef)
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	if len(errorList) > 0 {
		if err := json.Unmarshal(errorList, &rec.Errors); err != nil {
			return nil, err
		}
	}

	return &rec, nil
}

func encodeErrors(errs []string) ([]byte, error) {
	if errs == nil {
		errs = []string{}
	}
	return json.Marshal(errs)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullStringPtr(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullFloatPtr(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullTimePtr(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
