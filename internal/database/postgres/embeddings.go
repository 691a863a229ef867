package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-matcher/internal/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var embeddingColumns = []string{
	"id", "image_id", "face_index", "owner_id", "embedding", "bbox", "confidence",
	"quality_score", "yaw", "pitch", "roll", "image_date", "is_verified",
	"is_representative", "thumbnail", "model", "created_at",
}

// filterCond translates a database.Filter into a squirrel predicate.
func filterCond(f database.Filter) sq.And {
	cond := sq.And{}
	if f.ImageID != "" {
		cond = append(cond, sq.Eq{"image_id": f.ImageID})
	}
	if len(f.ImageIDs) > 0 {
		cond = append(cond, sq.Expr("image_id = ANY(?)", pq.Array(f.ImageIDs)))
	}
	if f.OwnerID != "" {
		cond = append(cond, sq.Eq{"owner_id": f.OwnerID})
	}
	if f.Unassigned {
		cond = append(cond, sq.Eq{"owner_id": nil})
	}
	if f.VerifiedOnly {
		cond = append(cond, sq.Eq{"is_verified": true})
	}
	if f.ExcludeImagePrefix != "" {
		cond = append(cond, sq.NotLike{"image_id": escapeLike(f.ExcludeImagePrefix) + "%"})
	}
	return cond
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := range len(s) {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// scanRecord scans a single row selected with embeddingColumns.
func scanRecord(scanner interface{ Scan(...any) error }) (database.EmbeddingRecord, error) {
	var rec database.EmbeddingRecord
	var vec pgvector.Vector
	var bbox pq.Float64Array
	var ownerID, model sql.NullString
	var quality sql.NullFloat64
	var imageDate sql.NullTime

	err := scanner.Scan(
		&rec.ID,
		&rec.ImageID,
		&rec.FaceIndex,
		&ownerID,
		&vec,
		&bbox,
		&rec.Confidence,
		&quality,
		&rec.Yaw,
		&rec.Pitch,
		&rec.Roll,
		&imageDate,
		&rec.IsVerified,
		&rec.IsRepresentative,
		&rec.Thumbnail,
		&model,
		&rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan embedding: %w", err)
	}

	rec.Vector = vec.Slice()
	rec.BBox = []float64(bbox)
	rec.OwnerID = ownerID.String
	rec.Model = model.String
	if quality.Valid {
		q := quality.Float64
		rec.QualityScore = &q
	}
	if imageDate.Valid {
		rec.ImageDate = imageDate.Time
	}
	return rec, nil
}

func fetchRecords(ctx context.Context, q querier, f database.Filter, limit int) ([]database.EmbeddingRecord, error) {
	b := psql.Select(embeddingColumns...).From("embeddings").Where(filterCond(f)).OrderBy("image_id", "face_index")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build embeddings query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var records []database.EmbeddingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return records, nil
}

func countRecords(ctx context.Context, q querier, f database.Filter) (int, error) {
	query, args, err := psql.Select("COUNT(*)").From("embeddings").Where(filterCond(f)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

func getRecord(ctx context.Context, q querier, id string) (*database.EmbeddingRecord, error) {
	query, args, err := psql.Select(embeddingColumns...).From("embeddings").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build embedding query: %w", err)
	}
	rec, err := scanRecord(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func imageIDs(ctx context.Context, q querier, f database.Filter, limit int) ([]string, error) {
	b := psql.Select("image_id").Distinct().From("embeddings").Where(filterCond(f)).OrderBy("image_id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build image id query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query image ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan image id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image ids: %w", err)
	}
	return ids, nil
}

func insertRecord(ctx context.Context, q querier, rec *database.EmbeddingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query, args, err := psql.Insert("embeddings").Columns(embeddingColumns...).Values(
		rec.ID,
		rec.ImageID,
		rec.FaceIndex,
		sql.NullString{String: rec.OwnerID, Valid: rec.OwnerID != ""},
		pgvector.NewVector(rec.Vector),
		pq.Float64Array(rec.BBox),
		rec.Confidence,
		rec.QualityScore,
		rec.Yaw,
		rec.Pitch,
		rec.Roll,
		sql.NullTime{Time: rec.ImageDate, Valid: !rec.ImageDate.IsZero()},
		rec.IsVerified,
		rec.IsRepresentative,
		rec.Thumbnail,
		sql.NullString{String: rec.Model, Valid: rec.Model != ""},
		rec.CreatedAt,
	).Suffix("ON CONFLICT (image_id, face_index) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%d: %w", rec.ImageID, rec.FaceIndex, database.ErrDuplicateFace)
	}
	return nil
}

func updateOwner(ctx context.Context, q querier, id, ownerID string, verified, representative bool) error {
	query, args, err := psql.Update("embeddings").
		Set("owner_id", sql.NullString{String: ownerID, Valid: ownerID != ""}).
		Set("is_verified", verified).
		Set("is_representative", representative).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update embedding owner: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("embedding %s: %w", id, database.ErrNotFound)
	}
	return nil
}

func deleteRecords(ctx context.Context, q querier, f database.Filter) (int, error) {
	query, args, err := psql.Delete("embeddings").Where(filterCond(f)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	return int(n), nil
}
