package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/infra/metrics"
)

// Ensure interface compliance
var _ repository.ImageRepository = (*PostgresImageRepo)(nil)

const imagesSchema = `
CREATE TABLE IF NOT EXISTS images (
    id                  TEXT PRIMARY KEY,
    image               BYTEA       NOT NULL,
    mime_type           TEXT        NOT NULL,
    prompt              TEXT        NOT NULL,
    model_id            TEXT        NOT NULL,
    model_name          TEXT        NOT NULL,
    aspect_ratio        TEXT        NOT NULL,
    resolution          TEXT        NOT NULL DEFAULT '',
    width               INTEGER     NOT NULL,
    height              INTEGER     NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL,
    reference_image_ids TEXT[]      NOT NULL DEFAULT '{}',
    metadata            JSONB       NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_images_created_at ON images (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_images_model_id ON images (model_id);
`

type PostgresImageRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresImageRepo(pool *pgxpool.Pool) *PostgresImageRepo {
	return &PostgresImageRepo{pool: pool}
}

// EnsureSchema creates the images table and indexes if missing.
func (r *PostgresImageRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, imagesSchema); err != nil {
		return fmt.Errorf("ensure images schema: %w", err)
	}
	return nil
}

func (r *PostgresImageRepo) Save(ctx context.Context, rec *model.StoredImageRecord) (*model.StoredImageRecord, error) {
	const sql = `
INSERT INTO images (id, image, mime_type, prompt, model_id, model_name, aspect_ratio,
                    resolution, width, height, created_at, reference_image_ids, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb);
`
	out := *rec
	out.ID = ulid.Make().String()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	out.CreatedAt = out.CreatedAt.UTC().Truncate(time.Microsecond)
	if out.ReferenceImageIDs == nil {
		out.ReferenceImageIDs = []string{}
	}
	meta := out.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, sql,
		out.ID, out.Image, out.MIMEType, out.Prompt, out.ModelID, out.ModelName, string(out.AspectRatio),
		string(out.Resolution), out.Width, out.Height, out.CreatedAt, out.ReferenceImageIDs, string(mb),
	)
	if err != nil {
		metrics.IncStoreOp("postgres", "save", "error")
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("image %s: %w", out.ID, domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("Save image: %w", err)
	}
	metrics.IncStoreOp("postgres", "save", "ok")
	return &out, nil
}

const selectImageSQL = `
SELECT id, image, mime_type, prompt, model_id, model_name, aspect_ratio,
       resolution, width, height, created_at, reference_image_ids, metadata::text
  FROM images`

func (r *PostgresImageRepo) ListAll(ctx context.Context) ([]*model.StoredImageRecord, error) {
	rows, err := r.pool.Query(ctx, selectImageSQL+` ORDER BY created_at DESC, id DESC;`)
	if err != nil {
		metrics.IncStoreOp("postgres", "list", "error")
		return nil, fmt.Errorf("ListAll images: %w", err)
	}
	defer rows.Close()
	var out []*model.StoredImageRecord
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAll images: %w", err)
	}
	metrics.IncStoreOp("postgres", "list", "ok")
	return out, nil
}

func (r *PostgresImageRepo) GetByID(ctx context.Context, id string) (*model.StoredImageRecord, error) {
	rec, err := scanImage(r.pool.QueryRow(ctx, selectImageSQL+` WHERE id = $1;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.IncStoreOp("postgres", "get", "not_found")
			return nil, domain.ErrNotFound
		}
		metrics.IncStoreOp("postgres", "get", "error")
		return nil, err
	}
	metrics.IncStoreOp("postgres", "get", "ok")
	return rec, nil
}

func (r *PostgresImageRepo) DeleteByID(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM images WHERE id = $1;`, id)
	if err != nil {
		metrics.IncStoreOp("postgres", "delete", "error")
		return fmt.Errorf("postgres Delete image: %w", err)
	}
	if ct.RowsAffected() == 0 {
		metrics.IncStoreOp("postgres", "delete", "not_found")
		return domain.ErrNotFound
	}
	metrics.IncStoreOp("postgres", "delete", "ok")
	return nil
}

func (r *PostgresImageRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM images;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("Count images: %w", err)
	}
	return n, nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *PostgresImageRepo) Close() error { return nil }

func scanImage(row pgx.Row) (*model.StoredImageRecord, error) {
	var (
		rec                model.StoredImageRecord
		aspect, resolution string
		metaJSON           string
	)
	err := row.Scan(&rec.ID, &rec.Image, &rec.MIMEType, &rec.Prompt, &rec.ModelID, &rec.ModelName, &aspect,
		&resolution, &rec.Width, &rec.Height, &rec.CreatedAt, &rec.ReferenceImageIDs, &metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	rec.AspectRatio = model.AspectRatio(aspect)
	rec.Resolution = model.Resolution(resolution)
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrReadDatabaseRow, err)
	}
	return &rec, nil
}
