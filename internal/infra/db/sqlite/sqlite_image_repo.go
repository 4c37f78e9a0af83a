package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/infra/metrics"
)

// Ensure interface compliance
var _ repository.ImageRepository = (*SQLiteImageRepo)(nil)

const (
	insertImageQuery = `
INSERT INTO images (id, image, mime_type, prompt, model_id, model_name, aspect_ratio,
                    resolution, width, height, created_at, reference_image_ids, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	selectImageColumns = `
SELECT id, image, mime_type, prompt, model_id, model_name, aspect_ratio,
       resolution, width, height, created_at, reference_image_ids, metadata
  FROM images`

	listImagesQuery  = selectImageColumns + ` ORDER BY created_at DESC, id DESC;`
	getImageQuery    = selectImageColumns + ` WHERE id = ?;`
	deleteImageQuery = `DELETE FROM images WHERE id = ?;`
	countImagesQuery = `SELECT COUNT(1) FROM images;`
)

type SQLiteImageRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteImageRepo migrates the database at path and opens the repository.
func NewSQLiteImageRepo(path string) (*SQLiteImageRepo, error) {
	if err := MigrateUp(path); err != nil {
		return nil, err
	}
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteImageRepo{db: db, now: time.Now}, nil
}

func (r *SQLiteImageRepo) Save(ctx context.Context, rec *model.StoredImageRecord) (*model.StoredImageRecord, error) {
	out := *rec
	out.ID = ulid.Make().String()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = r.now()
	}
	out.CreatedAt = out.CreatedAt.UTC().Truncate(time.Millisecond)

	refs, meta, err := encodeExtras(&out)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, insertImageQuery,
		out.ID, out.Image, out.MIMEType, out.Prompt, out.ModelID, out.ModelName, string(out.AspectRatio),
		string(out.Resolution), out.Width, out.Height, out.CreatedAt.UnixMilli(), refs, meta,
	)
	if err != nil {
		metrics.IncStoreOp("sqlite", "save", "error")
		return nil, fmt.Errorf("save image: %w", err)
	}
	metrics.IncStoreOp("sqlite", "save", "ok")
	return &out, nil
}

func (r *SQLiteImageRepo) ListAll(ctx context.Context) ([]*model.StoredImageRecord, error) {
	rows, err := r.db.QueryContext(ctx, listImagesQuery)
	if err != nil {
		metrics.IncStoreOp("sqlite", "list", "error")
		return nil, fmt.Errorf("list images: %w", err)
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
		return nil, fmt.Errorf("list images: %w", err)
	}
	metrics.IncStoreOp("sqlite", "list", "ok")
	return out, nil
}

func (r *SQLiteImageRepo) GetByID(ctx context.Context, id string) (*model.StoredImageRecord, error) {
	rec, err := scanImage(r.db.QueryRowContext(ctx, getImageQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		metrics.IncStoreOp("sqlite", "get", "not_found")
		return nil, domain.ErrNotFound
	}
	if err != nil {
		metrics.IncStoreOp("sqlite", "get", "error")
		return nil, err
	}
	metrics.IncStoreOp("sqlite", "get", "ok")
	return rec, nil
}

func (r *SQLiteImageRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, deleteImageQuery, id)
	if err != nil {
		metrics.IncStoreOp("sqlite", "delete", "error")
		return fmt.Errorf("delete image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if n == 0 {
		metrics.IncStoreOp("sqlite", "delete", "not_found")
		return domain.ErrNotFound
	}
	metrics.IncStoreOp("sqlite", "delete", "ok")
	return nil
}

func (r *SQLiteImageRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countImagesQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}

func (r *SQLiteImageRepo) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*model.StoredImageRecord, error) {
	var (
		rec                model.StoredImageRecord
		aspect, resolution string
		createdMs          int64
		refsJSON, metaJSON string
	)
	err := row.Scan(&rec.ID, &rec.Image, &rec.MIMEType, &rec.Prompt, &rec.ModelID, &rec.ModelName, &aspect,
		&resolution, &rec.Width, &rec.Height, &createdMs, &refsJSON, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	rec.AspectRatio = model.AspectRatio(aspect)
	rec.Resolution = model.Resolution(resolution)
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	if err := json.Unmarshal([]byte(refsJSON), &rec.ReferenceImageIDs); err != nil {
		return nil, fmt.Errorf("%w: reference ids: %v", domain.ErrReadDatabaseRow, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrReadDatabaseRow, err)
	}
	return &rec, nil
}

func encodeExtras(rec *model.StoredImageRecord) (string, string, error) {
	refs := rec.ReferenceImageIDs
	if refs == nil {
		refs = []string{}
	}
	rb, err := json.Marshal(refs)
	if err != nil {
		return "", "", fmt.Errorf("encode reference ids: %w", err)
	}
	meta := rec.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(rb), string(mb), nil
}
