package repository

import (
	"context"

	"image-studio/internal/domain/model"
)

// -----------------------------
// Generated images
// -----------------------------

// ImageRepository is the durable image store. Records are immutable once saved.
type ImageRepository interface {
	// Save assigns a new unique ID to rec, persists it and returns it.
	Save(ctx context.Context, rec *model.StoredImageRecord) (*model.StoredImageRecord, error)
	// ListAll returns every record, newest CreatedAt first.
	ListAll(ctx context.Context) ([]*model.StoredImageRecord, error)
	GetByID(ctx context.Context, id string) (*model.StoredImageRecord, error)
	// DeleteByID returns domain.ErrNotFound when no record has that id.
	DeleteByID(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
