package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/usecase"
)

// itemView flattens every gallery item variant into one JSON shape.
type itemView struct {
	ID                string            `json:"id"`
	Status            model.ItemStatus  `json:"status"`
	ModelID           string            `json:"modelId"`
	ModelName         string            `json:"modelName"`
	Prompt            string            `json:"prompt"`
	AspectRatio       model.AspectRatio `json:"aspectRatio"`
	Resolution        model.Resolution  `json:"resolution,omitempty"`
	ReferenceImageIDs []string          `json:"referenceImageIds"`

	RetryCount   *int       `json:"retryCount,omitempty"`
	WaitingUntil *time.Time `json:"waitingUntil,omitempty"`
	RetryAfter   *int       `json:"retryAfter,omitempty"`

	Error    string `json:"error,omitempty"`
	CanRetry bool   `json:"canRetry,omitempty"`

	RecordID  string         `json:"recordId,omitempty"`
	ImageURL  string         `json:"imageUrl,omitempty"`
	MIMEType  string         `json:"mimeType,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	CreatedAt *time.Time     `json:"createdAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func toItemView(it model.GalleryItem) itemView {
	b := it.Base()
	refs := b.ReferenceImageIDs
	if refs == nil {
		refs = []string{}
	}
	v := itemView{
		ID:                b.ID,
		Status:            it.Status(),
		ModelID:           b.ModelID,
		ModelName:         b.ModelName,
		Prompt:            b.Prompt,
		AspectRatio:       b.AspectRatio,
		Resolution:        b.Resolution,
		ReferenceImageIDs: refs,
	}
	switch x := it.(type) {
	case *model.GeneratingItem:
		v.RetryCount = &x.RetryCount
	case *model.WaitingItem:
		v.RetryCount = &x.RetryCount
		v.WaitingUntil = &x.WaitingUntil
		v.RetryAfter = &x.RetryAfter
	case *model.FailedItem:
		v.Error = x.Error
		v.CanRetry = x.CanRetry
	case *model.CompletedItem:
		v.RecordID = x.RecordID
		v.ImageURL = x.Handle.URL
		v.MIMEType = x.MIMEType
		v.Width = x.Width
		v.Height = x.Height
		v.CreatedAt = &x.CreatedAt
		v.Metadata = x.Metadata
	}
	return v
}

func toItemViews(items []model.GalleryItem) []itemView {
	out := make([]itemView, len(items))
	for i, it := range items {
		out[i] = toItemView(it)
	}
	return out
}

func completedViews(items []*model.CompletedItem) []itemView {
	out := make([]itemView, len(items))
	for i, it := range items {
		out[i] = toItemView(it)
	}
	return out
}

type eventView struct {
	Type       usecase.EventType `json:"type"`
	Items      []itemView        `json:"items,omitempty"`
	ItemID     string            `json:"itemId,omitempty"`
	Generating *bool             `json:"generating,omitempty"`
}

func toEventView(ev usecase.GalleryEvent) eventView {
	v := eventView{Type: ev.Type, ItemID: ev.ItemID}
	if len(ev.Items) > 0 {
		v.Items = toItemViews(ev.Items)
	}
	if ev.Type == usecase.EventGeneratingChanged {
		g := ev.Generating
		v.Generating = &g
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
		"code":  status,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrMissingCredential):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
