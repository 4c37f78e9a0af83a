package model

import "time"

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusGenerating ItemStatus = "generating"
	ItemStatusWaiting    ItemStatus = "waiting"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// ItemBase holds the fields shared by every gallery item variant.
type ItemBase struct {
	ID                string      `json:"id"`
	ModelID           string      `json:"modelId"`
	ModelName         string      `json:"modelName"`
	Prompt            string      `json:"prompt"`
	AspectRatio       AspectRatio `json:"aspectRatio"`
	Resolution        Resolution  `json:"resolution,omitempty"`
	ReferenceImageIDs []string    `json:"referenceImageIds"`
}

// GalleryItem is the user-visible projection of a task or a stored image.
// Exactly one of the variants below implements it per status.
type GalleryItem interface {
	Base() ItemBase
	Status() ItemStatus
	isGalleryItem()
}

type PendingItem struct {
	ItemBase
}

type GeneratingItem struct {
	ItemBase
	RetryCount int `json:"retryCount"`
}

type WaitingItem struct {
	ItemBase
	RetryCount   int       `json:"retryCount"`
	WaitingUntil time.Time `json:"waitingUntil"`
	// RetryAfter is whole seconds, for display only.
	RetryAfter int `json:"retryAfter"`
}

type CompletedItem struct {
	ItemBase
	RecordID  string         `json:"recordId"`
	Image     []byte         `json:"-"`
	MIMEType  string         `json:"mimeType"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Handle    DisplayHandle  `json:"handle"`
}

type FailedItem struct {
	ItemBase
	Error    string `json:"error"`
	CanRetry bool   `json:"canRetry"`
}

func (i *PendingItem) Base() ItemBase    { return i.ItemBase }
func (i *GeneratingItem) Base() ItemBase { return i.ItemBase }
func (i *WaitingItem) Base() ItemBase    { return i.ItemBase }
func (i *CompletedItem) Base() ItemBase  { return i.ItemBase }
func (i *FailedItem) Base() ItemBase     { return i.ItemBase }

func (*PendingItem) Status() ItemStatus    { return ItemStatusPending }
func (*GeneratingItem) Status() ItemStatus { return ItemStatusGenerating }
func (*WaitingItem) Status() ItemStatus    { return ItemStatusWaiting }
func (*CompletedItem) Status() ItemStatus  { return ItemStatusCompleted }
func (*FailedItem) Status() ItemStatus     { return ItemStatusFailed }

func (*PendingItem) isGalleryItem()    {}
func (*GeneratingItem) isGalleryItem() {}
func (*WaitingItem) isGalleryItem()    {}
func (*CompletedItem) isGalleryItem()  {}
func (*FailedItem) isGalleryItem()     {}

// CanTransition reports whether an item may move from one status to another.
// Re-entering the same status is allowed for generating and waiting so the
// retry engine can refresh counters.
func CanTransition(from, to ItemStatus) bool {
	switch from {
	case ItemStatusPending:
		return to == ItemStatusGenerating
	case ItemStatusGenerating:
		return to == ItemStatusGenerating || to == ItemStatusWaiting ||
			to == ItemStatusCompleted || to == ItemStatusFailed
	case ItemStatusWaiting:
		return to == ItemStatusGenerating || to == ItemStatusWaiting
	case ItemStatusFailed:
		return to == ItemStatusGenerating
	}
	return false
}

// BaseFromTask builds the shared item fields for a generation task.
func BaseFromTask(t *GenerationTask) ItemBase {
	ids := make([]string, len(t.ReferenceImageIDs))
	copy(ids, t.ReferenceImageIDs)
	return ItemBase{
		ID:                t.ID,
		ModelID:           t.ModelID,
		ModelName:         t.ModelName,
		Prompt:            t.Prompt,
		AspectRatio:       t.AspectRatio,
		Resolution:        t.Resolution,
		ReferenceImageIDs: ids,
	}
}

// CompletedFromRecord converts a stored record into a completed item. The
// caller supplies the display handle minted for the record's bytes.
func CompletedFromRecord(r *StoredImageRecord, h DisplayHandle) *CompletedItem {
	return &CompletedItem{
		ItemBase: ItemBase{
			ID:                r.ID,
			ModelID:           r.ModelID,
			ModelName:         r.ModelName,
			Prompt:            r.Prompt,
			AspectRatio:       r.AspectRatio,
			Resolution:        r.Resolution,
			ReferenceImageIDs: r.ReferenceImageIDs,
		},
		RecordID:  r.ID,
		Image:     r.Image,
		MIMEType:  r.MIMEType,
		Width:     r.Width,
		Height:    r.Height,
		CreatedAt: r.CreatedAt,
		Metadata:  r.Metadata,
		Handle:    h,
	}
}
