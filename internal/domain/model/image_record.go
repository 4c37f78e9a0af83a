package model

import "time"

// StoredImageRecord is a completed image as persisted by the image store.
// Records are written once and never updated.
type StoredImageRecord struct {
	ID                string
	Image             []byte
	MIMEType          string
	Prompt            string
	ModelID           string
	ModelName         string
	AspectRatio       AspectRatio
	Resolution        Resolution
	Width             int
	Height            int
	CreatedAt         time.Time
	ReferenceImageIDs []string
	Metadata          map[string]any
}

// DisplayHandle is a releasable reference used to render image bytes.
type DisplayHandle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
