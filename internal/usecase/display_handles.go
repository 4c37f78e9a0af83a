// File: internal/usecase/display_handles.go
package usecase

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"image-studio/internal/domain/model"
)

// DefaultBlobPrefix is where the web layer serves minted handles.
const DefaultBlobPrefix = "/blobs/"

type blob struct {
	data []byte
	mime string
}

// HandleRegistry owns the bytes behind every live DisplayHandle.
// A handle stays resolvable until it is released.
type HandleRegistry struct {
	mu     sync.RWMutex
	prefix string
	blobs  map[string]blob
}

func NewHandleRegistry(prefix string) *HandleRegistry {
	if prefix == "" {
		prefix = DefaultBlobPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &HandleRegistry{prefix: prefix, blobs: make(map[string]blob)}
}

// Mint registers data and returns a fresh handle for it.
func (r *HandleRegistry) Mint(data []byte, mime string) model.DisplayHandle {
	id := uuid.NewString()
	r.mu.Lock()
	r.blobs[id] = blob{data: data, mime: mime}
	r.mu.Unlock()
	return model.DisplayHandle{ID: id, URL: r.prefix + id}
}

// Resolve returns the bytes and MIME type behind a handle id.
func (r *HandleRegistry) Resolve(id string) ([]byte, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[id]
	return b.data, b.mime, ok
}

// Release drops a handle. Releasing twice is a no-op.
func (r *HandleRegistry) Release(h model.DisplayHandle) {
	if h.ID == "" {
		return
	}
	r.mu.Lock()
	delete(r.blobs, h.ID)
	r.mu.Unlock()
}

func (r *HandleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
