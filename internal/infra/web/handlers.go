package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"image-studio/internal/domain/model"
	"image-studio/internal/infra/logging"
	"image-studio/internal/usecase"
)

// fail maps err to a status and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSONError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// ---- models ----

type modelView struct {
	model.ModelDefinition
	Available bool `json:"available"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	keys := s.settingsUC.APIKeys()
	defs := s.settingsUC.Models()
	out := make([]modelView, len(defs))
	for i, d := range defs {
		out[i] = modelView{ModelDefinition: d, Available: d.Enabled && keys.Key(d.Provider) != ""}
	}
	writeJSON(w, http.StatusOK, struct {
		Data []modelView `json:"data"`
	}{Data: out})
}

func (s *Server) handleListEnabledModels(w http.ResponseWriter, r *http.Request) {
	defs := s.settingsUC.ListEnabled(s.settingsUC.APIKeys())
	if defs == nil {
		defs = []model.ModelDefinition{}
	}
	writeJSON(w, http.StatusOK, struct {
		Data []model.ModelDefinition `json:"data"`
	}{Data: defs})
}

func (s *Server) handleAddReplicateModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	def, err := s.settingsUC.AddReplicateModel(r.Context(), req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleRefreshModel(w http.ResponseWriter, r *http.Request) {
	def, err := s.settingsUC.RefreshModelSchema(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type modelUpdateRequest struct {
	Enabled      *bool                    `json:"enabled"`
	Capabilities *model.ModelCapabilities `json:"capabilities"`
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	var req modelUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled != nil {
		if err := s.settingsUC.SetModelEnabled(id, *req.Enabled); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Capabilities != nil {
		if err := s.settingsUC.UpdateModelCapabilities(id, *req.Capabilities); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	def, ok := s.settingsUC.Lookup(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "model not registered")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleRemoveModel(w http.ResponseWriter, r *http.Request) {
	if err := s.settingsUC.RemoveCustomModel(chi.URLParam(r, "*")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- api keys ----

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.settingsUC.APIKeys()
	out := make(map[model.Provider]string, len(model.Providers))
	for _, p := range model.Providers {
		if k := keys.Key(p); k != "" {
			out[p] = logging.Redact(k, false)
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Data map[model.Provider]string `json:"data"`
	}{Data: out})
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.settingsUC.SetAPIKey(model.Provider(chi.URLParam(r, "provider")), req.Key); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearKey(w http.ResponseWriter, r *http.Request) {
	if err := s.settingsUC.ClearAPIKey(model.Provider(chi.URLParam(r, "provider"))); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- gallery ----

type galleryView struct {
	Items      []itemView `json:"items"`
	Generating bool       `json:"generating"`
	Loaded     bool       `json:"loaded"`
}

func (s *Server) snapshot() galleryView {
	g := s.genUC.Gallery()
	return galleryView{
		Items:      toItemViews(g.Items()),
		Generating: g.IsGenerating(),
		Loaded:     g.Loaded(),
	}
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	if err := s.genUC.LoadGallery(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleGalleryGroups(w http.ResponseWriter, r *http.Request) {
	if err := s.genUC.LoadGallery(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	type groupView struct {
		Label string     `json:"label"`
		Items []itemView `json:"items"`
	}
	groups := s.genUC.Gallery().GroupByDate(s.clock.Now())
	out := make([]groupView, len(groups))
	for i, g := range groups {
		out[i] = groupView{Label: g.Label, Items: completedViews(g.Items)}
	}
	writeJSON(w, http.StatusOK, struct {
		Data []groupView `json:"data"`
	}{Data: out})
}

func (s *Server) handleNeighbor(w http.ResponseWriter, r *http.Request) {
	dir := usecase.Next
	switch strings.ToLower(r.URL.Query().Get("dir")) {
	case "", "next":
	case "prev":
		dir = usecase.Prev
	default:
		writeJSONError(w, http.StatusBadRequest, "dir must be next or prev")
		return
	}
	it, ok := s.genUC.Gallery().Neighbor(chi.URLParam(r, "id"), dir)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no completed item with that id")
		return
	}
	writeJSON(w, http.StatusOK, toItemView(it))
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	data, mime, ok := s.genUC.Gallery().Handles().Resolve(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ---- generation ----

type referenceImageRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"` // base64 in JSON
}

type submitRequest struct {
	Prompt          string                  `json:"prompt"`
	Models          map[string]int          `json:"models"`
	AspectRatio     model.AspectRatio       `json:"aspectRatio"`
	Resolution      model.Resolution        `json:"resolution"`
	ReferenceImages []referenceImageRequest `json:"referenceImages"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.AspectRatio != "" && !req.AspectRatio.Valid() {
		writeJSONError(w, http.StatusBadRequest, "unsupported aspect ratio")
		return
	}
	if !req.Resolution.Valid() {
		writeJSONError(w, http.StatusBadRequest, "unsupported resolution")
		return
	}

	refs := make([]model.ReferenceImage, 0, len(req.ReferenceImages))
	for _, ri := range req.ReferenceImages {
		if len(ri.Data) == 0 {
			writeJSONError(w, http.StatusBadRequest, "reference image without data")
			return
		}
		id := ri.ID
		if id == "" {
			id = uuid.NewString()
		}
		refs = append(refs, model.ReferenceImage{ID: id, Name: ri.Name, MIMEType: ri.MIMEType, Data: ri.Data})
	}

	batch := s.genUC.Start(s.baseCtx, usecase.SubmitRequest{
		Prompt:          req.Prompt,
		Selections:      req.Models,
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
		ReferenceImages: refs,
	})
	itemIDs := batch.ItemIDs
	if itemIDs == nil {
		itemIDs = []string{}
	}
	writeJSON(w, http.StatusAccepted, struct {
		BatchID string   `json:"batchId"`
		ItemIDs []string `json:"itemIds"`
	}{BatchID: batch.ID, ItemIDs: itemIDs})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if _, err := s.genUC.StartRetry(s.baseCtx, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.genUC.DismissItem(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.genUC.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
