package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/metrics"
	"github.com/snarg/speaker-id/internal/speaker"
)

// SpeakersHandler serves the enrollment endpoints.
type SpeakersHandler struct {
	store     *speaker.Store
	maxUpload int64
	log       zerolog.Logger
}

func NewSpeakersHandler(store *speaker.Store, maxUpload int64, log zerolog.Logger) *SpeakersHandler {
	return &SpeakersHandler{
		store:     store,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "speakers").Logger(),
	}
}

// ListResponse is the body of GET /api/v1/speakers.
type ListResponse struct {
	Speakers map[string]string `json:"speakers"`
}

// List handles GET /api/v1/speakers.
func (h *SpeakersHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ListResponse{Speakers: h.store.ListSpeakers()})
}

// Get handles GET /api/v1/speakers/{id}.
func (h *SpeakersHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.Speaker(PathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// Create handles POST /api/v1/speakers: enrolls a first sample under a
// server-generated id.
func (h *SpeakersHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.enroll(w, r, "")
}

// AddSample handles POST /api/v1/speakers/{id}/samples. The speaker is
// created if it does not exist yet.
func (h *SpeakersHandler) AddSample(w http.ResponseWriter, r *http.Request) {
	h.enroll(w, r, PathID(r))
}

func (h *SpeakersHandler) enroll(w http.ResponseWriter, r *http.Request, id string) {
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		writeUploadError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	filename, data, err := audioPart(r, "audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = r.FormValue("speaker_name")
	}

	var info speaker.SampleInfo
	if id == "" {
		info, err = h.store.Create(r.Context(), name, filename, data)
	} else {
		info, err = h.store.Enroll(r.Context(), id, name, filename, data)
	}
	metrics.ObserveEnrollment(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, info)
}

// RenameRequest is the body of PATCH /api/v1/speakers/{id}.
type RenameRequest struct {
	Name    string `json:"name"`
	NewName string `json:"new_name"`
}

// Rename handles PATCH /api/v1/speakers/{id}.
func (h *SpeakersHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = req.NewName
	}

	id := PathID(r)
	if err := h.store.Rename(r.Context(), id, name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	info, err := h.store.Speaker(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

// Delete handles DELETE /api/v1/speakers/{id}.
func (h *SpeakersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), PathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
