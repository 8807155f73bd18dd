package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/metrics"
	"github.com/snarg/speaker-id/internal/speaker"
)

// IdentifyHandler serves identification and pairwise comparison.
type IdentifyHandler struct {
	engine    *speaker.Engine
	maxUpload int64
	log       zerolog.Logger
}

func NewIdentifyHandler(engine *speaker.Engine, maxUpload int64, log zerolog.Logger) *IdentifyHandler {
	return &IdentifyHandler{
		engine:    engine,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "identify").Logger(),
	}
}

// IdentifyResponse is the body of POST /api/v1/identify.
type IdentifyResponse struct {
	speaker.Identification
	NoMatch bool `json:"no_match,omitempty"`
}

// Identify handles POST /api/v1/identify.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		writeUploadError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	_, data, err := audioPart(r, "audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Identify(r.Context(), data)
	metrics.ObserveIdentification(res, err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, IdentifyResponse{Identification: res, NoMatch: !res.Matched()})
}

// Compare handles POST /api/v1/compare with parts audio_a and audio_b.
func (h *IdentifyHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		writeUploadError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	_, a, err := audioPart(r, "audio_a")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, b, err := audioPart(r, "audio_b")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Compare(r.Context(), a, b)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
