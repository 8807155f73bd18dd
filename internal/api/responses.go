package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/speaker-id/internal/features"
	"github.com/snarg/speaker-id/internal/speaker"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	// Reason and NoMatch are set when audio produced no voiceprint.
	Reason  string `json:"reason,omitempty"`
	NoMatch bool   `json:"no_match,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// writeServiceError maps store and engine errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		extractErr *features.ExtractionError
		ioErr      *speaker.StoreIOError
	)
	switch {
	case errors.As(err, &extractErr):
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "no voiceprint could be extracted from the audio",
			Detail:  err.Error(),
			Reason:  extractErr.Reason.String(),
			NoMatch: true,
		})
	case errors.Is(err, speaker.ErrNotFound):
		WriteError(w, http.StatusNotFound, "speaker not found")
	case errors.Is(err, speaker.ErrInvalidID), errors.Is(err, speaker.ErrInvalidName):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speaker.ErrDimensionMismatch):
		WriteErrorDetail(w, http.StatusConflict, "voiceprint does not match the gallery dimension", err.Error())
	case errors.Is(err, speaker.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, "store is shutting down")
	case errors.As(err, &ioErr):
		hlog.FromRequest(r).Error().Err(err).Str("op", ioErr.Op).Msg("store write failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "store write failed", ioErr.Op)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// PathID extracts the speaker id from the chi URL parameter.
func PathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
