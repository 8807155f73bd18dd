package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/audio"
	"github.com/snarg/speaker-id/internal/speaker"
)

// SampleReader is the read side of the sample store.
type SampleReader interface {
	LocalPath(key string) string
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// SamplesHandler serves stored enrollment audio.
type SamplesHandler struct {
	store   *speaker.Store
	samples SampleReader
	log     zerolog.Logger
}

func NewSamplesHandler(store *speaker.Store, samples SampleReader, log zerolog.Logger) *SamplesHandler {
	return &SamplesHandler{
		store:   store,
		samples: samples,
		log:     log.With().Str("handler", "samples").Logger(),
	}
}

// Get handles GET /api/v1/speakers/{id}/samples/{file}. Local files are
// served directly, remote-only samples redirect to a presigned URL.
func (h *SamplesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := PathID(r)
	file := chi.URLParam(r, "file")

	info, err := h.store.Speaker(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Only files the gallery references are served.
	if !slices.Contains(info.Files, file) {
		WriteError(w, http.StatusNotFound, "sample not found")
		return
	}
	key := id + "/" + file

	w.Header().Set("Content-Type", audio.ContentType(file))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename=%q`, file))

	if p := h.samples.LocalPath(key); p != "" {
		http.ServeFile(w, r, p)
		return
	}

	url, err := h.samples.URL(r.Context(), key)
	if err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("presign failed, streaming sample")
	} else if url != "" {
		w.Header().Del("Content-Type")
		w.Header().Del("Content-Disposition")
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, err := h.samples.Open(r.Context(), key)
	if err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("sample missing from storage")
		w.Header().Del("Content-Disposition")
		WriteError(w, http.StatusNotFound, "sample file not found in storage")
		return
	}
	defer rc.Close()
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Debug().Err(err).Str("key", key).Msg("sample stream interrupted")
	}
}
