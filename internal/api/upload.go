package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/snarg/speaker-id/internal/audio"
)

var (
	errMissingAudio = errors.New("missing audio file")
	errNotAudio     = errors.New("file must be an audio file")
)

// parseUpload parses a multipart form of at most maxBytes. The memory
// budget equals the body limit so file parts never spill to disk.
func parseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	return r.ParseMultipartForm(maxBytes)
}

// writeUploadError responds to a parseUpload failure.
func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "upload too large",
			fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
		return
	}
	WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
}

// audioPart reads one uploaded audio file from a parsed form.
func audioPart(r *http.Request, field string) (filename string, data []byte, err error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, fmt.Errorf("%w: %q", errMissingAudio, field)
		}
		return "", nil, err
	}
	defer file.Close()

	if !isAudioPart(header) {
		return "", nil, fmt.Errorf("%w: %q", errNotAudio, header.Filename)
	}
	data, err = io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read %q: %w", field, err)
	}
	return header.Filename, data, nil
}

// isAudioPart accepts audio/* parts and parts whose name has a known
// audio extension.
func isAudioPart(h *multipart.FileHeader) bool {
	if strings.HasPrefix(strings.ToLower(h.Header.Get("Content-Type")), "audio/") {
		return true
	}
	return audio.IsAudioFile(h.Filename)
}
