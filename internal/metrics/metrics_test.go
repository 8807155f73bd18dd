package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speaker-id/internal/features"
	"github.com/snarg/speaker-id/internal/speaker"
)

func TestObserveEnrollment(t *testing.T) {
	ok := testutil.ToFloat64(EnrollmentsTotal.WithLabelValues("ok"))
	rejected := testutil.ToFloat64(EnrollmentsTotal.WithLabelValues("rejected"))
	failed := testutil.ToFloat64(EnrollmentsTotal.WithLabelValues("error"))
	degenerate := testutil.ToFloat64(ExtractionFailuresTotal.WithLabelValues("degenerate"))

	ObserveEnrollment(nil)
	ObserveEnrollment(&features.ExtractionError{Reason: features.ReasonDegenerate})
	ObserveEnrollment(speaker.ErrInvalidID)
	ObserveEnrollment(errors.New("disk full"))

	assert.Equal(t, ok+1, testutil.ToFloat64(EnrollmentsTotal.WithLabelValues("ok")))
	assert.Equal(t, rejected+2, testutil.ToFloat64(EnrollmentsTotal.WithLabelValues("rejected")))
	assert.Equal(t, failed+1, testutil.ToFloat64(EnrollmentsTotal.WithLabelValues("error")))
	assert.Equal(t, degenerate+1, testutil.ToFloat64(ExtractionFailuresTotal.WithLabelValues("degenerate")))
}

func TestObserveIdentification(t *testing.T) {
	match := testutil.ToFloat64(IdentificationsTotal.WithLabelValues("match"))
	noMatch := testutil.ToFloat64(IdentificationsTotal.WithLabelValues("no_match"))
	rejected := testutil.ToFloat64(IdentificationsTotal.WithLabelValues("rejected"))

	ObserveIdentification(speaker.Identification{SpeakerID: "a", Confidence: 0.9}, nil)
	ObserveIdentification(speaker.Identification{}, nil)
	ObserveIdentification(speaker.Identification{}, &features.ExtractionError{Reason: features.ReasonEmpty})

	assert.Equal(t, match+1, testutil.ToFloat64(IdentificationsTotal.WithLabelValues("match")))
	assert.Equal(t, noMatch+1, testutil.ToFloat64(IdentificationsTotal.WithLabelValues("no_match")))
	assert.Equal(t, rejected+1, testutil.ToFloat64(IdentificationsTotal.WithLabelValues("rejected")))
}

func TestInstrumentPersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speakers_database.json")
	p := InstrumentPersister(speaker.NewFilePersister(path), "file")

	require.NoError(t, p.Save(context.Background(), speaker.Document{}))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(StorePersistDuration), 1)
	assert.Equal(t, path, p.Location())

	doc, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc)
}

type staticGallery speaker.GalleryStats

func (g staticGallery) Stats() speaker.GalleryStats { return speaker.GalleryStats(g) }

type droppedEvents int64

func (d droppedEvents) Dropped() int64 { return int64(d) }

func TestCollector(t *testing.T) {
	c := NewCollector(staticGallery{Speakers: 3, Voiceprints: 7, Dimension: features.Dimension}, nil, droppedEvents(2))
	assert.Equal(t, 6, testutil.CollectAndCount(c))

	nilSafe := NewCollector(nil, nil, nil)
	assert.Equal(t, 6, testutil.CollectAndCount(nilSafe))
}

func TestInstrumentHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/v1/speakers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/speakers/{id}", "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/speakers/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
