package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snarg/speaker-id/internal/features"
	"github.com/snarg/speaker-id/internal/speaker"
)

const namespace = "speaker_id"

// HTTP metrics, incremented by InstrumentHandler.
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	HTTPResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes.",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B → 100MB
	}, []string{"method", "path_pattern"})
)

// Engine counters (incremented by the API handlers and the inbox).
var (
	EnrollmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by result (ok, rejected, error).",
	}, []string{"result"})

	IdentificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identifications_total",
		Help:      "Identification requests by result (match, no_match, rejected, error).",
	}, []string{"result"})

	ExtractionFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_failures_total",
		Help:      "Audio that produced no voiceprint, by reason.",
	}, []string{"reason"})

	StorePersistDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_persist_duration_seconds",
		Help:      "Time to write the store document.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms → 2s
	}, []string{"backend", "result"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPResponseSize,
		EnrollmentsTotal,
		IdentificationsTotal,
		ExtractionFailuresTotal,
		StorePersistDuration,
	)
}

// extractionFailure counts err if it is an extraction failure and reports
// whether it was one.
func extractionFailure(err error) bool {
	reason := features.ReasonOf(err)
	if reason == 0 {
		return false
	}
	ExtractionFailuresTotal.WithLabelValues(reason.String()).Inc()
	return true
}

// ObserveEnrollment records the outcome of one enrollment attempt.
func ObserveEnrollment(err error) {
	switch {
	case err == nil:
		EnrollmentsTotal.WithLabelValues("ok").Inc()
	case extractionFailure(err), errors.Is(err, speaker.ErrInvalidID), errors.Is(err, speaker.ErrInvalidName):
		EnrollmentsTotal.WithLabelValues("rejected").Inc()
	default:
		EnrollmentsTotal.WithLabelValues("error").Inc()
	}
}

// ObserveImport records every sample of a batch import.
func ObserveImport(report speaker.ImportReport, err error) {
	if err != nil {
		EnrollmentsTotal.WithLabelValues("error").Add(float64(report.Enrolled + len(report.Failed)))
		return
	}
	EnrollmentsTotal.WithLabelValues("ok").Add(float64(report.Enrolled))
	for _, f := range report.Failed {
		ObserveEnrollment(f.Err)
	}
}

// ObserveIdentification records the outcome of one identify call.
func ObserveIdentification(res speaker.Identification, err error) {
	switch {
	case err != nil && extractionFailure(err):
		IdentificationsTotal.WithLabelValues("rejected").Inc()
	case err != nil:
		IdentificationsTotal.WithLabelValues("error").Inc()
	case res.Matched():
		IdentificationsTotal.WithLabelValues("match").Inc()
	default:
		IdentificationsTotal.WithLabelValues("no_match").Inc()
	}
}

// InstrumentedPersister times every Save of the wrapped persister.
type InstrumentedPersister struct {
	speaker.Persister
	backend string
}

// InstrumentPersister wraps p, labelling observations with backend
// (file, postgres).
func InstrumentPersister(p speaker.Persister, backend string) *InstrumentedPersister {
	return &InstrumentedPersister{Persister: p, backend: backend}
}

func (p *InstrumentedPersister) Save(ctx context.Context, doc speaker.Document) error {
	start := time.Now()
	err := p.Persister.Save(ctx, doc)
	result := "ok"
	if err != nil {
		result = "error"
	}
	StorePersistDuration.WithLabelValues(p.backend, result).Observe(time.Since(start).Seconds())
	return err
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			pattern = rctx.RoutePattern()
		}
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
		HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(sw.written))
	})
}

// statusWriter wraps http.ResponseWriter to capture status code and bytes written.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
