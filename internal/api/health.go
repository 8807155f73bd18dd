package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/speaker-id/internal/database"
	"github.com/snarg/speaker-id/internal/mqttclient"
	"github.com/snarg/speaker-id/internal/speaker"
)

type HealthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Checks        map[string]string  `json:"checks"`
	Gallery       GalleryStatus      `json:"gallery"`
	Inbox         *WatcherStatusData `json:"inbox,omitempty"`
}

type HealthHandler struct {
	store     *speaker.Store
	db        *database.DB
	mqtt      *mqttclient.Client
	inbox     WatcherStatusProvider
	storage   string
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health handler. db, mqtt and inbox may be nil
// when the corresponding feature is not configured.
func NewHealthHandler(store *speaker.Store, db *database.DB, mqtt *mqttclient.Client, inbox WatcherStatusProvider, storage, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     store,
		db:        db,
		mqtt:      mqtt,
		inbox:     inbox,
		storage:   storage,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	stats := h.store.Stats()
	checks["store"] = "ok"
	if h.storage != "" {
		checks["samples"] = h.storage
	}

	// Database check
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Inbox check
	var inbox *WatcherStatusData
	if h.inbox != nil {
		inbox = h.inbox.Status()
		checks["inbox"] = inbox.Status
		if inbox.Status == "stopped" {
			degrade()
		}
	} else {
		checks["inbox"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Gallery: GalleryStatus{
			Speakers:    stats.Speakers,
			Voiceprints: stats.Voiceprints,
			Dimension:   stats.Dimension,
		},
		Inbox: inbox,
	})
}
