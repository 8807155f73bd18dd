package api

// WatcherStatusProvider reports the enrollment inbox state.
type WatcherStatusProvider interface {
	Status() *WatcherStatusData
}

// WatcherStatusData represents the status of the enrollment inbox watcher.
type WatcherStatusData struct {
	Status         string `json:"status"` // "starting", "backfilling", "watching", "stopped"
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
}

// GalleryStatus summarizes the enrollment store for the health endpoint.
type GalleryStatus struct {
	Speakers    int `json:"speakers"`
	Voiceprints int `json:"voiceprints"`
	Dimension   int `json:"dimension"`
}
