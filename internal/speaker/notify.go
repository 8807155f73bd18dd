package speaker

import "time"

// Event kinds emitted by the store and engine.
const (
	EventEnrolled   = "enrolled"
	EventImported   = "imported"
	EventRenamed    = "renamed"
	EventDeleted    = "deleted"
	EventIdentified = "identified"
)

// Event describes a completed gallery change or identification.
type Event struct {
	Kind       string    `json:"kind"`
	SpeakerID  string    `json:"speaker_id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Sample     string    `json:"sample,omitempty"`
	Count      int       `json:"count,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Time       time.Time `json:"time"`
}

// Notifier receives events after the change is durable. Notify must not
// block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
