package speaker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/features"
)

// DefaultMatchThreshold is the similarity above which Compare reports the
// same speaker.
const DefaultMatchThreshold = 0.7

// Candidate is one speaker's aggregate score against a query.
type Candidate struct {
	SpeakerID string  `json:"speaker_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}

// Identification is the outcome of Identify. A zero SpeakerID means no
// match.
type Identification struct {
	SpeakerID  string      `json:"speaker_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Confidence float64     `json:"confidence"`
	Score      float64     `json:"score"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Matched reports whether a speaker was selected.
func (id Identification) Matched() bool { return id.SpeakerID != "" }

// Comparison is the outcome of Compare.
type Comparison struct {
	SameSpeaker bool    `json:"same_speaker"`
	Similarity  float64 `json:"similarity"`
}

// Engine matches query audio against the store's gallery.
type Engine struct {
	store     *Store
	extractor *features.Extractor
	threshold float64
	log       zerolog.Logger
}

// NewEngine returns an engine reading from store. A non-positive threshold
// selects DefaultMatchThreshold.
func NewEngine(store *Store, threshold float64, log zerolog.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Engine{
		store:     store,
		extractor: store.Extractor(),
		threshold: threshold,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// Threshold returns the same-speaker threshold used by Compare.
func (e *Engine) Threshold() float64 { return e.threshold }

// Identify extracts a voiceprint from audio data and returns the best
// matching enrolled speaker. An empty gallery yields no match and a nil
// error. Extraction failures yield no match and a *features.ExtractionError.
func (e *Engine) Identify(ctx context.Context, data []byte) (Identification, error) {
	query, err := e.extractor.ExtractAudio(data)
	if err != nil {
		e.log.Warn().Err(err).Str("reason", features.ReasonOf(err).String()).Msg("identify: no voiceprint produced")
		return Identification{}, err
	}
	result := e.match(query)
	if result.Matched() {
		e.log.Debug().
			Str("speaker_id", result.SpeakerID).
			Float64("score", result.Score).
			Float64("confidence", result.Confidence).
			Msg("speaker identified")
		e.store.notifier.Notify(Event{
			Kind:       EventIdentified,
			SpeakerID:  result.SpeakerID,
			Name:       result.Name,
			Confidence: result.Confidence,
			Time:       time.Now(),
		})
	}
	return result, nil
}

// IdentifyVoiceprint matches an already extracted voiceprint.
func (e *Engine) IdentifyVoiceprint(query features.Voiceprint) Identification {
	return e.match(query)
}

// match scores query against one gallery snapshot. Candidates are visited
// in id order and only a strictly higher score replaces the best, so ties
// go to the lexicographically smallest id.
func (e *Engine) match(query features.Voiceprint) Identification {
	g := e.store.snapshot()
	if len(g.entries) == 0 || len(query) != g.dim {
		return Identification{}
	}

	ids := g.ids()
	candidates := make([]Candidate, 0, len(ids))
	scores := make([]float64, 0, len(ids))
	best := -1
	for _, id := range ids {
		ent := g.entries[id]
		if len(ent.prints) == 0 {
			continue
		}
		sims := make([]float64, len(ent.prints))
		for i, vp := range ent.prints {
			sims[i] = Similarity(query, vp)
		}
		score := CandidateScore(sims)
		candidates = append(candidates, Candidate{SpeakerID: id, Name: ent.name, Score: score})
		scores = append(scores, score)
		if best < 0 || score > candidates[best].Score {
			best = len(candidates) - 1
		}
	}
	if best < 0 {
		return Identification{}
	}

	top := candidates[best]
	return Identification{
		SpeakerID:  top.SpeakerID,
		Name:       top.Name,
		Score:      top.Score,
		Confidence: Confidence(top.Score, scores),
		Candidates: candidates,
	}
}

// Compare extracts both clips independently and scores them directly,
// without consulting the gallery.
func (e *Engine) Compare(ctx context.Context, a, b []byte) (Comparison, error) {
	va, err := e.extractor.ExtractAudio(a)
	if err != nil {
		return Comparison{}, err
	}
	vb, err := e.extractor.ExtractAudio(b)
	if err != nil {
		return Comparison{}, err
	}
	sim := Similarity(va, vb)
	return Comparison{SameSpeaker: sim > e.threshold, Similarity: sim}, nil
}
