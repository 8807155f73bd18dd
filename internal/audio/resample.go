package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts the clip to the target sample rate. A clip already at
// the target rate is returned unchanged.
func Resample(c Clip, rate int) (Clip, error) {
	if rate <= 0 {
		return Clip{}, fmt.Errorf("invalid target rate %d", rate)
	}
	if c.SampleRate == rate || len(c.Samples) == 0 {
		return Clip{Samples: c.Samples, SampleRate: rate}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Clip{}, fmt.Errorf("create resampler: %w", err)
	}

	out, err := r.Process(c.Samples)
	if err != nil {
		return Clip{}, fmt.Errorf("resample %d -> %d Hz: %w", c.SampleRate, rate, err)
	}
	tail, err := r.Flush()
	if err != nil {
		return Clip{}, fmt.Errorf("flush resampler: %w", err)
	}
	out = append(out, tail...)

	// The filter delay leaves the output a few samples off the exact length.
	want := int(math.Round(float64(len(c.Samples)) * float64(rate) / float64(c.SampleRate)))
	if len(out) > want {
		out = out[:want]
	}
	for len(out) < want {
		out = append(out, 0)
	}
	return Clip{Samples: out, SampleRate: rate}, nil
}

// Truncate keeps at most the first seconds of the clip.
func Truncate(c Clip, seconds float64) Clip {
	limit := int(seconds * float64(c.SampleRate))
	if limit < 0 || len(c.Samples) <= limit {
		return c
	}
	return Clip{Samples: c.Samples[:limit], SampleRate: c.SampleRate}
}
