package features

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/snarg/speaker-id/internal/audio"
)

// Analysis parameters.
const (
	SampleRate  = 22050
	MaxDuration = 5.0
	NumMFCC     = 40
	NumMels     = 128

	fftSize   = 2048
	hopLength = 512

	// Dimension is the length of every voiceprint.
	Dimension = 4*NumMFCC + 2*NumMels + 3
)

// Voiceprint is a fixed-length feature vector normalized to zero mean and
// unit standard deviation over its own components.
type Voiceprint []float64

// Reason classifies why no voiceprint was produced.
type Reason int

const (
	ReasonDecodeFailed Reason = iota + 1
	ReasonEmpty
	ReasonDegenerate
)

func (r Reason) String() string {
	switch r {
	case ReasonDecodeFailed:
		return "decode_failed"
	case ReasonEmpty:
		return "empty"
	case ReasonDegenerate:
		return "degenerate"
	}
	return "unknown"
}

// ExtractionError reports audio that yielded no voiceprint.
type ExtractionError struct {
	Reason Reason
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return "extract voiceprint: " + e.Reason.String()
	}
	return fmt.Sprintf("extract voiceprint: %s: %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ReasonOf returns the extraction failure reason carried by err, or 0.
func ReasonOf(err error) Reason {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return 0
}

// Extractor computes voiceprints. The filterbank and window are built once
// and FFT plans are pooled, so an Extractor is safe for concurrent use.
type Extractor struct {
	window  []float64
	melBank [][]float64
	freqs   []float64
	plans   sync.Pool
}

// NewExtractor builds an Extractor for the fixed analysis front end.
func NewExtractor() *Extractor {
	e := &Extractor{
		window:  hannWindow(fftSize),
		melBank: melFilterBank(SampleRate, fftSize, NumMels, 0, SampleRate/2.0),
		freqs:   binFrequencies(SampleRate, fftSize),
	}
	e.plans.New = func() any { return fourier.NewFFT(fftSize) }
	e.plans.Put(fourier.NewFFT(fftSize))
	return e
}

// ExtractAudio decodes encoded audio bytes and extracts their voiceprint.
// Decoding stops after MaxDuration seconds of audio.
func (e *Extractor) ExtractAudio(data []byte) (Voiceprint, error) {
	clip, err := audio.DecodeLimit(data, MaxDuration)
	if err != nil {
		return nil, &ExtractionError{Reason: ReasonDecodeFailed, Err: err}
	}
	return e.Extract(clip.Samples, clip.SampleRate)
}

// Extract computes the voiceprint of mono samples at the given rate. Only
// the first MaxDuration seconds are analyzed.
func (e *Extractor) Extract(samples []float64, sampleRate int) (Voiceprint, error) {
	if len(samples) == 0 {
		return nil, &ExtractionError{Reason: ReasonEmpty}
	}
	if sampleRate <= 0 {
		return nil, &ExtractionError{Reason: ReasonDecodeFailed, Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}

	clip := audio.Truncate(audio.Clip{Samples: samples, SampleRate: sampleRate}, MaxDuration)
	clip, err := audio.Resample(clip, SampleRate)
	if err != nil {
		return nil, &ExtractionError{Reason: ReasonDecodeFailed, Err: err}
	}
	clip = audio.Truncate(clip, MaxDuration)
	if len(clip.Samples) == 0 {
		return nil, &ExtractionError{Reason: ReasonEmpty}
	}
	if isConstant(clip.Samples) {
		return nil, &ExtractionError{Reason: ReasonDegenerate, Err: errors.New("constant signal")}
	}

	raw := e.summarize(clip.Samples)
	return normalize(raw)
}

// summarize builds the unnormalized feature vector in its fixed order.
func (e *Extractor) summarize(y []float64) []float64 {
	plan := e.plans.Get().(*fourier.FFT)
	mag := magnitudeSpectrogram(plan, y, e.window, hopLength)
	e.plans.Put(plan)
	melPower := applyFilterBank(e.melBank, square(mag))

	cepstra := mfcc(powerToDB(melPower, 1.0), NumMFCC)
	logMel := powerToDB(melPower, maxValue(melPower))

	vec := make([]float64, 0, Dimension)
	vec = append(vec, rowMeans(cepstra)...)
	vec = append(vec, rowStds(cepstra)...)
	vec = append(vec, rowMeans(delta(cepstra, 1))...)
	vec = append(vec, rowMeans(delta(cepstra, 2))...)
	vec = append(vec, rowMeans(logMel)...)
	vec = append(vec, rowStds(logMel)...)
	vec = append(vec,
		mean(spectralCentroid(mag, e.freqs)),
		mean(spectralRolloff(mag, e.freqs)),
		mean(zeroCrossingRate(y, fftSize, hopLength)),
	)
	return vec
}

// normalize rescales v to zero mean and unit population standard deviation.
func normalize(v []float64) (Voiceprint, error) {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, &ExtractionError{Reason: ReasonDegenerate, Err: errors.New("non-finite feature")}
		}
	}
	m, s := stat.PopMeanStdDev(v, nil)
	if len(v) == 0 || s < 1e-12 {
		return nil, &ExtractionError{Reason: ReasonDegenerate, Err: errors.New("zero feature spread")}
	}
	out := make(Voiceprint, len(v))
	for i, x := range v {
		out[i] = (x - m) / s
	}
	return out, nil
}

func isConstant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
